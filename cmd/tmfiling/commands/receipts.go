package commands

import (
	"strconv"
	"time"

	"tmfiling-backend/internal/receipts"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	receiptsDb    string
	receiptsLimit int
)

func init() {
	receiptsListCmd.Flags().StringVar(&receiptsDb, "db", "", "The receipts database, overrides receipts_db from the config.")
	receiptsListCmd.Flags().IntVar(&receiptsLimit, "limit", 20, "How many attempts to show, 0 shows all of them.")
	receiptsCmd.AddCommand(receiptsListCmd)
	rootCmd.AddCommand(receiptsCmd)
}

var receiptsCmd = &cobra.Command{
	Use:   "receipts",
	Short: "Inspects the log of registration attempts.",
}

var receiptsListCmd = &cobra.Command{
	Use:   "list [--limit <n>] [--db <receipts.db>]",
	Short: "Lists the most recent registration attempts.",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		path := receiptsDb
		if path == "" {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			path = cfg.ReceiptsDb
		}

		store, err := receipts.Open(path)
		if err != nil {
			return err
		}
		defer store.Close()

		entries, err := store.List(cmd.Context(), receiptsLimit)
		if err != nil {
			return err
		}

		t := newTable()
		t.AppendHeader(table.Row{"Started", "Attempt", "Outcome", "File number", "Code", "Step", "Documents", "Warnings"})
		for _, e := range entries {
			step := ""
			if e.Step >= 0 {
				step = strconv.Itoa(e.Step)
			}
			t.AppendRow(table.Row{
				e.StartedAt.Local().Format(time.DateTime),
				e.AttemptID,
				e.Outcome,
				e.FileNumber,
				e.Code,
				step,
				e.DocumentCount,
				len(e.Warnings),
			})
		}
		t.Render()
		return nil
	},
}
