package commands

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"tmfiling-backend/internal/components/telemetry"
	"tmfiling-backend/internal/filing"
	"tmfiling-backend/internal/notify"
	"tmfiling-backend/internal/receipts"
	"tmfiling-backend/internal/registration"
	"tmfiling-backend/internal/termsearch"
	"tmfiling-backend/internal/wizard"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var (
	registerDb  string
	registerOut string
)

func init() {
	registerCmd.Flags().StringVar(&registerDb, "db", "", "The receipts database, overrides receipts_db from the config.")
	registerCmd.Flags().StringVar(&registerOut, "out", "", "A directory to write the filed documents to.")
	rootCmd.AddCommand(registerCmd)
}

var registerCmd = &cobra.Command{
	Use:   "register <request.json5> [--db <receipts.db>] [--out <dir>]",
	Short: "Files the trademark application described by a request file.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return fmt.Errorf("read config: %w", err)
		}
		req, err := filing.ReadRequestFile(args[0])
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}

		dbPath := cfg.ReceiptsDb
		if registerDb != "" {
			dbPath = registerDb
		}
		store, err := receipts.Open(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		tel := telemetry.SlogAPI{}

		opts := registration.Options{
			BaseUrl:            cfg.BaseUrl,
			Timeout:            cfg.timeout(),
			RequestsPerSecond:  cfg.RequestsPerSecond,
			UserAgent:          cfg.UserAgent,
			BrowserFingerprint: cfg.BrowserFingerprint,
			OutputDir:          cfg.DebugOutputDir,
			Recorder:           store,
		}
		if cfg.Notify.Enabled() {
			opts.Recorder = registration.Recorders{store, notify.NewMailer(cfg.Notify, tel)}
		}
		if cfg.HeaderFallback {
			opts.HeaderFallback = wizard.UnverifiedHeaderFallback
		}
		if cfg.VocabularyFile != "" {
			index, err := termsearch.LoadIndex(cfg.VocabularyFile, tel)
			if err != nil {
				return fmt.Errorf("load vocabulary: %w", err)
			}
			opts.Terms = index
		}

		service := registration.NewService(opts, tel)
		slog.Info("starting registration", "mark", req.Mark.Text, "classes", len(req.Classes))
		result := service.Register(cmd.Context(), req)

		printResult(result)

		if result.Success != nil && registerOut != "" {
			err = writeDocuments(registerOut, result.Success)
			if err != nil {
				return err
			}
		}
		if result.Failure != nil {
			return fmt.Errorf("registration failed: %s", result.Failure.Code)
		}
		return nil
	},
}

func formatCents(cents int64, currency string) string {
	return fmt.Sprintf("%d,%02d %s", cents/100, cents%100, currency)
}

func printResult(result registration.Result) {
	t := newTable()
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRow(table.Row{"Attempt", result.AttemptID})
	t.AppendRow(table.Row{"Duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond)})

	if result.Success != nil {
		s := result.Success
		t.AppendRow(table.Row{"Outcome", "success"})
		t.AppendRow(table.Row{"File number", s.FileNumber})
		t.AppendRow(table.Row{"Document ref", s.DocumentRef})
		t.AppendRow(table.Row{"Transaction", s.TransactionID})
		t.AppendRow(table.Row{"Created", s.CreationTime.Format(time.DateTime)})
		t.AppendSeparator()
		for _, item := range s.Fees.Items {
			t.AppendRow(table.Row{item.Label, formatCents(item.AmountCents, s.Fees.Currency)})
		}
		t.AppendRow(table.Row{"Total (" + string(s.Fees.Method) + ")", formatCents(s.Fees.TotalCents, s.Fees.Currency)})
		t.AppendSeparator()
		for _, doc := range s.Documents {
			t.AppendRow(table.Row{doc.Name, fmt.Sprintf("%s, %d bytes", doc.ContentType, len(doc.Data))})
		}
	}
	if result.Failure != nil {
		f := result.Failure
		t.AppendRow(table.Row{"Outcome", "failure"})
		t.AppendRow(table.Row{"Code", f.Code})
		if f.Step != registration.STEP_NONE {
			t.AppendRow(table.Row{"Step", f.Step})
		}
		t.AppendRow(table.Row{"Message", f.Message})
	}
	for _, w := range result.Warnings {
		t.AppendRow(table.Row{"Warning", w})
	}
	t.Render()
}

func writeDocuments(dir string, success *registration.Success) error {
	err := os.MkdirAll(dir, 0777)
	if err != nil {
		return err
	}
	if len(success.Archive) > 0 {
		err = os.WriteFile(filepath.Join(dir, "documents.zip"), success.Archive, 0644)
		if err != nil {
			return err
		}
	}
	for _, doc := range success.Documents {
		err = os.WriteFile(filepath.Join(dir, filepath.Base(doc.Name)), doc.Data, 0644)
		if err != nil {
			return err
		}
	}
	slog.Info("wrote documents", "dir", dir, "count", len(success.Documents))
	return nil
}
