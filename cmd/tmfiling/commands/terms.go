package commands

import (
	"fmt"
	"strconv"
	"strings"

	"tmfiling-backend/internal/components/telemetry"
	"tmfiling-backend/internal/termsearch"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
)

var vocabularyPath string

func init() {
	termsCmd.PersistentFlags().StringVar(&vocabularyPath, "vocabulary", "", "The vocabulary file, overrides vocabulary_file from the config.")
	termsCmd.AddCommand(termsSearchCmd)
	termsCmd.AddCommand(termsValidateCmd)
	rootCmd.AddCommand(termsCmd)
}

var termsCmd = &cobra.Command{
	Use:   "terms",
	Short: "Looks up goods and services terms in the local vocabulary.",
}

func loadIndex() (*termsearch.Index, error) {
	path := vocabularyPath
	if path == "" {
		cfg, err := loadConfig(configPath)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		path = cfg.VocabularyFile
	}
	if path == "" {
		return nil, fmt.Errorf("no vocabulary file configured, pass --vocabulary")
	}
	return termsearch.LoadIndex(path, telemetry.SlogAPI{})
}

func printMatches(matches []termsearch.Match) {
	t := newTable()
	t.AppendHeader(table.Row{"Class", "Term", "Score"})
	for _, m := range matches {
		t.AppendRow(table.Row{m.Class, m.Term, fmt.Sprintf("%.2f", m.Score)})
	}
	t.Render()
}

var termsSearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Lists the terms closest to the query across all classes.",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		index, err := loadIndex()
		if err != nil {
			return err
		}
		matches, err := index.Search(cmd.Context(), strings.Join(args, " "))
		if err != nil {
			return err
		}
		printMatches(matches)
		return nil
	},
}

var termsValidateCmd = &cobra.Command{
	Use:   "validate <class> <term>",
	Short: "Checks that a term exists in a class and suggests alternatives if not.",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		class, err := strconv.Atoi(args[0])
		if err != nil {
			return fmt.Errorf("invalid class %q", args[0])
		}
		index, err := loadIndex()
		if err != nil {
			return err
		}
		result, err := index.Validate(cmd.Context(), strings.Join(args[1:], " "), class)
		if err != nil {
			return err
		}
		if result.Found {
			fmt.Printf("%q is a known term of class %d\n", result.Term, result.Class)
			return nil
		}
		fmt.Printf("%q is not a known term of class %d\n", result.Term, result.Class)
		if len(result.Suggestions) > 0 {
			printMatches(result.Suggestions)
		}
		return nil
	},
}
