package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/flanksource/commons/logger"
)

// Build information (set by goreleaser)
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	rootCmd := newRootCommand()
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	logFlags := logger.Flags{
		Level:       "info",
		LogToStderr: true,
	}

	rootCmd := &cobra.Command{
		Use:   "cardpress",
		Short: "Generate personalized wedding-card PDFs from a guest list and card templates",
		Long: `CardPress takes a guest list, card template images and per-image text
placement settings, and produces one multi-page PDF per guest, bundled
into a single ZIP archive.`,
		Example: `  cardpress generate --job wedding.yaml --out cards.zip
  cardpress preview --job wedding.yaml --out previews/
  cardpress serve --addr :5000 --db sessions.db`,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Configure(logFlags)
		},
	}
	rootCmd.PersistentFlags().CountVarP(&logFlags.LevelCount, "loglevel", "v", "Increase logging level")
	rootCmd.PersistentFlags().BoolVar(&logFlags.JsonLogs, "json-logs", false, "Print logs in json format to stderr")

	rootCmd.AddCommand(newGenerateCommand())
	rootCmd.AddCommand(newPreviewCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newVersionCommand())
	return rootCmd
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("cardpress %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
