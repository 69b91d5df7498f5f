// Command reportsctl runs the reports bot locally and offers a few
// maintenance helpers for the reports file and the Telegram webhook.
package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/avku/reports-bot/internal/logging"
)

var envFileFlag string

var rootCmd = &cobra.Command{
	Use:   "reportsctl",
	Short: "Local server and tools for the AVKU reports bot",
	Long: `reportsctl runs the Telegram reports bot as a plain HTTP server and
provides helpers for operating it.

Settings are read from the environment; a .env file in the working
directory (or --env-file) is loaded first and never overrides variables
that are already set.

Examples:
  reportsctl serve --port 8080
  reportsctl set-webhook --url https://example.org/api/telegram-webhook
  reportsctl slug "Допомога передана" --date 2025-01-01
  reportsctl next-index --file data/reports.json --year 2025`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		loadEnv(envFileFlag)
		logging.Init()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFileFlag, "env-file", "", "Path to a .env file (default: ./.env if present)")
	rootCmd.AddCommand(serveCmd, setWebhookCmd, slugCmd, nextIndexCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func loadEnv(path string) {
	if path == "" {
		if _, err := os.Stat(".env"); err != nil {
			return
		}
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		log.Warn().Err(err).Str("path", path).Msg("Failed to load env file")
	}
}
