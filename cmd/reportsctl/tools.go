package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/httpretry"
	"github.com/avku/reports-bot/internal/reports"
	"github.com/avku/reports-bot/internal/telegram"
)

var (
	webhookURLFlag string
	slugDateFlag   string
	reportsFile    string
	yearFlag       string
)

var setWebhookCmd = &cobra.Command{
	Use:   "set-webhook",
	Short: "Register the Telegram webhook URL with TG_WEBHOOK_SECRET",
	RunE: func(cmd *cobra.Command, args []string) error {
		if webhookURLFlag == "" {
			return errors.New("--url is required")
		}
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if cfg.Telegram.Token == "" {
			return errors.New("TG_REPORTS_BOT_TOKEN is not set")
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIBaseURL, httpretry.New(nil))
		if err := tg.SetWebhook(ctx, webhookURLFlag, cfg.Telegram.WebhookSecret); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Webhook set to %s (secret: %t)\n", webhookURLFlag, cfg.Telegram.WebhookSecret != "")
		return nil
	},
}

var slugCmd = &cobra.Command{
	Use:   "slug <title>",
	Short: "Print the slug a report title would get",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if slugDateFlag != "" && !reports.ValidDate(slugDateFlag) {
			return fmt.Errorf("invalid --date %q, want YYYY-MM-DD", slugDateFlag)
		}
		fmt.Fprintln(cmd.OutOrStdout(), reports.SlugFor(args[0], slugDateFlag))
		return nil
	},
}

var nextIndexCmd = &cobra.Command{
	Use:   "next-index",
	Short: "Print the next free photo number in a year's gallery folder",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		path := reportsFile
		if path == "" {
			path = cfg.Reports.JSONPath
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		coll, err := reports.ParseCollection(data)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		year := yearFlag
		if year == "" {
			year = reports.Year(reports.CivilDate(time.Now(), cfg.Location()))
		}
		g := reports.Gallery{Root: cfg.Reports.GalleryRoot, Prefix: cfg.Reports.FolderPrefix}
		folder := g.Folder(year)
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d\n", folder, reports.NextIndex(coll.Records(), folder))
		return nil
	},
}

func init() {
	setWebhookCmd.Flags().StringVar(&webhookURLFlag, "url", "", "Public HTTPS URL of /api/telegram-webhook")
	slugCmd.Flags().StringVar(&slugDateFlag, "date", "", "Report date (YYYY-MM-DD) used when the title yields no slug")
	nextIndexCmd.Flags().StringVar(&reportsFile, "file", "", "Local copy of the reports JSON (default: REPORTS_JSON_PATH)")
	nextIndexCmd.Flags().StringVar(&yearFlag, "year", "", "Gallery year (default: current year)")
}
