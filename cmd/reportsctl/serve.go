package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/httpretry"
	"github.com/avku/reports-bot/internal/lambdaboot"
	"github.com/avku/reports-bot/internal/logging"
	"github.com/avku/reports-bot/internal/monojar"
	"github.com/avku/reports-bot/internal/webhook"
)

var (
	portFlag string
	kvFlag   string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the bot as a local HTTP server",
	Long: `serve exposes the same routes as the Lambda functions:

  POST /api/telegram-webhook
  GET  /api/diag-telegram
  GET  /api/monobank-jar-public?sendId=<id>
  GET|POST /api/fb-webhook   (only when FB_VERIFY_TOKEN and FB_APP_SECRET are set)

Updates are processed in background goroutines after the 200 reply. On
SIGINT or SIGTERM the server stops accepting requests and waits for the
running updates to finish.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&portFlag, "port", "p", logging.EnvOrDefault("PORT", "8080"), "Port to listen on")
	serveCmd.Flags().StringVar(&kvFlag, "kv", "memory", "Coordination store: memory, redis or dynamodb")
}

func runServe(cmd *cobra.Command, args []string) error {
	initStart := time.Now()
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if err := cfg.ValidateBot(); err != nil {
		return err
	}
	cfg.KV.Backend = kvFlag

	awsCfg := lambdaboot.LazyAWS()
	kv, err := lambdaboot.InitStore(ctx, cfg, awsCfg)
	if err != nil {
		return fmt.Errorf("init %s store: %w", kvFlag, err)
	}

	sl := logging.NewStartupLogger("reportsctl-serve").Config("port", portFlag)
	bot, err := lambdaboot.BuildBot(ctx, cfg, kv, awsCfg, sl)
	if err != nil {
		return err
	}
	dispatcher := webhook.NewGoroutineDispatcher(bot.Service)

	routes := []string{"/api/telegram-webhook", "/api/diag-telegram", "/api/monobank-jar-public"}
	mux := http.NewServeMux()
	mux.Handle(routes[0], webhook.NewTelegramHandler(cfg.Telegram.WebhookSecret, dispatcher))
	mux.Handle(routes[1], webhook.NewDiagHandler(bot.Telegram))
	mux.Handle(routes[2], monojar.NewHandler(monojar.NewScraper(cfg.Jar.BaseURL, cfg.Jar.CacheSize, cfg.Jar.CacheTTL, nil)))
	metaEnabled := cfg.ValidateMeta() == nil
	if metaEnabled {
		routes = append(routes, "/api/fb-webhook")
		mux.Handle("/api/fb-webhook", webhook.NewMetaHandler(cfg.Meta.VerifyToken, cfg.Meta.AppSecret,
			cfg.Meta.ProcessEndpoint, cfg.Meta.InternalSecret, httpretry.New(nil)))
	}
	sl.Feature("meta", metaEnabled).InitDuration(time.Since(initStart)).Log()

	srv := &http.Server{
		Addr:         ":" + portFlag,
		Handler:      webhook.WithMetrics(mux, routes...),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info().Msg("Shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", srv.Addr).Msg("Reports bot listening")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	dispatcher.Wait()
	log.Info().Msg("Server stopped")
	return nil
}
