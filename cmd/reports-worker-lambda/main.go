// Package main provides the worker Lambda that runs the publish pipeline.
//
// It is invoked asynchronously by tg-webhook-lambda with the raw Telegram
// update as the payload. Everything the user needs to know is sent to the
// chat, so the handler never returns an error: a Lambda retry would only
// hit the de-duplication marker.
package main

import (
	"context"
	"encoding/json"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/lambdaboot"
	"github.com/avku/reports-bot/internal/logging"
	"github.com/avku/reports-bot/internal/publish"
	"github.com/avku/reports-bot/internal/telegram"
)

var commitHash = "dev"

var (
	service   *publish.Service
	coldStart = true
)

func init() {
	initStart := time.Now()
	logging.Init()
	ctx := context.Background()

	awsCfg := lambdaboot.InitAWS()
	loaded := lambdaboot.LoadSecretsFatal(awsCfg, lambdaboot.BotSecrets...)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.ValidateBot(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	kv, err := lambdaboot.InitStore(ctx, cfg, lambdaboot.StaticAWS(awsCfg))
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.KV.Backend).Msg("Failed to initialize store")
	}

	sl := logging.NewStartupLogger("reports-worker-lambda").CommitHash(commitHash)
	bot, err := lambdaboot.BuildBot(ctx, cfg, kv, lambdaboot.StaticAWS(awsCfg), sl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build bot")
	}
	for _, p := range loaded {
		sl.SSMParam(p, p)
	}
	service = bot.Service

	sl.InitDuration(time.Since(initStart)).Log()
}

func main() {
	lambda.Start(handler)
}

func handler(ctx context.Context, payload json.RawMessage) error {
	if coldStart {
		coldStart = false
		log.Info().Str("function", "reports-worker-lambda").Msg("Cold start, first invocation")
	}
	logger := log.With().Str("invocation_id", uuid.NewString()).Logger()
	ctx = logger.WithContext(ctx)

	u, err := telegram.ParseUpdate(payload)
	if err != nil {
		logger.Error().Err(err).Int("payloadSize", len(payload)).Msg("Dropping malformed update")
		return nil
	}
	_, _ = service.HandleUpdate(ctx, u)
	return nil
}
