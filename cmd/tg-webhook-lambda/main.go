// Package main provides the Lambda entry point for the Telegram webhook.
//
// Routes:
//   - POST /api/telegram-webhook: verify the secret header, parse the update,
//     hand it to the worker Lambda (InvocationType=Event) and answer 200
//   - GET /api/diag-telegram: Bot API reachability check
//
// Without WORKER_LAMBDA_ARN the update is processed inline before the
// response. Secrets are loaded from SSM Parameter Store at cold start.
package main

import (
	"context"
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awslambda "github.com/aws/aws-sdk-go-v2/service/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/lambdaboot"
	"github.com/avku/reports-bot/internal/logging"
	"github.com/avku/reports-bot/internal/webhook"
)

// commitHash is set at build time with -ldflags "-X main.commitHash=...".
var commitHash = "dev"

var handler http.Handler

const (
	routeWebhook = "/api/telegram-webhook"
	routeDiag    = "/api/diag-telegram"
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

	sl := logging.NewStartupLogger("tg-webhook-lambda").CommitHash(commitHash)
	bot, err := lambdaboot.BuildBot(ctx, cfg, kv, lambdaboot.StaticAWS(awsCfg), sl)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build bot")
	}
	for _, p := range loaded {
		sl.SSMParam(p, p)
	}

	var dispatcher webhook.Dispatcher = webhook.InlineDispatcher{Processor: bot.Service}
	if cfg.WorkerLambdaARN != "" {
		ld := webhook.NewLambdaDispatcher(awslambda.NewFromConfig(awsCfg), cfg.WorkerLambdaARN)
		ld.Fallback = dispatcher
		dispatcher = ld
		sl.LambdaFunc("worker", cfg.WorkerLambdaARN)
	}
	sl.Feature("asyncWorker", cfg.WorkerLambdaARN != "").
		Feature("webhookSecret", cfg.Telegram.WebhookSecret != "")

	mux := http.NewServeMux()
	mux.Handle(routeWebhook, webhook.NewTelegramHandler(cfg.Telegram.WebhookSecret, dispatcher))
	mux.Handle(routeDiag, webhook.NewDiagHandler(bot.Telegram))
	handler = webhook.WithMetrics(mux, routeWebhook, routeDiag)

	sl.InitDuration(time.Since(initStart)).Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
