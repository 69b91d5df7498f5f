// Package main provides the Lambda entry point for the Meta (Facebook Page)
// webhook.
//
// This is a lightweight Lambda that handles:
//   - GET /api/fb-webhook: Meta verification handshake
//   - POST /api/fb-webhook: signed event notifications; Messenger messages
//     are relayed to PROCESS_ENDPOINT_URL with the internal job secret
//
// Credentials are loaded from SSM Parameter Store at cold start.
package main

import (
	"net/http"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/httpretry"
	"github.com/avku/reports-bot/internal/lambdaboot"
	"github.com/avku/reports-bot/internal/logging"
	"github.com/avku/reports-bot/internal/webhook"
)

var commitHash = "dev"

const route = "/api/fb-webhook"

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	awsCfg := lambdaboot.InitAWS()
	loaded := lambdaboot.LoadSecretsFatal(awsCfg, lambdaboot.MetaSecrets...)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	if err := cfg.ValidateMeta(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	mux := http.NewServeMux()
	mux.Handle(route, webhook.NewMetaHandler(cfg.Meta.VerifyToken, cfg.Meta.AppSecret,
		cfg.Meta.ProcessEndpoint, cfg.Meta.InternalSecret, httpretry.New(nil)))
	handler = webhook.WithMetrics(mux, route)

	sl := logging.NewStartupLogger("fb-webhook-lambda").CommitHash(commitHash).
		Feature("relay", cfg.Meta.ProcessEndpoint != "" && cfg.Meta.InternalSecret != "")
	for _, p := range loaded {
		sl.SSMParam(p, p)
	}
	sl.InitDuration(time.Since(initStart)).Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
