// Package main provides the Lambda entry point for the public donation-jar
// balance endpoint (GET /api/monobank-jar-public?sendId=<id>). The scraper
// cache lives for the lifetime of the execution environment.
package main

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/logging"
	"github.com/avku/reports-bot/internal/monojar"
	"github.com/avku/reports-bot/internal/webhook"
)

var commitHash = "dev"

const route = "/api/monobank-jar-public"

var handler http.Handler

func init() {
	initStart := time.Now()
	logging.Init()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	scraper := monojar.NewScraper(cfg.Jar.BaseURL, cfg.Jar.CacheSize, cfg.Jar.CacheTTL, nil)
	mux := http.NewServeMux()
	mux.Handle(route, monojar.NewHandler(scraper))
	handler = webhook.WithMetrics(mux, route)

	logging.NewStartupLogger("jar-lambda").CommitHash(commitHash).
		Config("cacheTTL", cfg.Jar.CacheTTL.String()).
		Config("cacheSize", strconv.Itoa(cfg.Jar.CacheSize)).
		InitDuration(time.Since(initStart)).
		Log()
}

func main() {
	adapter := httpadapter.NewV2(handler)
	lambda.Start(adapter.ProxyWithContext)
}
