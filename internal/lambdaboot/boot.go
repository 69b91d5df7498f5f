// Package lambdaboot provides the shared cold-start bootstrap of the bot's
// binaries.
//
// Every binary needs some subset of: AWS config, secrets from SSM, the
// coordination store, and the publish service with its clients. This
// package keeps those init patterns in one place so each main is a short
// composition of helpers. The local server uses the same helpers with a
// lazily loaded AWS config.
package lambdaboot

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
	"github.com/rs/zerolog/log"

	"github.com/avku/reports-bot/internal/archive"
	"github.com/avku/reports-bot/internal/config"
	"github.com/avku/reports-bot/internal/events"
	"github.com/avku/reports-bot/internal/github"
	"github.com/avku/reports-bot/internal/httpretry"
	"github.com/avku/reports-bot/internal/logging"
	"github.com/avku/reports-bot/internal/publish"
	"github.com/avku/reports-bot/internal/reports"
	"github.com/avku/reports-bot/internal/store"
	"github.com/avku/reports-bot/internal/telegram"
	"github.com/avku/reports-bot/internal/transform"
)

// DefaultSSMPrefix is where secrets live when SSM_PREFIX is unset.
const DefaultSSMPrefix = "/avku-reports/prod/"

// AWSProvider returns the AWS config, loading it on first use.
type AWSProvider func() (aws.Config, error)

// InitAWS loads the default AWS config. Fatals on error.
func InitAWS() aws.Config {
	cfg, err := awsconfig.LoadDefaultConfig(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load AWS config")
	}
	log.Debug().Str("region", cfg.Region).Msg("AWS config loaded")
	return cfg
}

// StaticAWS wraps an already loaded config.
func StaticAWS(cfg aws.Config) AWSProvider {
	return func() (aws.Config, error) { return cfg, nil }
}

// LazyAWS loads the default config once, on first use.
func LazyAWS() AWSProvider {
	return sync.OnceValues(func() (aws.Config, error) {
		return awsconfig.LoadDefaultConfig(context.Background())
	})
}

// SSMGetter is the part of the SSM client used for secrets.
type SSMGetter interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// ParamName maps an environment variable to its SSM parameter:
// TG_REPORTS_BOT_TOKEN -> <prefix>tg-reports-bot-token.
func ParamName(prefix, envVar string) string {
	if !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return prefix + strings.ReplaceAll(strings.ToLower(envVar), "_", "-")
}

// LoadSecrets fills each unset environment variable in envVars from SSM
// Parameter Store (decrypted). Variables already set are left alone, so a
// local .env or a plain Lambda environment wins. Missing parameters are
// logged and skipped; config validation decides what is required. Returns
// the parameter names that were loaded.
func LoadSecrets(ctx context.Context, client SSMGetter, prefix string, envVars ...string) ([]string, error) {
	var loaded []string
	for _, env := range envVars {
		if os.Getenv(env) != "" {
			continue
		}
		name := ParamName(prefix, env)
		start := time.Now()
		out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
			Name:           aws.String(name),
			WithDecryption: aws.Bool(true),
		})
		if err != nil {
			var notFound *ssmtypes.ParameterNotFound
			if errors.As(err, &notFound) {
				log.Warn().Str("param", name).Msg("SSM parameter not found")
				continue
			}
			return loaded, fmt.Errorf("read %s from SSM: %w", name, err)
		}
		if out.Parameter == nil || aws.ToString(out.Parameter.Value) == "" {
			continue
		}
		os.Setenv(env, aws.ToString(out.Parameter.Value))
		loaded = append(loaded, name)
		log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Secret loaded from SSM")
	}
	return loaded, nil
}

// BotSecrets are the secrets of the Telegram webhook and worker.
var BotSecrets = []string{"TG_REPORTS_BOT_TOKEN", "TG_WEBHOOK_SECRET", "GITHUB_TOKEN", "GEMINI_API_KEY", "OPENAI_API_KEY", "REDIS_URL"}

// MetaSecrets are the secrets of the Facebook webhook relay.
var MetaSecrets = []string{"FB_VERIFY_TOKEN", "FB_APP_SECRET", "INTERNAL_JOB_SECRET"}

// LoadSecretsFatal runs LoadSecrets with SSM_PREFIX and fatals on error.
func LoadSecretsFatal(awsCfg aws.Config, envVars ...string) []string {
	prefix := logging.EnvOrDefault("SSM_PREFIX", DefaultSSMPrefix)
	loaded, err := LoadSecrets(context.Background(), ssm.NewFromConfig(awsCfg), prefix, envVars...)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load secrets")
	}
	return loaded
}

// InitStore creates the coordination store selected by KV_BACKEND.
func InitStore(ctx context.Context, cfg config.Config, awsCfg AWSProvider) (store.Store, error) {
	switch cfg.KV.Backend {
	case "memory":
		log.Warn().Msg("Using in-memory store; coordination is per process only")
		return store.NewMemoryStore(nil), nil
	case "redis":
		return store.NewRedisStore(ctx, cfg.KV.RedisURL)
	case "dynamodb":
		if cfg.KV.DynamoTable == "" {
			return nil, store.ErrNotConfigured
		}
		ac, err := awsCfg()
		if err != nil {
			return nil, fmt.Errorf("load AWS config: %w", err)
		}
		return store.NewDynamoStore(dynamodb.NewFromConfig(ac), cfg.KV.DynamoTable), nil
	}
	return nil, fmt.Errorf("unknown KV_BACKEND %q", cfg.KV.Backend)
}

// NewGenerator returns the AI generator for cfg, or nil for provider
// "none" or a missing key. A nil generator makes every publish use the
// local fallback text.
func NewGenerator(ctx context.Context, cfg config.AIConfig) (transform.Generator, error) {
	switch cfg.Provider {
	case "gemini":
		if cfg.GeminiAPIKey == "" {
			log.Warn().Msg("GEMINI_API_KEY not set; using fallback transform only")
			return nil, nil
		}
		g, err := transform.NewGeminiGenerator(ctx, cfg.GeminiAPIKey, cfg.GeminiModel, "")
		if err != nil {
			return nil, err
		}
		return g, nil
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Warn().Msg("OPENAI_API_KEY not set; using fallback transform only")
			return nil, nil
		}
		g, err := transform.NewOpenAIGenerator(cfg.OpenAIAPIKey, cfg.OpenAIModel, cfg.OpenAIBase)
		if err != nil {
			return nil, err
		}
		return g, nil
	}
	return nil, nil
}

// Bot bundles what the webhook and worker binaries share.
type Bot struct {
	Service  *publish.Service
	Telegram *telegram.Client
	Store    store.Store
}

// BuildBot wires the publish service. The S3 archive and EventBridge events
// are enabled when MEDIA_ARCHIVE_BUCKET and EVENT_BUS_NAME are set.
func BuildBot(ctx context.Context, cfg config.Config, kv store.Store, awsCfg AWSProvider, sl *logging.StartupLogger) (*Bot, error) {
	httpClient := httpretry.New(nil)
	tg := telegram.NewClient(cfg.Telegram.Token, cfg.Telegram.APIBaseURL, httpClient)
	repo := github.NewClient(github.Config{
		Owner:         cfg.GitHub.Owner,
		Repo:          cfg.GitHub.Repo,
		Token:         cfg.GitHub.Token,
		BaseURL:       cfg.GitHub.APIBaseURL,
		CommitRetries: cfg.Reports.CommitRetries,
	}, httpClient)

	gen, err := NewGenerator(ctx, cfg.AI)
	if err != nil {
		log.Warn().Err(err).Str("provider", cfg.AI.Provider).Msg("AI generator unavailable; using fallback transform only")
	}

	allow := telegram.NewAllowlist(cfg.Telegram.AllowedUserIDs)
	svc := publish.NewService(publish.Config{
		Branch:    cfg.GitHub.Branch,
		JSONPath:  cfg.Reports.JSONPath,
		Gallery:   reports.Gallery{Root: cfg.Reports.GalleryRoot, Prefix: cfg.Reports.FolderPrefix},
		Location:  cfg.Location(),
		Allowlist: allow,
	}, kv, tg, repo, transform.New(gen))

	if cfg.ArchiveBucket != "" {
		ac, err := awsCfg()
		if err != nil {
			return nil, fmt.Errorf("load AWS config for archive: %w", err)
		}
		svc.WithArchiver(archive.New(s3.NewFromConfig(ac), cfg.ArchiveBucket, "reports/"))
	}
	if cfg.EventBusName != "" {
		ac, err := awsCfg()
		if err != nil {
			return nil, fmt.Errorf("load AWS config for events: %w", err)
		}
		svc.WithNotifier(events.NewPublisher(eventbridge.NewFromConfig(ac), cfg.EventBusName))
	}

	if sl != nil {
		sl.DynamoTable("kv", cfg.KV.DynamoTable).
			S3Bucket("archive", cfg.ArchiveBucket).
			EventBus("events", cfg.EventBusName).
			Feature("archive", cfg.ArchiveBucket != "").
			Feature("events", cfg.EventBusName != "").
			Feature("ai", gen != nil).
			Feature("allowlist", len(cfg.Telegram.AllowedUserIDs) > 0).
			Config("kvBackend", cfg.KV.Backend).
			Config("aiProvider", cfg.AI.Provider).
			Config("repo", cfg.GitHub.Owner+"/"+cfg.GitHub.Repo).
			Config("branch", cfg.GitHub.Branch).
			Config("reportsPath", cfg.Reports.JSONPath)
		if rs, ok := kv.(*store.RedisStore); ok {
			sl.Redis("kv", rs.Addr())
		}
		if gen != nil {
			sl.Config("generator", gen.Name())
		}
	}

	return &Bot{Service: svc, Telegram: tg, Store: kv}, nil
}

// StartupLog is a convenience wrapper for the startup logger.
func StartupLog(name string, initStart time.Time) *logging.StartupLogger {
	return logging.NewStartupLogger(name).InitDuration(time.Since(initStart))
}
