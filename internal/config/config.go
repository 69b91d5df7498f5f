// Package config loads the bot's settings from environment variables with
// defaults, normalization and validation. Secrets are expected to be in the
// environment by the time Load runs; Lambdas resolve them from SSM first
// (see lambdaboot.LoadSecret) and the local server reads a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"
)

// ValidationError reports a missing or malformed configuration key.
type ValidationError struct {
	Key    string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s", e.Key, e.Reason)
}

// TelegramConfig holds bot API settings.
type TelegramConfig struct {
	Token          string   // TG_REPORTS_BOT_TOKEN
	WebhookSecret  string   // TG_WEBHOOK_SECRET
	AllowedUserIDs []string // TG_ALLOWED_USER_IDS, empty allows everyone
	APIBaseURL     string   // TG_API_BASE_URL
}

// GitHubConfig identifies the content repository.
type GitHubConfig struct {
	Owner      string
	Repo       string
	Token      string
	Branch     string
	APIBaseURL string
}

// ReportsConfig controls where records and media land in the repository.
type ReportsConfig struct {
	JSONPath      string // REPORTS_JSON_PATH
	GalleryRoot   string // GALLERY_ROOT
	FolderPrefix  string // GALLERY_FOLDER_PREFIX
	Timezone      string // REPORTS_TIMEZONE
	CommitRetries int    // GITHUB_COMMIT_RETRIES
}

// AIConfig selects and configures the content generator.
type AIConfig struct {
	Provider     string // gemini|openai|none
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string
	OpenAIBase   string
}

// KVConfig selects the coordination store backend.
type KVConfig struct {
	Backend     string // dynamodb|redis|memory
	DynamoTable string
	RedisURL    string
}

// MetaConfig configures the Facebook webhook relay.
type MetaConfig struct {
	VerifyToken     string
	AppSecret       string
	ProcessEndpoint string
	InternalSecret  string
}

// JarConfig configures the donation-jar scraper.
type JarConfig struct {
	CacheTTL  time.Duration
	CacheSize int
	BaseURL   string
}

// Config holds every setting used by the bot's binaries. Each binary
// validates only the parts it needs.
type Config struct {
	Telegram TelegramConfig
	GitHub   GitHubConfig
	Reports  ReportsConfig
	AI       AIConfig
	KV       KVConfig
	Meta     MetaConfig
	Jar      JarConfig

	WorkerLambdaARN string // WORKER_LAMBDA_ARN, empty processes inline
	ArchiveBucket   string // MEDIA_ARCHIVE_BUCKET
	EventBusName    string // EVENT_BUS_NAME

	LogLevel  string
	LogPretty bool
}

// Load reads configuration from environment variables, applies defaults and
// normalizes values. It only fails on malformed values; use ValidateBot and
// friends to check required keys.
func Load() (Config, error) {
	cfg := Config{
		Telegram: TelegramConfig{
			Token:          getenv("TG_REPORTS_BOT_TOKEN", ""),
			WebhookSecret:  getenv("TG_WEBHOOK_SECRET", ""),
			AllowedUserIDs: splitCSV(getenv("TG_ALLOWED_USER_IDS", "")),
			APIBaseURL:     strings.TrimRight(getenv("TG_API_BASE_URL", "https://api.telegram.org"), "/"),
		},
		GitHub: GitHubConfig{
			Owner:      getenv("GITHUB_OWNER", ""),
			Repo:       getenv("GITHUB_REPO", ""),
			Token:      getenv("GITHUB_TOKEN", ""),
			Branch:     getenv("GITHUB_BRANCH", "main"),
			APIBaseURL: strings.TrimRight(getenv("GITHUB_API_BASE_URL", "https://api.github.com"), "/"),
		},
		Reports: ReportsConfig{
			JSONPath:      strings.Trim(getenv("REPORTS_JSON_PATH", "apps/web/src/data/reports.json"), "/"),
			GalleryRoot:   strings.Trim(getenv("GALLERY_ROOT", "apps/web/public"), "/"),
			FolderPrefix:  strings.TrimSpace(getenv("GALLERY_FOLDER_PREFIX", "Фото звіт")),
			Timezone:      getenv("REPORTS_TIMEZONE", "Europe/Kyiv"),
			CommitRetries: getint("GITHUB_COMMIT_RETRIES", 3),
		},
		AI: AIConfig{
			Provider:     strings.ToLower(getenv("AI_PROVIDER", "gemini")),
			GeminiAPIKey: getenv("GEMINI_API_KEY", ""),
			GeminiModel:  getenv("GEMINI_MODEL", "gemini-2.5-flash"),
			OpenAIAPIKey: getenv("OPENAI_API_KEY", ""),
			OpenAIModel:  getenv("OPENAI_MODEL", "gpt-4o-mini"),
			OpenAIBase:   getenv("OPENAI_BASE_URL", ""),
		},
		KV: KVConfig{
			Backend:     strings.ToLower(getenv("KV_BACKEND", "dynamodb")),
			DynamoTable: getenv("DYNAMO_TABLE_NAME", ""),
			RedisURL:    getenv("REDIS_URL", ""),
		},
		Meta: MetaConfig{
			VerifyToken:     getenv("FB_VERIFY_TOKEN", ""),
			AppSecret:       getenv("FB_APP_SECRET", ""),
			ProcessEndpoint: getenv("PROCESS_ENDPOINT_URL", ""),
			InternalSecret:  getenv("INTERNAL_JOB_SECRET", ""),
		},
		Jar: JarConfig{
			CacheTTL:  getdur("JAR_CACHE_TTL", 60*time.Second),
			CacheSize: getint("JAR_CACHE_SIZE", 128),
			BaseURL:   strings.TrimRight(getenv("JAR_BASE_URL", "https://send.monobank.ua/jar"), "/"),
		},
		WorkerLambdaARN: getenv("WORKER_LAMBDA_ARN", ""),
		ArchiveBucket:   getenv("MEDIA_ARCHIVE_BUCKET", ""),
		EventBusName:    getenv("EVENT_BUS_NAME", ""),
		LogLevel:        strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:       getbool("LOG_PRETTY", false),
	}

	if cfg.Reports.FolderPrefix == "" {
		cfg.Reports.FolderPrefix = "Фото звіт"
	}
	if cfg.Reports.CommitRetries < 0 {
		return cfg, &ValidationError{Key: "GITHUB_COMMIT_RETRIES", Reason: "must be >= 0"}
	}

	switch cfg.AI.Provider {
	case "gemini", "openai", "none":
	default:
		return cfg, &ValidationError{Key: "AI_PROVIDER", Reason: "must be one of: gemini, openai, none"}
	}
	switch cfg.KV.Backend {
	case "dynamodb", "redis", "memory":
	default:
		return cfg, &ValidationError{Key: "KV_BACKEND", Reason: "must be one of: dynamodb, redis, memory"}
	}
	if cfg.Jar.CacheTTL <= 0 || cfg.Jar.CacheSize < 1 {
		return cfg, &ValidationError{Key: "JAR_CACHE_TTL/JAR_CACHE_SIZE", Reason: "must be positive"}
	}
	if _, err := time.LoadLocation(cfg.Reports.Timezone); err != nil {
		return cfg, &ValidationError{Key: "REPORTS_TIMEZONE", Reason: err.Error()}
	}

	return cfg, nil
}

// ValidateBot checks the keys the Telegram webhook and worker need.
func (c Config) ValidateBot() error {
	required := []struct{ key, val string }{
		{"TG_REPORTS_BOT_TOKEN", c.Telegram.Token},
		{"GITHUB_OWNER", c.GitHub.Owner},
		{"GITHUB_REPO", c.GitHub.Repo},
		{"GITHUB_TOKEN", c.GitHub.Token},
	}
	for _, r := range required {
		if strings.TrimSpace(r.val) == "" {
			return &ValidationError{Key: r.key, Reason: "is required"}
		}
	}
	switch c.KV.Backend {
	case "dynamodb":
		if c.KV.DynamoTable == "" {
			return &ValidationError{Key: "DYNAMO_TABLE_NAME", Reason: "is required for KV_BACKEND=dynamodb"}
		}
	case "redis":
		if c.KV.RedisURL == "" {
			return &ValidationError{Key: "REDIS_URL", Reason: "is required for KV_BACKEND=redis"}
		}
	}
	return nil
}

// ValidateMeta checks the keys the Facebook relay needs.
func (c Config) ValidateMeta() error {
	if c.Meta.VerifyToken == "" {
		return &ValidationError{Key: "FB_VERIFY_TOKEN", Reason: "is required"}
	}
	if c.Meta.AppSecret == "" {
		return &ValidationError{Key: "FB_APP_SECRET", Reason: "is required"}
	}
	return nil
}

// Location returns the civil-calendar zone for report dates.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Reports.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(v)); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
