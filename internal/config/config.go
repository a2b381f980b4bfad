// Package config provides application configuration loaded from environment
// variables (optionally seeded from a .env file) with defaults and
// validation. It covers the chat and board credentials, the sync windows,
// the mapping store, the HTTP server and observability.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// DiscordConfig holds the chat platform settings.
type DiscordConfig struct {
	Token          string  // DISCORD_TOKEN
	ForumChannelID string  // DISCORD_FORUM_CHANNEL_ID
	SendRPS        float64 // DISCORD_SEND_RPS, 0 disables pacing
}

// GitHubConfig holds the board settings.
type GitHubConfig struct {
	Token         string        // GITHUB_TOKEN
	Owner         string        // GITHUB_OWNER
	Repo          string        // GITHUB_REPO
	CategoryID    string        // GITHUB_DISCUSSION_CATEGORY_ID
	WebhookSecret string        // GITHUB_WEBHOOK_SECRET
	GraphQLURL    string        // GITHUB_GRAPHQL_URL, empty means api.github.com
	Timeout       time.Duration // GITHUB_TIMEOUT

	// InsecureSkipVerify accepts unsigned webhooks. Development only.
	InsecureSkipVerify bool // WEBHOOK_INSECURE_SKIP_VERIFY
}

// DBConfig selects the mapping store backend.
type DBConfig struct {
	Driver string // DB_DRIVER: sqlite|postgres
	Path   string // DB_PATH (sqlite)
	URL    string // DATABASE_URL (postgres)
}

// DSN returns the connection string for the selected driver.
func (d DBConfig) DSN() string {
	if d.Driver == "postgres" {
		return d.URL
	}
	return d.Path
}

// SyncConfig holds the loop-prevention windows and bounds.
type SyncConfig struct {
	GracePeriod           time.Duration // SYNC_GRACE_PERIOD
	ThreadLockTTL         time.Duration // THREAD_LOCK_TTL
	ItemLockTTL           time.Duration // ITEM_LOCK_TTL
	SeenWindow            time.Duration // SEEN_WINDOW
	SentDownstreamWindow  time.Duration // SENT_DOWNSTREAM_WINDOW
	ProcessedThreadWindow time.Duration // PROCESSED_THREAD_WINDOW
	CommentSeenWindow     time.Duration // COMMENT_SEEN_WINDOW
	DiscussionFlagTTL     time.Duration // DISCUSSION_FLAG_TTL
	SimilarThreadWindow   time.Duration // SIMILAR_THREAD_WINDOW
	SeenMaxEntries        int           // SEEN_MAX_ENTRIES
	SeenPruneBatch        int           // SEEN_PRUNE_BATCH
}

// CORSConfig defines Cross-Origin Resource Sharing settings for /debug.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]

	ExportTimeout time.Duration // OTEL_EXPORTER_OTLP_TIMEOUT, 0 keeps the exporter default
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // graceful shutdown budget
	MaxHeaderBytes    int           // bytes
	MaxBodyBytes      int64         // webhook body cap
	GinMode           string        // debug|release|test
	DebugRoutes       bool          // mount /debug

	// Logging
	LogLevel  string // debug|info|warn|error|fatal|panic
	LogPretty bool   // pretty console logs in dev

	Discord DiscordConfig
	GitHub  GitHubConfig
	DB      DBConfig
	Sync    SyncConfig

	// Rate limiting (debug endpoints)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load seeds the environment from ENV_FILE (default ".env", optional),
// reads configuration from environment variables, applies defaults,
// normalizes values, and validates the result. Variables already set in the
// process environment win over the file.
func Load() (Config, error) {
	if err := loadDotEnv(getenv("ENV_FILE", ".env")); err != nil {
		return Config{}, err
	}

	cfg := Config{
		// Server
		Port:              getenv("PORT", "3000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 15*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		MaxBodyBytes:      int64(getint("WEBHOOK_MAX_BODY_BYTES", 5<<20)),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),
		DebugRoutes:       getbool("DEBUG_ROUTES_ENABLED", true),

		// Logging
		LogLevel:  strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty: getbool("LOG_PRETTY", false),

		Discord: DiscordConfig{
			Token:          strings.TrimSpace(getenv("DISCORD_TOKEN", "")),
			ForumChannelID: strings.TrimSpace(getenv("DISCORD_FORUM_CHANNEL_ID", "")),
			SendRPS:        getfloat("DISCORD_SEND_RPS", 5.0),
		},
		GitHub: GitHubConfig{
			Token:              strings.TrimSpace(getenv("GITHUB_TOKEN", "")),
			Owner:              strings.TrimSpace(getenv("GITHUB_OWNER", "")),
			Repo:               strings.TrimSpace(getenv("GITHUB_REPO", "")),
			CategoryID:         strings.TrimSpace(getenv("GITHUB_DISCUSSION_CATEGORY_ID", "")),
			WebhookSecret:      getenv("GITHUB_WEBHOOK_SECRET", ""),
			GraphQLURL:         strings.TrimSpace(getenv("GITHUB_GRAPHQL_URL", "")),
			Timeout:            getdur("GITHUB_TIMEOUT", 15*time.Second),
			InsecureSkipVerify: getbool("WEBHOOK_INSECURE_SKIP_VERIFY", false),
		},
		DB: DBConfig{
			Driver: strings.ToLower(strings.TrimSpace(getenv("DB_DRIVER", "sqlite"))),
			Path:   getenv("DB_PATH", "bridge.db"),
			URL:    getenv("DATABASE_URL", ""),
		},
		Sync: SyncConfig{
			GracePeriod:           getdur("SYNC_GRACE_PERIOD", 5*time.Second),
			ThreadLockTTL:         getdur("THREAD_LOCK_TTL", 60*time.Second),
			ItemLockTTL:           getdur("ITEM_LOCK_TTL", 60*time.Second),
			SeenWindow:            getdur("SEEN_WINDOW", 30*time.Minute),
			SentDownstreamWindow:  getdur("SENT_DOWNSTREAM_WINDOW", 6*time.Hour),
			ProcessedThreadWindow: getdur("PROCESSED_THREAD_WINDOW", 24*time.Hour),
			CommentSeenWindow:     getdur("COMMENT_SEEN_WINDOW", time.Hour),
			DiscussionFlagTTL:     getdur("DISCUSSION_FLAG_TTL", 10*time.Second),
			SimilarThreadWindow:   getdur("SIMILAR_THREAD_WINDOW", 5*time.Minute),
			SeenMaxEntries:        getint("SEEN_MAX_ENTRIES", 1000),
			SeenPruneBatch:        getint("SEEN_PRUNE_BATCH", 100),
		},

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "kufe-discussions-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),

			ExportTimeout: getdur("OTEL_EXPORTER_OTLP_TIMEOUT", 0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	if missing := cfg.missingRequired(); len(missing) > 0 {
		return cfg, fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 || cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	switch cfg.DB.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.DB.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DB.URL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.Discord.SendRPS < 0 {
		return cfg, errors.New("DISCORD_SEND_RPS must be >= 0")
	}
	if cfg.GitHub.Timeout <= 0 {
		return cfg, errors.New("GITHUB_TIMEOUT must be > 0")
	}
	if err := cfg.Sync.validate(); err != nil {
		return cfg, err
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// missingRequired names every required variable left empty. The webhook
// secret may be omitted only when verification is explicitly disabled.
func (c Config) missingRequired() []string {
	var missing []string
	check := func(name, v string) {
		if strings.TrimSpace(v) == "" {
			missing = append(missing, name)
		}
	}
	check("DISCORD_TOKEN", c.Discord.Token)
	check("DISCORD_FORUM_CHANNEL_ID", c.Discord.ForumChannelID)
	check("GITHUB_TOKEN", c.GitHub.Token)
	check("GITHUB_OWNER", c.GitHub.Owner)
	check("GITHUB_REPO", c.GitHub.Repo)
	check("GITHUB_DISCUSSION_CATEGORY_ID", c.GitHub.CategoryID)
	if !c.GitHub.InsecureSkipVerify {
		check("GITHUB_WEBHOOK_SECRET", c.GitHub.WebhookSecret)
	}
	return missing
}

func (s SyncConfig) validate() error {
	durations := []struct {
		name string
		d    time.Duration
	}{
		{"THREAD_LOCK_TTL", s.ThreadLockTTL},
		{"ITEM_LOCK_TTL", s.ItemLockTTL},
		{"SEEN_WINDOW", s.SeenWindow},
		{"SENT_DOWNSTREAM_WINDOW", s.SentDownstreamWindow},
		{"PROCESSED_THREAD_WINDOW", s.ProcessedThreadWindow},
		{"COMMENT_SEEN_WINDOW", s.CommentSeenWindow},
		{"DISCUSSION_FLAG_TTL", s.DiscussionFlagTTL},
		{"SIMILAR_THREAD_WINDOW", s.SimilarThreadWindow},
	}
	for _, d := range durations {
		if d.d <= 0 {
			return fmt.Errorf("%s must be > 0", d.name)
		}
	}
	if s.GracePeriod < 0 {
		return errors.New("SYNC_GRACE_PERIOD must be >= 0")
	}
	if s.SeenMaxEntries < 1 {
		return errors.New("SEEN_MAX_ENTRIES must be >= 1")
	}
	if s.SeenPruneBatch < 1 || s.SeenPruneBatch > s.SeenMaxEntries {
		return errors.New("SEEN_PRUNE_BATCH must be in [1, SEEN_MAX_ENTRIES]")
	}
	return nil
}

// loadDotEnv seeds unset variables from path. A missing file is not an error.
func loadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// ---- helpers ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}
