// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the chat
// transport, the generation backend, storage, the admin HTTP server, rate
// limiting, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS and the
// admin API credential.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration

	// AdminToken is the bearer secret every /api request must present
	// (ADMIN_TOKEN). Empty disables the admin API.
	AdminToken string
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-order-bot")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// BotConfig holds chat transport and ordering settings.
type BotConfig struct {
	Token          string        // BOT_TOKEN; empty runs without a chat transport
	ChannelID      int64         // CHANNEL_ID; 0 disables the welcome broadcast
	OperatorID     string        // OPERATOR_ID; the only identity allowed to repoint the backend
	PaymentAddress string        // PAYMENT_ADDRESS shown in payment instructions
	PollTimeout    time.Duration // long-poll timeout for updates
}

// GenerationConfig holds generation-backend settings.
type GenerationConfig struct {
	RouteSuffix string        // required suffix of every registered address
	Timeout     time.Duration // per-call timeout
	Bootstrap   string        // optional address registered at boot when none is persisted
}

// StorageConfig selects persistence backends.
type StorageConfig struct {
	Driver          string // sqlite|postgres
	DBPath          string // SQLite path
	DatabaseURL     string // Postgres DSN
	LedgerBackend   string // sql|file
	LedgerPath      string // JSONL path when LedgerBackend == "file"
	RegistryBackend string // sql|file
	RegistryPath    string // text file path when RegistryBackend == "file"
}

// DispatchConfig controls inbound event processing.
type DispatchConfig struct {
	Workers   int     // number of sharded workers
	QueueSize int     // per-worker queue depth
	RateRPS   float64 // per-user events per second
	RateBurst int     // per-user burst
	DedupTTL  time.Duration
	RedisAddr string // optional; SQL dedup is used when empty
}

// KafkaConfig enables transaction event publishing when Brokers is non-empty.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for API routes

	// Rate limiting (HTTP)
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	Bot        BotConfig
	Generation GenerationConfig
	Storage    StorageConfig
	Dispatch   DispatchConfig
	Kafka      KafkaConfig

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not an
// error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		Bot: BotConfig{
			Token:          getenv("BOT_TOKEN", ""),
			ChannelID:      getint64("CHANNEL_ID", 0),
			OperatorID:     strings.TrimSpace(getenv("OPERATOR_ID", "")),
			PaymentAddress: getenv("PAYMENT_ADDRESS", ""),
			PollTimeout:    getdur("BOT_POLL_TIMEOUT", 60*time.Second),
		},
		Generation: GenerationConfig{
			RouteSuffix: getenv("GENERATION_ROUTE", "/generate"),
			Timeout:     getdur("GENERATION_TIMEOUT", 120*time.Second),
			Bootstrap:   getenv("GENERATION_URL", ""),
		},
		Storage: StorageConfig{
			Driver:          strings.ToLower(getenv("DB_DRIVER", "sqlite")),
			DBPath:          getenv("DB_PATH", "orders.db"),
			DatabaseURL:     getenv("DATABASE_URL", ""),
			LedgerBackend:   strings.ToLower(getenv("LEDGER_BACKEND", "sql")),
			LedgerPath:      getenv("LEDGER_PATH", "transactions.jsonl"),
			RegistryBackend: strings.ToLower(getenv("REGISTRY_BACKEND", "sql")),
			RegistryPath:    getenv("REGISTRY_PATH", "endpoint.txt"),
		},
		Dispatch: DispatchConfig{
			Workers:   getint("DISPATCH_WORKERS", 8),
			QueueSize: getint("DISPATCH_QUEUE", 64),
			RateRPS:   getfloat("CHAT_RATE_RPS", 2.0),
			RateBurst: getint("CHAT_RATE_BURST", 5),
			DedupTTL:  getdur("DEDUP_TTL", 24*time.Hour),
			RedisAddr: getenv("REDIS_ADDR", ""),
		},
		Kafka: KafkaConfig{
			Brokers: splitCSV(getenv("KAFKA_BROKERS", "")),
			Topic:   getenv("KAFKA_TOPIC", "order.transactions"),
		},

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
			AdminToken: strings.TrimSpace(os.Getenv("ADMIN_TOKEN")),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-order-bot"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
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
	if s := strings.TrimSpace(cfg.Generation.RouteSuffix); s != "" && !strings.HasPrefix(s, "/") {
		cfg.Generation.RouteSuffix = "/" + s
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Bot.OperatorID == "" {
		return cfg, errors.New("OPERATOR_ID must not be empty")
	}
	if cfg.Bot.PollTimeout <= 0 {
		return cfg, errors.New("BOT_POLL_TIMEOUT must be > 0")
	}
	if strings.TrimSpace(cfg.Generation.RouteSuffix) == "" {
		return cfg, errors.New("GENERATION_ROUTE must not be empty")
	}
	if cfg.Generation.Timeout <= 0 {
		return cfg, errors.New("GENERATION_TIMEOUT must be > 0")
	}
	switch cfg.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Storage.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL must not be empty when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.Storage.LedgerBackend {
	case "sql":
	case "file":
		if strings.TrimSpace(cfg.Storage.LedgerPath) == "" {
			return cfg, errors.New("LEDGER_PATH must not be empty")
		}
	default:
		return cfg, errors.New("LEDGER_BACKEND must be one of: sql, file")
	}
	switch cfg.Storage.RegistryBackend {
	case "sql":
	case "file":
		if strings.TrimSpace(cfg.Storage.RegistryPath) == "" {
			return cfg, errors.New("REGISTRY_PATH must not be empty")
		}
	default:
		return cfg, errors.New("REGISTRY_BACKEND must be one of: sql, file")
	}
	if cfg.Dispatch.Workers < 1 {
		return cfg, errors.New("DISPATCH_WORKERS must be >= 1")
	}
	if cfg.Dispatch.QueueSize < 1 {
		return cfg, errors.New("DISPATCH_QUEUE must be >= 1")
	}
	if cfg.Dispatch.RateRPS < 0 {
		return cfg, errors.New("CHAT_RATE_RPS must be >= 0")
	}
	if cfg.Dispatch.RateBurst < 1 {
		return cfg, errors.New("CHAT_RATE_BURST must be >= 1")
	}
	if cfg.Dispatch.DedupTTL <= 0 {
		return cfg, errors.New("DEDUP_TTL must be > 0")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if t := cfg.Security.AdminToken; t != "" && len(t) < 16 {
		return cfg, errors.New("ADMIN_TOKEN must be at least 16 characters")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
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

func getint64(k string, def int64) int64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64); err == nil {
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

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
