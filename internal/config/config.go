package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/fx"
)

// Module loads application configuration once for the fx graph.
var Module = fx.Module("config", fx.Provide(Load))

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int

	// Connect-state lifecycle.
	StateTTL           time.Duration
	StateEntropyBytes  int
	PKCEEnabledDefault bool
	JanitorInterval    time.Duration

	ConnectRedirectBaseURL string

	RateLimit RateLimitConfig
}

// RateLimitConfig bounds how fast a workspace can mint outstanding
// connect states. Disabled unless a redis address is configured.
type RateLimitConfig struct {
	Enabled       bool
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	ConnectRate   float64
	ConnectBurst  int
}

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppName:      getenv("APP_SERVICE", "postloop"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":8080"),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		DBType:            getenv("DATABASE_TYPE", "postgres"),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "postloop"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBMaxIdleConn:     getenvInt("DATABASE_MAX_IDLE_CONN", 5),
		DBMaxOpenConn:     getenvInt("DATABASE_MAX_OPEN_CONN", 25),
		DBConnMaxLifetime: getenvInt("DATABASE_CONN_MAX_LIFETIME", 300),

		StateTTL:           time.Duration(getenvInt("STATE_TTL_SECONDS", 300)) * time.Second,
		StateEntropyBytes:  getenvInt("STATE_ENTROPY_BYTES", 32),
		PKCEEnabledDefault: getenvBool("PKCE_ENABLED_DEFAULT", true),
		JanitorInterval:    time.Duration(getenvInt("JANITOR_INTERVAL_SECONDS", 120)) * time.Second,

		ConnectRedirectBaseURL: getenv("CONNECT_REDIRECT_BASE_URL", "http://localhost:8080"),

		RateLimit: RateLimitConfig{
			Enabled:       getenvBool("RATE_LIMIT_ENABLED", false),
			RedisAddr:     strings.TrimSpace(getenv("RATE_LIMIT_REDIS_ADDR", "")),
			RedisPassword: strings.TrimSpace(getenv("RATE_LIMIT_REDIS_PASSWORD", "")),
			RedisDB:       getenvInt("RATE_LIMIT_REDIS_DB", 0),
			ConnectRate:   getenvFloat("RATE_LIMIT_CONNECT_RATE", 1),
			ConnectBurst:  getenvInt("RATE_LIMIT_CONNECT_BURST", 10),
		},
	}
}

// PKCEEnabledFor resolves the per-platform PKCE override, falling back to
// the global default. The override can only be consulted for platforms
// that support PKCE at all; callers check support separately.
func (c Config) PKCEEnabledFor(platform string) bool {
	key := "PKCE_ENABLED_" + strings.ToUpper(strings.TrimSpace(platform))
	return getenvBool(key, c.PKCEEnabledDefault)
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt(key string, def int) int {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
