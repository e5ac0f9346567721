package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries every runtime knob the gateway reads from the environment.
type Config struct {
	AppEnv    string
	LogLevel  string
	LogFormat string

	HTTPListenAddr string
	PublicBaseURL  string
	PublicBasePath string

	// DatabaseURL empty means fall back to the embedded SQLite store.
	DatabaseURL    string
	DatabaseSchema string
	SQLitePath     string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisTLS      bool

	MetricsNamespace string

	UazapiBaseURL    string
	UazapiAdminToken string

	EvolutionBaseURL string
	EvolutionAPIKey  string

	ProviderTimeout time.Duration

	ReconnectMaxAttempts  int
	ReconnectInitialDelay time.Duration
	ReconnectMaxDelay     time.Duration
	ReconnectJitter       time.Duration

	SendQueueSize   int
	SendWorkers     int
	WebhookDedupTTL time.Duration
}

// Load reads configuration from environment variables.
func Load() (Config, error) {
	cfg := Config{
		AppEnv:    getenv("APP_ENV", "development"),
		LogLevel:  getenv("LOG_LEVEL", "info"),
		LogFormat: getenv("LOG_FORMAT", "text"),

		HTTPListenAddr: getenv("HTTP_LISTEN_ADDR", ":8080"),
		PublicBaseURL:  strings.TrimRight(os.Getenv("PUBLIC_BASE_URL"), "/"),
		PublicBasePath: os.Getenv("PUBLIC_BASE_PATH"),

		DatabaseURL:    os.Getenv("DATABASE_URL"),
		DatabaseSchema: os.Getenv("DATABASE_SCHEMA"),
		SQLitePath:     getenv("SQLITE_PATH", "wa-gateway.db"),

		RedisAddr:     getenv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getenvInt("REDIS_DB", 0),
		RedisTLS:      getenvBool("REDIS_TLS", false),

		MetricsNamespace: getenv("METRICS_NAMESPACE", "wa_gateway"),

		UazapiBaseURL:    getenv("UAZAPI_BASE_URL", "https://free.uazapi.com"),
		UazapiAdminToken: os.Getenv("UAZAPI_ADMIN_TOKEN"),

		EvolutionBaseURL: os.Getenv("EVOLUTION_BASE_URL"),
		EvolutionAPIKey:  os.Getenv("EVOLUTION_API_KEY"),

		ProviderTimeout: getenvDuration("PROVIDER_TIMEOUT", 15*time.Second),

		ReconnectMaxAttempts:  getenvInt("RECONNECT_MAX_ATTEMPTS", 5),
		ReconnectInitialDelay: getenvDuration("RECONNECT_INITIAL_DELAY", 800*time.Millisecond),
		ReconnectMaxDelay:     getenvDuration("RECONNECT_MAX_DELAY", 10*time.Second),
		ReconnectJitter:       getenvDuration("RECONNECT_JITTER", 200*time.Millisecond),

		SendQueueSize:   getenvInt("SEND_QUEUE_SIZE", 256),
		SendWorkers:     getenvInt("SEND_WORKERS", 4),
		WebhookDedupTTL: getenvDuration("WEBHOOK_DEDUP_TTL", 6*time.Hour),
	}

	if cfg.ReconnectMaxAttempts < 1 {
		return Config{}, fmt.Errorf("RECONNECT_MAX_ATTEMPTS must be at least 1, got %d", cfg.ReconnectMaxAttempts)
	}
	if cfg.SendWorkers < 1 {
		return Config{}, fmt.Errorf("SEND_WORKERS must be at least 1, got %d", cfg.SendWorkers)
	}
	if cfg.UazapiBaseURL == "" && cfg.EvolutionBaseURL == "" {
		return Config{}, fmt.Errorf("no provider configured: set UAZAPI_BASE_URL or EVOLUTION_BASE_URL")
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}
