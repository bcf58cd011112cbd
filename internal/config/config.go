package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all runtime configuration loaded from environment variables.
// Every field has a sensible default; DATABASE_URL and WEBHOOK_SECRET are
// required.
type Config struct {
	// Server
	HTTPPort        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration

	// Database
	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32

	// SMS gateway
	GatewayBaseURL string
	GatewayTimeout time.Duration

	// Shared secret for verifying delivery webhook signatures
	WebhookSecret string

	// Entry defaults applied at enqueue time
	MaxRetries     int
	TimeoutMinutes int

	// Gateway error codes classified as permanent/recipient-level.
	// Defaults cover the usual opt-out, blocked, and invalid-destination
	// codes; deployments extend the set per provider.
	PermanentErrorCodes []string

	// Outbound send pacing: maximum sends per second to the gateway
	SendRateLimit int

	// Stall sweeper poll interval
	SweepInterval time.Duration
}

func Load() (*Config, error) {
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	secret := os.Getenv("WEBHOOK_SECRET")
	if secret == "" {
		return nil, fmt.Errorf("WEBHOOK_SECRET is required")
	}

	return &Config{
		HTTPPort:        getEnv("HTTP_PORT", "8080"),
		ReadTimeout:     getDuration("READ_TIMEOUT", 5*time.Second),
		WriteTimeout:    getDuration("WRITE_TIMEOUT", 10*time.Second),
		ShutdownTimeout: getDuration("SHUTDOWN_TIMEOUT", 30*time.Second),

		DatabaseURL: dbURL,
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 25)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 5)),

		GatewayBaseURL: getEnv("GATEWAY_BASE_URL", "http://localhost:4010/messages"),
		GatewayTimeout: getDuration("GATEWAY_TIMEOUT", 10*time.Second),

		WebhookSecret: secret,

		MaxRetries:     getInt("MAX_RETRIES", 3),
		TimeoutMinutes: getInt("TIMEOUT_MINUTES", 15),

		PermanentErrorCodes: getList("PERMANENT_ERROR_CODES",
			[]string{"21610", "21211", "21614", "30004", "30006"}),

		SendRateLimit: getInt("SEND_RATE_LIMIT", 100),

		SweepInterval: getDuration("SWEEP_INTERVAL", 30*time.Second),
	}, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func getDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}

func getList(key string, defaultVal []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
