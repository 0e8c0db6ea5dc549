package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config captures everything the server needs from the environment.
// FromEnv applies development defaults so main stays lean; production
// deployments override via environment variables.
type Config struct {
	Addr          string
	PostgresURL   string
	RedisURL      string
	KafkaSeeds    []string
	JWTSigningKey string
	AdminToken    string

	// Release-code policy. CodePepper keys the fingerprint digest used
	// by the active-code uniqueness check.
	CodePepper       string
	CodeTTL          time.Duration
	LockoutThreshold int
	LockoutWindow    time.Duration

	// Audit retention.
	AuditRetention time.Duration
	ReaperSchedule string

	// Outbound notification dispatch (fire-and-forget).
	NotifyTopic   string
	NotifyTimeout time.Duration
}

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	return Config{
		Addr:          envOr("CUSTODIA_ADDR", ":8080"),
		PostgresURL:   os.Getenv("CUSTODIA_POSTGRES_URL"),
		RedisURL:      os.Getenv("CUSTODIA_REDIS_URL"),
		KafkaSeeds:    splitList(os.Getenv("CUSTODIA_KAFKA_SEEDS")),
		JWTSigningKey: envOr("CUSTODIA_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		AdminToken:    os.Getenv("CUSTODIA_ADMIN_TOKEN"),

		CodePepper:       envOr("CUSTODIA_CODE_PEPPER", "dev-pepper-change-in-production"),
		CodeTTL:          envDuration("CUSTODIA_CODE_TTL", 30*24*time.Hour),
		LockoutThreshold: envInt("CUSTODIA_LOCKOUT_THRESHOLD", 5),
		LockoutWindow:    envDuration("CUSTODIA_LOCKOUT_WINDOW", 30*time.Minute),

		AuditRetention: envDuration("CUSTODIA_AUDIT_RETENTION", 90*24*time.Hour),
		ReaperSchedule: envOr("CUSTODIA_REAPER_SCHEDULE", "17 3 * * *"),

		NotifyTopic:   envOr("CUSTODIA_NOTIFY_TOPIC", "custody.notifications"),
		NotifyTimeout: envDuration("CUSTODIA_NOTIFY_TIMEOUT", 5*time.Second),
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	if v == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := parts[:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
