package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr          string
	Environment   string
	LogLevel      string
	DatabaseURL   string
	MigrationsDir string
	JWTSecret     string
	InternalToken string
	CORSOrigin    string
	// Realtime
	AuthTimeout           time.Duration
	TypingTimeout         time.Duration
	SendBuffer            int
	MaxMessageBytes       int64
	MaxConnectionsPerUser int
	// Redis relay, disabled when empty
	RedisURL     string
	RedisChannel string
	// Search
	MeiliURL       string
	MeiliMasterKey string
}

func Load() Config {
	return Config{
		Addr:          getenv("API_ADDR", ":8787"),
		Environment:   getenv("APP_ENV", "development"),
		LogLevel:      getenv("LOG_LEVEL", "info"),
		DatabaseURL:   getenv("DATABASE_URL", ""),
		MigrationsDir: getenv("MIGRATIONS_DIR", "./db/migrations"),
		JWTSecret:     getenv("JWT_SECRET", "candidatehub-dev-secret"),
		InternalToken: getenv("INTERNAL_TOKEN", "candidatehub-internal-token"),
		CORSOrigin:    getenv("CORS_ORIGIN", "*"),

		AuthTimeout:           getenvDuration("AUTH_TIMEOUT_SECONDS", 5*time.Second),
		TypingTimeout:         getenvDuration("TYPING_TIMEOUT_SECONDS", 8*time.Second),
		SendBuffer:            getenvInt("WS_SEND_BUFFER", 256),
		MaxMessageBytes:       int64(getenvInt("WS_MAX_MESSAGE_BYTES", 64*1024)),
		MaxConnectionsPerUser: getenvInt("MAX_CONNECTIONS_PER_USER", 10),

		RedisURL:     getenv("REDIS_URL", ""),
		RedisChannel: getenv("REDIS_CHANNEL", "candidatehub:realtime"),

		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
	}
}

func (c Config) IsProduction() bool {
	return c.Environment == "production"
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

// getenvDuration reads a whole number of seconds.
func getenvDuration(key string, fallback time.Duration) time.Duration {
	seconds := getenvInt(key, -1)
	if seconds <= 0 {
		return fallback
	}
	return time.Duration(seconds) * time.Second
}
