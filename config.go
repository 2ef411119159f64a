package main

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/NeilG112/LocalLoop/discovery"
)

type Config struct {
	Port        string
	Env         string
	JWTSecret   string
	StoreDriver string // "postgres" or "memory"
	DatabaseURL string
	AutoMigrate bool
	RedisURL    string
	BatchSize   int
	CORSOrigins []string
	TokenTTL    time.Duration

	// envFileErr is why .env was not read, if it wasn't. Reported once
	// the logger exists.
	envFileErr error
}

func (c Config) Development() bool {
	return c.Env == "" || c.Env == "development"
}

func loadConfig() Config {
	envErr := godotenv.Load()

	dbURL := getEnv("DATABASE_URL", "")
	driver := "memory"
	if dbURL != "" {
		driver = "postgres"
	}

	return Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("GO_ENV", ""),
		JWTSecret:   getEnv("JWT_SECRET", "your_secret_key_please_change_in_production"),
		StoreDriver: getEnv("STORE_DRIVER", driver),
		DatabaseURL: dbURL,
		AutoMigrate: getEnvBool("AUTO_MIGRATE", true),
		RedisURL:    getEnv("REDIS_URL", ""),
		BatchSize:   getEnvInt("DISCOVERY_BATCH_SIZE", discovery.DefaultBatchSize),
		CORSOrigins: splitList(getEnv("CORS_ORIGINS", "http://localhost:5173,http://127.0.0.1:5173,http://localhost:3001,http://127.0.0.1:3001")),
		TokenTTL:    getEnvDuration("TOKEN_TTL", 24*time.Hour),
		envFileErr:  envErr,
	}
}

// logEnvFile reports a missing or unreadable .env file.
func (c Config) logEnvFile(logger *zap.Logger) {
	switch {
	case c.envFileErr == nil:
	case errors.Is(c.envFileErr, fs.ErrNotExist):
		logger.Info("no .env file found, relying on system env vars")
	default:
		logger.Warn("could not read .env file", zap.Error(c.envFileErr))
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && n > 0 {
		return n
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if b, err := strconv.ParseBool(os.Getenv(key)); err == nil {
		return b
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		return d
	}
	return fallback
}

func splitList(s string) []string {
	out := make([]string, 0)
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
