package config

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var defaults = map[string]any{
	"DB_USER":          "postgres",
	"DB_PASSWORD":      "postgres",
	"DB_HOST":          "localhost",
	"DB_PORT":          "5432",
	"DB_NAME":          "events",
	"REDIS_ADDR":       "localhost:6379",
	"REDIS_PASSWORD":   "",
	"REDIS_DB":         0,
	"HTTP_HOST":        "0.0.0.0",
	"HTTP_PORT":        "8080",
	"DEBUG_PORT":       "6060",
	"LOG_LEVEL":        "info",
	"LOG_FORMAT":       "json",
	"OTEL_ENABLED":     false,
	"OTEL_ENDPOINT":    "localhost:4317",
	"SESSION_COOKIE":   "session_id",
	"RATE_LIMIT_RPS":   2.0,
	"RATE_LIMIT_BURST": 4,
	"ADMIN_USER":       "",
	"ADMIN_PASSWORD":   "",
}

// Default loads an optional .env file, registers defaults for every key the service reads through
// viper, configures the global zerolog logger and returns ctx carrying it.
func Default(ctx context.Context, name string, version string, env string) context.Context {
	_ = godotenv.Load()

	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	for key, value := range defaults {
		viper.SetDefault(key, value)
	}

	viper.SetDefault("APP_NAME", name)
	viper.SetDefault("APP_VERSION", version)
	viper.SetDefault("APP_ENV", env)

	level, err := zerolog.ParseLevel(viper.GetString("LOG_LEVEL"))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	logger := zerolog.New(os.Stdout)
	if viper.GetString("LOG_FORMAT") == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	log.Logger = logger.With().Timestamp().
		Str("app", viper.GetString("APP_NAME")).
		Str("version", viper.GetString("APP_VERSION")).
		Str("env", viper.GetString("APP_ENV")).
		Logger()

	return log.Logger.WithContext(ctx)
}
