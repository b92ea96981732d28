package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config is the process configuration of the matchmaking server.
type Config struct {
	ListenAddr    string
	LogLevel      string
	JWTSecret     string
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Timings       Timings
}

// ErrMissingSecret is returned when no token signing secret is configured.
var ErrMissingSecret = errors.New("jwt secret is not set")

// Load reads an optional .env file, then parses flags whose defaults come
// from the environment. An absent .env file is not an error.
func Load(args []string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	flags := pflag.NewFlagSet("tinchat", pflag.ContinueOnError)
	cfg := &Config{Timings: DefaultTimings()}

	flags.StringVarP(&cfg.ListenAddr, "listen-addr", "a", envOr("LISTEN_ADDR", ":8080"), "http listen address")
	flags.StringVarP(&cfg.LogLevel, "log-level", "l", envOr("LOG_LEVEL", "info"), "log level")
	flags.StringVar(&cfg.JWTSecret, "jwt-secret", os.Getenv("JWT_SECRET"), "secret used to sign identity tokens")
	flags.StringVar(&cfg.DatabaseURL, "database-url", os.Getenv("DATABASE_URL"), "postgres DSN for profiles (empty disables)")
	flags.StringVar(&cfg.RedisAddr, "redis-addr", os.Getenv("REDIS_ADDR"), "redis address for queue persistence (empty disables)")
	flags.StringVar(&cfg.RedisPassword, "redis-password", os.Getenv("REDIS_PASSWORD"), "redis password")
	flags.IntVar(&cfg.RedisDB, "redis-db", envIntOr("REDIS_DB", 0), "redis database index")
	flags.DurationVar(&cfg.Timings.SearchCooldown, "search-cooldown", cfg.Timings.SearchCooldown, "minimum time between search requests")
	flags.DurationVar(&cfg.Timings.StaleThreshold, "stale-threshold", cfg.Timings.StaleThreshold, "heartbeat silence before a connection is flagged stale")
	flags.DurationVar(&cfg.Timings.RoomInactivity, "room-inactivity", cfg.Timings.RoomInactivity, "idle time before a room is closed")

	if err := flags.Parse(args); err != nil {
		return nil, fmt.Errorf("failed to parse flags: %w", err)
	}
	if cfg.JWTSecret == "" {
		return nil, ErrMissingSecret
	}
	return cfg, nil
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOr(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
