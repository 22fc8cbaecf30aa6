package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"pixiedraw-relay/server"
	"pixiedraw-relay/websocket"
)

type Config struct {
	Port            string
	JWTSecret       string
	DatabaseURL     string
	HistoryLimit    int
	SendBuffer      int
	ShutdownTimeout time.Duration
	LogLevel        string
	LogFormat       string
}

func defaults() Config {
	return Config{
		Port:            "8080",
		HistoryLimit:    server.DefaultHistoryLimit,
		SendBuffer:      websocket.DefaultSendBuffer,
		ShutdownTimeout: 10 * time.Second,
		LogLevel:        "info",
		LogFormat:       "text",
	}
}

// Load reads .env (if present), then the process environment, then args.
func Load(args []string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return Config{}, fmt.Errorf("loading .env: %w", err)
		}
		slog.Warn("no .env file found, using environment variables")
	}
	return Parse(args, os.LookupEnv)
}

// Parse builds a Config from lookup and args without touching the process
// environment.
func Parse(args []string, lookup func(string) (string, bool)) (Config, error) {
	cfg := defaults()
	if err := cfg.applyEnv(lookup); err != nil {
		return Config{}, err
	}

	flags := pflag.NewFlagSet("pixiedraw-relay", pflag.ContinueOnError)
	flags.StringVar(&cfg.Port, "port", cfg.Port, "listen port (PORT)")
	flags.StringVar(&cfg.JWTSecret, "jwt-secret", cfg.JWTSecret, "token verification secret shared with the auth service (JWT_SECRET)")
	flags.StringVar(&cfg.DatabaseURL, "database-url", cfg.DatabaseURL, "history store connection string (DATABASE_URL)")
	flags.IntVar(&cfg.HistoryLimit, "history-limit", cfg.HistoryLimit, "events returned by /chats/{roomId} (HISTORY_LIMIT)")
	flags.IntVar(&cfg.SendBuffer, "send-buffer", cfg.SendBuffer, "outbound frames queued per connection (SEND_BUFFER)")
	flags.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", cfg.ShutdownTimeout, "drain deadline on termination (SHUTDOWN_TIMEOUT)")
	flags.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "debug, info, warn or error (LOG_LEVEL)")
	flags.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "text or json (LOG_FORMAT)")
	if err := flags.Parse(args); err != nil {
		return Config{}, err
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && v != "" {
			*dst = v
		}
	}
	str("PORT", &c.Port)
	str("JWT_SECRET", &c.JWTSecret)
	str("DATABASE_URL", &c.DatabaseURL)
	str("LOG_LEVEL", &c.LogLevel)
	str("LOG_FORMAT", &c.LogFormat)

	for key, dst := range map[string]*int{"HISTORY_LIMIT": &c.HistoryLimit, "SEND_BUFFER": &c.SendBuffer} {
		v, ok := lookup(key)
		if !ok || v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		*dst = n
	}

	if v, ok := lookup("SHUTDOWN_TIMEOUT"); ok && v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("invalid SHUTDOWN_TIMEOUT: %w", err)
		}
		c.ShutdownTimeout = d
	}
	return nil
}

func (c Config) Validate() error {
	var errs []error
	if port, err := strconv.Atoi(c.Port); err != nil || port < 0 || port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %q", c.Port))
	}
	if c.JWTSecret == "" {
		errs = append(errs, errors.New("JWT_SECRET is required"))
	}
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.HistoryLimit <= 0 {
		errs = append(errs, fmt.Errorf("history limit must be positive, got %d", c.HistoryLimit))
	}
	if c.SendBuffer <= 0 {
		errs = append(errs, fmt.Errorf("send buffer must be positive, got %d", c.SendBuffer))
	}
	if c.ShutdownTimeout <= 0 {
		errs = append(errs, fmt.Errorf("shutdown timeout must be positive, got %s", c.ShutdownTimeout))
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, err)
	}
	if f := strings.ToLower(c.LogFormat); f != "text" && f != "json" {
		errs = append(errs, fmt.Errorf("invalid log format %q", c.LogFormat))
	}
	return errors.Join(errs...)
}

func (c Config) Level() (slog.Level, error) {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level %q", c.LogLevel)
	}
}

func (c Config) Addr() string {
	return ":" + c.Port
}
