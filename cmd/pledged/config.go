package main

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/clearmind/pledge/v1/lock"
)

type config struct {
	addr         string
	redisAddr    string
	redisDB      int
	lockName     string
	hold         time.Duration
	syncInterval time.Duration
	batchSize    int
	breakerMax   int
	breakerCool  time.Duration
	logLevel     string
	logFormat    string
	trace        bool
	envKeys      []string
}

var errInvalidConfig = errors.New("invalid config")

func envString(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if n, err := strconv.Atoi(envString(key, "")); err == nil {
		return n
	}
	return def
}

func envDuration(key string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(envString(key, "")); err == nil {
		return d
	}
	return def
}

func envBool(key string, def bool) bool {
	if b, err := strconv.ParseBool(envString(key, "")); err == nil {
		return b
	}
	return def
}

// parseConfig reads flags from args. Every flag defaults to its PLEDGE_*
// environment variable.
func parseConfig(args []string) (config, error) {
	var cfg config
	var envKeys string
	fs := flag.NewFlagSet("pledged", flag.ContinueOnError)
	fs.StringVar(&cfg.addr, "addr", envString("PLEDGE_ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.redisAddr, "redis-addr", envString("PLEDGE_REDIS_ADDR", ""), "Redis address; empty keeps check-ins in memory")
	fs.IntVar(&cfg.redisDB, "redis-db", envInt("PLEDGE_REDIS_DB", 0), "Redis database")
	fs.StringVar(&cfg.lockName, "lock-name", envString("PLEDGE_LOCK_NAME", "checkin-sync"), "Processing lock name")
	fs.DurationVar(&cfg.hold, "hold", envDuration("PLEDGE_HOLD", lock.DefaultHoldDuration), "Maximum processing lock hold per sync run")
	fs.DurationVar(&cfg.syncInterval, "sync-interval", envDuration("PLEDGE_SYNC_INTERVAL", 30*time.Second), "Background sync interval")
	fs.IntVar(&cfg.batchSize, "batch-size", envInt("PLEDGE_BATCH_SIZE", 50), "Check-ins pushed per store call")
	fs.IntVar(&cfg.breakerMax, "breaker-threshold", envInt("PLEDGE_BREAKER_THRESHOLD", 5),
		"Consecutive Redis push failures before pushes fail fast; negative disables")
	fs.DurationVar(&cfg.breakerCool, "breaker-cooldown", envDuration("PLEDGE_BREAKER_COOLDOWN", 30*time.Second),
		"Time an open circuit waits before probing Redis again")
	fs.StringVar(&cfg.logLevel, "log-level", envString("PLEDGE_LOG_LEVEL", "info"), "debug, info, warn or error")
	fs.StringVar(&cfg.logFormat, "log-format", envString("PLEDGE_LOG_FORMAT", "json"), "json or text")
	fs.BoolVar(&cfg.trace, "trace", envBool("PLEDGE_TRACE", false), "Export sync spans to stdout")
	fs.StringVar(&envKeys, "env-keys", envString("PLEDGE_ENV_KEYS", "PLEDGE_ADDR,PLEDGE_REDIS_ADDR,PLEDGE_REDIS_PASSWORD"),
		"Comma-separated variables reported by /v1/env")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	for _, k := range strings.Split(envKeys, ",") {
		if k = strings.TrimSpace(k); k != "" {
			cfg.envKeys = append(cfg.envKeys, k)
		}
	}
	if cfg.hold <= 0 {
		return config{}, fmt.Errorf("%w: hold must be positive", errInvalidConfig)
	}
	if cfg.syncInterval <= 0 {
		return config{}, fmt.Errorf("%w: sync interval must be positive", errInvalidConfig)
	}
	if cfg.batchSize <= 0 {
		return config{}, fmt.Errorf("%w: batch size must be positive", errInvalidConfig)
	}
	if cfg.breakerCool <= 0 {
		return config{}, fmt.Errorf("%w: breaker cooldown must be positive", errInvalidConfig)
	}
	if cfg.logFormat != "json" && cfg.logFormat != "text" {
		return config{}, fmt.Errorf("%w: unknown log format %q", errInvalidConfig, cfg.logFormat)
	}
	return cfg, nil
}

func newLogger(cfg config) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.logLevel)); err != nil {
		return nil, fmt.Errorf("%w: %v", errInvalidConfig, err)
	}
	opts := &slog.HandlerOptions{Level: level}
	if cfg.logFormat == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts)), nil
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts)), nil
}
