// Command pledged runs the background check-in sync behind the processing
// lock and serves its HTTP API.
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/clearmind/pledge/v1/presets"
	"github.com/clearmind/pledge/v1/server"
	"github.com/clearmind/pledge/v1/telemetry"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "pledged:", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return err
	}
	logger, err := newLogger(cfg)
	if err != nil {
		return err
	}
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.trace {
		tp, err := telemetry.NewStdoutProvider(os.Stdout, false)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	opts := presets.Options{
		LockName:  cfg.lockName,
		HoldFor:   cfg.hold,
		BatchSize: cfg.batchSize,
		Logger:    logger,

		BreakerThreshold: cfg.breakerMax,
		BreakerCooldown:  cfg.breakerCool,
	}
	var stack *presets.Stack
	if cfg.redisAddr != "" {
		stack, err = presets.NewRedis(ctx, presets.RedisOptions{
			Addr:     cfg.redisAddr,
			Password: os.Getenv("PLEDGE_REDIS_PASSWORD"),
			DB:       cfg.redisDB,
		}, opts)
		if err != nil {
			return err
		}
	} else {
		logger.Warn("no redis address configured, check-ins are kept in memory")
		stack = presets.NewInMemoryStandalone(opts)
	}
	defer closeLogged(logger, stack)

	srv := server.New(stack.Deps(),
		server.WithGatherer(stack.Registry),
		server.WithEnvKeys(cfg.envKeys, nil),
		server.WithLogger(logger),
	)

	logger.Info("pledged starting", "addr", cfg.addr, "lock", cfg.lockName,
		"hold", cfg.hold, "sync_interval", cfg.syncInterval)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Listen(gctx, cfg.addr) })
	g.Go(func() error { return stack.Syncer.Run(gctx, cfg.syncInterval) })
	err = g.Wait()

	// One last attempt so check-ins accepted just before shutdown are not lost.
	if _, serr := stack.Syncer.Sync(context.Background()); serr != nil {
		logger.Warn("final sync did not complete", "error", serr)
	}
	return err
}

// closeLogged closes c and reports a failure at Warn; shutdown continues.
func closeLogged(logger *slog.Logger, c io.Closer) {
	if err := c.Close(); err != nil {
		logger.Warn("closing backends failed", "error", err)
	}
}
