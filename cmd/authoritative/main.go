// Command authoritative runs the real-time session server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/luciancaetano/authoritative"
	"github.com/luciancaetano/authoritative/internal/config"
	"github.com/luciancaetano/authoritative/internal/handlers"
	"github.com/luciancaetano/authoritative/internal/logging"
	"github.com/luciancaetano/authoritative/internal/pubsub"
	"github.com/luciancaetano/authoritative/internal/session"
	"github.com/luciancaetano/authoritative/internal/session/sqlite"
	"github.com/luciancaetano/authoritative/ws"
)

const shutdownTimeout = 10 * time.Second

func main() {
	issueFor := flag.String("issue-token", "", "create a session for the named user, print its access token and exit (non-production only)")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, err := logging.ParseLevel(cfg.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := logging.New(os.Stdout, cfg.Production(), level)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger, *issueFor); err != nil {
		logger.Log(ctx, logging.LevelFatal, "server exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger, issueFor string) error {
	if issueFor != "" {
		if err := canIssueFromCLI(cfg); err != nil {
			return err
		}
	}

	store, err := sqlite.Open(cfg.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	bus, closeBus, err := openBus(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeBus()

	if issueFor != "" {
		return issueToken(ctx, store, bus, logger, issueFor)
	}

	registry, err := handlers.New(handlers.Deps{
		Store:         store,
		ServerVersion: authoritative.Version,
		Environment:   cfg.Environment,
	})
	if err != nil {
		return err
	}

	rateLimit := ws.NoRateLimit()
	if cfg.RateLimitEnabled {
		rateLimit = &ws.RateLimitConfig{
			MessagesPerSecond: rate.Limit(cfg.RateLimitPerSecond),
			Burst:             cfg.RateLimitBurst,
			Enabled:           true,
		}
	}

	wsCfg := ws.Config{
		Addr:            cfg.Addr(),
		Registry:        registry,
		Bus:             bus,
		Production:      cfg.Production(),
		AuthTimeout:     cfg.AuthTimeout,
		RateLimitConfig: rateLimit,
		CheckOrigin:     ws.AllOrigins(),
		Logger:          logger,
	}
	if !cfg.Production() {
		wsCfg.Issuer = session.NewIssuer(store, bus, logger, nil)
	}
	server := ws.New(wsCfg)
	// Stop is driven below so shutdown waits for connections before the
	// store and bus close.
	if err := server.Start(context.WithoutCancel(ctx)); err != nil {
		return err
	}
	logger.Info("listening", "addr", cfg.Addr(), "path", ws.DefaultPath, "env", cfg.Environment, "version", authoritative.Version)

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()
	return server.Stop(shutdownCtx)
}

// openBus connects to Valkey when VALKEY_URL is set and falls back to an
// in-process transport otherwise.
func openBus(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pubsub.Bus, func(), error) {
	if cfg.ValkeyURL == "" {
		logger.Warn("VALKEY_URL not set, invalidations stay in this process")
		bus := pubsub.New(cfg.Environment, pubsub.NewMemoryTransport(), logger)
		return bus, func() { bus.Close() }, nil
	}

	opts, err := redis.ParseURL(cfg.ValkeyURL)
	if err != nil {
		return nil, nil, fmt.Errorf("parse VALKEY_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, nil, fmt.Errorf("connect valkey: %w", err)
	}

	bus := pubsub.New(cfg.Environment, pubsub.NewRedisTransport(ctx, client), logger)
	return bus, func() {
		bus.Close()
		client.Close()
	}, nil
}

// canIssueFromCLI rejects -issue-token when its invalidations could not
// reach the running server: production, or no shared Valkey bus.
func canIssueFromCLI(cfg config.Config) error {
	if cfg.Production() {
		return errors.New("-issue-token is not available in production")
	}
	if cfg.ValkeyURL == "" {
		return fmt.Errorf("-issue-token needs VALKEY_URL to reach the running server; without it use POST %s on the server instead", ws.DevSessionsPath)
	}
	return nil
}

// issueToken stands in for the account service in local development.
func issueToken(ctx context.Context, store session.Store, bus *pubsub.Bus, logger *slog.Logger, name string) error {
	_, s, err := session.NewIssuer(store, bus, logger, nil).IssueFor(ctx, name)
	if err != nil {
		return err
	}
	fmt.Println(s.AccessToken)
	return nil
}
