// Package main provides the entry point for the colsync replication applier.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"

	"github.com/colsync/colsync/pkg/api"
	"github.com/colsync/colsync/pkg/config"
	"github.com/colsync/colsync/pkg/replication"
)

func main() {
	if err := run(); err != nil {
		logrus.WithError(err).Fatal("colsync exited")
	}
}

// run executes the applier and returns any error.
// This is separated from main() to facilitate testing.
func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	configureLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := openPool(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	// Failure to reach the database at startup is fatal.
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}

	if err := replication.EnsurePrerequisites(ctx, pool, cfg.Slot, cfg.Publication); err != nil {
		return err
	}

	poller := replication.NewPoller(pool, replication.PollerConfig{
		SlotName:     cfg.Slot,
		Publication:  cfg.Publication,
		PollInterval: cfg.PollInterval,
	})
	poller.SetReloadFunc(func() (time.Duration, error) {
		newCfg, err := config.Load()
		if err != nil {
			return 0, err
		}
		configureLogging(newCfg.LogLevel)
		return newCfg.PollInterval, nil
	})

	watchSighup(ctx, poller)

	if cfg.StatusPort > 0 {
		startStatusServer(ctx, cfg.StatusPort, poller)
	}

	// Supervise the applier: a crash rolls back the in-flight batch, the
	// slot rewinds, and the applier respawns after the restart delay.
	for {
		err := poller.Run(ctx)
		if ctx.Err() != nil {
			logrus.Info("shutdown complete")
			return nil
		}

		logrus.WithError(err).WithField("restart_delay", cfg.RestartDelay).
			Error("applier crashed, respawning")

		select {
		case <-ctx.Done():
			logrus.Info("shutdown complete")
			return nil
		case <-time.After(cfg.RestartDelay):
		}
	}
}

// configureLogging applies the configured logrus level, falling back to info.
func configureLogging(level string) {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		logrus.WithField("level", level).Warn("unknown log level, using info")
		lvl = logrus.InfoLevel
	}
	logrus.SetLevel(lvl)
}

// openPool builds the connection pool, applying the optional database name
// override.
func openPool(ctx context.Context, cfg *config.Config) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.EnvDatabaseURL, err)
	}
	if cfg.Database != "" {
		poolCfg.ConnConfig.Database = cfg.Database
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	return pool, nil
}

// watchSighup forwards SIGHUP to the poller as a configuration reload
// request. Only the flag store and latch wake happen on the signal path.
func watchSighup(ctx context.Context, poller *replication.Poller) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGHUP)

	go func() {
		defer signal.Stop(sigCh)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigCh:
				logrus.Info("SIGHUP received, scheduling configuration reload")
				poller.RequestReload()
			}
		}
	}()
}

// startStatusServer serves the health/status endpoints until shutdown.
func startStatusServer(ctx context.Context, port int, poller *replication.Poller) {
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      api.NewRouter(poller),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logrus.WithField("port", port).Info("status endpoint listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Warn("status endpoint stopped")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logrus.WithError(err).Warn("status endpoint shutdown")
		}
	}()
}
