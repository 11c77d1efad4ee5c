// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/localserver/lib/clock"
	"github.com/bureau-foundation/localserver/lib/config"
	"github.com/bureau-foundation/localserver/lib/localserver"
	"github.com/bureau-foundation/localserver/lib/service"
	"github.com/bureau-foundation/localserver/lib/updatelock"
	"github.com/bureau-foundation/localserver/lib/version"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		showVersion bool
		configPath  string
		socketPath  string
		httpAddress string
		noUpdates   bool
	)
	flags := pflag.NewFlagSet("localserver-service", pflag.ContinueOnError)
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	flags.StringVar(&configPath, "config", "", "path to localserver.yaml (default: $"+config.EnvironmentVariable+")")
	flags.StringVar(&socketPath, "socket", "", "override the socket path from the config")
	flags.StringVar(&httpAddress, "http", "", "serve captured content on this address (overrides http.address and enables the listener)")
	flags.BoolVar(&noUpdates, "no-updates", false, "disable automatic managed store updates")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	if showVersion {
		fmt.Printf("localserver-service %s\n", version.Info())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if socketPath != "" {
		cfg.Paths.Socket = socketPath
	}
	if httpAddress != "" {
		cfg.HTTP.Enabled = true
		cfg.HTTP.Address = httpAddress
	}
	if noUpdates {
		cfg.Update.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.Log.SlogLevel(),
	}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	return serve(ctx, cfg, logger)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	if os.Getenv(config.EnvironmentVariable) == "" {
		return config.Parse(nil)
	}
	return config.Load()
}

// serve opens the database and runs the socket server, the optional
// HTTP listener and the update scheduler until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	conn, err := localserver.OpenConnection(localserver.ConnectionConfig{
		Path:        cfg.Paths.Database,
		PoolSize:    cfg.Database.PoolSize,
		BusyTimeout: cfg.Database.BusyTimeout,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := conn.OpenAndVerifyVersion(ctx, cfg.Database.ExpectedVersion); err != nil {
		return err
	}

	locks, err := updatelock.New(cfg.Paths.Locks, logger)
	if err != nil {
		return err
	}

	server, err := localserver.New(localserver.Config{
		Connection: conn,
		Locks:      locks,
		Fetcher: localserver.NewHTTPFetcher(localserver.HTTPFetcherConfig{
			UserAgent:    cfg.Capture.UserAgent,
			MaxBodySize:  cfg.Capture.MaxBodySize,
			Timeout:      cfg.Capture.FetchTimeout,
			MaxRedirects: cfg.Capture.MaxRedirects,
			Logger:       logger,
		}),
		Listener: eventLogger(logger),
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	defer server.Close()

	svc := newLocalServerService(server, clock.Real(), logger)

	socketServer := service.NewSocketServer(cfg.Paths.Socket, logger)
	svc.registerActions(socketServer)

	logger.Info("localserver service starting",
		"version", version.Info(),
		"database", cfg.Paths.Database,
		"socket", cfg.Paths.Socket,
		"http", cfg.HTTP.Enabled,
		"auto_update", cfg.Update.Enabled,
		"actions", len(socketServer.Actions()),
	)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		waitGroup sync.WaitGroup
		errOnce   sync.Once
		firstErr  error
	)
	start := func(name string, run func(context.Context) error) {
		waitGroup.Add(1)
		go func() {
			defer waitGroup.Done()
			if err := run(ctx); err != nil {
				logger.Error("component failed", "component", name, "error", err)
				errOnce.Do(func() { firstErr = fmt.Errorf("%s: %w", name, err) })
				cancel()
			}
		}()
	}

	start("socket", socketServer.Serve)

	if cfg.HTTP.Enabled {
		httpServer := service.NewHTTPServer(service.HTTPServerConfig{
			Address: cfg.HTTP.Address,
			Handler: newContentHandler(server, logger),
			Logger:  logger,
		})
		start("http", httpServer.Serve)
	}

	if cfg.Update.Enabled {
		scheduler, err := localserver.NewScheduler(localserver.SchedulerConfig{
			Server:           server,
			PollInterval:     cfg.Update.PollInterval,
			MinCheckInterval: cfg.Update.MinCheckInterval,
			Logger:           logger,
		})
		if err != nil {
			cancel()
			waitGroup.Wait()
			return err
		}
		start("scheduler", scheduler.Run)
	}

	waitGroup.Wait()
	logger.Info("localserver service stopped")
	return firstErr
}
