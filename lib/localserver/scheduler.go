// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bureau-foundation/localserver/lib/clock"
)

// SchedulerConfig configures automatic managed store updates.
type SchedulerConfig struct {
	Server *LocalServer

	// Clock drives the poll ticker. Defaults to the server's clock.
	Clock clock.Clock

	// PollInterval is the time between looks for stores due for a
	// check. Required.
	PollInterval time.Duration

	// MinCheckInterval is the minimum age of a store's last check
	// before the scheduler checks it again.
	MinCheckInterval time.Duration

	Logger *slog.Logger
}

// Scheduler starts update tasks for managed stores that are due.
type Scheduler struct {
	server           *LocalServer
	clock            clock.Clock
	pollInterval     time.Duration
	minCheckInterval time.Duration
	logger           *slog.Logger
}

// NewScheduler validates cfg and returns a Scheduler.
func NewScheduler(cfg SchedulerConfig) (*Scheduler, error) {
	if cfg.Server == nil {
		return nil, errors.New("localserver: scheduler requires a Server")
	}
	if cfg.PollInterval <= 0 {
		return nil, errors.New("localserver: scheduler PollInterval must be positive")
	}
	clk := cfg.Clock
	if clk == nil {
		clk = cfg.Server.clock
	}
	logger := cfg.Logger
	if logger == nil {
		logger = cfg.Server.logger
	}
	return &Scheduler{
		server:           cfg.Server,
		clock:            clk,
		pollInterval:     cfg.PollInterval,
		minCheckInterval: cfg.MinCheckInterval,
		logger:           logger.With("component", "update_scheduler"),
	}, nil
}

// Run polls once immediately and then on every tick until ctx is
// done. Started tasks keep running after Run returns; closing the
// LocalServer cancels them.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := s.clock.NewTicker(s.pollInterval)
	defer ticker.Stop()

	s.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	tasks, err := s.server.MaybeAutoUpdate(ctx, s.minCheckInterval)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.logger.Warn("auto update poll failed", "error", err)
	}
	for _, task := range tasks {
		s.logger.Info("update started", "store_id", task.StoreID(), "task", task.ID())
	}
}
