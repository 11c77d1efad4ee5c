// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package localserver

import (
	"context"
	"testing"
	"time"
)

func TestMaybeAutoUpdate(t *testing.T) {
	env := newTestEnv(t)
	publishV1(env)
	ctx := context.Background()
	due := env.managedStore(t, "due", "/manifest.json")
	env.managedStore(t, "no-manifest", "")
	disabled := env.managedStore(t, "disabled", "/manifest.json")
	if err := disabled.SetEnabled(ctx, false); err != nil {
		t.Fatalf("SetEnabled: %v", err)
	}
	env.resourceStore(t, "plain")

	tasks, err := env.server.MaybeAutoUpdate(ctx, time.Hour)
	if err != nil {
		t.Fatalf("MaybeAutoUpdate: %v", err)
	}
	if len(tasks) != 1 || tasks[0].StoreID() != due.ID() {
		t.Fatalf("started %d tasks, want one for store %d", len(tasks), due.ID())
	}
	if result := waitUpdate(t, tasks[0]); result.Outcome != UpdateSucceeded {
		t.Fatalf("update = %+v", result)
	}

	tasks, err = env.server.MaybeAutoUpdate(ctx, time.Hour)
	if err != nil || len(tasks) != 0 {
		t.Errorf("MaybeAutoUpdate right after a check started %d tasks (%v)", len(tasks), err)
	}
	env.clock.Advance(time.Hour)
	tasks, err = env.server.MaybeAutoUpdate(ctx, time.Hour)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("MaybeAutoUpdate an interval later started %d tasks (%v), want 1", len(tasks), err)
	}
	waitUpdate(t, tasks[0])
}

func TestSchedulerChecksDueStores(t *testing.T) {
	env := newTestEnv(t)
	publishV1(env)
	store := env.managedStore(t, "scheduled", "/manifest.json")

	scheduler, err := NewScheduler(SchedulerConfig{
		Server:           env.server,
		PollInterval:     time.Minute,
		MinCheckInterval: time.Hour,
	})
	if err != nil {
		t.Fatalf("NewScheduler: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- scheduler.Run(ctx) }()
	defer func() {
		cancel()
		<-done
	}()

	// The first poll runs at startup.
	if _, outcome := env.events.statuses(t); outcome != UpdateSucceeded {
		t.Fatalf("startup update = %v", outcome)
	}
	env.clock.WaitForTimers(1)

	env.clock.Advance(time.Hour)
	if _, outcome := env.events.statuses(t); outcome != UpdateSucceeded {
		t.Fatalf("scheduled update = %v", outcome)
	}
	info, err := store.UpdateInfo(context.Background())
	if err != nil {
		t.Fatalf("UpdateInfo: %v", err)
	}
	if !info.LastCheck.Equal(epoch.Add(time.Hour)) {
		t.Errorf("LastCheck = %v, want %v", info.LastCheck, epoch.Add(time.Hour))
	}
	if got := env.origin.Requests("/manifest.json"); got != 2 {
		t.Errorf("manifest fetched %d times, want 2", got)
	}
}

func TestNewSchedulerValidates(t *testing.T) {
	env := newTestEnv(t)
	if _, err := NewScheduler(SchedulerConfig{PollInterval: time.Minute}); err == nil {
		t.Error("NewScheduler without a server succeeded")
	}
	if _, err := NewScheduler(SchedulerConfig{Server: env.server}); err == nil {
		t.Error("NewScheduler without a poll interval succeeded")
	}
}
