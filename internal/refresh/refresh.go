// Package refresh reloads the event store on a cron schedule and installs
// each new snapshot.
package refresh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	appLog "schedcal/internal/log"
	"schedcal/internal/store"
)

// Installer receives loaded snapshots and reports whether the version
// changed.
type Installer interface {
	SetSnapshot(store.Snapshot) bool
}

// Scheduler runs store reloads on a standard 5-field cron spec.
type Scheduler struct {
	cron    *cron.Cron
	store   store.Store
	target  Installer
	timeout time.Duration

	// mu serializes reloads so a slow feed never overlaps the next tick.
	mu sync.Mutex
}

func NewScheduler(st store.Store, target Installer) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		store:   st,
		target:  target,
		timeout: 2 * time.Minute,
	}
}

// Start registers the reload job and starts the cron loop.
func (s *Scheduler) Start(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunOnce(context.Background()); err != nil {
			appLog.Error("scheduled refresh failed", err)
		}
	}); err != nil {
		return fmt.Errorf("refresh: schedule %q: %w", spec, err)
	}
	s.cron.Start()
	appLog.Info("refresh scheduler started", "spec", spec)
	return nil
}

// Stop waits for a running reload to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	appLog.Info("refresh scheduler stopped")
}

// RunOnce loads the store and installs the snapshot. A failed load keeps
// the previous snapshot in place.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	snap, err := s.store.Load(ctx)
	if err != nil {
		return false, err
	}
	for _, sk := range snap.Skipped {
		appLog.Warn("store record skipped", "event_id", sk.EventID, "reason", sk.Reason)
	}
	changed := s.target.SetSnapshot(snap)
	appLog.Info("refresh completed",
		"version", snap.Version,
		"changed", changed,
		"duration", time.Since(start).String(),
	)
	return changed, nil
}
