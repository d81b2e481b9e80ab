// Package store loads events and exceptions from the configured backend
// and hands them to the projector as a versioned snapshot.
package store

import (
	"context"
	"fmt"
	"time"

	"schedcal/internal/config"
	"schedcal/internal/model"
)

// Snapshot is one consistent read of a store. Version changes whenever
// the underlying content does.
type Snapshot struct {
	Version    string
	Events     []model.Event
	Exceptions []model.Exception
	// Skipped lists records that could not be decoded.
	Skipped []model.SkippedEvent
}

// Store is a read-only source of events.
type Store interface {
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}

// Writer is implemented by stores that can persist events.
type Writer interface {
	Replace(ctx context.Context, events []model.Event, exceptions []model.Exception) error
}

// Open builds the store selected by cfg.
func Open(cfg *config.Config) (Store, error) {
	switch cfg.Store.Kind {
	case config.StoreFile:
		return NewFileStore(cfg.Store.Path), nil
	case config.StoreSQLite:
		return NewSQLiteStore(cfg.Store.Path)
	case config.StoreICS:
		sources := make([]Source, 0, len(cfg.Store.ICS))
		for _, c := range cfg.Store.ICS {
			sources = append(sources, Source{ID: c.ID, URL: c.URL, Roles: c.Roles})
		}
		return NewICSStore(sources, cfg.Store.CacheDir, cfg.Location()), nil
	}
	return nil, fmt.Errorf("store: unknown kind %q", cfg.Store.Kind)
}

// nowUTC is swapped in tests.
var nowUTC = func() time.Time { return time.Now().UTC() }
