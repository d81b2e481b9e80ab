package store

import (
	"context"
	"errors"
	"time"

	"schedcal/internal/ics"
	appLog "schedcal/internal/log"
)

// Source is an ICS feed the ICSStore reads.
type Source = ics.Source

// ICSStore is a read-only store over one or more ICS feeds. Feeds that
// fail to fetch or parse are logged and left out of the snapshot.
type ICSStore struct {
	sources []Source
	fetcher *ics.Fetcher
	parser  *ics.Parser
}

func NewICSStore(sources []Source, cacheDir string, loc *time.Location) *ICSStore {
	return &ICSStore{
		sources: sources,
		fetcher: ics.NewFetcher(cacheDir),
		parser:  ics.NewParser(loc),
	}
}

// Load fetches and parses every feed. It fails only when no feed
// produced a usable body.
func (s *ICSStore) Load(ctx context.Context) (Snapshot, error) {
	results, errs := s.fetcher.FetchAll(ctx, s.sources)
	if len(results) == 0 && len(s.sources) > 0 {
		return Snapshot{}, errors.Join(append([]error{errors.New("store: no ICS feed could be fetched")}, errs...)...)
	}

	var (
		snap   Snapshot
		bodies [][]byte
	)
	for _, res := range results {
		parsed, err := s.parser.Parse(res.Source, res.Body)
		if err != nil {
			appLog.Error("ics feed skipped", err, "id", res.Source.ID)
			continue
		}
		bodies = append(bodies, []byte(res.Source.ID), res.Body)
		snap.Events = append(snap.Events, parsed.Events...)
		snap.Exceptions = append(snap.Exceptions, parsed.Exceptions...)
		snap.Skipped = append(snap.Skipped, parsed.Skipped...)
	}
	snap.Version = versionOf(bodies...)
	return snap, nil
}

func (s *ICSStore) Close() error { return nil }
