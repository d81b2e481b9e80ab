package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// fileDocument is the on-disk YAML layout.
type fileDocument struct {
	Events     []EventRecord     `yaml:"events"`
	Exceptions []ExceptionRecord `yaml:"exceptions,omitempty"`
}

// FileStore keeps events in a single YAML document.
type FileStore struct {
	path string
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

// Load reads and decodes the document. A missing file is an empty store.
func (s *FileStore) Load(ctx context.Context) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			appLog.Warn("event file missing; starting empty", "path", s.path)
			return Snapshot{Version: versionOf(nil)}, nil
		}
		return Snapshot{}, err
	}

	var doc fileDocument
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return Snapshot{}, fmt.Errorf("store: parse %s: %w", s.path, err)
	}

	snap := decode(versionOf(data), doc.Events, doc.Exceptions)
	appLog.Debug("event file loaded",
		"path", s.path,
		"version", snap.Version,
		"events", len(snap.Events),
		"exceptions", len(snap.Exceptions),
		"skipped", len(snap.Skipped),
	)
	return snap, nil
}

// Replace rewrites the document atomically via a temp file + rename.
func (s *FileStore) Replace(ctx context.Context, events []model.Event, exceptions []model.Exception) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	evRecs, xRecs, err := encode(events, exceptions)
	if err != nil {
		return err
	}
	data, err := yaml.Marshal(fileDocument{Events: evRecs, Exceptions: xRecs})
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".schedcal-events-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}
	return os.Rename(tmpName, s.path)
}

func (s *FileStore) Close() error { return nil }
