package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
)

// SQLiteStore keeps events in a SQLite database in WAL mode so the server
// can read while an import writes.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) the database and initializes the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(10000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func retryOnContention(fn func() error) error {
	return retryOp(defaultRetryConfig, fn)
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS events (
		id              TEXT PRIMARY KEY,
		title           TEXT NOT NULL DEFAULT '',
		description     TEXT NOT NULL DEFAULT '',
		location        TEXT NOT NULL DEFAULT '',
		start_time      TEXT NOT NULL,
		end_time        TEXT NOT NULL,
		timezone        TEXT NOT NULL DEFAULT '',
		all_day         INTEGER NOT NULL DEFAULT 0,
		status          TEXT NOT NULL DEFAULT '',
		target_roles    TEXT NOT NULL DEFAULT '[]',
		participant_ids TEXT NOT NULL DEFAULT '[]',
		rrule           TEXT NOT NULL DEFAULT '',
		updated_at      TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS exceptions (
		event_id       TEXT NOT NULL,
		original_start TEXT NOT NULL,
		cancelled      INTEGER NOT NULL DEFAULT 1,
		start_time     TEXT,
		end_time       TEXT,
		title          TEXT NOT NULL DEFAULT '',
		description    TEXT NOT NULL DEFAULT '',
		location       TEXT NOT NULL DEFAULT '',
		status         TEXT NOT NULL DEFAULT '',
		PRIMARY KEY (event_id, original_start)
	);
	CREATE INDEX IF NOT EXISTS idx_exceptions_event ON exceptions(event_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Load reads every event and exception. The version hashes the rows read.
func (s *SQLiteStore) Load(ctx context.Context) (Snapshot, error) {
	evRecs, err := s.loadEvents(ctx)
	if err != nil {
		return Snapshot{}, err
	}
	xRecs, err := s.loadExceptions(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	evJSON, err := json.Marshal(evRecs)
	if err != nil {
		return Snapshot{}, err
	}
	xJSON, err := json.Marshal(xRecs)
	if err != nil {
		return Snapshot{}, err
	}

	snap := decode(versionOf(evJSON, xJSON), evRecs, xRecs)
	appLog.Debug("sqlite store loaded",
		"version", snap.Version,
		"events", len(snap.Events),
		"exceptions", len(snap.Exceptions),
		"skipped", len(snap.Skipped),
	)
	return snap, nil
}

func (s *SQLiteStore) loadEvents(ctx context.Context) ([]EventRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, title, description, location, start_time, end_time, timezone,
		        all_day, status, target_roles, participant_ids, rrule
		 FROM events ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []EventRecord
	for rows.Next() {
		var (
			r            EventRecord
			start, end   string
			allDay       int
			roles, parts string
		)
		if err := rows.Scan(&r.ID, &r.Title, &r.Description, &r.Location, &start, &end, &r.Timezone,
			&allDay, &r.Status, &roles, &parts, &r.RRule); err != nil {
			return nil, err
		}
		if r.Start, err = parseTime(start); err != nil {
			return nil, fmt.Errorf("event %s start_time: %w", r.ID, err)
		}
		if r.End, err = parseTime(end); err != nil {
			return nil, fmt.Errorf("event %s end_time: %w", r.ID, err)
		}
		r.AllDay = allDay != 0
		if err := json.Unmarshal([]byte(roles), &r.TargetRoles); err != nil {
			return nil, fmt.Errorf("event %s target_roles: %w", r.ID, err)
		}
		if err := json.Unmarshal([]byte(parts), &r.ParticipantIDs); err != nil {
			return nil, fmt.Errorf("event %s participant_ids: %w", r.ID, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) loadExceptions(ctx context.Context) ([]ExceptionRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT event_id, original_start, cancelled, start_time, end_time,
		        title, description, location, status
		 FROM exceptions ORDER BY event_id, original_start`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExceptionRecord
	for rows.Next() {
		var (
			r          ExceptionRecord
			original   string
			cancelled  int
			start, end sql.NullString
			o          OverrideRecord
		)
		if err := rows.Scan(&r.EventID, &original, &cancelled, &start, &end,
			&o.Title, &o.Description, &o.Location, &o.Status); err != nil {
			return nil, err
		}
		if r.OriginalStart, err = parseTime(original); err != nil {
			return nil, fmt.Errorf("exception %s original_start: %w", r.EventID, err)
		}
		if cancelled == 0 {
			if o.Start, err = parseTime(start.String); err != nil {
				return nil, fmt.Errorf("exception %s start_time: %w", r.EventID, err)
			}
			if o.End, err = parseTime(end.String); err != nil {
				return nil, fmt.Errorf("exception %s end_time: %w", r.EventID, err)
			}
			r.Override = &o
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Replace swaps the whole content in one transaction.
func (s *SQLiteStore) Replace(ctx context.Context, events []model.Event, exceptions []model.Exception) error {
	evRecs, xRecs, err := encode(events, exceptions)
	if err != nil {
		return err
	}
	now := nowUTC().Format(time.RFC3339Nano)

	return retryOnContention(func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if _, err := tx.ExecContext(ctx, `DELETE FROM exceptions`); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM events`); err != nil {
			return err
		}

		for _, r := range evRecs {
			roles, err := json.Marshal(nonNil(r.TargetRoles))
			if err != nil {
				return err
			}
			parts, err := json.Marshal(nonNil(r.ParticipantIDs))
			if err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO events (id, title, description, location, start_time, end_time, timezone,
				                     all_day, status, target_roles, participant_ids, rrule, updated_at)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.Title, r.Description, r.Location, formatTime(r.Start), formatTime(r.End), r.Timezone,
				boolInt(r.AllDay), r.Status, string(roles), string(parts), r.RRule, now,
			); err != nil {
				return fmt.Errorf("insert event %s: %w", r.ID, err)
			}
		}

		for _, r := range xRecs {
			var (
				start, end sql.NullString
				o          OverrideRecord
			)
			cancelled := r.Override == nil
			if !cancelled {
				o = *r.Override
				start = sql.NullString{String: formatTime(o.Start), Valid: true}
				end = sql.NullString{String: formatTime(o.End), Valid: true}
			}
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO exceptions (event_id, original_start, cancelled, start_time, end_time,
				                         title, description, location, status)
				 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
				 ON CONFLICT(event_id, original_start) DO UPDATE SET
				   cancelled = excluded.cancelled, start_time = excluded.start_time,
				   end_time = excluded.end_time, title = excluded.title,
				   description = excluded.description, location = excluded.location,
				   status = excluded.status`,
				r.EventID, formatTime(r.OriginalStart), boolInt(cancelled), start, end,
				o.Title, o.Description, o.Location, o.Status,
			); err != nil {
				return fmt.Errorf("insert exception %s: %w", r.EventID, err)
			}
		}

		return tx.Commit()
	})
}

// Times keep their UTC offset so wall-clock recurrence survives a round
// trip; the timezone column restores the zone name.
func formatTime(t time.Time) string { return t.Format(time.RFC3339Nano) }

func parseTime(s string) (time.Time, error) { return time.Parse(time.RFC3339Nano, s) }

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
