package store

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"schedcal/internal/model"
	"schedcal/internal/rule"
)

// EventRecord is the persisted shape of an event. The recurrence rule is
// kept in its RRULE text form.
type EventRecord struct {
	ID             string    `yaml:"id" json:"id"`
	Title          string    `yaml:"title" json:"title"`
	Description    string    `yaml:"description,omitempty" json:"description,omitempty"`
	Location       string    `yaml:"location,omitempty" json:"location,omitempty"`
	Start          time.Time `yaml:"start_time" json:"start_time"`
	End            time.Time `yaml:"end_time" json:"end_time"`
	Timezone       string    `yaml:"timezone,omitempty" json:"timezone,omitempty"`
	AllDay         bool      `yaml:"all_day,omitempty" json:"all_day,omitempty"`
	TargetRoles    []string  `yaml:"target_roles,omitempty" json:"target_roles,omitempty"`
	Status         string    `yaml:"status,omitempty" json:"status,omitempty"`
	ParticipantIDs []string  `yaml:"participant_ids,omitempty" json:"participant_ids,omitempty"`
	RRule          string    `yaml:"rrule,omitempty" json:"rrule,omitempty"`
}

// OverrideRecord is the persisted replacement for a moved instance.
type OverrideRecord struct {
	Start       time.Time `yaml:"start_time" json:"start_time"`
	End         time.Time `yaml:"end_time" json:"end_time"`
	Title       string    `yaml:"title,omitempty" json:"title,omitempty"`
	Description string    `yaml:"description,omitempty" json:"description,omitempty"`
	Location    string    `yaml:"location,omitempty" json:"location,omitempty"`
	Status      string    `yaml:"status,omitempty" json:"status,omitempty"`
}

// ExceptionRecord is a persisted exception. A nil Override cancels the
// instance.
type ExceptionRecord struct {
	EventID       string          `yaml:"event_id" json:"event_id"`
	OriginalStart time.Time       `yaml:"original_start" json:"original_start"`
	Override      *OverrideRecord `yaml:"override,omitempty" json:"override,omitempty"`
}

// Event converts the record, resolving the rule text and the timezone.
func (r EventRecord) Event() (model.Event, error) {
	ev := model.Event{
		ID:             r.ID,
		Title:          r.Title,
		Description:    r.Description,
		Location:       r.Location,
		Start:          r.Start,
		End:            r.End,
		AllDay:         r.AllDay,
		Status:         model.Status(r.Status),
		ParticipantIDs: r.ParticipantIDs,
	}
	for _, role := range r.TargetRoles {
		ev.TargetRoles = append(ev.TargetRoles, model.Role(role))
	}
	if r.Timezone != "" {
		loc, err := time.LoadLocation(r.Timezone)
		if err != nil {
			return ev, fmt.Errorf("event %s: timezone %q: %w", r.ID, r.Timezone, err)
		}
		ev.Start, ev.End = ev.Start.In(loc), ev.End.In(loc)
	}
	if r.RRule != "" {
		rr, err := rule.Parse(r.RRule)
		if err != nil {
			return ev, fmt.Errorf("event %s: %w", r.ID, err)
		}
		ev.Recurrence = &rr
	}
	return ev, ev.Validate()
}

// RecordOf converts an event for persistence.
func RecordOf(ev model.Event) (EventRecord, error) {
	r := EventRecord{
		ID:             ev.ID,
		Title:          ev.Title,
		Description:    ev.Description,
		Location:       ev.Location,
		Start:          ev.Start,
		End:            ev.End,
		AllDay:         ev.AllDay,
		Status:         string(ev.Status),
		ParticipantIDs: ev.ParticipantIDs,
	}
	if name := ev.Start.Location().String(); name != "UTC" && name != "Local" {
		if _, err := time.LoadLocation(name); err == nil {
			r.Timezone = name
		}
	}
	for _, role := range ev.TargetRoles {
		r.TargetRoles = append(r.TargetRoles, string(role))
	}
	if ev.Recurrence != nil {
		text, err := rule.Format(*ev.Recurrence)
		if err != nil {
			return r, fmt.Errorf("event %s: %w", ev.ID, err)
		}
		r.RRule = text
	}
	return r, nil
}

// Exception converts the record.
func (r ExceptionRecord) Exception() (model.Exception, error) {
	x := model.Exception{SourceEventID: r.EventID, OriginalStart: r.OriginalStart}
	if r.EventID == "" || r.OriginalStart.IsZero() {
		return x, fmt.Errorf("%w: exception needs event_id and original_start", model.ErrInvalidEvent)
	}
	if r.Override == nil {
		return x, nil
	}
	o := &model.Override{
		Start:       r.Override.Start,
		End:         r.Override.End,
		Title:       r.Override.Title,
		Description: r.Override.Description,
		Location:    r.Override.Location,
	}
	if r.Override.Status != "" {
		st := model.Status(r.Override.Status)
		if !st.Valid() {
			return x, fmt.Errorf("%w: exception %s@%s: unknown status %q",
				model.ErrInvalidEvent, r.EventID, r.OriginalStart.Format(time.RFC3339), st)
		}
		o.Status = &st
	}
	x.Override = o
	return x, nil
}

// ExceptionRecordOf converts an exception for persistence.
func ExceptionRecordOf(x model.Exception) ExceptionRecord {
	r := ExceptionRecord{EventID: x.SourceEventID, OriginalStart: x.OriginalStart}
	if x.Override != nil {
		r.Override = &OverrideRecord{
			Start:       x.Override.Start,
			End:         x.Override.End,
			Title:       x.Override.Title,
			Description: x.Override.Description,
			Location:    x.Override.Location,
		}
		if x.Override.Status != nil {
			r.Override.Status = string(*x.Override.Status)
		}
	}
	return r
}

// decode converts records into a snapshot. Bad records become Skipped
// entries instead of failing the load.
func decode(version string, events []EventRecord, excs []ExceptionRecord) Snapshot {
	snap := Snapshot{Version: version}
	for _, r := range events {
		ev, err := r.Event()
		if err != nil {
			snap.Skipped = append(snap.Skipped, model.SkippedEvent{EventID: r.ID, Reason: err.Error()})
			continue
		}
		snap.Events = append(snap.Events, ev)
	}
	for _, r := range excs {
		x, err := r.Exception()
		if err != nil {
			snap.Skipped = append(snap.Skipped, model.SkippedEvent{EventID: r.EventID, Reason: err.Error()})
			continue
		}
		snap.Exceptions = append(snap.Exceptions, x)
	}
	return snap
}

// encode converts a snapshot into records.
func encode(events []model.Event, excs []model.Exception) ([]EventRecord, []ExceptionRecord, error) {
	evRecs := make([]EventRecord, 0, len(events))
	for _, ev := range events {
		r, err := RecordOf(ev)
		if err != nil {
			return nil, nil, err
		}
		evRecs = append(evRecs, r)
	}
	xRecs := make([]ExceptionRecord, 0, len(excs))
	for _, x := range excs {
		xRecs = append(xRecs, ExceptionRecordOf(x))
	}
	return evRecs, xRecs, nil
}

// versionOf hashes the raw content a snapshot was decoded from.
func versionOf(parts ...[]byte) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
