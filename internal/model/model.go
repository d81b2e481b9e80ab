package model

import (
	"errors"
	"fmt"
	"time"
)

// ErrInvalidEvent is returned when an Event violates its own invariants.
var ErrInvalidEvent = errors.New("invalid event")

type Role string

type Status string

const (
	StatusConfirmed Status = "confirmed"
	StatusPending   Status = "pending"
	StatusCancelled Status = "cancelled"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusConfirmed, StatusPending, StatusCancelled:
		return true
	}
	return false
}

type Frequency string

const (
	FrequencyDaily   Frequency = "daily"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
)

// Weekday uses ISO ordering: Monday is 1, Sunday is 7.
type Weekday int

const (
	Monday Weekday = iota + 1
	Tuesday
	Wednesday
	Thursday
	Friday
	Saturday
	Sunday
)

var weekdayCodes = [...]string{"", "MO", "TU", "WE", "TH", "FR", "SA", "SU"}

// Valid reports whether d is in Monday..Sunday.
func (d Weekday) Valid() bool { return d >= Monday && d <= Sunday }

// Code returns the two-letter RRULE code (MO..SU).
func (d Weekday) Code() string {
	if !d.Valid() {
		return fmt.Sprintf("Weekday(%d)", int(d))
	}
	return weekdayCodes[d]
}

func (d Weekday) String() string { return d.Code() }

// MarshalText encodes the weekday as its RRULE code.
func (d Weekday) MarshalText() ([]byte, error) {
	if !d.Valid() {
		return nil, fmt.Errorf("weekday %d out of range", int(d))
	}
	return []byte(d.Code()), nil
}

func (d *Weekday) UnmarshalText(b []byte) error {
	w, ok := WeekdayFromCode(string(b))
	if !ok {
		return fmt.Errorf("unknown weekday code %q", string(b))
	}
	*d = w
	return nil
}

// WeekdayFromCode parses a two-letter RRULE code.
func WeekdayFromCode(code string) (Weekday, bool) {
	for i := Monday; i <= Sunday; i++ {
		if weekdayCodes[i] == code {
			return i, true
		}
	}
	return 0, false
}

// WeekdayOf converts a time.Weekday into ISO ordering.
func WeekdayOf(t time.Time) Weekday {
	wd := t.Weekday()
	if wd == time.Sunday {
		return Sunday
	}
	return Weekday(wd)
}

// RecurrenceRule is the supported RRULE subset.
type RecurrenceRule struct {
	Frequency Frequency  `json:"frequency"`
	Interval  int        `json:"interval,omitempty"`
	ByWeekday []Weekday  `json:"by_weekday,omitempty"`
	Count     int        `json:"count,omitempty"`
	Until     *time.Time `json:"until,omitempty"`
}

// Bounded reports whether the rule stops on its own (COUNT or UNTIL).
func (r RecurrenceRule) Bounded() bool {
	return r.Count > 0 || r.Until != nil
}

// Event is a logical calendar event before recurrence expansion.
// The store owns it; the engine never mutates it.
type Event struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	Location    string `json:"location,omitempty"`

	Start  time.Time `json:"start_time"`
	End    time.Time `json:"end_time"`
	AllDay bool      `json:"all_day,omitempty"`

	TargetRoles    []Role   `json:"target_roles,omitempty"`
	Status         Status   `json:"status,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`

	Recurrence *RecurrenceRule `json:"recurrence_rule,omitempty"`
}

// Duration is the anchor length every occurrence keeps.
func (e Event) Duration() time.Duration {
	return e.End.Sub(e.Start)
}

// EffectiveStatus treats an empty status as confirmed.
func (e Event) EffectiveStatus() Status {
	if e.Status == "" {
		return StatusConfirmed
	}
	return e.Status
}

// Validate checks the event boundary invariants. Bad input is rejected,
// never corrected.
func (e Event) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidEvent)
	}
	if e.Start.IsZero() || e.End.IsZero() {
		return fmt.Errorf("%w: event %s: missing start or end time", ErrInvalidEvent, e.ID)
	}
	if !e.End.After(e.Start) {
		return fmt.Errorf("%w: event %s: end_time %s is not after start_time %s",
			ErrInvalidEvent, e.ID, e.End.Format(time.RFC3339), e.Start.Format(time.RFC3339))
	}
	if e.Status != "" && !e.Status.Valid() {
		return fmt.Errorf("%w: event %s: unknown status %q", ErrInvalidEvent, e.ID, e.Status)
	}
	return nil
}

// Override carries the replacement fields of a moved instance. Empty
// strings and a nil Status keep the source event's values.
type Override struct {
	Start       time.Time `json:"start_time"`
	End         time.Time `json:"end_time"`
	Title       string    `json:"title,omitempty"`
	Description string    `json:"description,omitempty"`
	Location    string    `json:"location,omitempty"`
	Status      *Status   `json:"status,omitempty"`
}

// Exception is a stored override or cancellation of one occurrence,
// identified by the source event id and the occurrence's original start.
type Exception struct {
	SourceEventID string    `json:"source_event_id"`
	OriginalStart time.Time `json:"original_start"`
	// Override is nil for a cancellation.
	Override *Override `json:"override,omitempty"`
}

// Cancelled reports whether the exception removes the instance.
func (x Exception) Cancelled() bool {
	if x.Override == nil {
		return true
	}
	return x.Override.Status != nil && *x.Override.Status == StatusCancelled
}

// EventOccurrence is one concrete dated instance. It is derived on every
// expansion call and never persisted.
type EventOccurrence struct {
	SourceEventID   string    `json:"source_event_id"`
	Start           time.Time `json:"occurrence_start"`
	End             time.Time `json:"occurrence_end"`
	OriginalStart   time.Time `json:"original_start"`
	IsException     bool      `json:"is_exception"`
	EffectiveStatus Status    `json:"effective_status"`

	Title          string   `json:"title"`
	Description    string   `json:"description,omitempty"`
	Location       string   `json:"location,omitempty"`
	AllDay         bool     `json:"all_day"`
	TargetRoles    []Role   `json:"target_roles,omitempty"`
	ParticipantIDs []string `json:"participant_ids,omitempty"`

	Color              string `json:"color,omitempty"`
	ParticipantSummary string `json:"participant_summary,omitempty"`
}

// Duration returns End - Start.
func (o EventOccurrence) Duration() time.Duration {
	return o.End.Sub(o.Start)
}

// Key identifies an occurrence for de-duplication.
type Key struct {
	EventID string
	Start   int64 // unix nanos, so instants in different zones compare equal
}

// KeyOf builds the dedup key for an event id and instant.
func KeyOf(eventID string, t time.Time) Key {
	return Key{EventID: eventID, Start: t.UnixNano()}
}

// SkippedEvent records an event the projector could not expand.
type SkippedEvent struct {
	EventID string `json:"event_id"`
	Reason  string `json:"reason"`
}
