// Package projector flattens events into a single sorted occurrence list
// for a window: it expands each event, merges stored exceptions, attaches
// display metadata and applies filter criteria.
package projector

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"schedcal/internal/filter"
	"schedcal/internal/model"
	"schedcal/internal/recurrence"
)

const defaultSummaryLimit = 3

// Config controls display metadata and the expansion safety cap.
type Config struct {
	MaxIterations int

	// RoleColors maps a target role to a display color. The first role of
	// an event with a configured color wins.
	RoleColors   map[model.Role]string
	DefaultColor string

	// Occurrences whose title contains one of HighlightKeywords (case and
	// accent insensitive) get HighlightColor instead.
	HighlightKeywords []string
	HighlightColor    string

	// SummaryLimit is how many participant ids are listed before "+N".
	SummaryLimit int
}

// Projection is the result of one Project call.
type Projection struct {
	Occurrences []model.EventOccurrence `json:"occurrences"`
	Skipped     []model.SkippedEvent    `json:"skipped,omitempty"`
}

// Projector is safe for concurrent use; it holds configuration only.
type Projector struct {
	expander *recurrence.Expander
	cfg      Config
	keywords []string
}

func New(cfg Config) *Projector {
	if cfg.SummaryLimit <= 0 {
		cfg.SummaryLimit = defaultSummaryLimit
	}
	p := &Projector{
		expander: recurrence.NewExpander(recurrence.Config{MaxIterations: cfg.MaxIterations}),
		cfg:      cfg,
	}
	for _, k := range cfg.HighlightKeywords {
		if k = filter.Fold(strings.TrimSpace(k)); k != "" {
			p.keywords = append(p.keywords, k)
		}
	}
	return p
}

// Expander exposes the underlying expander for callers that page through
// a single event.
func (p *Projector) Expander() *recurrence.Expander {
	return p.expander
}

// Project expands events over [windowStart, windowEnd), merges exceptions,
// filters with c and returns occurrences sorted by start then event id.
// An event that fails validation or expansion is reported in Skipped and
// does not affect the others.
func (p *Projector) Project(events []model.Event, exceptions []model.Exception, windowStart, windowEnd time.Time, c filter.Criteria) Projection {
	var out Projection

	byEvent := indexExceptions(exceptions)
	seen := make(map[string]bool, len(events))
	all := make([]model.EventOccurrence, 0, len(events))

	for _, ev := range events {
		if ev.ID != "" && seen[ev.ID] {
			out.Skipped = append(out.Skipped, model.SkippedEvent{EventID: ev.ID, Reason: "duplicate event id"})
			continue
		}
		seen[ev.ID] = true

		if err := ev.Validate(); err != nil {
			out.Skipped = append(out.Skipped, model.SkippedEvent{EventID: ev.ID, Reason: err.Error()})
			continue
		}
		// A cancelled event suppresses every instance.
		if ev.EffectiveStatus() == model.StatusCancelled {
			continue
		}

		occs, err := p.projectEvent(ev, byEvent[ev.ID], windowStart, windowEnd)
		if err != nil {
			out.Skipped = append(out.Skipped, model.SkippedEvent{EventID: ev.ID, Reason: err.Error()})
			continue
		}
		all = append(all, occs...)
	}

	all = filter.Filter(all, c)
	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].Start.Equal(all[j].Start) {
			return all[i].Start.Before(all[j].Start)
		}
		return all[i].SourceEventID < all[j].SourceEventID
	})

	out.Occurrences = all
	return out
}

func (p *Projector) projectEvent(ev model.Event, excs map[model.Key]model.Exception, ws, we time.Time) ([]model.EventOccurrence, error) {
	generated, err := p.expander.Expand(ev, ws, we)
	if err != nil {
		return nil, err
	}

	index := make(map[model.Key]int, len(generated))
	merged := make([]model.EventOccurrence, 0, len(generated))
	matched := make(map[model.Key]bool)

	for _, occ := range generated {
		key := model.KeyOf(ev.ID, occ.Start)
		if _, ok := excs[key]; ok {
			matched[key] = true
			continue
		}
		if _, dup := index[key]; dup {
			continue
		}
		index[key] = len(merged)
		merged = append(merged, p.decorate(occ))
	}

	// Exceptions whose original instance lies outside the window can
	// still move it into the window.
	for key, x := range excs {
		if !matched[key] {
			if x.Cancelled() || !intersects(x.Override.Start, x.Override.End, ws, we) {
				continue
			}
			if !p.isOccurrence(ev, x.OriginalStart) {
				continue
			}
			matched[key] = true
		}
	}

	// Apply in original-start order so output does not depend on map order.
	keys := make([]model.Key, 0, len(matched))
	for key := range matched {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Start < keys[j].Start })

	for _, key := range keys {
		x := excs[key]
		if x.Cancelled() {
			continue
		}
		occ, err := applyOverride(ev, x)
		if err != nil {
			return nil, err
		}
		if !intersects(occ.Start, occ.End, ws, we) {
			continue
		}
		occ = p.decorate(occ)
		newKey := model.KeyOf(ev.ID, occ.Start)
		if i, ok := index[newKey]; ok {
			merged[i] = occ
			continue
		}
		index[newKey] = len(merged)
		merged = append(merged, occ)
	}

	return merged, nil
}

// isOccurrence reports whether the rule really produces an instance at t.
func (p *Projector) isOccurrence(ev model.Event, t time.Time) bool {
	occs, err := p.expander.Expand(ev, t, t.Add(time.Nanosecond))
	if err != nil {
		return false
	}
	for _, o := range occs {
		if o.Start.Equal(t) {
			return true
		}
	}
	return false
}

func applyOverride(ev model.Event, x model.Exception) (model.EventOccurrence, error) {
	o := x.Override
	if !o.End.After(o.Start) {
		return model.EventOccurrence{}, fmt.Errorf("%w: exception for %s at %s: end is not after start",
			model.ErrInvalidEvent, ev.ID, x.OriginalStart.Format(time.RFC3339))
	}
	occ := model.EventOccurrence{
		SourceEventID:   ev.ID,
		Start:           o.Start,
		End:             o.End,
		OriginalStart:   x.OriginalStart,
		IsException:     true,
		EffectiveStatus: ev.EffectiveStatus(),
		Title:           firstNonEmpty(o.Title, ev.Title),
		Description:     firstNonEmpty(o.Description, ev.Description),
		Location:        firstNonEmpty(o.Location, ev.Location),
		AllDay:          ev.AllDay,
		TargetRoles:     ev.TargetRoles,
		ParticipantIDs:  ev.ParticipantIDs,
	}
	if o.Status != nil {
		occ.EffectiveStatus = *o.Status
	}
	return occ, nil
}

func (p *Projector) decorate(occ model.EventOccurrence) model.EventOccurrence {
	occ.Color = p.colorFor(occ)
	occ.ParticipantSummary = summarize(occ.ParticipantIDs, p.cfg.SummaryLimit)
	return occ
}

func (p *Projector) colorFor(occ model.EventOccurrence) string {
	if len(p.keywords) > 0 && p.cfg.HighlightColor != "" {
		title := filter.Fold(occ.Title)
		for _, k := range p.keywords {
			if strings.Contains(title, k) {
				return p.cfg.HighlightColor
			}
		}
	}
	for _, r := range occ.TargetRoles {
		if c, ok := p.cfg.RoleColors[r]; ok && c != "" {
			return c
		}
	}
	return p.cfg.DefaultColor
}

// summarize lists up to limit participants, then "+N" for the rest.
func summarize(ids []string, limit int) string {
	switch {
	case len(ids) == 0:
		return ""
	case len(ids) <= limit:
		return strings.Join(ids, ", ")
	default:
		return fmt.Sprintf("%s +%d", strings.Join(ids[:limit], ", "), len(ids)-limit)
	}
}

func indexExceptions(excs []model.Exception) map[string]map[model.Key]model.Exception {
	out := make(map[string]map[model.Key]model.Exception)
	for _, x := range excs {
		m, ok := out[x.SourceEventID]
		if !ok {
			m = make(map[model.Key]model.Exception)
			out[x.SourceEventID] = m
		}
		// Later records replace earlier ones for the same instance.
		m[model.KeyOf(x.SourceEventID, x.OriginalStart)] = x
	}
	return out
}

func intersects(start, end, ws, we time.Time) bool {
	if !we.IsZero() && !start.Before(we) {
		return false
	}
	if !ws.IsZero() && !end.After(ws) {
		return false
	}
	return true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}
