// Package filter narrows an occurrence list by role, status, participant
// and free-text search. It never reorders its input.
package filter

import (
	"strings"
	"unicode"

	"github.com/samber/mo"
	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"schedcal/internal/model"
)

// Criteria selects occurrences. Empty sets and absent options do not
// restrict anything.
type Criteria struct {
	Roles         []model.Role
	Statuses      []model.Status
	ParticipantID mo.Option[string]
	SearchText    mo.Option[string]
}

// IsZero reports whether c keeps every occurrence.
func (c Criteria) IsZero() bool {
	return len(c.Roles) == 0 && len(c.Statuses) == 0 &&
		c.ParticipantID.IsAbsent() && c.SearchText.IsAbsent()
}

// Key renders c as a stable string for memoization.
func (c Criteria) Key() string {
	var b strings.Builder
	b.WriteString("r=")
	for _, r := range c.Roles {
		b.WriteString(string(r))
		b.WriteByte(',')
	}
	b.WriteString(";s=")
	for _, s := range c.Statuses {
		b.WriteString(string(s))
		b.WriteByte(',')
	}
	if p, ok := c.ParticipantID.Get(); ok {
		b.WriteString(";p=" + p)
	}
	if q, ok := c.SearchText.Get(); ok {
		b.WriteString(";q=" + Fold(q))
	}
	return b.String()
}

// Filter returns the occurrences matching c, in input order.
func Filter(occs []model.EventOccurrence, c Criteria) []model.EventOccurrence {
	if c.IsZero() {
		return occs
	}
	m := newMatcher(c)
	out := make([]model.EventOccurrence, 0, len(occs))
	for _, o := range occs {
		if m.match(o) {
			out = append(out, o)
		}
	}
	return out
}

type matcher struct {
	roles       map[model.Role]bool
	statuses    map[model.Status]bool
	participant mo.Option[string]
	needle      string
}

func newMatcher(c Criteria) *matcher {
	m := &matcher{participant: c.ParticipantID}
	if len(c.Roles) > 0 {
		m.roles = make(map[model.Role]bool, len(c.Roles))
		for _, r := range c.Roles {
			m.roles[r] = true
		}
	}
	if len(c.Statuses) > 0 {
		m.statuses = make(map[model.Status]bool, len(c.Statuses))
		for _, s := range c.Statuses {
			m.statuses[s] = true
		}
	}
	if q, ok := c.SearchText.Get(); ok {
		m.needle = Fold(strings.TrimSpace(q))
	}
	return m
}

func (m *matcher) match(o model.EventOccurrence) bool {
	if m.roles != nil && !m.anyRole(o.TargetRoles) {
		return false
	}
	if m.statuses != nil && !m.statuses[o.EffectiveStatus] {
		return false
	}
	if id, ok := m.participant.Get(); ok && !contains(o.ParticipantIDs, id) {
		return false
	}
	if m.needle != "" {
		if !strings.Contains(Fold(o.Title), m.needle) &&
			!strings.Contains(Fold(o.Location), m.needle) &&
			!strings.Contains(Fold(o.Description), m.needle) {
			return false
		}
	}
	return true
}

func (m *matcher) anyRole(roles []model.Role) bool {
	for _, r := range roles {
		if m.roles[r] {
			return true
		}
	}
	return false
}

func contains(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}

// Fold lower-cases s and strips combining marks, so "Réunion" and
// "REUNION" compare equal.
func Fold(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
