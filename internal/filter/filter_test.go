package filter

import (
	"testing"
	"time"

	"github.com/samber/mo"
	"github.com/stretchr/testify/assert"

	"schedcal/internal/model"
)

func sample() []model.EventOccurrence {
	base := time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)
	return []model.EventOccurrence{
		{
			SourceEventID:   "a",
			Start:           base,
			Title:           "Réunion parents-professeurs",
			Location:        "Salle B",
			TargetRoles:     []model.Role{"teacher", "parent"},
			EffectiveStatus: model.StatusConfirmed,
			ParticipantIDs:  []string{"u1", "u2"},
		},
		{
			SourceEventID:   "b",
			Start:           base.Add(time.Hour),
			Title:           "Staff meeting",
			Description:     "Budget review in the Café",
			TargetRoles:     []model.Role{"staff"},
			EffectiveStatus: model.StatusPending,
			ParticipantIDs:  []string{"u3"},
		},
		{
			SourceEventID:   "c",
			Start:           base.Add(2 * time.Hour),
			Title:           "Open day",
			EffectiveStatus: model.StatusCancelled,
		},
	}
}

func ids(occs []model.EventOccurrence) []string {
	out := make([]string, len(occs))
	for i, o := range occs {
		out[i] = o.SourceEventID
	}
	return out
}

func TestFilter(t *testing.T) {
	tests := []struct {
		name     string
		criteria Criteria
		expected []string
	}{
		{"zero criteria keeps all", Criteria{}, []string{"a", "b", "c"}},
		{"role intersects", Criteria{Roles: []model.Role{"parent"}}, []string{"a"}},
		{"any of several roles", Criteria{Roles: []model.Role{"staff", "teacher"}}, []string{"a", "b"}},
		{"status set", Criteria{Statuses: []model.Status{model.StatusConfirmed, model.StatusPending}}, []string{"a", "b"}},
		{"participant", Criteria{ParticipantID: mo.Some("u3")}, []string{"b"}},
		{"unknown participant", Criteria{ParticipantID: mo.Some("nobody")}, []string{}},
		{"search ignores accents and case", Criteria{SearchText: mo.Some("REUNION")}, []string{"a"}},
		{"search matches description", Criteria{SearchText: mo.Some("cafe")}, []string{"b"}},
		{"search matches location", Criteria{SearchText: mo.Some("salle")}, []string{"a"}},
		{"empty search keeps all", Criteria{SearchText: mo.Some("  ")}, []string{"a", "b", "c"}},
		{
			"combined criteria",
			Criteria{Roles: []model.Role{"staff", "parent"}, SearchText: mo.Some("meeting")},
			[]string{"b"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ids(Filter(sample(), tt.criteria)))
		})
	}
}

func TestFilterPreservesOrder(t *testing.T) {
	in := sample()
	in[0], in[2] = in[2], in[0]
	out := Filter(in, Criteria{Statuses: []model.Status{model.StatusCancelled, model.StatusConfirmed}})
	assert.Equal(t, []string{"c", "a"}, ids(out))
}

func TestFold(t *testing.T) {
	assert.Equal(t, Fold("ÉCOLE Noël"), Fold("ecole noel"))
	assert.Equal(t, "naive", Fold("Naïve"))
}

func TestCriteriaKey(t *testing.T) {
	a := Criteria{Roles: []model.Role{"x"}, SearchText: mo.Some("Café")}
	b := Criteria{Roles: []model.Role{"x"}, SearchText: mo.Some("cafe")}
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), Criteria{}.Key())
}
