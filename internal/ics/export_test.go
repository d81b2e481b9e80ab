package ics

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
)

func TestOccurrenceUID_StableAcrossMoves(t *testing.T) {
	plain := model.EventOccurrence{SourceEventID: "a", Start: utc(2, 9, 0), OriginalStart: utc(2, 9, 0)}
	moved := model.EventOccurrence{SourceEventID: "a", Start: utc(2, 14, 0), OriginalStart: utc(2, 9, 0), IsException: true}
	other := model.EventOccurrence{SourceEventID: "a", Start: utc(3, 9, 0), OriginalStart: utc(3, 9, 0)}

	assert.Equal(t, OccurrenceUID(plain), OccurrenceUID(moved))
	assert.NotEqual(t, OccurrenceUID(plain), OccurrenceUID(other))
	assert.Len(t, OccurrenceUID(plain), 36)
}

func TestExport_RoundTrip(t *testing.T) {
	occs := []model.EventOccurrence{
		{
			SourceEventID:   "standup",
			Start:           utc(2, 9, 0),
			End:             utc(2, 9, 30),
			OriginalStart:   utc(2, 9, 0),
			EffectiveStatus: model.StatusPending,
			Title:           "Standup",
			Location:        "Room 4",
			TargetRoles:     []model.Role{"staff"},
			ParticipantIDs:  []string{"alice@example.com"},
			Color:           "#00ff00",
		},
		{
			SourceEventID:   "holiday",
			Start:           time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			End:             time.Date(2024, 1, 6, 0, 0, 0, 0, time.UTC),
			OriginalStart:   time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
			EffectiveStatus: model.StatusConfirmed,
			Title:           "Holiday",
			AllDay:          true,
		},
	}

	out := Export("School", occs, utc(1, 0, 0))
	assert.Contains(t, out, "BEGIN:VCALENDAR")
	assert.Contains(t, out, "X-WR-CALNAME:School")
	assert.NotContains(t, out, "RRULE")

	res, err := NewParser(time.UTC).Parse(Source{}, []byte(out))
	require.NoError(t, err)
	require.Len(t, res.Events, 2)
	require.Empty(t, res.Skipped)

	standup := res.Events[0]
	assert.Equal(t, OccurrenceUID(occs[0]), standup.ID)
	assert.Equal(t, "Standup", standup.Title)
	assert.Equal(t, "Room 4", standup.Location)
	assert.Equal(t, model.StatusPending, standup.Status)
	assert.Equal(t, []model.Role{"staff"}, standup.TargetRoles)
	assert.Equal(t, []string{"alice@example.com"}, standup.ParticipantIDs)
	assertTime(t, utc(2, 9, 0), standup.Start)
	assertTime(t, utc(2, 9, 30), standup.End)

	holiday := res.Events[1]
	assert.True(t, holiday.AllDay)
	assert.Equal(t, time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC), holiday.Start)
	assert.Equal(t, model.StatusConfirmed, holiday.Status)
}

func TestExport_Empty(t *testing.T) {
	out := Export("", nil, utc(1, 0, 0))
	assert.True(t, strings.HasPrefix(out, "BEGIN:VCALENDAR"))
	assert.NotContains(t, out, "BEGIN:VEVENT")
}
