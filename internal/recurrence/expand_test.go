package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/teambition/rrule-go"

	"schedcal/internal/model"
	"schedcal/internal/rule"
)

func at(y int, m time.Month, d, hh, mm int) time.Time {
	return time.Date(y, m, d, hh, mm, 0, 0, time.UTC)
}

func recurring(start time.Time, dur time.Duration, text string) model.Event {
	ev := model.Event{
		ID:    "ev-1",
		Title: "Standup",
		Start: start,
		End:   start.Add(dur),
	}
	if text != "" {
		r, err := rule.Parse(text)
		if err != nil {
			panic(err)
		}
		ev.Recurrence = &r
	}
	return ev
}

func starts(occs []model.EventOccurrence) []time.Time {
	out := make([]time.Time, len(occs))
	for i, o := range occs {
		out[i] = o.Start
	}
	return out
}

func TestExpand_NonRecurring(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "")

	tests := []struct {
		name     string
		ws, we   time.Time
		expected int
	}{
		{"window contains event", at(2024, 1, 1, 0, 0), at(2024, 1, 2, 0, 0), 1},
		{"window starts at event start", at(2024, 1, 1, 9, 0), at(2024, 1, 2, 0, 0), 1},
		{"window overlaps event tail", at(2024, 1, 1, 9, 30), at(2024, 1, 2, 0, 0), 1},
		{"window ends at event start", at(2023, 12, 31, 0, 0), at(2024, 1, 1, 9, 0), 0},
		{"window starts at event end", at(2024, 1, 1, 10, 0), at(2024, 1, 2, 0, 0), 0},
		{"open window", time.Time{}, time.Time{}, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			occs, err := x.Expand(ev, tt.ws, tt.we)
			require.NoError(t, err)
			require.Len(t, occs, tt.expected)
			if tt.expected == 1 {
				assert.Equal(t, ev.Start, occs[0].Start)
				assert.Equal(t, ev.End, occs[0].End)
				assert.Equal(t, ev.ID, occs[0].SourceEventID)
				assert.False(t, occs[0].IsException)
				assert.Equal(t, model.StatusConfirmed, occs[0].EffectiveStatus)
			}
		})
	}
}

func TestExpand_WeeklyByDayExample(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE;COUNT=4")

	occs, err := x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		at(2024, 1, 1, 9, 0),
		at(2024, 1, 3, 9, 0),
		at(2024, 1, 8, 9, 0),
		at(2024, 1, 10, 9, 0),
	}, starts(occs))
	for _, o := range occs {
		assert.Equal(t, time.Hour, o.Duration())
	}
}

func TestExpand_MonthlyOn31st(t *testing.T) {
	x := NewExpander(Config{})

	leap := recurring(at(2024, 1, 31, 10, 0), 30*time.Minute, "FREQ=MONTHLY;COUNT=3")
	occs, err := x.Expand(leap, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 31, 10, 0), at(2024, 2, 29, 10, 0), at(2024, 3, 31, 10, 0)}, starts(occs))

	plain := recurring(at(2023, 1, 31, 10, 0), 30*time.Minute, "FREQ=MONTHLY;COUNT=3")
	occs, err = x.Expand(plain, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2023, 1, 31, 10, 0), at(2023, 2, 28, 10, 0), at(2023, 3, 31, 10, 0)}, starts(occs))
}

func TestExpand_YearlyLeapDay(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 2, 29, 0, 0), 24*time.Hour, "FREQ=YEARLY;COUNT=5")
	ev.AllDay = true

	occs, err := x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{
		at(2024, 2, 29, 0, 0),
		at(2025, 2, 28, 0, 0),
		at(2026, 2, 28, 0, 0),
		at(2027, 2, 28, 0, 0),
		at(2028, 2, 29, 0, 0),
	}, starts(occs))
}

func TestExpand_CountProperty(t *testing.T) {
	x := NewExpander(Config{})
	rules := []string{
		"FREQ=DAILY;COUNT=10",
		"FREQ=DAILY;INTERVAL=3;COUNT=7",
		"FREQ=DAILY;BYDAY=SA,SU;COUNT=9",
		"FREQ=WEEKLY;COUNT=5",
		"FREQ=WEEKLY;INTERVAL=2;BYDAY=TU,TH,SA;COUNT=11",
		"FREQ=MONTHLY;COUNT=14",
		"FREQ=MONTHLY;BYDAY=FR;COUNT=12",
		"FREQ=YEARLY;INTERVAL=4;COUNT=3",
		"FREQ=YEARLY;BYDAY=MO;COUNT=60",
	}
	for _, text := range rules {
		t.Run(text, func(t *testing.T) {
			ev := recurring(at(2024, 1, 31, 18, 15), 45*time.Minute, text)
			occs, err := x.Expand(ev, time.Time{}, time.Time{})
			require.NoError(t, err)
			require.Len(t, occs, ev.Recurrence.Count)
			for i := 1; i < len(occs); i++ {
				assert.True(t, occs[i].Start.After(occs[i-1].Start), "not increasing at %d", i)
			}
			assert.False(t, occs[0].Start.Before(ev.Start))
		})
	}
}

func TestExpand_EmptyByDayUsesAnchorWeekday(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 4, 8, 0), time.Hour, "FREQ=WEEKLY;COUNT=3") // Thursday
	ev.Recurrence.ByWeekday = []model.Weekday{}

	occs, err := x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 4, 8, 0), at(2024, 1, 11, 8, 0), at(2024, 1, 18, 8, 0)}, starts(occs))
}

func TestExpand_SkipsByDayBeforeAnchor(t *testing.T) {
	x := NewExpander(Config{})
	// Anchored on Wednesday; Monday of the first week precedes the anchor.
	ev := recurring(at(2024, 1, 3, 9, 0), time.Hour, "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=3")

	occs, err := x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 3, 9, 0), at(2024, 1, 8, 9, 0), at(2024, 1, 10, 9, 0)}, starts(occs))
}

func TestExpand_UntilIsInclusive(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=DAILY;UNTIL=20240105T090000Z")

	res, err := x.ExpandFrom(ev, Cursor{}, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, res.Occurrences, 5)
	assert.Equal(t, at(2024, 1, 5, 9, 0), res.Occurrences[4].Start)
	assert.True(t, res.Exhausted)
}

func TestExpand_CountAndUntilTighterWins(t *testing.T) {
	x := NewExpander(Config{})

	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=DAILY;COUNT=3;UNTIL=20240110T000000Z")
	occs, err := x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, occs, 3)

	ev = recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=DAILY;COUNT=30;UNTIL=20240103T120000Z")
	occs, err = x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Len(t, occs, 3)
}

func TestExpand_WindowIsHalfOpen(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=DAILY")

	occs, err := x.Expand(ev, at(2024, 1, 3, 9, 0), at(2024, 1, 6, 9, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 3, 9, 0), at(2024, 1, 4, 9, 0), at(2024, 1, 5, 9, 0)}, starts(occs))
}

func TestExpand_LongOccurrenceOverlappingWindowStart(t *testing.T) {
	x := NewExpander(Config{})
	// Three-day block every week; the one starting Monday Jan 8 is still
	// running on Wednesday Jan 10.
	ev := recurring(at(2024, 1, 1, 0, 0), 72*time.Hour, "FREQ=WEEKLY")

	occs, err := x.Expand(ev, at(2024, 1, 10, 0, 0), at(2024, 1, 16, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 8, 0, 0), at(2024, 1, 15, 0, 0)}, starts(occs))
}

func TestExpand_FastForwardOldAnchor(t *testing.T) {
	x := NewExpander(Config{MaxIterations: 100})
	ev := recurring(at(1990, 6, 15, 7, 0), time.Hour, "FREQ=DAILY;INTERVAL=2")

	// Any eight consecutive days hold exactly four every-other-day slots.
	occs, err := x.Expand(ev, at(2024, 3, 1, 0, 0), at(2024, 3, 9, 0, 0))
	require.NoError(t, err)
	require.NotEmpty(t, occs)
	for _, o := range occs {
		assert.Zero(t, int(o.Start.Sub(ev.Start).Hours())%48)
		assert.False(t, o.Start.Before(at(2024, 3, 1, 0, 0)))
	}
	assert.Len(t, occs, 4)
}

func TestExpand_ResumeWithCursor(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=WEEKLY;BYDAY=MO,WE;COUNT=6")

	first, err := x.ExpandFrom(ev, Cursor{}, time.Time{}, at(2024, 1, 8, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 1, 9, 0), at(2024, 1, 3, 9, 0)}, starts(first.Occurrences))
	assert.False(t, first.Exhausted)
	assert.Equal(t, Cursor{Period: 1, Emitted: 2}, first.Next)

	second, err := x.ExpandFrom(ev, first.Next, at(2024, 1, 8, 0, 0), time.Time{})
	require.NoError(t, err)
	assert.True(t, second.Exhausted)
	assert.Equal(t, []time.Time{
		at(2024, 1, 8, 9, 0), at(2024, 1, 10, 9, 0),
		at(2024, 1, 15, 9, 0), at(2024, 1, 17, 9, 0),
	}, starts(second.Occurrences))

	all, err := x.Expand(ev, time.Time{}, time.Time{})
	require.NoError(t, err)
	assert.Equal(t, starts(all), append(starts(first.Occurrences), starts(second.Occurrences)...))
}

func TestExpand_WindowDoesNotConsumeCount(t *testing.T) {
	x := NewExpander(Config{})
	ev := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=DAILY;COUNT=5")

	// A window in the middle still sees the 3rd..5th instances only.
	occs, err := x.Expand(ev, at(2024, 1, 3, 0, 0), at(2024, 2, 1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(2024, 1, 3, 9, 0), at(2024, 1, 4, 9, 0), at(2024, 1, 5, 9, 0)}, starts(occs))
}

func TestExpand_Errors(t *testing.T) {
	x := NewExpander(Config{})
	base := recurring(at(2024, 1, 1, 9, 0), time.Hour, "")

	t.Run("interval zero", func(t *testing.T) {
		ev := base
		ev.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 0, Count: 3}
		_, err := x.Expand(ev, time.Time{}, time.Time{})
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("unknown frequency", func(t *testing.T) {
		ev := base
		ev.Recurrence = &model.RecurrenceRule{Frequency: "hourly", Interval: 1, Count: 3}
		_, err := x.Expand(ev, time.Time{}, time.Time{})
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("weekday out of range", func(t *testing.T) {
		ev := base
		ev.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyWeekly, Interval: 1, Count: 3, ByWeekday: []model.Weekday{8}}
		_, err := x.Expand(ev, time.Time{}, time.Time{})
		assert.ErrorIs(t, err, ErrInvalidRule)
	})

	t.Run("unbounded without window end", func(t *testing.T) {
		ev := base
		ev.Recurrence = &model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1}
		_, err := x.Expand(ev, at(2024, 1, 1, 0, 0), time.Time{})
		assert.ErrorIs(t, err, ErrUnbounded)
	})

	t.Run("end before start", func(t *testing.T) {
		ev := base
		ev.End = ev.Start
		_, err := x.Expand(ev, time.Time{}, time.Time{})
		assert.ErrorIs(t, err, model.ErrInvalidEvent)
	})

	t.Run("inverted window", func(t *testing.T) {
		_, err := x.Expand(base, at(2024, 2, 1, 0, 0), at(2024, 1, 1, 0, 0))
		assert.ErrorIs(t, err, ErrInvalidWindow)
	})
}

func TestExpand_IterationLimit(t *testing.T) {
	x := NewExpander(Config{})

	daily := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=DAILY")
	occs, err := x.Expand(daily, at(2024, 1, 1, 0, 0), at(2124, 1, 1, 0, 0))
	assert.ErrorIs(t, err, ErrIterationLimit)
	assert.Nil(t, occs)

	small := NewExpander(Config{MaxIterations: 50})
	yearly := recurring(at(2024, 1, 1, 9, 0), time.Hour, "FREQ=YEARLY")
	_, err = small.Expand(yearly, at(2024, 1, 1, 0, 0), at(2324, 1, 1, 0, 0))
	assert.ErrorIs(t, err, ErrIterationLimit)
}

func TestExpand_AgreesWithRRuleGo(t *testing.T) {
	x := NewExpander(Config{})
	loc := time.FixedZone("UTC+2", 2*3600)
	anchor := time.Date(2024, 1, 1, 9, 0, 0, 0, loc)

	rules := []string{
		"FREQ=WEEKLY;BYDAY=MO,WE;COUNT=20",
		"FREQ=WEEKLY;INTERVAL=3;BYDAY=TU,FR,SU;COUNT=25",
		"FREQ=DAILY;INTERVAL=5;COUNT=40",
		"FREQ=DAILY;BYDAY=MO,TU,WE,TH,FR;COUNT=30",
		"FREQ=MONTHLY;BYDAY=SA;COUNT=20",
		"FREQ=MONTHLY;INTERVAL=2;COUNT=12",
	}
	for _, text := range rules {
		t.Run(text, func(t *testing.T) {
			r, err := rule.Parse(text)
			require.NoError(t, err)
			ev := model.Event{ID: "x", Start: anchor, End: anchor.Add(time.Hour), Recurrence: &r}

			got, err := x.Expand(ev, time.Time{}, time.Time{})
			require.NoError(t, err)

			opt, err := rule.ToROption(r, anchor)
			require.NoError(t, err)
			rr, err := rrule.NewRRule(opt)
			require.NoError(t, err)
			want := rr.All()

			require.Len(t, got, len(want))
			for i := range want {
				assert.True(t, want[i].Equal(got[i].Start), "index %d: want %s got %s", i, want[i], got[i].Start)
			}
		})
	}
}
