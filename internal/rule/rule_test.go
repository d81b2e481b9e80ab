package rule

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"schedcal/internal/model"
)

func TestParse(t *testing.T) {
	until := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		input    string
		expected model.RecurrenceRule
	}{
		{
			name:  "weekly with byday and count",
			input: "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE;COUNT=4",
			expected: model.RecurrenceRule{
				Frequency: model.FrequencyWeekly,
				Interval:  1,
				ByWeekday: []model.Weekday{model.Monday, model.Wednesday},
				Count:     4,
			},
		},
		{
			name:     "interval defaults to one",
			input:    "FREQ=DAILY",
			expected: model.RecurrenceRule{Frequency: model.FrequencyDaily, Interval: 1},
		},
		{
			name:     "rrule prefix and lower case",
			input:    "RRULE:freq=monthly;interval=2",
			expected: model.RecurrenceRule{Frequency: model.FrequencyMonthly, Interval: 2},
		},
		{
			name:     "until in basic form",
			input:    "FREQ=YEARLY;UNTIL=20240301T000000Z",
			expected: model.RecurrenceRule{Frequency: model.FrequencyYearly, Interval: 1, Until: &until},
		},
		{
			name:     "until in RFC 3339",
			input:    "FREQ=YEARLY;UNTIL=2024-03-01T09:00:00+09:00",
			expected: model.RecurrenceRule{Frequency: model.FrequencyYearly, Interval: 1, Until: &until},
		},
		{
			name:  "byday sorted and deduplicated",
			input: "FREQ=WEEKLY;BYDAY=FR,MO,FR",
			expected: model.RecurrenceRule{
				Frequency: model.FrequencyWeekly,
				Interval:  1,
				ByWeekday: []model.Weekday{model.Monday, model.Friday},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected.Frequency, got.Frequency)
			assert.Equal(t, tt.expected.Interval, got.Interval)
			assert.Equal(t, tt.expected.ByWeekday, got.ByWeekday)
			assert.Equal(t, tt.expected.Count, got.Count)
			if tt.expected.Until == nil {
				assert.Nil(t, got.Until)
			} else {
				require.NotNil(t, got.Until)
				assert.True(t, tt.expected.Until.Equal(*got.Until), "until %s", got.Until)
			}
		})
	}
}

func TestParseErrors(t *testing.T) {
	inputs := []string{
		"",
		"INTERVAL=2",
		"FREQ=HOURLY",
		"FREQ=FORTNIGHTLY",
		"FREQ=WEEKLY;INTERVAL=0",
		"FREQ=WEEKLY;INTERVAL=-3",
		"FREQ=WEEKLY;COUNT=0",
		"FREQ=WEEKLY;BYDAY=XX",
		"FREQ=MONTHLY;BYDAY=1MO",
		"FREQ=MONTHLY;BYSETPOS=1",
		"FREQ=DAILY;FREQ=WEEKLY",
		"FREQ=DAILY;UNTIL=yesterday-ish",
		"FREQ",
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			_, err := Parse(in)
			require.Error(t, err)
			var pe *ParseError
			assert.True(t, errors.As(err, &pe))
		})
	}
}

func TestFormatRoundTrip(t *testing.T) {
	until := time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)
	in := model.RecurrenceRule{
		Frequency: model.FrequencyWeekly,
		Interval:  2,
		ByWeekday: []model.Weekday{model.Tuesday, model.Thursday},
		Until:     &until,
	}

	text, err := Format(in)
	require.NoError(t, err)
	assert.Contains(t, text, "FREQ=WEEKLY")
	assert.Contains(t, text, "INTERVAL=2")
	assert.Contains(t, text, "BYDAY=TU,TH")
	assert.Contains(t, text, "UNTIL=20250630T120000Z")

	back, err := Parse(text)
	require.NoError(t, err)
	assert.Equal(t, in.Frequency, back.Frequency)
	assert.Equal(t, in.Interval, back.Interval)
	assert.Equal(t, in.ByWeekday, back.ByWeekday)
	require.NotNil(t, back.Until)
	assert.True(t, until.Equal(*back.Until))
}

func TestFormatRejectsUnknownFrequency(t *testing.T) {
	_, err := Format(model.RecurrenceRule{Frequency: "hourly"})
	assert.Error(t, err)
}
