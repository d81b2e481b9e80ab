// Package rule converts between the textual RRULE subset
// (FREQ, INTERVAL, BYDAY, COUNT, UNTIL) and model.RecurrenceRule.
package rule

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/teambition/rrule-go"

	"schedcal/internal/model"
)

// ParseError describes why an RRULE string could not be decoded.
type ParseError struct {
	Input string
	Field string
	Msg   string
}

func (e *ParseError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("rrule %q: %s", e.Input, e.Msg)
	}
	return fmt.Sprintf("rrule %q: %s: %s", e.Input, e.Field, e.Msg)
}

var supportedKeys = map[string]bool{
	"FREQ":     true,
	"INTERVAL": true,
	"BYDAY":    true,
	"COUNT":    true,
	"UNTIL":    true,
}

// Parse decodes an RRULE value such as
// "FREQ=WEEKLY;INTERVAL=1;BYDAY=MO,WE;COUNT=4". A leading "RRULE:" is
// tolerated. UNTIL accepts the RFC 5545 basic form or RFC 3339.
func Parse(text string) (model.RecurrenceRule, error) {
	var out model.RecurrenceRule

	raw := strings.TrimSpace(text)
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "RRULE:"), "rrule:")
	if raw == "" {
		return out, &ParseError{Input: text, Msg: "empty rule"}
	}

	seen := make(map[string]bool)
	parts := make([]string, 0, 5)
	for _, attr := range strings.Split(raw, ";") {
		if attr == "" {
			continue
		}
		key, value, ok := strings.Cut(attr, "=")
		if !ok || value == "" {
			return out, &ParseError{Input: text, Field: attr, Msg: "expected KEY=VALUE"}
		}
		key = strings.ToUpper(strings.TrimSpace(key))
		value = strings.ToUpper(strings.TrimSpace(value))
		if !supportedKeys[key] {
			return out, &ParseError{Input: text, Field: key, Msg: "unsupported property"}
		}
		if seen[key] {
			return out, &ParseError{Input: text, Field: key, Msg: "duplicate property"}
		}
		seen[key] = true

		switch key {
		case "INTERVAL", "COUNT":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return out, &ParseError{Input: text, Field: key, Msg: "must be a positive integer"}
			}
		case "UNTIL":
			v, err := normalizeUntil(value)
			if err != nil {
				return out, &ParseError{Input: text, Field: key, Msg: err.Error()}
			}
			value = v
		}
		parts = append(parts, key+"="+value)
	}
	if !seen["FREQ"] {
		return out, &ParseError{Input: text, Field: "FREQ", Msg: "required"}
	}

	opt, err := rrule.StrToROption(strings.Join(parts, ";"))
	if err != nil {
		return out, &ParseError{Input: text, Msg: err.Error()}
	}

	freq, ok := fromRRuleFreq(opt.Freq)
	if !ok {
		return out, &ParseError{Input: text, Field: "FREQ", Msg: fmt.Sprintf("unsupported frequency %v", opt.Freq)}
	}
	out.Frequency = freq
	out.Interval = 1
	if opt.Interval > 0 {
		out.Interval = opt.Interval
	}
	out.Count = opt.Count
	if !opt.Until.IsZero() {
		until := opt.Until.UTC()
		out.Until = &until
	}

	days := make(map[model.Weekday]bool)
	for _, wd := range opt.Byweekday {
		if wd.N() != 0 {
			return out, &ParseError{Input: text, Field: "BYDAY", Msg: "ordinal weekdays are not supported"}
		}
		day := model.Weekday(wd.Day() + 1)
		if !days[day] {
			days[day] = true
			out.ByWeekday = append(out.ByWeekday, day)
		}
	}
	sort.Slice(out.ByWeekday, func(i, j int) bool { return out.ByWeekday[i] < out.ByWeekday[j] })

	return out, nil
}

// Format encodes r in RRULE form. Interval 1 and empty fields are omitted.
func Format(r model.RecurrenceRule) (string, error) {
	freq, ok := toRRuleFreq(r.Frequency)
	if !ok {
		return "", fmt.Errorf("rrule format: unknown frequency %q", r.Frequency)
	}
	opt := rrule.ROption{
		Freq:  freq,
		Count: r.Count,
	}
	if r.Interval > 1 {
		opt.Interval = r.Interval
	}
	if r.Until != nil {
		opt.Until = r.Until.UTC()
	}
	for _, d := range r.ByWeekday {
		if !d.Valid() {
			return "", fmt.Errorf("rrule format: weekday %d out of range", int(d))
		}
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d-1])
	}
	return opt.RRuleString(), nil
}

// ToROption builds an rrule-go option anchored at dtstart, for callers
// that want the library's own iterator.
func ToROption(r model.RecurrenceRule, dtstart time.Time) (rrule.ROption, error) {
	freq, ok := toRRuleFreq(r.Frequency)
	if !ok {
		return rrule.ROption{}, fmt.Errorf("unknown frequency %q", r.Frequency)
	}
	opt := rrule.ROption{
		Freq:     freq,
		Dtstart:  dtstart,
		Interval: r.Interval,
		Count:    r.Count,
	}
	if r.Until != nil {
		opt.Until = *r.Until
	}
	for _, d := range r.ByWeekday {
		opt.Byweekday = append(opt.Byweekday, rruleWeekdays[d-1])
	}
	return opt, nil
}

var rruleWeekdays = [...]rrule.Weekday{rrule.MO, rrule.TU, rrule.WE, rrule.TH, rrule.FR, rrule.SA, rrule.SU}

func fromRRuleFreq(f rrule.Frequency) (model.Frequency, bool) {
	switch f {
	case rrule.DAILY:
		return model.FrequencyDaily, true
	case rrule.WEEKLY:
		return model.FrequencyWeekly, true
	case rrule.MONTHLY:
		return model.FrequencyMonthly, true
	case rrule.YEARLY:
		return model.FrequencyYearly, true
	}
	return "", false
}

func toRRuleFreq(f model.Frequency) (rrule.Frequency, bool) {
	switch f {
	case model.FrequencyDaily:
		return rrule.DAILY, true
	case model.FrequencyWeekly:
		return rrule.WEEKLY, true
	case model.FrequencyMonthly:
		return rrule.MONTHLY, true
	case model.FrequencyYearly:
		return rrule.YEARLY, true
	}
	return 0, false
}

// normalizeUntil rewrites an RFC 3339 instant into the basic UTC form the
// rrule parser expects. Basic forms pass through unchanged.
func normalizeUntil(v string) (string, error) {
	if !strings.Contains(v, "-") {
		return v, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return "", fmt.Errorf("not an RFC 3339 or RFC 5545 instant")
	}
	return t.UTC().Format("20060102T150405Z"), nil
}
