package ics

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"

	appLog "schedcal/internal/log"
	"schedcal/internal/model"
	"schedcal/internal/rule"
)

// ParseResult is what one ICS payload contributes to the event store.
type ParseResult struct {
	Events     []model.Event
	Exceptions []model.Exception
	// Skipped lists VEVENTs that could not be mapped. They never abort the
	// rest of the payload.
	Skipped []model.SkippedEvent
}

// Parser maps VEVENTs onto model events.
//
//   - DTSTART/DTEND with TZID or UTC use the library's timezone handling.
//   - Floating date-times and all-day dates are placed in Location.
//   - RRULE goes through rule.Parse, so only the supported subset loads.
//   - EXDATE becomes a cancellation exception.
//   - A VEVENT carrying RECURRENCE-ID becomes an override exception.
type Parser struct {
	Location *time.Location
}

func NewParser(loc *time.Location) *Parser {
	if loc == nil {
		loc = time.UTC
	}
	return &Parser{Location: loc}
}

// Parse parses a single ICS payload.
func (p *Parser) Parse(src Source, body []byte) (ParseResult, error) {
	var res ParseResult
	if len(body) == 0 {
		return res, errors.New("empty ICS body")
	}

	cal, err := ical.ParseCalendar(bytes.NewReader(body))
	if err != nil {
		appLog.Error("ics parse failed", err, "id", src.ID, "url", redactURL(src.URL))
		return res, err
	}

	for _, ve := range cal.Events() {
		id, err := eventID(src, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "id", src.ID, "reason", err.Error())
			res.Skipped = append(res.Skipped, model.SkippedEvent{Reason: err.Error()})
			continue
		}

		if rid := ve.GetProperty("RECURRENCE-ID"); rid != nil {
			x, err := p.override(id, ve, rid)
			if err != nil {
				appLog.Warn("ics override skipped", "event_id", id, "reason", err.Error())
				res.Skipped = append(res.Skipped, model.SkippedEvent{EventID: id, Reason: err.Error()})
				continue
			}
			res.Exceptions = append(res.Exceptions, x)
			continue
		}

		ev, exdates, err := p.event(src, id, ve)
		if err != nil {
			appLog.Warn("ics vevent skipped", "event_id", id, "reason", err.Error())
			res.Skipped = append(res.Skipped, model.SkippedEvent{EventID: id, Reason: err.Error()})
			continue
		}
		res.Events = append(res.Events, ev)
		for _, t := range exdates {
			res.Exceptions = append(res.Exceptions, model.Exception{SourceEventID: id, OriginalStart: t})
		}
	}

	appLog.Info("ics parse completed",
		"id", src.ID,
		"url", redactURL(src.URL),
		"event_count", len(res.Events),
		"exception_count", len(res.Exceptions),
		"skipped", len(res.Skipped),
	)
	return res, nil
}

// eventID namespaces the UID with the source id so feeds cannot collide.
func eventID(src Source, ve *ical.VEvent) (string, error) {
	uidProp := ve.GetProperty(ical.ComponentPropertyUniqueId)
	if uidProp == nil || uidProp.Value == "" {
		return "", errors.New("missing UID")
	}
	if src.ID == "" {
		return uidProp.Value, nil
	}
	return src.ID + "/" + uidProp.Value, nil
}

func (p *Parser) event(src Source, id string, ve *ical.VEvent) (model.Event, []time.Time, error) {
	ev := model.Event{
		ID:             id,
		Title:          propValue(ve, ical.ComponentPropertySummary),
		Description:    propValue(ve, ical.ComponentPropertyDescription),
		Location:       propValue(ve, ical.ComponentPropertyLocation),
		Status:         statusFromICS(propValue(ve, ical.ComponentPropertyStatus)),
		TargetRoles:    roles(src, ve),
		ParticipantIDs: attendees(ve),
	}

	start, end, allDay, err := p.span(ve)
	if err != nil {
		return ev, nil, err
	}
	ev.Start, ev.End, ev.AllDay = start, end, allDay

	if rr := ve.GetProperty(ical.ComponentPropertyRrule); rr != nil {
		r, err := rule.Parse(rr.Value)
		if err != nil {
			return ev, nil, err
		}
		ev.Recurrence = &r
	}

	if err := ev.Validate(); err != nil {
		return ev, nil, err
	}

	var exdates []time.Time
	for _, prop := range ve.GetProperties(ical.ComponentPropertyExdate) {
		loc := p.propLocation(prop)
		for _, part := range strings.Split(prop.Value, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			t, err := parseICSTime(part, loc)
			if err != nil {
				appLog.Warn("ics exdate ignored", "event_id", id, "value", part)
				continue
			}
			exdates = append(exdates, t)
		}
	}
	return ev, exdates, nil
}

func (p *Parser) override(id string, ve *ical.VEvent, rid *ical.IANAProperty) (model.Exception, error) {
	original, err := parseICSTime(rid.Value, p.propLocation(rid))
	if err != nil {
		return model.Exception{}, fmt.Errorf("bad RECURRENCE-ID %q: %w", rid.Value, err)
	}
	x := model.Exception{SourceEventID: id, OriginalStart: original}

	status := statusFromICS(propValue(ve, ical.ComponentPropertyStatus))
	if status == model.StatusCancelled {
		return x, nil
	}

	start, end, _, err := p.span(ve)
	if err != nil {
		return x, err
	}
	if !end.After(start) {
		return x, fmt.Errorf("override for %s ends before it starts", original.Format(time.RFC3339))
	}
	x.Override = &model.Override{
		Start:       start,
		End:         end,
		Title:       propValue(ve, ical.ComponentPropertySummary),
		Description: propValue(ve, ical.ComponentPropertyDescription),
		Location:    propValue(ve, ical.ComponentPropertyLocation),
	}
	if status != "" {
		x.Override.Status = &status
	}
	return x, nil
}

// span resolves DTSTART/DTEND. An all-day event without DTEND lasts one day.
func (p *Parser) span(ve *ical.VEvent) (time.Time, time.Time, bool, error) {
	dtStart := ve.GetProperty(ical.ComponentPropertyDtStart)
	if dtStart == nil {
		return time.Time{}, time.Time{}, false, errors.New("missing DTSTART")
	}
	allDay := isDateValue(dtStart)

	if allDay {
		start, err := parseICSTime(dtStart.Value, p.Location)
		if err != nil {
			return time.Time{}, time.Time{}, true, err
		}
		end := start.AddDate(0, 0, 1)
		if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
			if t, err := parseICSTime(dtEnd.Value, p.Location); err == nil {
				end = t
			}
		}
		return start, end, true, nil
	}

	start, err := p.timeProp(dtStart, ve.GetStartAt)
	if err != nil {
		return time.Time{}, time.Time{}, false, err
	}
	var end time.Time
	if dtEnd := ve.GetProperty(ical.ComponentPropertyDtEnd); dtEnd != nil {
		end, err = p.timeProp(dtEnd, ve.GetEndAt)
		if err != nil {
			return time.Time{}, time.Time{}, false, err
		}
	}
	return start, end, false, nil
}

// timeProp uses the library helper for TZID and UTC values, and the
// parser's location for floating ones.
func (p *Parser) timeProp(prop *ical.IANAProperty, get func() (time.Time, error)) (time.Time, error) {
	if _, ok := prop.ICalParameters["TZID"]; ok || strings.HasSuffix(prop.Value, "Z") {
		return get()
	}
	return parseICSTime(prop.Value, p.Location)
}

func (p *Parser) propLocation(prop *ical.IANAProperty) *time.Location {
	if tzs, ok := prop.ICalParameters["TZID"]; ok && len(tzs) > 0 {
		if loc, err := time.LoadLocation(tzs[0]); err == nil {
			return loc
		}
	}
	return p.Location
}

// isDateValue detects all-day values: VALUE=DATE or no 'T' in the value.
func isDateValue(prop *ical.IANAProperty) bool {
	if vs, ok := prop.ICalParameters["VALUE"]; ok && len(vs) > 0 && strings.EqualFold(vs[0], "DATE") {
		return true
	}
	return !strings.Contains(prop.Value, "T")
}

func propValue(ve *ical.VEvent, name ical.ComponentProperty) string {
	if p := ve.GetProperty(name); p != nil {
		return p.Value
	}
	return ""
}

func statusFromICS(v string) model.Status {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "CONFIRMED":
		return model.StatusConfirmed
	case "TENTATIVE":
		return model.StatusPending
	case "CANCELLED":
		return model.StatusCancelled
	}
	return ""
}

func statusToICS(s model.Status) string {
	switch s {
	case model.StatusPending:
		return "TENTATIVE"
	case model.StatusCancelled:
		return "CANCELLED"
	}
	return "CONFIRMED"
}

// roles merges the feed's roles with the event's CATEGORIES, keeping
// first-seen order.
func roles(src Source, ve *ical.VEvent) []model.Role {
	seen := make(map[model.Role]bool)
	var out []model.Role
	add := func(r string) {
		r = strings.TrimSpace(r)
		if r == "" || seen[model.Role(r)] {
			return
		}
		seen[model.Role(r)] = true
		out = append(out, model.Role(r))
	}
	for _, r := range src.Roles {
		add(r)
	}
	for _, prop := range ve.GetProperties(ical.ComponentPropertyCategories) {
		for _, r := range strings.Split(prop.Value, ",") {
			add(r)
		}
	}
	return out
}

func attendees(ve *ical.VEvent) []string {
	var out []string
	for _, a := range ve.Attendees() {
		if email := a.Email(); email != "" {
			out = append(out, email)
		}
	}
	return out
}

// parseICSTime parses a basic ICS date/date-time string. Floating and
// date-only values are placed in loc.
func parseICSTime(v string, loc *time.Location) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, errors.New("empty time value")
	}

	// UTC form, e.g., 20250101T090000Z
	if strings.HasSuffix(v, "Z") {
		const layout = "20060102T150405Z"
		return time.Parse(layout, v)
	}

	// Local date-time, e.g., 20250101T090000
	if strings.Contains(v, "T") {
		const layout = "20060102T150405"
		return time.ParseInLocation(layout, v, loc)
	}

	// Date-only (all-day), e.g., 20250101
	const layoutDate = "20060102"
	return time.ParseInLocation(layoutDate, v, loc)
}
