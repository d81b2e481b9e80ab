package ics

import (
	"strings"
	"time"

	ical "github.com/arran4/golang-ical"
	"github.com/google/uuid"

	"schedcal/internal/model"
)

const productID = "-//schedcal//occurrences//EN"

// uidNamespace scopes exported UIDs so they stay stable across exports.
var uidNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:schedcal:occurrence"))

// OccurrenceUID derives a deterministic UID from the occurrence identity
// (source event id and original start), so a moved instance keeps its UID.
func OccurrenceUID(o model.EventOccurrence) string {
	orig := o.OriginalStart
	if orig.IsZero() {
		orig = o.Start
	}
	name := o.SourceEventID + "|" + orig.UTC().Format(time.RFC3339Nano)
	return uuid.NewSHA1(uidNamespace, []byte(name)).String()
}

// Export renders projected occurrences as a flat VCALENDAR. Each
// occurrence becomes its own VEVENT with no RRULE.
func Export(name string, occs []model.EventOccurrence, stamp time.Time) string {
	cal := ical.NewCalendar()
	cal.SetMethod(ical.MethodPublish)
	cal.SetProductId(productID)
	if name != "" {
		cal.SetXWRCalName(name)
	}

	for _, o := range occs {
		ev := cal.AddEvent(OccurrenceUID(o))
		ev.SetDtStampTime(stamp)
		if o.AllDay {
			ev.SetAllDayStartAt(o.Start)
			ev.SetAllDayEndAt(o.End)
		} else {
			ev.SetStartAt(o.Start)
			ev.SetEndAt(o.End)
		}
		ev.SetSummary(o.Title)
		if o.Description != "" {
			ev.SetDescription(o.Description)
		}
		if o.Location != "" {
			ev.SetLocation(o.Location)
		}
		ev.SetProperty(ical.ComponentPropertyStatus, statusToICS(o.EffectiveStatus))
		if len(o.TargetRoles) > 0 {
			rs := make([]string, len(o.TargetRoles))
			for i, r := range o.TargetRoles {
				rs[i] = string(r)
			}
			ev.SetProperty(ical.ComponentPropertyCategories, strings.Join(rs, ","))
		}
		for _, id := range o.ParticipantIDs {
			ev.AddAttendee(id)
		}
		if o.Color != "" {
			ev.SetProperty(ical.ComponentProperty("COLOR"), o.Color)
		}
	}

	return cal.Serialize()
}
