package availability

import (
	"fmt"
	"time"

	"slotwise/internal/model"
)

type ViewKind string

const (
	ViewWeek  ViewKind = "week"
	ViewMonth ViewKind = "month"
)

// ViewRange resolves a view request into an absolute half-open UTC window.
//
// The anchor date is interpreted in the viewer's timezone; week windows
// start on the Monday of the ISO week containing the anchor, month windows
// on the first of the month. An unparsable anchor falls back to now, an
// unloadable timezone to UTC. This is the only place the viewer timezone
// matters; slot generation runs entirely in the host's timezone.
func ViewRange(kind ViewKind, anchorDate, viewerTZ string, now time.Time) (Interval, error) {
	loc := time.UTC
	if viewerTZ != "" {
		if l, err := time.LoadLocation(viewerTZ); err == nil {
			loc = l
		}
	}

	anchor := now.In(loc)
	if anchorDate != "" {
		if t, err := time.ParseInLocation(model.DateLayout, anchorDate, loc); err == nil {
			anchor = t
		}
	}

	switch kind {
	case ViewMonth:
		from := time.Date(anchor.Year(), anchor.Month(), 1, 0, 0, 0, 0, loc)
		return Interval{Start: from.UTC(), End: from.AddDate(0, 1, 0).UTC()}, nil
	case ViewWeek, "":
		day := time.Date(anchor.Year(), anchor.Month(), anchor.Day(), 0, 0, 0, 0, loc)
		monday := day.AddDate(0, 0, -((int(day.Weekday()) + 6) % 7))
		return Interval{Start: monday.UTC(), End: monday.AddDate(0, 0, 7).UTC()}, nil
	default:
		return Interval{}, fmt.Errorf("unknown view kind %q", kind)
	}
}
