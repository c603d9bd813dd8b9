package availability

import (
	"time"

	"slotwise/internal/model"
)

// DaySlots walks one host-local calendar day's final blocks in slotMinutes
// steps and returns the surviving UTC slots in ascending order.
//
// day must be a midnight instant in the host's location. busy intervals are
// expected to be pre-expanded by the buffer on both ends. Slots starting
// before now and slots colliding with a busy interval are dropped. A block
// remainder shorter than one slot is simply not emitted.
func DaySlots(day time.Time, blocks []model.Block, slotMinutes int, busy []Interval, now time.Time) []Interval {
	if slotMinutes <= 0 {
		return nil
	}
	loc := day.Location()
	year, month, dom := day.Date()

	var out []Interval
	for _, b := range blocks {
		for t := b.StartMinute; t+slotMinutes <= b.EndMinute; t += slotMinutes {
			// time.Date normalizes minutes-from-midnight through DST
			// transitions, so each cell lands on the intended wall clock.
			start := time.Date(year, month, dom, 0, t, 0, 0, loc).UTC()
			end := time.Date(year, month, dom, 0, t+slotMinutes, 0, 0, loc).UTC()
			if start.Before(now) {
				continue
			}
			iv := Interval{Start: start, End: end}
			if OverlapsAny(iv, busy) {
				continue
			}
			out = append(out, iv)
		}
	}
	return out
}
