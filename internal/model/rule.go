package model

import "time"

// DurationEnum is the full set of meeting lengths (minutes) a rule may offer.
var DurationEnum = []int{5, 10, 15, 20, 30, 35, 40, 45, 50, 55, 60}

// Block is a contiguous local time-of-day interval on one calendar day,
// expressed as half-open minutes from midnight in the host's timezone.
type Block struct {
	StartMinute int `json:"start_minute"`
	EndMinute   int `json:"end_minute"`
}

func (b Block) Empty() bool {
	return b.EndMinute <= b.StartMinute
}

// AvailabilityRule is a host's weekly availability template.
type AvailabilityRule struct {
	HostID           string
	TimeZone         string
	Weekly           map[time.Weekday][]Block
	AllowedDurations []int
	BufferMinutes    int
	Active           bool
}

// SlotMinutes is the grid granularity: the smallest allowed duration.
func (r AvailabilityRule) SlotMinutes() int {
	min := 0
	for _, d := range r.AllowedDurations {
		if d > 0 && (min == 0 || d < min) {
			min = d
		}
	}
	return min
}

func (r AvailabilityRule) DurationAllowed(minutes int) bool {
	for _, d := range r.AllowedDurations {
		if d == minutes {
			return true
		}
	}
	return false
}

func (r AvailabilityRule) Location() (*time.Location, error) {
	if r.TimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(r.TimeZone)
}

// InDurationEnum reports whether minutes is a member of DurationEnum.
func InDurationEnum(minutes int) bool {
	for _, d := range DurationEnum {
		if d == minutes {
			return true
		}
	}
	return false
}

type OverrideKind string

const (
	OverrideBlackout OverrideKind = "blackout"
	OverrideExtra    OverrideKind = "extra"
)

// Override is a date-specific change layered on top of the weekly template.
// Extras add blocks, blackouts remove them; Closed voids the whole day.
// Date is a host-local calendar date formatted as 2006-01-02.
type Override struct {
	ID     string
	HostID string
	Date   string
	Kind   OverrideKind
	Closed bool
	Blocks []Block
}

const DateLayout = "2006-01-02"
