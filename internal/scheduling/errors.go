package scheduling

import "errors"

// Scheduling-domain failures are expected, retryable conditions returned as
// typed values; only repository/transport failures propagate as opaque errors.
var (
	ErrRuleNotFound       = errors.New("availability rule not found")
	ErrBookingNotFound    = errors.New("booking not found")
	ErrInvalidDuration    = errors.New("duration not offered by host")
	ErrInvalidBookingType = errors.New("booking type unknown or inactive")
	ErrInvalidTime        = errors.New("invalid time")
	ErrSlotUnavailable    = errors.New("slot unavailable")
	ErrHostOverlap        = errors.New("host already booked in this interval")
	ErrGuestOverlap       = errors.New("guest already booked in this interval")
	ErrNotHost            = errors.New("actor is not the host")
	ErrNotAllowed         = errors.New("actor may not modify this booking")
	ErrStatusConflict     = errors.New("illegal booking status transition")
)

// ErrorCode returns the wire code for a scheduling error, or "" for
// unexpected failures.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrRuleNotFound):
		return "RULE_NOT_FOUND"
	case errors.Is(err, ErrBookingNotFound):
		return "BOOKING_NOT_FOUND"
	case errors.Is(err, ErrInvalidDuration):
		return "INVALID_DURATION"
	case errors.Is(err, ErrInvalidBookingType):
		return "INVALID_BOOKING_TYPE"
	case errors.Is(err, ErrInvalidTime):
		return "INVALID_TIME"
	case errors.Is(err, ErrSlotUnavailable):
		return "SLOT_UNAVAILABLE"
	case errors.Is(err, ErrHostOverlap):
		return "HOST_OVERLAP"
	case errors.Is(err, ErrGuestOverlap):
		return "GUEST_OVERLAP"
	case errors.Is(err, ErrNotHost):
		return "NOT_HOST"
	case errors.Is(err, ErrNotAllowed):
		return "NOT_ALLOWED"
	case errors.Is(err, ErrStatusConflict):
		return "STATUS_CONFLICT"
	}
	return ""
}
