package model

import "time"

type BookingStatus string

const (
	StatusPending            BookingStatus = "PENDING"
	StatusAccepted           BookingStatus = "ACCEPTED"
	StatusRejected           BookingStatus = "REJECTED"
	StatusCancelled          BookingStatus = "CANCELLED"
	StatusRescheduleProposed BookingStatus = "RESCHEDULE_PROPOSED"
)

// Terminal reports whether no further transition is allowed from s.
// ACCEPTED bookings can still be cancelled or rescheduled.
func (s BookingStatus) Terminal() bool {
	return s == StatusRejected || s == StatusCancelled
}

// Booking is a confirmed or requested meeting between a host and a guest.
// StartAt/EndAt are absolute UTC instants forming a half-open interval.
// Bookings are never deleted; terminal rows are kept for history.
type Booking struct {
	ID              string
	HostID          string
	GuestID         *string
	StartAt         time.Time
	EndAt           time.Time
	Status          BookingStatus
	DurationMinutes int
	BookingTypeID   string
	ProposedStartAt *time.Time
	ProposedEndAt   *time.Time
	CancelledAt     *time.Time
	CreatedAt       time.Time
}

// BookingType is a per-host template tag carried on bookings. It has no
// scheduling semantics of its own.
type BookingType struct {
	ID          string
	HostID      string
	Name        string
	Description string
	Active      bool
	CreatedAt   time.Time
}
