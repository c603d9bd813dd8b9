package scheduling

import (
	"context"
	"time"

	"slotwise/internal/model"
)

// Event is a domain event recorded in the same transaction as the booking
// mutation that caused it. The storage layer forwards it to the outbox.
type Event struct {
	AggregateID string
	Type        string
	Payload     []byte
}

// Repository is the engine's only collaborator for persistent state.
// Read methods run at whatever isolation the store provides; mutations go
// through Transact so the overlap guard re-runs next to the write.
type Repository interface {
	GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error)
	EnsureRule(ctx context.Context, hostID string) (model.AvailabilityRule, error)
	SaveRule(ctx context.Context, rule model.AvailabilityRule) error
	SetRuleActive(ctx context.Context, hostID string, active bool) error

	// ListOverrides returns overrides whose host-local date falls in
	// [fromDate, toDate], both formatted as model.DateLayout.
	ListOverrides(ctx context.Context, hostID, fromDate, toDate string) ([]model.Override, error)
	AddOverride(ctx context.Context, ov model.Override) (string, error)

	ListBookingTypes(ctx context.Context, hostID string, activeOnly bool) ([]model.BookingType, error)
	GetBookingType(ctx context.Context, hostID, id string) (model.BookingType, error)
	CreateBookingType(ctx context.Context, bt model.BookingType) (string, error)

	// ListAcceptedBookings returns ACCEPTED bookings for the host whose
	// interval intersects [from, to).
	ListAcceptedBookings(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error)
	ListHostBookings(ctx context.Context, hostID string, limit int) ([]model.Booking, error)
	GetBooking(ctx context.Context, id string) (model.Booking, error)

	Transact(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error
}

// TxRepository is the transaction-scoped view used for race-sensitive work.
type TxRepository interface {
	GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error)
	GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error)
	ListAcceptedHostBookings(ctx context.Context, hostID string, from, to time.Time, ignoreID string) ([]model.Booking, error)
	ListAcceptedGuestBookings(ctx context.Context, guestID string, from, to time.Time, ignoreID string) ([]model.Booking, error)
	InsertBooking(ctx context.Context, b *model.Booking) error
	// UpdateBookingStatus flips id to next only when the current status is
	// expected; a mismatch reports ErrStatusConflict.
	UpdateBookingStatus(ctx context.Context, id string, next, expected model.BookingStatus) error
	// ProposeReschedule stores the proposed interval and moves the booking
	// to RESCHEDULE_PROPOSED from the expected status.
	ProposeReschedule(ctx context.Context, id string, start, end time.Time, durationMinutes int, expected model.BookingStatus) error
	// CommitReschedule replaces the live interval with the proposed one and
	// accepts the booking.
	CommitReschedule(ctx context.Context, id string, start, end time.Time, durationMinutes int) error
	RecordEvent(ctx context.Context, evt Event) error
}
