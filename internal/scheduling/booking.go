package scheduling

import (
	"context"
	"encoding/json"
	"time"

	"slotwise/internal/availability"
	"slotwise/internal/model"
)

type BookingRequest struct {
	HostID          string
	GuestID         *string
	Start           time.Time
	DurationMinutes int
	BookingTypeID   string
}

// RequestBooking validates a guest-initiated request against the host's
// rule and slot grid, then inserts it as PENDING. The overlap guard runs
// inside the same transaction as the insert; the slot list a client saw
// earlier is never trusted as the final word.
func (s *Service) RequestBooking(ctx context.Context, req BookingRequest) (*model.Booking, error) {
	rule, err := s.repo.GetRule(ctx, req.HostID)
	if err != nil {
		return nil, err
	}
	if !rule.Active {
		return nil, ErrSlotUnavailable
	}
	if req.Start.IsZero() {
		return nil, ErrInvalidTime
	}
	if !rule.DurationAllowed(req.DurationMinutes) {
		return nil, ErrInvalidDuration
	}

	bt, err := s.repo.GetBookingType(ctx, req.HostID, req.BookingTypeID)
	if err != nil {
		return nil, err
	}
	if !bt.Active {
		return nil, ErrInvalidBookingType
	}

	start := req.Start.UTC()
	end := start.Add(time.Duration(req.DurationMinutes) * time.Minute)
	if err := s.validateSlotForDuration(ctx, rule, start, req.DurationMinutes); err != nil {
		return nil, err
	}

	booking := &model.Booking{
		ID:              s.newID(),
		HostID:          req.HostID,
		GuestID:         req.GuestID,
		StartAt:         start,
		EndAt:           end,
		Status:          model.StatusPending,
		DurationMinutes: req.DurationMinutes,
		BookingTypeID:   req.BookingTypeID,
		CreatedAt:       s.now().UTC(),
	}

	err = s.repo.Transact(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := s.assertNoOverlap(ctx, tx, rule, req.GuestID, start, end, ""); err != nil {
			return err
		}
		if err := tx.InsertBooking(ctx, booking); err != nil {
			return err
		}
		return s.recordBookingEvent(ctx, tx, "booking.requested.v1", booking, start, end)
	})
	if err != nil {
		return nil, err
	}
	return booking, nil
}

// AcceptBooking flips a booking to ACCEPTED after re-running the overlap
// guard at commit time. Accepting an already-ACCEPTED booking is an
// idempotent success; accepting from a terminal state fails.
func (s *Service) AcceptBooking(ctx context.Context, bookingID, actorID string) (*model.Booking, error) {
	var accepted model.Booking
	err := s.repo.Transact(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.HostID {
			return ErrNotHost
		}

		switch b.Status {
		case model.StatusAccepted:
			accepted = b
			return nil

		case model.StatusPending:
			rule, err := tx.GetRule(ctx, b.HostID)
			if err != nil {
				return err
			}
			if err := s.assertNoOverlap(ctx, tx, rule, b.GuestID, b.StartAt, b.EndAt, b.ID); err != nil {
				return err
			}
			if err := tx.UpdateBookingStatus(ctx, b.ID, model.StatusAccepted, model.StatusPending); err != nil {
				return err
			}
			b.Status = model.StatusAccepted
			accepted = b
			return s.recordBookingEvent(ctx, tx, "booking.accepted.v1", &b, b.StartAt, b.EndAt)

		case model.StatusRescheduleProposed:
			if b.ProposedStartAt == nil || b.ProposedEndAt == nil {
				return ErrStatusConflict
			}
			start, end := *b.ProposedStartAt, *b.ProposedEndAt
			rule, err := tx.GetRule(ctx, b.HostID)
			if err != nil {
				return err
			}
			if err := s.assertNoOverlap(ctx, tx, rule, b.GuestID, start, end, b.ID); err != nil {
				return err
			}
			minutes := int(end.Sub(start) / time.Minute)
			if err := tx.CommitReschedule(ctx, b.ID, start, end, minutes); err != nil {
				return err
			}
			b.StartAt, b.EndAt = start, end
			b.DurationMinutes = minutes
			b.Status = model.StatusAccepted
			b.ProposedStartAt, b.ProposedEndAt = nil, nil
			accepted = b
			return s.recordBookingEvent(ctx, tx, "booking.accepted.v1", &b, start, end)

		default:
			return ErrStatusConflict
		}
	})
	if err != nil {
		return nil, err
	}
	return &accepted, nil
}

// RejectBooking is host-only and allowed from any non-terminal state.
// Rejecting an already-rejected booking is an idempotent success.
func (s *Service) RejectBooking(ctx context.Context, bookingID, actorID string) error {
	return s.repo.Transact(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.HostID {
			return ErrNotHost
		}
		switch b.Status {
		case model.StatusRejected:
			return nil
		case model.StatusPending, model.StatusRescheduleProposed:
			if err := tx.UpdateBookingStatus(ctx, b.ID, model.StatusRejected, b.Status); err != nil {
				return err
			}
			return s.recordBookingEvent(ctx, tx, "booking.rejected.v1", &b, b.StartAt, b.EndAt)
		default:
			return ErrStatusConflict
		}
	})
}

// CancelBooking is allowed for the host or the booking's guest, from any
// non-terminal state. Cancelling twice is an idempotent success.
func (s *Service) CancelBooking(ctx context.Context, bookingID, actorID string) error {
	return s.repo.Transact(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.HostID && (b.GuestID == nil || actorID != *b.GuestID) {
			return ErrNotAllowed
		}
		if b.Status == model.StatusCancelled {
			return nil
		}
		if b.Status.Terminal() {
			return ErrStatusConflict
		}
		if err := tx.UpdateBookingStatus(ctx, b.ID, model.StatusCancelled, b.Status); err != nil {
			return err
		}
		return s.recordBookingEvent(ctx, tx, "booking.cancelled.v1", &b, b.StartAt, b.EndAt)
	})
}

// ProposeReschedule lets the host offer a new interval for a PENDING or
// ACCEPTED booking. The proposal is validated like a fresh request; the
// overlap guard runs again when the proposal is accepted.
func (s *Service) ProposeReschedule(ctx context.Context, bookingID, actorID string, newStart time.Time, durationMinutes int) error {
	if newStart.IsZero() {
		return ErrInvalidTime
	}
	return s.repo.Transact(ctx, func(ctx context.Context, tx TxRepository) error {
		b, err := tx.GetBookingForUpdate(ctx, bookingID)
		if err != nil {
			return err
		}
		if actorID != b.HostID {
			return ErrNotHost
		}
		if b.Status != model.StatusPending && b.Status != model.StatusAccepted {
			return ErrStatusConflict
		}

		rule, err := tx.GetRule(ctx, b.HostID)
		if err != nil {
			return err
		}
		minutes := durationMinutes
		if minutes == 0 {
			minutes = b.DurationMinutes
		}
		if !rule.DurationAllowed(minutes) {
			return ErrInvalidDuration
		}
		start := newStart.UTC()
		end := start.Add(time.Duration(minutes) * time.Minute)
		if err := s.validateSlotForDuration(ctx, rule, start, minutes); err != nil {
			return err
		}
		if err := s.assertNoOverlap(ctx, tx, rule, b.GuestID, start, end, b.ID); err != nil {
			return err
		}
		if err := tx.ProposeReschedule(ctx, b.ID, start, end, minutes, b.Status); err != nil {
			return err
		}
		return s.recordBookingEvent(ctx, tx, "booking.reschedule_proposed.v1", &b, start, end)
	})
}

// assertNoOverlap verifies the candidate interval against ACCEPTED bookings
// for the host (buffer-expanded) and, when the guest is known, for the
// guest (raw intervals; the guest has no buffer policy of their own).
func (s *Service) assertNoOverlap(ctx context.Context, tx TxRepository, rule model.AvailabilityRule, guestID *string, start, end time.Time, ignoreID string) error {
	candidate := availability.Interval{Start: start, End: end}
	buffer := time.Duration(rule.BufferMinutes) * time.Minute

	hostBookings, err := tx.ListAcceptedHostBookings(ctx, rule.HostID, start.Add(-buffer), end.Add(buffer), ignoreID)
	if err != nil {
		return err
	}
	for _, b := range hostBookings {
		if candidate.Overlaps(availability.Interval{Start: b.StartAt, End: b.EndAt}.Expand(buffer)) {
			return ErrHostOverlap
		}
	}

	if guestID != nil {
		guestBookings, err := tx.ListAcceptedGuestBookings(ctx, *guestID, start, end, ignoreID)
		if err != nil {
			return err
		}
		for _, b := range guestBookings {
			if candidate.Overlaps(availability.Interval{Start: b.StartAt, End: b.EndAt}) {
				return ErrGuestOverlap
			}
		}
	}
	return nil
}

func (s *Service) recordBookingEvent(ctx context.Context, tx TxRepository, eventType string, b *model.Booking, start, end time.Time) error {
	guestID := ""
	if b.GuestID != nil {
		guestID = *b.GuestID
	}
	payload, err := json.Marshal(map[string]any{
		"booking_id":       b.ID,
		"host_id":          b.HostID,
		"guest_id":         guestID,
		"booking_type_id":  b.BookingTypeID,
		"start_at":         start.UTC().Format(time.RFC3339),
		"end_at":           end.UTC().Format(time.RFC3339),
		"duration_minutes": b.DurationMinutes,
	})
	if err != nil {
		return err
	}
	return tx.RecordEvent(ctx, Event{AggregateID: b.ID, Type: eventType, Payload: payload})
}
