package scheduling

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"slotwise/internal/model"
)

func bookingFixture(t *testing.T, bufferMinutes int) (*MemoryRepository, *Service) {
	t.Helper()
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", bufferMinutes)); err != nil {
		t.Fatal(err)
	}
	mustCreateType(t, repo, "h1", "bt1", "Intro call", true)
	return repo, newTestService(repo, testMonday)
}

func guest(id string) *string { return &id }

func TestRequestBooking_Success(t *testing.T) {
	repo, svc := bookingFixture(t, 0)

	b, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err != nil {
		t.Fatal(err)
	}
	if b.Status != model.StatusPending {
		t.Fatalf("expected PENDING, got %s", b.Status)
	}
	if !b.EndAt.Equal(b.StartAt.Add(15 * time.Minute)) {
		t.Fatalf("end mismatch: %s", b.EndAt)
	}

	events := repo.Events()
	if len(events) != 1 || events[0].Type != "booking.requested.v1" {
		t.Fatalf("expected booking.requested.v1, got %+v", events)
	}
	var payload map[string]any
	if err := json.Unmarshal(events[0].Payload, &payload); err != nil {
		t.Fatal(err)
	}
	if payload["booking_id"] != b.ID || payload["host_id"] != "h1" {
		t.Fatalf("unexpected payload: %v", payload)
	}
}

func TestRequestBooking_RejectsDurationNotInRule(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	_, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(540 * time.Minute), DurationMinutes: 20, BookingTypeID: "bt1",
	})
	if !errors.Is(err, ErrInvalidDuration) {
		t.Fatalf("expected ErrInvalidDuration, got %v", err)
	}
}

func TestRequestBooking_RejectsInactiveBookingType(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	mustCreateType(t, repo, "h1", "bt2", "Retired", false)
	_, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt2",
	})
	if !errors.Is(err, ErrInvalidBookingType) {
		t.Fatalf("expected ErrInvalidBookingType, got %v", err)
	}
}

func TestRequestBooking_RejectsOffGridStart(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	_, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(547 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestRequestBooking_RejectsOutsideWorkingHours(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	_, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(720 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestRequestBooking_MultiCellDuration(t *testing.T) {
	// 30 minutes on a 15-minute grid needs two consecutive free cells.
	repo, svc := bookingFixture(t, 0)

	if _, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(570 * time.Minute), DurationMinutes: 30, BookingTypeID: "bt1",
	}); err != nil {
		t.Fatalf("expected 09:30+30m to fit, got %v", err)
	}

	// Blackout 09:45-10:00 kills the second cell of a 09:30+30m request.
	_, err := repo.AddOverride(context.Background(), model.Override{
		ID: "ov1", HostID: "h1", Date: "2026-03-02", Kind: model.OverrideBlackout,
		Blocks: []model.Block{{StartMinute: 585, EndMinute: 600}},
	})
	if err != nil {
		t.Fatal(err)
	}
	_, err = svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g2"),
		Start: testMonday.Add(570 * time.Minute), DurationMinutes: 30, BookingTypeID: "bt1",
	})
	if !errors.Is(err, ErrSlotUnavailable) {
		t.Fatalf("expected ErrSlotUnavailable, got %v", err)
	}
}

func TestRequestBooking_GuestDoubleBook(t *testing.T) {
	repoA, svc := bookingFixture(t, 0)
	// Second host with the same working hours; grid is free on h2's side.
	if err := repoA.SaveRule(context.Background(), hostRule("h2", 0)); err != nil {
		t.Fatal(err)
	}
	mustCreateType(t, repoA, "h2", "bt2", "Intro call", true)
	seedAcceptedBooking(t, repoA, "b1", "h1", "g1",
		testMonday.Add(540*time.Minute), testMonday.Add(555*time.Minute))

	_, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h2", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt2",
	})
	if !errors.Is(err, ErrGuestOverlap) {
		t.Fatalf("expected ErrGuestOverlap, got %v", err)
	}
}

func TestAcceptBooking_HappyPath(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	b, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err != nil {
		t.Fatal(err)
	}

	accepted, err := svc.AcceptBooking(context.Background(), b.ID, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if accepted.Status != model.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", accepted.Status)
	}

	events := repo.Events()
	if len(events) != 2 || events[1].Type != "booking.accepted.v1" {
		t.Fatalf("expected booking.accepted.v1, got %+v", events)
	}
}

func TestAcceptBooking_IdempotentReaccept(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if _, err := svc.AcceptBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	before := len(repo.Events())

	again, err := svc.AcceptBooking(context.Background(), b.ID, "h1")
	if err != nil {
		t.Fatalf("re-accept must succeed, got %v", err)
	}
	if again.Status != model.StatusAccepted {
		t.Fatalf("expected ACCEPTED, got %s", again.Status)
	}
	if len(repo.Events()) != before {
		t.Fatal("idempotent re-accept must not emit another event")
	}
}

func TestAcceptBooking_FromTerminalFails(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err := svc.RejectBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AcceptBooking(context.Background(), b.ID, "h1"); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestAcceptBooking_NotHost(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if _, err := svc.AcceptBooking(context.Background(), b.ID, "someone-else"); !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestAcceptBooking_ConflictDetectedAtCommit(t *testing.T) {
	// Two PENDING requests for the same slot can coexist; the guard runs
	// again at accept time and the second accept loses.
	_, svc := bookingFixture(t, 0)
	start := testMonday.Add(540 * time.Minute)
	b1, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"), Start: start, DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err != nil {
		t.Fatal(err)
	}
	b2, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g2"), Start: start, DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AcceptBooking(context.Background(), b1.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AcceptBooking(context.Background(), b2.ID, "h1"); !errors.Is(err, ErrHostOverlap) {
		t.Fatalf("expected ErrHostOverlap, got %v", err)
	}
}

func TestAcceptBooking_BufferConflictAtCommit(t *testing.T) {
	// Adjacent slots do not overlap raw, but a 10-minute buffer makes the
	// second accept collide with the first booking's protected span.
	_, svc := bookingFixture(t, 10)
	b1, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(550 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err != nil {
		t.Fatal(err)
	}
	b2, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g2"),
		Start: testMonday.Add(565 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err != nil {
		t.Fatal(err)
	}

	if _, err := svc.AcceptBooking(context.Background(), b1.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AcceptBooking(context.Background(), b2.ID, "h1"); !errors.Is(err, ErrHostOverlap) {
		t.Fatalf("expected buffer-expanded ErrHostOverlap, got %v", err)
	}
}

func TestRejectBooking(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})

	if err := svc.RejectBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetBooking(context.Background(), b.ID)
	if got.Status != model.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", got.Status)
	}

	// Idempotent re-reject.
	if err := svc.RejectBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatalf("re-reject must succeed, got %v", err)
	}
}

func TestRejectBooking_FromCancelledFails(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err := svc.CancelBooking(context.Background(), b.ID, "g1"); err != nil {
		t.Fatal(err)
	}
	if err := svc.RejectBooking(context.Background(), b.ID, "h1"); !errors.Is(err, ErrStatusConflict) {
		t.Fatalf("expected ErrStatusConflict, got %v", err)
	}
}

func TestCancelBooking_GuestAndHost(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})

	if err := svc.CancelBooking(context.Background(), b.ID, "stranger"); !errors.Is(err, ErrNotAllowed) {
		t.Fatalf("expected ErrNotAllowed, got %v", err)
	}
	if err := svc.CancelBooking(context.Background(), b.ID, "g1"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetBooking(context.Background(), b.ID)
	if got.Status != model.StatusCancelled {
		t.Fatalf("expected CANCELLED, got %s", got.Status)
	}
	if err := svc.CancelBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatalf("re-cancel must succeed, got %v", err)
	}
}

func TestCancelBooking_FreesTheSlot(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	start := testMonday.Add(540 * time.Minute)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"), Start: start, DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if _, err := svc.AcceptBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatal(err)
	}

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 3 {
		t.Fatalf("expected 3 slots while booked, got %d", len(got.Slots))
	}

	if err := svc.CancelBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	got, err = svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 4 {
		t.Fatalf("expected slot back after cancel, got %d", len(got.Slots))
	}
}

func TestProposeReschedule_Flow(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})

	newStart := testMonday.Add(570 * time.Minute)
	if err := svc.ProposeReschedule(context.Background(), b.ID, "h1", newStart, 0); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetBooking(context.Background(), b.ID)
	if got.Status != model.StatusRescheduleProposed {
		t.Fatalf("expected RESCHEDULE_PROPOSED, got %s", got.Status)
	}
	if got.ProposedStartAt == nil || !got.ProposedStartAt.Equal(newStart) {
		t.Fatalf("proposed interval not stored: %+v", got)
	}

	accepted, err := svc.AcceptBooking(context.Background(), b.ID, "h1")
	if err != nil {
		t.Fatal(err)
	}
	if !accepted.StartAt.Equal(newStart) || accepted.Status != model.StatusAccepted {
		t.Fatalf("expected acceptance at proposed time, got %+v", accepted)
	}
	if accepted.ProposedStartAt != nil {
		t.Fatal("proposed interval must be cleared on commit")
	}
}

func TestProposeReschedule_GuestCannotPropose(t *testing.T) {
	_, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	err := svc.ProposeReschedule(context.Background(), b.ID, "g1", testMonday.Add(570*time.Minute), 0)
	if !errors.Is(err, ErrNotHost) {
		t.Fatalf("expected ErrNotHost, got %v", err)
	}
}

func TestProposeReschedule_RejectAfterProposal(t *testing.T) {
	repo, svc := bookingFixture(t, 0)
	b, _ := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h1", GuestID: guest("g1"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt1",
	})
	if err := svc.ProposeReschedule(context.Background(), b.ID, "h1", testMonday.Add(570*time.Minute), 0); err != nil {
		t.Fatal(err)
	}
	if err := svc.RejectBooking(context.Background(), b.ID, "h1"); err != nil {
		t.Fatal(err)
	}
	got, _ := repo.GetBooking(context.Background(), b.ID)
	if got.Status != model.StatusRejected {
		t.Fatalf("expected REJECTED, got %s", got.Status)
	}
}

func TestAssertNoOverlap_UnrelatedPairAllowed(t *testing.T) {
	// Different host and different guest at the same wall time must not
	// interfere with each other.
	repo, svc := bookingFixture(t, 0)
	if err := repo.SaveRule(context.Background(), hostRule("h2", 0)); err != nil {
		t.Fatal(err)
	}
	mustCreateType(t, repo, "h2", "bt2", "Intro call", true)
	seedAcceptedBooking(t, repo, "b1", "h1", "g1",
		testMonday.Add(540*time.Minute), testMonday.Add(555*time.Minute))

	b, err := svc.RequestBooking(context.Background(), BookingRequest{
		HostID: "h2", GuestID: guest("g2"),
		Start: testMonday.Add(540 * time.Minute), DurationMinutes: 15, BookingTypeID: "bt2",
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AcceptBooking(context.Background(), b.ID, "h2"); err != nil {
		t.Fatalf("unrelated pair must book freely, got %v", err)
	}
}
