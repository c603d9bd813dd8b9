package scheduling

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"slotwise/internal/model"
)

var testMonday = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestService(repo Repository, now time.Time) *Service {
	n := 0
	newID := func() string {
		n++
		return fmt.Sprintf("id-%04d", n)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewService(repo, logger, func() time.Time { return now }, newID)
}

// hostRule is a Monday 09:00-10:00 UTC rule with a 15-minute grid.
func hostRule(hostID string, bufferMinutes int) model.AvailabilityRule {
	return model.AvailabilityRule{
		HostID:   hostID,
		TimeZone: "UTC",
		Weekly: map[time.Weekday][]model.Block{
			time.Monday: {{StartMinute: 540, EndMinute: 600}},
		},
		AllowedDurations: []int{15, 30},
		BufferMinutes:    bufferMinutes,
		Active:           true,
	}
}

func weekView() ViewRequest {
	return ViewRequest{Kind: "week", AnchorDate: "2026-03-02", ViewerTimeZone: "UTC"}
}

func TestListAvailability_RuleNotFound(t *testing.T) {
	svc := newTestService(NewMemoryRepository(), testMonday)
	if _, err := svc.ListAvailability(context.Background(), "h1", weekView()); err != ErrRuleNotFound {
		t.Fatalf("expected ErrRuleNotFound, got %v", err)
	}
}

func TestListAvailability_GridSize(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", 0)); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(got.Slots))
	}
	for i, mins := range []int{540, 555, 570, 585} {
		want := testMonday.Add(time.Duration(mins) * time.Minute)
		if !got.Slots[i].Start.Equal(want) {
			t.Fatalf("slot %d: expected %s, got %s", i, want, got.Slots[i].Start)
		}
	}
	if got.SlotMinutes != 15 || got.TimeZone != "UTC" || got.BufferMinutes != 0 {
		t.Fatalf("unexpected metadata: %+v", got)
	}
	if len(got.AllowedDurations) != 2 {
		t.Fatalf("expected allowed durations in metadata, got %v", got.AllowedDurations)
	}
}

func TestListAvailability_InactiveRuleFailsClosed(t *testing.T) {
	repo := NewMemoryRepository()
	rule := hostRule("h1", 0)
	rule.Active = false
	if err := repo.SaveRule(context.Background(), rule); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 0 {
		t.Fatalf("expected no slots for inactive rule, got %d", len(got.Slots))
	}
	if got.TimeZone != "UTC" {
		t.Fatal("metadata must still be returned")
	}
}

func TestListAvailability_BlackoutOverride(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", 0)); err != nil {
		t.Fatal(err)
	}
	_, err := repo.AddOverride(context.Background(), model.Override{
		ID: "ov1", HostID: "h1", Date: "2026-03-02", Kind: model.OverrideBlackout,
		Blocks: []model.Block{{StartMinute: 570, EndMinute: 585}},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 3 {
		t.Fatalf("expected 3 slots, got %d", len(got.Slots))
	}
	for i, mins := range []int{540, 555, 585} {
		want := testMonday.Add(time.Duration(mins) * time.Minute)
		if !got.Slots[i].Start.Equal(want) {
			t.Fatalf("slot %d: expected %s, got %s", i, want, got.Slots[i].Start)
		}
	}
}

func TestListAvailability_ClosedDay(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", 0)); err != nil {
		t.Fatal(err)
	}
	_, err := repo.AddOverride(context.Background(), model.Override{
		ID: "ov1", HostID: "h1", Date: "2026-03-02", Kind: model.OverrideBlackout, Closed: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 0 {
		t.Fatalf("expected closed day to void all slots, got %d", len(got.Slots))
	}
}

func TestListAvailability_ExtraOverrideMergesWithWeekly(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", 0)); err != nil {
		t.Fatal(err)
	}
	// Overlapping extra 09:30-10:30 merges with weekly 09:00-10:00 into a
	// single 09:00-10:30 block; no duplicate slots.
	_, err := repo.AddOverride(context.Background(), model.Override{
		ID: "ov1", HostID: "h1", Date: "2026-03-02", Kind: model.OverrideExtra,
		Blocks: []model.Block{{StartMinute: 570, EndMinute: 630}},
	})
	if err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 6 {
		t.Fatalf("expected 6 slots from merged block, got %d", len(got.Slots))
	}
	seen := map[int64]bool{}
	for _, s := range got.Slots {
		if seen[s.Start.Unix()] {
			t.Fatalf("duplicate slot at %s", s.Start)
		}
		seen[s.Start.Unix()] = true
	}
}

func TestListAvailability_BufferShrink(t *testing.T) {
	repo := NewMemoryRepository()
	rule := hostRule("h1", 10)
	if err := repo.SaveRule(context.Background(), rule); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	// [09:00,10:00) shrinks to [09:10,09:50); only two full 15m cells fit.
	if len(got.Slots) != 2 {
		t.Fatalf("expected 2 slots, got %d", len(got.Slots))
	}
	for i, mins := range []int{550, 565} {
		want := testMonday.Add(time.Duration(mins) * time.Minute)
		if !got.Slots[i].Start.Equal(want) {
			t.Fatalf("slot %d: expected %s, got %s", i, want, got.Slots[i].Start)
		}
	}
}

func TestListAvailability_BookedSlotsExcludedWithBuffer(t *testing.T) {
	repo := NewMemoryRepository()
	rule := hostRule("h1", 0)
	rule.BufferMinutes = 5
	if err := repo.SaveRule(context.Background(), rule); err != nil {
		t.Fatal(err)
	}
	// ACCEPTED booking 09:05-09:20; with a 5m buffer its protected span is
	// 09:00-09:25. Grid cells are 09:05, 09:20, 09:35; only 09:35 survives.
	seedAcceptedBooking(t, repo, "b1", "h1", "g1",
		testMonday.Add(545*time.Minute), testMonday.Add(560*time.Minute))
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	protected := struct{ start, end time.Time }{
		testMonday.Add(540 * time.Minute), testMonday.Add(565 * time.Minute),
	}
	for _, s := range got.Slots {
		if s.Start.Before(protected.end) && protected.start.Before(s.End) {
			t.Fatalf("slot %s intersects buffer-protected booking", s.Start)
		}
	}
	if len(got.Slots) != 1 || !got.Slots[0].Start.Equal(testMonday.Add(575*time.Minute)) {
		t.Fatalf("expected single surviving slot at 09:35, got %+v", got.Slots)
	}
}

func TestListAvailability_HostTimezone(t *testing.T) {
	repo := NewMemoryRepository()
	rule := hostRule("h1", 0)
	rule.TimeZone = "America/New_York"
	if err := repo.SaveRule(context.Background(), rule); err != nil {
		t.Fatal(err)
	}
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Slots) != 4 {
		t.Fatalf("expected 4 slots, got %d", len(got.Slots))
	}
	// Monday 09:00 EST == 14:00 UTC.
	want := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	if !got.Slots[0].Start.Equal(want) {
		t.Fatalf("expected %s, got %s", want, got.Slots[0].Start)
	}
}

func TestListAvailability_Idempotent(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", 0)); err != nil {
		t.Fatal(err)
	}
	seedAcceptedBooking(t, repo, "b1", "h1", "g1",
		testMonday.Add(540*time.Minute), testMonday.Add(555*time.Minute))
	svc := newTestService(repo, testMonday)

	first, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	second, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(first.Slots) != len(second.Slots) {
		t.Fatalf("slot counts differ: %d vs %d", len(first.Slots), len(second.Slots))
	}
	for i := range first.Slots {
		if !first.Slots[i].Start.Equal(second.Slots[i].Start) || !first.Slots[i].End.Equal(second.Slots[i].End) {
			t.Fatalf("slot %d differs between calls", i)
		}
	}
}

func TestListAvailability_ActiveBookingTypesInMetadata(t *testing.T) {
	repo := NewMemoryRepository()
	if err := repo.SaveRule(context.Background(), hostRule("h1", 0)); err != nil {
		t.Fatal(err)
	}
	mustCreateType(t, repo, "h1", "bt1", "Intro call", true)
	mustCreateType(t, repo, "h1", "bt2", "Retired", false)
	svc := newTestService(repo, testMonday)

	got, err := svc.ListAvailability(context.Background(), "h1", weekView())
	if err != nil {
		t.Fatal(err)
	}
	if len(got.BookingTypes) != 1 || got.BookingTypes[0].ID != "bt1" {
		t.Fatalf("expected only the active booking type, got %+v", got.BookingTypes)
	}
}

func TestEnsureRule_SeedsDefaults(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, testMonday)

	rule, err := svc.EnsureRule(context.Background(), "h1")
	if err != nil {
		t.Fatal(err)
	}
	if !rule.Active || rule.SlotMinutes() != 5 || rule.BufferMinutes != 0 {
		t.Fatalf("unexpected defaults: %+v", rule)
	}
	if len(rule.Weekly[time.Monday]) != 1 || len(rule.Weekly[time.Saturday]) != 0 {
		t.Fatalf("expected Mon-Fri template, got %+v", rule.Weekly)
	}

	again, err := svc.EnsureRule(context.Background(), "h1")
	if err != nil {
		t.Fatal(err)
	}
	if again.SlotMinutes() != rule.SlotMinutes() {
		t.Fatal("EnsureRule must be idempotent")
	}
}

func TestSaveRule_RejectsUnknownDuration(t *testing.T) {
	repo := NewMemoryRepository()
	svc := newTestService(repo, testMonday)
	rule := hostRule("h1", 0)
	rule.AllowedDurations = []int{25}
	if err := svc.SaveRule(context.Background(), rule); err == nil {
		t.Fatal("expected rejection of duration outside the enumeration")
	}
}

func seedAcceptedBooking(t *testing.T, repo *MemoryRepository, id, hostID, guestID string, start, end time.Time) {
	t.Helper()
	var guest *string
	if guestID != "" {
		guest = &guestID
	}
	err := repo.Transact(context.Background(), func(ctx context.Context, tx TxRepository) error {
		return tx.InsertBooking(ctx, &model.Booking{
			ID: id, HostID: hostID, GuestID: guest,
			StartAt: start, EndAt: end,
			Status:          model.StatusAccepted,
			DurationMinutes: int(end.Sub(start) / time.Minute),
			CreatedAt:       start,
		})
	})
	if err != nil {
		t.Fatal(err)
	}
}

func mustCreateType(t *testing.T, repo *MemoryRepository, hostID, id, name string, active bool) {
	t.Helper()
	_, err := repo.CreateBookingType(context.Background(), model.BookingType{
		ID: id, HostID: hostID, Name: name, Active: active,
	})
	if err != nil {
		t.Fatal(err)
	}
}
