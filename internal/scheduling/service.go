package scheduling

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"slotwise/internal/availability"
	"slotwise/internal/model"
)

// Service is the scheduling engine. It is a pure function of its injected
// collaborators: repository, clock and id generator.
type Service struct {
	repo   Repository
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewService(repo Repository, logger *slog.Logger, now func() time.Time, newID func() string) *Service {
	if now == nil {
		now = time.Now
	}
	if newID == nil {
		newID = uuid.NewString
	}
	return &Service{repo: repo, logger: logger, now: now, newID: newID}
}

type ViewRequest struct {
	Kind           availability.ViewKind
	AnchorDate     string
	ViewerTimeZone string
}

// Availability is the slot list returned to callers, annotated with the
// host's scheduling metadata.
type Availability struct {
	HostID           string
	TimeZone         string
	SlotMinutes      int
	BufferMinutes    int
	AllowedDurations []int
	BookingTypes     []model.BookingType
	From             time.Time
	To               time.Time
	Slots            []availability.Interval
}

// ListAvailability computes every bookable slot for the host in the
// requested window. It is read-only and safe under any number of
// concurrent callers; the result is a snapshot and must be re-validated
// at booking time.
func (s *Service) ListAvailability(ctx context.Context, hostID string, req ViewRequest) (*Availability, error) {
	rule, err := s.repo.GetRule(ctx, hostID)
	if err != nil {
		return nil, err
	}

	window, err := availability.ViewRange(req.Kind, req.AnchorDate, req.ViewerTimeZone, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTime, err)
	}

	types, err := s.repo.ListBookingTypes(ctx, hostID, true)
	if err != nil {
		return nil, err
	}

	out := &Availability{
		HostID:           hostID,
		TimeZone:         rule.TimeZone,
		SlotMinutes:      rule.SlotMinutes(),
		BufferMinutes:    rule.BufferMinutes,
		AllowedDurations: rule.AllowedDurations,
		BookingTypes:     types,
		From:             window.Start,
		To:               window.End,
	}

	// Inactive rule: fail closed with an empty slot list, not an error.
	if !rule.Active {
		return out, nil
	}

	slots, err := s.slotsInWindow(ctx, rule, window)
	if err != nil {
		return nil, err
	}
	out.Slots = slots
	return out, nil
}

// slotsInWindow projects the UTC window onto host-local calendar days and
// runs the block pipeline (union, blackout subtraction, buffer shrink,
// grid walk) for each day.
func (s *Service) slotsInWindow(ctx context.Context, rule model.AvailabilityRule, window availability.Interval) ([]availability.Interval, error) {
	loc, err := rule.Location()
	if err != nil {
		return nil, fmt.Errorf("load host timezone %q: %w", rule.TimeZone, err)
	}

	buffer := time.Duration(rule.BufferMinutes) * time.Minute
	booked, err := s.repo.ListAcceptedBookings(ctx, rule.HostID, window.Start.Add(-buffer), window.End.Add(buffer))
	if err != nil {
		return nil, err
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, b := range booked {
		// Pre-expanded so the buffer protects both sides of an existing
		// commitment, not only newly generated slots.
		busy = append(busy, availability.Interval{Start: b.StartAt, End: b.EndAt}.Expand(buffer))
	}

	fromLocal := window.Start.In(loc)
	toLocal := window.End.In(loc)
	firstDay := time.Date(fromLocal.Year(), fromLocal.Month(), fromLocal.Day(), 0, 0, 0, 0, loc)
	lastInstant := window.End.Add(-time.Nanosecond).In(loc)

	overrides, err := s.repo.ListOverrides(ctx, rule.HostID,
		firstDay.Format(model.DateLayout), lastInstant.Format(model.DateLayout))
	if err != nil {
		return nil, err
	}
	byDate := make(map[string][]model.Override, len(overrides))
	for _, ov := range overrides {
		byDate[ov.Date] = append(byDate[ov.Date], ov)
	}

	now := s.now()
	var slots []availability.Interval
	for day := firstDay; day.Before(toLocal); day = day.AddDate(0, 0, 1) {
		for _, iv := range s.daySlots(rule, day, byDate[day.Format(model.DateLayout)], busy, now) {
			if iv.Start.Before(window.Start) || iv.End.After(window.End) {
				continue
			}
			slots = append(slots, iv)
		}
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots, nil
}

// daySlots resolves one host-local day's final blocks and walks the grid.
func (s *Service) daySlots(rule model.AvailabilityRule, day time.Time, overrides []model.Override, busy []availability.Interval, now time.Time) []availability.Interval {
	var extras, blackouts []model.Block
	for _, ov := range overrides {
		switch ov.Kind {
		case model.OverrideExtra:
			extras = append(extras, ov.Blocks...)
		case model.OverrideBlackout:
			if ov.Closed {
				return nil
			}
			blackouts = append(blackouts, ov.Blocks...)
		}
	}

	blocks := make([]model.Block, 0, len(rule.Weekly[day.Weekday()])+len(extras))
	blocks = append(blocks, rule.Weekly[day.Weekday()]...)
	blocks = append(blocks, extras...)
	blocks = availability.MergeBlocks(blocks)
	blocks = availability.SubtractBlocks(blocks, availability.MergeBlocks(blackouts))
	blocks = availability.ShrinkBlocks(blocks, rule.BufferMinutes)

	return availability.DaySlots(day, blocks, rule.SlotMinutes(), busy, now)
}

// validateSlotForDuration rebuilds the grid of the single host-local day
// containing startUTC and checks that every atomic cell needed to cover
// [start, start+duration) exists. This lets callers request durations
// larger than the grid size while still respecting buffers and blackouts
// cell by cell.
func (s *Service) validateSlotForDuration(ctx context.Context, rule model.AvailabilityRule, startUTC time.Time, durationMinutes int) error {
	loc, err := rule.Location()
	if err != nil {
		return fmt.Errorf("load host timezone %q: %w", rule.TimeZone, err)
	}
	slot := rule.SlotMinutes()
	if slot <= 0 {
		return ErrSlotUnavailable
	}

	local := startUTC.In(loc)
	day := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	dayEnd := day.AddDate(0, 0, 1)

	buffer := time.Duration(rule.BufferMinutes) * time.Minute
	booked, err := s.repo.ListAcceptedBookings(ctx, rule.HostID, day.UTC().Add(-buffer), dayEnd.UTC().Add(buffer))
	if err != nil {
		return err
	}
	busy := make([]availability.Interval, 0, len(booked))
	for _, b := range booked {
		busy = append(busy, availability.Interval{Start: b.StartAt, End: b.EndAt}.Expand(buffer))
	}

	dateStr := day.Format(model.DateLayout)
	overrides, err := s.repo.ListOverrides(ctx, rule.HostID, dateStr, dateStr)
	if err != nil {
		return err
	}

	grid := make(map[int64]struct{})
	for _, iv := range s.daySlots(rule, day, overrides, busy, s.now()) {
		grid[iv.Start.Unix()] = struct{}{}
	}

	steps := (durationMinutes + slot - 1) / slot
	for i := 0; i < steps; i++ {
		cell := startUTC.Add(time.Duration(i*slot) * time.Minute)
		if _, ok := grid[cell.Unix()]; !ok {
			return ErrSlotUnavailable
		}
	}
	return nil
}

// EnsureRule provisions the host's rule with defaults if missing. It is an
// explicit onboarding operation; reads never auto-provision.
func (s *Service) EnsureRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	return s.repo.EnsureRule(ctx, hostID)
}

func (s *Service) GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	return s.repo.GetRule(ctx, hostID)
}

// SaveRule validates and stores a host-authored rule.
func (s *Service) SaveRule(ctx context.Context, rule model.AvailabilityRule) error {
	if len(rule.AllowedDurations) == 0 {
		return ErrInvalidDuration
	}
	for _, d := range rule.AllowedDurations {
		if !model.InDurationEnum(d) {
			return fmt.Errorf("%w: %d minutes", ErrInvalidDuration, d)
		}
	}
	if rule.BufferMinutes < 0 {
		return fmt.Errorf("%w: negative buffer", ErrInvalidTime)
	}
	if _, err := rule.Location(); err != nil {
		return fmt.Errorf("%w: unknown timezone %q", ErrInvalidTime, rule.TimeZone)
	}
	for _, blocks := range rule.Weekly {
		for _, b := range blocks {
			if b.Empty() || b.StartMinute < 0 || b.EndMinute > 24*60 {
				return fmt.Errorf("%w: block [%d,%d)", ErrInvalidTime, b.StartMinute, b.EndMinute)
			}
		}
	}
	return s.repo.SaveRule(ctx, rule)
}

func (s *Service) AddOverride(ctx context.Context, ov model.Override) (string, error) {
	if _, err := time.Parse(model.DateLayout, ov.Date); err != nil {
		return "", fmt.Errorf("%w: date %q", ErrInvalidTime, ov.Date)
	}
	if ov.Kind != model.OverrideBlackout && ov.Kind != model.OverrideExtra {
		return "", fmt.Errorf("%w: override kind %q", ErrInvalidTime, ov.Kind)
	}
	for _, b := range ov.Blocks {
		if b.Empty() || b.StartMinute < 0 || b.EndMinute > 24*60 {
			return "", fmt.Errorf("%w: block [%d,%d)", ErrInvalidTime, b.StartMinute, b.EndMinute)
		}
	}
	if ov.ID == "" {
		ov.ID = s.newID()
	}
	return s.repo.AddOverride(ctx, ov)
}

func (s *Service) ListOverrides(ctx context.Context, hostID, fromDate, toDate string) ([]model.Override, error) {
	return s.repo.ListOverrides(ctx, hostID, fromDate, toDate)
}

func (s *Service) CreateBookingType(ctx context.Context, bt model.BookingType) (string, error) {
	if bt.ID == "" {
		bt.ID = s.newID()
	}
	return s.repo.CreateBookingType(ctx, bt)
}

func (s *Service) ListBookingTypes(ctx context.Context, hostID string, activeOnly bool) ([]model.BookingType, error) {
	return s.repo.ListBookingTypes(ctx, hostID, activeOnly)
}

func (s *Service) ListHostBookings(ctx context.Context, hostID string, limit int) ([]model.Booking, error) {
	return s.repo.ListHostBookings(ctx, hostID, limit)
}
