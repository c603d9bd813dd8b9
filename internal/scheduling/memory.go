package scheduling

import (
	"context"
	"sort"
	"sync"
	"time"

	"slotwise/internal/availability"
	"slotwise/internal/model"
)

// MemoryRepository is an in-process Repository used by unit tests and
// no-database development runs. Transact serializes on a single mutex,
// which gives the same effective isolation the engine expects from the
// SQL implementation.
type MemoryRepository struct {
	mu        sync.Mutex
	rules     map[string]model.AvailabilityRule
	overrides map[string][]model.Override
	types     map[string]map[string]model.BookingType
	bookings  map[string]model.Booking
	events    []Event
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		rules:     map[string]model.AvailabilityRule{},
		overrides: map[string][]model.Override{},
		types:     map[string]map[string]model.BookingType{},
		bookings:  map[string]model.Booking{},
	}
}

func (m *MemoryRepository) GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getRule(hostID)
}

func (m *MemoryRepository) getRule(hostID string) (model.AvailabilityRule, error) {
	rule, ok := m.rules[hostID]
	if !ok {
		return model.AvailabilityRule{}, ErrRuleNotFound
	}
	return rule, nil
}

func (m *MemoryRepository) EnsureRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rule, ok := m.rules[hostID]; ok {
		return rule, nil
	}
	rule := DefaultRule(hostID)
	m.rules[hostID] = rule
	return rule, nil
}

func (m *MemoryRepository) SaveRule(ctx context.Context, rule model.AvailabilityRule) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules[rule.HostID] = rule
	return nil
}

func (m *MemoryRepository) SetRuleActive(ctx context.Context, hostID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.rules[hostID]
	if !ok {
		return ErrRuleNotFound
	}
	rule.Active = active
	m.rules[hostID] = rule
	return nil
}

func (m *MemoryRepository) ListOverrides(ctx context.Context, hostID, fromDate, toDate string) ([]model.Override, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Override
	for _, ov := range m.overrides[hostID] {
		if ov.Date >= fromDate && ov.Date <= toDate {
			out = append(out, ov)
		}
	}
	return out, nil
}

func (m *MemoryRepository) AddOverride(ctx context.Context, ov model.Override) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides[ov.HostID] = append(m.overrides[ov.HostID], ov)
	return ov.ID, nil
}

func (m *MemoryRepository) ListBookingTypes(ctx context.Context, hostID string, activeOnly bool) ([]model.BookingType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.BookingType
	for _, bt := range m.types[hostID] {
		if activeOnly && !bt.Active {
			continue
		}
		out = append(out, bt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) GetBookingType(ctx context.Context, hostID, id string) (model.BookingType, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	bt, ok := m.types[hostID][id]
	if !ok {
		return model.BookingType{}, ErrInvalidBookingType
	}
	return bt, nil
}

func (m *MemoryRepository) CreateBookingType(ctx context.Context, bt model.BookingType) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.types[bt.HostID] == nil {
		m.types[bt.HostID] = map[string]model.BookingType{}
	}
	m.types[bt.HostID][bt.ID] = bt
	return bt.ID, nil
}

func (m *MemoryRepository) ListAcceptedBookings(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listAccepted(hostID, "", from, to, ""), nil
}

func (m *MemoryRepository) ListHostBookings(ctx context.Context, hostID string, limit int) ([]model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.Booking
	for _, b := range m.bookings {
		if b.HostID == hostID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.After(out[j].StartAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryRepository) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.bookings[id]
	if !ok {
		return model.Booking{}, ErrBookingNotFound
	}
	return b, nil
}

func (m *MemoryRepository) Transact(ctx context.Context, fn func(ctx context.Context, tx TxRepository) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return fn(ctx, &memTx{r: m})
}

// Events returns everything recorded through RecordEvent, oldest first.
func (m *MemoryRepository) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Event, len(m.events))
	copy(out, m.events)
	return out
}

func (m *MemoryRepository) listAccepted(hostID, guestID string, from, to time.Time, ignoreID string) []model.Booking {
	candidate := availability.Interval{Start: from, End: to}
	var out []model.Booking
	for _, b := range m.bookings {
		if b.Status != model.StatusAccepted || b.ID == ignoreID {
			continue
		}
		if hostID != "" && b.HostID != hostID {
			continue
		}
		if guestID != "" && (b.GuestID == nil || *b.GuestID != guestID) {
			continue
		}
		if !candidate.Overlaps(availability.Interval{Start: b.StartAt, End: b.EndAt}) {
			continue
		}
		out = append(out, b)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

type memTx struct {
	r *MemoryRepository
}

func (t *memTx) GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	return t.r.getRule(hostID)
}

func (t *memTx) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	b, ok := t.r.bookings[id]
	if !ok {
		return model.Booking{}, ErrBookingNotFound
	}
	return b, nil
}

func (t *memTx) ListAcceptedHostBookings(ctx context.Context, hostID string, from, to time.Time, ignoreID string) ([]model.Booking, error) {
	return t.r.listAccepted(hostID, "", from, to, ignoreID), nil
}

func (t *memTx) ListAcceptedGuestBookings(ctx context.Context, guestID string, from, to time.Time, ignoreID string) ([]model.Booking, error) {
	return t.r.listAccepted("", guestID, from, to, ignoreID), nil
}

func (t *memTx) InsertBooking(ctx context.Context, b *model.Booking) error {
	t.r.bookings[b.ID] = *b
	return nil
}

func (t *memTx) UpdateBookingStatus(ctx context.Context, id string, next, expected model.BookingStatus) error {
	b, ok := t.r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.Status != expected {
		return ErrStatusConflict
	}
	b.Status = next
	if next == model.StatusCancelled {
		now := time.Now().UTC()
		b.CancelledAt = &now
	}
	t.r.bookings[id] = b
	return nil
}

func (t *memTx) ProposeReschedule(ctx context.Context, id string, start, end time.Time, durationMinutes int, expected model.BookingStatus) error {
	b, ok := t.r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.Status != expected {
		return ErrStatusConflict
	}
	b.Status = model.StatusRescheduleProposed
	b.ProposedStartAt = &start
	b.ProposedEndAt = &end
	t.r.bookings[id] = b
	return nil
}

func (t *memTx) CommitReschedule(ctx context.Context, id string, start, end time.Time, durationMinutes int) error {
	b, ok := t.r.bookings[id]
	if !ok {
		return ErrBookingNotFound
	}
	if b.Status != model.StatusRescheduleProposed {
		return ErrStatusConflict
	}
	b.StartAt, b.EndAt = start, end
	b.DurationMinutes = durationMinutes
	b.Status = model.StatusAccepted
	b.ProposedStartAt, b.ProposedEndAt = nil, nil
	t.r.bookings[id] = b
	return nil
}

func (t *memTx) RecordEvent(ctx context.Context, evt Event) error {
	t.r.events = append(t.r.events, evt)
	return nil
}

// DefaultRule is the rule seeded at onboarding: Mon-Fri 09:00-17:00,
// 5-minute grid, no buffer.
func DefaultRule(hostID string) model.AvailabilityRule {
	weekly := map[time.Weekday][]model.Block{}
	for wd := time.Monday; wd <= time.Friday; wd++ {
		weekly[wd] = []model.Block{{StartMinute: 540, EndMinute: 1020}}
	}
	return model.AvailabilityRule{
		HostID:           hostID,
		TimeZone:         "UTC",
		Weekly:           weekly,
		AllowedDurations: []int{5, 15, 30, 60},
		BufferMinutes:    0,
		Active:           true,
	}
}

var _ Repository = (*MemoryRepository)(nil)
var _ TxRepository = (*memTx)(nil)
