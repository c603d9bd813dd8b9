package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"slotwise/internal/model"
	"slotwise/internal/scheduling"
	"slotwise/libs/db"
	otelx "slotwise/libs/otel"
)

// Repository is the Postgres implementation of scheduling.Repository. The
// bookings table carries an exclusion constraint on ACCEPTED intervals per
// host, so even a guard bypass cannot commit a double booking; the 23P01 it
// raises is translated back to ErrHostOverlap.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (r *Repository) GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	return getRule(ctx, r.pool, hostID)
}

func getRule(ctx context.Context, q querier, hostID string) (model.AvailabilityRule, error) {
	rule := model.AvailabilityRule{HostID: hostID}
	err := q.QueryRow(ctx, `
		SELECT time_zone, allowed_durations, buffer_minutes, active
		FROM availability_rules
		WHERE host_id = $1
	`, hostID).Scan(&rule.TimeZone, &rule.AllowedDurations, &rule.BufferMinutes, &rule.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.AvailabilityRule{}, scheduling.ErrRuleNotFound
	}
	if err != nil {
		return model.AvailabilityRule{}, err
	}

	rows, err := q.Query(ctx, `
		SELECT weekday, start_minute, end_minute
		FROM availability_rule_blocks
		WHERE host_id = $1
		ORDER BY weekday, start_minute
	`, hostID)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	defer rows.Close()

	rule.Weekly = map[time.Weekday][]model.Block{}
	for rows.Next() {
		var weekday int
		var b model.Block
		if err := rows.Scan(&weekday, &b.StartMinute, &b.EndMinute); err != nil {
			return model.AvailabilityRule{}, err
		}
		wd := time.Weekday(weekday)
		rule.Weekly[wd] = append(rule.Weekly[wd], b)
	}
	if rows.Err() != nil {
		return model.AvailabilityRule{}, rows.Err()
	}
	return rule, nil
}

func (r *Repository) EnsureRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	def := scheduling.DefaultRule(hostID)
	tag, err := tx.Exec(ctx, `
		INSERT INTO availability_rules (host_id, time_zone, allowed_durations, buffer_minutes, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host_id) DO NOTHING
	`, hostID, def.TimeZone, def.AllowedDurations, def.BufferMinutes, def.Active)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	if tag.RowsAffected() > 0 {
		for wd, blocks := range def.Weekly {
			for _, b := range blocks {
				if _, err := tx.Exec(ctx, `
					INSERT INTO availability_rule_blocks (host_id, weekday, start_minute, end_minute)
					VALUES ($1, $2, $3, $4)
				`, hostID, int(wd), b.StartMinute, b.EndMinute); err != nil {
					return model.AvailabilityRule{}, err
				}
			}
		}
	}

	rule, err := getRule(ctx, tx, hostID)
	if err != nil {
		return model.AvailabilityRule{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return model.AvailabilityRule{}, err
	}
	return rule, nil
}

func (r *Repository) SaveRule(ctx context.Context, rule model.AvailabilityRule) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
		INSERT INTO availability_rules (host_id, time_zone, allowed_durations, buffer_minutes, active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (host_id) DO UPDATE
		SET time_zone = EXCLUDED.time_zone,
			allowed_durations = EXCLUDED.allowed_durations,
			buffer_minutes = EXCLUDED.buffer_minutes,
			active = EXCLUDED.active,
			updated_at = now()
	`, rule.HostID, rule.TimeZone, rule.AllowedDurations, rule.BufferMinutes, rule.Active)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM availability_rule_blocks WHERE host_id = $1
	`, rule.HostID); err != nil {
		return err
	}
	for wd, blocks := range rule.Weekly {
		for _, b := range blocks {
			if _, err := tx.Exec(ctx, `
				INSERT INTO availability_rule_blocks (host_id, weekday, start_minute, end_minute)
				VALUES ($1, $2, $3, $4)
			`, rule.HostID, int(wd), b.StartMinute, b.EndMinute); err != nil {
				return err
			}
		}
	}
	return tx.Commit(ctx)
}

func (r *Repository) SetRuleActive(ctx context.Context, hostID string, active bool) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE availability_rules
		SET active = $2, updated_at = now()
		WHERE host_id = $1
	`, hostID, active)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return scheduling.ErrRuleNotFound
	}
	return nil
}

func (r *Repository) ListOverrides(ctx context.Context, hostID, fromDate, toDate string) ([]model.Override, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, host_id, to_char(date, 'YYYY-MM-DD'), kind, closed, blocks
		FROM availability_overrides
		WHERE host_id = $1 AND date BETWEEN $2::date AND $3::date
		ORDER BY date ASC
	`, hostID, fromDate, toDate)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Override
	for rows.Next() {
		var ov model.Override
		var kind string
		var blocks []byte
		if err := rows.Scan(&ov.ID, &ov.HostID, &ov.Date, &kind, &ov.Closed, &blocks); err != nil {
			return nil, err
		}
		ov.Kind = model.OverrideKind(kind)
		if len(blocks) > 0 {
			if err := json.Unmarshal(blocks, &ov.Blocks); err != nil {
				return nil, err
			}
		}
		out = append(out, ov)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) AddOverride(ctx context.Context, ov model.Override) (string, error) {
	blocks, err := json.Marshal(ov.Blocks)
	if err != nil {
		return "", err
	}
	var id string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO availability_overrides (id, host_id, date, kind, closed, blocks)
		VALUES ($1, $2, $3::date, $4, $5, $6)
		RETURNING id::text
	`, ov.ID, ov.HostID, ov.Date, string(ov.Kind), ov.Closed, blocks).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *Repository) ListBookingTypes(ctx context.Context, hostID string, activeOnly bool) ([]model.BookingType, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, host_id, name, COALESCE(description, ''), active
		FROM booking_types
		WHERE host_id = $1 AND (NOT $2 OR active)
		ORDER BY name ASC
	`, hostID, activeOnly)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.BookingType
	for rows.Next() {
		var bt model.BookingType
		if err := rows.Scan(&bt.ID, &bt.HostID, &bt.Name, &bt.Description, &bt.Active); err != nil {
			return nil, err
		}
		out = append(out, bt)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) GetBookingType(ctx context.Context, hostID, id string) (model.BookingType, error) {
	var bt model.BookingType
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, host_id, name, COALESCE(description, ''), active
		FROM booking_types
		WHERE host_id = $1 AND id = $2
	`, hostID, id).Scan(&bt.ID, &bt.HostID, &bt.Name, &bt.Description, &bt.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.BookingType{}, scheduling.ErrInvalidBookingType
	}
	if err != nil {
		return model.BookingType{}, err
	}
	return bt, nil
}

func (r *Repository) CreateBookingType(ctx context.Context, bt model.BookingType) (string, error) {
	var id string
	err := r.pool.QueryRow(ctx, `
		INSERT INTO booking_types (id, host_id, name, description, active)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id::text
	`, bt.ID, bt.HostID, bt.Name, bt.Description, bt.Active).Scan(&id)
	if err != nil {
		return "", err
	}
	return id, nil
}

const bookingColumns = `
	id::text, host_id, guest_id, COALESCE(booking_type_id::text, ''),
	start_at, end_at, status, duration_minutes,
	proposed_start_at, proposed_end_at, cancelled_at, created_at`

func scanBooking(row pgx.Row) (model.Booking, error) {
	var b model.Booking
	err := row.Scan(
		&b.ID,
		&b.HostID,
		&b.GuestID,
		&b.BookingTypeID,
		&b.StartAt,
		&b.EndAt,
		&b.Status,
		&b.DurationMinutes,
		&b.ProposedStartAt,
		&b.ProposedEndAt,
		&b.CancelledAt,
		&b.CreatedAt,
	)
	return b, err
}

func collectBookings(rows pgx.Rows) ([]model.Booking, error) {
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (r *Repository) ListAcceptedBookings(ctx context.Context, hostID string, from, to time.Time) ([]model.Booking, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE host_id = $1
			AND status = 'ACCEPTED'
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
	`, hostID, from, to)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *Repository) ListHostBookings(ctx context.Context, hostID string, limit int) ([]model.Booking, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE host_id = $1
		ORDER BY start_at DESC
		LIMIT $2
	`, hostID, limit)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (r *Repository) GetBooking(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(r.pool.QueryRow(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE id = $1
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, scheduling.ErrBookingNotFound
	}
	if err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func (r *Repository) Transact(ctx context.Context, fn func(ctx context.Context, tx scheduling.TxRepository) error) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, &txRepo{tx: tx}); err != nil {
		if IsConflict(err) {
			return scheduling.ErrHostOverlap
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		if IsConflict(err) {
			return scheduling.ErrHostOverlap
		}
		return err
	}
	return nil
}

// ExpireStalePending cancels PENDING bookings older than cutoff and records
// an expiry event per booking, all in one transaction. SKIP LOCKED keeps
// concurrent workers off each other's batches.
func (r *Repository) ExpireStalePending(ctx context.Context, cutoff time.Time, batchSize int) ([]model.Booking, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE status = 'PENDING' AND created_at < $1
		ORDER BY created_at ASC
		LIMIT $2
		FOR UPDATE SKIP LOCKED
	`, cutoff, batchSize)
	if err != nil {
		return nil, err
	}
	expired, err := collectBookings(rows)
	if err != nil {
		return nil, err
	}
	if len(expired) == 0 {
		return nil, tx.Commit(ctx)
	}

	for i := range expired {
		b := &expired[i]
		if _, err := tx.Exec(ctx, `
			UPDATE bookings
			SET status = 'CANCELLED', cancelled_at = now()
			WHERE id = $1
		`, b.ID); err != nil {
			return nil, err
		}
		b.Status = model.StatusCancelled
		payload, err := json.Marshal(map[string]any{
			"booking_id": b.ID,
			"host_id":    b.HostID,
			"start_at":   b.StartAt.UTC().Format(time.RFC3339),
			"end_at":     b.EndAt.UTC().Format(time.RFC3339),
		})
		if err != nil {
			return nil, err
		}
		if err := insertEvent(ctx, tx, scheduling.Event{
			AggregateID: b.ID, Type: "booking.expired.v1", Payload: payload,
		}); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return expired, nil
}

type txRepo struct {
	tx pgx.Tx
}

func (t *txRepo) GetRule(ctx context.Context, hostID string) (model.AvailabilityRule, error) {
	return getRule(ctx, t.tx, hostID)
}

func (t *txRepo) GetBookingForUpdate(ctx context.Context, id string) (model.Booking, error) {
	b, err := scanBooking(t.tx.QueryRow(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE id = $1
		FOR UPDATE
	`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Booking{}, scheduling.ErrBookingNotFound
	}
	if err != nil {
		return model.Booking{}, err
	}
	return b, nil
}

func (t *txRepo) ListAcceptedHostBookings(ctx context.Context, hostID string, from, to time.Time, ignoreID string) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE host_id = $1
			AND status = 'ACCEPTED'
			AND id::text <> $4
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
		FOR UPDATE
	`, hostID, from, to, ignoreID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (t *txRepo) ListAcceptedGuestBookings(ctx context.Context, guestID string, from, to time.Time, ignoreID string) ([]model.Booking, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT`+bookingColumns+`
		FROM bookings
		WHERE guest_id = $1
			AND status = 'ACCEPTED'
			AND id::text <> $4
			AND start_at < $3
			AND end_at > $2
		ORDER BY start_at ASC
		FOR UPDATE
	`, guestID, from, to, ignoreID)
	if err != nil {
		return nil, err
	}
	return collectBookings(rows)
}

func (t *txRepo) InsertBooking(ctx context.Context, b *model.Booking) error {
	var bookingTypeID *string
	if b.BookingTypeID != "" {
		bookingTypeID = &b.BookingTypeID
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO bookings
			(id, host_id, guest_id, booking_type_id, start_at, end_at, status, duration_minutes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, b.ID, b.HostID, b.GuestID, bookingTypeID, b.StartAt, b.EndAt, string(b.Status), b.DurationMinutes, b.CreatedAt)
	return err
}

func (t *txRepo) UpdateBookingStatus(ctx context.Context, id string, next, expected model.BookingStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = $2,
			cancelled_at = CASE WHEN $2 = 'CANCELLED' THEN now() ELSE cancelled_at END
		WHERE id = $1 AND status = $3
	`, id, string(next), string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.statusMiss(ctx, id)
	}
	return nil
}

func (t *txRepo) ProposeReschedule(ctx context.Context, id string, start, end time.Time, durationMinutes int, expected model.BookingStatus) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'RESCHEDULE_PROPOSED',
			proposed_start_at = $2,
			proposed_end_at = $3
		WHERE id = $1 AND status = $4
	`, id, start, end, string(expected))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.statusMiss(ctx, id)
	}
	return nil
}

func (t *txRepo) CommitReschedule(ctx context.Context, id string, start, end time.Time, durationMinutes int) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE bookings
		SET status = 'ACCEPTED',
			start_at = $2,
			end_at = $3,
			duration_minutes = $4,
			proposed_start_at = NULL,
			proposed_end_at = NULL
		WHERE id = $1 AND status = 'RESCHEDULE_PROPOSED'
	`, id, start, end, durationMinutes)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return t.statusMiss(ctx, id)
	}
	return nil
}

func (t *txRepo) RecordEvent(ctx context.Context, evt scheduling.Event) error {
	return insertEvent(ctx, t.tx, evt)
}

// statusMiss distinguishes a missing row from a guarded status mismatch
// after an expected-status UPDATE touched nothing.
func (t *txRepo) statusMiss(ctx context.Context, id string) error {
	var exists bool
	if err := t.tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)
	`, id).Scan(&exists); err != nil {
		return err
	}
	if !exists {
		return scheduling.ErrBookingNotFound
	}
	return scheduling.ErrStatusConflict
}

func insertEvent(ctx context.Context, q querier, evt scheduling.Event) error {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err := q.Exec(ctx, `
		INSERT INTO outbox_events (aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ('booking', $1, $2, $3, $4, $5)
	`, evt.AggregateID, evt.Type, evt.Payload, traceparent, tracestate)
	return err
}

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23P01"
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

var _ scheduling.Repository = (*Repository)(nil)
var _ scheduling.TxRepository = (*txRepo)(nil)
