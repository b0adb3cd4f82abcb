package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Reserve checks the slot's capacity and inserts the booking as one
// transaction. The slot row is locked FOR UPDATE for the duration of the
// read-count-insert sequence, so two concurrent reservations against the last
// remaining unit cannot both commit.
func (s *Store) Reserve(ctx context.Context, input store.ReserveInput) (models.Booking, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Booking{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	existing, found, err := findBookingByRequestID(ctx, tx, input.RequestID)
	if err != nil {
		return models.Booking{}, false, err
	}
	if found {
		if err = tx.Commit(ctx); err != nil {
			return models.Booking{}, false, err
		}
		return existing, false, nil
	}

	var slot models.Slot
	row := tx.QueryRow(ctx, `
		SELECT slot_id, service_id, starts_at, capacity, retired
		FROM slots
		WHERE slot_id = $1
		FOR UPDATE
	`, input.SlotID)
	if err = row.Scan(&slot.SlotID, &slot.ServiceID, &slot.StartsAt, &slot.Capacity, &slot.Retired); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrSlotNotFound
		}
		return models.Booking{}, false, err
	}
	if slot.Retired {
		err = store.ErrSlotRetired
		return models.Booking{}, false, err
	}

	var active bool
	row = tx.QueryRow(ctx, `
		SELECT active FROM services WHERE service_id = $1
	`, slot.ServiceID)
	if err = row.Scan(&active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			err = store.ErrServiceNotFound
		}
		return models.Booking{}, false, err
	}
	if !active {
		err = store.ErrServiceNotFound
		return models.Booking{}, false, err
	}

	var blocked bool
	row = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM blocked_dates WHERE date = $1::date)
	`, slot.StartsAt)
	if err = row.Scan(&blocked); err != nil {
		return models.Booking{}, false, err
	}
	if blocked {
		err = store.ErrDateBlocked
		return models.Booking{}, false, err
	}

	var duplicate bool
	row = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bookings
			WHERE slot_id = $1 AND client_id = $2
				AND status IN ('pending','approved','checked_in')
		)
	`, input.SlotID, input.ClientID)
	if err = row.Scan(&duplicate); err != nil {
		return models.Booking{}, false, err
	}
	if duplicate {
		err = store.ErrDuplicateBooking
		return models.Booking{}, false, err
	}

	var load int
	row = tx.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE slot_id = $1 AND status IN ('pending','approved','checked_in')
	`, input.SlotID)
	if err = row.Scan(&load); err != nil {
		return models.Booking{}, false, err
	}
	if load >= slot.Capacity {
		err = store.ErrSlotFull
		return models.Booking{}, false, err
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	bookingID := uuid.NewString()
	token := uuid.NewString()

	var booking models.Booking
	row = tx.QueryRow(ctx, `
		INSERT INTO bookings (
			booking_id, request_id, slot_id, service_id, client_id,
			status, notes, checkin_token, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$9)
		ON CONFLICT (request_id) DO NOTHING
		RETURNING booking_id, slot_id, service_id, client_id, status, notes, checkin_token, request_id, created_at, updated_at
	`, bookingID, input.RequestID, input.SlotID, slot.ServiceID, input.ClientID, models.StatusPending, input.Notes, token, createdAt)
	if err = row.Scan(&booking.BookingID, &booking.SlotID, &booking.ServiceID, &booking.ClientID, &booking.Status, &booking.Notes, &booking.CheckinToken, &booking.RequestID, &booking.CreatedAt, &booking.UpdatedAt); err != nil {
		return models.Booking{}, false, err
	}

	if err = insertStatusEvents(ctx, tx, booking, "", models.StatusPending); err != nil {
		return models.Booking{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Booking{}, false, err
	}
	return booking, true, nil
}

// Transition validates the requested edge against the state and permission
// tables and applies it under a row lock. Replays keyed by request_id return
// the booking unchanged.
func (s *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Booking, bool, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return models.Booking{}, false, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	replayed, found, err := findActionRequest(ctx, tx, input.RequestID)
	if err != nil {
		return models.Booking{}, false, err
	}
	if found {
		var booking models.Booking
		booking, err = getBooking(ctx, tx, replayed)
		if err != nil {
			return models.Booking{}, false, err
		}
		if err = tx.Commit(ctx); err != nil {
			return models.Booking{}, false, err
		}
		return booking, false, nil
	}

	var booking models.Booking
	booking, err = lockBooking(ctx, tx, input.BookingID)
	if err != nil {
		return models.Booking{}, false, err
	}

	if !store.ValidTransition(booking.Status, input.Target) {
		err = store.ErrInvalidTransition
		return models.Booking{}, false, err
	}
	if !store.RoleAllowed(input.ActorRole, input.Target) {
		err = store.ErrUnauthorized
		return models.Booking{}, false, err
	}
	if input.ActorRole == models.RoleUser && booking.ClientID != input.ActorID {
		err = store.ErrUnauthorized
		return models.Booking{}, false, err
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	fromStatus := booking.Status
	booking, err = applyStatus(ctx, tx, input.BookingID, input.Target, occurredAt)
	if err != nil {
		return models.Booking{}, false, err
	}

	if input.RequestID != "" {
		if err = insertActionRequest(ctx, tx, input.RequestID, booking.BookingID, input.Target, occurredAt); err != nil {
			return models.Booking{}, false, err
		}
	}

	if err = insertStatusEvents(ctx, tx, booking, fromStatus, input.Target); err != nil {
		return models.Booking{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Booking{}, false, err
	}
	return booking, true, nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID string) (models.Booking, error) {
	return s.getBookingWhere(ctx, "booking_id = $1", bookingID)
}

func (s *Store) GetBookingByToken(ctx context.Context, token string) (models.Booking, error) {
	return s.getBookingWhere(ctx, "checkin_token = $1", token)
}

func (s *Store) getBookingWhere(ctx context.Context, where, arg string) (models.Booking, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT booking_id, slot_id, service_id, client_id, status, notes, checkin_token, request_id,
			created_at, updated_at, approved_at, checked_in_at, completed_at
		FROM bookings
		WHERE `+where, arg)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, store.ErrBookingNotFound
		}
		return models.Booking{}, err
	}
	return booking, nil
}

func (s *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	var svc models.Service
	row := s.pool.QueryRow(ctx, `
		SELECT service_id, name, duration_minutes, active
		FROM services
		WHERE service_id = $1
	`, serviceID)
	if err := row.Scan(&svc.ServiceID, &svc.Name, &svc.DurationMinutes, &svc.Active); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Service{}, store.ErrServiceNotFound
		}
		return models.Service{}, err
	}
	return svc, nil
}

func (s *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT service_id, name, duration_minutes, active
		FROM services
		WHERE active = TRUE
		ORDER BY name ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []models.Service
	for rows.Next() {
		var svc models.Service
		if err := rows.Scan(&svc.ServiceID, &svc.Name, &svc.DurationMinutes, &svc.Active); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return services, nil
}

func (s *Store) GetSlot(ctx context.Context, slotID string) (models.Slot, error) {
	var slot models.Slot
	row := s.pool.QueryRow(ctx, `
		SELECT slot_id, service_id, starts_at, capacity, retired
		FROM slots
		WHERE slot_id = $1
	`, slotID)
	if err := row.Scan(&slot.SlotID, &slot.ServiceID, &slot.StartsAt, &slot.Capacity, &slot.Retired); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Slot{}, store.ErrSlotNotFound
		}
		return models.Slot{}, err
	}
	return slot, nil
}

func (s *Store) ListSlots(ctx context.Context, serviceID string, from, to time.Time) ([]models.Slot, error) {
	query := `
		SELECT slot_id, service_id, starts_at, capacity, retired
		FROM slots
		WHERE retired = FALSE AND starts_at >= $1 AND starts_at < $2
	`
	args := []interface{}{from, to}
	if serviceID != "" {
		query += " AND service_id = $3"
		args = append(args, serviceID)
	}
	query += " ORDER BY starts_at ASC, slot_id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var slots []models.Slot
	for rows.Next() {
		var slot models.Slot
		if err := rows.Scan(&slot.SlotID, &slot.ServiceID, &slot.StartsAt, &slot.Capacity, &slot.Retired); err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return slots, nil
}

func (s *Store) SlotLoad(ctx context.Context, slotID string) (models.Slot, int, error) {
	slot, err := s.GetSlot(ctx, slotID)
	if err != nil {
		return models.Slot{}, 0, err
	}
	var load int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM bookings
		WHERE slot_id = $1 AND status IN ('pending','approved','checked_in')
	`, slotID)
	if err := row.Scan(&load); err != nil {
		return models.Slot{}, 0, err
	}
	return slot, load, nil
}

func (s *Store) SlotLoads(ctx context.Context, slotIDs []string) (map[string]int, error) {
	loads := make(map[string]int, len(slotIDs))
	if len(slotIDs) == 0 {
		return loads, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT slot_id, COUNT(*)
		FROM bookings
		WHERE slot_id = ANY($1) AND status IN ('pending','approved','checked_in')
		GROUP BY slot_id
	`, slotIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var slotID string
		var count int
		if err := rows.Scan(&slotID, &count); err != nil {
			return nil, err
		}
		loads[slotID] = count
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return loads, nil
}

// CountActiveAhead counts active bookings in the same slot created before the
// given booking; ties on created_at break by booking_id.
func (s *Store) CountActiveAhead(ctx context.Context, bookingID string) (int, error) {
	var count int
	row := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM bookings b
		JOIN bookings target ON target.booking_id = $1
		WHERE b.slot_id = target.slot_id
			AND b.booking_id <> target.booking_id
			AND b.status IN ('pending','approved','checked_in')
			AND (b.created_at < target.created_at
				OR (b.created_at = target.created_at AND b.booking_id < target.booking_id))
	`, bookingID)
	if err := row.Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

func (s *Store) ListBookingStarts(ctx context.Context, serviceID string, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT s.starts_at
		FROM bookings b
		JOIN slots s ON s.slot_id = b.slot_id
		WHERE b.created_at >= $1 AND b.created_at < $2
	`
	args := []interface{}{from, to}
	if serviceID != "" {
		query += " AND s.service_id = $3"
		args = append(args, serviceID)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var ts time.Time
		if err := rows.Scan(&ts); err != nil {
			return nil, err
		}
		starts = append(starts, ts)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return starts, nil
}

func (s *Store) BlockDate(ctx context.Context, date time.Time, reason string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO blocked_dates (date, reason)
		VALUES ($1::date, $2)
		ON CONFLICT (date) DO UPDATE SET reason = EXCLUDED.reason
	`, date, reason)
	return err
}

func (s *Store) UnblockDate(ctx context.Context, date time.Time) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM blocked_dates WHERE date = $1::date
	`, date)
	return err
}

func (s *Store) ListBookingEvents(ctx context.Context, bookingID string) ([]store.BookingEvent, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT booking_id, booking_seq, type, payload, created_at, prev_hash, hash
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY booking_seq ASC
	`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.BookingEvent
	for rows.Next() {
		var event store.BookingEvent
		if err := rows.Scan(&event.BookingID, &event.BookingSeq, &event.Type, &event.Payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT event_id, type, payload_json, created_at
		FROM outbox_events
		WHERE created_at > $1
		ORDER BY created_at ASC
		LIMIT $2
	`, after, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []store.OutboxEvent
	for rows.Next() {
		var event store.OutboxEvent
		if err := rows.Scan(&event.EventID, &event.Type, &event.Payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return events, nil
}

func (s *Store) GetDispatchOffset(ctx context.Context) (time.Time, error) {
	var last time.Time
	row := s.pool.QueryRow(ctx, `
		SELECT last_dispatched_at FROM dispatch_offsets WHERE id = 1
	`)
	if err := row.Scan(&last); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return last, nil
}

func (s *Store) UpdateDispatchOffset(ctx context.Context, last time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO dispatch_offsets (id, last_dispatched_at)
		VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET last_dispatched_at = EXCLUDED.last_dispatched_at
	`, last)
	return err
}

func findBookingByRequestID(ctx context.Context, tx pgx.Tx, requestID string) (models.Booking, bool, error) {
	row := tx.QueryRow(ctx, `
		SELECT booking_id, slot_id, service_id, client_id, status, notes, checkin_token, request_id,
			created_at, updated_at, approved_at, checked_in_at, completed_at
		FROM bookings
		WHERE request_id = $1
	`, requestID)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, false, nil
		}
		return models.Booking{}, false, err
	}
	return booking, true, nil
}

func findActionRequest(ctx context.Context, tx pgx.Tx, requestID string) (string, bool, error) {
	if requestID == "" {
		return "", false, nil
	}
	var bookingID string
	row := tx.QueryRow(ctx, `
		SELECT booking_id FROM action_requests WHERE request_id = $1
	`, requestID)
	if err := row.Scan(&bookingID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return bookingID, true, nil
}

func insertActionRequest(ctx context.Context, tx pgx.Tx, requestID, bookingID, action string, occurredAt time.Time) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO action_requests (request_id, booking_id, action, created_at)
		VALUES ($1, $2, $3, $4)
	`, requestID, bookingID, action, occurredAt)
	return err
}

func getBooking(ctx context.Context, tx pgx.Tx, bookingID string) (models.Booking, error) {
	row := tx.QueryRow(ctx, `
		SELECT booking_id, slot_id, service_id, client_id, status, notes, checkin_token, request_id,
			created_at, updated_at, approved_at, checked_in_at, completed_at
		FROM bookings
		WHERE booking_id = $1
	`, bookingID)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, store.ErrBookingNotFound
		}
		return models.Booking{}, err
	}
	return booking, nil
}

func lockBooking(ctx context.Context, tx pgx.Tx, bookingID string) (models.Booking, error) {
	row := tx.QueryRow(ctx, `
		SELECT booking_id, slot_id, service_id, client_id, status, notes, checkin_token, request_id,
			created_at, updated_at, approved_at, checked_in_at, completed_at
		FROM bookings
		WHERE booking_id = $1
		FOR UPDATE
	`, bookingID)
	booking, err := scanBooking(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Booking{}, store.ErrBookingNotFound
		}
		return models.Booking{}, err
	}
	return booking, nil
}

func applyStatus(ctx context.Context, tx pgx.Tx, bookingID, target string, occurredAt time.Time) (models.Booking, error) {
	column := ""
	switch target {
	case models.StatusApproved:
		column = "approved_at"
	case models.StatusCheckedIn:
		column = "checked_in_at"
	case models.StatusCompleted:
		column = "completed_at"
	}

	query := `
		UPDATE bookings
		SET status = $1, updated_at = $2
	`
	if column != "" {
		query += ", " + column + " = $2"
	}
	query += `
		WHERE booking_id = $3
		RETURNING booking_id, slot_id, service_id, client_id, status, notes, checkin_token, request_id,
			created_at, updated_at, approved_at, checked_in_at, completed_at
	`
	row := tx.QueryRow(ctx, query, target, occurredAt, bookingID)
	return scanBooking(row)
}

func scanBooking(row pgx.Row) (models.Booking, error) {
	var booking models.Booking
	var approvedAt sql.NullTime
	var checkedInAt sql.NullTime
	var completedAt sql.NullTime
	if err := row.Scan(
		&booking.BookingID, &booking.SlotID, &booking.ServiceID, &booking.ClientID,
		&booking.Status, &booking.Notes, &booking.CheckinToken, &booking.RequestID,
		&booking.CreatedAt, &booking.UpdatedAt, &approvedAt, &checkedInAt, &completedAt,
	); err != nil {
		return models.Booking{}, err
	}
	booking.ApprovedAt = nullTimePtr(approvedAt)
	booking.CheckedInAt = nullTimePtr(checkedInAt)
	booking.CompletedAt = nullTimePtr(completedAt)
	return booking, nil
}

// insertStatusEvents writes the outbox row consumed by the notification
// collaborator plus the booking's hash-chained audit entry.
func insertStatusEvents(ctx context.Context, tx pgx.Tx, booking models.Booking, fromStatus, toStatus string) error {
	payload := map[string]interface{}{
		"booking_id":    booking.BookingID,
		"slot_id":       booking.SlotID,
		"service_id":    booking.ServiceID,
		"client_id":     booking.ClientID,
		"from_status":   fromStatus,
		"to_status":     toStatus,
		"created_at":    booking.CreatedAt,
		"approved_at":   booking.ApprovedAt,
		"checked_in_at": booking.CheckedInAt,
		"completed_at":  booking.CompletedAt,
	}
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	eventType := store.EventType(toStatus)
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4)
	`, uuid.NewString(), eventType, payloadJSON, time.Now().UTC())
	if err != nil {
		return err
	}
	return insertBookingEvent(ctx, tx, booking.BookingID, eventType, payloadJSON)
}

func insertBookingEvent(ctx context.Context, tx pgx.Tx, bookingID, eventType string, payload []byte) error {
	var seq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT booking_seq, hash
		FROM booking_events
		WHERE booking_id = $1
		ORDER BY booking_seq DESC
		LIMIT 1
	`, bookingID)
	if err := row.Scan(&seq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}

	createdAt := time.Now().UTC()
	nextSeq := seq + 1
	hash := store.ComputeBookingEventHash(prevHash.String, bookingID, eventType, payload, createdAt, nextSeq)
	_, err := tx.Exec(ctx, `
		INSERT INTO booking_events (booking_id, booking_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, bookingID, nextSeq, eventType, payload, createdAt, prevHash.String, hash)
	return err
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}
