package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestReserveConcurrency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := uuid.NewString()
	slotID := uuid.NewString()
	seedBaseData(t, ctx, pool, serviceID, slotID, 3)

	const attempts = 10
	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := st.Reserve(ctx, store.ReserveInput{
				RequestID: uuid.NewString(),
				SlotID:    slotID,
				ClientID:  uuid.NewString(),
				CreatedAt: time.Now().UTC(),
			})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded := 0
	full := 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, store.ErrSlotFull):
			full++
		default:
			t.Fatalf("unexpected reserve error: %v", err)
		}
	}

	if succeeded != 3 {
		t.Fatalf("expected 3 successful reservations, got %d", succeeded)
	}
	if full != attempts-3 {
		t.Fatalf("expected %d slot-full errors, got %d", attempts-3, full)
	}

	var active int
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM bookings WHERE slot_id = $1 AND status IN ('pending','approved','checked_in')
	`, slotID)
	if err := row.Scan(&active); err != nil {
		t.Fatalf("count active: %v", err)
	}
	if active != 3 {
		t.Fatalf("expected 3 active bookings, got %d", active)
	}
}

func TestReserveIdempotency(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := uuid.NewString()
	slotID := uuid.NewString()
	seedBaseData(t, ctx, pool, serviceID, slotID, 5)

	requestID := uuid.NewString()
	clientID := uuid.NewString()

	first, created, err := st.Reserve(ctx, store.ReserveInput{
		RequestID: requestID,
		SlotID:    slotID,
		ClientID:  clientID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !created {
		t.Fatalf("expected first reserve to create")
	}

	second, created, err := st.Reserve(ctx, store.ReserveInput{
		RequestID: requestID,
		SlotID:    slotID,
		ClientID:  clientID,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("replay reserve: %v", err)
	}
	if created {
		t.Fatalf("expected replay to return existing booking")
	}
	if first.BookingID != second.BookingID {
		t.Fatalf("expected same booking ID for duplicate request")
	}

	var count int
	row := pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM outbox_events WHERE type = 'booking.created'
	`)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("count outbox events: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 booking.created event, got %d", count)
	}
}

func TestTransitionLifecycle(t *testing.T) {
	ctx := context.Background()
	st, pool, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	serviceID := uuid.NewString()
	slotID := uuid.NewString()
	seedBaseData(t, ctx, pool, serviceID, slotID, 5)

	booking, _, err := st.Reserve(ctx, store.ReserveInput{
		RequestID: uuid.NewString(),
		SlotID:    slotID,
		ClientID:  uuid.NewString(),
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	staffID := uuid.NewString()
	for _, target := range []string{models.StatusApproved, models.StatusCheckedIn, models.StatusCompleted} {
		booking, _, err = st.Transition(ctx, store.TransitionInput{
			RequestID: uuid.NewString(),
			BookingID: booking.BookingID,
			Target:    target,
			ActorID:   staffID,
			ActorRole: models.RoleStaff,
		})
		if err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
	}

	if booking.Status != models.StatusCompleted {
		t.Fatalf("expected completed, got %s", booking.Status)
	}
	if booking.ApprovedAt == nil || booking.CheckedInAt == nil || booking.CompletedAt == nil {
		t.Fatalf("expected lifecycle timestamps to be set")
	}

	_, _, err = st.Transition(ctx, store.TransitionInput{
		BookingID: booking.BookingID,
		Target:    models.StatusCancelled,
		ActorID:   staffID,
		ActorRole: models.RoleAdmin,
	})
	if !errors.Is(err, store.ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition from completed, got %v", err)
	}

	events, err := st.ListBookingEvents(ctx, booking.BookingID)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 4 {
		t.Fatalf("expected 4 events, got %d", len(events))
	}
	if err := store.VerifyEventChain(events); err != nil {
		t.Fatalf("event chain broken: %v", err)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	store := NewStore(pool)
	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return store, pool, cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}

func seedBaseData(t *testing.T, ctx context.Context, pool *pgxpool.Pool, serviceID, slotID string, capacity int) {
	t.Helper()
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (service_id, name, duration_minutes, active) VALUES ($1, 'Consultation', 15, true)
	`, serviceID); err != nil {
		t.Fatalf("insert service: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO slots (slot_id, service_id, starts_at, capacity) VALUES ($1, $2, now() + interval '1 day', $3)
	`, slotID, serviceID, capacity); err != nil {
		t.Fatalf("insert slot: %v", err)
	}
}
