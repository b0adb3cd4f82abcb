package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/store"

	"github.com/google/uuid"
)

func seedSlot(st *Store, capacity int, startsAt time.Time) (string, string) {
	serviceID := uuid.NewString()
	slotID := uuid.NewString()
	st.SeedService(models.Service{ServiceID: serviceID, Name: "Consultation", DurationMinutes: 15, Active: true})
	st.SeedSlot(models.Slot{SlotID: slotID, ServiceID: serviceID, StartsAt: startsAt, Capacity: capacity})
	return serviceID, slotID
}

func TestReserveConcurrentNeverExceedsCapacity(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	startsAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, slotID := seedSlot(st, 3, startsAt)

	const attempts = 20
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
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if succeeded != 3 {
		t.Fatalf("expected 3 successful reservations, got %d", succeeded)
	}
	if full != attempts-3 {
		t.Fatalf("expected %d slot-full rejections, got %d", attempts-3, full)
	}

	_, load, err := st.SlotLoad(ctx, slotID)
	if err != nil {
		t.Fatalf("slot load: %v", err)
	}
	if load != 3 {
		t.Fatalf("expected load 3, got %d", load)
	}
}

func TestReserveIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_, slotID := seedSlot(st, 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	requestID := uuid.NewString()
	clientID := uuid.NewString()

	first, created, err := st.Reserve(ctx, store.ReserveInput{RequestID: requestID, SlotID: slotID, ClientID: clientID})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}
	if !created {
		t.Fatalf("expected first reserve to create")
	}

	second, created, err := st.Reserve(ctx, store.ReserveInput{RequestID: requestID, SlotID: slotID, ClientID: clientID})
	if err != nil {
		t.Fatalf("replay reserve: %v", err)
	}
	if created {
		t.Fatalf("expected replay to return existing booking")
	}
	if first.BookingID != second.BookingID {
		t.Fatalf("expected same booking on replay")
	}

	_, load, _ := st.SlotLoad(ctx, slotID)
	if load != 1 {
		t.Fatalf("expected load 1 after replay, got %d", load)
	}
}

func TestReserveRejectsDuplicateActiveBooking(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_, slotID := seedSlot(st, 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	clientID := uuid.NewString()
	if _, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: clientID}); err != nil {
		t.Fatalf("reserve: %v", err)
	}

	_, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: clientID})
	if !errors.Is(err, store.ErrDuplicateBooking) {
		t.Fatalf("expected ErrDuplicateBooking, got %v", err)
	}
}

func TestReserveRejectsBlockedDate(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	startsAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	_, slotID := seedSlot(st, 5, startsAt)

	if err := st.BlockDate(ctx, startsAt, "holiday"); err != nil {
		t.Fatalf("block date: %v", err)
	}

	_, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: uuid.NewString()})
	if !errors.Is(err, store.ErrDateBlocked) {
		t.Fatalf("expected ErrDateBlocked, got %v", err)
	}

	if err := st.UnblockDate(ctx, startsAt); err != nil {
		t.Fatalf("unblock date: %v", err)
	}
	if _, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: uuid.NewString()}); err != nil {
		t.Fatalf("reserve after unblock: %v", err)
	}
}

func TestReserveRejectsRetiredSlot(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	serviceID := uuid.NewString()
	slotID := uuid.NewString()
	st.SeedService(models.Service{ServiceID: serviceID, Name: "Consultation", DurationMinutes: 15, Active: true})
	st.SeedSlot(models.Slot{SlotID: slotID, ServiceID: serviceID, StartsAt: time.Now().UTC(), Capacity: 5, Retired: true})

	_, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: uuid.NewString()})
	if !errors.Is(err, store.ErrSlotRetired) {
		t.Fatalf("expected ErrSlotRetired, got %v", err)
	}
}

func TestTransitionRejectedIsTerminal(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_, slotID := seedSlot(st, 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	booking, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: uuid.NewString()})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	staffID := uuid.NewString()
	if _, _, err := st.Transition(ctx, store.TransitionInput{
		BookingID: booking.BookingID,
		Target:    models.StatusRejected,
		ActorID:   staffID,
		ActorRole: models.RoleStaff,
	}); err != nil {
		t.Fatalf("reject: %v", err)
	}

	for _, target := range []string{models.StatusApproved, models.StatusCheckedIn, models.StatusCancelled, models.StatusCompleted} {
		_, _, err := st.Transition(ctx, store.TransitionInput{
			BookingID: booking.BookingID,
			Target:    target,
			ActorID:   staffID,
			ActorRole: models.RoleAdmin,
		})
		if !errors.Is(err, store.ErrInvalidTransition) {
			t.Fatalf("expected ErrInvalidTransition for %s after rejection, got %v", target, err)
		}
	}
}

func TestTransitionRolePermissions(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_, slotID := seedSlot(st, 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	clientID := uuid.NewString()
	booking, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: clientID})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	// Clients cannot approve their own bookings.
	_, _, err = st.Transition(ctx, store.TransitionInput{
		BookingID: booking.BookingID,
		Target:    models.StatusApproved,
		ActorID:   clientID,
		ActorRole: models.RoleUser,
	})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for user approval, got %v", err)
	}

	// A different client cannot cancel someone else's booking.
	_, _, err = st.Transition(ctx, store.TransitionInput{
		BookingID: booking.BookingID,
		Target:    models.StatusCancelled,
		ActorID:   uuid.NewString(),
		ActorRole: models.RoleUser,
	})
	if !errors.Is(err, store.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for foreign cancel, got %v", err)
	}

	// The owner can cancel.
	updated, _, err := st.Transition(ctx, store.TransitionInput{
		BookingID: booking.BookingID,
		Target:    models.StatusCancelled,
		ActorID:   clientID,
		ActorRole: models.RoleUser,
	})
	if err != nil {
		t.Fatalf("owner cancel: %v", err)
	}
	if updated.Status != models.StatusCancelled {
		t.Fatalf("expected cancelled, got %s", updated.Status)
	}
}

func TestTransitionIdempotentReplay(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_, slotID := seedSlot(st, 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	booking, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: uuid.NewString()})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	requestID := uuid.NewString()
	input := store.TransitionInput{
		RequestID: requestID,
		BookingID: booking.BookingID,
		Target:    models.StatusApproved,
		ActorID:   uuid.NewString(),
		ActorRole: models.RoleStaff,
	}

	first, applied, err := st.Transition(ctx, input)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if !applied {
		t.Fatalf("expected first transition to apply")
	}

	second, applied, err := st.Transition(ctx, input)
	if err != nil {
		t.Fatalf("replay approve: %v", err)
	}
	if applied {
		t.Fatalf("expected replay to be a no-op")
	}
	if second.Status != first.Status {
		t.Fatalf("expected replay to return same status")
	}

	events, _ := st.ListBookingEvents(ctx, booking.BookingID)
	if len(events) != 2 {
		t.Fatalf("expected 2 events (created, approved), got %d", len(events))
	}
}

func TestEventChainAndOutbox(t *testing.T) {
	ctx := context.Background()
	st := NewStore()
	_, slotID := seedSlot(st, 5, time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))

	clientID := uuid.NewString()
	booking, _, err := st.Reserve(ctx, store.ReserveInput{RequestID: uuid.NewString(), SlotID: slotID, ClientID: clientID})
	if err != nil {
		t.Fatalf("reserve: %v", err)
	}

	staffID := uuid.NewString()
	for _, target := range []string{models.StatusApproved, models.StatusCheckedIn, models.StatusCompleted} {
		if _, _, err := st.Transition(ctx, store.TransitionInput{
			BookingID: booking.BookingID,
			Target:    target,
			ActorID:   staffID,
			ActorRole: models.RoleStaff,
		}); err != nil {
			t.Fatalf("transition to %s: %v", target, err)
		}
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

	rehydrated, err := store.RehydrateBooking(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if rehydrated.Status != models.StatusCompleted {
		t.Fatalf("expected rehydrated status completed, got %s", rehydrated.Status)
	}

	outbox, err := st.ListOutboxEvents(ctx, time.Time{}, 10)
	if err != nil {
		t.Fatalf("list outbox: %v", err)
	}
	wantTypes := []string{"booking.created", "booking.approved", "booking.checked_in", "booking.completed"}
	if len(outbox) != len(wantTypes) {
		t.Fatalf("expected %d outbox events, got %d", len(wantTypes), len(outbox))
	}
	for i, event := range outbox {
		if event.Type != wantTypes[i] {
			t.Fatalf("outbox event %d: expected %s, got %s", i, wantTypes[i], event.Type)
		}
	}
}
