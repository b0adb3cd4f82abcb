package store

import (
	"encoding/json"
	"testing"
	"time"

	"smartqueue/booking-service/internal/models"
)

func buildChain(t *testing.T, bookingID string, statuses []string) []BookingEvent {
	t.Helper()
	var events []BookingEvent
	prevHash := ""
	createdAt := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	for i, status := range statuses {
		payload, err := json.Marshal(map[string]string{
			"booking_id": bookingID,
			"to_status":  status,
		})
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		seq := i + 1
		eventType := EventType(status)
		hash := ComputeBookingEventHash(prevHash, bookingID, eventType, payload, createdAt, seq)
		events = append(events, BookingEvent{
			BookingID:  bookingID,
			BookingSeq: seq,
			Type:       eventType,
			Payload:    payload,
			CreatedAt:  createdAt,
			PrevHash:   prevHash,
			Hash:       hash,
		})
		prevHash = hash
		createdAt = createdAt.Add(time.Minute)
	}
	return events
}

func TestVerifyEventChain(t *testing.T) {
	events := buildChain(t, "b-1", []string{models.StatusPending, models.StatusApproved, models.StatusCheckedIn})

	if err := VerifyEventChain(events); err != nil {
		t.Fatalf("expected valid chain, got %v", err)
	}

	tampered := make([]BookingEvent, len(events))
	copy(tampered, events)
	tampered[1].Payload = json.RawMessage(`{"booking_id":"b-1","to_status":"rejected"}`)
	if err := VerifyEventChain(tampered); err == nil {
		t.Fatalf("expected tampered chain to fail verification")
	}
}

func TestRehydrateBooking(t *testing.T) {
	events := buildChain(t, "b-2", []string{models.StatusPending, models.StatusApproved})

	booking, err := RehydrateBooking(events)
	if err != nil {
		t.Fatalf("rehydrate: %v", err)
	}
	if booking.BookingID != "b-2" {
		t.Fatalf("expected booking b-2, got %s", booking.BookingID)
	}
	if booking.Status != models.StatusApproved {
		t.Fatalf("expected status approved, got %s", booking.Status)
	}
}
