package store

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"smartqueue/booking-service/internal/models"
)

// BookingEvent is one entry in a booking's hash-chained audit log. Each event
// hash covers the previous hash, so tampering with history is detectable.
type BookingEvent struct {
	BookingID  string          `json:"booking_id"`
	BookingSeq int             `json:"booking_seq"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	CreatedAt  time.Time       `json:"created_at"`
	PrevHash   string          `json:"prev_hash"`
	Hash       string          `json:"hash"`
}

type eventPayload struct {
	BookingID   string     `json:"booking_id"`
	SlotID      string     `json:"slot_id"`
	ServiceID   string     `json:"service_id"`
	ClientID    string     `json:"client_id"`
	FromStatus  string     `json:"from_status"`
	ToStatus    string     `json:"to_status"`
	CreatedAt   *time.Time `json:"created_at"`
	ApprovedAt  *time.Time `json:"approved_at"`
	CheckedInAt *time.Time `json:"checked_in_at"`
	CompletedAt *time.Time `json:"completed_at"`
}

func ComputeBookingEventHash(prevHash, bookingID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := fmt.Sprintf("%s|%s|%s|%s|%d|%s", prevHash, bookingID, eventType, createdAt.UTC().Format(time.RFC3339Nano), seq, payload)
	sum := sha256.Sum256([]byte(raw))
	return fmt.Sprintf("%x", sum)
}

// VerifyEventChain recomputes every hash in order and reports the first break.
func VerifyEventChain(events []BookingEvent) error {
	prev := ""
	for _, event := range events {
		if event.PrevHash != prev {
			return fmt.Errorf("event %d: prev_hash mismatch", event.BookingSeq)
		}
		expected := ComputeBookingEventHash(event.PrevHash, event.BookingID, event.Type, event.Payload, event.CreatedAt, event.BookingSeq)
		if event.Hash != expected {
			return fmt.Errorf("event %d: hash mismatch", event.BookingSeq)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateBooking folds an event log back into the booking's latest state.
func RehydrateBooking(events []BookingEvent) (models.Booking, error) {
	var booking models.Booking
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var payload eventPayload
		if err := json.Unmarshal(event.Payload, &payload); err != nil {
			return models.Booking{}, err
		}
		if payload.BookingID != "" {
			booking.BookingID = payload.BookingID
		}
		if payload.SlotID != "" {
			booking.SlotID = payload.SlotID
		}
		if payload.ServiceID != "" {
			booking.ServiceID = payload.ServiceID
		}
		if payload.ClientID != "" {
			booking.ClientID = payload.ClientID
		}
		if payload.ToStatus != "" {
			booking.Status = payload.ToStatus
		}
		if payload.CreatedAt != nil {
			booking.CreatedAt = *payload.CreatedAt
		}
		if payload.ApprovedAt != nil {
			booking.ApprovedAt = payload.ApprovedAt
		}
		if payload.CheckedInAt != nil {
			booking.CheckedInAt = payload.CheckedInAt
		}
		if payload.CompletedAt != nil {
			booking.CompletedAt = payload.CompletedAt
		}
	}
	return booking, nil
}
