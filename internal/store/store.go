package store

import (
	"context"
	"encoding/json"
	"time"

	"smartqueue/booking-service/internal/models"
)

type ReserveInput struct {
	RequestID string
	SlotID    string
	ClientID  string
	Notes     string
	CreatedAt time.Time
}

type TransitionInput struct {
	RequestID  string
	BookingID  string
	Target     string
	ActorID    string
	ActorRole  string
	OccurredAt time.Time
}

// BookingStore is the persistence boundary for the booking engine. Reserve and
// Transition must execute atomically against the slot's capacity count; the
// read-only methods may serve a slightly stale snapshot.
type BookingStore interface {
	Reserve(ctx context.Context, input ReserveInput) (models.Booking, bool, error)
	GetBooking(ctx context.Context, bookingID string) (models.Booking, error)
	GetBookingByToken(ctx context.Context, token string) (models.Booking, error)
	Transition(ctx context.Context, input TransitionInput) (models.Booking, bool, error)

	GetService(ctx context.Context, serviceID string) (models.Service, error)
	ListServices(ctx context.Context) ([]models.Service, error)
	GetSlot(ctx context.Context, slotID string) (models.Slot, error)
	ListSlots(ctx context.Context, serviceID string, from, to time.Time) ([]models.Slot, error)
	SlotLoad(ctx context.Context, slotID string) (models.Slot, int, error)
	SlotLoads(ctx context.Context, slotIDs []string) (map[string]int, error)

	CountActiveAhead(ctx context.Context, bookingID string) (int, error)
	ListBookingStarts(ctx context.Context, serviceID string, from, to time.Time) ([]time.Time, error)

	BlockDate(ctx context.Context, date time.Time, reason string) error
	UnblockDate(ctx context.Context, date time.Time) error

	ListBookingEvents(ctx context.Context, bookingID string) ([]BookingEvent, error)
	ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]OutboxEvent, error)
	GetDispatchOffset(ctx context.Context) (time.Time, error)
	UpdateDispatchOffset(ctx context.Context, last time.Time) error
}

type OutboxEvent struct {
	EventID   string          `json:"event_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// TransitionPayload is the shape of status-change outbox payloads consumed by
// the notification collaborator.
type TransitionPayload struct {
	BookingID  string `json:"booking_id"`
	SlotID     string `json:"slot_id"`
	ServiceID  string `json:"service_id"`
	ClientID   string `json:"client_id"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"`
}

// EventType maps a target status to the outbox event type emitted when a
// booking enters that status.
func EventType(status string) string {
	switch status {
	case models.StatusPending:
		return "booking.created"
	case models.StatusApproved:
		return "booking.approved"
	case models.StatusRejected:
		return "booking.rejected"
	case models.StatusCancelled:
		return "booking.cancelled"
	case models.StatusCheckedIn:
		return "booking.checked_in"
	case models.StatusCompleted:
		return "booking.completed"
	default:
		return ""
	}
}
