package memory

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/store"

	"github.com/google/uuid"
)

// Store is an in-memory BookingStore used by tests and local development.
// Each slot carries its own lock held across the read-count-insert sequence,
// mirroring the row-level locking of the postgres store.
type Store struct {
	mu           sync.RWMutex
	services     map[string]models.Service
	slots        map[string]*slotRecord
	bookings     map[string]models.Booking
	byRequestID  map[string]string
	byToken      map[string]string
	actions      map[string]string
	blockedDates map[string]string
	events       map[string][]store.BookingEvent
	outbox       []store.OutboxEvent
	offset       time.Time
}

type slotRecord struct {
	mu   sync.Mutex
	slot models.Slot
}

func NewStore() *Store {
	return &Store{
		services:     map[string]models.Service{},
		slots:        map[string]*slotRecord{},
		bookings:     map[string]models.Booking{},
		byRequestID:  map[string]string{},
		byToken:      map[string]string{},
		actions:      map[string]string{},
		blockedDates: map[string]string{},
		events:       map[string][]store.BookingEvent{},
	}
}

// SeedService registers a service; test and dev seeding helper.
func (m *Store) SeedService(svc models.Service) {
	if svc.ServiceID == "" {
		svc.ServiceID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.services[svc.ServiceID] = svc
}

// SeedSlot registers a slot; test and dev seeding helper.
func (m *Store) SeedSlot(slot models.Slot) {
	if slot.SlotID == "" {
		slot.SlotID = uuid.NewString()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.slots[slot.SlotID] = &slotRecord{slot: slot}
}

func (m *Store) Reserve(ctx context.Context, input store.ReserveInput) (models.Booking, bool, error) {
	m.mu.RLock()
	record, ok := m.slots[input.SlotID]
	m.mu.RUnlock()
	if !ok {
		return models.Booking{}, false, store.ErrSlotNotFound
	}

	// Per-slot critical section: read load, compare, insert.
	record.mu.Lock()
	defer record.mu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	if existingID, ok := m.byRequestID[input.RequestID]; ok {
		return m.bookings[existingID], false, nil
	}

	slot := record.slot
	if slot.Retired {
		return models.Booking{}, false, store.ErrSlotRetired
	}
	svc, ok := m.services[slot.ServiceID]
	if !ok || !svc.Active {
		return models.Booking{}, false, store.ErrServiceNotFound
	}
	if _, blocked := m.blockedDates[dateKey(slot.StartsAt)]; blocked {
		return models.Booking{}, false, store.ErrDateBlocked
	}

	load := 0
	for _, booking := range m.bookings {
		if booking.SlotID != slot.SlotID || !models.IsActiveStatus(booking.Status) {
			continue
		}
		if booking.ClientID == input.ClientID {
			return models.Booking{}, false, store.ErrDuplicateBooking
		}
		load++
	}
	if load >= slot.Capacity {
		return models.Booking{}, false, store.ErrSlotFull
	}

	createdAt := input.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	booking := models.Booking{
		BookingID:    uuid.NewString(),
		SlotID:       slot.SlotID,
		ServiceID:    slot.ServiceID,
		ClientID:     input.ClientID,
		Status:       models.StatusPending,
		Notes:        input.Notes,
		CheckinToken: uuid.NewString(),
		RequestID:    input.RequestID,
		CreatedAt:    createdAt,
		UpdatedAt:    createdAt,
	}
	m.bookings[booking.BookingID] = booking
	m.byRequestID[input.RequestID] = booking.BookingID
	m.byToken[booking.CheckinToken] = booking.BookingID
	m.recordStatusEvents(booking, "", models.StatusPending)
	return booking, true, nil
}

func (m *Store) Transition(ctx context.Context, input store.TransitionInput) (models.Booking, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if input.RequestID != "" {
		if bookingID, ok := m.actions[input.RequestID]; ok {
			return m.bookings[bookingID], false, nil
		}
	}

	booking, ok := m.bookings[input.BookingID]
	if !ok {
		return models.Booking{}, false, store.ErrBookingNotFound
	}
	if !store.ValidTransition(booking.Status, input.Target) {
		return models.Booking{}, false, store.ErrInvalidTransition
	}
	if !store.RoleAllowed(input.ActorRole, input.Target) {
		return models.Booking{}, false, store.ErrUnauthorized
	}
	if input.ActorRole == models.RoleUser && booking.ClientID != input.ActorID {
		return models.Booking{}, false, store.ErrUnauthorized
	}

	occurredAt := input.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = time.Now().UTC()
	}

	fromStatus := booking.Status
	booking.Status = input.Target
	booking.UpdatedAt = occurredAt
	switch input.Target {
	case models.StatusApproved:
		booking.ApprovedAt = &occurredAt
	case models.StatusCheckedIn:
		booking.CheckedInAt = &occurredAt
	case models.StatusCompleted:
		booking.CompletedAt = &occurredAt
	}
	m.bookings[booking.BookingID] = booking
	if input.RequestID != "" {
		m.actions[input.RequestID] = booking.BookingID
	}
	m.recordStatusEvents(booking, fromStatus, input.Target)
	return booking, true, nil
}

func (m *Store) GetBooking(ctx context.Context, bookingID string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	booking, ok := m.bookings[bookingID]
	if !ok {
		return models.Booking{}, store.ErrBookingNotFound
	}
	return booking, nil
}

func (m *Store) GetBookingByToken(ctx context.Context, token string) (models.Booking, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	bookingID, ok := m.byToken[token]
	if !ok {
		return models.Booking{}, store.ErrBookingNotFound
	}
	return m.bookings[bookingID], nil
}

func (m *Store) GetService(ctx context.Context, serviceID string) (models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	svc, ok := m.services[serviceID]
	if !ok {
		return models.Service{}, store.ErrServiceNotFound
	}
	return svc, nil
}

func (m *Store) ListServices(ctx context.Context) ([]models.Service, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var services []models.Service
	for _, svc := range m.services {
		if svc.Active {
			services = append(services, svc)
		}
	}
	sort.Slice(services, func(i, j int) bool { return services[i].Name < services[j].Name })
	return services, nil
}

func (m *Store) GetSlot(ctx context.Context, slotID string) (models.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.slots[slotID]
	if !ok {
		return models.Slot{}, store.ErrSlotNotFound
	}
	return record.slot, nil
}

func (m *Store) ListSlots(ctx context.Context, serviceID string, from, to time.Time) ([]models.Slot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var slots []models.Slot
	for _, record := range m.slots {
		slot := record.slot
		if slot.Retired {
			continue
		}
		if serviceID != "" && slot.ServiceID != serviceID {
			continue
		}
		if slot.StartsAt.Before(from) || !slot.StartsAt.Before(to) {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].StartsAt.Equal(slots[j].StartsAt) {
			return slots[i].StartsAt.Before(slots[j].StartsAt)
		}
		return slots[i].SlotID < slots[j].SlotID
	})
	return slots, nil
}

func (m *Store) SlotLoad(ctx context.Context, slotID string) (models.Slot, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	record, ok := m.slots[slotID]
	if !ok {
		return models.Slot{}, 0, store.ErrSlotNotFound
	}
	return record.slot, m.loadLocked(slotID), nil
}

func (m *Store) SlotLoads(ctx context.Context, slotIDs []string) (map[string]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	loads := make(map[string]int, len(slotIDs))
	for _, slotID := range slotIDs {
		loads[slotID] = m.loadLocked(slotID)
	}
	return loads, nil
}

func (m *Store) loadLocked(slotID string) int {
	load := 0
	for _, booking := range m.bookings {
		if booking.SlotID == slotID && models.IsActiveStatus(booking.Status) {
			load++
		}
	}
	return load
}

func (m *Store) CountActiveAhead(ctx context.Context, bookingID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	target, ok := m.bookings[bookingID]
	if !ok {
		return 0, store.ErrBookingNotFound
	}
	count := 0
	for _, booking := range m.bookings {
		if booking.BookingID == target.BookingID || booking.SlotID != target.SlotID {
			continue
		}
		if !models.IsActiveStatus(booking.Status) {
			continue
		}
		if booking.CreatedAt.Before(target.CreatedAt) ||
			(booking.CreatedAt.Equal(target.CreatedAt) && booking.BookingID < target.BookingID) {
			count++
		}
	}
	return count, nil
}

func (m *Store) ListBookingStarts(ctx context.Context, serviceID string, from, to time.Time) ([]time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var starts []time.Time
	for _, booking := range m.bookings {
		if booking.CreatedAt.Before(from) || !booking.CreatedAt.Before(to) {
			continue
		}
		record, ok := m.slots[booking.SlotID]
		if !ok {
			continue
		}
		if serviceID != "" && record.slot.ServiceID != serviceID {
			continue
		}
		starts = append(starts, record.slot.StartsAt)
	}
	return starts, nil
}

func (m *Store) BlockDate(ctx context.Context, date time.Time, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockedDates[dateKey(date)] = reason
	return nil
}

func (m *Store) UnblockDate(ctx context.Context, date time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blockedDates, dateKey(date))
	return nil
}

func (m *Store) ListBookingEvents(ctx context.Context, bookingID string) ([]store.BookingEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.events[bookingID]
	return append([]store.BookingEvent(nil), events...), nil
}

func (m *Store) ListOutboxEvents(ctx context.Context, after time.Time, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []store.OutboxEvent
	for _, event := range m.outbox {
		if !event.CreatedAt.After(after) {
			continue
		}
		events = append(events, event)
		if len(events) >= limit {
			break
		}
	}
	return events, nil
}

func (m *Store) GetDispatchOffset(ctx context.Context) (time.Time, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.offset, nil
}

func (m *Store) UpdateDispatchOffset(ctx context.Context, last time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offset = last
	return nil
}

func (m *Store) recordStatusEvents(booking models.Booking, fromStatus, toStatus string) {
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
		return
	}

	eventType := store.EventType(toStatus)
	createdAt := time.Now().UTC()
	m.outbox = append(m.outbox, store.OutboxEvent{
		EventID:   uuid.NewString(),
		Type:      eventType,
		Payload:   payloadJSON,
		CreatedAt: createdAt,
	})

	chain := m.events[booking.BookingID]
	prevHash := ""
	if len(chain) > 0 {
		prevHash = chain[len(chain)-1].Hash
	}
	seq := len(chain) + 1
	m.events[booking.BookingID] = append(chain, store.BookingEvent{
		BookingID:  booking.BookingID,
		BookingSeq: seq,
		Type:       eventType,
		Payload:    payloadJSON,
		CreatedAt:  createdAt,
		PrevHash:   prevHash,
		Hash:       store.ComputeBookingEventHash(prevHash, booking.BookingID, eventType, payloadJSON, createdAt, seq),
	})
}

func dateKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}
