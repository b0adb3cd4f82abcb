package engine

import (
	"context"
	"time"

	"smartqueue/booking-service/internal/capacity"
	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/recommend"
	"smartqueue/booking-service/internal/store"
	"smartqueue/booking-service/internal/traffic"
)

// Engine is the booking orchestrator: the single entry point composing the
// store's atomic reserve with capacity classification, wait estimation, and
// slot recommendation.
type Engine struct {
	store      store.BookingStore
	tracker    capacity.Tracker
	windowDays int
	now        func() time.Time
}

type Options struct {
	AlmostFullRatio float64
	WindowDays      int
	Now             func() time.Time
}

func New(st store.BookingStore, options Options) *Engine {
	windowDays := options.WindowDays
	if windowDays <= 0 {
		windowDays = traffic.DefaultWindowDays
	}
	now := options.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{
		store:      st,
		tracker:    capacity.NewTracker(options.AlmostFullRatio),
		windowDays: windowDays,
		now:        now,
	}
}

// ReserveResult is the composite confirmation returned for a new booking.
type ReserveResult struct {
	Booking     models.Booking `json:"booking"`
	WaitMinutes int            `json:"wait_minutes"`
	SlotStatus  string         `json:"slot_status"`
	Created     bool           `json:"created"`
}

// Reserve books a slot and computes the confirmation extras. The reservation
// itself is atomic in the store; on ErrSlotFull nothing is persisted and the
// caller may retry against another slot. Histograms are never recomputed here.
func (e *Engine) Reserve(ctx context.Context, input store.ReserveInput) (ReserveResult, error) {
	if input.CreatedAt.IsZero() {
		input.CreatedAt = e.now()
	}
	booking, created, err := e.store.Reserve(ctx, input)
	if err != nil {
		return ReserveResult{}, err
	}

	wait, err := e.Estimate(ctx, booking)
	if err != nil {
		return ReserveResult{}, err
	}

	slot, load, err := e.store.SlotLoad(ctx, booking.SlotID)
	if err != nil {
		return ReserveResult{}, err
	}

	return ReserveResult{
		Booking:     booking,
		WaitMinutes: int(wait / time.Minute),
		SlotStatus:  e.tracker.Classify(slot.Capacity, load),
		Created:     created,
	}, nil
}

// Estimate predicts how long the client waits once the slot opens: active
// bookings ahead in creation order times the service's average duration. The
// estimate only shrinks as earlier bookings complete or cancel.
func (e *Engine) Estimate(ctx context.Context, booking models.Booking) (time.Duration, error) {
	ahead, err := e.store.CountActiveAhead(ctx, booking.BookingID)
	if err != nil {
		return 0, err
	}
	svc, err := e.store.GetService(ctx, booking.ServiceID)
	if err != nil {
		return 0, err
	}
	return time.Duration(ahead) * svc.AverageDuration(), nil
}

// Transition drives a booking along its status lifecycle. Edge and role
// validation happen inside the store's transaction.
func (e *Engine) Transition(ctx context.Context, input store.TransitionInput) (models.Booking, error) {
	if input.OccurredAt.IsZero() {
		input.OccurredAt = e.now()
	}
	booking, _, err := e.store.Transition(ctx, input)
	return booking, err
}

// Recommend ranks candidate slots in the window by start time and flags the
// low-traffic bookable ones. Full slots stay in the result.
func (e *Engine) Recommend(ctx context.Context, serviceID string, from, to time.Time) ([]recommend.Candidate, error) {
	histogram, err := traffic.Build(ctx, e.store, serviceID, e.windowDays, e.now())
	if err != nil {
		return nil, err
	}

	slots, err := e.store.ListSlots(ctx, serviceID, from, to)
	if err != nil {
		return nil, err
	}
	if len(slots) == 0 {
		return []recommend.Candidate{}, nil
	}

	slotIDs := make([]string, len(slots))
	for i, slot := range slots {
		slotIDs[i] = slot.SlotID
	}
	loads, err := e.store.SlotLoads(ctx, slotIDs)
	if err != nil {
		return nil, err
	}

	return recommend.Rank(slots, loads, histogram, e.tracker), nil
}

// Classify reports a slot's live occupancy status.
func (e *Engine) Classify(ctx context.Context, slotID string) (string, int, error) {
	slot, load, err := e.store.SlotLoad(ctx, slotID)
	if err != nil {
		return "", 0, err
	}
	return e.tracker.Classify(slot.Capacity, load), e.tracker.Remaining(slot.Capacity, load), nil
}
