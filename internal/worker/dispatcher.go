package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"

	"smartqueue/booking-service/internal/store"
)

// Dispatcher relays outbox events to the notification collaborator. Delivery
// is at-least-once: the offset only advances after a batch is processed, so a
// crash replays the tail of the batch.
type Dispatcher struct {
	store     store.BookingStore
	client    *http.Client
	targetURL string
	batchSize int
}

type Config struct {
	TargetURL string
	BatchSize int
	Timeout   time.Duration
}

func New(st store.BookingStore, cfg Config) *Dispatcher {
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = 50
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{
		store:     st,
		client:    &http.Client{Timeout: timeout},
		targetURL: cfg.TargetURL,
		batchSize: batch,
	}
}

func (d *Dispatcher) Run(ctx context.Context) error {
	last, err := d.store.GetDispatchOffset(ctx)
	if err != nil {
		return err
	}

	events, err := d.store.ListOutboxEvents(ctx, last, d.batchSize)
	if err != nil {
		return err
	}

	for _, event := range events {
		if err := d.deliver(ctx, event); err != nil {
			log.Printf("dispatch error event=%s: %v", event.EventID, err)
		}
		last = event.CreatedAt
	}

	if !last.IsZero() && len(events) > 0 {
		if err := d.store.UpdateDispatchOffset(ctx, last); err != nil {
			return err
		}
	}
	return nil
}

type envelope struct {
	EventID    string          `json:"event_id"`
	Type       string          `json:"type"`
	Payload    json.RawMessage `json:"payload"`
	OccurredAt time.Time       `json:"occurred_at"`
}

func (d *Dispatcher) deliver(ctx context.Context, event store.OutboxEvent) error {
	body, err := json.Marshal(envelope{
		EventID:    event.EventID,
		Type:       event.Type,
		Payload:    event.Payload,
		OccurredAt: event.CreatedAt,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.targetURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("target returned %d", resp.StatusCode)
	}
	return nil
}

func Start(ctx context.Context, interval time.Duration, d *Dispatcher) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.Run(ctx); err != nil {
				log.Printf("dispatch worker error: %v", err)
			}
		}
	}
}
