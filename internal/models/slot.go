package models

import "time"

type Slot struct {
	SlotID    string    `json:"slot_id"`
	ServiceID string    `json:"service_id"`
	StartsAt  time.Time `json:"starts_at"`
	Capacity  int       `json:"capacity"`
	Retired   bool      `json:"retired,omitempty"`
}
