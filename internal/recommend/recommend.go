package recommend

import (
	"sort"

	"smartqueue/booking-service/internal/capacity"
	"smartqueue/booking-service/internal/models"
	"smartqueue/booking-service/internal/traffic"
)

// Candidate is a slot annotated with occupancy and the recommendation flag.
type Candidate struct {
	Slot        models.Slot `json:"slot"`
	Remaining   int         `json:"remaining"`
	Status      string      `json:"status"`
	Recommended bool        `json:"recommended"`
}

// Rank orders candidates chronologically (slot ID breaks ties) and flags the
// ones with spare capacity in a low-traffic hour. Fully booked slots are kept
// in the result with the flag forced false; hiding them is the caller's call.
func Rank(slots []models.Slot, loads map[string]int, histogram traffic.Histogram, tracker capacity.Tracker) []Candidate {
	low := histogram.LowTrafficHours()

	ordered := make([]models.Slot, len(slots))
	copy(ordered, slots)
	sort.SliceStable(ordered, func(i, j int) bool {
		if !ordered[i].StartsAt.Equal(ordered[j].StartsAt) {
			return ordered[i].StartsAt.Before(ordered[j].StartsAt)
		}
		return ordered[i].SlotID < ordered[j].SlotID
	})

	candidates := make([]Candidate, 0, len(ordered))
	for _, slot := range ordered {
		remaining := tracker.Remaining(slot.Capacity, loads[slot.SlotID])
		candidates = append(candidates, Candidate{
			Slot:        slot,
			Remaining:   remaining,
			Status:      tracker.Classify(slot.Capacity, loads[slot.SlotID]),
			Recommended: remaining > 0 && low[slot.StartsAt.Hour()],
		})
	}
	return candidates
}
