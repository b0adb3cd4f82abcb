package capacity

import "math"

const (
	StatusAvailable   = "available"
	StatusAlmostFull  = "almost_full"
	StatusFullyBooked = "fully_booked"
)

// DefaultAlmostFullRatio is the fraction of capacity at or below which a slot
// is flagged almost full. Policy constant, overridable via config.
const DefaultAlmostFullRatio = 0.2

// Tracker classifies slot occupancy. It is a pure function over a (capacity,
// load) pair; callers supply the load read from the booking store.
type Tracker struct {
	almostFullRatio float64
}

func NewTracker(almostFullRatio float64) Tracker {
	if almostFullRatio <= 0 || almostFullRatio >= 1 {
		almostFullRatio = DefaultAlmostFullRatio
	}
	return Tracker{almostFullRatio: almostFullRatio}
}

func (t Tracker) Remaining(capacity, load int) int {
	remaining := capacity - load
	if remaining < 0 {
		return 0
	}
	return remaining
}

func (t Tracker) Classify(capacity, load int) string {
	remaining := t.Remaining(capacity, load)
	if remaining == 0 {
		return StatusFullyBooked
	}
	threshold := int(math.Ceil(float64(capacity) * t.almostFullRatio))
	if remaining <= threshold {
		return StatusAlmostFull
	}
	return StatusAvailable
}
