package traffic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"
)

// ErrUnavailable wraps booking-history source failures so callers can
// distinguish "no data" from "could not read data".
var ErrUnavailable = errors.New("booking history unavailable")

// DefaultWindowDays is the trailing window the histogram is built over.
// Policy constant, overridable via config.
const DefaultWindowDays = 30

// Source is the booking-history data source: slot start times of bookings
// created within the window. Implemented by the booking store.
type Source interface {
	ListBookingStarts(ctx context.Context, serviceID string, from, to time.Time) ([]time.Time, error)
}

// Histogram is a dense hour-of-day booking count; missing hours stay zero.
type Histogram [24]int

// Build recomputes the histogram from scratch over the trailing window.
// Deterministic for identical source data, so repeated builds are idempotent.
func Build(ctx context.Context, src Source, serviceID string, windowDays int, now time.Time) (Histogram, error) {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}
	from := now.AddDate(0, 0, -windowDays)
	starts, err := src.ListBookingStarts(ctx, serviceID, from, now)
	if err != nil {
		return Histogram{}, fmt.Errorf("%w: %s", ErrUnavailable, err)
	}

	var histogram Histogram
	for _, start := range starts {
		histogram[start.Hour()]++
	}
	return histogram, nil
}

// Median over all 24 hour counts. With an even value count the median is the
// mean of the two middle values.
func (h Histogram) Median() float64 {
	counts := make([]int, len(h))
	copy(counts, h[:])
	sort.Ints(counts)
	mid := len(counts) / 2
	return (float64(counts[mid-1]) + float64(counts[mid])) / 2
}

// LowTrafficHours returns the hours whose count is at or below the median.
func (h Histogram) LowTrafficHours() map[int]bool {
	median := h.Median()
	low := make(map[int]bool)
	for hour, count := range h {
		if float64(count) <= median {
			low[hour] = true
		}
	}
	return low
}
