package engine

import "time"

type pricePoint struct {
	at    time.Time
	price float64
}

// priceHistory is a per-session record of recently observed prices, pruned
// to the longest window any rule needs. Not safe for concurrent use; the
// engine serializes access per session.
type priceHistory struct {
	points []pricePoint
}

func (h *priceHistory) observe(at time.Time, price float64, keep time.Duration) {
	h.points = append(h.points, pricePoint{at: at, price: price})

	cutoff := at.Add(-keep)
	drop := 0
	for drop < len(h.points) && h.points[drop].at.Before(cutoff) {
		drop++
	}
	if drop > 0 {
		h.points = h.points[drop:]
	}
}

// windowMax returns the highest price observed within window of now. The
// second return is false when the history holds no point in the window.
func (h *priceHistory) windowMax(now time.Time, window time.Duration) (float64, bool) {
	cutoff := now.Add(-window)
	max := 0.0
	found := false
	for _, p := range h.points {
		if p.at.Before(cutoff) {
			continue
		}
		if !found || p.price > max {
			max = p.price
			found = true
		}
	}
	return max, found
}

// rateOfChange returns the percent change between the oldest point inside
// the window and the newest point. Positive values mean the price is rising.
func (h *priceHistory) rateOfChange(now time.Time, window time.Duration) (float64, bool) {
	cutoff := now.Add(-window)
	var oldest, newest *pricePoint
	for i := range h.points {
		p := &h.points[i]
		if p.at.Before(cutoff) {
			continue
		}
		if oldest == nil {
			oldest = p
		}
		newest = p
	}
	if oldest == nil || newest == nil || oldest == newest || oldest.price == 0 {
		return 0, false
	}
	return (newest.price - oldest.price) / oldest.price * 100, true
}
