// Package history implements the bounded measurement history ring used by
// device sessions: timestamps plus one float64 series per measurement
// channel, evicting samples older than a retention window.
package history

import "time"

// Ring holds a time-bounded series of (timestamp, measurement-map) samples.
// It is not safe for concurrent use; callers serialize access (the owning
// device session does this by construction, being its only writer).
type Ring struct {
	retention time.Duration
	timestamps []time.Time
	series     map[string][]float64
}

// New creates an empty Ring retaining samples for at most retention.
func New(retention time.Duration) *Ring {
	return &Ring{
		retention: retention,
		series:    make(map[string][]float64),
	}
}

// Append adds one sample at ts with the given per-channel measurements,
// then evicts any samples older than the retention window relative to ts.
func (r *Ring) Append(ts time.Time, measurements map[string]float64) {
	r.timestamps = append(r.timestamps, ts)
	for name, v := range measurements {
		s, seen := r.series[name]
		if !seen {
			// A channel first seen now is backfilled with this first value
			// for the samples that preceded it.
			for len(s) < len(r.timestamps)-1 {
				s = append(s, v)
			}
		}
		r.series[name] = append(s, v)
	}
	// Channels not present in this sample get held at their last known
	// value so all series stay the same length as timestamps.
	for name, s := range r.series {
		if len(s) < len(r.timestamps) {
			if _, ok := measurements[name]; !ok {
				r.series[name] = append(s, s[len(s)-1])
			}
		}
	}
	r.evict(ts)
}

func (r *Ring) evict(now time.Time) {
	cutoff := now.Add(-r.retention)
	drop := 0
	for drop < len(r.timestamps) && r.timestamps[drop].Before(cutoff) {
		drop++
	}
	if drop == 0 {
		return
	}
	r.timestamps = append([]time.Time(nil), r.timestamps[drop:]...)
	for name, s := range r.series {
		r.series[name] = append([]float64(nil), s[drop:]...)
	}
}

// Len returns the number of retained samples.
func (r *Ring) Len() int { return len(r.timestamps) }

// Timestamps returns a copy of the retained sample timestamps.
func (r *Ring) Timestamps() []time.Time {
	out := make([]time.Time, len(r.timestamps))
	copy(out, r.timestamps)
	return out
}

// Series returns a copy of the retained values for one channel, or nil if
// the channel has never been observed.
func (r *Ring) Series(name string) []float64 {
	s, ok := r.series[name]
	if !ok {
		return nil
	}
	out := make([]float64, len(s))
	copy(out, s)
	return out
}

// Channels returns the names of all channels observed so far.
func (r *Ring) Channels() []string {
	out := make([]string, 0, len(r.series))
	for name := range r.series {
		out = append(out, name)
	}
	return out
}
