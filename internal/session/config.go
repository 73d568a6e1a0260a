package session

import "time"

// Config holds the tunable cadences and thresholds a DeviceSession runs
// with; an OscilloscopeSession reads only PollInterval and marks itself
// disconnected on its first failed status poll. The source left the error-threshold
// constant and history retention window as unfixed protocol-level
// references rather than numeric constants, so they are plain
// configuration here with the defaults the source suggests.
type Config struct {
	PollInterval       time.Duration
	DebounceInterval   time.Duration
	ErrorThreshold     int
	HistoryRetention   time.Duration
	StatusRefreshEvery int // emit a field-diff refresh every N poll ticks
}

// DefaultConfig returns the cadences named in the source: ~250ms polling
// and debounce windows, a 3-tick error threshold, and 30 minutes of
// retained history.
func DefaultConfig() Config {
	return Config{
		PollInterval:       250 * time.Millisecond,
		DebounceInterval:   250 * time.Millisecond,
		ErrorThreshold:     3,
		HistoryRetention:   30 * time.Minute,
		StatusRefreshEvery: 4,
	}
}
