package redisbus

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Status is the relay's current Redis connectivity snapshot, surfaced on
// the system status endpoint.
type Status struct {
	Connected  bool   `json:"connected"`
	LastError  string `json:"lastError,omitempty"`
	Reconnects int    `json:"reconnects"`
	Latency    string `json:"latency,omitempty"`
}

// Monitor performs periodic ping-based health checks against the relay's
// Redis client and reconnects with exponential backoff on failure.
type Monitor struct {
	rdb      *redis.Client
	interval time.Duration

	mu         sync.RWMutex
	connected  bool
	lastErr    string
	reconnects int
	latency    time.Duration
}

func newMonitor(rdb *redis.Client) *Monitor {
	return &Monitor{rdb: rdb, interval: 5 * time.Second, connected: true}
}

// Run starts the health check loop. It blocks until ctx is cancelled.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.check(ctx)
		}
	}
}

func (m *Monitor) check(ctx context.Context) {
	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	start := time.Now()
	err := m.rdb.Ping(pingCtx).Err()
	elapsed := time.Since(start)

	m.mu.Lock()
	wasConnected := m.connected
	if err != nil {
		m.connected = false
		m.lastErr = err.Error()
		m.mu.Unlock()
		if wasConnected {
			log.Printf("redisbus: connection lost: %v", err)
		}
		m.reconnect(ctx)
		return
	}
	m.connected = true
	m.latency = elapsed
	m.lastErr = ""
	m.mu.Unlock()
}

func (m *Monitor) reconnect(ctx context.Context) {
	const maxAttempts = 10
	const baseDelay = 500 * time.Millisecond
	const maxDelay = 30 * time.Second

	for attempt := 0; attempt < maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return
		default:
		}

		delay := time.Duration(float64(baseDelay) * math.Pow(2, float64(attempt)))
		if delay > maxDelay {
			delay = maxDelay
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err := m.rdb.Ping(pingCtx).Err()
		cancel()
		if err == nil {
			m.mu.Lock()
			m.connected = true
			m.lastErr = ""
			m.reconnects++
			m.mu.Unlock()
			log.Printf("redisbus: reconnected after %d attempts", attempt+1)
			return
		}
	}
	log.Printf("redisbus: reconnect failed after %d attempts, retrying on next health check", maxAttempts)
}

// IsConnected reports whether the last health check succeeded.
func (m *Monitor) IsConnected() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.connected
}

// GetStatus returns the current health status.
func (m *Monitor) GetStatus() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Status{Connected: m.connected, Reconnects: m.reconnects}
	if m.lastErr != "" {
		s.LastError = m.lastErr
	}
	if m.latency > 0 {
		s.Latency = m.latency.String()
	}
	return s
}
