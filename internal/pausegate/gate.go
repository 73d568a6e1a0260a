// Package pausegate provides a suspend/resume primitive shared by the
// sequence and trigger engines: a background loop calls Wait before
// each unit of work and blocks there for as long as the gate is paused.
// It tracks accumulated pause time so a caller scheduling wall-clock
// deadlines can shift them forward by however long the gate spent
// paused, instead of firing a burst of overdue work on resume.
package pausegate

import (
	"context"
	"sync"
	"time"
)

// Gate is a pausable signal: closed channel means running, a fresh
// channel means paused.
type Gate struct {
	mu          sync.Mutex
	ch          chan struct{}
	paused      bool
	pausedAt    time.Time
	pauseOffset time.Duration
}

// New returns a Gate that starts unpaused.
func New() *Gate {
	ch := make(chan struct{})
	close(ch)
	return &Gate{ch: ch}
}

// Wait blocks while the gate is paused, returning early if ctx is done.
func (g *Gate) Wait(ctx context.Context) error {
	g.mu.Lock()
	ch := g.ch
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pause suspends Wait callers until Resume. A no-op if already paused.
func (g *Gate) Pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		return
	}
	g.paused = true
	g.pausedAt = time.Now()
	g.ch = make(chan struct{})
}

// Resume releases any blocked Wait callers and accumulates the elapsed
// pause duration into Offset. A no-op if not paused.
func (g *Gate) Resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		return
	}
	g.paused = false
	g.pauseOffset += time.Since(g.pausedAt)
	close(g.ch)
}

// Offset returns the total duration this gate has spent paused so far.
func (g *Gate) Offset() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.pauseOffset
}

// IsPaused reports whether the gate is currently paused.
func (g *Gate) IsPaused() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.paused
}
