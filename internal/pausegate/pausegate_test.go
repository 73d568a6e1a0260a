package pausegate

import (
	"context"
	"testing"
	"time"
)

func TestGateStartsUnpausedAndWaitReturnsImmediately(t *testing.T) {
	g := New()
	if g.IsPaused() {
		t.Fatal("expected a new gate to start unpaused")
	}
	if err := g.Wait(context.Background()); err != nil {
		t.Fatalf("Wait on an unpaused gate should not block or error: %v", err)
	}
}

func TestGatePauseBlocksWaitUntilResume(t *testing.T) {
	g := New()
	g.Pause()
	if !g.IsPaused() {
		t.Fatal("expected the gate to report paused")
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait(context.Background()) }()

	select {
	case <-done:
		t.Fatal("Wait returned before Resume was called")
	case <-time.After(20 * time.Millisecond):
	}

	g.Resume()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Wait returned an error after Resume: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not unblock after Resume")
	}
}

func TestGateResumeAccumulatesOffset(t *testing.T) {
	g := New()
	g.Pause()
	time.Sleep(20 * time.Millisecond)
	g.Resume()

	if g.Offset() < 20*time.Millisecond {
		t.Fatalf("expected an accumulated offset of at least 20ms, got %v", g.Offset())
	}
}

func TestGateWaitRespectsContextCancellation(t *testing.T) {
	g := New()
	g.Pause()
	defer g.Resume()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	if err := g.Wait(ctx); err == nil {
		t.Fatal("expected Wait to return the context's error once it expires")
	}
}

func TestGatePauseAndResumeAreIdempotent(t *testing.T) {
	g := New()
	g.Resume()
	if g.IsPaused() {
		t.Fatal("Resume on an already-running gate should be a no-op")
	}

	g.Pause()
	g.Pause()
	if !g.IsPaused() {
		t.Fatal("expected the gate to remain paused")
	}
}
