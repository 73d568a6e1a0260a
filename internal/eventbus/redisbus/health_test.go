package redisbus

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

func newUnreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		ReadTimeout: 100 * time.Millisecond,
	})
}

func TestNewMonitorDefaults(t *testing.T) {
	rdb := newUnreachableClient()
	defer rdb.Close()

	m := newMonitor(rdb)
	if m.interval != 5*time.Second {
		t.Errorf("expected default interval 5s, got %v", m.interval)
	}
	if !m.IsConnected() {
		t.Error("expected initial state to be connected")
	}
}

func TestCheckFailsAndSetsDisconnected(t *testing.T) {
	rdb := newUnreachableClient()
	defer rdb.Close()

	m := newMonitor(rdb)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	m.check(ctx)

	if m.IsConnected() {
		t.Error("expected disconnected after failed ping")
	}
	status := m.GetStatus()
	if status.Connected {
		t.Error("expected status.Connected=false")
	}
	if status.LastError == "" {
		t.Error("expected LastError to be set")
	}
}

func TestRunStopsOnContextCancel(t *testing.T) {
	rdb := newUnreachableClient()
	defer rdb.Close()

	m := newMonitor(rdb)
	m.interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		m.Run(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop after context cancel")
	}
}
