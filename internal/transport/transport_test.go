package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"
)

func testConfig() Config {
	return Config{PostDelay: time.Millisecond, QueryTimeout: 200 * time.Millisecond}
}

func TestQueryEchoesCorrectReply(t *testing.T) {
	port := newFakePort(func(cmd string) string {
		return "REPLY:" + cmd
	})
	tr := New(port, testConfig())

	reply, err := tr.Query(context.Background(), "MEAS:VOLT?")
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if reply != "REPLY:MEAS:VOLT?" {
		t.Fatalf("got reply %q", reply)
	}
}

// TestSerializedConcurrentQueries asserts that for any sequence of
// concurrent driver calls on a single session, the transport observes a
// total order and replies pair to the correct request.
func TestSerializedConcurrentQueries(t *testing.T) {
	var mu sync.Mutex
	inFlight := 0
	maxInFlight := 0

	port := newFakePort(func(cmd string) string {
		mu.Lock()
		inFlight++
		if inFlight > maxInFlight {
			maxInFlight = inFlight
		}
		mu.Unlock()

		time.Sleep(2 * time.Millisecond)

		mu.Lock()
		inFlight--
		mu.Unlock()
		return "OK:" + cmd
	})
	tr := New(port, testConfig())

	const n = 20
	var wg sync.WaitGroup
	results := make([]string, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			cmd := fmt.Sprintf("CMD%d", i)
			reply, err := tr.Query(context.Background(), cmd)
			if err != nil {
				t.Errorf("query %d: %v", i, err)
				return
			}
			results[i] = reply
		}(i)
	}
	wg.Wait()

	if maxInFlight != 1 {
		t.Fatalf("expected at most 1 in-flight operation, observed %d", maxInFlight)
	}
	for i, r := range results {
		want := fmt.Sprintf("OK:CMD%d", i)
		if r != want {
			t.Fatalf("result %d: got %q want %q (reply misrouted)", i, r, want)
		}
	}
}

func TestWriteAppliesPostDelay(t *testing.T) {
	port := newFakePort(nil)
	cfg := testConfig()
	cfg.PostDelay = 30 * time.Millisecond
	tr := New(port, cfg)

	start := time.Now()
	if err := tr.Write(context.Background(), "OUT1:ON"); err != nil {
		t.Fatalf("write: %v", err)
	}
	if elapsed := time.Since(start); elapsed < cfg.PostDelay {
		t.Fatalf("write returned after %s, want >= %s", elapsed, cfg.PostDelay)
	}
	if got := port.Written(); len(got) != 1 || got[0] != "OUT1:ON" {
		t.Fatalf("written = %v", got)
	}
}

func TestQueryTimeout(t *testing.T) {
	port := newFakePort(func(cmd string) string { return "" }) // never replies
	cfg := testConfig()
	cfg.QueryTimeout = 10 * time.Millisecond
	tr := New(port, cfg)

	_, err := tr.Query(context.Background(), "MEAS:VOLT?")
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

func TestWriteErrorLatchesDisconnected(t *testing.T) {
	tr := New(erroringPort{}, testConfig())

	_, err := tr.Query(context.Background(), "MEAS:VOLT?")
	if err == nil || !strings.Contains(err.Error(), "transport disconnected") {
		t.Fatalf("expected disconnected error, got %v", err)
	}
	if tr.IsOpen() {
		t.Fatal("expected IsOpen() == false after latch")
	}

	// Subsequent operations fail fast without touching the port again.
	_, err2 := tr.Query(context.Background(), "MEAS:VOLT?")
	if err2 == nil || !strings.Contains(err2.Error(), "transport disconnected") {
		t.Fatalf("expected fast-fail disconnected error, got %v", err2)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	port := newFakePort(func(cmd string) string { return "OK" })
	tr := New(port, testConfig())

	if err := tr.Close(); err != nil {
		t.Fatalf("first close: %v", err)
	}
	if err := tr.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if tr.IsOpen() {
		t.Fatal("expected closed transport to report IsOpen() == false")
	}

	_, err := tr.Query(context.Background(), "X")
	if err == nil {
		t.Fatal("expected query on closed transport to fail")
	}
}

func TestCloseWaitsForInFlightOperation(t *testing.T) {
	release := make(chan struct{})
	port := newFakePort(func(cmd string) string {
		<-release
		return "OK"
	})
	tr := New(port, testConfig())

	done := make(chan struct{})
	go func() {
		tr.Query(context.Background(), "SLOW")
		close(done)
	}()

	time.Sleep(5 * time.Millisecond) // let the query acquire the mutex

	closeDone := make(chan struct{})
	go func() {
		tr.Close()
		close(closeDone)
	}()

	select {
	case <-closeDone:
		t.Fatal("Close returned before in-flight operation completed")
	case <-time.After(10 * time.Millisecond):
	}

	close(release)
	<-done
	<-closeDone
}
