package history

import (
	"testing"
	"time"
)

func TestRingAppendAndQuery(t *testing.T) {
	r := New(time.Minute)
	base := time.Now()

	r.Append(base, map[string]float64{"voltage": 5.0, "current": 1.0})
	r.Append(base.Add(time.Second), map[string]float64{"voltage": 5.1, "current": 1.1})

	if r.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", r.Len())
	}
	if got := r.Series("voltage"); len(got) != 2 || got[1] != 5.1 {
		t.Fatalf("unexpected voltage series: %v", got)
	}
	if got := r.Series("missing"); got != nil {
		t.Fatalf("expected nil series for an unobserved channel, got %v", got)
	}
}

func TestRingEvictsOlderThanRetention(t *testing.T) {
	r := New(10 * time.Second)
	base := time.Now()

	r.Append(base, map[string]float64{"voltage": 1.0})
	r.Append(base.Add(20*time.Second), map[string]float64{"voltage": 2.0})

	if r.Len() != 1 {
		t.Fatalf("expected the first sample to be evicted, got %d remaining", r.Len())
	}
	if got := r.Series("voltage"); len(got) != 1 || got[0] != 2.0 {
		t.Fatalf("unexpected voltage series after eviction: %v", got)
	}
}

func TestRingPadsChannelsMissingFromASample(t *testing.T) {
	r := New(time.Minute)
	base := time.Now()

	r.Append(base, map[string]float64{"voltage": 5.0, "current": 1.0})
	r.Append(base.Add(time.Second), map[string]float64{"voltage": 5.5})

	current := r.Series("current")
	if len(current) != 2 {
		t.Fatalf("expected current series padded to length 2, got %d", len(current))
	}
	if current[1] != current[0] {
		t.Fatalf("expected the padded sample to hold the last known value, got %v", current)
	}
}

func TestRingChannelsListsAllObserved(t *testing.T) {
	r := New(time.Minute)
	r.Append(time.Now(), map[string]float64{"voltage": 1, "current": 1})

	channels := r.Channels()
	if len(channels) != 2 {
		t.Fatalf("expected 2 channels, got %v", channels)
	}
}
