package eventbus

import "testing"

func TestSinkDrainReturnsInOrder(t *testing.T) {
	s := NewSink(4)
	s.Send("a")
	s.Send("b")
	s.Send("c")

	<-s.Notify()
	got := s.Drain()
	if len(got) != 3 || got[0] != "a" || got[1] != "b" || got[2] != "c" {
		t.Fatalf("unexpected drain order: %v", got)
	}
	if s.Dropped() != 0 {
		t.Fatalf("expected 0 dropped, got %d", s.Dropped())
	}
}

func TestSinkDropsOldestWhenFull(t *testing.T) {
	s := NewSink(2)
	s.Send(1)
	s.Send(2)
	s.Send(3) // buffer full at 2: drops 1, keeps [2, 3]

	got := s.Drain()
	if len(got) != 2 || got[0] != 2 || got[1] != 3 {
		t.Fatalf("expected oldest entry dropped, got %v", got)
	}
	if s.Dropped() != 1 {
		t.Fatalf("expected Dropped() == 1, got %d", s.Dropped())
	}
}

func TestSinkDrainEmptiesBuffer(t *testing.T) {
	s := NewSink(4)
	s.Send("x")
	s.Drain()
	if got := s.Drain(); got != nil {
		t.Fatalf("expected nil on second drain, got %v", got)
	}
}

func TestSinkNeverBlocksOnSend(t *testing.T) {
	s := NewSink(1)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Send(i)
		}
		close(done)
	}()
	<-done
	if s.Dropped() == 0 {
		t.Fatalf("expected some drops with a capacity-1 sink under load")
	}
}

func TestNewSinkClampsCapacity(t *testing.T) {
	s := NewSink(0)
	s.Send("a")
	s.Send("b")
	if got := s.Drain(); len(got) != 1 {
		t.Fatalf("expected capacity clamped to 1, got buffer %v", got)
	}
}
