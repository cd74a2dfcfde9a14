package sampler

import (
	"sync/atomic"
	"testing"
	"time"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestSamplerFixedCadence(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var fired []time.Duration
	s.Start(350*time.Millisecond, func() {
		fired = append(fired, clock.Now().Sub(epoch))
	})

	clock.Advance(0)
	clock.Advance(1100 * time.Millisecond)

	want := []time.Duration{0, 350 * time.Millisecond, 700 * time.Millisecond, 1050 * time.Millisecond}
	if len(fired) != len(want) {
		t.Fatalf("fired %d ticks (%v), want %d", len(fired), fired, len(want))
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("tick %d at %v, want %v", i, fired[i], want[i])
		}
	}
}

func TestSamplerDoubleStartIsNoop(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var a, b int
	if !s.Start(100*time.Millisecond, func() { a++ }) {
		t.Fatal("first Start should succeed")
	}
	if s.Start(100*time.Millisecond, func() { b++ }) {
		t.Fatal("second Start should be a no-op")
	}
	if got := clock.Pending(); got != 1 {
		t.Errorf("pending timers = %d, want 1", got)
	}

	clock.Advance(300 * time.Millisecond)

	if a != 4 {
		t.Errorf("first callback fired %d times, want 4", a)
	}
	if b != 0 {
		t.Errorf("second callback fired %d times, want 0", b)
	}
}

func TestSamplerStop(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var count int
	s.Start(100*time.Millisecond, func() { count++ })
	clock.Advance(150 * time.Millisecond)
	s.Stop()
	s.Stop()

	clock.Advance(time.Second)

	if count != 2 {
		t.Errorf("ticks = %d, want 2", count)
	}
	if s.Running() {
		t.Error("sampler should not be running")
	}
	if clock.Pending() != 0 {
		t.Errorf("pending timers = %d, want 0", clock.Pending())
	}
}

func TestSamplerStopFromTick(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var count int
	s.Start(50*time.Millisecond, func() {
		count++
		if count == 3 {
			s.Stop()
		}
	})
	clock.Advance(time.Second)

	if count != 3 {
		t.Errorf("ticks = %d, want 3", count)
	}
}

func TestSamplerRestart(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var first, second int
	s.Start(100*time.Millisecond, func() { first++ })
	clock.Advance(0)
	s.Stop()

	if !s.Start(100*time.Millisecond, func() { second++ }) {
		t.Fatal("restart should succeed")
	}
	clock.Advance(200 * time.Millisecond)

	if first != 1 {
		t.Errorf("first = %d, want 1", first)
	}
	if second != 3 {
		t.Errorf("second = %d, want 3", second)
	}
	if got := s.Stats().Ticks; got != 4 {
		t.Errorf("Stats().Ticks = %d, want 4", got)
	}
}

func TestSamplerRejectsBadInterval(t *testing.T) {
	s := New(NewManualClock(epoch), nil)
	if s.Start(0, func() {}) {
		t.Error("zero interval should be rejected")
	}
	if s.Start(time.Second, nil) {
		t.Error("nil callback should be rejected")
	}
}

func TestSamplerSkipsMissedDeadlines(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var fired []time.Duration
	s.Start(100*time.Millisecond, func() {
		at := clock.Now().Sub(epoch)
		fired = append(fired, at)
		if at == 100*time.Millisecond {
			// Simulate a stall longer than two periods inside the tick.
			clock.mu.Lock()
			clock.now = clock.now.Add(250 * time.Millisecond)
			clock.mu.Unlock()
		}
	})
	clock.Advance(500 * time.Millisecond)

	// The tick due at 200ms lands late once; 300ms is skipped and the
	// schedule realigns on 400ms.
	want := []time.Duration{0, 100 * time.Millisecond, 350 * time.Millisecond, 400 * time.Millisecond, 500 * time.Millisecond}
	if len(fired) != len(want) {
		t.Fatalf("fired = %v, want %v", fired, want)
	}
	for i := range want {
		if fired[i] != want[i] {
			t.Errorf("tick %d at %v, want %v", i, fired[i], want[i])
		}
	}
	if got := s.Stats().Skipped; got == 0 {
		t.Error("expected skipped deadlines to be counted")
	}
}

func TestSamplerAfter(t *testing.T) {
	clock := NewManualClock(epoch)
	s := New(clock, nil)

	var fired atomic.Bool
	timer := s.After(800*time.Millisecond, func() { fired.Store(true) })

	clock.Advance(799 * time.Millisecond)
	if fired.Load() {
		t.Fatal("fired early")
	}
	clock.Advance(time.Millisecond)
	if !fired.Load() {
		t.Fatal("did not fire at deadline")
	}
	if timer.Stop() {
		t.Error("Stop after fire should return false")
	}
}

func TestSamplerRealClock(t *testing.T) {
	s := New(nil, nil)

	var count atomic.Int32
	s.Start(10*time.Millisecond, func() { count.Add(1) })
	time.Sleep(55 * time.Millisecond)
	s.Stop()
	after := count.Load()
	time.Sleep(30 * time.Millisecond)

	if after < 3 {
		t.Errorf("ticks = %d, want at least 3", after)
	}
	// A tick already dispatched when Stop ran may still land.
	if count.Load() > after+1 {
		t.Errorf("ticks continued after Stop: %d -> %d", after, count.Load())
	}
}

func TestManualClockSet(t *testing.T) {
	clock := NewManualClock(epoch)

	var fired int
	clock.AfterFunc(time.Second, func() { fired++ })

	clock.Set(epoch.Add(-time.Hour))
	if !clock.Now().Equal(epoch) || fired != 0 {
		t.Fatalf("Set into the past moved the clock: now=%v fired=%d", clock.Now(), fired)
	}

	clock.Set(epoch.Add(2 * time.Second))
	if fired != 1 {
		t.Errorf("fired = %d, want 1", fired)
	}
	if got := clock.Now().Sub(epoch); got != 2*time.Second {
		t.Errorf("now = +%v, want +2s", got)
	}
	if clock.Pending() != 0 {
		t.Errorf("pending = %d", clock.Pending())
	}
}
