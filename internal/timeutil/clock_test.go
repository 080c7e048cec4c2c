package timeutil

import (
	"testing"
	"time"
)

func TestRealClock_Now(t *testing.T) {
	clock := RealClock{}
	before := time.Now()
	now := clock.Now()
	after := time.Now()

	if now.Before(before) || now.After(after) {
		t.Errorf("Now() = %v, expected between %v and %v", now, before, after)
	}
}

func TestRealClock_Since(t *testing.T) {
	clock := RealClock{}
	past := time.Now().Add(-time.Second)
	d := clock.Since(past)

	if d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestMonotonicSeconds_NonDecreasing(t *testing.T) {
	prev := MonotonicSeconds()
	for i := 0; i < 100; i++ {
		now := MonotonicSeconds()
		if now < prev {
			t.Fatalf("MonotonicSeconds went backwards: %f < %f", now, prev)
		}
		prev = now
	}
}

func TestWallSeconds(t *testing.T) {
	got := WallSeconds()
	want := float64(time.Now().Unix())
	if got < want-1 || got > want+1 {
		t.Errorf("WallSeconds() = %f, want about %f", got, want)
	}
}

func TestMockClock(t *testing.T) {
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	clock := NewMockClock(start)

	if !clock.Now().Equal(start) {
		t.Errorf("Now() = %v, want %v", clock.Now(), start)
	}

	clock.Advance(1500 * time.Millisecond)
	if got := clock.Since(start); got != 1500*time.Millisecond {
		t.Errorf("Since() = %v, want 1.5s", got)
	}

	want := float64(start.Unix()) + 1.5
	if got := clock.Seconds(); got != want {
		t.Errorf("Seconds() = %f, want %f", got, want)
	}

	later := start.Add(time.Hour)
	clock.Set(later)
	if !clock.Now().Equal(later) {
		t.Errorf("Now() after Set = %v, want %v", clock.Now(), later)
	}
}
