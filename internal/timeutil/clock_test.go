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
	if d := clock.Since(past); d < time.Second {
		t.Errorf("Since() returned %v, expected >= 1s", d)
	}
}

func TestRealClock_After(t *testing.T) {
	clock := RealClock{}
	select {
	case <-clock.After(10 * time.Millisecond):
	case <-time.After(time.Second):
		t.Error("After did not fire")
	}
}

func TestMockClock_SleepAdvances(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewMockClock(start)

	clock.Sleep(2 * time.Second)
	clock.Sleep(500 * time.Millisecond)

	if got := clock.Since(start); got != 2500*time.Millisecond {
		t.Errorf("Since(start) = %v, want 2.5s", got)
	}
	sleeps := clock.Sleeps()
	if len(sleeps) != 2 || sleeps[0] != 2*time.Second || sleeps[1] != 500*time.Millisecond {
		t.Errorf("Sleeps() = %v", sleeps)
	}
}

func TestMockClock_AfterFiresOnAdvance(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(time.Minute)

	clock.Advance(30 * time.Second)
	select {
	case <-ch:
		t.Fatal("After fired before deadline")
	default:
	}
	if clock.Waiters() != 1 {
		t.Fatalf("Waiters() = %d, want 1", clock.Waiters())
	}

	clock.Advance(30 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(time.Unix(60, 0)) {
			t.Errorf("After delivered %v, want %v", got, time.Unix(60, 0))
		}
	default:
		t.Fatal("After did not fire at deadline")
	}
	if clock.Waiters() != 0 {
		t.Errorf("Waiters() = %d, want 0", clock.Waiters())
	}
}

func TestMockClock_AfterZero(t *testing.T) {
	clock := NewMockClock(time.Unix(100, 0))
	select {
	case <-clock.After(0):
	default:
		t.Fatal("After(0) should be immediately ready")
	}
}

func TestMockClock_Set(t *testing.T) {
	clock := NewMockClock(time.Unix(0, 0))
	ch := clock.After(time.Hour)
	clock.Set(time.Unix(7200, 0))
	select {
	case <-ch:
	default:
		t.Fatal("Set past deadline should fire waiter")
	}
}
