package retry

import (
	"testing"
	"time"

	"github.com/cenkalti/backoff/v4"
)

func TestScheduleGrowsLinearlyToCap(t *testing.T) {
	b := New()

	want := []time.Duration{1, 2, 3, 4, 5}
	for i, w := range want {
		got := b.NextBackOff()
		if got != w*time.Second {
			t.Fatalf("attempt %d: delay = %v, want %v", i+1, got, w*time.Second)
		}
	}

	// Drain up to the cap and verify it holds there.
	var last time.Duration
	for i := 0; i < 25; i++ {
		last = b.NextBackOff()
		if last == backoff.Stop {
			break
		}
	}
	if last != 30*time.Second {
		t.Errorf("capped delay = %v, want 30s", last)
	}
}

func TestScheduleStopsAtBudget(t *testing.T) {
	b := New()

	var total time.Duration
	attempts := 0
	for {
		d := b.NextBackOff()
		if d == backoff.Stop {
			break
		}
		total += d
		attempts++
		if attempts > 100 {
			t.Fatal("schedule never stopped")
		}
	}
	// 1+2+...+30 = 465s, the full schedule exactly.
	if total != 465*time.Second {
		t.Errorf("total sleep = %v, want 465s", total)
	}
	if attempts != 30 {
		t.Errorf("attempts = %d, want 30", attempts)
	}
}

func TestResetRestartsSchedule(t *testing.T) {
	b := New()
	b.NextBackOff()
	b.NextBackOff()
	b.Reset()
	if got := b.NextBackOff(); got != 1*time.Second {
		t.Errorf("first delay after Reset = %v, want 1s", got)
	}
}
