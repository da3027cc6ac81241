package schedule

import (
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func TestEvaluate_NoSchedule(t *testing.T) {
	got := Evaluate(nil, time.Now())
	if got.Kind != NoSchedule {
		t.Fatalf("kind: want %v, got %v", NoSchedule, got.Kind)
	}
}

func TestEvaluate_ExpiredAtBoundary(t *testing.T) {
	now := time.Date(2025, 7, 27, 0, 53, 0, 0, time.UTC)
	for _, air := range []time.Time{now, now.Add(-time.Millisecond), now.Add(-3 * Week)} {
		got := Evaluate(&air, now)
		if got.Kind != Expired {
			t.Fatalf("air=%s: want expired, got %v", air, got.Kind)
		}
		if !got.Remaining.IsZero() {
			t.Fatalf("air=%s: expired reading should carry no remainder, got %+v", air, got.Remaining)
		}
	}
}

func TestEvaluate_CountingDown(t *testing.T) {
	now := time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC)
	air := now.Add(2*24*time.Hour + 3*time.Hour + 4*time.Minute + 5*time.Second + 999*time.Millisecond)

	got := Evaluate(&air, now)
	want := Reading{Kind: CountingDown, Remaining: Remaining{Days: 2, Hours: 3, Minutes: 4, Seconds: 5}}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("(-want +got):\n%s", diff)
	}
	if s := got.Remaining.String(); s != "02d 03h 04m 05s" {
		t.Fatalf("String: got %q", s)
	}
}

func TestEvaluate_SubSecondStillCounting(t *testing.T) {
	now := time.Date(2025, 7, 20, 12, 0, 0, 0, time.UTC)
	air := now.Add(400 * time.Millisecond)
	got := Evaluate(&air, now)
	if got.Kind != CountingDown {
		t.Fatalf("kind: want counting-down, got %v", got.Kind)
	}
	if !got.Remaining.IsZero() {
		t.Fatalf("remaining: want zero, got %+v", got.Remaining)
	}
}

func TestDecompose_ReconstructsTruncatedDelta(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 2000; i++ {
		delta := time.Duration(rng.Int63n(int64(90*24*time.Hour))) + time.Millisecond
		delta = delta.Truncate(time.Millisecond)
		air := now.Add(delta)

		r := Evaluate(&air, now)
		if r.Kind != CountingDown {
			t.Fatalf("delta=%s: want counting-down, got %v", delta, r.Kind)
		}
		if got, want := r.Remaining.Duration(), delta.Truncate(time.Second); got != want {
			t.Fatalf("delta=%s: reconstructed %s, want %s", delta, got, want)
		}
		if r.Remaining.Hours > 23 || r.Remaining.Minutes > 59 || r.Remaining.Seconds > 59 {
			t.Fatalf("delta=%s: components out of range: %+v", delta, r.Remaining)
		}
	}
}

func TestElapsedWeeks(t *testing.T) {
	now := time.Date(2025, 8, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		air  time.Time
		want int
	}{
		{"future", now.Add(time.Hour), 0},
		{"exactly now", now, 0},
		{"just passed", now.Add(-time.Second), 1},
		{"six days late", now.Add(-6 * 24 * time.Hour), 1},
		{"thirteen days late", now.Add(-13 * 24 * time.Hour), 2},
		{"exactly two weeks", now.Add(-2 * Week), 3},
		{"three weeks and a bit", now.Add(-3*Week - time.Minute), 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ElapsedWeeks(tt.air, now)
			if got != tt.want {
				t.Fatalf("want %d, got %d", tt.want, got)
			}
			if got > 0 && !Advance(tt.air, got).After(now) {
				t.Fatalf("advancing %d weeks should land in the future", got)
			}
		})
	}
}

func TestAirDay(t *testing.T) {
	// Dimanche 00:53 à Shanghai = samedi 16:53 UTC.
	air := time.Date(2025, 7, 26, 16, 53, 0, 0, time.UTC)
	if got := AirDay(air, time.UTC); got != "Saturday" {
		t.Fatalf("UTC: got %q", got)
	}
	loc := time.FixedZone("CST", 8*3600)
	if got := AirDay(air, loc); got != "Sunday" {
		t.Fatalf("CST: got %q", got)
	}
	if got := AirDay(Advance(air, 5), loc); got != "Sunday" {
		t.Fatalf("advanced weeks should keep weekday, got %q", got)
	}
}

func TestManualClock(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewManualClock(start)
	c.Add(90 * time.Second)
	if got := c.Now(); !got.Equal(start.Add(90 * time.Second)) {
		t.Fatalf("Now: got %s", got)
	}
}
