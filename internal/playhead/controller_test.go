package playhead

import (
	"math"
	"testing"
	"time"
)

// fakeClock lets tests step wall time deterministically.
type fakeClock struct {
	now time.Time
}

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestController(t *testing.T) (*Controller, *fakeClock, *[]float64) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)}
	var emitted []float64
	c := NewController(func(currentTimeSec, totalDurationSec float64) {
		emitted = append(emitted, currentTimeSec)
	})
	c.nowFunc = func() time.Time { return clock.now }
	return c, clock, &emitted
}

func TestFirstUpdateAlwaysForwards(t *testing.T) {
	c, _, emitted := newTestController(t)

	c.OnTimeUpdate(0.001, 10)
	if len(*emitted) != 1 || (*emitted)[0] != 0.001 {
		t.Fatalf("emitted = %v, want [0.001]", *emitted)
	}
}

func TestThrottleByInterval(t *testing.T) {
	c, clock, emitted := newTestController(t)

	c.OnTimeUpdate(0, 10)
	clock.advance(10 * time.Millisecond)
	c.OnTimeUpdate(0.5, 10) // too soon, dropped
	if len(*emitted) != 1 {
		t.Fatalf("emitted = %v, want one update", *emitted)
	}

	clock.advance(50 * time.Millisecond)
	c.OnTimeUpdate(0.5, 10)
	if len(*emitted) != 2 || (*emitted)[1] != 0.5 {
		t.Fatalf("emitted = %v, want second update 0.5", *emitted)
	}
}

func TestThrottleByEpsilon(t *testing.T) {
	c, clock, emitted := newTestController(t)

	c.OnTimeUpdate(1.0, 10)
	clock.advance(time.Second)
	c.OnTimeUpdate(1.03, 10) // moved 30ms, under epsilon
	if len(*emitted) != 1 {
		t.Fatalf("emitted = %v, want tiny movement dropped", *emitted)
	}

	clock.advance(time.Second)
	c.OnTimeUpdate(1.05, 10)
	if len(*emitted) != 2 || (*emitted)[1] != 1.05 {
		t.Fatalf("emitted = %v, want update at 1.05", *emitted)
	}
}

func TestEpsilonAppliesBackwards(t *testing.T) {
	c, clock, emitted := newTestController(t)

	c.OnTimeUpdate(5.0, 10)
	clock.advance(time.Second)
	c.OnTimeUpdate(4.0, 10) // scrub backwards past the epsilon
	if len(*emitted) != 2 || (*emitted)[1] != 4.0 {
		t.Fatalf("emitted = %v, want backwards update forwarded", *emitted)
	}
}

func TestResetDropsThrottleState(t *testing.T) {
	c, _, emitted := newTestController(t)

	c.OnTimeUpdate(3.0, 10)
	c.Reset()
	// Same instant, same position: still forwards because the throttle reset.
	c.OnTimeUpdate(3.0, 10)
	if len(*emitted) != 2 {
		t.Fatalf("emitted = %v, want update after Reset", *emitted)
	}
}

func TestNilForward(t *testing.T) {
	c := NewController(nil)
	c.OnTimeUpdate(1, 10) // must not panic
}

func TestSeekFromPointer(t *testing.T) {
	cases := []struct {
		name                         string
		pixelX, scroll, width, total float64
		want                         float64
	}{
		{"start", 0, 0, 400, 8, 0},
		{"middle", 200, 0, 400, 8, 4},
		{"scrolled", 100, 100, 400, 8, 4},
		{"end", 400, 0, 400, 8, 8},
		{"clamped high", 900, 0, 400, 8, 8},
		{"clamped low", -50, 0, 400, 8, 0},
		{"zero width", 200, 0, 0, 8, 0},
		{"zero duration", 200, 0, 400, 0, 0},
	}
	for _, tc := range cases {
		if got := SeekFromPointer(tc.pixelX, tc.scroll, tc.width, tc.total); got != tc.want {
			t.Errorf("%s: SeekFromPointer = %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestSeekRoundTrip(t *testing.T) {
	// A pointer press at a shot boundary seeks to that boundary's time.
	const (
		contentWidth = 1600.0
		total        = 55.0
	)
	for _, timeSec := range []float64{0, 7, 9, 20, 24, 54, 55} {
		pixelX := timeSec / total * contentWidth
		got := SeekFromPointer(pixelX, 0, contentWidth, total)
		if math.Abs(got-timeSec) > 1e-9 {
			t.Errorf("round trip through x=%v: got %v, want %v", pixelX, got, timeSec)
		}
	}
}
