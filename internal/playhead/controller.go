// Package playhead bridges the continuously-ticking playback clock to the
// timeline UI. Raw time updates arrive at whatever cadence the playback sink
// produces; the controller throttles what it forwards so the visual playhead
// can be driven cheaply without re-running timeline layout on every frame.
package playhead

import (
	"sync"
	"time"
)

const (
	// Forward at most ~24 updates per second.
	defaultMinInterval = time.Second / 24
	// Ignore movements smaller than 40ms of playback time.
	defaultEpsilonSec = 0.04
)

// UpdateFunc receives throttled (currentTimeSec, totalDurationSec) updates.
type UpdateFunc func(currentTimeSec, totalDurationSec float64)

// Controller throttles playback time updates and converts pointer positions
// back into seek times.
type Controller struct {
	mu          sync.Mutex
	minInterval time.Duration
	epsilonSec  float64
	lastEmit    time.Time
	lastTimeSec float64
	nowFunc     func() time.Time
	forward     UpdateFunc
}

// NewController wires the throttled update channel to forward. A nil forward
// makes OnTimeUpdate a pure rate-limiter with no output.
func NewController(forward UpdateFunc) *Controller {
	return &Controller{
		minInterval: defaultMinInterval,
		epsilonSec:  defaultEpsilonSec,
		nowFunc:     time.Now,
		forward:     forward,
	}
}

// OnTimeUpdate is called by the playback source at its own cadence. Updates
// are forwarded only when the minimum interval has elapsed and the time moved
// by at least the epsilon, bounding UI churn during playback.
func (c *Controller) OnTimeUpdate(currentTimeSec, totalDurationSec float64) {
	c.mu.Lock()

	now := c.nowFunc()
	if !c.lastEmit.IsZero() && now.Sub(c.lastEmit) < c.minInterval {
		c.mu.Unlock()
		return
	}

	delta := currentTimeSec - c.lastTimeSec
	if delta < 0 {
		delta = -delta
	}
	if !c.lastEmit.IsZero() && delta < c.epsilonSec {
		c.mu.Unlock()
		return
	}

	c.lastEmit = now
	c.lastTimeSec = currentTimeSec
	forward := c.forward
	c.mu.Unlock()

	if forward != nil {
		forward(currentTimeSec, totalDurationSec)
	}
}

// Reset clears throttle state, so the next update always forwards. Called on
// seeks so the playhead snaps immediately instead of waiting out the interval.
func (c *Controller) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastEmit = time.Time{}
	c.lastTimeSec = 0
}

// SeekFromPointer inverts the layout mapping: a pointer x position over the
// scrolled timeline content becomes a playback time, clamped to the valid
// range. A degenerate content width or duration seeks to zero.
func SeekFromPointer(pixelX, scrollOffsetPx, contentWidthPx, totalDurationSec float64) float64 {
	if contentWidthPx <= 0 || totalDurationSec <= 0 {
		return 0
	}

	t := (pixelX + scrollOffsetPx) / contentWidthPx * totalDurationSec
	if t < 0 {
		return 0
	}
	if t > totalDurationSec {
		return totalDurationSec
	}
	return t
}
