// Package timers owns the simulated generation jobs: at most one in-flight
// timer per (shot, stage). Cancellation is race-free: a completion must be
// acknowledged before it is acted on, and a cancel or restart that lands
// after the underlying time.Timer expired makes the completion stale, so
// once Cancel returns no completion for that timer can ever take effect.
package timers

import (
	"sync"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/google/uuid"
)

type key struct {
	shotID uuid.UUID
	stage  models.Stage
}

type handle struct {
	timer     *time.Timer
	task      models.RenderingTask
	cancelled bool
}

// Completion identifies one fired timer. The consumer must pass it to
// Acknowledge before acting on it; Acknowledge reports whether the timer is
// still current or was cancelled or superseded after firing.
type Completion struct {
	key key
	h   *handle
}

// Registry tracks live timers and their RenderingTask records.
type Registry struct {
	mu      sync.Mutex
	timers  map[key]*handle
	nowFunc func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{
		timers:  make(map[key]*handle),
		nowFunc: time.Now,
	}
}

// Start schedules a simulated job for (shotID, stage), superseding and
// cancelling any existing one. onComplete runs at most once when the timer
// fires; its Completion must be acknowledged before the result is applied,
// which is what closes the window between the timer firing and a concurrent
// Cancel or restart.
func (r *Registry) Start(shotID uuid.UUID, shotNumber int, stage models.Stage, d time.Duration, onComplete func(Completion)) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{shotID: shotID, stage: stage}
	if prev, ok := r.timers[k]; ok {
		prev.cancelled = true
		prev.timer.Stop()
		delete(r.timers, k)
	}

	h := &handle{
		task: models.RenderingTask{
			ShotID:           shotID,
			ShotNumber:       shotNumber,
			Stage:            stage,
			StartedAt:        r.nowFunc(),
			ExpectedDuration: d,
		},
	}
	h.timer = time.AfterFunc(d, func() {
		r.mu.Lock()
		// A superseded or cancelled handle bails out here; the map may already
		// hold a newer handle for the same key, which must not be touched.
		if h.cancelled || r.timers[k] != h {
			r.mu.Unlock()
			return
		}
		// The entry stays in the map until the completion is acknowledged, so
		// a Cancel landing from here on still invalidates it.
		r.mu.Unlock()
		onComplete(Completion{key: k, h: h})
	})
	r.timers[k] = h
}

// Acknowledge consumes a fired completion, removing its registry entry. It
// reports whether the completion is still current: false means the timer was
// cancelled or superseded after it fired, and the completion must be
// discarded. Acknowledging the same completion twice returns false.
func (r *Registry) Acknowledge(c Completion) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if c.h == nil || c.h.cancelled || r.timers[c.key] != c.h {
		return false
	}
	delete(r.timers, c.key)
	return true
}

// Cancel stops the (shotID, stage) timer if one exists. Idempotent.
func (r *Registry) Cancel(shotID uuid.UUID, stage models.Stage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key{shotID: shotID, stage: stage}
	if h, ok := r.timers[k]; ok {
		h.cancelled = true
		h.timer.Stop()
		delete(r.timers, k)
	}
}

// CancelAll stops every outstanding timer. Used on rewind and session teardown.
func (r *Registry) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for k, h := range r.timers {
		h.cancelled = true
		h.timer.Stop()
		delete(r.timers, k)
	}
}

// Active reports whether a timer is in flight for (shotID, stage).
func (r *Registry) Active(shotID uuid.UUID, stage models.Stage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.timers[key{shotID: shotID, stage: stage}]
	return ok
}

// Len returns the number of outstanding timers.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

// Tasks returns a snapshot of every in-flight RenderingTask.
func (r *Registry) Tasks() []models.RenderingTask {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]models.RenderingTask, 0, len(r.timers))
	for _, h := range r.timers {
		out = append(out, h.task)
	}
	return out
}
