package orchestrator

import (
	"sync"
	"time"

	"github.com/Mishra-Manit/thelot-sub000/internal/models"
	"github.com/google/uuid"
)

// EventType classifies what downstream consumers should do with an event.
type EventType string

const (
	// EventTypeState carries a pipeline-state snapshot for one shot.
	EventTypeState EventType = "state"
	// EventTypeNotice carries toast-style text (e.g. auto-advance messages).
	EventTypeNotice EventType = "notice"
	// EventTypeFocus signals the UI to move its selection to a shot.
	EventTypeFocus EventType = "focus"
	// EventTypeError surfaces a background failure (persistence writes).
	EventTypeError EventType = "error"
)

// Event is a sequenced state-change record consumed by UI subscribers.
type Event struct {
	Seq       int64                 `json:"seq"`
	Timestamp time.Time             `json:"timestamp"`
	Type      EventType             `json:"type"`
	ShotID    uuid.UUID             `json:"shot_id,omitempty"`
	State     *models.PipelineState `json:"state,omitempty"`
	Step      models.WorkflowStep   `json:"step,omitempty"`
	Message   string                `json:"message,omitempty"`
}

// EventBus is a bounded in-memory event buffer with incremental reads.
// Consumers poll Since(seq) rather than registering callbacks, which keeps
// publishing non-blocking regardless of subscriber behavior.
type EventBus struct {
	mu        sync.RWMutex
	nextSeq   int64
	maxEvents int
	events    []Event
}

func NewEventBus(maxEvents int) *EventBus {
	if maxEvents <= 0 {
		maxEvents = 500
	}
	return &EventBus{
		maxEvents: maxEvents,
		events:    make([]Event, 0, maxEvents),
	}
}

// Publish appends one event, assigning its sequence number and timestamp.
func (b *EventBus) Publish(event Event) Event {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSeq++
	event.Seq = b.nextSeq
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.events = append(b.events, event)
	if len(b.events) > b.maxEvents {
		trim := len(b.events) - b.maxEvents
		b.events = append([]Event(nil), b.events[trim:]...)
	}

	return event
}

// Since returns events with sequence strictly greater than seq, oldest first.
func (b *EventBus) Since(seq int64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if len(b.events) == 0 {
		return nil
	}

	out := make([]Event, 0, len(b.events))
	for _, event := range b.events {
		if event.Seq > seq {
			out = append(out, event)
		}
	}
	return out
}
