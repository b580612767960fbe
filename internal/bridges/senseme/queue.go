package senseme

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultQueueSize is the event queue capacity when none is configured.
const DefaultQueueSize = 1000

// EventKind tags entries on the event queue.
type EventKind int

const (
	// KindFrame carries one decoded frame payload.
	KindFrame EventKind = iota

	// KindDebug carries a diagnostic line for the log.
	KindDebug

	// KindReinit asks the reconciler to forget a fan's state and re-query.
	KindReinit
)

// ReinitQueried is the REINIT payload from a connection that sends its
// own query burst right after the event, so no re-query is needed.
const ReinitQueried = "queried"

func (k EventKind) String() string {
	switch k {
	case KindFrame:
		return "FRAME"
	case KindDebug:
		return "DEBUG"
	case KindReinit:
		return "REINIT"
	default:
		return "UNKNOWN"
	}
}

// Event is one entry on the queue.
type Event struct {
	Kind     EventKind
	DeviceID string
	Payload  string
}

// EventSink accepts events from producers. Push must not block.
type EventSink interface {
	Push(ev Event)
}

// EventQueue is a bounded FIFO shared by every connection manager and
// drained by one reconciler. When full, the oldest entry is dropped so a
// slow consumer can never stall a socket read loop.
type EventQueue struct {
	ch chan Event

	// pushMu serialises producers so drop-then-send cannot be starved.
	pushMu sync.Mutex

	pushed  atomic.Uint64
	dropped atomic.Uint64
}

// NewEventQueue creates a queue. A non-positive capacity uses DefaultQueueSize.
func NewEventQueue(capacity int) *EventQueue {
	if capacity <= 0 {
		capacity = DefaultQueueSize
	}
	return &EventQueue{ch: make(chan Event, capacity)}
}

// Push enqueues ev, discarding the oldest entry if the queue is full.
func (q *EventQueue) Push(ev Event) {
	q.pushMu.Lock()
	defer q.pushMu.Unlock()

	for {
		select {
		case q.ch <- ev:
			q.pushed.Add(1)
			return
		default:
		}

		select {
		case <-q.ch:
			q.dropped.Add(1)
		default:
		}
	}
}

// Pop returns the next event, waiting at most wait. ok is false on
// timeout or when ctx is done.
func (q *EventQueue) Pop(ctx context.Context, wait time.Duration) (ev Event, ok bool) {
	select {
	case ev = <-q.ch:
		return ev, true
	default:
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()

	select {
	case ev = <-q.ch:
		return ev, true
	case <-timer.C:
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// Len returns the number of queued events.
func (q *EventQueue) Len() int { return len(q.ch) }

// Cap returns the queue capacity.
func (q *EventQueue) Cap() int { return cap(q.ch) }

// Dropped returns how many events were discarded on overflow.
func (q *EventQueue) Dropped() uint64 { return q.dropped.Load() }

// Pushed returns how many events were accepted.
func (q *EventQueue) Pushed() uint64 { return q.pushed.Load() }
