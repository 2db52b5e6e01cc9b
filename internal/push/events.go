package push

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// EventType identifies the kind of notification event
type EventType int

const (
	// EventRequest is emitted immediately before a batch is dispatched
	EventRequest EventType = iota

	// EventResponse is emitted after the batch result is known. For the
	// same call it always follows the corresponding EventRequest.
	EventResponse

	// EventException is emitted when a dispatch step fails with an error
	// that is not expressible as per-item outcomes.
	EventException
)

// String returns a human-readable representation of the event type
func (t EventType) String() string {
	switch t {
	case EventRequest:
		return "request"
	case EventResponse:
		return "response"
	case EventException:
		return "exception"
	default:
		return "unknown"
	}
}

// Operation names the dispatch path an event belongs to.
type Operation string

const (
	OpStations  Operation = "stations"
	OpStatuses  Operation = "statuses"
	OpRecords   Operation = "records"
	OpAuthorize Operation = "authorize"
	OpFlush     Operation = "flush"
)

// Event is an immutable notification record. CallID correlates the
// request and response events of one call.
type Event struct {
	Type      EventType
	Time      time.Time
	CallID    string
	Operation Operation
	Count     int     // batch size, set on request events
	Result    *Result // set on response events
	Err       error   // innermost cause, set on exception events
}

// notifier fans events out to subscribers. Emission is non-blocking: a
// subscriber that cannot keep up has events dropped, counted and logged,
// rather than stalling dispatch.
type notifier struct {
	logger     *slog.Logger
	bufferSize int

	mu          sync.Mutex
	subscribers []chan Event
	closed      bool

	dropped atomic.Uint64
}

func newNotifier(bufferSize int, logger *slog.Logger) *notifier {
	return &notifier{
		logger:     logger,
		bufferSize: bufferSize,
	}
}

// subscribe registers a new subscriber channel.
func (n *notifier) subscribe() <-chan Event {
	n.mu.Lock()
	defer n.mu.Unlock()

	ch := make(chan Event, n.bufferSize)
	if n.closed {
		close(ch)
		return ch
	}

	n.subscribers = append(n.subscribers, ch)
	return ch
}

// publish delivers the event to every subscriber without blocking.
func (n *notifier) publish(event Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}

	for _, ch := range n.subscribers {
		select {
		case ch <- event:
		default:
			n.dropped.Add(1)
			n.logger.Warn("event subscriber full, dropping event",
				"event_type", event.Type.String(),
				"operation", event.Operation,
				"call_id", event.CallID)
		}
	}
}

// droppedCount returns the number of events dropped across subscribers.
func (n *notifier) droppedCount() uint64 {
	return n.dropped.Load()
}

// close closes all subscriber channels. Further publishes are no-ops.
func (n *notifier) close() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.closed {
		return
	}
	n.closed = true

	for _, ch := range n.subscribers {
		close(ch)
	}
	n.subscribers = nil
}
