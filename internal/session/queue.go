package session

import "sync"

// eventQueue bridges adapter callbacks into the engine loop. push never blocks;
// after close, events are dropped.
type eventQueue struct {
	mu     sync.Mutex
	events []Event
	closed bool
	notify chan struct{}
	once   sync.Once
}

func newEventQueue() *eventQueue {
	return &eventQueue{notify: make(chan struct{}, 1)}
}

func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return
	}
	q.events = append(q.events, ev)

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// pop returns the oldest event, if any.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.events) == 0 {
		return Event{}, false
	}
	ev := q.events[0]
	q.events[0] = Event{}
	q.events = q.events[1:]

	return ev, true
}

// ready fires when events may be available.
func (q *eventQueue) ready() <-chan struct{} {
	return q.notify
}

func (q *eventQueue) close() {
	q.once.Do(func() {
		q.mu.Lock()
		defer q.mu.Unlock()

		q.closed = true
		q.events = nil
	})
}
