package bus

import (
	"container/heap"
	"sync"
	"time"
)

// Event is an immutable message delivered through the bus.
type Event struct {
	Kind          Kind
	Payload       Payload
	CreatedAt     time.Time
	Source        string
	Priority      Priority
	CorrelationID string

	// Seq is assigned at enqueue time and breaks ties within a priority.
	Seq uint64
}

// eventQueue is a min-heap ordered by (priority, seq).
type eventQueue []Event

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if q[i].Priority != q[j].Priority {
		return q[i].Priority < q[j].Priority
	}
	return q[i].Seq < q[j].Seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(Event)) }

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	e := old[n-1]
	old[n-1] = Event{}
	*q = old[:n-1]
	return e
}

// boundedQueue guards the heap and the sequence counter.
type boundedQueue struct {
	mu       sync.Mutex
	items    eventQueue
	capacity int
	seq      uint64
}

func newBoundedQueue(capacity int) *boundedQueue {
	return &boundedQueue{
		items:    make(eventQueue, 0, min(capacity, 64)),
		capacity: capacity,
	}
}

// push stamps e with the next sequence number. It reports false without
// modifying the queue when the queue is at capacity.
func (q *boundedQueue) push(e Event) (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.capacity > 0 && len(q.items) >= q.capacity {
		return e, false
	}
	q.seq++
	e.Seq = q.seq
	heap.Push(&q.items, e)
	return e, true
}

func (q *boundedQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return Event{}, false
	}
	return heap.Pop(&q.items).(Event), true
}

func (q *boundedQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// history keeps the most recent dispatched events. New entries overwrite
// the oldest once the ring is full.
type history struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	next     int
	stored   int
}

func newHistory(capacity int) *history {
	if capacity < 0 {
		capacity = 0
	}
	return &history{events: make([]Event, capacity), capacity: capacity}
}

func (h *history) add(e Event) {
	if h.capacity == 0 {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events[h.next] = e
	h.next = (h.next + 1) % h.capacity
	if h.stored < h.capacity {
		h.stored++
	}
}

// snapshot returns stored events oldest first.
func (h *history) snapshot() []Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]Event, 0, h.stored)
	start := (h.next - h.stored + h.capacity) % max(h.capacity, 1)
	for i := 0; i < h.stored; i++ {
		out = append(out, h.events[(start+i)%h.capacity])
	}
	return out
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.events)
	h.next = 0
	h.stored = 0
}
