package event

import (
	"container/heap"
	"time"
)

// Handler is notified, in strict sequence order, as events become
// deliverable.
type Handler interface {
	OnEvent(ev *Event)
}

// eventHeap is a min-heap on Event.Seq, backed by container/heap.
type eventHeap []*Event

func (h eventHeap) Len() int            { return len(h) }
func (h eventHeap) Less(i, j int) bool  { return h[i].Less(h[j]) }
func (h eventHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*Event)) }
func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// Queue receives events out of order via Add and releases them to a
// Handler, in strict ascending sequence order, via Poll. Capacity and
// timeout are liveness escape hatches against missing sequence numbers;
// a zero value for either disables that hatch.
type Queue struct {
	heap        eventHeap
	waitingFor  int
	maxCapacity int
	timeout     time.Duration
	lastActive  time.Time
	handler     Handler

	depthGauge      func(int)
	skipCount       func()
	waitingForGauge func(int)
	now             func() time.Time
}

// NewQueue constructs a Queue starting at waiting-for == 1.
func NewQueue(maxCapacity int, timeout time.Duration) *Queue {
	return &Queue{
		waitingFor:  1,
		maxCapacity: maxCapacity,
		timeout:     timeout,
		now:         time.Now,
	}
}

// SetHandler sets the handler notified as events become deliverable.
func (q *Queue) SetHandler(h Handler) {
	q.handler = h
}

// SetObservers wires optional metrics callbacks; any may be nil.
func (q *Queue) SetObservers(depthGauge func(int), skipCount func(), waitingForGauge func(int)) {
	q.depthGauge = depthGauge
	q.skipCount = skipCount
	q.waitingForGauge = waitingForGauge
}

// WaitingFor returns the sequence number the queue next intends to deliver.
func (q *Queue) WaitingFor() int {
	return q.waitingFor
}

// Len returns the number of buffered, undelivered events.
func (q *Queue) Len() int {
	return q.heap.Len()
}

// Add buffers an event for later delivery. Arrival order does not matter.
func (q *Queue) Add(ev *Event) {
	heap.Push(&q.heap, ev)
	if q.depthGauge != nil {
		q.depthGauge(q.heap.Len())
	}
}

// Poll delivers every currently-buffered event whose sequence number is
// the expected next one, advancing waiting-for after each delivery. If the
// head does not match and a capacity or timeout escape hatch fires, the
// gap is skipped and draining resumes from the new head.
func (q *Queue) Poll() {
	for q.heap.Len() > 0 {
		head := q.heap[0]

		if head.Seq == q.waitingFor {
			heap.Pop(&q.heap)
			q.handler.OnEvent(head)
			q.waitingFor++
			continue
		}

		if q.capacityExceeded() || q.timeoutOccurred() {
			q.waitingFor = head.Seq
			if q.skipCount != nil {
				q.skipCount()
			}
			continue
		}

		q.lastActive = q.now()
		break
	}

	if q.depthGauge != nil {
		q.depthGauge(q.heap.Len())
	}
	if q.waitingForGauge != nil {
		q.waitingForGauge(q.waitingFor)
	}
}

func (q *Queue) capacityExceeded() bool {
	return q.maxCapacity > 0 && q.heap.Len() > q.maxCapacity
}

func (q *Queue) timeoutOccurred() bool {
	return q.timeout > 0 && !q.lastActive.IsZero() && q.now().Sub(q.lastActive) > q.timeout
}
