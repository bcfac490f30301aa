package events

import (
	"container/heap"

	"github.com/ZanzyTHEbar/nft-trust-score/internal/types"
)

type queuedEvent struct {
	event    types.UpdateEvent
	priority int
	seq      uint64
}

// eventHeap orders by priority (highest first), then arrival
type eventHeap []*queuedEvent

func (h eventHeap) Len() int { return len(h) }

func (h eventHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h eventHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *eventHeap) Push(x interface{}) { *h = append(*h, x.(*queuedEvent)) }

func (h *eventHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// priorityQueue is a bounded queue; not safe for concurrent use
type priorityQueue struct {
	items    eventHeap
	capacity int
	seq      uint64
}

func newPriorityQueue(capacity int) *priorityQueue {
	return &priorityQueue{items: make(eventHeap, 0, capacity), capacity: capacity}
}

// push reports false when the queue is full
func (q *priorityQueue) push(event types.UpdateEvent, priority int) bool {
	if q.items.Len() >= q.capacity {
		return false
	}
	q.seq++
	heap.Push(&q.items, &queuedEvent{event: event, priority: priority, seq: q.seq})
	return true
}

func (q *priorityQueue) pop() (types.UpdateEvent, bool) {
	if q.items.Len() == 0 {
		return types.UpdateEvent{}, false
	}
	item := heap.Pop(&q.items).(*queuedEvent)
	return item.event, true
}

func (q *priorityQueue) len() int { return q.items.Len() }
