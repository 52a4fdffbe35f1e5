// Package queue implements the bounded submission queue. Ordering is
// priority first, submission order second, so equal-priority jobs are
// served strictly first in, first out.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"sync"
)

var (
	// ErrFull is returned by Submit when the queue is at capacity.
	// Callers fail fast instead of blocking.
	ErrFull = errors.New("queue full")
	// ErrClosed is returned once Close has been called.
	ErrClosed = errors.New("queue closed")
	// ErrDuplicate is returned when an ID is already queued.
	ErrDuplicate = errors.New("job already queued")
)

type Item struct {
	ID       string
	Priority int
}

// Queue is a bounded priority queue safe for concurrent use. Dequeue
// blocks until an item arrives, the context ends, or the queue closes.
type Queue struct {
	mu      sync.Mutex
	heap    entryHeap
	entries map[string]*entry
	cap     int
	seq     uint64
	closed  bool

	// notify carries at most one wake token. Every consumer that takes
	// the token re-arms it if work remains, so a single Submit can wake
	// a chain of waiters.
	notify chan struct{}
}

func New(capacity int) *Queue {
	if capacity < 1 {
		capacity = 1
	}
	return &Queue{
		entries: make(map[string]*entry, capacity),
		cap:     capacity,
		notify:  make(chan struct{}, 1),
	}
}

func (q *Queue) Submit(id string, priority int) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrClosed
	}
	if len(q.heap) >= q.cap {
		q.mu.Unlock()
		return ErrFull
	}
	if _, ok := q.entries[id]; ok {
		q.mu.Unlock()
		return ErrDuplicate
	}

	q.seq++
	e := &entry{id: id, priority: priority, seq: q.seq}
	heap.Push(&q.heap, e)
	q.entries[id] = e
	q.mu.Unlock()

	q.wake()
	return nil
}

func (q *Queue) Dequeue(ctx context.Context) (Item, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			q.wake()
			return Item{}, ErrClosed
		}
		if len(q.heap) > 0 {
			e := heap.Pop(&q.heap).(*entry)
			delete(q.entries, e.id)
			more := len(q.heap) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return Item{ID: e.id, Priority: e.priority}, nil
		}
		q.mu.Unlock()

		select {
		case <-q.notify:
		case <-ctx.Done():
			return Item{}, ctx.Err()
		}
	}
}

// Remove drops a queued item and frees its capacity slot. It reports
// whether the item was still queued.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.entries[id]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, e.index)
	delete(q.entries, id)
	return true
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}

// Close rejects further submissions and releases every blocked
// consumer. Items still queued are abandoned; the caller owns their
// cleanup.
func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

type entry struct {
	id       string
	priority int
	seq      uint64
	index    int
}

type entryHeap []*entry

func (h entryHeap) Len() int { return len(h) }

func (h entryHeap) Less(i, j int) bool {
	if h[i].priority != h[j].priority {
		return h[i].priority > h[j].priority
	}
	return h[i].seq < h[j].seq
}

func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}
