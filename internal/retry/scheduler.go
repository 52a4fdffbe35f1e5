package retry

import (
	"container/heap"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Scheduler runs callbacks after a delay. A single goroutine sleeps
// until the earliest deadline, so thousands of pending retries cost one
// timer, not one goroutine each.
type Scheduler struct {
	log *zap.Logger

	mu      sync.Mutex
	heap    taskHeap
	tasks   map[string]*task
	seq     uint64
	stopped bool

	wakeCh chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

func NewScheduler(log *zap.Logger) *Scheduler {
	s := &Scheduler{
		log:    log,
		tasks:  make(map[string]*task),
		wakeCh: make(chan struct{}, 1),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Schedule registers fn to run after delay. Scheduling an ID that is
// already pending replaces the earlier entry.
func (s *Scheduler) Schedule(id string, delay time.Duration, fn func()) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if old, ok := s.tasks[id]; ok {
		heap.Remove(&s.heap, old.index)
	}
	s.seq++
	tk := &task{id: id, at: time.Now().Add(delay), seq: s.seq, fn: fn}
	heap.Push(&s.heap, tk)
	s.tasks[id] = tk
	s.mu.Unlock()

	s.wake()
}

// Cancel drops a pending task. It reports whether the task was still
// pending; a task that already fired cannot be cancelled.
func (s *Scheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	tk, ok := s.tasks[id]
	if !ok {
		return false
	}
	heap.Remove(&s.heap, tk.index)
	delete(s.tasks, id)
	return true
}

func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// Stop ends the scheduler. Pending tasks never fire. Safe to call more
// than once.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.stopCh)
	s.mu.Unlock()
	<-s.done
}

func (s *Scheduler) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		var (
			tmr    *time.Timer
			timerC <-chan time.Time
		)
		if len(s.heap) > 0 {
			d := time.Until(s.heap[0].at)
			if d <= 0 {
				tk := heap.Pop(&s.heap).(*task)
				delete(s.tasks, tk.id)
				s.mu.Unlock()
				s.log.Debug("scheduled task due", zap.String("id", tk.id))
				go tk.fn()
				continue
			}
			tmr = time.NewTimer(d)
			timerC = tmr.C
		}
		s.mu.Unlock()

		// timerC is nil when nothing is pending, which blocks that
		// select case until a Schedule call wakes us.
		select {
		case <-timerC:
		case <-s.wakeCh:
		case <-s.stopCh:
			if tmr != nil {
				tmr.Stop()
			}
			return
		}
		if tmr != nil {
			tmr.Stop()
		}
	}
}

func (s *Scheduler) wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

type task struct {
	id    string
	at    time.Time
	seq   uint64
	fn    func()
	index int
}

type taskHeap []*task

func (h taskHeap) Len() int { return len(h) }

func (h taskHeap) Less(i, j int) bool {
	if !h[i].at.Equal(h[j].at) {
		return h[i].at.Before(h[j].at)
	}
	return h[i].seq < h[j].seq
}

func (h taskHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *taskHeap) Push(x any) {
	tk := x.(*task)
	tk.index = len(*h)
	*h = append(*h, tk)
}

func (h *taskHeap) Pop() any {
	old := *h
	n := len(old)
	tk := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return tk
}
