// Package sink routes final job outcomes to their consumers. Exactly
// one outcome arrives per job.
package sink

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"scraperd/internal/entity"
)

type Sink interface {
	OnOutcome(outcome entity.Outcome)
}

var (
	_ Sink = (*Memory)(nil)
	_ Sink = (*Logger)(nil)
	_ Sink = (Fanout)(nil)
)

// Memory keeps the most recent outcomes in a bounded archive and lets
// callers block until a specific job's outcome lands.
type Memory struct {
	mu       sync.Mutex
	outcomes map[string]entity.Outcome
	order    []string
	limit    int
	waiters  map[string][]chan entity.Outcome
}

func NewMemory(limit int) *Memory {
	if limit < 1 {
		limit = 1
	}
	return &Memory{
		outcomes: make(map[string]entity.Outcome),
		limit:    limit,
		waiters:  make(map[string][]chan entity.Outcome),
	}
}

func (m *Memory) OnOutcome(o entity.Outcome) {
	m.mu.Lock()
	if _, exists := m.outcomes[o.JobID]; exists {
		m.mu.Unlock()
		return
	}
	m.outcomes[o.JobID] = o
	m.order = append(m.order, o.JobID)
	for len(m.order) > m.limit {
		evicted := m.order[0]
		m.order = m.order[1:]
		delete(m.outcomes, evicted)
	}
	ws := m.waiters[o.JobID]
	delete(m.waiters, o.JobID)
	m.mu.Unlock()

	for _, ch := range ws {
		ch <- o
	}
}

func (m *Memory) Get(jobID string) (entity.Outcome, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.outcomes[jobID]
	return o, ok
}

// Wait blocks until the job's outcome lands or ctx ends. An outcome
// that already landed returns immediately.
func (m *Memory) Wait(ctx context.Context, jobID string) (entity.Outcome, error) {
	m.mu.Lock()
	if o, ok := m.outcomes[jobID]; ok {
		m.mu.Unlock()
		return o, nil
	}
	ch := make(chan entity.Outcome, 1)
	m.waiters[jobID] = append(m.waiters[jobID], ch)
	m.mu.Unlock()

	select {
	case o := <-ch:
		return o, nil
	case <-ctx.Done():
		m.dropWaiter(jobID, ch)
		return entity.Outcome{}, ctx.Err()
	}
}

func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.outcomes)
}

func (m *Memory) dropWaiter(jobID string, ch chan entity.Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.waiters[jobID]
	for i, w := range ws {
		if w == ch {
			m.waiters[jobID] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
	if len(m.waiters[jobID]) == 0 {
		delete(m.waiters, jobID)
	}
}

// Logger writes one structured line per finished job.
type Logger struct {
	log *zap.Logger
}

func NewLogger(log *zap.Logger) *Logger {
	return &Logger{log: log}
}

func (l *Logger) OnOutcome(o entity.Outcome) {
	fields := []zap.Field{
		zap.String("job_id", o.JobID),
		zap.String("status", string(o.Status)),
		zap.Int("attempts", o.Attempts),
		zap.Duration("elapsed", o.Elapsed),
	}
	if o.Error != "" {
		fields = append(fields,
			zap.String("error_kind", string(o.ErrorKind)),
			zap.String("error", o.Error),
		)
		l.log.Warn("job finished", fields...)
		return
	}
	l.log.Info("job finished", fields...)
}

// Fanout delivers each outcome to every sink in order.
type Fanout []Sink

func (f Fanout) OnOutcome(o entity.Outcome) {
	for _, s := range f {
		s.OnOutcome(o)
	}
}
