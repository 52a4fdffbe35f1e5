package browser

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

type PoolConfig struct {
	Slots          int
	AcquireTimeout time.Duration
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Slots:          2,
		AcquireTimeout: 15 * time.Second,
	}
}

// Pool keeps a fixed number of engine slots warm. Checkouts get a fresh
// context carved out of a slot's engine; the engine itself survives
// across checkouts unless it is destroyed, in which case the slot
// relaunches lazily on its next checkout.
type Pool struct {
	log     *zap.Logger
	factory Factory
	cfg     PoolConfig

	// launchCtx bounds engine process lifetimes. Relaunches must not
	// inherit the acquiring caller's context or the engine would die
	// with the job that happened to trigger the launch.
	launchCtx context.Context

	free    chan *slot
	closeCh chan struct{}

	mu       sync.Mutex
	slots    []*slot
	closed   bool
	inflight int
	idleCh   chan struct{}
}

// slot state is guarded by the pool mutex. A slot is either in the free
// channel or held by exactly one lease.
type slot struct {
	id     int
	engine Engine
}

// NewPool launches cfg.Slots engines up front. Individual launch
// failures leave the slot empty for lazy relaunch; only a clean sweep
// of failures is fatal.
func NewPool(ctx context.Context, factory Factory, cfg PoolConfig, log *zap.Logger) (*Pool, error) {
	if cfg.Slots < 1 {
		cfg.Slots = 1
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = DefaultPoolConfig().AcquireTimeout
	}

	p := &Pool{
		log:       log,
		factory:   factory,
		cfg:       cfg,
		launchCtx: ctx,
		free:      make(chan *slot, cfg.Slots),
		closeCh:   make(chan struct{}),
	}

	launched := 0
	for i := 0; i < cfg.Slots; i++ {
		s := &slot{id: i}
		eng, err := factory(ctx)
		if err != nil {
			log.Warn("launch browser engine", zap.Int("slot", i), zap.Error(err))
		} else {
			s.engine = eng
			launched++
		}
		p.slots = append(p.slots, s)
		p.free <- s
	}

	if launched == 0 {
		return nil, fmt.Errorf("all %d engine launches failed: %w", cfg.Slots, ErrLaunchFailed)
	}

	log.Info("browser pool ready", zap.Int("slots", cfg.Slots), zap.Int("launched", launched))
	return p, nil
}

// Acquire blocks until a slot frees up, the acquire timeout elapses, the
// caller's context ends, or the pool shuts down. The returned lease owns
// an isolated context on the slot's engine.
func (p *Pool) Acquire(ctx context.Context) (*Lease, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	waitCtx, cancel := context.WithTimeout(ctx, p.cfg.AcquireTimeout)
	defer cancel()

	var s *slot
	select {
	case s = <-p.free:
	case <-p.closeCh:
		return nil, ErrPoolClosed
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("no slot free within %s: %w", p.cfg.AcquireTimeout, ErrExhausted)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	eng := s.engine
	p.mu.Unlock()

	if eng == nil {
		fresh, err := p.factory(p.launchCtx)
		if err != nil {
			p.free <- s
			return nil, fmt.Errorf("%w: %v", ErrLaunchFailed, err)
		}
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			fresh.Close()
			return nil, ErrPoolClosed
		}
		s.engine = fresh
		p.mu.Unlock()
		eng = fresh
		p.log.Info("relaunched browser engine", zap.Int("slot", s.id))
	}

	bctx, err := eng.NewContext(ctx)
	if err != nil {
		// An engine that cannot open a context is assumed wedged.
		p.mu.Lock()
		s.engine = nil
		p.mu.Unlock()
		if cerr := eng.Close(); cerr != nil {
			p.log.Warn("close wedged engine", zap.Int("slot", s.id), zap.Error(cerr))
		}
		p.free <- s
		return nil, fmt.Errorf("%w: new context: %v", ErrLaunchFailed, err)
	}

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		bctx.Dispose()
		eng.Close()
		return nil, ErrPoolClosed
	}
	p.inflight++
	p.mu.Unlock()

	return &Lease{pool: p, slot: s, bctx: bctx}, nil
}

type Stats struct {
	Slots    int
	Idle     int
	Inflight int
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{Slots: len(p.slots), Idle: len(p.free), Inflight: p.inflight}
}

// Shutdown stops new checkouts, waits for in-flight leases up to the
// context deadline, then force-closes every remaining engine.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.closeCh)
	var idle chan struct{}
	if p.inflight > 0 {
		idle = make(chan struct{})
		p.idleCh = idle
	}
	p.mu.Unlock()

	if idle != nil {
		select {
		case <-idle:
		case <-ctx.Done():
			p.log.Warn("shutdown grace expired with leases in flight")
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.slots {
		if s.engine == nil {
			continue
		}
		if err := s.engine.Close(); err != nil {
			p.log.Warn("close browser engine", zap.Int("slot", s.id), zap.Error(err))
		}
		s.engine = nil
	}
	return nil
}

func (p *Pool) decInflight() {
	p.mu.Lock()
	p.inflight--
	if p.inflight == 0 && p.idleCh != nil {
		close(p.idleCh)
		p.idleCh = nil
	}
	p.mu.Unlock()
}

// Lease is a checked-out slot. Exactly one of Release or Destroy must
// be called; later calls are no-ops.
type Lease struct {
	pool     *Pool
	slot     *slot
	bctx     Context
	released atomic.Bool
}

func (l *Lease) Context() Context {
	return l.bctx
}

// Release disposes the lease's context and returns the slot with its
// engine still warm. A context that fails to dispose takes the engine
// down with it, since leftover session state must never leak into the
// next checkout.
func (l *Lease) Release() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	p, s := l.pool, l.slot

	disposeErr := l.bctx.Dispose()
	if disposeErr != nil {
		p.log.Warn("dispose browser context", zap.Int("slot", s.id), zap.Error(disposeErr))
	}

	p.mu.Lock()
	closed := p.closed
	if (disposeErr != nil || closed) && s.engine != nil {
		if err := s.engine.Close(); err != nil {
			p.log.Warn("close browser engine", zap.Int("slot", s.id), zap.Error(err))
		}
		s.engine = nil
	}
	p.mu.Unlock()

	if !closed {
		p.free <- s
	}
	p.decInflight()
}

// Destroy kills the slot's engine outright. The next checkout of this
// slot relaunches from scratch.
func (l *Lease) Destroy() {
	if !l.released.CompareAndSwap(false, true) {
		return
	}
	p, s := l.pool, l.slot

	p.mu.Lock()
	closed := p.closed
	if s.engine != nil {
		if err := s.engine.Close(); err != nil {
			p.log.Warn("close browser engine", zap.Int("slot", s.id), zap.Error(err))
		}
		s.engine = nil
	}
	p.mu.Unlock()

	if !closed {
		p.free <- s
	}
	p.decInflight()
}
