package browser_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"scraperd/internal/browser"
	"scraperd/internal/browser/browsertest"
)

func newTestPool(t *testing.T, slots int, factory browser.Factory) *browser.Pool {
	t.Helper()
	p, err := browser.NewPool(context.Background(), factory, browser.PoolConfig{
		Slots:          slots,
		AcquireTimeout: 100 * time.Millisecond,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return p
}

func countingFactory() (browser.Factory, *int32) {
	var launches int32
	return func(ctx context.Context) (browser.Engine, error) {
		atomic.AddInt32(&launches, 1)
		return browsertest.NewEngine(), nil
	}, &launches
}

func trackingFactory() (browser.Factory, func() []*browsertest.Engine) {
	var mu sync.Mutex
	var engines []*browsertest.Engine
	factory := func(ctx context.Context) (browser.Engine, error) {
		e := browsertest.NewEngine()
		mu.Lock()
		engines = append(engines, e)
		mu.Unlock()
		return e, nil
	}
	snapshot := func() []*browsertest.Engine {
		mu.Lock()
		defer mu.Unlock()
		return append([]*browsertest.Engine(nil), engines...)
	}
	return factory, snapshot
}

func TestPoolReusesEngineAcrossCheckouts(t *testing.T) {
	factory, launches := countingFactory()
	p := newTestPool(t, 1, factory)

	for i := 0; i < 3; i++ {
		l, err := p.Acquire(context.Background())
		require.NoError(t, err)
		l.Release()
	}

	assert.Equal(t, int32(1), atomic.LoadInt32(launches))
}

func TestPoolCarvesFreshContextPerCheckout(t *testing.T) {
	eng := browsertest.NewEngine()
	var mu sync.Mutex
	var contexts []*browsertest.Context
	eng.NewContextFunc = func(ctx context.Context) (browser.Context, error) {
		c := &browsertest.Context{}
		mu.Lock()
		contexts = append(contexts, c)
		mu.Unlock()
		return c, nil
	}
	factory := func(ctx context.Context) (browser.Engine, error) { return eng, nil }
	p := newTestPool(t, 1, factory)

	for i := 0; i < 2; i++ {
		l, err := p.Acquire(context.Background())
		require.NoError(t, err)
		l.Release()
	}

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, contexts, 2)
	assert.NotSame(t, contexts[0], contexts[1])
	assert.Equal(t, 1, contexts[0].DisposeCount())
	assert.Equal(t, 1, contexts[1].DisposeCount())
}

func TestPoolAcquireTimesOutWhenExhausted(t *testing.T) {
	factory, _ := countingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	_, err = p.Acquire(context.Background())
	require.ErrorIs(t, err, browser.ErrExhausted)
}

func TestPoolAcquireHonorsCallerCancel(t *testing.T) {
	factory, _ := countingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	defer l.Release()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, err = p.Acquire(ctx)
	require.ErrorIs(t, err, context.Canceled)
}

func TestPoolHandsSlotToWaiter(t *testing.T) {
	factory, _ := countingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		waiter, err := p.Acquire(context.Background())
		if err == nil {
			waiter.Release()
		}
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	l.Release()

	require.NoError(t, <-errCh)
}

func TestPoolDisposeFailureDestroysEngine(t *testing.T) {
	var mu sync.Mutex
	var engines []*browsertest.Engine
	factory := func(ctx context.Context) (browser.Engine, error) {
		mu.Lock()
		defer mu.Unlock()
		e := browsertest.NewEngine()
		if len(engines) == 0 {
			e.NewContextFunc = func(context.Context) (browser.Context, error) {
				return &browsertest.Context{DisposeErr: errors.New("context wedged")}, nil
			}
		}
		engines = append(engines, e)
		return e, nil
	}
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()

	mu.Lock()
	first := engines[0]
	mu.Unlock()
	assert.Equal(t, 1, first.CloseCount())

	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2.Release()

	mu.Lock()
	launched := len(engines)
	mu.Unlock()
	assert.Equal(t, 2, launched)
}

func TestPoolDestroyRelaunchesLazily(t *testing.T) {
	factory, snapshot := trackingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Destroy()

	engines := snapshot()
	require.Len(t, engines, 1)
	assert.Equal(t, 1, engines[0].CloseCount())

	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2.Release()

	assert.Len(t, snapshot(), 2)
}

func TestPoolDoubleReleaseIsNoop(t *testing.T) {
	factory, snapshot := trackingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l.Release()
	l.Release()
	l.Destroy()

	engines := snapshot()
	require.Len(t, engines, 1)
	assert.Equal(t, 0, engines[0].CloseCount())
	assert.Equal(t, 0, p.Stats().Inflight)

	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2.Release()
	assert.Len(t, snapshot(), 1)
}

func TestNewPoolToleratesPartialLaunchFailure(t *testing.T) {
	var calls int32
	factory := func(ctx context.Context) (browser.Engine, error) {
		if atomic.AddInt32(&calls, 1) == 1 {
			return nil, errors.New("no executable")
		}
		return browsertest.NewEngine(), nil
	}
	p := newTestPool(t, 2, factory)

	l1, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l2, err := p.Acquire(context.Background())
	require.NoError(t, err)
	l1.Release()
	l2.Release()

	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestNewPoolFailsWhenEveryLaunchFails(t *testing.T) {
	factory := func(ctx context.Context) (browser.Engine, error) {
		return nil, errors.New("no executable")
	}
	_, err := browser.NewPool(context.Background(), factory, browser.PoolConfig{Slots: 2}, zaptest.NewLogger(t))
	require.ErrorIs(t, err, browser.ErrLaunchFailed)
}

func TestPoolShutdownRejectsNewAcquires(t *testing.T) {
	factory, snapshot := trackingFactory()
	p := newTestPool(t, 1, factory)

	require.NoError(t, p.Shutdown(context.Background()))

	_, err := p.Acquire(context.Background())
	require.ErrorIs(t, err, browser.ErrPoolClosed)

	engines := snapshot()
	require.Len(t, engines, 1)
	assert.Equal(t, 1, engines[0].CloseCount())
}

func TestPoolShutdownWakesBlockedAcquirers(t *testing.T) {
	factory, snapshot := trackingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)
	_ = l

	errCh := make(chan error, 1)
	go func() {
		_, err := p.Acquire(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	sctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.NoError(t, p.Shutdown(sctx))

	require.ErrorIs(t, <-errCh, browser.ErrPoolClosed)

	// Grace expired with the lease still out, so the engine was
	// force-closed.
	engines := snapshot()
	require.Len(t, engines, 1)
	assert.Equal(t, 1, engines[0].CloseCount())
}

func TestPoolShutdownWaitsForInflightLease(t *testing.T) {
	factory, snapshot := trackingFactory()
	p := newTestPool(t, 1, factory)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		p.Shutdown(sctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	l.Release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("shutdown did not return after the lease was released")
	}

	engines := snapshot()
	require.Len(t, engines, 1)
	assert.Equal(t, 1, engines[0].CloseCount())
}

func TestPoolStats(t *testing.T) {
	factory, _ := countingFactory()
	p := newTestPool(t, 2, factory)

	st := p.Stats()
	assert.Equal(t, 2, st.Slots)
	assert.Equal(t, 2, st.Idle)
	assert.Equal(t, 0, st.Inflight)

	l, err := p.Acquire(context.Background())
	require.NoError(t, err)

	st = p.Stats()
	assert.Equal(t, 1, st.Idle)
	assert.Equal(t, 1, st.Inflight)

	l.Release()
	st = p.Stats()
	assert.Equal(t, 2, st.Idle)
	assert.Equal(t, 0, st.Inflight)
}
