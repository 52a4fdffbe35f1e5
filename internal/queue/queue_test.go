package queue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDequeueOrdersByPriority(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Submit("low", 1))
	require.NoError(t, q.Submit("high", 5))
	require.NoError(t, q.Submit("mid", 3))

	ctx := context.Background()
	for _, want := range []string{"high", "mid", "low"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ID)
	}
}

func TestDequeueIsFIFOWithinPriority(t *testing.T) {
	q := New(10)
	require.NoError(t, q.Submit("first", 2))
	require.NoError(t, q.Submit("second", 2))
	require.NoError(t, q.Submit("third", 2))

	ctx := context.Background()
	for _, want := range []string{"first", "second", "third"} {
		item, err := q.Dequeue(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, item.ID)
	}
}

func TestSubmitFailsFastWhenFull(t *testing.T) {
	q := New(2)
	require.NoError(t, q.Submit("a", 0))
	require.NoError(t, q.Submit("b", 0))

	err := q.Submit("c", 0)
	require.ErrorIs(t, err, ErrFull)

	// Removing a queued item frees its slot immediately.
	require.True(t, q.Remove("a"))
	require.NoError(t, q.Submit("c", 0))
}

func TestSubmitRejectsDuplicateID(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Submit("a", 0))
	require.ErrorIs(t, q.Submit("a", 3), ErrDuplicate)
	assert.Equal(t, 1, q.Len())
}

func TestRemove(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Submit("a", 1))
	require.NoError(t, q.Submit("b", 2))

	assert.True(t, q.Remove("a"))
	assert.False(t, q.Remove("a"), "second remove must be a no-op")
	assert.False(t, q.Remove("missing"))

	item, err := q.Dequeue(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "b", item.ID)
	assert.Equal(t, 0, q.Len())
}

func TestDequeueBlocksUntilSubmit(t *testing.T) {
	q := New(4)

	type result struct {
		item Item
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		item, err := q.Dequeue(context.Background())
		resCh <- result{item, err}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Submit("late", 0))

	select {
	case res := <-resCh:
		require.NoError(t, res.err)
		assert.Equal(t, "late", res.item.ID)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not wake up after submit")
	}
}

func TestDequeueHonorsContext(t *testing.T) {
	q := New(4)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := q.Dequeue(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseReleasesAllWaiters(t *testing.T) {
	q := New(4)

	const waiters = 3
	errCh := make(chan error, waiters)
	for i := 0; i < waiters; i++ {
		go func() {
			_, err := q.Dequeue(context.Background())
			errCh <- err
		}()
	}

	time.Sleep(20 * time.Millisecond)
	q.Close()

	for i := 0; i < waiters; i++ {
		select {
		case err := <-errCh:
			require.ErrorIs(t, err, ErrClosed)
		case <-time.After(time.Second):
			t.Fatal("waiter was not released by Close")
		}
	}

	require.ErrorIs(t, q.Submit("late", 0), ErrClosed)
}

func TestDequeueAfterCloseReturnsClosed(t *testing.T) {
	q := New(4)
	require.NoError(t, q.Submit("a", 0))
	q.Close()

	// Shutdown abandons queued items rather than draining them.
	_, err := q.Dequeue(context.Background())
	require.ErrorIs(t, err, ErrClosed)
}

func TestConcurrentSubmitAndDequeue(t *testing.T) {
	const total = 100
	q := New(total)

	var wg sync.WaitGroup
	seen := make(map[string]bool, total)
	var mu sync.Mutex

	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				item, err := q.Dequeue(context.Background())
				if err != nil {
					return
				}
				mu.Lock()
				if seen[item.ID] {
					t.Errorf("item %s dequeued twice", item.ID)
				}
				seen[item.ID] = true
				done := len(seen) == total
				mu.Unlock()
				if done {
					q.Close()
					return
				}
			}
		}()
	}

	for i := 0; i < total; i++ {
		require.NoError(t, q.Submit(fmt.Sprintf("job-%d", i), i%5))
	}

	wg.Wait()
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, total)
}
