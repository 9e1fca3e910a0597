package calib

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testEndpoints(n int) []Endpoint {
	eps := make([]Endpoint, n)
	for i := range eps {
		eps[i] = Endpoint{Host: "127.0.0.1", Port: 50001 + i}
	}
	return eps
}

func TestPoolCheckoutReturn(t *testing.T) {
	pool, err := NewServerPool(testEndpoints(2))
	require.NoError(t, err)

	ctx := context.Background()
	e1, err := pool.Checkout(ctx)
	require.NoError(t, err)
	e2, err := pool.Checkout(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, e1, e2, "the same endpoint must not be held twice")

	// Pool is drained; a third checkout must block until a return.
	blocked, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	_, err = pool.Checkout(blocked)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	pool.Return(e1)
	e3, err := pool.Checkout(ctx)
	require.NoError(t, err)
	assert.Equal(t, e1, e3)
}

func TestPoolRejectsEmptyAndDuplicates(t *testing.T) {
	_, err := NewServerPool(nil)
	assert.Error(t, err)

	eps := testEndpoints(2)
	eps[1] = eps[0]
	_, err = NewServerPool(eps)
	assert.Error(t, err)
}

func TestPoolMarkDead(t *testing.T) {
	eps := testEndpoints(2)
	pool, err := NewServerPool(eps)
	require.NoError(t, err)

	ctx := context.Background()
	e, err := pool.Checkout(ctx)
	require.NoError(t, err)

	pool.MarkDead(e)
	pool.MarkDead(e) // idempotent
	assert.False(t, pool.AllDead())
	assert.Equal(t, 1, pool.Live())

	// Returning a dead endpoint is a no-op; the next checkout must yield
	// the other one.
	pool.Return(e)
	got, err := pool.Checkout(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, e, got)
}

func TestPoolMarkDeadIgnoresUnknownEndpoint(t *testing.T) {
	eps := testEndpoints(2)
	pool, err := NewServerPool(eps)
	require.NoError(t, err)

	// A stray endpoint must not count toward the dead set, or a later
	// legitimate retirement could release waiters while an endpoint is
	// still live.
	pool.MarkDead(Endpoint{Host: "10.0.0.9", Port: 60000})
	assert.Equal(t, 2, pool.Live())

	pool.MarkDead(eps[0])
	assert.False(t, pool.AllDead())
	assert.Equal(t, 1, pool.Live())

	got, err := pool.Checkout(context.Background())
	require.NoError(t, err)
	assert.Equal(t, eps[1], got)
}

func TestPoolAllDeadReleasesWaiters(t *testing.T) {
	eps := testEndpoints(2)
	pool, err := NewServerPool(eps)
	require.NoError(t, err)

	ctx := context.Background()
	e1, err := pool.Checkout(ctx)
	require.NoError(t, err)
	e2, err := pool.Checkout(ctx)
	require.NoError(t, err)

	waiterErr := make(chan error, 1)
	go func() {
		_, err := pool.Checkout(ctx)
		waiterErr <- err
	}()

	pool.MarkDead(e1)
	pool.MarkDead(e2)
	assert.True(t, pool.AllDead())

	select {
	case err := <-waiterErr:
		var dead *AllEndpointsDead
		assert.True(t, errors.As(err, &dead))
	case <-time.After(time.Second):
		t.Fatal("waiter was not released when the last endpoint died")
	}

	// Future checkouts fail immediately too.
	_, err = pool.Checkout(ctx)
	var dead *AllEndpointsDead
	assert.True(t, errors.As(err, &dead))
}

// TestPoolConcurrentSafety hammers the pool from many goroutines and checks
// the two core invariants: no endpoint is held by two tasks at once, and a
// dead endpoint is never handed out again.
func TestPoolConcurrentSafety(t *testing.T) {
	eps := testEndpoints(4)
	pool, err := NewServerPool(eps)
	require.NoError(t, err)

	var mu sync.Mutex
	held := make(map[Endpoint]bool)
	deadSeen := make(map[Endpoint]bool)

	ctx := context.Background()
	var wg sync.WaitGroup
	for g := 0; g < 16; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				e, err := pool.Checkout(ctx)
				if err != nil {
					return // pool fully dead
				}

				mu.Lock()
				if held[e] {
					t.Errorf("endpoint %s checked out twice concurrently", e.Addr())
				}
				if deadSeen[e] {
					t.Errorf("dead endpoint %s handed out", e.Addr())
				}
				held[e] = true
				mu.Unlock()

				if g == 0 && i == 10 {
					mu.Lock()
					deadSeen[e] = true
					mu.Unlock()
					pool.MarkDead(e)
					mu.Lock()
					held[e] = false
					mu.Unlock()
					continue
				}

				mu.Lock()
				held[e] = false
				mu.Unlock()
				pool.Return(e)
			}
		}(g)
	}
	wg.Wait()
}
