package pool_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/pool"
)

func hosts(ids ...string) []config.Instance {
	out := make([]config.Instance, 0, len(ids))
	for _, id := range ids {
		out = append(out, config.Instance{InstanceID: id, Host: id + ".example.com", Node: "pve"})
	}
	return out
}

func TestRegisterPool_Validation(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	defer r.Shutdown()

	require.ErrorIs(t, r.RegisterPool("empty", nil), pool.ErrEmptyPool)
	require.ErrorIs(t, r.RegisterPool("dup", hosts("a", "a")), pool.ErrDuplicateMember)

	require.NoError(t, r.RegisterPool("default", hosts("a", "b")))
	// Same membership again is a no-op, order ignored.
	require.NoError(t, r.RegisterPool("default", hosts("b", "a")))
	require.ErrorIs(t, r.RegisterPool("default", hosts("a", "c")), pool.ErrMembershipChanged)
	require.ErrorIs(t, r.RegisterPool("default", hosts("a")), pool.ErrMembershipChanged)
}

func TestAcquire_UnknownPool(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	defer r.Shutdown()

	_, err := r.Acquire(context.Background(), "nope")
	assert.ErrorIs(t, err, pool.ErrUnknownPool)
}

func TestAcquireRelease_Exclusivity(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	defer r.Shutdown()
	require.NoError(t, r.RegisterPool("default", hosts("a", "b", "c")))

	ctx := context.Background()
	held := make(map[string]bool)
	for range 3 {
		inst, err := r.Acquire(ctx, "default")
		require.NoError(t, err)
		require.False(t, held[inst.InstanceID], "host %s handed out twice", inst.InstanceID)
		held[inst.InstanceID] = true
	}

	// Pool exhausted; a fourth acquire must block until a release.
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()
	_, err := r.Acquire(shortCtx, "default")
	require.ErrorIs(t, err, context.DeadlineExceeded)

	require.NoError(t, r.Release("default", "b"))
	inst, err := r.Acquire(ctx, "default")
	require.NoError(t, err)
	assert.Equal(t, "b", inst.InstanceID)
}

func TestAcquire_WaitersResumeInArrivalOrder(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	defer r.Shutdown()
	require.NoError(t, r.RegisterPool("default", hosts("only")))

	ctx := context.Background()
	first, err := r.Acquire(ctx, "default")
	require.NoError(t, err)

	const waiters = 5
	order := make(chan int, waiters)
	var wg sync.WaitGroup
	for i := range waiters {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := r.Acquire(ctx, "default")
			if !assert.NoError(t, err) {
				return
			}
			order <- i
			assert.NoError(t, r.Release("default", inst.InstanceID))
		}()
		// Stagger arrivals so the semaphore queue reflects i's order.
		time.Sleep(20 * time.Millisecond)
	}

	require.NoError(t, r.Release("default", first.InstanceID))
	wg.Wait()
	close(order)

	var got []int
	for i := range order {
		got = append(got, i)
	}
	assert.Equal(t, []int{0, 1, 2, 3, 4}, got)
}

func TestRelease_Misuse(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	defer r.Shutdown()
	require.NoError(t, r.RegisterPool("default", hosts("a")))

	// Never acquired.
	require.ErrorIs(t, r.Release("default", "a"), pool.ErrNotCheckedOut)

	inst, err := r.Acquire(context.Background(), "default")
	require.NoError(t, err)
	require.NoError(t, r.Release("default", inst.InstanceID))
	// Double release.
	require.ErrorIs(t, r.Release("default", inst.InstanceID), pool.ErrNotCheckedOut)
	// Foreign id.
	require.ErrorIs(t, r.Release("default", "z"), pool.ErrNotCheckedOut)
}

func TestShutdown_WakesBlockedAcquirers(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	require.NoError(t, r.RegisterPool("default", hosts("a")))

	_, err := r.Acquire(context.Background(), "default")
	require.NoError(t, err)

	errs := make(chan error, 1)
	go func() {
		_, err := r.Acquire(context.Background(), "default")
		errs <- err
	}()
	time.Sleep(50 * time.Millisecond)
	r.Shutdown()

	select {
	case err := <-errs:
		assert.ErrorIs(t, err, pool.ErrClosed)
	case <-time.After(time.Second):
		t.Fatal("blocked acquirer was not woken by shutdown")
	}

	_, err = r.Acquire(context.Background(), "default")
	assert.ErrorIs(t, err, pool.ErrClosed)
	assert.ErrorIs(t, r.RegisterPool("other", hosts("b")), pool.ErrClosed)
}

func TestConcurrentAcquireRelease(t *testing.T) {
	t.Parallel()
	r := pool.NewRegistry()
	defer r.Shutdown()
	require.NoError(t, r.RegisterPool("default", hosts("a", "b")))

	ctx := context.Background()
	var mu sync.Mutex
	holders := make(map[string]int)

	var wg sync.WaitGroup
	for i := range 20 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst, err := r.Acquire(ctx, "default")
			if !assert.NoError(t, err) {
				return
			}

			mu.Lock()
			holders[inst.InstanceID]++
			assert.Equal(t, 1, holders[inst.InstanceID],
				"worker %d found %s already held", i, inst.InstanceID)
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			holders[inst.InstanceID]--
			mu.Unlock()
			assert.NoError(t, r.Release("default", inst.InstanceID))
		}()
	}
	wg.Wait()

	out, err := r.Outstanding("default")
	require.NoError(t, err)
	assert.Empty(t, out)
}
