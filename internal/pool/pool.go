package pool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/semaphore"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
)

// Registry owns all host pools for the lifetime of a process. It is created
// once, populated via RegisterPool, and torn down with Shutdown. Safe for
// concurrent use.
type Registry struct {
	log      logr.Logger
	lifetime context.Context
	cancel   context.CancelFunc

	mu    sync.RWMutex
	pools map[string]*hostPool
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithLogger sets the registry logger. The default discards everything.
func WithLogger(log logr.Logger) RegistryOption {
	return func(r *Registry) { r.log = log }
}

// NewRegistry returns an empty registry.
func NewRegistry(opts ...RegistryOption) *Registry {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Registry{
		log:      logr.Discard(),
		lifetime: ctx,
		cancel:   cancel,
		pools:    make(map[string]*hostPool),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RegisterPool adds a pool with the given members. Registering the same id
// with the same member set again is a no-op; changing the member set of an
// existing pool is refused with ErrMembershipChanged.
func (r *Registry) RegisterPool(id string, members []config.Instance) error {
	if len(members) == 0 {
		return fmt.Errorf("%w: %q", ErrEmptyPool, id)
	}
	seen := make(map[string]struct{}, len(members))
	for _, m := range members {
		if _, ok := seen[m.InstanceID]; ok {
			return fmt.Errorf("%w: %q in pool %q", ErrDuplicateMember, m.InstanceID, id)
		}
		seen[m.InstanceID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lifetime.Err() != nil {
		return ErrClosed
	}
	if existing, ok := r.pools[id]; ok {
		if existing.sameMembership(seen) {
			return nil
		}
		return fmt.Errorf("%w: %q", ErrMembershipChanged, id)
	}
	r.pools[id] = newHostPool(id, members)
	poolCapacity.WithLabelValues(id).Set(float64(len(members)))
	r.log.Info("registered pool", "pool", id, "members", len(members))
	return nil
}

// Pools returns the ids of all registered pools.
func (r *Registry) Pools() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.pools))
	for id := range r.pools {
		out = append(out, id)
	}
	return out
}

// Members returns the member set of a pool.
func (r *Registry) Members(id string) ([]config.Instance, error) {
	p, err := r.pool(id)
	if err != nil {
		return nil, err
	}
	return p.members(), nil
}

// Acquire checks a free host out of the pool, blocking until one is free.
// Waiters are served in arrival order. Returns ErrClosed if the registry is
// shut down while waiting.
func (r *Registry) Acquire(ctx context.Context, poolID string) (config.Instance, error) {
	p, err := r.pool(poolID)
	if err != nil {
		return config.Instance{}, err
	}

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(r.lifetime, cancel)
	defer stop()

	start := time.Now()
	if err := p.sem.Acquire(waitCtx, 1); err != nil {
		if r.lifetime.Err() != nil {
			return config.Instance{}, ErrClosed
		}
		return config.Instance{}, err
	}
	acquireWaitSeconds.WithLabelValues(poolID).Observe(time.Since(start).Seconds())

	inst := p.checkout()
	checkedOut.WithLabelValues(poolID).Inc()
	r.log.V(1).Info("host acquired", "pool", poolID, "instance", inst.InstanceID)
	return inst, nil
}

// Release returns a checked-out host to its pool and wakes the longest
// waiting acquirer, if any.
func (r *Registry) Release(poolID, instanceID string) error {
	p, err := r.pool(poolID)
	if err != nil {
		return err
	}
	if err := p.checkin(instanceID); err != nil {
		return err
	}
	checkedOut.WithLabelValues(poolID).Dec()
	p.sem.Release(1)
	r.log.V(1).Info("host released", "pool", poolID, "instance", instanceID)
	return nil
}

// Outstanding returns the instance ids currently checked out of a pool.
func (r *Registry) Outstanding(poolID string) ([]string, error) {
	p, err := r.pool(poolID)
	if err != nil {
		return nil, err
	}
	return p.outstanding(), nil
}

// Shutdown closes the registry. Blocked acquirers receive ErrClosed and
// later calls fail fast. Hosts still checked out are logged; they are the
// caller's leak to chase.
func (r *Registry) Shutdown() {
	r.cancel()
	r.mu.RLock()
	defer r.mu.RUnlock()
	for id, p := range r.pools {
		if out := p.outstanding(); len(out) > 0 {
			r.log.Info("shutting down with hosts still checked out", "pool", id, "instances", out)
		}
	}
}

func (r *Registry) pool(id string) (*hostPool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.lifetime.Err() != nil {
		return nil, ErrClosed
	}
	p, ok := r.pools[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownPool, id)
	}
	return p, nil
}

// hostPool is one named pool. The weighted semaphore provides the blocking
// and the arrival-order wakeups; the free list under the mutex decides
// which member a successful acquirer gets.
type hostPool struct {
	id  string
	sem *semaphore.Weighted

	mu   sync.Mutex
	all  []config.Instance
	free []config.Instance
	out  map[string]config.Instance
}

func newHostPool(id string, members []config.Instance) *hostPool {
	p := &hostPool{
		id:   id,
		sem:  semaphore.NewWeighted(int64(len(members))),
		all:  append([]config.Instance(nil), members...),
		free: append([]config.Instance(nil), members...),
		out:  make(map[string]config.Instance),
	}
	return p
}

func (p *hostPool) sameMembership(ids map[string]struct{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.all) != len(ids) {
		return false
	}
	for _, m := range p.all {
		if _, ok := ids[m.InstanceID]; !ok {
			return false
		}
	}
	return true
}

func (p *hostPool) members() []config.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]config.Instance(nil), p.all...)
}

// checkout pops a free member. Only called after a successful semaphore
// acquire, so the free list cannot be empty.
func (p *hostPool) checkout() config.Instance {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst := p.free[0]
	p.free = p.free[1:]
	p.out[inst.InstanceID] = inst
	return inst
}

func (p *hostPool) checkin(instanceID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	inst, ok := p.out[instanceID]
	if !ok {
		return fmt.Errorf("%w: %q in pool %q", ErrNotCheckedOut, instanceID, p.id)
	}
	delete(p.out, instanceID)
	p.free = append(p.free, inst)
	return nil
}

func (p *hostPool) outstanding() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.out))
	for id := range p.out {
		out = append(out, id)
	}
	return out
}
