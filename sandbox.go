// Package proxmoxsandbox provisions ephemeral, isolated VM environments on
// a fleet of Proxmox VE hosts.
//
// A Manager owns the process-wide pool registry and a client per host.
// Setup acquires a free host from a pool, builds the requested topology on
// it and returns an Environment; Teardown reverses exactly what Setup
// built and returns the host to its pool. The host is returned on every
// exit path, including provisioning failures, so a broken run never takes
// a host out of rotation.
package proxmoxsandbox

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/go-logr/logr"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/pool"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/provision"
)

// Re-exported so callers do not import internal packages.
type (
	// Topology describes the networks and VMs to provision.
	Topology = provision.Topology
	// NetworkSpec is one managed network.
	NetworkSpec = provision.NetworkSpec
	// SubnetSpec is one IP range inside a network.
	SubnetSpec = provision.SubnetSpec
	// DHCPRange is a leasable address range.
	DHCPRange = provision.DHCPRange
	// VMSpec is one virtual machine.
	VMSpec = provision.VMSpec
	// ProvisionedVM is one created guest.
	ProvisionedVM = provision.ProvisionedVM
	// TemplateUpload describes an image to place on a host's storage.
	TemplateUpload = provision.TemplateUpload
	// Orphans lists leftover sandbox objects found on a host.
	Orphans = provision.Orphans
	// Instance is one configured Proxmox host.
	Instance = config.Instance
)

// ErrNoInstances is returned when no host configuration can be found.
var ErrNoInstances = errors.New("proxmoxsandbox: no instances configured")

// APIFactory builds the API client for one host. Replaced in tests.
type APIFactory func(config.Instance) proxmox.API

// Manager owns the pool registry and per-host state for one process.
type Manager struct {
	log       logr.Logger
	timeouts  *config.Timeouts
	registry  *pool.Registry
	instances []config.Instance
	factory   APIFactory

	mu      sync.Mutex
	clients map[string]proxmox.API
	allocs  map[string]*provision.Allocator
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

// WithLogger sets the logger used by the manager and everything it builds.
func WithLogger(log logr.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithTimeouts replaces the timeout configuration.
func WithTimeouts(t *config.Timeouts) ManagerOption {
	return func(m *Manager) { m.timeouts = t }
}

// WithAPIFactory replaces how per-host API clients are built.
func WithAPIFactory(f APIFactory) ManagerOption {
	return func(m *Manager) { m.factory = f }
}

// NewManager builds a manager over the given host instances, registering
// one pool per distinct pool id.
func NewManager(instances []config.Instance, opts ...ManagerOption) (*Manager, error) {
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	for _, inst := range instances {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("instance %q: %w", inst.InstanceID, err)
		}
	}

	m := &Manager{
		log:       logr.Discard(),
		timeouts:  config.LoadTimeouts(),
		instances: append([]config.Instance(nil), instances...),
		clients:   make(map[string]proxmox.API),
		allocs:    make(map[string]*provision.Allocator),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.registry = pool.NewRegistry(pool.WithLogger(m.log))
	if m.factory == nil {
		m.factory = func(inst config.Instance) proxmox.API {
			return proxmox.NewRealClient(inst,
				proxmox.WithTimeouts(m.timeouts),
				proxmox.WithLogger(m.log.WithName("proxmox").WithValues("instance", inst.InstanceID)),
			)
		}
	}

	for poolID, members := range config.GroupByPool(m.instances) {
		if err := m.registry.RegisterPool(poolID, members); err != nil {
			m.registry.Shutdown()
			return nil, err
		}
	}
	return m, nil
}

// NewManagerFromEnv builds a manager from the process environment: a pools
// file named by PROXMOX_CONFIG_FILE, or the single-instance legacy
// variables.
func NewManagerFromEnv(opts ...ManagerOption) (*Manager, error) {
	instances, err := config.LoadInstances()
	if err != nil {
		return nil, err
	}
	if len(instances) == 0 {
		return nil, ErrNoInstances
	}
	return NewManager(instances, opts...)
}

// Pools returns the registered pool ids.
func (m *Manager) Pools() []string { return m.registry.Pools() }

// Instances returns all configured hosts.
func (m *Manager) Instances() []config.Instance {
	return append([]config.Instance(nil), m.instances...)
}

// Shutdown closes the registry. Blocked Setup calls fail with the pool's
// closed error.
func (m *Manager) Shutdown() { m.registry.Shutdown() }

// Environment is one provisioned sandbox on one exclusively-held host.
type Environment struct {
	Host config.Instance
	Set  *provision.ProvisionedSet

	orch      *provision.Orchestrator
	destroyed bool
	released  bool
}

// ReachableVMs returns the guests the guest-exec layer may address, with
// node and vmid for each.
func (e *Environment) ReachableVMs() []provision.ProvisionedVM {
	return e.Set.ReachableVMs()
}

// Setup acquires a host from the pool, sweeps any leftovers a crashed run
// left on it, and provisions the topology. On any failure the partial
// environment is torn down and the host is released before the error is
// returned.
func (m *Manager) Setup(ctx context.Context, runName, poolID string, topo Topology) (env *Environment, retErr error) {
	inst, err := m.registry.Acquire(ctx, poolID)
	if err != nil {
		return nil, fmt.Errorf("acquiring host from pool %q: %w", poolID, err)
	}
	defer func() {
		if retErr != nil {
			if relErr := m.registry.Release(poolID, inst.InstanceID); relErr != nil {
				m.log.Error(relErr, "releasing host after failed setup", "instance", inst.InstanceID)
			}
		}
	}()

	api := m.client(inst)
	orch := provision.NewOrchestrator(api, inst, m.allocator(inst),
		provision.WithTimeouts(m.timeouts),
		provision.WithLogger(m.log.WithName("provision")),
	)

	m.precleanHost(ctx, api, inst)

	set, err := orch.Create(ctx, runName, topo)
	if err != nil {
		if !set.Empty() {
			if derr := orch.Destroy(ctx, set); derr != nil {
				m.log.Error(derr, "tearing down partial environment", "instance", inst.InstanceID)
			}
		}
		return nil, fmt.Errorf("provisioning on %q: %w", inst.InstanceID, err)
	}
	return &Environment{Host: inst, Set: set, orch: orch}, nil
}

// precleanHost warns about and removes sandbox leftovers found on a host
// that is supposed to be clean at acquire time.
func (m *Manager) precleanHost(ctx context.Context, api proxmox.API, inst config.Instance) {
	sweeper := provision.NewSweeper(api, inst,
		provision.WithTimeouts(m.timeouts),
		provision.WithLogger(m.log.WithName("cleanup")),
	)
	orphans, err := sweeper.Discover(ctx)
	if err != nil {
		m.log.Error(err, "checking host for leftovers", "instance", inst.InstanceID)
		return
	}
	if orphans.Empty() {
		return
	}
	m.log.Info("acquired host is not clean, sweeping leftovers",
		"instance", inst.InstanceID, "zones", orphans.Zones, "vms", len(orphans.VMs))
	if err := sweeper.Sweep(ctx, orphans); err != nil {
		m.log.Error(err, "sweeping leftovers", "instance", inst.InstanceID)
	}
}

// Teardown destroys the environment and releases its host. The host is
// released on the first call even when destruction reports leftover objects;
// the destroy half stays retryable, so calling Teardown again re-runs it
// until it succeeds. Leftovers that are never retried are recovered by the
// next Setup's pre-acquire sweep.
func (m *Manager) Teardown(ctx context.Context, env *Environment) error {
	if env == nil || (env.destroyed && env.released) {
		return nil
	}

	var destroyErr error
	if !env.destroyed {
		destroyErr = env.orch.Destroy(ctx, env.Set)
		if destroyErr == nil {
			env.destroyed = true
		}
	}

	var releaseErr error
	if !env.released {
		env.released = true
		releaseErr = m.registry.Release(env.Host.PoolID, env.Host.InstanceID)
	}
	return errors.Join(destroyErr, releaseErr)
}

// HostOrphans pairs a host with the orphaned objects found on it.
type HostOrphans struct {
	Instance config.Instance
	Orphans  provision.Orphans
}

// DiscoverOrphans scans every configured host for leftover sandbox objects.
// Hosts do not need to be acquired for this; discovery is read-only.
func (m *Manager) DiscoverOrphans(ctx context.Context) ([]HostOrphans, error) {
	var out []HostOrphans
	var errs []error
	for _, inst := range m.instances {
		sweeper := provision.NewSweeper(m.client(inst), inst, provision.WithTimeouts(m.timeouts))
		orphans, err := sweeper.Discover(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("instance %q: %w", inst.InstanceID, err))
			continue
		}
		if !orphans.Empty() {
			out = append(out, HostOrphans{Instance: inst, Orphans: orphans})
		}
	}
	return out, errors.Join(errs...)
}

// SweepOrphans removes previously discovered orphans host by host,
// aggregating failures rather than stopping at the first.
func (m *Manager) SweepOrphans(ctx context.Context, found []HostOrphans) error {
	var errs []error
	for _, ho := range found {
		sweeper := provision.NewSweeper(m.client(ho.Instance), ho.Instance,
			provision.WithTimeouts(m.timeouts),
			provision.WithLogger(m.log.WithName("cleanup")),
		)
		if err := sweeper.Sweep(ctx, ho.Orphans); err != nil {
			errs = append(errs, fmt.Errorf("instance %q: %w", ho.Instance.InstanceID, err))
		}
	}
	return errors.Join(errs...)
}

// UploadTemplate makes a local image available on the named instance's
// storage, skipping the transfer when it is already present.
func (m *Manager) UploadTemplate(ctx context.Context, instanceID string, up provision.TemplateUpload) (string, error) {
	for _, inst := range m.instances {
		if inst.InstanceID != instanceID {
			continue
		}
		orch := provision.NewOrchestrator(m.client(inst), inst, m.allocator(inst),
			provision.WithTimeouts(m.timeouts),
			provision.WithLogger(m.log.WithName("provision")),
		)
		return orch.EnsureTemplateFile(ctx, up)
	}
	return "", fmt.Errorf("proxmoxsandbox: unknown instance %q", instanceID)
}

func (m *Manager) client(inst config.Instance) proxmox.API {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.clients[inst.InstanceID]; ok {
		return c
	}
	c := m.factory(inst)
	m.clients[inst.InstanceID] = c
	return c
}

func (m *Manager) allocator(inst config.Instance) *provision.Allocator {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a, ok := m.allocs[inst.InstanceID]; ok {
		return a
	}
	a := provision.NewAllocator(inst.EffectiveVMIDStart())
	m.allocs[inst.InstanceID] = a
	return a
}
