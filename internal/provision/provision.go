package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-logr/logr"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/util/naming"
)

// ManagedTag marks every guest this system creates, so orphan sweeps can
// tell our leftovers from everything else on a shared host.
const ManagedTag = "inspect"

// HostBridge is the NIC target when a VM attaches to no managed network.
const HostBridge = "vmbr0"

const prefixProbeAttempts = 100

// ProvisionedVM is one guest created for a run.
type ProvisionedVM struct {
	VMID      int
	Name      string
	Node      string
	Reachable bool
}

// SubnetRef locates one created subnet for teardown.
type SubnetRef struct {
	VNet string
	CIDR string
}

// ProvisionedSet is the exact record of what one Create call has built so
// far, in creation order. It is owned by a single orchestration call and is
// the worklist Destroy consumes.
type ProvisionedSet struct {
	Prefix  string
	Zone    string
	VNets   []string
	Subnets []SubnetRef
	VMs     []ProvisionedVM
}

// Empty reports whether nothing was created.
func (s *ProvisionedSet) Empty() bool {
	return s == nil || (s.Zone == "" && len(s.VNets) == 0 && len(s.Subnets) == 0 && len(s.VMs) == 0)
}

// ReachableVMs returns the guests marked externally reachable.
func (s *ProvisionedSet) ReachableVMs() []ProvisionedVM {
	var out []ProvisionedVM
	for _, vm := range s.VMs {
		if vm.Reachable {
			out = append(out, vm)
		}
	}
	return out
}

// DestroyError aggregates the sub-failures of a best-effort teardown.
type DestroyError struct {
	Errs []error
}

func (e *DestroyError) Error() string {
	msgs := make([]string, 0, len(e.Errs))
	for _, err := range e.Errs {
		msgs = append(msgs, err.Error())
	}
	return fmt.Sprintf("teardown left %d object(s) behind: %s", len(e.Errs), strings.Join(msgs, "; "))
}

func (e *DestroyError) Unwrap() []error { return e.Errs }

// Orchestrator provisions and tears down sandbox environments on one host.
// It assumes the pool layer has granted it exclusive access to that host.
type Orchestrator struct {
	api      proxmox.API
	host     config.Instance
	alloc    *Allocator
	timeouts *config.Timeouts
	log      logr.Logger
}

// Option customizes an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log logr.Logger) Option {
	return func(o *Orchestrator) { o.log = log }
}

// WithTimeouts replaces the timeout configuration.
func WithTimeouts(t *config.Timeouts) Option {
	return func(o *Orchestrator) { o.timeouts = t }
}

// NewOrchestrator builds an orchestrator for one host. The allocator must
// be the process-wide allocator for that host.
func NewOrchestrator(api proxmox.API, host config.Instance, alloc *Allocator, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		api:      api,
		host:     host,
		alloc:    alloc,
		timeouts: config.LoadTimeouts(),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Create builds the topology on the host in dependency order: zone, vnets,
// subnets, SDN apply, then VMs. Every object is recorded into the returned
// set the moment it exists remotely, so on error the set is the exact
// partial state for Destroy. Objects that already exist with our identifier
// are treated as created and recorded.
func (o *Orchestrator) Create(ctx context.Context, runName string, topo Topology) (*ProvisionedSet, error) {
	start := time.Now()
	set, err := o.create(ctx, runName, topo)
	outcome := "success"
	if err != nil {
		outcome = "failure"
	}
	provisionDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return set, err
}

func (o *Orchestrator) create(ctx context.Context, runName string, topo Topology) (*ProvisionedSet, error) {
	set := &ProvisionedSet{}
	if err := topo.Validate(); err != nil {
		return set, fmt.Errorf("invalid topology: %w", err)
	}

	zones, err := o.api.ListZones(ctx)
	if err != nil {
		return set, fmt.Errorf("listing zones: %w", err)
	}
	prefix, err := probePrefix(runName, zones)
	if err != nil {
		return set, err
	}
	set.Prefix = prefix
	log := o.log.WithValues("host", o.host.InstanceID, "prefix", prefix)

	networks := topo.Networks
	switch {
	case networks == nil:
		existing, err := o.existingCIDRs(ctx)
		if err != nil {
			return set, err
		}
		auto, err := autoNetwork(existing)
		if err != nil {
			return set, err
		}
		networks = []NetworkSpec{auto}
		log.Info("generated network", "cidr", auto.Subnets[0].CIDR)
	case len(networks) > 0:
		existing, err := o.existingCIDRs(ctx)
		if err != nil {
			return set, err
		}
		if err := topo.CheckAgainstExisting(existing); err != nil {
			return set, err
		}
	}

	if len(networks) > 0 {
		if err := o.createNetworks(ctx, set, networks, log); err != nil {
			return set, err
		}
	}

	for i, spec := range topo.VMs {
		if err := o.createVM(ctx, set, networks, i, spec, log); err != nil {
			return set, err
		}
	}
	log.Info("environment provisioned", "vnets", len(set.VNets), "vms", len(set.VMs))
	return set, nil
}

func (o *Orchestrator) createNetworks(ctx context.Context, set *ProvisionedSet, networks []NetworkSpec, log logr.Logger) error {
	zone := naming.Zone(set.Prefix)
	if err := o.api.CreateZone(ctx, zone); err != nil && !proxmox.IsAlreadyExists(err) {
		return fmt.Errorf("creating zone %s: %w", zone, err)
	}
	set.Zone = zone

	for i, n := range networks {
		vnet := naming.VNet(set.Prefix, i)
		if err := o.api.CreateVNet(ctx, vnet, zone, n.Alias); err != nil && !proxmox.IsAlreadyExists(err) {
			return fmt.Errorf("creating vnet %s: %w", vnet, err)
		}
		set.VNets = append(set.VNets, vnet)

		for _, s := range n.Subnets {
			opts := proxmox.SubnetCreateOpts{
				CIDR:    s.CIDR,
				Gateway: s.Gateway,
				SNAT:    s.SNAT,
			}
			if s.DHCP != nil {
				opts.DHCPRanges = []proxmox.DHCPRange{{Start: s.DHCP.Start, End: s.DHCP.End}}
			}
			if err := o.api.CreateSubnet(ctx, vnet, opts); err != nil && !proxmox.IsAlreadyExists(err) {
				return fmt.Errorf("creating subnet %s on %s: %w", s.CIDR, vnet, err)
			}
			set.Subnets = append(set.Subnets, SubnetRef{VNet: vnet, CIDR: s.CIDR})
		}
	}

	if err := o.applySDN(ctx); err != nil {
		return err
	}
	log.V(1).Info("network applied", "zone", zone, "vnets", len(set.VNets))
	return nil
}

func (o *Orchestrator) createVM(ctx context.Context, set *ProvisionedSet, networks []NetworkSpec, idx int, spec VMSpec, log logr.Logger) error {
	vms, err := o.api.ListVMs(ctx, o.host.Node)
	if err != nil {
		return fmt.Errorf("listing vmids: %w", err)
	}
	inUse := make(map[int]bool, len(vms))
	for _, vm := range vms {
		inUse[vm.VMID] = true
	}
	vmid, err := o.alloc.Claim(inUse)
	if err != nil {
		return err
	}

	name := spec.Name
	if name == "" {
		name = fmt.Sprintf("%s-vm%d", set.Prefix, idx)
	}
	nics := o.nicsFor(set, networks, spec)

	if spec.TemplateVMID > 0 {
		err = o.cloneVM(ctx, vmid, name, spec, nics)
	} else {
		err = o.freshVM(ctx, vmid, name, spec, nics)
	}
	if err != nil {
		// The claim stays: after a failed create the remote state of the
		// id is unknown, so it must not be handed out again.
		return err
	}
	set.VMs = append(set.VMs, ProvisionedVM{
		VMID:      vmid,
		Name:      name,
		Node:      o.host.Node,
		Reachable: spec.Reachable,
	})
	vmsProvisioned.Inc()
	log.V(1).Info("vm created", "vmid", vmid, "name", name)

	upid, err := o.api.StartVM(ctx, o.host.Node, vmid)
	if err != nil {
		return fmt.Errorf("starting vm %d: %w", vmid, err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		return fmt.Errorf("starting vm %d: %w", vmid, err)
	}
	return nil
}

// nicsFor maps a VM spec's network indexes onto net device strings. With no
// managed networks the guest lands on the host bridge.
func (o *Orchestrator) nicsFor(set *ProvisionedSet, networks []NetworkSpec, spec VMSpec) []string {
	indexes := spec.Networks
	if indexes == nil {
		if len(networks) == 0 {
			return []string{"virtio,bridge=" + HostBridge}
		}
		indexes = []int{0}
	}
	nics := make([]string, 0, len(indexes))
	for _, i := range indexes {
		nics = append(nics, "virtio,bridge="+naming.VNet(set.Prefix, i))
	}
	return nics
}

func (o *Orchestrator) freshVM(ctx context.Context, vmid int, name string, spec VMSpec, nics []string) error {
	upid, err := o.api.CreateVM(ctx, o.host.Node, proxmox.VMCreateOpts{
		VMID:     vmid,
		Name:     name,
		MemoryMB: spec.MemoryMB,
		Cores:    spec.Cores,
		OSType:   "l26",
		Tags:     []string{ManagedTag},
		Agent:    true,
		NICs:     nics,
	})
	if err != nil {
		return fmt.Errorf("creating vm %d: %w", vmid, err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		return fmt.Errorf("creating vm %d: %w", vmid, err)
	}
	return nil
}

func (o *Orchestrator) cloneVM(ctx context.Context, vmid int, name string, spec VMSpec, nics []string) error {
	upid, err := o.api.CloneVM(ctx, o.host.Node, proxmox.CloneOpts{
		TemplateVMID: spec.TemplateVMID,
		NewVMID:      vmid,
		Name:         name,
		Full:         true,
	})
	if err != nil {
		return fmt.Errorf("cloning template %d to vm %d: %w", spec.TemplateVMID, vmid, err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		return fmt.Errorf("cloning template %d to vm %d: %w", spec.TemplateVMID, vmid, err)
	}

	params := map[string]string{
		"tags":  ManagedTag,
		"agent": "enabled=1",
	}
	if spec.MemoryMB > 0 {
		params["memory"] = fmt.Sprintf("%d", spec.MemoryMB)
	}
	if spec.Cores > 0 {
		params["cores"] = fmt.Sprintf("%d", spec.Cores)
	}
	for i, nic := range nics {
		params[fmt.Sprintf("net%d", i)] = nic
	}
	if err := o.api.SetVMConfig(ctx, o.host.Node, vmid, params); err != nil {
		return fmt.Errorf("configuring vm %d: %w", vmid, err)
	}
	return nil
}

// Destroy reverses a ProvisionedSet in reverse creation order: VMs, then
// subnets, vnets, zone, then a final SDN apply. Best-effort throughout:
// missing objects count as already clean and sub-failures are collected
// into one DestroyError rather than aborting the sweep.
func (o *Orchestrator) Destroy(ctx context.Context, set *ProvisionedSet) error {
	if set.Empty() {
		return nil
	}
	start := time.Now()
	var errs []error

	for i := len(set.VMs) - 1; i >= 0; i-- {
		vm := set.VMs[i]
		if err := o.destroyVM(ctx, vm.VMID); err != nil {
			errs = append(errs, fmt.Errorf("vm %d: %w", vm.VMID, err))
			continue
		}
		o.alloc.Release(vm.VMID)
	}

	for i := len(set.Subnets) - 1; i >= 0; i-- {
		ref := set.Subnets[i]
		if err := o.destroySubnet(ctx, ref); err != nil {
			errs = append(errs, fmt.Errorf("subnet %s on %s: %w", ref.CIDR, ref.VNet, err))
		}
	}
	for i := len(set.VNets) - 1; i >= 0; i-- {
		vnet := set.VNets[i]
		if err := o.api.DeleteVNet(ctx, vnet); err != nil && !proxmox.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("vnet %s: %w", vnet, err))
		}
	}
	if set.Zone != "" {
		if err := o.api.DeleteZone(ctx, set.Zone); err != nil && !proxmox.IsNotFound(err) {
			errs = append(errs, fmt.Errorf("zone %s: %w", set.Zone, err))
		}
		if err := o.applySDN(ctx); err != nil {
			errs = append(errs, err)
		}
	}

	outcome := "success"
	if len(errs) > 0 {
		outcome = "failure"
	}
	destroyDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	if len(errs) > 0 {
		return &DestroyError{Errs: errs}
	}
	o.log.Info("environment destroyed", "host", o.host.InstanceID, "prefix", set.Prefix)
	return nil
}

// destroyVM hard-stops then deletes a guest. A guest that is already gone,
// at either step, counts as destroyed.
func (o *Orchestrator) destroyVM(ctx context.Context, vmid int) error {
	upid, err := o.api.StopVM(ctx, o.host.Node, vmid)
	switch {
	case proxmox.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("stopping: %w", err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		// A stop task can fail because the guest is already off; deletion
		// below is the call that matters.
		o.log.V(1).Info("stop task failed, deleting anyway", "vmid", vmid, "err", err.Error())
	}

	upid, err = o.api.DeleteVM(ctx, o.host.Node, vmid)
	switch {
	case proxmox.IsNotFound(err):
		return nil
	case err != nil:
		return fmt.Errorf("deleting: %w", err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		return fmt.Errorf("deleting: %w", err)
	}
	return nil
}

// destroySubnet resolves the subnet's zone-qualified id by listing, since
// Proxmox names subnets itself at create time.
func (o *Orchestrator) destroySubnet(ctx context.Context, ref SubnetRef) error {
	subnets, err := o.api.ListSubnets(ctx, ref.VNet)
	if err != nil {
		if proxmox.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("listing: %w", err)
	}
	for _, s := range subnets {
		if s.CIDR == ref.CIDR {
			if err := o.api.DeleteSubnet(ctx, ref.VNet, s.ID); err != nil && !proxmox.IsNotFound(err) {
				return err
			}
			return nil
		}
	}
	return nil
}

func (o *Orchestrator) applySDN(ctx context.Context) error {
	upid, err := o.api.ApplySDN(ctx)
	if err != nil {
		return fmt.Errorf("applying sdn configuration: %w", err)
	}
	if err := o.api.AwaitTask(ctx, o.host.Node, upid, o.timeouts.TaskWait); err != nil {
		return fmt.Errorf("applying sdn configuration: %w", err)
	}
	return nil
}

// existingCIDRs collects every subnet CIDR currently configured on the host.
func (o *Orchestrator) existingCIDRs(ctx context.Context) ([]string, error) {
	vnets, err := o.api.ListVNets(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing vnets: %w", err)
	}
	var cidrs []string
	for _, v := range vnets {
		subnets, err := o.api.ListSubnets(ctx, v.VNet)
		if err != nil {
			return nil, fmt.Errorf("listing subnets of %s: %w", v.VNet, err)
		}
		for _, s := range subnets {
			cidrs = append(cidrs, s.CIDR)
		}
	}
	return cidrs, nil
}

// probePrefix derives the run prefix, re-rolling while the would-be zone id
// collides with a zone already on the host.
func probePrefix(runName string, zones []proxmox.Zone) (string, error) {
	taken := make(map[string]struct{}, len(zones))
	for _, z := range zones {
		taken[z.Zone] = struct{}{}
	}
	for range prefixProbeAttempts {
		prefix := naming.RunPrefix(runName)
		if _, ok := taken[naming.Zone(prefix)]; !ok {
			return prefix, nil
		}
	}
	return "", errors.New("provision: could not find a free run prefix")
}
