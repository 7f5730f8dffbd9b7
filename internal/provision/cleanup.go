package provision

import (
	"context"
	"fmt"

	"github.com/go-logr/logr"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/util/naming"
)

// Orphans is what a sweep found left behind on one host: guests carrying
// the marker tag and zones matching the managed naming scheme.
type Orphans struct {
	Zones []string
	VMs   []proxmox.VM
}

// Empty reports whether there is nothing to sweep.
func (o Orphans) Empty() bool { return len(o.Zones) == 0 && len(o.VMs) == 0 }

// Sweeper discovers and removes orphaned sandbox objects on one host,
// typically after a crashed run that never tore down.
type Sweeper struct {
	api      proxmox.API
	host     config.Instance
	timeouts *config.Timeouts
	log      logr.Logger
}

// NewSweeper builds a sweeper for one host.
func NewSweeper(api proxmox.API, host config.Instance, opts ...Option) *Sweeper {
	o := &Orchestrator{
		timeouts: config.LoadTimeouts(),
		log:      logr.Discard(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return &Sweeper{api: api, host: host, timeouts: o.timeouts, log: o.log}
}

// Discover lists the orphaned objects without touching them.
func (s *Sweeper) Discover(ctx context.Context) (Orphans, error) {
	var orphans Orphans

	vms, err := s.api.ListVMs(ctx, s.host.Node)
	if err != nil {
		return orphans, fmt.Errorf("listing vms: %w", err)
	}
	for _, vm := range vms {
		if vm.Template == 0 && vm.HasTag(ManagedTag) {
			orphans.VMs = append(orphans.VMs, vm)
		}
	}

	zones, err := s.api.ListZones(ctx)
	if err != nil {
		return orphans, fmt.Errorf("listing zones: %w", err)
	}
	for _, z := range zones {
		if naming.IsManagedZone(z.Zone) {
			orphans.Zones = append(orphans.Zones, z.Zone)
		}
	}
	return orphans, nil
}

// Sweep removes the given orphans: guests first, then each zone's subnets,
// vnets and the zone itself, then one SDN apply. Best-effort; sub-failures
// are aggregated into a DestroyError.
func (s *Sweeper) Sweep(ctx context.Context, orphans Orphans) error {
	if orphans.Empty() {
		return nil
	}
	o := &Orchestrator{api: s.api, host: s.host, alloc: NewAllocator(0), timeouts: s.timeouts, log: s.log}

	var errs []error
	for _, vm := range orphans.VMs {
		if err := o.destroyVM(ctx, vm.VMID); err != nil {
			errs = append(errs, fmt.Errorf("vm %d: %w", vm.VMID, err))
		} else {
			orphansSwept.WithLabelValues("vm").Inc()
		}
	}

	vnets, err := s.api.ListVNets(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("listing vnets: %w", err))
		vnets = nil
	}
	for _, zone := range orphans.Zones {
		if err := s.sweepZone(ctx, o, zone, vnets); err != nil {
			errs = append(errs, fmt.Errorf("zone %s: %w", zone, err))
		} else {
			orphansSwept.WithLabelValues("zone").Inc()
		}
	}

	if len(orphans.Zones) > 0 {
		if err := o.applySDN(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return &DestroyError{Errs: errs}
	}
	s.log.Info("orphans swept", "host", s.host.InstanceID, "vms", len(orphans.VMs), "zones", len(orphans.Zones))
	return nil
}

func (s *Sweeper) sweepZone(ctx context.Context, o *Orchestrator, zone string, vnets []proxmox.VNet) error {
	for _, v := range vnets {
		if v.Zone != zone {
			continue
		}
		subnets, err := s.api.ListSubnets(ctx, v.VNet)
		if err != nil && !proxmox.IsNotFound(err) {
			return fmt.Errorf("listing subnets of %s: %w", v.VNet, err)
		}
		for _, sub := range subnets {
			if err := s.api.DeleteSubnet(ctx, v.VNet, sub.ID); err != nil && !proxmox.IsNotFound(err) {
				return fmt.Errorf("subnet %s: %w", sub.ID, err)
			}
		}
		if err := s.api.DeleteVNet(ctx, v.VNet); err != nil && !proxmox.IsNotFound(err) {
			return fmt.Errorf("vnet %s: %w", v.VNet, err)
		}
	}
	if err := s.api.DeleteZone(ctx, zone); err != nil && !proxmox.IsNotFound(err) {
		return err
	}
	return nil
}
