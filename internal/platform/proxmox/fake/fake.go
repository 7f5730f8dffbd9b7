// Package fake provides an in-memory proxmox.API implementation for tests.
//
// The fake mimics observable Proxmox behaviour: mutating calls return UPIDs,
// duplicate creates fail with "already exists" messages, deletes of missing
// objects fail with "does not exist", and SDN objects enforce their
// containment rules (a zone with vnets cannot be deleted). Tests can inject
// errors per operation and make individual tasks fail.
package fake

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
)

type vmState struct {
	vm proxmox.VM
}

// Host is a fake single-node Proxmox instance. The zero value is not usable;
// call NewHost.
type Host struct {
	mu sync.Mutex

	zones    map[string]proxmox.Zone
	vnets    map[string]proxmox.VNet
	subnets  map[string][]proxmox.Subnet
	vms      map[int]*vmState
	storage  map[string][]proxmox.StorageContent
	tasks    map[proxmox.UPID]proxmox.TaskStatus
	nextTask int
	applies  int

	failNext   map[string]error
	failAlways map[string]error
	failTasks  map[string]string
}

// NewHost returns an empty fake host.
func NewHost() *Host {
	return &Host{
		zones:      make(map[string]proxmox.Zone),
		vnets:      make(map[string]proxmox.VNet),
		subnets:    make(map[string][]proxmox.Subnet),
		vms:        make(map[int]*vmState),
		storage:    make(map[string][]proxmox.StorageContent),
		tasks:      make(map[proxmox.UPID]proxmox.TaskStatus),
		failNext:   make(map[string]error),
		failAlways: make(map[string]error),
		failTasks:  make(map[string]string),
	}
}

var _ proxmox.API = (*Host)(nil)

// FailNext makes the next call to the named operation ("CreateZone",
// "CloneVM", ...) return err, then behave normally again.
func (h *Host) FailNext(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failNext[op] = err
}

// FailAlways makes every call to the named operation return err until
// cleared with a nil err.
func (h *Host) FailAlways(op string, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err == nil {
		delete(h.failAlways, op)
		return
	}
	h.failAlways[op] = err
}

// FailTask makes the next task spawned by the named operation finish with
// the given non-OK exit status.
func (h *Host) FailTask(op, exitStatus string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failTasks[op] = exitStatus
}

// injected must be called with the mutex held.
func (h *Host) injected(op string) error {
	if err, ok := h.failNext[op]; ok {
		delete(h.failNext, op)
		return err
	}
	if err, ok := h.failAlways[op]; ok {
		return err
	}
	return nil
}

// newTask must be called with the mutex held.
func (h *Host) newTask(op string) proxmox.UPID {
	h.nextTask++
	upid := proxmox.UPID(fmt.Sprintf("UPID:fake:%08X:%s:", h.nextTask, op))
	exit := "OK"
	if status, ok := h.failTasks[op]; ok {
		delete(h.failTasks, op)
		exit = status
	}
	h.tasks[upid] = proxmox.TaskStatus{Status: "stopped", ExitStatus: exit}
	return upid
}

func alreadyExists(kind, id string) error {
	return &proxmox.RemoteError{Status: 400, Message: fmt.Sprintf("%s '%s' already exists", kind, id)}
}

func doesNotExist(kind, id string) error {
	return &proxmox.RemoteError{Status: 400, Message: fmt.Sprintf("%s '%s' does not exist", kind, id)}
}

// --- SDNManager ---

func (h *Host) CreateZone(_ context.Context, zone string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("CreateZone"); err != nil {
		return err
	}
	if _, ok := h.zones[zone]; ok {
		return alreadyExists("zone", zone)
	}
	h.zones[zone] = proxmox.Zone{Zone: zone, Type: "simple"}
	return nil
}

func (h *Host) DeleteZone(_ context.Context, zone string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("DeleteZone"); err != nil {
		return err
	}
	if _, ok := h.zones[zone]; !ok {
		return doesNotExist("zone", zone)
	}
	for _, v := range h.vnets {
		if v.Zone == zone {
			return &proxmox.RemoteError{Status: 400, Message: fmt.Sprintf("zone '%s' still holds vnet '%s'", zone, v.VNet)}
		}
	}
	delete(h.zones, zone)
	return nil
}

func (h *Host) ListZones(_ context.Context) ([]proxmox.Zone, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("ListZones"); err != nil {
		return nil, err
	}
	out := make([]proxmox.Zone, 0, len(h.zones))
	for _, z := range h.zones {
		out = append(out, z)
	}
	return out, nil
}

func (h *Host) CreateVNet(_ context.Context, vnet, zone, alias string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("CreateVNet"); err != nil {
		return err
	}
	if _, ok := h.zones[zone]; !ok {
		return doesNotExist("zone", zone)
	}
	if _, ok := h.vnets[vnet]; ok {
		return alreadyExists("vnet", vnet)
	}
	h.vnets[vnet] = proxmox.VNet{VNet: vnet, Zone: zone, Alias: alias}
	return nil
}

func (h *Host) DeleteVNet(_ context.Context, vnet string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("DeleteVNet"); err != nil {
		return err
	}
	if _, ok := h.vnets[vnet]; !ok {
		return doesNotExist("vnet", vnet)
	}
	if len(h.subnets[vnet]) > 0 {
		return &proxmox.RemoteError{Status: 400, Message: fmt.Sprintf("vnet '%s' still holds subnets", vnet)}
	}
	delete(h.vnets, vnet)
	delete(h.subnets, vnet)
	return nil
}

func (h *Host) ListVNets(_ context.Context) ([]proxmox.VNet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("ListVNets"); err != nil {
		return nil, err
	}
	out := make([]proxmox.VNet, 0, len(h.vnets))
	for _, v := range h.vnets {
		out = append(out, v)
	}
	return out, nil
}

func (h *Host) CreateSubnet(_ context.Context, vnet string, opts proxmox.SubnetCreateOpts) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("CreateSubnet"); err != nil {
		return err
	}
	v, ok := h.vnets[vnet]
	if !ok {
		return doesNotExist("vnet", vnet)
	}
	id := v.Zone + "-" + strings.ReplaceAll(opts.CIDR, "/", "-")
	for _, s := range h.subnets[vnet] {
		if s.ID == id {
			return alreadyExists("subnet", id)
		}
	}
	h.subnets[vnet] = append(h.subnets[vnet], proxmox.Subnet{
		ID:      id,
		CIDR:    opts.CIDR,
		Gateway: opts.Gateway,
	})
	return nil
}

func (h *Host) DeleteSubnet(_ context.Context, vnet, subnetID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("DeleteSubnet"); err != nil {
		return err
	}
	subnets := h.subnets[vnet]
	for i, s := range subnets {
		if s.ID == subnetID {
			h.subnets[vnet] = append(subnets[:i], subnets[i+1:]...)
			return nil
		}
	}
	return doesNotExist("subnet", subnetID)
}

func (h *Host) ListSubnets(_ context.Context, vnet string) ([]proxmox.Subnet, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("ListSubnets"); err != nil {
		return nil, err
	}
	return append([]proxmox.Subnet(nil), h.subnets[vnet]...), nil
}

func (h *Host) ApplySDN(_ context.Context) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("ApplySDN"); err != nil {
		return "", err
	}
	h.applies++
	return h.newTask("ApplySDN"), nil
}

// --- VMManager ---

func (h *Host) CreateVM(_ context.Context, _ string, opts proxmox.VMCreateOpts) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("CreateVM"); err != nil {
		return "", err
	}
	if _, ok := h.vms[opts.VMID]; ok {
		return "", &proxmox.RemoteError{Status: 400, Message: fmt.Sprintf("unable to create VM %d - VM %d already exists", opts.VMID, opts.VMID)}
	}
	h.vms[opts.VMID] = &vmState{vm: proxmox.VM{
		VMID:   opts.VMID,
		Name:   opts.Name,
		Status: "stopped",
		Tags:   strings.Join(opts.Tags, ";"),
	}}
	return h.newTask("CreateVM"), nil
}

func (h *Host) CloneVM(_ context.Context, _ string, opts proxmox.CloneOpts) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("CloneVM"); err != nil {
		return "", err
	}
	src, ok := h.vms[opts.TemplateVMID]
	if !ok {
		return "", doesNotExist("VM", fmt.Sprintf("%d", opts.TemplateVMID))
	}
	if _, ok := h.vms[opts.NewVMID]; ok {
		return "", alreadyExists("VM", fmt.Sprintf("%d", opts.NewVMID))
	}
	h.vms[opts.NewVMID] = &vmState{vm: proxmox.VM{
		VMID:   opts.NewVMID,
		Name:   opts.Name,
		Status: "stopped",
		Tags:   src.vm.Tags,
	}}
	return h.newTask("CloneVM"), nil
}

func (h *Host) SetVMConfig(_ context.Context, _ string, vmid int, params map[string]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("SetVMConfig"); err != nil {
		return err
	}
	vm, ok := h.vms[vmid]
	if !ok {
		return doesNotExist("VM", fmt.Sprintf("%d", vmid))
	}
	if tags, ok := params["tags"]; ok {
		vm.vm.Tags = tags
	}
	if name, ok := params["name"]; ok {
		vm.vm.Name = name
	}
	return nil
}

func (h *Host) DeleteVM(_ context.Context, _ string, vmid int) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("DeleteVM"); err != nil {
		return "", err
	}
	if _, ok := h.vms[vmid]; !ok {
		// Real hosts answer this with a 500, which the client maps to a
		// TransientError.
		return "", &proxmox.TransientError{Status: 500, Message: fmt.Sprintf("Configuration file 'nodes/fake/qemu-server/%d.conf' does not exist", vmid)}
	}
	delete(h.vms, vmid)
	return h.newTask("DeleteVM"), nil
}

func (h *Host) StartVM(_ context.Context, _ string, vmid int) (proxmox.UPID, error) {
	return h.setPower("StartVM", vmid, "running")
}

func (h *Host) StopVM(_ context.Context, _ string, vmid int) (proxmox.UPID, error) {
	return h.setPower("StopVM", vmid, "stopped")
}

func (h *Host) setPower(op string, vmid int, status string) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected(op); err != nil {
		return "", err
	}
	vm, ok := h.vms[vmid]
	if !ok {
		return "", doesNotExist("VM", fmt.Sprintf("%d", vmid))
	}
	vm.vm.Status = status
	return h.newTask(op), nil
}

func (h *Host) ListVMs(_ context.Context, _ string) ([]proxmox.VM, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("ListVMs"); err != nil {
		return nil, err
	}
	out := make([]proxmox.VM, 0, len(h.vms))
	for _, s := range h.vms {
		out = append(out, s.vm)
	}
	return out, nil
}

// --- TaskWaiter ---

func (h *Host) TaskStatus(_ context.Context, _ string, upid proxmox.UPID) (proxmox.TaskStatus, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("TaskStatus"); err != nil {
		return proxmox.TaskStatus{}, err
	}
	status, ok := h.tasks[upid]
	if !ok {
		return proxmox.TaskStatus{}, &proxmox.RemoteError{Status: 404, Message: fmt.Sprintf("task '%s' not found", upid)}
	}
	return status, nil
}

func (h *Host) AwaitTask(ctx context.Context, node string, upid proxmox.UPID, _ time.Duration) error {
	if upid == "" {
		return nil
	}
	status, err := h.TaskStatus(ctx, node, upid)
	if err != nil {
		return err
	}
	if !status.OK() {
		return &proxmox.TaskError{UPID: upid, ExitStatus: status.ExitStatus}
	}
	return nil
}

// --- StorageManager ---

func (h *Host) ListContent(_ context.Context, _, storage, contentType string) ([]proxmox.StorageContent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("ListContent"); err != nil {
		return nil, err
	}
	var out []proxmox.StorageContent
	for _, item := range h.storage[storage] {
		if contentType == "" || item.Content == contentType {
			out = append(out, item)
		}
	}
	return out, nil
}

func (h *Host) UploadFile(_ context.Context, _, storage, contentType, _, filename string) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("UploadFile"); err != nil {
		return "", err
	}
	volid := fmt.Sprintf("%s:%s/%s", storage, contentType, filename)
	h.storage[storage] = append(h.storage[storage], proxmox.StorageContent{
		VolID:   volid,
		Content: contentType,
	})
	return h.newTask("UploadFile"), nil
}

func (h *Host) DeleteContent(_ context.Context, _, storage, volid string) (proxmox.UPID, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if err := h.injected("DeleteContent"); err != nil {
		return "", err
	}
	items := h.storage[storage]
	for i, item := range items {
		if item.VolID == volid {
			h.storage[storage] = append(items[:i], items[i+1:]...)
			return h.newTask("DeleteContent"), nil
		}
	}
	return "", doesNotExist("volume", volid)
}

// --- test helpers ---

// SeedVM places a guest directly into the host, bypassing the task model.
func (h *Host) SeedVM(vm proxmox.VM) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.vms[vm.VMID] = &vmState{vm: vm}
}

// SeedZone places a zone directly into the host.
func (h *Host) SeedZone(zone string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.zones[zone] = proxmox.Zone{Zone: zone, Type: "simple"}
}

// VM returns a guest by id, and whether it exists.
func (h *Host) VM(vmid int) (proxmox.VM, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.vms[vmid]
	if !ok {
		return proxmox.VM{}, false
	}
	return s.vm, true
}

// ZoneNames returns the names of all zones.
func (h *Host) ZoneNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.zones))
	for z := range h.zones {
		out = append(out, z)
	}
	return out
}

// VNetNames returns the names of all vnets.
func (h *Host) VNetNames() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.vnets))
	for v := range h.vnets {
		out = append(out, v)
	}
	return out
}

// AppliedCount reports how many times ApplySDN was called.
func (h *Host) AppliedCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.applies
}
