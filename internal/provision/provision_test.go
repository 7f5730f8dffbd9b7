package provision_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox/fake"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/provision"
)

var testHost = config.Instance{
	InstanceID: "pve-1",
	PoolID:     "default",
	Host:       "pve1.example.com",
	Node:       "pve",
	VMIDStart:  1000,
}

func newOrchestrator(h *fake.Host) (*provision.Orchestrator, *provision.Allocator) {
	alloc := provision.NewAllocator(testHost.EffectiveVMIDStart())
	o := provision.NewOrchestrator(h, testHost, alloc,
		provision.WithTimeouts(config.TestTimeouts()))
	return o, alloc
}

func oneVMTopology() provision.Topology {
	return provision.Topology{
		Networks: []provision.NetworkSpec{{
			Alias: "primary",
			Subnets: []provision.SubnetSpec{{
				CIDR:    "10.42.0.0/24",
				Gateway: "10.42.0.1",
				SNAT:    true,
				DHCP:    &provision.DHCPRange{Start: "10.42.0.50", End: "10.42.0.100"},
			}},
		}},
		VMs: []provision.VMSpec{{Reachable: true}},
	}
}

func TestCreate_RoundTrip(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	set, err := o.Create(ctx, "my run", oneVMTopology())
	require.NoError(t, err)

	require.Len(t, set.Prefix, 6)
	assert.Equal(t, set.Prefix+"z", set.Zone)
	require.Equal(t, []string{set.Prefix + "v0"}, set.VNets)
	require.Len(t, set.Subnets, 1)
	assert.Equal(t, "10.42.0.0/24", set.Subnets[0].CIDR)
	require.Len(t, set.VMs, 1)
	vm := set.VMs[0]
	assert.GreaterOrEqual(t, vm.VMID, 1000)
	assert.Equal(t, "pve", vm.Node)
	assert.True(t, vm.Reachable)
	assert.Equal(t, set.ReachableVMs(), set.VMs)

	created, ok := h.VM(vm.VMID)
	require.True(t, ok)
	assert.Equal(t, "running", created.Status)
	assert.True(t, created.HasTag(provision.ManagedTag))
	assert.GreaterOrEqual(t, h.AppliedCount(), 1)

	require.NoError(t, o.Destroy(ctx, set))
	assert.Empty(t, h.ZoneNames())
	assert.Empty(t, h.VNetNames())
	_, ok = h.VM(vm.VMID)
	assert.False(t, ok)
}

func TestCreate_AutoNetwork(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	set, err := o.Create(ctx, "auto", provision.Topology{VMs: []provision.VMSpec{{Reachable: true}}})
	require.NoError(t, err)

	assert.NotEmpty(t, set.Zone)
	require.Len(t, set.VNets, 1)
	require.Len(t, set.Subnets, 1)
	assert.Regexp(t, `^192\.168\.\d+\.0/24$`, set.Subnets[0].CIDR)
	require.Len(t, set.VMs, 1)

	require.NoError(t, o.Destroy(ctx, set))
	assert.Empty(t, h.ZoneNames())
}

func TestCreate_NoManagedNetwork(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	set, err := o.Create(ctx, "bridged", provision.Topology{
		Networks: []provision.NetworkSpec{},
		VMs:      []provision.VMSpec{{Name: "worker"}},
	})
	require.NoError(t, err)
	assert.Empty(t, set.Zone)
	assert.Empty(t, set.VNets)
	require.Len(t, set.VMs, 1)
	assert.Equal(t, "worker", set.VMs[0].Name)
	assert.Zero(t, h.AppliedCount())

	require.NoError(t, o.Destroy(ctx, set))
}

func TestCreate_PartialFailureReturnsExactSet(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	h.FailNext("CreateSubnet", &proxmox.TransientError{Status: 500, Message: "cluster config lock timeout"})
	set, err := o.Create(ctx, "partial", oneVMTopology())
	require.Error(t, err)

	// Zone and vnet made it; the subnet and VM never existed.
	assert.NotEmpty(t, set.Zone)
	assert.Len(t, set.VNets, 1)
	assert.Empty(t, set.Subnets)
	assert.Empty(t, set.VMs)

	require.NoError(t, o.Destroy(ctx, set))
	assert.Empty(t, h.ZoneNames())
	assert.Empty(t, h.VNetNames())
}

func TestCreate_VMTaskFailureRecordsNothingForIt(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, alloc := newOrchestrator(h)
	ctx := context.Background()

	h.FailTask("CreateVM", "unable to allocate image")
	set, err := o.Create(ctx, "vmfail", oneVMTopology())
	require.Error(t, err)
	var taskErr *proxmox.TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Empty(t, set.VMs)

	require.NoError(t, o.Destroy(ctx, set))
	// The claimed vmid stays claimed: the failed create's remote state is
	// unknown, so the id is not handed out again this process.
	assert.True(t, alloc.Claimed(1000))
}

func TestCreate_StartFailureStillRecordsVM(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	h.FailNext("StartVM", &proxmox.TransientError{Status: 500, Message: "start failed"})
	set, err := o.Create(ctx, "startfail", oneVMTopology())
	require.Error(t, err)
	require.Len(t, set.VMs, 1, "created VM must be in the set even though start failed")

	require.NoError(t, o.Destroy(ctx, set))
	_, ok := h.VM(set.VMs[0].VMID)
	assert.False(t, ok)
}

func TestCreate_ToleratesAlreadyExisting(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	h.FailNext("CreateSubnet", &proxmox.RemoteError{Status: 400, Message: "subnet object already defined"})
	set, err := o.Create(ctx, "reentry", oneVMTopology())
	require.NoError(t, err)
	require.Len(t, set.Subnets, 1, "pre-existing subnet still belongs in the set")

	require.NoError(t, o.Destroy(ctx, set))
	assert.Empty(t, h.ZoneNames())
}

func TestDestroy_Idempotent(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	set, err := o.Create(ctx, "twice", oneVMTopology())
	require.NoError(t, err)
	require.NoError(t, o.Destroy(ctx, set))
	assert.NoError(t, o.Destroy(ctx, set), "second destroy must treat missing objects as clean")
}

func TestDestroy_AggregatesFailures(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	set, err := o.Create(ctx, "aggr", oneVMTopology())
	require.NoError(t, err)

	h.FailAlways("DeleteVM", &proxmox.TransientError{Status: 500, Message: "storage busy"})
	err = o.Destroy(ctx, set)
	var destroyErr *provision.DestroyError
	require.ErrorAs(t, err, &destroyErr)
	require.NotEmpty(t, destroyErr.Errs)

	// The network objects behind the stuck VM were still attempted.
	assert.Empty(t, h.ZoneNames())
	assert.Empty(t, h.VNetNames())
}

func TestCreate_ConcurrentRunsGetDistinctVMIDs(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	alloc := provision.NewAllocator(1000)
	ctx := context.Background()

	topo := provision.Topology{
		Networks: []provision.NetworkSpec{},
		VMs:      []provision.VMSpec{{}, {}},
	}

	const runs = 5
	var mu sync.Mutex
	seen := make(map[int]string)
	var wg sync.WaitGroup
	for i := range runs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			o := provision.NewOrchestrator(h, testHost, alloc,
				provision.WithTimeouts(config.TestTimeouts()))
			set, err := o.Create(ctx, fmt.Sprintf("run %d", i), topo)
			if !assert.NoError(t, err) {
				return
			}
			mu.Lock()
			defer mu.Unlock()
			for _, vm := range set.VMs {
				prev, dup := seen[vm.VMID]
				assert.False(t, dup, "vmid %d used by %s and %s", vm.VMID, prev, vm.Name)
				seen[vm.VMID] = vm.Name
			}
		}()
	}
	wg.Wait()
	assert.Len(t, seen, runs*2)
}

func TestEnsureTemplateFile(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	o, _ := newOrchestrator(h)
	ctx := context.Background()

	up := provision.TemplateUpload{
		Storage:     "local",
		ContentType: "iso",
		LocalPath:   "/tmp/img.iso",
		Filename:    "img.iso",
	}
	volid, err := o.EnsureTemplateFile(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, "local:iso/img.iso", volid)

	// Second call must skip the upload entirely.
	h.FailAlways("UploadFile", &proxmox.TransientError{Status: 500, Message: "should not upload"})
	volid, err = o.EnsureTemplateFile(ctx, up)
	require.NoError(t, err)
	assert.Equal(t, "local:iso/img.iso", volid)

	// Overwrite replaces the volume, so the injected failure now bites.
	up.Overwrite = true
	_, err = o.EnsureTemplateFile(ctx, up)
	require.Error(t, err)
}
