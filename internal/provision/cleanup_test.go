package provision_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/config"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/platform/proxmox/fake"
	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/internal/provision"
)

func newSweeper(h *fake.Host) *provision.Sweeper {
	return provision.NewSweeper(h, testHost, provision.WithTimeouts(config.TestTimeouts()))
}

func seedOrphans(t *testing.T, h *fake.Host) {
	t.Helper()
	// A crashed run's leftovers.
	h.SeedZone("abc123z")
	require.NoError(t, h.CreateVNet(context.Background(), "abc123v0", "abc123z", ""))
	require.NoError(t, h.CreateSubnet(context.Background(), "abc123v0", proxmox.SubnetCreateOpts{CIDR: "192.168.9.0/24"}))
	h.SeedVM(proxmox.VM{VMID: 1004, Name: "abc123-vm0", Status: "running", Tags: provision.ManagedTag})

	// Things a sweep must never touch.
	h.SeedZone("corpnet")
	h.SeedVM(proxmox.VM{VMID: 200, Name: "prod-db", Status: "running"})
	h.SeedVM(proxmox.VM{VMID: 9000, Name: "base-template", Tags: provision.ManagedTag, Template: 1})
}

func TestSweeper_Discover(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	seedOrphans(t, h)

	orphans, err := newSweeper(h).Discover(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{"abc123z"}, orphans.Zones)
	require.Len(t, orphans.VMs, 1)
	assert.Equal(t, 1004, orphans.VMs[0].VMID)
}

func TestSweeper_Sweep(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	seedOrphans(t, h)
	ctx := context.Background()
	s := newSweeper(h)

	orphans, err := s.Discover(ctx)
	require.NoError(t, err)
	require.NoError(t, s.Sweep(ctx, orphans))

	_, ok := h.VM(1004)
	assert.False(t, ok, "tagged orphan VM should be removed")
	assert.NotContains(t, h.ZoneNames(), "abc123z")
	assert.NotContains(t, h.VNetNames(), "abc123v0")

	// Foreign objects and templates survive.
	assert.Contains(t, h.ZoneNames(), "corpnet")
	_, ok = h.VM(200)
	assert.True(t, ok)
	_, ok = h.VM(9000)
	assert.True(t, ok)

	// Re-discovery finds nothing; an empty sweep is a no-op.
	orphans, err = s.Discover(ctx)
	require.NoError(t, err)
	assert.True(t, orphans.Empty())
	applied := h.AppliedCount()
	require.NoError(t, s.Sweep(ctx, orphans))
	assert.Equal(t, applied, h.AppliedCount())
}

func TestSweeper_SweepAggregatesFailures(t *testing.T) {
	t.Parallel()
	h := fake.NewHost()
	seedOrphans(t, h)
	ctx := context.Background()
	s := newSweeper(h)

	orphans, err := s.Discover(ctx)
	require.NoError(t, err)

	h.FailAlways("DeleteVM", &proxmox.TransientError{Status: 500, Message: "storage busy"})
	err = s.Sweep(ctx, orphans)
	var destroyErr *provision.DestroyError
	require.ErrorAs(t, err, &destroyErr)

	// The zone sweep still ran despite the stuck VM.
	assert.NotContains(t, h.ZoneNames(), "abc123z")
}
