package proxmox

import (
	"context"
	"time"
)

// SDNManager handles software-defined-network objects. SDN changes are
// staged cluster-wide and take effect only after ApplySDN.
type SDNManager interface {
	CreateZone(ctx context.Context, zone string) error
	DeleteZone(ctx context.Context, zone string) error
	ListZones(ctx context.Context) ([]Zone, error)
	CreateVNet(ctx context.Context, vnet, zone, alias string) error
	DeleteVNet(ctx context.Context, vnet string) error
	ListVNets(ctx context.Context) ([]VNet, error)
	CreateSubnet(ctx context.Context, vnet string, opts SubnetCreateOpts) error
	DeleteSubnet(ctx context.Context, vnet, subnetID string) error
	ListSubnets(ctx context.Context, vnet string) ([]Subnet, error)
	ApplySDN(ctx context.Context) (UPID, error)
}

// VMManager handles QEMU guests on a single node. All mutating calls return
// a UPID to hand to a TaskWaiter.
type VMManager interface {
	CreateVM(ctx context.Context, node string, opts VMCreateOpts) (UPID, error)
	CloneVM(ctx context.Context, node string, opts CloneOpts) (UPID, error)
	SetVMConfig(ctx context.Context, node string, vmid int, params map[string]string) error
	DeleteVM(ctx context.Context, node string, vmid int) (UPID, error)
	StartVM(ctx context.Context, node string, vmid int) (UPID, error)
	StopVM(ctx context.Context, node string, vmid int) (UPID, error)
	ListVMs(ctx context.Context, node string) ([]VM, error)
}

// TaskWaiter polls asynchronous tasks to completion.
type TaskWaiter interface {
	TaskStatus(ctx context.Context, node string, upid UPID) (TaskStatus, error)
	// AwaitTask polls until the task finishes, the timeout elapses, or ctx
	// is cancelled. A timeout of zero means the configured default.
	AwaitTask(ctx context.Context, node string, upid UPID, timeout time.Duration) error
}

// StorageManager handles storage content: listing volumes and uploading
// images or ISOs.
type StorageManager interface {
	ListContent(ctx context.Context, node, storage, contentType string) ([]StorageContent, error)
	UploadFile(ctx context.Context, node, storage, contentType, localPath, filename string) (UPID, error)
	DeleteContent(ctx context.Context, node, storage, volid string) (UPID, error)
}

// API is the full surface the provisioner needs from one Proxmox host.
type API interface {
	SDNManager
	VMManager
	TaskWaiter
	StorageManager
}
