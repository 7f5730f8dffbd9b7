package proxmox

import (
	"fmt"
	"strings"
)

// UPID identifies an asynchronous Proxmox task, e.g.
// "UPID:pve:0004F1D3:0A3B...:qmcreate:105:root@pam:".
type UPID string

// TaskStatus is the state of an asynchronous task as reported by
// /nodes/{node}/tasks/{upid}/status.
type TaskStatus struct {
	Status     string `json:"status"`
	ExitStatus string `json:"exitstatus"`
}

// Finished reports whether the task has stopped running. ExitStatus is only
// meaningful once this is true.
func (s TaskStatus) Finished() bool { return s.Status != "running" }

// OK reports whether a finished task succeeded. Proxmox reports warnings as
// "WARNINGS: ..." which still counts as success.
func (s TaskStatus) OK() bool {
	return s.ExitStatus == "OK" || strings.HasPrefix(s.ExitStatus, "WARNINGS")
}

// Zone is an SDN zone as returned by /cluster/sdn/zones.
type Zone struct {
	Zone string `json:"zone"`
	Type string `json:"type"`
}

// VNet is an SDN virtual network as returned by /cluster/sdn/vnets.
type VNet struct {
	VNet  string `json:"vnet"`
	Zone  string `json:"zone"`
	Alias string `json:"alias,omitempty"`
}

// Subnet is an SDN subnet as returned by /cluster/sdn/vnets/{vnet}/subnets.
// The ID is the zone-qualified form Proxmox invents, e.g.
// "abc123z-192.168.7.0-24"; deletes must use it, not the CIDR.
type Subnet struct {
	ID      string `json:"id"`
	CIDR    string `json:"cidr"`
	Gateway string `json:"gateway,omitempty"`
}

// VM is a QEMU guest as returned by /nodes/{node}/qemu.
type VM struct {
	VMID     int    `json:"vmid"`
	Name     string `json:"name"`
	Status   string `json:"status"`
	Tags     string `json:"tags"`
	Template int    `json:"template"`
}

// HasTag reports whether the guest carries the given tag. Proxmox stores
// tags as a semicolon-separated string.
func (v VM) HasTag(tag string) bool {
	for _, t := range strings.Split(v.Tags, ";") {
		if t == tag {
			return true
		}
	}
	return false
}

// StorageContent is an item of storage content as returned by
// /nodes/{node}/storage/{storage}/content.
type StorageContent struct {
	VolID   string `json:"volid"`
	Content string `json:"content"`
	Size    int64  `json:"size"`
}

// DHCPRange is a single address range handed to the SDN DHCP plugin.
type DHCPRange struct {
	Start string
	End   string
}

func (r DHCPRange) wire() string {
	return fmt.Sprintf("start-address=%s,end-address=%s", r.Start, r.End)
}

// SubnetCreateOpts describes a subnet to attach to a vnet.
type SubnetCreateOpts struct {
	CIDR       string
	Gateway    string
	SNAT       bool
	DHCPRanges []DHCPRange
}

// VMCreateOpts describes a new QEMU guest. NICs are full net device strings
// ("virtio,bridge=abc123v0"), keyed by index on the wire (net0, net1, ...).
type VMCreateOpts struct {
	VMID     int
	Name     string
	MemoryMB int
	Cores    int
	Sockets  int
	OSType   string
	Tags     []string
	Agent    bool
	NICs     []string
	// Extra lets callers pass endpoint parameters not modelled above,
	// e.g. disk import or cdrom attachment.
	Extra map[string]string
}

// CloneOpts describes a clone of an existing guest or template. The clone
// endpoint takes no tags; set them afterwards via SetVMConfig.
type CloneOpts struct {
	TemplateVMID int
	NewVMID      int
	Name         string
	Full         bool
}
