package provision

import (
	"fmt"
	"math/rand"
	"net"
)

// Topology describes what to build on an acquired host.
//
// Networks lists the managed vnets for this run, all placed in one run-scoped
// zone. A nil slice asks for a single auto-generated network; an explicit
// empty slice means no managed network at all (VMs then attach to the host
// bridge).
type Topology struct {
	Networks []NetworkSpec `yaml:"networks" json:"networks"`
	VMs      []VMSpec      `yaml:"vms" json:"vms"`
}

// NetworkSpec is one managed vnet and its subnets.
type NetworkSpec struct {
	Alias   string       `yaml:"alias,omitempty" json:"alias,omitempty"`
	Subnets []SubnetSpec `yaml:"subnets" json:"subnets"`
}

// SubnetSpec is one IP range inside a vnet.
type SubnetSpec struct {
	CIDR    string     `yaml:"cidr" json:"cidr"`
	Gateway string     `yaml:"gateway,omitempty" json:"gateway,omitempty"`
	SNAT    bool       `yaml:"snat,omitempty" json:"snat,omitempty"`
	DHCP    *DHCPRange `yaml:"dhcp,omitempty" json:"dhcp,omitempty"`
}

// DHCPRange is the address range the SDN DHCP plugin may lease.
type DHCPRange struct {
	Start string `yaml:"start" json:"start"`
	End   string `yaml:"end" json:"end"`
}

// VMSpec is one virtual machine to provision.
type VMSpec struct {
	// Name is optional; a run-scoped name is generated when empty.
	Name string `yaml:"name,omitempty" json:"name,omitempty"`
	// TemplateVMID selects a template to full-clone. Zero means create
	// from scratch.
	TemplateVMID int `yaml:"template_vmid,omitempty" json:"template_vmid,omitempty"`
	MemoryMB     int `yaml:"memory_mb,omitempty" json:"memory_mb,omitempty"`
	Cores        int `yaml:"cores,omitempty" json:"cores,omitempty"`
	// Networks indexes into Topology.Networks for each NIC, in order.
	// Nil attaches the first managed network, or the host bridge when
	// the topology has no managed networks.
	Networks []int `yaml:"networks,omitempty" json:"networks,omitempty"`
	// Reachable marks the VM as addressable by the guest-exec layer.
	Reachable bool `yaml:"reachable,omitempty" json:"reachable,omitempty"`
}

// maxNetworks keeps vnet ids within Proxmox's 8-character SDN id limit:
// six prefix characters, the letter v, and one digit.
const maxNetworks = 10

// Validate checks the topology's internal consistency. Overlap against
// CIDRs already present on the host is checked separately at create time.
func (t Topology) Validate() error {
	if len(t.Networks) > maxNetworks {
		return fmt.Errorf("topology has %d networks, at most %d are supported", len(t.Networks), maxNetworks)
	}
	var seen []*net.IPNet
	for i, n := range t.Networks {
		for _, s := range n.Subnets {
			ipnet, err := parseCIDR(s.CIDR)
			if err != nil {
				return fmt.Errorf("network %d: %w", i, err)
			}
			for _, prev := range seen {
				if cidrsOverlap(ipnet, prev) {
					return fmt.Errorf("network %d: subnet %s overlaps %s", i, s.CIDR, prev.String())
				}
			}
			seen = append(seen, ipnet)
			if s.Gateway != "" && !containsIP(ipnet, s.Gateway) {
				return fmt.Errorf("network %d: gateway %s outside %s", i, s.Gateway, s.CIDR)
			}
			if s.DHCP != nil {
				if !containsIP(ipnet, s.DHCP.Start) || !containsIP(ipnet, s.DHCP.End) {
					return fmt.Errorf("network %d: dhcp range %s-%s outside %s", i, s.DHCP.Start, s.DHCP.End, s.CIDR)
				}
			}
		}
	}
	for i, vm := range t.VMs {
		for _, idx := range vm.Networks {
			if idx < 0 || idx >= len(t.Networks) {
				return fmt.Errorf("vm %d: network index %d out of range", i, idx)
			}
		}
	}
	return nil
}

// CheckAgainstExisting rejects topologies whose subnets overlap CIDRs
// already configured on the host.
func (t Topology) CheckAgainstExisting(existing []string) error {
	var present []*net.IPNet
	for _, c := range existing {
		ipnet, err := parseCIDR(c)
		if err != nil {
			continue // host-side garbage is not the topology's problem
		}
		present = append(present, ipnet)
	}
	for i, n := range t.Networks {
		for _, s := range n.Subnets {
			ipnet, err := parseCIDR(s.CIDR)
			if err != nil {
				return fmt.Errorf("network %d: %w", i, err)
			}
			for _, prev := range present {
				if cidrsOverlap(ipnet, prev) {
					return fmt.Errorf("network %d: subnet %s overlaps existing %s on host", i, s.CIDR, prev.String())
				}
			}
		}
	}
	return nil
}

// autoNetwork picks a random free 192.168.N.0/24 that does not overlap any
// CIDR already on the host: gateway .1, SNAT on, DHCP leases .50-.100.
func autoNetwork(existing []string) (NetworkSpec, error) {
	var present []*net.IPNet
	for _, c := range existing {
		if ipnet, err := parseCIDR(c); err == nil {
			present = append(present, ipnet)
		}
	}
	candidates := rand.Perm(251) // third octet 2..252
	for _, c := range candidates {
		n := c + 2
		cidr := fmt.Sprintf("192.168.%d.0/24", n)
		ipnet, _ := parseCIDR(cidr)
		free := true
		for _, prev := range present {
			if cidrsOverlap(ipnet, prev) {
				free = false
				break
			}
		}
		if !free {
			continue
		}
		return NetworkSpec{
			Subnets: []SubnetSpec{{
				CIDR:    cidr,
				Gateway: fmt.Sprintf("192.168.%d.1", n),
				SNAT:    true,
				DHCP: &DHCPRange{
					Start: fmt.Sprintf("192.168.%d.50", n),
					End:   fmt.Sprintf("192.168.%d.100", n),
				},
			}},
		}, nil
	}
	return NetworkSpec{}, fmt.Errorf("no free 192.168.0.0/16 block left on host")
}

func parseCIDR(s string) (*net.IPNet, error) {
	_, ipnet, err := net.ParseCIDR(s)
	if err != nil {
		return nil, fmt.Errorf("invalid cidr %q: %w", s, err)
	}
	return ipnet, nil
}

func cidrsOverlap(a, b *net.IPNet) bool {
	return a.Contains(b.IP) || b.Contains(a.IP)
}

func containsIP(ipnet *net.IPNet, s string) bool {
	ip := net.ParseIP(s)
	return ip != nil && ipnet.Contains(ip)
}
