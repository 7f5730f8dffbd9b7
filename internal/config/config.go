package config

import (
	"fmt"
	"net"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// DefaultVMIDStart is the floor for allocated VM ids when an instance does
// not configure its own. Proxmox reserves ids below 100; starting at 1000
// keeps clear of hand-created VMs on shared development hosts.
const DefaultVMIDStart = 1000

// Instance describes one Proxmox host available for provisioning. It is an
// immutable value: created once at load time and only ever read afterwards,
// including concurrently.
type Instance struct {
	InstanceID string `yaml:"instance_id" json:"instance_id"`
	PoolID     string `yaml:"pool_id" json:"pool_id"`
	Host       string `yaml:"host" json:"host"`
	Port       int    `yaml:"port" json:"port"`
	User       string `yaml:"user" json:"user"`
	UserRealm  string `yaml:"user_realm" json:"user_realm"`
	Password   string `yaml:"password" json:"password"`
	Node       string `yaml:"node" json:"node"`
	VerifyTLS  bool   `yaml:"verify_tls" json:"verify_tls"`

	// VMIDStart is the lowest VM id the allocator will hand out on this
	// host. Zero means DefaultVMIDStart.
	VMIDStart int `yaml:"ids_start" json:"ids_start"`
}

// Address returns the host:port the API client should dial.
func (i Instance) Address() string {
	return net.JoinHostPort(i.Host, strconv.Itoa(i.Port))
}

// Username returns the fully qualified Proxmox user (user@realm).
func (i Instance) Username() string {
	return fmt.Sprintf("%s@%s", i.User, i.UserRealm)
}

// EffectiveVMIDStart returns the configured VM id floor, or the default.
func (i Instance) EffectiveVMIDStart() int {
	if i.VMIDStart > 0 {
		return i.VMIDStart
	}
	return DefaultVMIDStart
}

// Validate checks that the instance carries everything needed to reach a
// host.
func (i Instance) Validate() error {
	switch {
	case i.InstanceID == "":
		return fmt.Errorf("instance_id must be set")
	case i.PoolID == "":
		return fmt.Errorf("instance %s: pool_id must be set", i.InstanceID)
	case i.Host == "":
		return fmt.Errorf("instance %s: host must be set", i.InstanceID)
	case i.Port <= 0 || i.Port > 65535:
		return fmt.Errorf("instance %s: invalid port %d", i.InstanceID, i.Port)
	case i.User == "":
		return fmt.Errorf("instance %s: user must be set", i.InstanceID)
	case i.UserRealm == "":
		return fmt.Errorf("instance %s: user_realm must be set", i.InstanceID)
	case i.Node == "":
		return fmt.Errorf("instance %s: node must be set", i.InstanceID)
	case i.VMIDStart < 0:
		return fmt.Errorf("instance %s: ids_start must not be negative", i.InstanceID)
	}
	return nil
}

// instancesFile is the on-disk shape of PROXMOX_CONFIG_FILE. YAML tags also
// cover JSON files: yaml.v3 parses JSON, so one loader serves both.
type instancesFile struct {
	Instances []Instance `yaml:"instances" json:"instances"`
}

// LoadInstances loads the instance inventory.
//
// Priority order:
//  1. PROXMOX_CONFIG_FILE (YAML or JSON file with an `instances` list)
//  2. Legacy single-instance PROXMOX_HOST et al. environment variables
//
// An empty inventory is not an error here; callers decide whether running
// without any instances makes sense.
func LoadInstances() ([]Instance, error) {
	if path := os.Getenv("PROXMOX_CONFIG_FILE"); path != "" {
		return LoadInstancesFile(path)
	}

	if host := os.Getenv("PROXMOX_HOST"); host != "" {
		inst := Instance{
			InstanceID: "default",
			PoolID:     "default",
			Host:       host,
			Port:       envInt("PROXMOX_PORT", 8006),
			User:       envString("PROXMOX_USER", "root"),
			UserRealm:  envString("PROXMOX_REALM", "pam"),
			Password:   envString("PROXMOX_PASSWORD", "password"),
			Node:       envString("PROXMOX_NODE", "proxmox"),
			VerifyTLS:  envString("PROXMOX_VERIFY_TLS", "1") == "1",
			VMIDStart:  envInt("PROXMOX_IDS_START", 0),
		}
		if err := inst.Validate(); err != nil {
			return nil, err
		}
		return []Instance{inst}, nil
	}

	return nil, nil
}

// LoadInstancesFile reads and validates an instance inventory file.
func LoadInstancesFile(path string) ([]Instance, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read instances file: %w", err)
	}

	var file instancesFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse instances file %s: %w", path, err)
	}

	seen := make(map[string]bool, len(file.Instances))
	for _, inst := range file.Instances {
		if err := inst.Validate(); err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		if seen[inst.InstanceID] {
			return nil, fmt.Errorf("%s: duplicate instance_id %q", path, inst.InstanceID)
		}
		seen[inst.InstanceID] = true
	}

	return file.Instances, nil
}

// GroupByPool splits the inventory into its pools, preserving file order
// within each pool.
func GroupByPool(instances []Instance) map[string][]Instance {
	pools := make(map[string][]Instance)
	for _, inst := range instances {
		pools[inst.PoolID] = append(pools[inst.PoolID], inst)
	}
	return pools
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return n
}
