// Package config loads the Proxmox instance inventory and operational
// timeouts.
//
// The inventory (which hosts exist, which pool each belongs to, how to
// authenticate) comes from a YAML or JSON file named by PROXMOX_CONFIG_FILE,
// with a legacy single-instance fallback assembled from PROXMOX_* environment
// variables. Timeouts and retry knobs are environment-only, with defaults
// that suit a healthy LAN-attached Proxmox cluster.
package config
