// Package naming provides consistent identifier functions for the Proxmox
// objects managed by this provider.
//
// Every provisioning run derives a short prefix from the run name plus a
// random 3-digit suffix. SDN objects hang off that prefix: zone {prefix}z,
// vnets {prefix}v{idx}. Proxmox caps SDN identifiers at 8 characters, which
// is why the prefix is limited to 6 and the suffix carries the entropy.
package naming
