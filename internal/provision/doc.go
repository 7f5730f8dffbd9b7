// Package provision creates and destroys sandbox environments on one
// Proxmox host: an SDN zone with vnets and subnets, plus the virtual
// machines attached to them.
//
// Creation runs in dependency order and records every object into a
// ProvisionedSet the moment it exists remotely, so a failure at any point
// leaves the caller holding an exact teardown worklist. Destruction walks
// that worklist in reverse, treats missing objects as already clean, and
// aggregates sub-failures instead of stopping at the first one.
//
// The package assumes exclusive access to the host it is handed; the pool
// layer enforces that.
package provision
