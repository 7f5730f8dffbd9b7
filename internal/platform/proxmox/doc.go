// Package proxmox provides a typed client for the Proxmox VE HTTP API.
//
// The package knows about sessions (ticket + CSRF token), the asynchronous
// task model (mutating calls return a UPID which must be polled to
// completion), and the handful of endpoint families this provider drives:
// SDN objects, QEMU virtual machines, and storage content. It knows nothing
// about pools, topologies, or provisioning order; that lives in
// internal/provision.
package proxmox
