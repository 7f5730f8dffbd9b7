// Package pool tracks which Proxmox hosts are free and hands them out one
// sandbox run at a time.
//
// Hosts are grouped into named pools. Acquiring from a pool blocks until a
// member is free, and blocked acquirers are resumed in arrival order. A
// host is exclusive to its holder until released; releasing a host that is
// not checked out is reported as misuse, never absorbed.
package pool
