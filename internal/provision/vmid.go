package provision

import (
	"errors"
	"fmt"
	"sync"
)

// ErrVMIDExhausted is returned when no free vmid exists within the probe
// range above the host's configured starting offset.
var ErrVMIDExhausted = errors.New("provision: no free vmid in probe range")

// vmidProbeRange bounds how far above the starting offset the allocator
// will look before giving up.
const vmidProbeRange = 10000

// Allocator hands out vmids for one host. It remembers every id claimed
// during this process so that concurrent provisioning runs against the same
// host cannot race a read-then-create on the same id. Ids in use by guests
// created before this process started are only visible through the live
// list the caller supplies.
type Allocator struct {
	start int

	mu      sync.Mutex
	claimed map[int]struct{}
}

// NewAllocator returns an allocator probing upward from start.
func NewAllocator(start int) *Allocator {
	return &Allocator{
		start:   start,
		claimed: make(map[int]struct{}),
	}
}

// Claim picks the lowest free vmid that is neither claimed in this process
// nor present in inUse, and marks it claimed.
func (a *Allocator) Claim(inUse map[int]bool) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for id := a.start; id < a.start+vmidProbeRange; id++ {
		if _, ok := a.claimed[id]; ok {
			continue
		}
		if inUse[id] {
			continue
		}
		a.claimed[id] = struct{}{}
		return id, nil
	}
	return 0, fmt.Errorf("%w: probed %d..%d", ErrVMIDExhausted, a.start, a.start+vmidProbeRange-1)
}

// Release forgets a claim, typically after the guest is deleted.
func (a *Allocator) Release(id int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.claimed, id)
}

// Claimed reports whether the id is currently claimed.
func (a *Allocator) Claimed(id int) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.claimed[id]
	return ok
}
