package handlers

import (
	"context"
	"fmt"
	"sort"
)

// Pools prints the configured pools and their member hosts.
func Pools(_ context.Context) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}
	defer m.Shutdown()

	byPool := make(map[string][]string)
	for _, inst := range m.Instances() {
		byPool[inst.PoolID] = append(byPool[inst.PoolID],
			fmt.Sprintf("%s  %s (node %s, ids from %d)",
				inst.InstanceID, inst.Address(), inst.Node, inst.EffectiveVMIDStart()))
	}

	poolIDs := m.Pools()
	sort.Strings(poolIDs)
	for _, id := range poolIDs {
		fmt.Printf("%s (%d host(s)):\n", id, len(byPool[id]))
		members := byPool[id]
		sort.Strings(members)
		for _, line := range members {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}
