package handlers

import (
	"context"
	"fmt"
)

// Cleanup discovers orphaned sandbox objects on every configured host and,
// unless dryRun is set, destroys them after confirmation.
func Cleanup(ctx context.Context, dryRun, yes bool) error {
	m, _, err := newManager()
	if err != nil {
		return err
	}
	defer m.Shutdown()

	found, err := m.DiscoverOrphans(ctx)
	if err != nil {
		return fmt.Errorf("discovering orphans: %w", err)
	}
	if len(found) == 0 {
		fmt.Println("No orphaned sandbox objects found.")
		return nil
	}

	total := 0
	for _, ho := range found {
		fmt.Printf("%s:\n", ho.Instance.InstanceID)
		for _, vm := range ho.Orphans.VMs {
			fmt.Printf("  vm %d (%s, %s)\n", vm.VMID, vm.Name, vm.Status)
			total++
		}
		for _, zone := range ho.Orphans.Zones {
			fmt.Printf("  zone %s\n", zone)
			total++
		}
	}
	if dryRun {
		fmt.Printf("%d object(s) would be deleted (dry run).\n", total)
		return nil
	}
	if !yes && !confirm(fmt.Sprintf("Delete these %d object(s)?", total)) {
		fmt.Println("Aborted.")
		return nil
	}

	if err := m.SweepOrphans(ctx, found); err != nil {
		return err
	}
	fmt.Printf("Deleted %d object(s).\n", total)
	return nil
}
