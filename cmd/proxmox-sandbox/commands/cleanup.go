package commands

import (
	"github.com/spf13/cobra"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/cmd/proxmox-sandbox/handlers"
)

// Cleanup returns the cleanup command.
func Cleanup() *cobra.Command {
	var (
		dryRun bool
		yes    bool
	)

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Remove orphaned sandbox objects from every configured host",
		Long: `Cleanup scans every configured host for objects a crashed run left
behind — guests carrying the sandbox marker tag and network zones matching
the sandbox naming scheme — and destroys them.

Hosts are read from PROXMOX_CONFIG_FILE or the PROXMOX_* environment
variables. Templates are never touched, nor is anything the sandbox system
did not create.

Example:
  proxmox-sandbox cleanup --dry-run
  proxmox-sandbox cleanup --yes`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Cleanup(cmd.Context(), dryRun, yes)
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "List orphans without deleting them")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "Skip the confirmation prompt")

	return cmd
}
