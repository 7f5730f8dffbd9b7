package commands

import (
	"github.com/spf13/cobra"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/cmd/proxmox-sandbox/handlers"
)

// Pools returns the pools command.
func Pools() *cobra.Command {
	return &cobra.Command{
		Use:   "pools",
		Short: "List the configured host pools and their members",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return handlers.Pools(cmd.Context())
		},
	}
}
