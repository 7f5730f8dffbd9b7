// Package commands defines the CLI command structure and flag bindings.
//
// Command execution is delegated to handler functions in the handlers
// package; this package only parses arguments and flags.
package commands

import "github.com/spf13/cobra"

// Root returns the root command for the proxmox-sandbox CLI.
func Root() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proxmox-sandbox",
		Short: "Operate the Proxmox sandbox host fleet",
	}

	cmd.AddCommand(Pools())
	cmd.AddCommand(Cleanup())
	cmd.AddCommand(Upload())
	cmd.AddCommand(Version())

	return cmd
}
