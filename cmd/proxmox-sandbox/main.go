// Package main is the entry point for the proxmox-sandbox CLI.
//
// proxmox-sandbox is the operational companion to the sandbox library: it
// lists the configured host pools, uploads VM templates to host storage,
// and sweeps up orphaned sandbox objects left behind by crashed runs.
//
// For detailed usage information, run:
//
//	proxmox-sandbox --help
package main

import (
	"fmt"
	"os"

	"github.com/UKGovernmentBEIS/inspect-proxmox-sandbox/cmd/proxmox-sandbox/commands"
)

// Version information set by goreleaser at build time.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersionInfo(version, commit, date)
	if err := commands.Root().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
