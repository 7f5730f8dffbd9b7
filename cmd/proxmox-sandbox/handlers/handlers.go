// Package handlers implements the CLI commands against the sandbox library.
package handlers

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"

	proxmoxsandbox "github.com/UKGovernmentBEIS/inspect-proxmox-sandbox"
)

// newManager builds a Manager from the process environment with a console
// logger attached.
func newManager() (*proxmoxsandbox.Manager, logr.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.Encoding = "console"
	zapCfg.DisableStacktrace = true
	zl, err := zapCfg.Build()
	if err != nil {
		return nil, logr.Discard(), fmt.Errorf("building logger: %w", err)
	}
	log := zapr.NewLogger(zl)

	m, err := proxmoxsandbox.NewManagerFromEnv(proxmoxsandbox.WithLogger(log))
	if err != nil {
		return nil, log, err
	}
	return m, log, nil
}

// confirm prints the prompt and reads a y/N answer from stdin. Anything
// other than an explicit yes, including EOF from a non-interactive stdin,
// counts as no.
func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		fmt.Println()
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}
