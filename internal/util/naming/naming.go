package naming

import (
	"fmt"
	"math/rand"
	"regexp"
	"strings"
)

// managedZonePattern matches zone ids produced by RunPrefix + Zone: three
// prefix characters, three digits, trailing 'z'. Cleanup relies on this to
// tell our zones apart from anything an operator created by hand.
var managedZonePattern = regexp.MustCompile(`^[a-z0-9]{3}[0-9]{3}z$`)

var nonAlphanumeric = regexp.MustCompile(`[^a-zA-Z0-9]`)

// RunPrefix derives a 6-character object prefix from a run name: the first
// three characters, sanitized and lowercased, followed by a random 3-digit
// suffix. Callers are expected to re-roll while the resulting zone id
// collides with an existing zone on the host.
func RunPrefix(runName string) string {
	base := nonAlphanumeric.ReplaceAllString(runName, "x")
	base = strings.ToLower(base)
	for len(base) < 3 {
		base += "x"
	}
	return fmt.Sprintf("%s%03d", base[:3], rand.Intn(1000))
}

// Zone returns the SDN zone id for a run prefix.
func Zone(prefix string) string {
	return prefix + "z"
}

// VNet returns the id of the idx-th vnet under a run prefix.
func VNet(prefix string, idx int) string {
	return fmt.Sprintf("%sv%d", prefix, idx)
}

// IsManagedZone reports whether a zone id belongs to this provider's
// namespace and is therefore safe to delete during orphan cleanup.
func IsManagedZone(zone string) bool {
	return managedZonePattern.MatchString(zone)
}
