package netsift

import (
	"fmt"
	"sort"
)

// Platform is a network operating system family.
//
// The matching pipeline is platform-scoped end to end: vulnerabilities,
// taxonomy labels, and feature snapshots only ever compare within a single
// Platform.
type Platform string

// Recognized platforms.
const (
	IOSXE Platform = "IOS-XE"
	IOSXR Platform = "IOS-XR"
	ASA   Platform = "ASA"
	FTD   Platform = "FTD"
	NXOS  Platform = "NX-OS"
)

var platforms = map[Platform]struct{}{
	IOSXE: {},
	IOSXR: {},
	ASA:   {},
	FTD:   {},
	NXOS:  {},
}

// ParsePlatform reports the Platform named by "s", or an error of kind
// ErrBadInput if the name is unknown.
//
// Matching is exact: platform names are wire-format identifiers, not
// free text.
func ParsePlatform(s string) (Platform, error) {
	p := Platform(s)
	if _, ok := platforms[p]; !ok {
		return "", &Error{
			Kind:    ErrBadInput,
			Message: fmt.Sprintf("unknown platform %q", s),
		}
	}
	return p, nil
}

// Platforms reports all recognized platforms in a stable order.
func Platforms() []Platform {
	ps := make([]Platform, 0, len(platforms))
	for p := range platforms {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i] < ps[j] })
	return ps
}
