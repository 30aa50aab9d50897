// Package features converts device configuration text into sanitized
// feature snapshots.
//
// The extractor applies every detection pattern of the platform's taxonomy to
// the supplied text and records only which labels matched. The resulting
// snapshot carries no addresses, hostnames, credentials, configuration
// fragments, or command output, which is what makes it safe to carry across
// an air gap to the scanner.
package features

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/quay/zlog"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/hardware"
	"github.com/netsift/netsift/taxonomy"
)

// Version is recorded in every snapshot so consumers can reason about
// extractor drift. Bump on any change to extraction behavior.
const Version = "3"

// Extractor turns configuration text into feature snapshots using a loaded
// taxonomy.
type Extractor struct {
	tax *taxonomy.Store
}

// New returns an Extractor over the provided taxonomy.
func New(tax *taxonomy.Store) *Extractor {
	return &Extractor{tax: tax}
}

// Extract tests every label of the platform's catalog against the
// configuration text and reports the snapshot.
//
// The hardware hint, when non-empty, is classified and recorded; "show
// version" output can be passed as the hint. The configuration text itself is
// never retained or echoed anywhere, including logs.
func (e *Extractor) Extract(ctx context.Context, cfg string, platform netsift.Platform, hwHint string) (*netsift.FeatureSnapshot, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "features/Extractor.Extract")
	if _, err := netsift.ParsePlatform(string(platform)); err != nil {
		return nil, err
	}
	entries := e.tax.Entries(platform)
	if len(entries) == 0 {
		return nil, &netsift.Error{
			Kind:    netsift.ErrBadInput,
			Message: "no taxonomy loaded for platform " + string(platform),
		}
	}

	// CRLF alignment: device captures often arrive with \r\n endings, which
	// break $-anchored patterns compiled for \n.
	cfg = strings.ReplaceAll(cfg, "\r\n", "\n")

	present := make([]string, 0, 16)
	for _, entry := range entries {
		for _, re := range entry.Patterns {
			if re.MatchString(cfg) {
				present = append(present, entry.Label)
				break
			}
		}
	}

	hw := ""
	if hwHint != "" {
		hw = hardware.FromShowVersion(hwHint)
	}

	snap := netsift.FeatureSnapshot{
		ID:               uuid.New().String(),
		Platform:         platform,
		HardwareModel:    hw,
		FeaturesPresent:  present,
		FeatureCount:     len(present),
		TotalChecked:     len(entries),
		ExtractedAt:      time.Now().UTC(),
		ExtractorVersion: Version,
	}
	zlog.Debug(ctx).
		Str("platform", string(platform)).
		Int("present", snap.FeatureCount).
		Int("checked", snap.TotalChecked).
		Msg("extraction complete")
	return &snap, nil
}

// Verify checks a snapshot against an expected label set and reports which
// labels are present on the device and which are absent.
//
// It is the feature half of advisory verification: an advisory whose labels
// are all absent cannot apply to the device.
func Verify(snap *netsift.FeatureSnapshot, want []string) (present, absent []string) {
	have := make(map[string]struct{}, len(snap.FeaturesPresent))
	for _, l := range snap.FeaturesPresent {
		have[l] = struct{}{}
	}
	for _, l := range want {
		if _, ok := have[l]; ok {
			present = append(present, l)
		} else {
			absent = append(absent, l)
		}
	}
	return present, absent
}
