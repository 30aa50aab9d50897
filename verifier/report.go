package verifier

import (
	"fmt"
	"strings"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/features"
)

// Overall verification verdicts.
const (
	StatusVulnerable    = "VULNERABLE"
	StatusNotVulnerable = "NOT VULNERABLE"
	StatusError         = "ERROR"
)

// Claim carries an advisory's version assertions, when the caller has them
// (the psirt_metadata of a verification request).
type Claim struct {
	AffectedVersions []string `json:"affected_versions,omitempty"`
	FixedIn          string   `json:"fixed_in,omitempty"`
}

// FeatureCheck partitions an analysis's labels by presence on the device.
type FeatureCheck struct {
	Present []string `json:"present"`
	Absent  []string `json:"absent"`
}

// VersionCheck is the version half of a verification. Conclusive is false
// when the device version or every declaration defeats parsing.
type VersionCheck struct {
	DeviceVersion string `json:"device_version"`
	Affected      bool   `json:"affected"`
	Conclusive    bool   `json:"conclusive"`
	Matched       string `json:"matched_declaration,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// Report is the outcome of checking one analysis against one device or
// snapshot.
type Report struct {
	OverallStatus string        `json:"overall_status"`
	Reason        string        `json:"reason"`
	VersionCheck  *VersionCheck `json:"version_check,omitempty"`
	FeatureCheck  *FeatureCheck `json:"feature_check"`
	Evidence      []string      `json:"evidence,omitempty"`
}

// ErrorReport wraps a failure into the report shape.
func ErrorReport(reason string) *Report {
	return &Report{
		OverallStatus: StatusError,
		Reason:        reason,
		FeatureCheck:  &FeatureCheck{Present: []string{}, Absent: []string{}},
	}
}

// VerifySnapshot checks an analysis against an already-extracted snapshot.
// There is no device session, so the report carries no version check.
func VerifySnapshot(a *netsift.Analysis, snap *netsift.FeatureSnapshot) *Report {
	if a.Platform != snap.Platform {
		return ErrorReport(fmt.Sprintf("analysis is for %s but the snapshot was taken on %s", a.Platform, snap.Platform))
	}
	return verdict(a, snap, nil)
}

// checkVersion evaluates the device's version against the claim. A nil
// result means the claim asserted nothing.
func checkVersion(raw string, c *Claim) *VersionCheck {
	if c == nil || (len(c.AffectedVersions) == 0 && c.FixedIn == "") {
		return nil
	}
	vc := &VersionCheck{DeviceVersion: raw}
	dv, err := netsift.ParseVersion(raw)
	if err != nil {
		vc.Detail = fmt.Sprintf("device version %q defeats parsing", raw)
		return vc
	}
	if c.FixedIn != "" {
		if fv, err := netsift.ParseVersion(c.FixedIn); err == nil && dv.Compare(fv) >= 0 {
			vc.Conclusive = true
			vc.Detail = fmt.Sprintf("running %s is at or past the fix in %s", raw, c.FixedIn)
			return vc
		}
	}
	for _, decl := range c.AffectedVersions {
		span, err := netsift.ClassifyAffected(decl)
		if err != nil {
			continue
		}
		if ok, reason := span.Affected(dv); ok {
			vc.Conclusive = true
			vc.Affected = true
			vc.Matched = decl
			vc.Detail = reason
			return vc
		}
	}
	vc.Conclusive = true
	if len(c.AffectedVersions) == 0 {
		// Only a fix version was claimed and the device predates it.
		vc.Affected = true
		vc.Detail = fmt.Sprintf("running %s predates the fix in %s", raw, c.FixedIn)
		return vc
	}
	vc.Detail = fmt.Sprintf("running %s is outside the affected declarations", raw)
	return vc
}

// verdict combines the feature and version halves into an overall status.
//
// A conclusive "not affected" version check clears the device outright.
// Otherwise the feature preconditions decide: an advisory none of whose
// labels are configured cannot apply.
func verdict(a *netsift.Analysis, snap *netsift.FeatureSnapshot, vc *VersionCheck) *Report {
	present, absent := features.Verify(snap, a.Labels)
	if present == nil {
		present = []string{}
	}
	if absent == nil {
		absent = []string{}
	}
	r := &Report{
		VersionCheck: vc,
		FeatureCheck: &FeatureCheck{Present: present, Absent: absent},
	}

	if vc != nil && vc.Conclusive {
		if !vc.Affected {
			r.OverallStatus = StatusNotVulnerable
			r.Reason = vc.Detail
			r.Evidence = append(r.Evidence, vc.Detail)
			return r
		}
		r.Evidence = append(r.Evidence, vc.Detail)
	}

	switch {
	case len(a.Labels) == 0:
		if vc != nil && vc.Conclusive && vc.Affected {
			r.OverallStatus = StatusVulnerable
			r.Reason = "the running version is in the affected range and the advisory names no feature preconditions"
		} else {
			r.OverallStatus = StatusError
			r.Reason = "the analysis carries no verifiable conditions"
		}
	case len(present) == 0:
		r.OverallStatus = StatusNotVulnerable
		r.Reason = "none of the advisory's feature preconditions are configured on the device"
		r.Evidence = append(r.Evidence, "labels absent: "+strings.Join(absent, ", "))
	default:
		r.OverallStatus = StatusVulnerable
		r.Reason = fmt.Sprintf("%d of %d advisory feature preconditions are configured", len(present), len(a.Labels))
		r.Evidence = append(r.Evidence, "labels configured: "+strings.Join(present, ", "))
		if len(absent) > 0 {
			r.Evidence = append(r.Evidence, "labels absent: "+strings.Join(absent, ", "))
		}
	}
	return r
}
