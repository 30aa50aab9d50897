package netsift

import (
	"fmt"
	"time"
)

// VulnKind discriminates the two publication streams in the catalog.
type VulnKind string

const (
	// KindPSIRT is a published security advisory.
	KindPSIRT VulnKind = "psirt"
	// KindBug is an engineering defect, which may or may not have security
	// impact.
	KindBug VulnKind = "bug"
)

// LabelSource records where a vulnerability's feature labels came from.
type LabelSource string

const (
	SourceFrontier  LabelSource = "frontier"
	SourceModel     LabelSource = "model"
	SourceManual    LabelSource = "manual"
	SourceHeuristic LabelSource = "heuristic"
)

// Vulnerability is one row of the catalog: a PSIRT advisory or a bug report,
// scoped to a single platform, with its affected-version span, optional
// hardware restriction, and feature labels.
type Vulnerability struct {
	// ID is the advisory id for PSIRTs and the bug id for bugs. Unique
	// together with Kind.
	ID       string   `json:"identifier"`
	Kind     VulnKind `json:"kind"`
	Platform Platform `json:"platform"`
	Severity Severity `json:"severity"`
	Headline string   `json:"headline"`
	Summary  string   `json:"summary"`
	Link     string   `json:"url,omitempty"`
	Status   string   `json:"status,omitempty"`
	// HardwareModel restricts the row to one hardware family. Empty means
	// the row applies to all hardware of the platform.
	HardwareModel string      `json:"hardware_model,omitempty"`
	Affected      VersionSpan `json:"affected"`
	Labels        []string    `json:"labels,omitempty"`
	LabelsSource  LabelSource `json:"labels_source,omitempty"`
	LastModified  time.Time   `json:"last_modified"`
}

// Validate reports the first structural problem with the record, or nil.
// Used at ingest boundaries; stored rows are assumed valid.
func (v *Vulnerability) Validate() error {
	switch {
	case v.ID == "":
		return &Error{Kind: ErrBadInput, Message: "vulnerability missing identifier"}
	case v.Kind != KindPSIRT && v.Kind != KindBug:
		return &Error{Kind: ErrBadInput, Message: fmt.Sprintf("vulnerability %s: unknown kind %q", v.ID, v.Kind)}
	case !v.Severity.Valid():
		return &Error{Kind: ErrBadInput, Message: fmt.Sprintf("vulnerability %s: severity %d out of band", v.ID, v.Severity)}
	}
	if _, err := ParsePlatform(string(v.Platform)); err != nil {
		return &Error{Kind: ErrBadInput, Message: fmt.Sprintf("vulnerability %s: unknown platform %q", v.ID, v.Platform)}
	}
	return nil
}
