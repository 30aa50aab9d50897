package netsift

import "time"

// ScanItem is one matched (or sampled) vulnerability inside a scan report,
// trimmed to what reports and UIs need.
type ScanItem struct {
	ID            string   `json:"identifier"`
	Kind          VulnKind `json:"kind"`
	Severity      Severity `json:"severity"`
	Headline      string   `json:"headline"`
	Link          string   `json:"url,omitempty"`
	HardwareModel string   `json:"hardware_model,omitempty"`
	AffectedRaw   string   `json:"affected_versions"`
	Labels        []string `json:"labels,omitempty"`
	// Reason is the human-readable version-match explanation, or for
	// filtered samples, why the item was dropped.
	Reason string `json:"reason,omitempty"`
}

// ScanResult is the deterministic vulnerability match for a single
// (platform, version, hardware?, features?) tuple, with per-stage counters
// so callers can see how each filter narrowed the field.
type ScanResult struct {
	ID       string   `json:"scan_id"`
	DeviceID string   `json:"device_id,omitempty"`
	Platform Platform `json:"platform"`
	Version  string   `json:"version"`
	Hardware string   `json:"hardware_model,omitempty"`
	Features []string `json:"features,omitempty"`

	// TotalChecked counts index candidates considered; VersionMatches
	// counts survivors of the precise version check; HardwareFiltered
	// counts rows the hardware stage removed; FinalMatches counts rows in
	// the report groups before pagination.
	TotalChecked     int `json:"total_checked"`
	VersionMatches   int `json:"version_matches"`
	HardwareFiltered int `json:"hardware_filtered"`
	FinalMatches     int `json:"final_matches"`

	CriticalHigh []ScanItem `json:"critical_high"`
	MediumLow    []ScanItem `json:"medium_low"`
	// FilteredSample holds up to ten items the feature stage removed, so a
	// report can explain the reduction.
	FilteredSample []ScanItem `json:"filtered_out_sample,omitempty"`

	QueryTimeMS int64     `json:"query_time_ms"`
	Timestamp   time.Time `json:"timestamp"`
}

// Counts reports (critical/high, medium/low) totals.
func (r *ScanResult) Counts() (ch, ml int) {
	return len(r.CriticalHigh), len(r.MediumLow)
}

// ScanDiff buckets two scans of the same device or tuple: what only the
// earlier scan found (fixed), what only the later scan found (introduced),
// and what both found.
type ScanDiff struct {
	Fixed     []ScanItem `json:"fixed"`
	New       []ScanItem `json:"new"`
	Unchanged []ScanItem `json:"unchanged"`

	FixedBySeverity map[Severity]int `json:"fixed_by_severity"`
	NewBySeverity   map[Severity]int `json:"new_by_severity"`
}

// Recommendation grades a version move by weighted severity deltas.
type Recommendation string

const (
	RiskLow    Recommendation = "LOW"
	RiskMedium Recommendation = "MEDIUM"
	RiskHigh   Recommendation = "HIGH"
)

// VersionComparison is the result of scanning the same tuple at two
// versions and diffing the outcomes.
type VersionComparison struct {
	Platform       Platform       `json:"platform"`
	CurrentVersion string         `json:"current_version"`
	TargetVersion  string         `json:"target_version"`
	Current        *ScanResult    `json:"current"`
	Target         *ScanResult    `json:"target"`
	Diff           *ScanDiff      `json:"diff"`
	RiskScore      int            `json:"risk_score"`
	Recommendation Recommendation `json:"recommendation"`
}
