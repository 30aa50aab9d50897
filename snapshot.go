package netsift

import "time"

// FeatureSnapshot is the sanitized description of which taxonomy features a
// device has configured.
//
// A snapshot deliberately contains no addresses, hostnames, credentials,
// configuration fragments, or command output: it is safe to move across an
// air gap. Consumers can reason about extractor drift via ExtractorVersion.
type FeatureSnapshot struct {
	ID               string    `json:"snapshot_id"`
	Platform         Platform  `json:"platform"`
	HardwareModel    string    `json:"hardware_model,omitempty"`
	FeaturesPresent  []string  `json:"features_present"`
	FeatureCount     int       `json:"feature_count"`
	TotalChecked     int       `json:"total_checked"`
	ExtractedAt      time.Time `json:"extracted_at"`
	ExtractorVersion string    `json:"extractor_version"`
}

// Validate reports the first structural problem with the snapshot, or nil.
func (s *FeatureSnapshot) Validate() error {
	if _, err := ParsePlatform(string(s.Platform)); err != nil {
		return err
	}
	if s.FeatureCount != len(s.FeaturesPresent) {
		return &Error{Kind: ErrBadInput, Message: "snapshot feature_count disagrees with features_present"}
	}
	return nil
}
