package netsift

import "time"

// ConfidenceSource records which tier of the inference engine produced an
// analysis.
type ConfidenceSource string

const (
	// ConfidenceModel is a fresh language-model inference.
	ConfidenceModel ConfidenceSource = "model"
	// ConfidenceExact is an exact advisory-id hit in the exemplar corpus.
	ConfidenceExact ConfidenceSource = "exact"
	// ConfidenceCache is a persistent-cache hit returned verbatim.
	ConfidenceCache ConfidenceSource = "cache"
	// ConfidenceHeuristic is the fallback path; results carry NeedsReview
	// and are never written to the persistent cache.
	ConfidenceHeuristic ConfidenceSource = "heuristic"
)

// Analysis is one inference run's output for a single advisory summary:
// validated labels plus the verification material derived from them.
type Analysis struct {
	ID         string   `json:"analysis_id"`
	AdvisoryID string   `json:"advisory_id,omitempty"`
	Platform   Platform `json:"platform"`

	Labels     []string         `json:"labels"`
	Confidence float64          `json:"confidence"`
	Source     ConfidenceSource `json:"confidence_source"`
	// NeedsReview marks fallback-path results that a human should look at
	// before trusting.
	NeedsReview bool `json:"needs_review,omitempty"`

	// ConfigRegex and ShowCommands are joined out of the taxonomy for the
	// retained labels, ready for device verification.
	ConfigRegex  []string `json:"config_regex,omitempty"`
	ShowCommands []string `json:"show_commands,omitempty"`

	CreatedAt time.Time `json:"timestamp"`
}

// CacheEntry is one persistent inference-cache row, keyed by
// (advisory id, platform).
//
// Policy: entries with Source == ConfidenceHeuristic or Confidence below the
// write threshold are never stored; see the inference package.
type CacheEntry struct {
	AdvisoryID  string           `json:"advisory_id"`
	Platform    Platform         `json:"platform"`
	Labels      []string         `json:"labels"`
	Confidence  float64          `json:"confidence"`
	Source      ConfidenceSource `json:"confidence_source"`
	NeedsReview bool             `json:"needs_review"`
	Timestamp   time.Time        `json:"timestamp"`
}

// Exemplar is one labeled retrieval neighbor: an advisory summary with its
// ground-truth labels, used for few-shot prompting and nearest-neighbor
// confidence.
type Exemplar struct {
	ID       string   `json:"id"`
	Platform Platform `json:"platform"`
	Summary  string   `json:"summary"`
	Labels   []string `json:"labels"`
}
