// Package scanner implements the four-tier vulnerability match: platform,
// version, hardware, feature.
//
// The version tier is split the way the catalog stores it: a coarse version
// index narrows the field in the database, then every candidate's affected
// span is evaluated precisely in process. The hardware and feature tiers
// only ever shrink that set, and each tier's effect is counted so a report
// can explain its own size.
package scanner

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
)

// filteredSampleMax bounds the filtered-out sample returned for UI
// explanation.
const filteredSampleMax = 10

var (
	scanCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "scanner",
			Name:      "scans_total",
			Help:      "Total number of scans performed.",
		},
		[]string{"platform"},
	)
	scanDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "scanner",
			Name:      "scan_duration_seconds",
			Help:      "The duration of scans, end to end.",
		},
		[]string{"platform"},
	)
	stageDrops = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "scanner",
			Name:      "stage_drops_total",
			Help:      "Total number of candidates dropped, by filter stage.",
		},
		[]string{"stage"},
	)
)

// Request is one scan tuple.
type Request struct {
	Platform netsift.Platform
	Version  string
	// Hardware is the device's family tag. Empty means unknown: only
	// generic rows (no hardware restriction) can match.
	Hardware string
	// Features is the device's configured label set. A nil slice disables
	// the feature tier entirely; an empty non-nil slice means "no features
	// configured", which still lets label-free rows through.
	Features []string
	// Severities restricts the report to the listed bands. Empty means
	// all.
	Severities []netsift.Severity
	// Limit and Offset paginate the medium/low group. A Limit of zero
	// returns everything. The critical/high group is never paginated.
	Limit, Offset int
}

// Scanner matches scan requests against the catalog.
type Scanner struct {
	store datastore.Matcher
}

// New returns a Scanner reading from the provided store.
func New(store datastore.Matcher) *Scanner {
	return &Scanner{store: store}
}

// Scan runs the four filter tiers and groups the survivors by severity.
func (s *Scanner) Scan(ctx context.Context, req *Request) (*netsift.ScanResult, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "scanner/Scanner.Scan")
	start := time.Now()

	// Tier 1: platform.
	platform, err := netsift.ParsePlatform(string(req.Platform))
	if err != nil {
		return nil, err
	}
	version, err := netsift.ParseVersion(req.Version)
	if err != nil {
		return nil, err
	}

	res := netsift.ScanResult{
		ID:        uuid.New().String(),
		Platform:  platform,
		Version:   version.String(),
		Hardware:  req.Hardware,
		Features:  req.Features,
		Timestamp: time.Now().UTC(),
	}

	// Tier 2: coarse index retrieval, then precise span evaluation.
	candidates, err := s.store.Candidates(ctx, platform, version)
	if err != nil {
		return nil, err
	}
	res.TotalChecked = len(candidates)

	type match struct {
		vuln   *netsift.Vulnerability
		reason string
	}
	matches := make([]match, 0, len(candidates))
	for _, v := range candidates {
		ok, reason := v.Affected.Affected(version)
		if !ok {
			stageDrops.WithLabelValues("version").Add(1)
			continue
		}
		matches = append(matches, match{vuln: v, reason: reason})
	}
	res.VersionMatches = len(matches)

	// Tier 3: hardware. Generic rows always stay; restricted rows need the
	// device's family, and an unknown device family keeps only generic rows.
	kept := matches[:0]
	for _, m := range matches {
		hw := m.vuln.HardwareModel
		if hw != "" && hw != req.Hardware {
			res.HardwareFiltered++
			stageDrops.WithLabelValues("hardware").Add(1)
			continue
		}
		kept = append(kept, m)
	}
	matches = kept

	// Tier 4: features. A row with labels must share one with the device;
	// a row without labels cannot prove irrelevance and passes.
	if req.Features != nil {
		have := make(map[string]struct{}, len(req.Features))
		for _, f := range req.Features {
			have[f] = struct{}{}
		}
		kept = matches[:0]
		for _, m := range matches {
			if len(m.vuln.Labels) == 0 || intersects(m.vuln.Labels, have) {
				kept = append(kept, m)
				continue
			}
			stageDrops.WithLabelValues("feature").Add(1)
			if len(res.FilteredSample) < filteredSampleMax {
				item := toItem(m.vuln, "none of its feature labels are configured on the device")
				res.FilteredSample = append(res.FilteredSample, item)
			}
		}
		matches = kept
	}

	if len(req.Severities) > 0 {
		want := make(map[netsift.Severity]struct{}, len(req.Severities))
		for _, sev := range req.Severities {
			want[sev] = struct{}{}
		}
		kept = matches[:0]
		for _, m := range matches {
			if _, ok := want[m.vuln.Severity]; ok {
				kept = append(kept, m)
			}
		}
		matches = kept
	}
	res.FinalMatches = len(matches)

	// Group and order: severity, then identifier.
	sort.Slice(matches, func(i, j int) bool {
		a, b := matches[i].vuln, matches[j].vuln
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		return a.ID < b.ID
	})
	for _, m := range matches {
		item := toItem(m.vuln, m.reason)
		if m.vuln.Severity.CriticalHigh() {
			res.CriticalHigh = append(res.CriticalHigh, item)
		} else {
			res.MediumLow = append(res.MediumLow, item)
		}
	}
	res.MediumLow = paginate(res.MediumLow, req.Limit, req.Offset)

	res.QueryTimeMS = time.Since(start).Milliseconds()
	scanCounter.WithLabelValues(string(platform)).Add(1)
	scanDuration.WithLabelValues(string(platform)).Observe(time.Since(start).Seconds())
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("platform", string(platform)),
		attribute.Int("total_checked", res.TotalChecked),
		attribute.Int("final_matches", res.FinalMatches),
	)
	zlog.Debug(ctx).
		Str("platform", string(platform)).
		Str("version", res.Version).
		Int("total_checked", res.TotalChecked).
		Int("version_matches", res.VersionMatches).
		Int("hardware_filtered", res.HardwareFiltered).
		Int("final_matches", res.FinalMatches).
		Int64("ms", res.QueryTimeMS).
		Msg("scan complete")
	return &res, nil
}

func intersects(labels []string, have map[string]struct{}) bool {
	for _, l := range labels {
		if _, ok := have[l]; ok {
			return true
		}
	}
	return false
}

func toItem(v *netsift.Vulnerability, reason string) netsift.ScanItem {
	return netsift.ScanItem{
		ID:            v.ID,
		Kind:          v.Kind,
		Severity:      v.Severity,
		Headline:      v.Headline,
		Link:          v.Link,
		HardwareModel: v.HardwareModel,
		AffectedRaw:   v.Affected.Raw,
		Labels:        v.Labels,
		Reason:        reason,
	}
}

func paginate(items []netsift.ScanItem, limit, offset int) []netsift.ScanItem {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
