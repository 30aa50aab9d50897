// Package updater ingests offline vulnerability packages.
//
// A package is a zip archive carrying a manifest and a line-oriented data
// file, produced by an external pipeline and walked across the air gap. The
// whole file is validated (manifest, pipeline version, checksum) before a
// single row changes; records then stream into the store in fixed-size
// batches. Earlier batches stay committed if a later one fails: upserts are
// idempotent, so re-importing the same package heals the catalog.
package updater

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
	"github.com/netsift/netsift/hardware"
)

// DefaultBatchSize is how many records each store transaction carries.
const DefaultBatchSize = 500

var (
	importCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "updater",
			Name:      "imports_total",
			Help:      "Total number of offline imports, by outcome.",
		},
		[]string{"outcome"},
	)
	importDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "updater",
			Name:      "import_duration_seconds",
			Help:      "The duration of offline imports, end to end.",
		},
	)
	recordCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "updater",
			Name:      "records_total",
			Help:      "Total number of records processed, by disposition.",
		},
		[]string{"disposition"},
	)
)

// Store is the slice of the datastore the updater writes through.
type Store interface {
	datastore.Updater
	datastore.Cache
}

// Options configures an Updater.
type Options struct {
	// BatchSize caps records per store transaction. Defaults to
	// DefaultBatchSize.
	BatchSize int
	// OnCorpusChange, when non-nil, runs after an import that stored any
	// labeled record. It is typically wired to the retriever rebuild.
	OnCorpusChange func(context.Context)
}

// Updater ingests offline packages into the store.
type Updater struct {
	store Store
	opts  Options
}

// New returns an Updater writing through the provided store.
func New(store Store, opts Options) *Updater {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	return &Updater{store: store, opts: opts}
}

// Record is one line of the offline data file.
type Record struct {
	ID       string           `json:"identifier"`
	Kind     netsift.VulnKind `json:"kind"`
	Platform netsift.Platform `json:"platform"`
	Severity netsift.Severity `json:"severity"`
	Headline string           `json:"headline"`
	Summary  string           `json:"summary,omitempty"`
	Link     string           `json:"url,omitempty"`
	Status   string           `json:"status,omitempty"`
	// Hardware is the pipeline's free-text hardware mention; it is
	// classified to a family tag at ingest.
	Hardware     string              `json:"hardware,omitempty"`
	Affected     string              `json:"affected_versions"`
	FixedIn      string              `json:"fixed_in,omitempty"`
	Labels       []string            `json:"labels,omitempty"`
	LabelsSource netsift.LabelSource `json:"labels_source,omitempty"`
	LastModified time.Time           `json:"last_modified,omitzero"`
}

// Summary reports what an import changed.
type Summary struct {
	PipelineVersion  string `json:"pipeline_version,omitempty"`
	Stored           int64  `json:"stored"`
	Skipped          int    `json:"skipped"`
	CacheInvalidated int64  `json:"cache_invalidated"`
	CorpusChanged    bool   `json:"corpus_changed"`
}

// Validation is the result of a dry-run check of an offline package.
type Validation struct {
	PipelineVersion string `json:"pipeline_version,omitempty"`
	DataFile        string `json:"data_file"`
	ChecksumOK      bool   `json:"checksum_verified"`
	Records         int    `json:"records"`
	Skipped         int    `json:"skipped"`
}

// Import validates and ingests an offline package.
//
// Validation failures (not a zip, missing or unparseable manifest,
// unsupported pipeline version, checksum mismatch) reject the whole package
// with an error of kind ErrCorrupt before any database change. Individual
// records that fail structural validation are skipped with a warning, not
// fatal. On completion, inference cache entries for every touched advisory
// are invalidated and the corpus-change hook fires if any labeled record
// was stored.
func (u *Updater) Import(ctx context.Context, in io.ReaderAt, size int64) (*Summary, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "updater/Updater.Import")
	start := time.Now()
	sum, err := u.run(ctx, in, size, false)
	switch {
	case errors.Is(err, nil):
		importCounter.WithLabelValues("ok").Add(1)
	case errors.Is(err, netsift.ErrCorrupt):
		importCounter.WithLabelValues("rejected").Add(1)
	default:
		importCounter.WithLabelValues("error").Add(1)
	}
	importDuration.Observe(time.Since(start).Seconds())
	if sum == nil {
		return nil, err
	}
	return &sum.Summary, err
}

// Validate runs the same checks as Import without writing: the archive and
// manifest must open, the pipeline version must be supported, the checksum
// must match, and every record must decode.
func (u *Updater) Validate(ctx context.Context, in io.ReaderAt, size int64) (*Validation, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "updater/Updater.Validate")
	sum, err := u.run(ctx, in, size, true)
	if err != nil {
		return nil, err
	}
	return &Validation{
		PipelineVersion: sum.PipelineVersion,
		DataFile:        sum.dataFile,
		ChecksumOK:      sum.checksumOK,
		Records:         int(sum.Stored),
		Skipped:         sum.Skipped,
	}, nil
}

// runSummary extends the public summary with fields only Validate reports.
type runSummary struct {
	Summary
	dataFile   string
	checksumOK bool
}

func (u *Updater) run(ctx context.Context, in io.ReaderAt, size int64, dry bool) (*runSummary, error) {
	z, err := openZip(in, size)
	if err != nil {
		return nil, err
	}
	m, err := readManifest(z)
	if err != nil {
		return nil, err
	}
	if err := checkPipeline(m); err != nil {
		return nil, err
	}
	sum := runSummary{
		Summary:  Summary{PipelineVersion: m.PipelineVersion},
		dataFile: m.File,
	}
	if m.SHA256 == "" {
		zlog.Warn(ctx).
			Str("file", m.File).
			Msg("manifest carries no checksum; accepting for backward compatibility")
	} else {
		if err := verifyChecksum(z, m); err != nil {
			return nil, err
		}
		sum.checksumOK = true
	}

	rc, err := openData(z, m)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	var (
		batch   []*netsift.Vulnerability
		touched []string
	)
	flush := func() error {
		if dry || len(batch) == 0 {
			return nil
		}
		n, err := u.store.UpdateVulnerabilities(ctx, batch)
		if err != nil {
			return err
		}
		sum.Stored += n
		batch = batch[:0]
		return nil
	}

	dec := json.NewDecoder(rc)
	for n := 0; ; n++ {
		var rec Record
		err := dec.Decode(&rec)
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, io.EOF):
			if err := flush(); err != nil {
				return nil, err
			}
			goto Done
		default:
			return nil, &netsift.Error{
				Kind:    netsift.ErrCorrupt,
				Message: "data file stopped decoding",
				Inner:   err,
			}
		}
		v, err := u.toVulnerability(ctx, &rec)
		if err != nil {
			zlog.Warn(ctx).
				Err(err).
				Int("line", n).
				Str("identifier", rec.ID).
				Msg("skipping invalid record")
			recordCounter.WithLabelValues("skipped").Add(1)
			sum.Skipped++
			continue
		}
		recordCounter.WithLabelValues("ok").Add(1)
		if len(v.Labels) != 0 {
			sum.CorpusChanged = true
		}
		if dry {
			sum.Stored++
			continue
		}
		touched = append(touched, v.ID)
		batch = append(batch, v)
		if len(batch) >= u.opts.BatchSize {
			if err := flush(); err != nil {
				return nil, err
			}
		}
	}

Done:
	if dry {
		return &sum, nil
	}
	if len(touched) != 0 {
		n, err := u.store.InvalidateCache(ctx, touched)
		if err != nil {
			// The cache self-corrects on the next analyze; the import
			// itself succeeded.
			zlog.Warn(ctx).Err(err).Msg("unable to invalidate inference cache")
		}
		sum.CacheInvalidated = n
	}
	if sum.CorpusChanged && u.opts.OnCorpusChange != nil {
		u.opts.OnCorpusChange(ctx)
	}
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.Int64("stored", sum.Stored),
		attribute.Int("skipped", sum.Skipped),
	)
	zlog.Info(ctx).
		Int64("stored", sum.Stored).
		Int("skipped", sum.Skipped).
		Int64("cache_invalidated", sum.CacheInvalidated).
		Bool("corpus_changed", sum.CorpusChanged).
		Str("pipeline_version", sum.PipelineVersion).
		Msg("offline import complete")
	return &sum, nil
}

// toVulnerability maps one wire record onto a catalog row, classifying its
// affected-versions declaration and hardware mention.
func (u *Updater) toVulnerability(ctx context.Context, rec *Record) (*netsift.Vulnerability, error) {
	v := netsift.Vulnerability{
		ID:           rec.ID,
		Kind:         rec.Kind,
		Platform:     rec.Platform,
		Severity:     rec.Severity,
		Headline:     rec.Headline,
		Summary:      rec.Summary,
		Link:         rec.Link,
		Status:       rec.Status,
		Labels:       rec.Labels,
		LabelsSource: rec.LabelsSource,
		LastModified: rec.LastModified,
	}
	if err := v.Validate(); err != nil {
		return nil, err
	}
	if v.LastModified.IsZero() {
		v.LastModified = time.Now().UTC()
	}
	v.HardwareModel = hardware.Classify(rec.Hardware)

	span, err := netsift.ClassifyAffected(rec.Affected)
	if err != nil {
		// Unclassifiable declarations stay in the catalog with their
		// verbatim text; matching falls back to text comparison.
		zlog.Warn(ctx).
			Str("identifier", rec.ID).
			Str("affected", rec.Affected).
			Msg("affected-versions declaration defeated classification")
	}
	if rec.FixedIn != "" {
		fv, err := netsift.ParseVersion(rec.FixedIn)
		if err != nil {
			zlog.Warn(ctx).
				Str("identifier", rec.ID).
				Str("fixed_in", rec.FixedIn).
				Msg("fixed_in version does not parse, ignoring")
		} else {
			span.FixedIn = &fv
		}
	}
	v.Affected = span
	return &v, nil
}
