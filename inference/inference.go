// Package inference turns free-text advisory summaries into validated
// feature-label analyses.
//
// The engine consults a ladder of tiers, cheapest first: an in-flight
// request group, the persistent advisory cache, an exact exemplar hit, and
// finally a language-model call grounded on retrieved exemplars. When every
// tier fails the engine still answers, marking the result for human review
// instead of returning an error.
package inference

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/quay/zlog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/datastore"
	"github.com/netsift/netsift/retriever"
	"github.com/netsift/netsift/taxonomy"
)

// Tunables and their defaults. All are overridable via Options.
const (
	// DefaultTopK is how many exemplar neighbors the model path retrieves.
	DefaultTopK = 5
	// DefaultExemplarFloor is the similarity below which a neighbor is not
	// shown to the model. If no neighbor clears the floor, the model path is
	// skipped entirely.
	DefaultExemplarFloor = 0.70
	// DefaultCacheThreshold is the minimum confidence for a model result to
	// be written to the persistent cache.
	DefaultCacheThreshold = 0.75
	// DefaultFewShotLimit is the summary length, in bytes, under which the
	// prompt leads with worked examples rather than label definitions.
	DefaultFewShotLimit = 300
	// DefaultModelTimeout is the wall-clock budget for one completion call.
	DefaultModelTimeout = 30 * time.Second
	// DefaultResultTTL is how long a finished analysis stays addressable by
	// its id.
	DefaultResultTTL = 24 * time.Hour
)

var (
	analysisCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "inference",
			Name:      "analyses_total",
			Help:      "Total number of analyses performed, by answering tier.",
		},
		[]string{"source"},
	)
	dedupCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "inference",
			Name:      "deduplicated_total",
			Help:      "Total number of callers that shared an in-flight analysis.",
		},
	)
	cacheWriteCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "netsift",
			Subsystem: "inference",
			Name:      "cache_writes_total",
			Help:      "Total number of persistent cache write attempts.",
		},
		[]string{"success"},
	)
	modelDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "netsift",
			Subsystem: "inference",
			Name:      "model_request_duration_seconds",
			Help:      "Duration of language-model completion calls.",
		},
		[]string{"outcome"},
	)
)

// Options tunes an Engine. The zero value means "use the defaults."
type Options struct {
	// TopK is the number of exemplar neighbors retrieved for the model path.
	TopK int
	// ExemplarFloor is the minimum similarity for a neighbor to be included
	// in the prompt and the confidence computation.
	ExemplarFloor float64
	// CacheThreshold is the minimum confidence for a persistent cache write.
	CacheThreshold float64
	// FewShotLimit routes summaries shorter than this many bytes to the
	// example-led prompt.
	FewShotLimit int
	// ModelTimeout bounds one completion call, wall clock.
	ModelTimeout time.Duration
	// ResultTTL is how long finished analyses stay retrievable by id.
	ResultTTL time.Duration
}

// Engine answers analyze requests.
//
// Use New to construct one; the zero value is not usable.
type Engine struct {
	tax    *taxonomy.Store
	ret    *retriever.Retriever
	cache  datastore.Cache
	client Client
	opts   Options

	sf singleflight.Group

	mu      sync.Mutex
	results map[string]storedAnalysis
}

type storedAnalysis struct {
	a       *netsift.Analysis
	expires time.Time
}

// New returns an Engine using the provided taxonomy, exemplar retriever,
// persistent cache, and model client.
//
// A nil cache disables the persistent tier; a nil client disables the model
// path. Both degrade to the fallback answer rather than erroring.
func New(tax *taxonomy.Store, ret *retriever.Retriever, cache datastore.Cache, client Client, opts Options) *Engine {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.ExemplarFloor <= 0 {
		opts.ExemplarFloor = DefaultExemplarFloor
	}
	if opts.CacheThreshold <= 0 {
		opts.CacheThreshold = DefaultCacheThreshold
	}
	if opts.FewShotLimit <= 0 {
		opts.FewShotLimit = DefaultFewShotLimit
	}
	if opts.ModelTimeout <= 0 {
		opts.ModelTimeout = DefaultModelTimeout
	}
	if opts.ResultTTL <= 0 {
		opts.ResultTTL = DefaultResultTTL
	}
	return &Engine{
		tax:     tax,
		ret:     ret,
		cache:   cache,
		client:  client,
		opts:    opts,
		results: make(map[string]storedAnalysis),
	}
}

// Analyze maps an advisory summary onto the platform's feature labels.
//
// Identical concurrent requests share one execution. The returned Analysis
// is also retrievable by its id via [Engine.Analysis] until the result TTL
// lapses. Model failures and weak retrieval neighborhoods do not error; they
// produce a heuristic answer with NeedsReview set.
func (e *Engine) Analyze(ctx context.Context, summary string, platform netsift.Platform, advisoryID string) (*netsift.Analysis, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "inference/Engine.Analyze")
	if _, err := netsift.ParsePlatform(string(platform)); err != nil {
		return nil, &netsift.Error{
			Op:      "analyze",
			Kind:    netsift.ErrBadInput,
			Message: "unrecognized platform",
			Inner:   err,
		}
	}
	if strings.TrimSpace(summary) == "" && advisoryID == "" {
		return nil, &netsift.Error{
			Op:      "analyze",
			Kind:    netsift.ErrBadInput,
			Message: "need an advisory summary or an advisory id",
		}
	}

	key := requestKey(summary, platform, advisoryID)
	ch := e.sf.DoChan(key, func() (interface{}, error) {
		return e.analyze(ctx, summary, platform, advisoryID)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			dedupCounter.Inc()
		}
		return res.Val.(*netsift.Analysis), nil
	case <-ctx.Done():
		// Let other waiters keep the flight; just stop waiting on it.
		e.sf.Forget(key)
		return nil, &netsift.Error{
			Op:    "analyze",
			Kind:  netsift.ErrTimeout,
			Inner: context.Cause(ctx),
		}
	}
}

// Analysis reports a previously returned analysis by id, if its TTL has not
// lapsed.
func (e *Engine) Analysis(id string) (*netsift.Analysis, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	s, ok := e.results[id]
	if !ok {
		return nil, false
	}
	if time.Now().After(s.expires) {
		delete(e.results, id)
		return nil, false
	}
	return s.a, true
}

// ClearResults drops every retained analysis, reporting how many were
// dropped. The persistent cache is not touched.
func (e *Engine) ClearResults() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	n := len(e.results)
	clear(e.results)
	return n
}

// analyze runs the tier ladder for one deduplicated request.
func (e *Engine) analyze(ctx context.Context, summary string, platform netsift.Platform, advisoryID string) (*netsift.Analysis, error) {
	span := trace.SpanFromContext(ctx)

	// Persistent cache, keyed by (advisory id, platform). Lookup failures
	// other than a miss degrade to the later tiers.
	if advisoryID != "" && e.cache != nil {
		ent, err := e.cache.CacheEntry(ctx, advisoryID, platform)
		switch {
		case errors.Is(err, nil):
			span.SetAttributes(attribute.String("inference.tier", "cache"))
			a := e.newAnalysis(platform, advisoryID, ent.Labels, ent.Confidence, netsift.ConfidenceCache, ent.NeedsReview)
			e.remember(a)
			analysisCounter.WithLabelValues(string(netsift.ConfidenceCache)).Inc()
			zlog.Debug(ctx).
				Str("advisory", advisoryID).
				Msg("cache hit")
			return a, nil
		case errors.Is(err, netsift.ErrNotFound):
		default:
			zlog.Warn(ctx).
				Err(err).
				Str("advisory", advisoryID).
				Msg("cache lookup failed, continuing without it")
		}
	}

	// Exact exemplar: the corpus already knows this advisory's labels.
	if advisoryID != "" {
		if hit, ok := e.ret.Exact(advisoryID, platform); ok {
			span.SetAttributes(attribute.String("inference.tier", "exact"))
			a := e.newAnalysis(platform, advisoryID, hit.Exemplar.Labels, 1.0, netsift.ConfidenceExact, false)
			e.remember(a)
			analysisCounter.WithLabelValues(string(netsift.ConfidenceExact)).Inc()
			zlog.Debug(ctx).
				Str("advisory", advisoryID).
				Msg("exact exemplar hit")
			return a, nil
		}
	}

	// Model path, grounded on retrieved neighbors.
	neighbors := e.ret.TopK(ctx, summary, platform, e.opts.TopK)
	retained := neighbors[:0:0]
	for _, n := range neighbors {
		if n.Similarity >= e.opts.ExemplarFloor {
			retained = append(retained, n)
		}
	}
	span.SetAttributes(
		attribute.Int("inference.neighbors", len(neighbors)),
		attribute.Int("inference.retained", len(retained)),
	)
	if len(retained) == 0 {
		return e.fallback(ctx, platform, advisoryID, neighbors, "no exemplar neighbor cleared the similarity floor"), nil
	}
	if e.client == nil {
		return e.fallback(ctx, platform, advisoryID, neighbors, "no model client configured"), nil
	}

	prompt := buildPrompt(e.tax.Catalog(platform), retained, summary, e.opts.FewShotLimit)
	mctx, cancel := context.WithTimeout(ctx, e.opts.ModelTimeout)
	raw, err := e.complete(mctx, prompt)
	cancel()
	if err != nil {
		zlog.Warn(ctx).
			Err(err).
			Str("advisory", advisoryID).
			Msg("model call failed")
		return e.fallback(ctx, platform, advisoryID, neighbors, "model call failed"), nil
	}
	labels := e.validLabels(ctx, platform, parseLabels(raw))
	if len(labels) == 0 {
		return e.fallback(ctx, platform, advisoryID, neighbors, "model returned no usable labels"), nil
	}

	conf := confidence(retained)
	a := e.newAnalysis(platform, advisoryID, labels, conf, netsift.ConfidenceModel, false)
	e.remember(a)
	analysisCounter.WithLabelValues(string(netsift.ConfidenceModel)).Inc()
	span.SetAttributes(attribute.String("inference.tier", "model"))
	zlog.Info(ctx).
		Str("advisory", advisoryID).
		Strs("labels", labels).
		Float64("confidence", conf).
		Msg("model analysis complete")

	if e.cache != nil && advisoryID != "" && conf >= e.opts.CacheThreshold {
		ent := &netsift.CacheEntry{
			AdvisoryID: advisoryID,
			Platform:   platform,
			Labels:     labels,
			Confidence: conf,
			Source:     netsift.ConfidenceModel,
			Timestamp:  a.CreatedAt,
		}
		if err := e.cache.SetCacheEntry(ctx, ent); err != nil {
			cacheWriteCounter.WithLabelValues("false").Inc()
			zlog.Warn(ctx).
				Err(err).
				Str("advisory", advisoryID).
				Msg("cache write failed")
		} else {
			cacheWriteCounter.WithLabelValues("true").Inc()
		}
	}
	return a, nil
}

// complete calls the model client and records the request duration.
func (e *Engine) complete(ctx context.Context, prompt string) (string, error) {
	start := time.Now()
	raw, err := e.client.Complete(ctx, prompt)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	modelDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return raw, err
}

// fallback is the always-answer tier: nearest-neighbor labels when a usable
// neighbor exists, an empty set otherwise. Never written to the persistent
// cache.
func (e *Engine) fallback(ctx context.Context, platform netsift.Platform, advisoryID string, neighbors []retriever.Result, reason string) *netsift.Analysis {
	var labels []string
	var conf float64
	if len(neighbors) > 0 {
		labels = e.validLabels(ctx, platform, neighbors[0].Exemplar.Labels)
		conf = neighbors[0].Similarity
	}
	a := e.newAnalysis(platform, advisoryID, labels, conf, netsift.ConfidenceHeuristic, true)
	e.remember(a)
	analysisCounter.WithLabelValues(string(netsift.ConfidenceHeuristic)).Inc()
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("inference.tier", "heuristic"))
	zlog.Info(ctx).
		Str("advisory", advisoryID).
		Str("reason", reason).
		Msg("falling back to heuristic answer")
	return a
}

// newAnalysis assembles an Analysis, joining the retained labels back
// against the taxonomy for the verification material.
func (e *Engine) newAnalysis(platform netsift.Platform, advisoryID string, labels []string, conf float64, src netsift.ConfidenceSource, review bool) *netsift.Analysis {
	rx, show := e.deriveVerification(platform, labels)
	if labels == nil {
		labels = []string{}
	}
	return &netsift.Analysis{
		ID:           uuid.NewString(),
		AdvisoryID:   advisoryID,
		Platform:     platform,
		Labels:       labels,
		Confidence:   conf,
		Source:       src,
		NeedsReview:  review,
		ConfigRegex:  rx,
		ShowCommands: show,
		CreatedAt:    time.Now().UTC(),
	}
}

// deriveVerification collects the config patterns and show commands of every
// label known to the taxonomy, deduplicated in label order.
func (e *Engine) deriveVerification(platform netsift.Platform, labels []string) (rx, show []string) {
	seenRx := make(map[string]struct{})
	seenShow := make(map[string]struct{})
	for _, l := range labels {
		ent, ok := e.tax.Lookup(platform, l)
		if !ok {
			continue
		}
		for _, p := range ent.ConfigRegex {
			if _, dup := seenRx[p]; dup {
				continue
			}
			seenRx[p] = struct{}{}
			rx = append(rx, p)
		}
		for _, s := range ent.ShowCommands {
			if _, dup := seenShow[s]; dup {
				continue
			}
			seenShow[s] = struct{}{}
			show = append(show, s)
		}
	}
	return rx, show
}

// validLabels canonicalizes labels against the platform taxonomy, dropping
// unknowns. Matching is case-insensitive because models routinely mangle
// mixed-case ids like "APP_IOx".
func (e *Engine) validLabels(ctx context.Context, platform netsift.Platform, in []string) []string {
	if len(in) == 0 {
		return nil
	}
	canon := make(map[string]string)
	for _, l := range e.tax.Labels(platform) {
		canon[strings.ToUpper(l)] = l
	}
	var out []string
	seen := make(map[string]struct{})
	for _, l := range in {
		c, ok := canon[strings.ToUpper(l)]
		if !ok {
			zlog.Debug(ctx).
				Str("label", l).
				Msg("dropping label not in taxonomy")
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		out = append(out, c)
	}
	return out
}

// remember stores the analysis for Analysis lookups, pruning lapsed entries
// while it holds the lock.
func (e *Engine) remember(a *netsift.Analysis) {
	now := time.Now()
	e.mu.Lock()
	defer e.mu.Unlock()
	for id, s := range e.results {
		if now.After(s.expires) {
			delete(e.results, id)
		}
	}
	e.results[a.ID] = storedAnalysis{a: a, expires: now.Add(e.opts.ResultTTL)}
}

// confidence scores a model answer from its retrieval neighborhood: the
// nearest neighbor carries half the weight, the mean of the rest the other
// half. A single neighbor scores as itself.
func confidence(retained []retriever.Result) float64 {
	switch len(retained) {
	case 0:
		return 0
	case 1:
		return retained[0].Similarity
	}
	var rest float64
	for _, n := range retained[1:] {
		rest += n.Similarity
	}
	rest /= float64(len(retained) - 1)
	return 0.5*retained[0].Similarity + 0.5*rest
}

// requestKey collapses identical concurrent requests onto one flight.
func requestKey(summary string, platform netsift.Platform, advisoryID string) string {
	h := sha256.New()
	h.Write([]byte(summary))
	h.Write([]byte{0})
	h.Write([]byte(platform))
	h.Write([]byte{0})
	h.Write([]byte(advisoryID))
	return hex.EncodeToString(h.Sum(nil))
}
