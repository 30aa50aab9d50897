package httpapi

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Category is an endpoint rate class. Endpoints that do expensive work
// (model inference, SSH sessions, catalog scans) get tighter budgets than
// plain reads.
type Category string

// Recognized categories.
const (
	CatDefault Category = "default"
	CatAnalyze Category = "analyze"
	CatVerify  Category = "verify"
	CatScan    Category = "scan"
)

// Limits maps categories onto per-window request caps. A category absent
// from the map falls back to CatDefault's cap; a cap of zero or less
// disables limiting for that category.
type Limits map[Category]int

// DefaultLimits are per-window caps sized for a single interactive UI
// against one process.
var DefaultLimits = Limits{
	CatDefault: 120,
	CatAnalyze: 30,
	CatVerify:  30,
	CatScan:    60,
}

// DefaultWindow is the limiter window when the configuration carries none.
const DefaultWindow = time.Minute

var limitedCounter = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "netsift",
		Subsystem: "httpapi",
		Name:      "ratelimited_total",
		Help:      "Total number of requests rejected by the rate limiter.",
	},
	[]string{"category"},
)

// Limiter is a sliding-window rate limiter keyed by (client, category).
//
// It keeps two fixed windows per key and weights the previous window by its
// overlap with a sliding window ending now. State per key never exceeds the
// two counters.
type Limiter struct {
	window time.Duration
	limits Limits

	mu      sync.Mutex
	buckets map[bucketKey]*bucket

	// now is replaceable by tests.
	now func() time.Time
}

type bucketKey struct {
	client   string
	category Category
}

type bucket struct {
	start time.Time
	prev  int
	cur   int
}

// maxBuckets caps the key set; crossing it prunes keys idle for two full
// windows before inserting.
const maxBuckets = 8192

// NewLimiter returns a Limiter over the given window. The provided limits
// overlay DefaultLimits, so a partial map only changes the named
// categories.
func NewLimiter(window time.Duration, limits Limits) *Limiter {
	if window <= 0 {
		window = DefaultWindow
	}
	l := &Limiter{
		window:  window,
		limits:  make(Limits, len(DefaultLimits)),
		buckets: make(map[bucketKey]*bucket),
		now:     time.Now,
	}
	for c, n := range DefaultLimits {
		l.limits[c] = n
	}
	for c, n := range limits {
		l.limits[c] = n
	}
	return l
}

// Allow reports whether one more request from the client fits the
// category's cap, counting the request when it does.
func (l *Limiter) Allow(client string, cat Category) bool {
	limit, ok := l.limits[cat]
	if !ok {
		limit = l.limits[CatDefault]
	}
	if limit <= 0 {
		return true
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	start := now.Truncate(l.window)
	k := bucketKey{client: client, category: cat}
	b := l.buckets[k]
	switch {
	case b == nil:
		if len(l.buckets) >= maxBuckets {
			l.prune(start)
		}
		b = &bucket{start: start}
		l.buckets[k] = b
	case b.start.Equal(start):
		// Same window.
	case b.start.Add(l.window).Equal(start):
		b.prev, b.cur, b.start = b.cur, 0, start
	default:
		// The key sat idle across at least one whole window.
		b.prev, b.cur, b.start = 0, 0, start
	}

	carry := 1 - float64(now.Sub(start))/float64(l.window)
	if float64(b.cur)+carry*float64(b.prev) >= float64(limit) {
		limitedCounter.WithLabelValues(string(cat)).Inc()
		return false
	}
	b.cur++
	return true
}

// prune drops buckets idle for two full windows. Callers hold mu.
func (l *Limiter) prune(start time.Time) {
	cut := start.Add(-2 * l.window)
	for k, b := range l.buckets {
		if b.start.Before(cut) {
			delete(l.buckets, k)
		}
	}
}
