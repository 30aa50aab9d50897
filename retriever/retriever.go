// Package retriever serves nearest-neighbor lookups over the labeled
// exemplar corpus.
//
// Texts embed into fixed-dimension vectors by feature hashing: each token
// hashes to a bucket and a sign, the buckets accumulate, and the result is
// L2-normalized so cosine similarity reduces to a dot product. The corpus is
// small enough that brute force beats any index; queries scan every entry
// and keep the top k. Corpus swaps are atomic, so readers always see a
// complete corpus.
package retriever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"io"
	"math"
	"os"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/quay/zlog"

	"github.com/netsift/netsift"
)

// DefaultDim is the embedding width used when none is configured.
const DefaultDim = 256

// Result is one retrieved neighbor.
type Result struct {
	Exemplar   netsift.Exemplar
	Similarity float64
}

type indexed struct {
	ex  netsift.Exemplar
	vec []float64
}

type corpus struct {
	entries []indexed
	byID    map[string]int
}

// Retriever answers top-k similarity queries over the current corpus.
type Retriever struct {
	dim int
	cur atomic.Pointer[corpus]
}

// New returns an empty Retriever with the given embedding width; dim <= 0
// selects DefaultDim.
func New(dim int) *Retriever {
	if dim <= 0 {
		dim = DefaultDim
	}
	r := Retriever{dim: dim}
	r.cur.Store(&corpus{byID: map[string]int{}})
	return &r
}

// Rebuild replaces the corpus wholesale. In-flight queries finish against
// the corpus they started with.
func (r *Retriever) Rebuild(ctx context.Context, exemplars []netsift.Exemplar) {
	ctx = zlog.ContextWithValues(ctx, "component", "retriever/Retriever.Rebuild")
	c := corpus{
		entries: make([]indexed, 0, len(exemplars)),
		byID:    make(map[string]int, len(exemplars)),
	}
	for _, ex := range exemplars {
		c.byID[ex.ID] = len(c.entries)
		c.entries = append(c.entries, indexed{ex: ex, vec: r.embed(ex.Summary)})
	}
	r.cur.Store(&c)
	zlog.Info(ctx).Int("exemplars", len(c.entries)).Msg("corpus rebuilt")
}

// LoadFile reads a JSON-lines corpus (one exemplar object per line) and
// rebuilds. Unknown platforms fail the load: a corpus should not come up
// partially usable.
func (r *Retriever) LoadFile(ctx context.Context, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("retriever: opening corpus: %w", err)
	}
	defer f.Close()
	return r.Load(ctx, f)
}

// Load is LoadFile over a reader.
func (r *Retriever) Load(ctx context.Context, rd io.Reader) error {
	dec := json.NewDecoder(rd)
	var exemplars []netsift.Exemplar
	for {
		var ex netsift.Exemplar
		err := dec.Decode(&ex)
		switch {
		case errors.Is(err, nil):
		case errors.Is(err, io.EOF):
			r.Rebuild(ctx, exemplars)
			return nil
		default:
			return fmt.Errorf("retriever: decoding corpus record %d: %w", len(exemplars), err)
		}
		if _, err := netsift.ParsePlatform(string(ex.Platform)); err != nil {
			return fmt.Errorf("retriever: corpus record %q: %w", ex.ID, err)
		}
		if ex.ID == "" {
			return fmt.Errorf("retriever: corpus record %d has no id", len(exemplars))
		}
		exemplars = append(exemplars, ex)
	}
}

// Len reports the size of the current corpus.
func (r *Retriever) Len() int {
	return len(r.cur.Load().entries)
}

// Exact reports the exemplar with the given advisory id on the platform, as
// a similarity-1.0 result. This is the exact-match shortcut: an advisory
// that is itself in the corpus needs no inference.
func (r *Retriever) Exact(advisoryID string, platform netsift.Platform) (Result, bool) {
	if advisoryID == "" {
		return Result{}, false
	}
	c := r.cur.Load()
	i, ok := c.byID[advisoryID]
	if !ok || c.entries[i].ex.Platform != platform {
		return Result{}, false
	}
	return Result{Exemplar: c.entries[i].ex, Similarity: 1.0}, true
}

// TopK reports the k nearest exemplars to the text, platform-filtered.
//
// The k nearest are selected over the whole corpus first and the platform
// filter applies to that selection, so fewer than k results can come back
// when near neighbors live on other platforms.
func (r *Retriever) TopK(ctx context.Context, text string, platform netsift.Platform, k int) []Result {
	if k <= 0 {
		return nil
	}
	c := r.cur.Load()
	if len(c.entries) == 0 {
		return nil
	}
	q := r.embed(text)
	scored := make([]Result, 0, len(c.entries))
	for i := range c.entries {
		scored = append(scored, Result{
			Exemplar:   c.entries[i].ex,
			Similarity: dot(q, c.entries[i].vec),
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Similarity != scored[j].Similarity {
			return scored[i].Similarity > scored[j].Similarity
		}
		return scored[i].Exemplar.ID < scored[j].Exemplar.ID
	})
	if len(scored) > k {
		scored = scored[:k]
	}
	out := scored[:0]
	for _, s := range scored {
		if s.Exemplar.Platform == platform {
			out = append(out, s)
		}
	}
	zlog.Debug(ctx).
		Int("k", k).
		Int("returned", len(out)).
		Msg("retrieval complete")
	return out
}

// embed maps text to an L2-normalized feature-hashed vector. Deterministic:
// the same text always embeds identically.
func (r *Retriever) embed(text string) []float64 {
	vec := make([]float64, r.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		io.WriteString(h, tok)
		sum := h.Sum64()
		bucket := int(sum % uint64(r.dim))
		if sum&(1<<63) != 0 {
			vec[bucket]--
		} else {
			vec[bucket]++
		}
	}
	var norm float64
	for _, x := range vec {
		norm += x * x
	}
	if norm == 0 {
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] /= norm
	}
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !(r >= 'a' && r <= 'z') && !(r >= '0' && r <= '9')
	})
}

func dot(a, b []float64) float64 {
	var sum float64
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}
