// Package taxonomy loads and serves the platform-scoped feature label
// catalogs.
//
// A taxonomy maps (platform, label) to the label's definitions, its
// configuration-detection regex, and the show commands that verify it on a
// live device. The catalog is data, not code: labels carry no behavior, and
// a taxonomy change is a data change.
//
// The store is immutable after a successful load; changing the catalog
// requires a process restart. A load failure for any platform is fatal.
package taxonomy

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/quay/zlog"

	"github.com/netsift/netsift"
)

//go:embed defaults/*.json
var defaults embed.FS

// Entry is one loaded label with its detection patterns compiled.
//
// Patterns are compiled in multiline mode, so an anchored pattern matches at
// any line start within a configuration blob. Authors must anchor patterns to
// configuration context: a pattern loose enough to fire on an ornamental
// mention (an SNMP trap line naming a protocol that is not configured) is a
// catalog bug.
type Entry struct {
	netsift.TaxonomyEntry

	// Patterns holds the compiled forms of ConfigRegex, index-aligned.
	Patterns []*regexp.Regexp
}

// Store is the loaded, immutable label catalog for all platforms.
type Store struct {
	entries map[netsift.Platform][]*Entry
	byLabel map[netsift.Platform]map[string]*Entry
}

// platformFile is the on-disk shape of one platform's catalog.
type platformFile struct {
	Platform netsift.Platform        `json:"platform"`
	Labels   []netsift.TaxonomyEntry `json:"labels"`
}

// Load reads every "*.json" file in the provided filesystem and builds the
// catalog.
//
// Each file declares exactly one platform. Any parse error, unknown platform,
// duplicate platform, duplicate label, or regex compile failure fails the
// whole load: a process should not come up with a partial catalog.
func Load(ctx context.Context, sys fs.FS) (*Store, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "taxonomy/Load")
	names, err := fs.Glob(sys, "*.json")
	if err != nil {
		return nil, fmt.Errorf("taxonomy: bad glob: %w", err)
	}
	if len(names) == 0 {
		return nil, fmt.Errorf("taxonomy: no catalog files found")
	}
	sort.Strings(names)

	s := Store{
		entries: make(map[netsift.Platform][]*Entry),
		byLabel: make(map[netsift.Platform]map[string]*Entry),
	}
	for _, name := range names {
		b, err := fs.ReadFile(sys, name)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: reading %q: %w", name, err)
		}
		var pf platformFile
		if err := json.Unmarshal(b, &pf); err != nil {
			return nil, fmt.Errorf("taxonomy: parsing %q: %w", name, err)
		}
		if _, err := netsift.ParsePlatform(string(pf.Platform)); err != nil {
			return nil, fmt.Errorf("taxonomy: %q: %w", name, err)
		}
		if _, ok := s.entries[pf.Platform]; ok {
			return nil, fmt.Errorf("taxonomy: %q: duplicate catalog for platform %q", name, pf.Platform)
		}
		es, err := compile(ctx, pf.Platform, pf.Labels)
		if err != nil {
			return nil, fmt.Errorf("taxonomy: %q: %w", name, err)
		}
		s.entries[pf.Platform] = es
		byLabel := make(map[string]*Entry, len(es))
		for _, e := range es {
			byLabel[e.Label] = e
		}
		s.byLabel[pf.Platform] = byLabel
		zlog.Debug(ctx).
			Str("file", name).
			Str("platform", string(pf.Platform)).
			Int("labels", len(es)).
			Msg("catalog loaded")
	}
	return &s, nil
}

// LoadDir is Load over an on-disk directory.
func LoadDir(ctx context.Context, dir string) (*Store, error) {
	return Load(ctx, os.DirFS(dir))
}

// Default returns the store built from the embedded catalogs.
func Default(ctx context.Context) (*Store, error) {
	sys, err := fs.Sub(defaults, "defaults")
	if err != nil {
		panic(fmt.Errorf("programmer error: %w", err)) // embed layout is fixed
	}
	return Load(ctx, sys)
}

func compile(ctx context.Context, p netsift.Platform, raw []netsift.TaxonomyEntry) ([]*Entry, error) {
	seen := make(map[string]struct{}, len(raw))
	es := make([]*Entry, 0, len(raw))
	for i := range raw {
		te := raw[i]
		if te.Label == "" {
			return nil, fmt.Errorf("entry %d: empty label", i)
		}
		if _, ok := seen[te.Label]; ok {
			return nil, fmt.Errorf("duplicate label %q", te.Label)
		}
		seen[te.Label] = struct{}{}
		te.Platform = p
		if len(te.ConfigRegex) == 0 {
			return nil, fmt.Errorf("label %q: no config regex", te.Label)
		}
		e := Entry{TaxonomyEntry: te}
		for _, pat := range te.ConfigRegex {
			if !strings.HasPrefix(pat, "^") {
				// Not fatal, but almost certainly a catalog bug waiting for
				// an ornamental mention to fire on.
				zlog.Warn(ctx).
					Str("platform", string(p)).
					Str("label", te.Label).
					Str("pattern", pat).
					Msg("config pattern is not anchored to a line start")
			}
			re, err := regexp.Compile(`(?m)` + pat)
			if err != nil {
				return nil, fmt.Errorf("label %q: pattern %q: %w", te.Label, pat, err)
			}
			e.Patterns = append(e.Patterns, re)
		}
		es = append(es, &e)
	}
	sort.Slice(es, func(i, j int) bool { return es[i].Label < es[j].Label })
	return es, nil
}

// Lookup reports the entry for (platform, label), if any.
func (s *Store) Lookup(p netsift.Platform, label string) (*Entry, bool) {
	e, ok := s.byLabel[p][label]
	return e, ok
}

// Entries reports all entries for the platform, sorted by label. The
// returned slice must not be modified.
func (s *Store) Entries(p netsift.Platform) []*Entry {
	return s.entries[p]
}

// Labels reports the label set for the platform, sorted.
func (s *Store) Labels(p netsift.Platform) []string {
	es := s.entries[p]
	out := make([]string, len(es))
	for i, e := range es {
		out[i] = e.Label
	}
	return out
}

// Platforms reports every platform with a loaded catalog, in a stable order.
func (s *Store) Platforms() []netsift.Platform {
	out := make([]netsift.Platform, 0, len(s.entries))
	for p := range s.entries {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Catalog reports the raw entries for the platform, for API listings.
func (s *Store) Catalog(p netsift.Platform) []netsift.TaxonomyEntry {
	es := s.entries[p]
	out := make([]netsift.TaxonomyEntry, len(es))
	for i, e := range es {
		out[i] = e.TaxonomyEntry
	}
	return out
}
