package netsift

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// VersionPattern classifies how an affected-versions declaration is to be
// interpreted.
type VersionPattern int

const (
	PatternInvalid VersionPattern = iota
	// PatternExplicit is a whitespace/comma-separated list of full versions.
	PatternExplicit
	// PatternWildcard is "17.10.x": fixed major.minor, any patch.
	PatternWildcard
	// PatternOpenLater is "17.10.3 and later": inclusive lower bound, same
	// train as the bound.
	PatternOpenLater
	// PatternOpenEarlier is "17.10.3 and earlier": inclusive upper bound,
	// same train as the bound.
	PatternOpenEarlier
	// PatternMinorWildcard is "17.10 and later": major.minor floor, spans
	// trains forward.
	PatternMinorWildcard
	// PatternMajorWildcard is "17.x": any minor or patch within the major.
	PatternMajorWildcard
)

var patternNames = map[VersionPattern]string{
	PatternInvalid:       "invalid",
	PatternExplicit:      "explicit",
	PatternWildcard:      "wildcard",
	PatternOpenLater:     "open-later",
	PatternOpenEarlier:   "open-earlier",
	PatternMinorWildcard: "minor-wildcard",
	PatternMajorWildcard: "major-wildcard",
}

func (p VersionPattern) String() string {
	if s, ok := patternNames[p]; ok {
		return s
	}
	return fmt.Sprintf("pattern(%d)", int(p))
}

// ParsePattern is the inverse of String, used when loading stored rows.
func ParsePattern(s string) VersionPattern {
	for p, n := range patternNames {
		if n == s {
			return p
		}
	}
	return PatternInvalid
}

// VersionSpan describes which versions a vulnerability claims to affect: the
// verbatim declaration, its classification, and the bounds or members the
// classification needs. FixedIn, when present, caps every pattern: a device
// at or above the fix is never affected.
type VersionSpan struct {
	Raw      string
	Pattern  VersionPattern
	Min      *Version
	Max      *Version
	Explicit []Version
	FixedIn  *Version
}

var (
	wildcardRE      = regexp.MustCompile(`^(\d+)\.(\d+)\.[xX*]$`)
	majorWildcardRE = regexp.MustCompile(`^(\d+)\.[xX*]$`)
	laterRE         = regexp.MustCompile(`(?i)^(.*?)\s+and\s+later\s*$`)
	earlierRE       = regexp.MustCompile(`(?i)^(.*?)\s+and\s+earlier\s*$`)
)

// ClassifyAffected classifies a raw affected-versions declaration.
//
// An explicit list wins only when every token normalizes cleanly; otherwise
// keyword forms ("and later", "and earlier", trailing ".x") are consulted. A
// keyword form without a parseable version is a classification failure: the
// caller must fall back to text-only matching rather than guess a range.
func ClassifyAffected(raw string) (VersionSpan, error) {
	s := strings.TrimSpace(raw)
	span := VersionSpan{Raw: raw}
	if s == "" {
		return span, &Error{Kind: ErrBadInput, Message: "empty affected-versions declaration"}
	}

	// Explicit list: all tokens must be full versions.
	if vs, ok := explicitList(s); ok {
		span.Pattern = PatternExplicit
		span.Explicit = vs
		return span, nil
	}

	if m := laterRE.FindStringSubmatch(s); m != nil {
		v, parts, err := parseVersionTokens(m[1])
		if err != nil {
			return span, &Error{Kind: ErrBadInput, Message: fmt.Sprintf("unclassifiable declaration %q", raw), Inner: err}
		}
		v.Display = strings.TrimSpace(m[1])
		b := v
		if parts <= 2 {
			span.Pattern = PatternMinorWildcard
		} else {
			span.Pattern = PatternOpenLater
		}
		span.Min = &b
		return span, nil
	}
	if m := earlierRE.FindStringSubmatch(s); m != nil {
		v, parts, err := parseVersionTokens(m[1])
		if err != nil {
			return span, &Error{Kind: ErrBadInput, Message: fmt.Sprintf("unclassifiable declaration %q", raw), Inner: err}
		}
		v.Display = strings.TrimSpace(m[1])
		b := v
		span.Max = &b
		if parts <= 2 {
			// "17.10 and earlier" has no patch to bound on; the whole train
			// is in scope. Evaluated as train membership plus the cap.
			span.Pattern = PatternWildcard
			span.Min = &b
			return span, nil
		}
		span.Pattern = PatternOpenEarlier
		return span, nil
	}
	if m := wildcardRE.FindStringSubmatch(s); m != nil {
		v, _, err := parseVersionTokens(m[1] + "." + m[2])
		if err != nil {
			return span, err
		}
		v.Display = s
		span.Pattern = PatternWildcard
		span.Min = &v
		return span, nil
	}
	if m := majorWildcardRE.FindStringSubmatch(s); m != nil {
		v, _, err := parseVersionTokens(m[1])
		if err != nil {
			return span, err
		}
		v.Display = s
		span.Pattern = PatternMajorWildcard
		span.Min = &v
		return span, nil
	}

	return span, &Error{Kind: ErrBadInput, Message: fmt.Sprintf("unclassifiable declaration %q", raw)}
}

// explicitList splits on whitespace and commas and normalizes every token.
// It reports ok=false as soon as any token fails, which is what lets keyword
// declarations ("17.10.1 and later") fall through to keyword classification.
func explicitList(s string) ([]Version, bool) {
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return r == ',' || r == ' ' || r == '\t' || r == '\n'
	})
	if len(fields) == 0 {
		return nil, false
	}
	vs := make([]Version, 0, len(fields))
	for _, f := range fields {
		if wildcardRE.MatchString(f) || majorWildcardRE.MatchString(f) {
			return nil, false
		}
		v, err := ParseVersion(f)
		if err != nil {
			return nil, false
		}
		vs = append(vs, v)
	}
	return vs, true
}

// Affected decides whether a device at version "d" falls inside the span.
//
// The returned reason is a short human string used in reports; it is never
// empty when the decision is true, and carries the fix version when the fix
// gate is what cleared the device.
//
// A span that defeated classification (PatternInvalid) falls back to
// text-only matching against the verbatim declaration.
func (s *VersionSpan) Affected(d Version) (bool, string) {
	if s.FixedIn != nil && d.Compare(*s.FixedIn) >= 0 {
		return false, fmt.Sprintf("fixed in %s and later", s.FixedIn)
	}
	switch s.Pattern {
	case PatternInvalid:
		return s.textMatch(d)
	case PatternExplicit:
		for _, v := range s.Explicit {
			if d.EqualTriple(v) {
				return true, fmt.Sprintf("matches listed version %s", v)
			}
		}
		return false, "not in listed versions"
	case PatternWildcard:
		if s.Min != nil && d.SameTrain(*s.Min) {
			return true, fmt.Sprintf("within the %d.%d train", s.Min.Major, s.Min.Minor)
		}
		return false, "outside affected train"
	case PatternOpenLater:
		if s.Min != nil && d.SameTrain(*s.Min) && d.Compare(*s.Min) >= 0 {
			return true, fmt.Sprintf("%s or later in train", s.Min)
		}
		return false, "below affected floor or outside train"
	case PatternOpenEarlier:
		if s.Max != nil && d.SameTrain(*s.Max) && d.Compare(*s.Max) <= 0 {
			return true, fmt.Sprintf("%s or earlier in train", s.Max)
		}
		return false, "above affected ceiling or outside train"
	case PatternMinorWildcard:
		if s.Min != nil && d.Compare(Version{Major: s.Min.Major, Minor: s.Min.Minor}) >= 0 {
			return true, fmt.Sprintf("%d.%d or later", s.Min.Major, s.Min.Minor)
		}
		return false, "below affected floor"
	case PatternMajorWildcard:
		if s.Min != nil && d.Major == s.Min.Major {
			return true, fmt.Sprintf("within major version %d", s.Min.Major)
		}
		return false, "outside affected major version"
	}
	return false, "unclassified affected-versions declaration"
}

// textMatch compares the device version against every version-shaped token
// in the raw declaration. Tokens compare by normalized triple, never by
// substring, so "17.1" does not ride along on a "17.10.1" mention.
func (s *VersionSpan) textMatch(d Version) (bool, string) {
	if strings.TrimSpace(s.Raw) == "" {
		return false, "no affected-versions declaration"
	}
	for _, f := range strings.FieldsFunc(s.Raw, func(r rune) bool {
		return !(r >= '0' && r <= '9') && r != '.' && !(r >= 'a' && r <= 'z') && !(r >= 'A' && r <= 'Z')
	}) {
		if f == "" || f[0] < '0' || f[0] > '9' {
			continue
		}
		v, err := ParseVersion(f)
		if err != nil {
			continue
		}
		if d.EqualTriple(v) {
			return true, fmt.Sprintf("version %s named in affected-versions text", f)
		}
	}
	return false, "version not named in affected-versions text"
}

// IndexTuples expands the span into coarse (major, minor, patch) cover rows
// for the version index. A -1 component means "any". The expansion is a
// superset of the versions Affected accepts: index hits are always re-checked
// precisely.
//
// Unclassifiable spans get the open row: they surface as candidates for
// every version and the text fallback decides.
func (s *VersionSpan) IndexTuples() [][3]int {
	switch s.Pattern {
	case PatternInvalid:
		return [][3]int{{-1, -1, -1}}
	case PatternExplicit:
		out := make([][3]int, 0, len(s.Explicit))
		for _, v := range s.Explicit {
			out = append(out, [3]int{v.Major, v.Minor, v.Patch})
		}
		return out
	case PatternWildcard, PatternOpenLater, PatternOpenEarlier:
		if s.Min != nil {
			return [][3]int{{s.Min.Major, s.Min.Minor, -1}}
		}
		if s.Max != nil {
			return [][3]int{{s.Max.Major, s.Max.Minor, -1}}
		}
	case PatternMajorWildcard:
		if s.Min != nil {
			return [][3]int{{s.Min.Major, -1, -1}}
		}
	case PatternMinorWildcard:
		// The floor crosses trains and majors; only the open row covers it.
		return [][3]int{{-1, -1, -1}}
	}
	return nil
}

// MarshalJSON renders the span in its wire form: the verbatim declaration,
// the pattern name, and whichever bounds the pattern carries, all in display
// spelling. The wire form is read-only; loads reconstruct spans from the
// stored columns, not from this shape.
func (s VersionSpan) MarshalJSON() ([]byte, error) {
	w := struct {
		Raw      string   `json:"raw"`
		Pattern  string   `json:"pattern"`
		Min      string   `json:"min,omitempty"`
		Max      string   `json:"max,omitempty"`
		Explicit []string `json:"explicit,omitempty"`
		FixedIn  string   `json:"fixed_in,omitempty"`
	}{
		Raw:     s.Raw,
		Pattern: s.Pattern.String(),
	}
	if s.Min != nil {
		w.Min = s.Min.String()
	}
	if s.Max != nil {
		w.Max = s.Max.String()
	}
	if s.FixedIn != nil {
		w.FixedIn = s.FixedIn.String()
	}
	for _, v := range s.Explicit {
		w.Explicit = append(w.Explicit, v.String())
	}
	return json.Marshal(&w)
}
