package netsift

import (
	"fmt"
	"strconv"
	"strings"
)

// Version is a normalized network OS version.
//
// Normalization splits on dots, strips leading zeros, and discards trailing
// non-numeric suffixes ("17.03.05" → 17.3.5, "17.3.1a" → 17.3.1). The
// original spelling is preserved in Display; comparison only ever considers
// the numeric triple, with an absent patch comparing as 0.
type Version struct {
	Major, Minor, Patch int
	// Display is the spelling the version arrived with. Empty for versions
	// constructed programmatically.
	Display string
}

// ParseVersion normalizes a raw version string.
//
// It fails with an ErrBadInput error when no numeric tokens can be found.
func ParseVersion(s string) (Version, error) {
	v, _, err := parseVersionTokens(s)
	if err != nil {
		return Version{}, err
	}
	v.Display = strings.TrimSpace(s)
	return v, nil
}

// parseVersionTokens normalizes "s" and additionally reports how many numeric
// components were present, which range classification needs to tell
// "17.10.3 and later" (train-scoped) from "17.10 and later" (train-crossing).
func parseVersionTokens(s string) (Version, int, error) {
	var v Version
	fields := strings.Split(strings.TrimSpace(s), ".")
	nums := make([]int, 0, 3)
	for _, f := range fields {
		// Take the leading digit run of the token; a token with no leading
		// digits ends the version ("1a" contributes 1, "x" contributes
		// nothing and stops the scan).
		i := 0
		for i < len(f) && f[i] >= '0' && f[i] <= '9' {
			i++
		}
		if i == 0 {
			break
		}
		n, err := strconv.Atoi(f[:i])
		if err != nil {
			return v, 0, &Error{Kind: ErrBadInput, Message: fmt.Sprintf("bad version %q", s), Inner: err}
		}
		nums = append(nums, n)
		if i != len(f) {
			// Trailing non-numeric suffix: normalization stops here.
			break
		}
		if len(nums) == 3 {
			break
		}
	}
	if len(nums) == 0 {
		return v, 0, &Error{Kind: ErrBadInput, Message: fmt.Sprintf("bad version %q: no numeric tokens", s)}
	}
	v.Major = nums[0]
	if len(nums) > 1 {
		v.Minor = nums[1]
	}
	if len(nums) > 2 {
		v.Patch = nums[2]
	}
	return v, len(nums), nil
}

// MustVersion is ParseVersion for static strings; it panics on error.
func MustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String reports the original spelling when known, or the dotted triple.
func (v Version) String() string {
	if v.Display != "" {
		return v.Display
	}
	var buf strings.Builder
	b := make([]byte, 0, 8)
	buf.Write(strconv.AppendInt(b, int64(v.Major), 10))
	buf.WriteByte('.')
	buf.Write(strconv.AppendInt(b, int64(v.Minor), 10))
	buf.WriteByte('.')
	buf.Write(strconv.AppendInt(b, int64(v.Patch), 10))
	return buf.String()
}

// MarshalText implements encoding.TextMarshaler.
func (v Version) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Version) UnmarshalText(text []byte) error {
	p, err := ParseVersion(string(text))
	if err != nil {
		return err
	}
	*v = p
	return nil
}

// Compare returns an integer describing the relationship of two Versions.
//
// The result will be 0 if v==x, -1 if v < x, and +1 if v > x. Ordering is
// lexicographic on (major, minor, patch); Display never participates.
func (v Version) Compare(x Version) int {
	switch {
	case v.Major != x.Major:
		if v.Major < x.Major {
			return -1
		}
		return 1
	case v.Minor != x.Minor:
		if v.Minor < x.Minor {
			return -1
		}
		return 1
	case v.Patch != x.Patch:
		if v.Patch < x.Patch {
			return -1
		}
		return 1
	}
	return 0
}

// EqualTriple reports numeric equality, ignoring Display.
func (v Version) EqualTriple(x Version) bool {
	return v.Compare(x) == 0
}

// SameTrain reports whether both versions sit in the same major.minor train.
func (v Version) SameTrain(x Version) bool {
	return v.Major == x.Major && v.Minor == x.Minor
}

// VersionSort returns a function suitable for passing to sort.Slice.
func VersionSort(vs []Version) func(int, int) bool {
	return func(i, j int) bool { return vs[i].Compare(vs[j]) == -1 }
}
