package netsift

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type parseTestcase struct {
	Name string
	In   string
	Want Version
	Err  bool
}

func (tc parseTestcase) Run(t *testing.T) {
	got, err := ParseVersion(tc.In)
	if tc.Err {
		if err == nil {
			t.Fatalf("expected error for %q, got %v", tc.In, got)
		}
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(tc.Want, got) {
		t.Error(cmp.Diff(tc.Want, got))
	}
}

var parsett = []parseTestcase{
	{
		Name: "Simple",
		In:   "17.10.1",
		Want: Version{Major: 17, Minor: 10, Patch: 1, Display: "17.10.1"},
	},
	{
		Name: "LeadingZeros",
		In:   "17.03.05",
		Want: Version{Major: 17, Minor: 3, Patch: 5, Display: "17.03.05"},
	},
	{
		Name: "TrailingSuffix",
		In:   "17.3.1a",
		Want: Version{Major: 17, Minor: 3, Patch: 1, Display: "17.3.1a"},
	},
	{
		Name: "NoPatch",
		In:   "17.10",
		Want: Version{Major: 17, Minor: 10, Display: "17.10"},
	},
	{
		Name: "Whitespace",
		In:   "  9.16.4 ",
		Want: Version{Major: 9, Minor: 16, Patch: 4, Display: "9.16.4"},
	},
	{
		Name: "ParenSuffix",
		In:   "9.3(5)",
		Want: Version{Major: 9, Minor: 3, Display: "9.3(5)"},
	},
	{
		Name: "NoNumeric",
		In:   "unknown",
		Err:  true,
	},
	{
		Name: "Empty",
		In:   "",
		Err:  true,
	},
}

func TestParseVersion(t *testing.T) {
	for _, tc := range parsett {
		t.Run(tc.Name, tc.Run)
	}
}

func TestVersionRoundTrip(t *testing.T) {
	// Normalizing the display of a normalized version is the identity.
	for _, s := range []string{"17.10.1", "17.03.05", "17.3.1a", "17.10", "9.16.4"} {
		v, err := ParseVersion(s)
		if err != nil {
			t.Fatal(err)
		}
		again, err := ParseVersion(v.String())
		if err != nil {
			t.Fatal(err)
		}
		if !v.EqualTriple(again) {
			t.Errorf("%q: round-trip changed triple: %v vs %v", s, v, again)
		}
		if got := again.String(); got != s {
			t.Errorf("%q: display not preserved, got %q", s, got)
		}
	}
}

func TestVersionCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int
	}{
		{"17.10.1", "17.10.1", 0},
		{"17.03.05", "17.3.5", 0},
		{"17.10.1", "17.10.2", -1},
		{"17.10.9999", "17.11.0", -1},
		{"17.10", "17.10.0", 0},
		{"18.0.0", "17.99.99", 1},
		{"17.3.1a", "17.3.1", 0},
	}
	for _, c := range cases {
		a, b := MustVersion(c.a), MustVersion(c.b)
		if got := a.Compare(b); got != c.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", c.a, c.b, got, c.want)
		}
		if got := b.Compare(a); got != -c.want {
			t.Errorf("Compare(%s, %s) = %d, want %d", c.b, c.a, got, -c.want)
		}
	}
}

func TestVersionMarshal(t *testing.T) {
	v := MustVersion("17.03.05")
	b, err := v.MarshalText()
	if err != nil {
		t.Fatal(err)
	}
	if string(b) != "17.03.05" {
		t.Errorf("marshal lost display: %q", b)
	}
	var got Version
	if err := got.UnmarshalText(b); err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(v, got) {
		t.Error(cmp.Diff(v, got))
	}
}
