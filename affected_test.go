package netsift

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

type classifyTestcase struct {
	Name string
	In   string
	Want VersionPattern
	Err  bool
}

func (tc classifyTestcase) Run(t *testing.T) {
	got, err := ClassifyAffected(tc.In)
	if tc.Err {
		if err == nil {
			t.Fatalf("expected classification failure for %q, got %v", tc.In, got.Pattern)
		}
		return
	}
	if err != nil {
		t.Fatal(err)
	}
	if got.Pattern != tc.Want {
		t.Errorf("ClassifyAffected(%q) = %v, want %v", tc.In, got.Pattern, tc.Want)
	}
	if got.Raw != tc.In {
		t.Errorf("raw declaration not preserved: %q", got.Raw)
	}
}

var classifytt = []classifyTestcase{
	{
		Name: "ExplicitSingle",
		In:   "17.10.1",
		Want: PatternExplicit,
	},
	{
		Name: "ExplicitList",
		In:   "17.10.1 17.12.4",
		Want: PatternExplicit,
	},
	{
		Name: "ExplicitCommas",
		In:   "17.10.1, 17.12.4, 17.3.5",
		Want: PatternExplicit,
	},
	{
		Name: "Wildcard",
		In:   "17.10.x",
		Want: PatternWildcard,
	},
	{
		Name: "WildcardStar",
		In:   "17.10.*",
		Want: PatternWildcard,
	},
	{
		Name: "OpenLater",
		In:   "17.10.3 and later",
		Want: PatternOpenLater,
	},
	{
		Name: "OpenEarlier",
		In:   "17.10.3 and earlier",
		Want: PatternOpenEarlier,
	},
	{
		Name: "MinorWildcard",
		In:   "17.10 and later",
		Want: PatternMinorWildcard,
	},
	{
		Name: "MajorWildcard",
		In:   "17.x",
		Want: PatternMajorWildcard,
	},
	{
		Name: "BareLater",
		In:   "and later",
		Err:  true,
	},
	{
		Name: "BareEarlier",
		In:   "and earlier",
		Err:  true,
	},
	{
		Name: "Empty",
		In:   "",
		Err:  true,
	},
	{
		Name: "Garbage",
		In:   "all versions",
		Err:  true,
	},
}

func TestClassifyAffected(t *testing.T) {
	for _, tc := range classifytt {
		t.Run(tc.Name, tc.Run)
	}
}

// TestExplicitOverride checks the tie-break rule: a list wins over keyword
// forms only when every token parses cleanly.
func TestExplicitOverride(t *testing.T) {
	span, err := ClassifyAffected("17.10.1 17.12.4a")
	if err != nil {
		t.Fatal(err)
	}
	if span.Pattern != PatternExplicit {
		t.Fatalf("suffixed token should still parse: got %v", span.Pattern)
	}
	want := []Version{
		{Major: 17, Minor: 10, Patch: 1, Display: "17.10.1"},
		{Major: 17, Minor: 12, Patch: 4, Display: "17.12.4a"},
	}
	if !cmp.Equal(want, span.Explicit) {
		t.Error(cmp.Diff(want, span.Explicit))
	}

	// A keyword mixed into the list disqualifies the explicit reading.
	span, err = ClassifyAffected("17.10.3 and later")
	if err != nil {
		t.Fatal(err)
	}
	if span.Pattern != PatternOpenLater {
		t.Errorf("keyword declaration misread as %v", span.Pattern)
	}
}

type affectedTestcase struct {
	Name   string
	Raw    string
	Device string
	Want   bool
}

func (tc affectedTestcase) Run(t *testing.T) {
	span, err := ClassifyAffected(tc.Raw)
	if err != nil {
		t.Fatal(err)
	}
	d := MustVersion(tc.Device)
	got, reason := span.Affected(d)
	if got != tc.Want {
		t.Errorf("Affected(%q, %q) = %v (%s), want %v", tc.Device, tc.Raw, got, reason, tc.Want)
	}
	if got && reason == "" {
		t.Error("positive decision with empty reason")
	}
}

var affectedtt = []affectedTestcase{
	// Wildcard: fixed major.minor, any patch.
	{Name: "WildcardLow", Raw: "17.10.x", Device: "17.10.0", Want: true},
	{Name: "WildcardHigh", Raw: "17.10.x", Device: "17.10.9999", Want: true},
	{Name: "WildcardNextTrain", Raw: "17.10.x", Device: "17.11.0", Want: false},

	// Open-later: inclusive floor, same train.
	{Name: "LaterAtFloor", Raw: "17.10.3 and later", Device: "17.10.3", Want: true},
	{Name: "LaterInTrain", Raw: "17.10.3 and later", Device: "17.10.99", Want: true},
	{Name: "LaterCrossTrain", Raw: "17.10.3 and later", Device: "17.11.0", Want: false},
	{Name: "LaterBelowFloor", Raw: "17.10.3 and later", Device: "17.10.2", Want: false},

	// Open-earlier: inclusive ceiling, same train.
	{Name: "EarlierAtCeiling", Raw: "17.10.3 and earlier", Device: "17.10.3", Want: true},
	{Name: "EarlierBelow", Raw: "17.10.3 and earlier", Device: "17.10.1", Want: true},
	{Name: "EarlierAbove", Raw: "17.10.3 and earlier", Device: "17.10.4", Want: false},
	{Name: "EarlierPriorTrain", Raw: "17.10.3 and earlier", Device: "17.9.9", Want: false},

	// Minor wildcard: floor that crosses trains forward.
	{Name: "MinorWildcardAtFloor", Raw: "17.10 and later", Device: "17.10.0", Want: true},
	{Name: "MinorWildcardNextTrain", Raw: "17.10 and later", Device: "17.11.0", Want: true},
	{Name: "MinorWildcardFar", Raw: "17.10 and later", Device: "17.12.5", Want: true},
	{Name: "MinorWildcardBelow", Raw: "17.10 and later", Device: "17.9.99", Want: false},

	// Major wildcard.
	{Name: "MajorLow", Raw: "17.x", Device: "17.0.0", Want: true},
	{Name: "MajorHigh", Raw: "17.x", Device: "17.99.99", Want: true},
	{Name: "MajorNext", Raw: "17.x", Device: "18.0.0", Want: false},

	// Explicit list: membership, no train-crossing implied.
	{Name: "ExplicitHit", Raw: "17.10.1 17.12.4", Device: "17.10.1", Want: true},
	{Name: "ExplicitNormalizedHit", Raw: "17.10.1 17.12.4", Device: "17.10.01", Want: true},
	{Name: "ExplicitMiss", Raw: "17.10.1 17.12.4", Device: "17.11.1", Want: false},
}

func TestAffected(t *testing.T) {
	for _, tc := range affectedtt {
		t.Run(tc.Name, tc.Run)
	}
}

// TestFixedGate checks that a present fix version clears every pattern at or
// above it.
func TestFixedGate(t *testing.T) {
	fixed := MustVersion("17.10.5")
	for _, raw := range []string{"17.10.x", "17.10.1 and later", "17.10.1 17.10.5 17.10.6"} {
		span, err := ClassifyAffected(raw)
		if err != nil {
			t.Fatal(err)
		}
		span.FixedIn = &fixed
		for _, dv := range []string{"17.10.5", "17.10.6", "17.10.9999"} {
			if got, reason := span.Affected(MustVersion(dv)); got {
				t.Errorf("%q with fix %s claims %s affected (%s)", raw, fixed, dv, reason)
			}
		}
		if got, _ := span.Affected(MustVersion("17.10.4")); !got {
			t.Errorf("%q with fix %s should still claim 17.10.4", raw, fixed)
		}
	}
}

// TestIndexCoverage checks that the coarse index expansion is a superset of
// precise evaluation for every pattern: any version Affected accepts must hit
// an index tuple.
func TestIndexCoverage(t *testing.T) {
	probe := []string{
		"17.9.99", "17.10.0", "17.10.1", "17.10.3", "17.10.9999",
		"17.11.0", "17.12.4", "17.99.99", "18.0.0",
	}
	raws := []string{
		"17.10.1 17.12.4", "17.10.x", "17.10.3 and later",
		"17.10.3 and earlier", "17.10 and later", "17.x",
	}
	for _, raw := range raws {
		span, err := ClassifyAffected(raw)
		if err != nil {
			t.Fatal(err)
		}
		tuples := span.IndexTuples()
		if len(tuples) == 0 {
			t.Fatalf("%q: no index tuples", raw)
		}
		for _, pv := range probe {
			d := MustVersion(pv)
			affected, _ := span.Affected(d)
			if !affected {
				continue
			}
			covered := false
			for _, tu := range tuples {
				if (tu[0] == -1 || tu[0] == d.Major) &&
					(tu[1] == -1 || tu[1] == d.Minor) &&
					(tu[2] == -1 || tu[2] == d.Patch) {
					covered = true
					break
				}
			}
			if !covered {
				t.Errorf("%q: affected version %s not covered by index tuples %v", raw, pv, tuples)
			}
		}
	}
}
