package taxonomy

import (
	"context"
	"testing"
	"testing/fstest"

	"github.com/quay/zlog"

	"github.com/netsift/netsift"
)

func TestDefault(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, err := Default(ctx)
	if err != nil {
		t.Fatal(err)
	}
	// Every recognized platform ships a catalog.
	for _, p := range netsift.Platforms() {
		if len(s.Entries(p)) == 0 {
			t.Errorf("platform %s has no catalog", p)
		}
	}
	// Spot-check the entries the verification flows lean on.
	e, ok := s.Lookup(netsift.IOSXE, "APP_IOx")
	if !ok {
		t.Fatal("IOS-XE catalog missing APP_IOx")
	}
	if len(e.Patterns) != len(e.ConfigRegex) {
		t.Error("compiled patterns not aligned with raw patterns")
	}
	if len(e.ShowCommands) == 0 {
		t.Error("APP_IOx has no verification commands")
	}
	if _, ok := s.Lookup(netsift.IOSXE, "RTE_EIGRP"); !ok {
		t.Error("IOS-XE catalog missing RTE_EIGRP")
	}
	if _, ok := s.Lookup(netsift.NXOS, "SW_VPC"); !ok {
		t.Error("NX-OS catalog missing SW_VPC")
	}
}

func TestLabelsSorted(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, err := Default(ctx)
	if err != nil {
		t.Fatal(err)
	}
	ls := s.Labels(netsift.IOSXE)
	for i := 1; i < len(ls); i++ {
		if ls[i-1] >= ls[i] {
			t.Fatalf("labels not sorted: %q before %q", ls[i-1], ls[i])
		}
	}
}

func TestLoadErrors(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	tt := []struct {
		Name string
		File string
		Body string
	}{
		{
			Name: "BadJSON",
			File: "x.json",
			Body: `{"platform": "IOS-XE", "labels": [`,
		},
		{
			Name: "UnknownPlatform",
			File: "x.json",
			Body: `{"platform": "JUNOS", "labels": [{"label": "A", "config_regex": ["^a"]}]}`,
		},
		{
			Name: "EmptyLabel",
			File: "x.json",
			Body: `{"platform": "IOS-XE", "labels": [{"label": "", "config_regex": ["^a"]}]}`,
		},
		{
			Name: "NoRegex",
			File: "x.json",
			Body: `{"platform": "IOS-XE", "labels": [{"label": "A", "config_regex": []}]}`,
		},
		{
			Name: "BadRegex",
			File: "x.json",
			Body: `{"platform": "IOS-XE", "labels": [{"label": "A", "config_regex": ["^a("]}]}`,
		},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			sys := fstest.MapFS{
				tc.File: &fstest.MapFile{Data: []byte(tc.Body)},
			}
			if _, err := Load(ctx, sys); err == nil {
				t.Error("expected load failure")
			}
		})
	}

	t.Run("DuplicatePlatform", func(t *testing.T) {
		body := `{"platform": "IOS-XE", "labels": [{"label": "A", "config_regex": ["^a"]}]}`
		sys := fstest.MapFS{
			"a.json": &fstest.MapFile{Data: []byte(body)},
			"b.json": &fstest.MapFile{Data: []byte(body)},
		}
		if _, err := Load(ctx, sys); err == nil {
			t.Error("expected load failure")
		}
	})

	t.Run("Empty", func(t *testing.T) {
		if _, err := Load(ctx, fstest.MapFS{}); err == nil {
			t.Error("expected load failure")
		}
	})
}

// TestAnchoring checks the catalog contract: detection patterns must anchor
// to a line start so ornamental mentions cannot fire them.
func TestAnchoring(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	s, err := Default(ctx)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range s.Platforms() {
		for _, e := range s.Entries(p) {
			for _, pat := range e.ConfigRegex {
				if pat == "" || pat[0] != '^' {
					t.Errorf("%s/%s: pattern %q is not anchored", p, e.Label, pat)
				}
			}
		}
	}
}
