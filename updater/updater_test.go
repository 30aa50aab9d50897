package updater

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/quay/zlog"

	"github.com/netsift/netsift"
)

// memStore records everything the updater writes.
type memStore struct {
	mu          sync.Mutex
	rows        map[string]*netsift.Vulnerability
	batches     []int
	invalidated [][]string
}

func newMemStore() *memStore {
	return &memStore{rows: make(map[string]*netsift.Vulnerability)}
}

func (m *memStore) UpdateVulnerabilities(_ context.Context, vulns []*netsift.Vulnerability) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.batches = append(m.batches, len(vulns))
	for _, v := range vulns {
		cp := *v
		m.rows[string(v.Kind)+"\x00"+v.ID] = &cp
	}
	return int64(len(vulns)), nil
}

func (m *memStore) CacheEntry(context.Context, string, netsift.Platform) (*netsift.CacheEntry, error) {
	return nil, &netsift.Error{Kind: netsift.ErrNotFound}
}

func (m *memStore) SetCacheEntry(context.Context, *netsift.CacheEntry) error { return nil }

func (m *memStore) InvalidateCache(_ context.Context, ids []string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, ids)
	return int64(len(ids)), nil
}

func (m *memStore) ClearCache(context.Context) (int64, error) { return 0, nil }

func (m *memStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.rows)
}

func (m *memStore) row(kind netsift.VulnKind, id string) *netsift.Vulnerability {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[string(kind)+"\x00"+id]
}

func testRecords() []Record {
	return []Record{
		{
			ID:       "cisco-sa-iosxe-webui",
			Kind:     netsift.KindPSIRT,
			Platform: netsift.IOSXE,
			Severity: netsift.Catastrophic,
			Headline: "Web UI privilege escalation",
			Summary:  "A vulnerability in the web UI could allow privilege escalation.",
			Affected: "17.3.1, 17.3.2, 17.3.3",
			FixedIn:  "17.3.4",
			Labels:   []string{"MGMT_SSH_HTTP"},
			Hardware: "Catalyst 9300 Series Switches",
		},
		{
			ID:       "CSCwd11111",
			Kind:     netsift.KindBug,
			Platform: netsift.IOSXE,
			Severity: netsift.Severe,
			Headline: "OSPF process crash on malformed LSA",
			Affected: "17.6.1 and earlier",
			Labels:   []string{"RTE_OSPF"},
		},
		{
			ID:       "cisco-sa-nxos-cli",
			Kind:     netsift.KindPSIRT,
			Platform: netsift.NXOS,
			Severity: netsift.Moderate,
			Headline: "CLI command injection",
			Affected: "10.2.x",
		},
	}
}

func encodeRecords(t *testing.T, recs []Record) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range recs {
		if err := enc.Encode(&recs[i]); err != nil {
			t.Fatal(err)
		}
	}
	return buf.Bytes()
}

func zstdBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := zstd.NewWriter(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(b); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func digest(b []byte) string {
	h := sha256.Sum256(b)
	return hex.EncodeToString(h[:])
}

// archive builds a zip from the member map.
func archive(t *testing.T, members map[string][]byte) *bytes.Reader {
	t.Helper()
	var buf bytes.Buffer
	z := zip.NewWriter(&buf)
	for name, data := range members {
		w, err := z.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := w.Write(data); err != nil {
			t.Fatal(err)
		}
	}
	if err := z.Close(); err != nil {
		t.Fatal(err)
	}
	return bytes.NewReader(buf.Bytes())
}

func manifestBytes(t *testing.T, m Manifest) []byte {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// goodPackage is a well-formed plain-text package over testRecords.
func goodPackage(t *testing.T) *bytes.Reader {
	t.Helper()
	data := encodeRecords(t, testRecords())
	return archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:            "vulns.jsonl",
			SHA256:          digest(data),
			PipelineVersion: "1.4.0",
		}),
		"vulns.jsonl": data,
	})
}

func TestImport(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	var rebuilds int
	u := New(store, Options{OnCorpusChange: func(context.Context) { rebuilds++ }})

	in := goodPackage(t)
	sum, err := u.Import(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 3 || sum.Skipped != 0 {
		t.Errorf("got stored=%d skipped=%d, want 3/0", sum.Stored, sum.Skipped)
	}
	if sum.PipelineVersion != "1.4.0" {
		t.Errorf("got pipeline_version %q", sum.PipelineVersion)
	}
	if !sum.CorpusChanged {
		t.Error("labeled records should mark the corpus changed")
	}
	if rebuilds != 1 {
		t.Errorf("corpus-change hook ran %d times, want 1", rebuilds)
	}
	if sum.CacheInvalidated != 3 {
		t.Errorf("got cache_invalidated=%d, want 3", sum.CacheInvalidated)
	}

	v := store.row(netsift.KindPSIRT, "cisco-sa-iosxe-webui")
	if v == nil {
		t.Fatal("advisory row missing after import")
	}
	if v.Affected.Pattern != netsift.PatternExplicit {
		t.Errorf("got pattern %v, want explicit list", v.Affected.Pattern)
	}
	if v.Affected.FixedIn == nil || v.Affected.FixedIn.String() != "17.3.4" {
		t.Errorf("fixed_in not recorded: %+v", v.Affected.FixedIn)
	}
	if v.HardwareModel != "Cat9300" {
		t.Errorf("got hardware %q, want family tag Cat9300", v.HardwareModel)
	}
	if v.LastModified.IsZero() {
		t.Error("last_modified not defaulted")
	}
}

func TestImportIdempotent(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	for i := 0; i < 2; i++ {
		in := goodPackage(t)
		if _, err := u.Import(ctx, in, in.Size()); err != nil {
			t.Fatal(err)
		}
	}
	if got := store.count(); got != 3 {
		t.Errorf("double import left %d rows, want 3", got)
	}
}

func TestImportZstd(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	data := zstdBytes(t, encodeRecords(t, testRecords()))
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl.zst",
			SHA256: digest(data),
		}),
		"vulns.jsonl.zst": data,
	})
	sum, err := u.Import(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 3 {
		t.Errorf("got stored=%d, want 3", sum.Stored)
	}
}

func TestImportChecksumMismatch(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	data := encodeRecords(t, testRecords())
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest([]byte("something else entirely")),
		}),
		"vulns.jsonl": data,
	})
	_, err := u.Import(ctx, in, in.Size())
	if !errors.Is(err, netsift.ErrCorrupt) {
		t.Fatalf("got %v, want ErrCorrupt", err)
	}
	if got := store.count(); got != 0 {
		t.Errorf("rejected package changed %d rows, want 0", got)
	}
}

func TestImportMissingChecksum(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	data := encodeRecords(t, testRecords())
	in := archive(t, map[string][]byte{
		ManifestName:  manifestBytes(t, Manifest{File: "vulns.jsonl"}),
		"vulns.jsonl": data,
	})
	sum, err := u.Import(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 3 {
		t.Errorf("got stored=%d, want 3", sum.Stored)
	}
}

func TestImportPipelineVersion(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	for _, tc := range []struct {
		version string
		ok      bool
	}{
		{"1.0.0", true},
		{"2.9.9", true},
		{"3.0.0", false},
		{"0.9.0", false},
		{"not-a-version", false},
	} {
		data := encodeRecords(t, testRecords())
		in := archive(t, map[string][]byte{
			ManifestName: manifestBytes(t, Manifest{
				File:            "vulns.jsonl",
				SHA256:          digest(data),
				PipelineVersion: tc.version,
			}),
			"vulns.jsonl": data,
		})
		store := newMemStore()
		_, err := New(store, Options{}).Import(ctx, in, in.Size())
		if tc.ok && err != nil {
			t.Errorf("version %q: unexpected error %v", tc.version, err)
		}
		if !tc.ok {
			if !errors.Is(err, netsift.ErrCorrupt) {
				t.Errorf("version %q: got %v, want ErrCorrupt", tc.version, err)
			}
			if store.count() != 0 {
				t.Errorf("version %q: rejected package changed rows", tc.version)
			}
		}
	}
}

func TestImportMalformedArchive(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	u := New(newMemStore(), Options{})

	// Not a zip at all.
	junk := bytes.NewReader([]byte("certainly not a zip archive"))
	if _, err := u.Import(ctx, junk, junk.Size()); !errors.Is(err, netsift.ErrCorrupt) {
		t.Errorf("junk bytes: got %v, want ErrCorrupt", err)
	}

	// A zip with no manifest.
	in := archive(t, map[string][]byte{"readme.txt": []byte("hello")})
	if _, err := u.Import(ctx, in, in.Size()); !errors.Is(err, netsift.ErrCorrupt) {
		t.Errorf("no manifest: got %v, want ErrCorrupt", err)
	}

	// A manifest naming a member that is not there.
	in = archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{File: "ghost.jsonl"}),
	})
	if _, err := u.Import(ctx, in, in.Size()); !errors.Is(err, netsift.ErrCorrupt) {
		t.Errorf("missing data file: got %v, want ErrCorrupt", err)
	}
}

func TestImportTruncatedData(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	data := []byte(`{"identifier": "cisco-sa-trunc", "kind": "psirt"`)
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest(data),
		}),
		"vulns.jsonl": data,
	})
	if _, err := u.Import(ctx, in, in.Size()); !errors.Is(err, netsift.ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt", err)
	}
}

func TestImportSkipsInvalidRecords(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	recs := testRecords()
	recs = append(recs, Record{
		ID:       "bad-platform",
		Kind:     netsift.KindPSIRT,
		Platform: "Windows",
		Severity: netsift.Moderate,
		Headline: "nope",
		Affected: "1.0",
	})
	data := encodeRecords(t, recs)
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest(data),
		}),
		"vulns.jsonl": data,
	})
	sum, err := u.Import(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 3 || sum.Skipped != 1 {
		t.Errorf("got stored=%d skipped=%d, want 3/1", sum.Stored, sum.Skipped)
	}
	if store.row(netsift.KindPSIRT, "bad-platform") != nil {
		t.Error("invalid record reached the store")
	}
}

func TestImportUnclassifiableAffected(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	recs := []Record{{
		ID:       "cisco-sa-vague",
		Kind:     netsift.KindPSIRT,
		Platform: netsift.IOSXE,
		Severity: netsift.Severe,
		Headline: "Vague affected declaration",
		Affected: "releases earlier than the fix and later trains",
	}}
	data := encodeRecords(t, recs)
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest(data),
		}),
		"vulns.jsonl": data,
	})
	sum, err := u.Import(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 1 {
		t.Fatalf("got stored=%d, want 1", sum.Stored)
	}
	v := store.row(netsift.KindPSIRT, "cisco-sa-vague")
	if v == nil {
		t.Fatal("row missing")
	}
	if v.Affected.Pattern != netsift.PatternInvalid {
		t.Errorf("got pattern %v, want invalid fallback", v.Affected.Pattern)
	}
	if v.Affected.Raw != recs[0].Affected {
		t.Errorf("verbatim declaration lost: %q", v.Affected.Raw)
	}
}

func TestImportBatching(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{BatchSize: 2})

	var recs []Record
	for i := 0; i < 5; i++ {
		recs = append(recs, Record{
			ID:       "CSCwd0000" + string(rune('a'+i)),
			Kind:     netsift.KindBug,
			Platform: netsift.IOSXE,
			Severity: netsift.Moderate,
			Headline: "bug",
			Affected: "17.3.1",
		})
	}
	data := encodeRecords(t, recs)
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest(data),
		}),
		"vulns.jsonl": data,
	})
	sum, err := u.Import(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 5 {
		t.Errorf("got stored=%d, want 5", sum.Stored)
	}
	store.mu.Lock()
	batches := append([]int(nil), store.batches...)
	store.mu.Unlock()
	want := []int{2, 2, 1}
	if len(batches) != len(want) {
		t.Fatalf("got batches %v, want %v", batches, want)
	}
	for i := range want {
		if batches[i] != want[i] {
			t.Fatalf("got batches %v, want %v", batches, want)
		}
	}
}

func TestImportSizeDetection(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	u := New(newMemStore(), Options{})

	// bytes.Reader has Size; a negative hint must still work.
	in := goodPackage(t)
	sum, err := u.Import(ctx, in, -1)
	if err != nil {
		t.Fatal(err)
	}
	if sum.Stored != 3 {
		t.Errorf("got stored=%d, want 3", sum.Stored)
	}
}

func TestValidate(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	in := goodPackage(t)
	val, err := u.Validate(ctx, in, in.Size())
	if err != nil {
		t.Fatal(err)
	}
	if val.Records != 3 || val.Skipped != 0 {
		t.Errorf("got records=%d skipped=%d, want 3/0", val.Records, val.Skipped)
	}
	if !val.ChecksumOK {
		t.Error("checksum should verify")
	}
	if val.DataFile != "vulns.jsonl" || val.PipelineVersion != "1.4.0" {
		t.Errorf("got file=%q pipeline=%q", val.DataFile, val.PipelineVersion)
	}
	if got := store.count(); got != 0 {
		t.Errorf("dry run changed %d rows, want 0", got)
	}

	// Validate surfaces the same rejection Import would.
	data := encodeRecords(t, testRecords())
	bad := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest([]byte("tampered")),
		}),
		"vulns.jsonl": data,
	})
	if _, err := u.Validate(ctx, bad, bad.Size()); !errors.Is(err, netsift.ErrCorrupt) {
		t.Errorf("got %v, want ErrCorrupt", err)
	}
}

func TestRecordLastModifiedKept(t *testing.T) {
	ctx := zlog.Test(context.Background(), t)
	store := newMemStore()
	u := New(store, Options{})

	stamp := time.Date(2025, 11, 3, 12, 0, 0, 0, time.UTC)
	recs := []Record{{
		ID:           "cisco-sa-stamped",
		Kind:         netsift.KindPSIRT,
		Platform:     netsift.IOSXE,
		Severity:     netsift.Severe,
		Headline:     "stamped",
		Affected:     "17.3.1",
		LastModified: stamp,
	}}
	data := encodeRecords(t, recs)
	in := archive(t, map[string][]byte{
		ManifestName: manifestBytes(t, Manifest{
			File:   "vulns.jsonl",
			SHA256: digest(data),
		}),
		"vulns.jsonl": data,
	})
	if _, err := u.Import(ctx, in, in.Size()); err != nil {
		t.Fatal(err)
	}
	v := store.row(netsift.KindPSIRT, "cisco-sa-stamped")
	if v == nil {
		t.Fatal("row missing")
	}
	if !v.LastModified.Equal(stamp) {
		t.Errorf("got last_modified %v, want %v", v.LastModified, stamp)
	}
}
