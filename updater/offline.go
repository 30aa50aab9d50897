package updater

import (
	"archive/zip"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"io/fs"
	"strings"

	"github.com/Masterminds/semver"
	"github.com/klauspost/compress/zstd"

	"github.com/netsift/netsift"
)

// ManifestName is the archive member naming the data file and its checksum.
const ManifestName = `manifest.json`

// Manifest is the archive's table of contents.
type Manifest struct {
	// File names the data file inside the archive. A ".zst" suffix marks it
	// zstd-compressed.
	File string `json:"file"`
	// SHA256 is the hex digest of the data file as stored. Older pipelines
	// omitted it; absence is allowed but logged.
	SHA256 string `json:"sha256,omitempty"`
	// PipelineVersion is the semantic version of the pipeline that produced
	// the package.
	PipelineVersion string `json:"pipeline_version,omitempty"`
}

// pipelineConstraint matches the offline-pipeline versions this build
// ingests. Record-format changes must move the bound.
const pipelineConstraint = `>= 1.0.0, < 3.0.0`

var pipelineRange = func() *semver.Constraints {
	c, err := semver.NewConstraint(pipelineConstraint)
	if err != nil {
		panic(err)
	}
	return c
}()

// checkPipeline reports whether the manifest's pipeline version is one this
// build understands. An absent version is allowed for older pipelines.
func checkPipeline(m *Manifest) error {
	if m.PipelineVersion == "" {
		return nil
	}
	v, err := semver.NewVersion(m.PipelineVersion)
	if err != nil {
		return &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: fmt.Sprintf("manifest pipeline_version %q does not parse", m.PipelineVersion),
			Inner:   err,
		}
	}
	if !pipelineRange.Check(v) {
		return &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: fmt.Sprintf("pipeline version %s outside supported range %q", v, pipelineConstraint),
		}
	}
	return nil
}

// openZip opens the archive at "in". A non-positive size is determined from
// the ReaderAt if it has some way to report one.
func openZip(in io.ReaderAt, size int64) (*zip.Reader, error) {
	if size <= 0 {
		switch v := in.(type) {
		case sizer:
			size = v.Size()
		case fileStat:
			fi, err := v.Stat()
			if err != nil {
				return nil, err
			}
			size = fi.Size()
		case io.Seeker:
			cur, err := v.Seek(0, io.SeekCurrent)
			if err != nil {
				return nil, err
			}
			size, err = v.Seek(0, io.SeekEnd)
			if err != nil {
				return nil, err
			}
			if _, err := v.Seek(cur, io.SeekStart); err != nil {
				return nil, err
			}
		default:
			return nil, &netsift.Error{
				Kind:    netsift.ErrBadInput,
				Message: "unable to determine size of the uploaded archive",
			}
		}
	}
	z, err := zip.NewReader(in, size)
	if err != nil {
		return nil, &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: "upload is not a zip archive",
			Inner:   err,
		}
	}
	return z, nil
}

type (
	fileStat interface{ Stat() (fs.FileInfo, error) }
	sizer    interface{ Size() int64 }
)

// readManifest locates and decodes the manifest.
func readManifest(z *zip.Reader) (*Manifest, error) {
	f, err := z.Open(ManifestName)
	if err != nil {
		return nil, &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: "archive has no " + ManifestName,
			Inner:   err,
		}
	}
	defer f.Close()
	var m Manifest
	if err := json.NewDecoder(f).Decode(&m); err != nil {
		return nil, &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: ManifestName + " does not parse",
			Inner:   err,
		}
	}
	if m.File == "" {
		return nil, &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: ManifestName + ` names no "file"`,
		}
	}
	return &m, nil
}

// verifyChecksum hashes the named member as stored and compares it to the
// manifest digest. It runs before any decode so nothing downstream touches
// unverified bytes.
func verifyChecksum(z *zip.Reader, m *Manifest) error {
	f, err := z.Open(m.File)
	if err != nil {
		return &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: fmt.Sprintf("manifest names %q but the archive does not contain it", m.File),
			Inner:   err,
		}
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return &netsift.Error{Kind: netsift.ErrCorrupt, Message: "unable to hash data file", Inner: err}
	}
	got := hex.EncodeToString(h.Sum(nil))
	if !strings.EqualFold(got, m.SHA256) {
		return &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: fmt.Sprintf("data file digest mismatch: got %s, manifest says %s", got, m.SHA256),
		}
	}
	return nil
}

// openData opens the data file for decoding, transparently unwrapping zstd
// when the member name says so.
func openData(z *zip.Reader, m *Manifest) (io.ReadCloser, error) {
	f, err := z.Open(m.File)
	if err != nil {
		return nil, &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: fmt.Sprintf("manifest names %q but the archive does not contain it", m.File),
			Inner:   err,
		}
	}
	if !strings.HasSuffix(m.File, ".zst") {
		return f, nil
	}
	d, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, &netsift.Error{
			Kind:    netsift.ErrCorrupt,
			Message: "data file is not zstd despite its name",
			Inner:   err,
		}
	}
	return &zstdCloser{Decoder: d, under: f}, nil
}

// zstdCloser closes both the decoder and the underlying archive member.
type zstdCloser struct {
	*zstd.Decoder
	under io.Closer
}

func (z *zstdCloser) Close() error {
	z.Decoder.Close()
	return z.under.Close()
}
