// Package verifier reaches network devices over SSH and distills what it
// finds into facts the scanner and analysis checks consume.
//
// Discovery captures "show version" and the running configuration, never
// retaining either beyond the call: what leaves the package is a sanitized
// FeatureSnapshot plus the platform, version, and hardware family.
// Credentials live only on the call stack.
package verifier

import (
	"context"
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/quay/zlog"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/features"
)

const (
	// DefaultCommandTimeout bounds each individual device command.
	DefaultCommandTimeout = 20 * time.Second
	// DefaultBudget bounds one whole discovery, dial included.
	DefaultBudget = 60 * time.Second
)

// Options tunes a Verifier. The zero value means "use the defaults."
type Options struct {
	CommandTimeout time.Duration
	Budget         time.Duration
}

// Verifier runs device discoveries.
type Verifier struct {
	dial Dialer
	ext  *features.Extractor
	opts Options
}

// New returns a Verifier using the provided transport and extractor.
func New(dial Dialer, ext *features.Extractor, opts Options) *Verifier {
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = DefaultCommandTimeout
	}
	if opts.Budget <= 0 {
		opts.Budget = DefaultBudget
	}
	return &Verifier{dial: dial, ext: ext, opts: opts}
}

// DeviceFacts is everything one discovery learns about a device.
type DeviceFacts struct {
	Platform netsift.Platform         `json:"platform"`
	Version  string                   `json:"version"`
	Hardware string                   `json:"hardware_model,omitempty"`
	Snapshot *netsift.FeatureSnapshot `json:"snapshot"`
	// VersionLine is the banner line the version was read from, kept as
	// verification evidence.
	VersionLine string `json:"version_line,omitempty"`
}

// Discover connects to a device, captures "show version" and the running
// configuration, and distills them into facts.
//
// The platform hint is used only when the version banner does not identify
// the platform itself. The whole call is bounded by the configured budget;
// each command by the command timeout.
func (v *Verifier) Discover(ctx context.Context, host string, creds Credentials, hint netsift.Platform) (*DeviceFacts, error) {
	ctx = zlog.ContextWithValues(ctx, "component", "verifier/Verifier.Discover", "host", host)
	ctx, cancel := context.WithTimeout(ctx, v.opts.Budget)
	defer cancel()

	conn, err := v.dial.Dial(ctx, host, creds)
	creds.wipe()
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	// Pagination off first. Not every platform accepts this in exec mode,
	// so a refusal is not fatal.
	if _, err := v.run(ctx, conn, "terminal length 0"); err != nil {
		zlog.Debug(ctx).
			Err(err).
			Msg("terminal length rejected, continuing")
	}

	verOut, err := v.run(ctx, conn, "show version")
	if err != nil {
		return nil, wrapRun("show version", err)
	}
	platform, version, line := parseShowVersion(verOut)
	if platform == "" {
		platform = hint
	}
	if platform == "" {
		return nil, &netsift.Error{
			Op:      "discover",
			Kind:    netsift.ErrBadInput,
			Message: "unable to identify the device platform; supply a device_type",
		}
	}
	if version == "" {
		return nil, &netsift.Error{
			Op:      "discover",
			Kind:    netsift.ErrUpstream,
			Message: "no version in the device's show version output",
		}
	}

	cfg, err := v.run(ctx, conn, "show running-config")
	if err != nil {
		return nil, wrapRun("show running-config", err)
	}
	snap, err := v.ext.Extract(ctx, cfg, platform, verOut)
	if err != nil {
		return nil, err
	}

	facts := &DeviceFacts{
		Platform:    platform,
		Version:     version,
		Hardware:    snap.HardwareModel,
		Snapshot:    snap,
		VersionLine: line,
	}
	zlog.Info(ctx).
		Str("platform", string(platform)).
		Str("version", version).
		Str("hardware", facts.Hardware).
		Int("features", snap.FeatureCount).
		Msg("discovery complete")
	return facts, nil
}

// VerifyDevice discovers a device and checks an analysis against it.
//
// Transport failures return an ERROR report alongside the error, so callers
// can render the report shape while mapping the error onto a status.
func (v *Verifier) VerifyDevice(ctx context.Context, host string, creds Credentials, hint netsift.Platform, a *netsift.Analysis, claim *Claim) (*Report, *DeviceFacts, error) {
	facts, err := v.Discover(ctx, host, creds, hint)
	if err != nil {
		return ErrorReport("device discovery failed: " + err.Error()), nil, err
	}
	if a.Platform != facts.Platform {
		r := ErrorReport("analysis is for " + string(a.Platform) + " but the device runs " + string(facts.Platform))
		return r, facts, nil
	}
	r := verdict(a, facts.Snapshot, checkVersion(facts.Version, claim))
	if facts.VersionLine != "" {
		r.Evidence = append(r.Evidence, "device reports: "+facts.VersionLine)
	}
	return r, facts, nil
}

func (v *Verifier) run(ctx context.Context, conn Conn, cmd string) (string, error) {
	cctx, cancel := context.WithTimeout(ctx, v.opts.CommandTimeout)
	defer cancel()
	return conn.Run(cctx, cmd)
}

func wrapRun(cmd string, err error) error {
	kind := netsift.ErrUpstream
	if errors.Is(err, context.DeadlineExceeded) {
		kind = netsift.ErrTimeout
	}
	return &netsift.Error{Op: cmd, Kind: kind, Inner: err}
}

// platformBanners identifies the platform from version output. FTD devices
// also print the ASA banner, so FTD must come first.
var platformBanners = []struct {
	needle string
	p      netsift.Platform
}{
	{"Firepower Threat Defense", netsift.FTD},
	{"Adaptive Security Appliance", netsift.ASA},
	{"IOS-XR", netsift.IOSXR},
	{"IOS XR", netsift.IOSXR},
	{"IOS-XE", netsift.IOSXE},
	{"IOS XE", netsift.IOSXE},
	{"NX-OS", netsift.NXOS},
	{"Nexus Operating System", netsift.NXOS},
}

// versionPatterns pull the version out of show version output. The NX-OS
// form is tried first; the generic form matches the other platforms'
// banners.
var versionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?m)NXOS:\s+version\s+([0-9][0-9A-Za-z.()]*)`),
	regexp.MustCompile(`(?m)\bVersion:?\s+([0-9][0-9A-Za-z.()]*)`),
}

// parseShowVersion reports the platform, the raw version string, and the
// line the version appeared on. Unidentifiable fields come back empty.
func parseShowVersion(out string) (netsift.Platform, string, string) {
	out = strings.ReplaceAll(out, "\r\n", "\n")
	var platform netsift.Platform
	for _, b := range platformBanners {
		if strings.Contains(out, b.needle) {
			platform = b.p
			break
		}
	}
	for _, re := range versionPatterns {
		m := re.FindStringSubmatchIndex(out)
		if m == nil {
			continue
		}
		version := out[m[2]:m[3]]
		ls := strings.LastIndexByte(out[:m[0]], '\n') + 1
		le := strings.IndexByte(out[m[1]:], '\n')
		if le < 0 {
			le = len(out)
		} else {
			le += m[1]
		}
		return platform, version, strings.TrimSpace(out[ls:le])
	}
	return platform, "", ""
}
