package verifier

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/features"
	"github.com/netsift/netsift/taxonomy"
)

const showVersionXE = `Cisco IOS XE Software, Version 17.09.04a
Cisco IOS Software [Cupertino], Catalyst L3 Switch Software (CAT9K_IOSXE), Version 17.9.4a, RELEASE SOFTWARE (fc2)
Technical Support: http://www.cisco.com/techsupport
Copyright (c) 1986-2023 by Cisco Systems, Inc.

ROM: IOS-XE ROMMON

switch uptime is 21 weeks, 3 days, 1 hour, 7 minutes

cisco C9300-48P (X86) processor (revision V03) with 1345388K/6147K bytes of memory.
Processor board ID FOC12345ABC
`

const runningConfigXE = `Building configuration...

Current configuration : 8212 bytes
!
version 17.9
hostname edge-sw-01
!
iox
!
router ospf 10
 network 10.0.0.0 0.255.255.255 area 0
!
line vty 0 4
 transport input ssh
!
end
`

type fakeConn struct {
	replies map[string]string
	fail    map[string]error
	delay   time.Duration
	calls   []string
	closed  bool
}

func (c *fakeConn) Run(ctx context.Context, cmd string) (string, error) {
	c.calls = append(c.calls, cmd)
	if c.delay > 0 {
		select {
		case <-time.After(c.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err, ok := c.fail[cmd]; ok {
		return "", err
	}
	return c.replies[cmd], nil
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

type fakeDialer struct {
	conn *fakeConn
	err  error
}

func (d *fakeDialer) Dial(_ context.Context, _ string, _ Credentials) (Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}

func testVerifier(t *testing.T, dial Dialer, opts Options) (*Verifier, context.Context) {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	tax, err := taxonomy.Default(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return New(dial, features.New(tax), opts), ctx
}

func hasLabel(ls []string, want string) bool {
	for _, l := range ls {
		if l == want {
			return true
		}
	}
	return false
}

func TestDiscover(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{
		"show version":        showVersionXE,
		"show running-config": runningConfigXE,
	}}
	v, ctx := testVerifier(t, &fakeDialer{conn: conn}, Options{})

	facts, err := v.Discover(ctx, "10.0.0.1", Credentials{Username: "admin", Password: "hunter2"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if facts.Platform != netsift.IOSXE {
		t.Errorf("platform = %s", facts.Platform)
	}
	if facts.Version != "17.09.04a" {
		t.Errorf("version = %q", facts.Version)
	}
	if facts.Hardware != "Cat9300" {
		t.Errorf("hardware = %q", facts.Hardware)
	}
	if facts.VersionLine != "Cisco IOS XE Software, Version 17.09.04a" {
		t.Errorf("version line = %q", facts.VersionLine)
	}
	for _, want := range []string{"APP_IOx", "RTE_OSPF"} {
		if !hasLabel(facts.Snapshot.FeaturesPresent, want) {
			t.Errorf("snapshot missing %s: %v", want, facts.Snapshot.FeaturesPresent)
		}
	}
	wantCalls := []string{"terminal length 0", "show version", "show running-config"}
	if !cmp.Equal(conn.calls, wantCalls) {
		t.Error(cmp.Diff(conn.calls, wantCalls))
	}
	if !conn.closed {
		t.Error("connection left open")
	}
}

func TestDiscoverPlatformHint(t *testing.T) {
	// A banner that names no platform: the caller's hint has to carry it.
	conn := &fakeConn{replies: map[string]string{
		"show version":        "Cisco Software, Version 17.3.3\n",
		"show running-config": runningConfigXE,
	}}
	v, ctx := testVerifier(t, &fakeDialer{conn: conn}, Options{})

	facts, err := v.Discover(ctx, "10.0.0.1", Credentials{}, netsift.IOSXE)
	if err != nil {
		t.Fatal(err)
	}
	if facts.Platform != netsift.IOSXE {
		t.Errorf("platform = %s", facts.Platform)
	}
	if facts.Version != "17.3.3" {
		t.Errorf("version = %q", facts.Version)
	}

	// Without the hint the same device is unidentifiable.
	conn.calls = nil
	if _, err := v.Discover(ctx, "10.0.0.1", Credentials{}, ""); !errors.Is(err, netsift.ErrBadInput) {
		t.Errorf("err = %v, want bad-input kind", err)
	}
}

func TestDiscoverDialFailure(t *testing.T) {
	v, ctx := testVerifier(t, &fakeDialer{err: &netsift.Error{Op: "dial", Kind: netsift.ErrUpstream, Message: "device unreachable"}}, Options{})
	if _, err := v.Discover(ctx, "10.0.0.1", Credentials{}, ""); !errors.Is(err, netsift.ErrUpstream) {
		t.Errorf("err = %v, want upstream kind", err)
	}
}

func TestDiscoverCommandTimeout(t *testing.T) {
	conn := &fakeConn{
		delay: 200 * time.Millisecond,
		replies: map[string]string{
			"show version": showVersionXE,
		},
	}
	v, ctx := testVerifier(t, &fakeDialer{conn: conn}, Options{CommandTimeout: 20 * time.Millisecond})
	if _, err := v.Discover(ctx, "10.0.0.1", Credentials{}, ""); !errors.Is(err, netsift.ErrTimeout) {
		t.Errorf("err = %v, want timeout kind", err)
	}
}

func TestParseShowVersion(t *testing.T) {
	tests := []struct {
		name     string
		out      string
		platform netsift.Platform
		version  string
	}{
		{
			name:     "ios-xe",
			out:      showVersionXE,
			platform: netsift.IOSXE,
			version:  "17.09.04a",
		},
		{
			name:     "ios-xr",
			out:      "Cisco IOS XR Software, Version 7.8.2\nCopyright (c) 2013-2022 by Cisco Systems, Inc.\n",
			platform: netsift.IOSXR,
			version:  "7.8.2",
		},
		{
			name:     "nx-os",
			out:      "Cisco Nexus Operating System (NX-OS) Software\nTAC support: http://www.cisco.com/tac\n\nSoftware\n  BIOS: version 05.47\n  NXOS: version 10.2(3)\n\nHardware\n  cisco Nexus9000 C9336C-FX2 Chassis\n",
			platform: netsift.NXOS,
			version:  "10.2(3)",
		},
		{
			name:     "asa",
			out:      "Cisco Adaptive Security Appliance Software Version 9.16(4)8\nDevice Manager Version 7.18(1)\n",
			platform: netsift.ASA,
			version:  "9.16(4)8",
		},
		{
			name:     "ftd",
			out:      "Cisco Firepower Threat Defense for VMware Version 7.2.4 (Build 165)\n",
			platform: netsift.FTD,
			version:  "7.2.4",
		},
		{
			name:     "unidentifiable",
			out:      "garbage output\n",
			platform: "",
			version:  "",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p, v, _ := parseShowVersion(tc.out)
			if p != tc.platform {
				t.Errorf("platform = %q, want %q", p, tc.platform)
			}
			if v != tc.version {
				t.Errorf("version = %q, want %q", v, tc.version)
			}
		})
	}
}

func TestVerifySnapshotNotConfigured(t *testing.T) {
	// Advisory needs IOx; this device has OSPF only.
	a := &netsift.Analysis{Platform: netsift.IOSXE, Labels: []string{"APP_IOx"}}
	snap := &netsift.FeatureSnapshot{
		ID:              "snap-1",
		Platform:        netsift.IOSXE,
		FeaturesPresent: []string{"RTE_OSPF", "SVC_NTP"},
	}
	r := VerifySnapshot(a, snap)
	if r.OverallStatus != StatusNotVulnerable {
		t.Errorf("status = %q", r.OverallStatus)
	}
	if len(r.FeatureCheck.Present) != 0 {
		t.Errorf("present = %v, want empty", r.FeatureCheck.Present)
	}
	if got, want := r.FeatureCheck.Absent, []string{"APP_IOx"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestVerifySnapshotConfigured(t *testing.T) {
	a := &netsift.Analysis{Platform: netsift.IOSXE, Labels: []string{"APP_IOx", "SEC_CoPP"}}
	snap := &netsift.FeatureSnapshot{
		ID:              "snap-2",
		Platform:        netsift.IOSXE,
		FeaturesPresent: []string{"APP_IOx", "RTE_OSPF"},
	}
	r := VerifySnapshot(a, snap)
	if r.OverallStatus != StatusVulnerable {
		t.Errorf("status = %q", r.OverallStatus)
	}
	if got, want := r.FeatureCheck.Present, []string{"APP_IOx"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
	if got, want := r.FeatureCheck.Absent, []string{"SEC_CoPP"}; !cmp.Equal(got, want) {
		t.Error(cmp.Diff(got, want))
	}
}

func TestVerifySnapshotMismatchedPlatform(t *testing.T) {
	a := &netsift.Analysis{Platform: netsift.IOSXE, Labels: []string{"APP_IOx"}}
	snap := &netsift.FeatureSnapshot{ID: "snap-3", Platform: netsift.NXOS}
	if r := VerifySnapshot(a, snap); r.OverallStatus != StatusError {
		t.Errorf("status = %q", r.OverallStatus)
	}
}

func TestVerifySnapshotNoConditions(t *testing.T) {
	a := &netsift.Analysis{Platform: netsift.IOSXE}
	snap := &netsift.FeatureSnapshot{ID: "snap-4", Platform: netsift.IOSXE}
	if r := VerifySnapshot(a, snap); r.OverallStatus != StatusError {
		t.Errorf("status = %q", r.OverallStatus)
	}
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name       string
		device     string
		claim      *Claim
		wantNil    bool
		affected   bool
		conclusive bool
	}{
		{name: "no claim", device: "17.9.4", claim: nil, wantNil: true},
		{name: "empty claim", device: "17.9.4", claim: &Claim{}, wantNil: true},
		{
			name:       "in range",
			device:     "17.09.04a",
			claim:      &Claim{AffectedVersions: []string{"17.9.4 and earlier"}},
			affected:   true,
			conclusive: true,
		},
		{
			name:       "out of range",
			device:     "17.12.1",
			claim:      &Claim{AffectedVersions: []string{"17.9.4 and earlier"}},
			affected:   false,
			conclusive: true,
		},
		{
			name:       "at fix",
			device:     "17.9.5",
			claim:      &Claim{AffectedVersions: []string{"17.9.4 and earlier"}, FixedIn: "17.9.5"},
			affected:   false,
			conclusive: true,
		},
		{
			name:       "predates fix",
			device:     "17.9.1",
			claim:      &Claim{FixedIn: "17.9.5"},
			affected:   true,
			conclusive: true,
		},
		{
			name:       "unparseable device version",
			device:     "unknown",
			claim:      &Claim{AffectedVersions: []string{"17.9.4 and earlier"}},
			affected:   false,
			conclusive: false,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			vc := checkVersion(tc.device, tc.claim)
			if tc.wantNil {
				if vc != nil {
					t.Fatalf("got %+v, want nil", vc)
				}
				return
			}
			if vc == nil {
				t.Fatal("got nil check")
			}
			if vc.Affected != tc.affected || vc.Conclusive != tc.conclusive {
				t.Errorf("affected = %v conclusive = %v, want %v/%v", vc.Affected, vc.Conclusive, tc.affected, tc.conclusive)
			}
		})
	}
}

func TestVerifyDevice(t *testing.T) {
	conn := &fakeConn{replies: map[string]string{
		"show version":        showVersionXE,
		"show running-config": runningConfigXE,
	}}
	v, ctx := testVerifier(t, &fakeDialer{conn: conn}, Options{})
	a := &netsift.Analysis{Platform: netsift.IOSXE, Labels: []string{"APP_IOx"}}
	claim := &Claim{AffectedVersions: []string{"17.9.4 and earlier"}}

	r, facts, err := v.VerifyDevice(ctx, "10.0.0.1", Credentials{Username: "admin", Password: "hunter2"}, "", a, claim)
	if err != nil {
		t.Fatal(err)
	}
	if r.OverallStatus != StatusVulnerable {
		t.Errorf("status = %q, reason %q", r.OverallStatus, r.Reason)
	}
	if r.VersionCheck == nil || !r.VersionCheck.Affected {
		t.Errorf("version check = %+v", r.VersionCheck)
	}
	if !hasLabel(r.FeatureCheck.Present, "APP_IOx") {
		t.Errorf("present = %v", r.FeatureCheck.Present)
	}
	if facts == nil || facts.Version != "17.09.04a" {
		t.Errorf("facts = %+v", facts)
	}
	if len(r.Evidence) == 0 {
		t.Error("no evidence recorded")
	}
}

func TestVerifyDeviceDiscoveryFailure(t *testing.T) {
	v, ctx := testVerifier(t, &fakeDialer{err: &netsift.Error{Op: "dial", Kind: netsift.ErrUpstream, Message: "connection refused"}}, Options{})
	a := &netsift.Analysis{Platform: netsift.IOSXE, Labels: []string{"APP_IOx"}}

	r, facts, err := v.VerifyDevice(ctx, "10.0.0.9", Credentials{}, "", a, nil)
	if !errors.Is(err, netsift.ErrUpstream) {
		t.Errorf("err = %v, want upstream kind", err)
	}
	if r == nil || r.OverallStatus != StatusError {
		t.Errorf("report = %+v", r)
	}
	if facts != nil {
		t.Errorf("facts = %+v, want nil", facts)
	}
}
