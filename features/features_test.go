package features

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/quay/zlog"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/taxonomy"
)

// A plausible Catalyst running-config fragment. The snmp-server line is the
// bait: it names eigrp without eigrp being configured.
const catConfig = `version 17.10
hostname edge-sw-01
!
aaa new-model
!
ip dhcp snooping
ip dhcp snooping vlan 10,20
!
router ospf 10
 router-id 10.0.0.1
 network 10.0.0.0 0.255.255.255 area 0
!
snmp-server community public RO
snmp-server enable traps eigrp
snmp-server host 192.0.2.50 version 2c public
!
line vty 0 4
 transport input ssh
!
end`

func testExtractor(t *testing.T) (*Extractor, context.Context) {
	t.Helper()
	ctx := zlog.Test(context.Background(), t)
	tax, err := taxonomy.Default(ctx)
	if err != nil {
		t.Fatal(err)
	}
	return New(tax), ctx
}

func TestExtract(t *testing.T) {
	e, ctx := testExtractor(t)
	snap, err := e.Extract(ctx, catConfig, netsift.IOSXE, "")
	if err != nil {
		t.Fatal(err)
	}
	got := make(map[string]bool, len(snap.FeaturesPresent))
	for _, l := range snap.FeaturesPresent {
		got[l] = true
	}
	for _, want := range []string{"MGMT_SNMP", "MGMT_SSH_HTTP", "RTE_OSPF", "SEC_AAA", "SEC_DHCP_SNOOPING"} {
		if !got[want] {
			t.Errorf("expected label %s, have %v", want, snap.FeaturesPresent)
		}
	}
	// The trap line mentions eigrp; there is no router eigrp stanza. An
	// extraction that reports RTE_EIGRP here is matching ornamental text.
	if got["RTE_EIGRP"] {
		t.Error("RTE_EIGRP extracted from an snmp trap mention")
	}
	if snap.FeatureCount != len(snap.FeaturesPresent) {
		t.Error("feature_count disagrees with features_present")
	}
	if snap.TotalChecked <= snap.FeatureCount {
		t.Errorf("total_checked %d implausible against %d present", snap.TotalChecked, snap.FeatureCount)
	}
	if snap.ExtractorVersion != Version {
		t.Errorf("snapshot carries extractor version %q", snap.ExtractorVersion)
	}
	if err := snap.Validate(); err != nil {
		t.Error(err)
	}
}

func TestExtractEIGRPConfigured(t *testing.T) {
	e, ctx := testExtractor(t)
	cfg := catConfig + "\nrouter eigrp 100\n network 10.0.0.0\n"
	snap, err := e.Extract(ctx, cfg, netsift.IOSXE, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range snap.FeaturesPresent {
		if l == "RTE_EIGRP" {
			return
		}
	}
	t.Errorf("router eigrp stanza not detected: %v", snap.FeaturesPresent)
}

func TestExtractDeterministic(t *testing.T) {
	e, ctx := testExtractor(t)
	a, err := e.Extract(ctx, catConfig, netsift.IOSXE, "")
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Extract(ctx, catConfig, netsift.IOSXE, "")
	if err != nil {
		t.Fatal(err)
	}
	if !cmp.Equal(a.FeaturesPresent, b.FeaturesPresent) {
		t.Error(cmp.Diff(a.FeaturesPresent, b.FeaturesPresent))
	}
	if a.ID == b.ID {
		t.Error("snapshots share an id")
	}
}

func TestExtractCRLF(t *testing.T) {
	e, ctx := testExtractor(t)
	crlf := "control-plane\r\n service-policy input COPP-POLICY\r\n"
	snap, err := e.Extract(ctx, crlf, netsift.IOSXE, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range snap.FeaturesPresent {
		if l == "SEC_CoPP" {
			return
		}
	}
	t.Errorf("CRLF capture not normalized: %v", snap.FeaturesPresent)
}

func TestExtractHardwareHint(t *testing.T) {
	e, ctx := testExtractor(t)
	show := "Cisco IOS XE Software, Version 17.10.01\n" +
		"cisco C9300-48P (X86) processor with 1318934K/6147K bytes of memory.\n" +
		"Model Number                       : C9300-48P\n"
	snap, err := e.Extract(ctx, catConfig, netsift.IOSXE, show)
	if err != nil {
		t.Fatal(err)
	}
	if snap.HardwareModel != "Cat9300" {
		t.Errorf("hardware hint classified as %q", snap.HardwareModel)
	}
}

func TestExtractUnknownPlatform(t *testing.T) {
	e, ctx := testExtractor(t)
	if _, err := e.Extract(ctx, catConfig, netsift.Platform("JUNOS"), ""); err == nil {
		t.Error("expected platform rejection")
	}
}

// TestSanitized locks in the air-gap contract: nothing from the input text
// may appear in the snapshot.
func TestSanitized(t *testing.T) {
	e, ctx := testExtractor(t)
	cfg := catConfig + "\nusername admin privilege 15 secret 5 $1$QJxZ$abcdef\n"
	snap, err := e.Extract(ctx, cfg, netsift.IOSXE, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, l := range snap.FeaturesPresent {
		switch l {
		case "edge-sw-01", "192.0.2.50", "admin":
			t.Fatalf("snapshot leaked input text: %q", l)
		}
	}
}

func TestVerify(t *testing.T) {
	snap := &netsift.FeatureSnapshot{
		Platform:        netsift.IOSXE,
		FeaturesPresent: []string{"MGMT_SNMP", "RTE_OSPF"},
		FeatureCount:    2,
	}
	present, absent := Verify(snap, []string{"RTE_OSPF", "APP_IOx"})
	if !cmp.Equal(present, []string{"RTE_OSPF"}) {
		t.Error(cmp.Diff([]string{"RTE_OSPF"}, present))
	}
	if !cmp.Equal(absent, []string{"APP_IOx"}) {
		t.Error(cmp.Diff([]string{"APP_IOx"}, absent))
	}
}
