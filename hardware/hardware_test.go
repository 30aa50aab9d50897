package hardware

import "testing"

type classifyTestcase struct {
	Name string
	In   string
	Want string
}

func (tc classifyTestcase) Run(t *testing.T) {
	if got := Classify(tc.In); got != tc.Want {
		t.Errorf("Classify(%q) = %q, want %q", tc.In, got, tc.Want)
	}
}

var classifytt = []classifyTestcase{
	{Name: "ModelNumber", In: "C9200L-24T-4G", Want: "Cat9200"},
	{Name: "ProductLine", In: "Catalyst 9200 Series Switches", Want: "Cat9200"},
	{Name: "Cat9300Model", In: "C9300-48UXM", Want: "Cat9300"},
	{Name: "Cat9300L", In: "C9300L-24P-4G", Want: "Cat9300"},
	{Name: "WSPrefix", In: "WS-C3850-48F-S", Want: "Cat3850"},
	{Name: "ASRSpace", In: "ASR 1001-X", Want: "ASR1K"},
	{Name: "ASRJoined", In: "ASR1002-HX", Want: "ASR1K"},
	{Name: "ASR9000", In: "ASR 9901", Want: "ASR9K"},
	{Name: "ISR", In: "ISR4451-X/K9", Want: "ISR4K"},
	{Name: "Cat8300", In: "C8300-1N1S-4T2X", Want: "C8000"},
	{Name: "Cat8000V", In: "Catalyst 8000V Edge Software", Want: "C8000"},
	{Name: "CSR", In: "CSR1000V", Want: "CSR1Kv"},
	{Name: "NexusModel", In: "N9K-C93180YC-EX", Want: "N9K"},
	{Name: "NexusSeries", In: "Nexus 9300 Series", Want: "N9K"},
	{Name: "NexusNotCatalyst", In: "Cisco Nexus 9200 platform switches", Want: "N9K"},
	{Name: "Nexus7000", In: "Nexus 7010", Want: "N7K"},
	{Name: "Firepower", In: "Firepower 2110", Want: "FPR"},
	{Name: "FPRModel", In: "FPR-4115", Want: "FPR"},
	{Name: "ASAModel", In: "ASA5525-X", Want: "ASA5500X"},
	{Name: "NCS", In: "NCS 540 Series Routers", Want: "NCS540"},
	{Name: "Generic", In: "A vulnerability in the web UI of Cisco IOS XE Software", Want: ""},
	{Name: "Empty", In: "", Want: ""},
	{Name: "BareNumber", In: "affects release 9300 builds", Want: ""},
}

func TestClassify(t *testing.T) {
	for _, tc := range classifytt {
		t.Run(tc.Name, tc.Run)
	}
}

const catalystShowVersion = `Cisco IOS XE Software, Version 17.06.04
Cisco IOS Software [Bengaluru], Catalyst L3 Switch Software (CAT9K_IOSXE), Version 17.6.4, RELEASE SOFTWARE (fc1)

cisco C9300-48UXM (X86) processor with 1338934K/6147K bytes of memory.
Model Number                       : C9300-48UXM
System Serial Number               : FCW0000L0QZ
`

const asaShowVersion = `Cisco Adaptive Security Appliance Software Version 9.16(4)
Hardware:   ASA5525, 8192 MB RAM, CPU Lynnfield 2394 MHz
`

const nexusShowVersion = `Cisco Nexus Operating System (NX-OS) Software
  cisco Nexus9000 C93180YC-EX chassis
  Hardware
    cisco Nexus9000 C93180YC-EX Chassis
`

func TestFromShowVersion(t *testing.T) {
	tt := []struct {
		Name string
		In   string
		Want string
	}{
		{Name: "Catalyst", In: catalystShowVersion, Want: "Cat9300"},
		{Name: "ASA", In: asaShowVersion, Want: "ASA5500X"},
		{Name: "Nexus", In: nexusShowVersion, Want: "N9K"},
		{Name: "Unrecognized", In: "Cisco IOS XE Software, Version 17.9.1\n", Want: ""},
	}
	for _, tc := range tt {
		t.Run(tc.Name, func(t *testing.T) {
			if got := FromShowVersion(tc.In); got != tc.Want {
				t.Errorf("got %q, want %q", got, tc.Want)
			}
		})
	}
}

func TestKnown(t *testing.T) {
	for _, tag := range []string{"Cat9200", "ASR1K", "N9K", "FPR"} {
		if !Known(tag) {
			t.Errorf("tag %q should be known", tag)
		}
	}
	if Known("Cat9999") {
		t.Error("made-up tag reported as known")
	}
}
