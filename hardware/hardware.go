// Package hardware normalizes free-text hardware mentions to family tags.
//
// A family tag is the coarse product grouping a vulnerability can be
// restricted to: "C9200L-24T-4G" and "Catalyst 9200" both normalize to
// "Cat9200". The classifier is applied in two places: to bug headlines and
// summaries at ingest, and to "show version" output at device discovery. An
// empty result means no family could be recognized, which the catalog treats
// as "generic, applies to all hardware of the platform".
package hardware

import "regexp"

type family struct {
	Tag string
	re  *regexp.Regexp
}

// families is consulted in order; the first match wins. Bare numbers are
// never matched on their own: "9300" only classifies with a C prefix or a
// product-line word in front, so "Nexus 9300" and "Catalyst 9300" land in
// different families.
var families = []family{
	// Catalyst switching.
	{Tag: "Cat9200", re: regexp.MustCompile(`(?i)\b(?:WS-)?C9200[A-Z]*(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*9200`)},
	{Tag: "Cat9300", re: regexp.MustCompile(`(?i)\b(?:WS-)?C9300[A-Z]*(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*9300`)},
	{Tag: "Cat9400", re: regexp.MustCompile(`(?i)\bC9400(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*9400`)},
	{Tag: "Cat9500", re: regexp.MustCompile(`(?i)\bC9500[A-Z]*(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*9500`)},
	{Tag: "Cat9600", re: regexp.MustCompile(`(?i)\bC9600(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*9600`)},
	{Tag: "Cat3850", re: regexp.MustCompile(`(?i)\bWS-C3850(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*3850`)},
	{Tag: "Cat3650", re: regexp.MustCompile(`(?i)\bWS-C3650(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*3650`)},
	{Tag: "IE3x00", re: regexp.MustCompile(`(?i)\bIE-?3[2345]00(?:-[0-9A-Z-]+)?\b`)},

	// Routing.
	{Tag: "ASR1K", re: regexp.MustCompile(`(?i)\bASR[ -]?10\d\d(?:-[A-Z0-9]+)?\b`)},
	{Tag: "ASR9K", re: regexp.MustCompile(`(?i)\bASR[ -]?9\d{3}\b`)},
	{Tag: "ISR4K", re: regexp.MustCompile(`(?i)\bISR[ -]?4[34][0-9]1\b`)},
	{Tag: "ISR1K", re: regexp.MustCompile(`(?i)\bISR[ -]?11\d\d\b|\bC11\d\d(?:-[0-9A-Z-]+)?\b`)},
	{Tag: "C8000", re: regexp.MustCompile(`(?i)\bC8[0235]00V?(?:-[0-9A-Z-]+)?\b|\bCatalyst\s*8[0-9]00`)},
	{Tag: "CSR1Kv", re: regexp.MustCompile(`(?i)\bCSR[ -]?1000[Vv]\b`)},
	{Tag: "NCS540", re: regexp.MustCompile(`(?i)\bNCS[ -]?540\b`)},
	{Tag: "NCS5500", re: regexp.MustCompile(`(?i)\bNCS[ -]?55\d\d\b`)},
	{Tag: "NCS560", re: regexp.MustCompile(`(?i)\bNCS[ -]?560\b`)},

	// Nexus data center.
	{Tag: "N9K", re: regexp.MustCompile(`(?i)\bN9K(?:-[0-9A-Z-]+)?\b|\bNexus\s*9\d{2,}`)},
	{Tag: "N7K", re: regexp.MustCompile(`(?i)\bN7K(?:-[0-9A-Z-]+)?\b|\bNexus\s*7\d{3}`)},
	{Tag: "N5K", re: regexp.MustCompile(`(?i)\bN5K(?:-[0-9A-Z-]+)?\b|\bNexus\s*5\d{3}`)},
	{Tag: "N3K", re: regexp.MustCompile(`(?i)\bN3K(?:-[0-9A-Z-]+)?\b|\bNexus\s*3\d{3}`)},

	// Security appliances.
	{Tag: "FPR", re: regexp.MustCompile(`(?i)\bFPR[ -]?\d{4}(?:-[0-9A-Z-]+)?\b|\bFirepower\s*[1249]\d{3}`)},
	{Tag: "ASA5500X", re: regexp.MustCompile(`(?i)\bASA[ -]?55[0-9]{2}(?:-X)?\b`)},
}

// Classify normalizes a free-text hardware mention to a family tag.
//
// The whole text is scanned: headline and summary can be concatenated and
// passed in one call. The empty string is returned when no family matched,
// meaning the mention is generic.
func Classify(s string) string {
	if s == "" {
		return ""
	}
	for i := range families {
		if families[i].re.MatchString(s) {
			return families[i].Tag
		}
	}
	return ""
}

// Model-number lines in "show version" output, most specific first. The
// captured model string is fed back through Classify.
var showVersionModel = []*regexp.Regexp{
	regexp.MustCompile(`(?m)^Model [Nn]umber\s*:\s*(\S+)`),
	regexp.MustCompile(`(?m)^cisco\s+(\S+)\s+\(`),
	regexp.MustCompile(`(?m)^cisco\s+(Nexus\s*\S+)`),
	regexp.MustCompile(`(?m)^Hardware:\s*(\S+?),`),
	regexp.MustCompile(`(?m)^Hardware\s+:\s+(\S+)`),
}

// FromShowVersion extracts the device model from "show version" output and
// classifies it.
//
// It prefers the explicit model-number line over the banner so that a banner
// mentioning a different product (a supervisor or chassis name) does not
// shadow the device's own model.
func FromShowVersion(out string) string {
	for _, re := range showVersionModel {
		m := re.FindStringSubmatch(out)
		if m == nil {
			continue
		}
		if tag := Classify(m[1]); tag != "" {
			return tag
		}
	}
	// Fall back to scanning the whole output.
	return Classify(out)
}

// Known reports whether the tag is one this classifier can produce. Useful
// for validating externally supplied family tags.
func Known(tag string) bool {
	for i := range families {
		if families[i].Tag == tag {
			return true
		}
	}
	return false
}
