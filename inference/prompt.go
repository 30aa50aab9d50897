package inference

import (
	"fmt"
	"strings"
	"unicode"

	"github.com/netsift/netsift"
	"github.com/netsift/netsift/retriever"
)

// exemplarSummaryMax bounds how much of a neighbor's summary is quoted into
// the prompt.
const exemplarSummaryMax = 500

// buildPrompt renders the completion prompt for one query. Short summaries
// get the example-led layout; longer ones get the definition-led layout. Both
// carry the platform's full label catalog and the qualifying neighbor pairs,
// and both demand the same one-line answer format.
func buildPrompt(catalog []netsift.TaxonomyEntry, neighbors []retriever.Result, summary string, fewShotLimit int) string {
	if len(summary) < fewShotLimit {
		return buildFewShotPrompt(catalog, neighbors, summary)
	}
	return buildDefinitionPrompt(catalog, neighbors, summary)
}

func buildFewShotPrompt(catalog []netsift.TaxonomyEntry, neighbors []retriever.Result, summary string) string {
	var sb strings.Builder
	sb.WriteString("You are a Cisco network security analyst. ")
	sb.WriteString("Map the security advisory below onto the feature labels that must be ")
	sb.WriteString("configured on a device for it to be exposed.\n\n")

	writeCatalog(&sb, catalog)

	sb.WriteString("Labeled advisories for reference:\n")
	for _, n := range neighbors {
		fmt.Fprintf(&sb, "Advisory: %s\nLabels: %s\n\n",
			clipSummary(n.Exemplar.Summary), strings.Join(n.Exemplar.Labels, ", "))
	}

	sb.WriteString("Answer with a single line containing only label ids from the catalog, ")
	sb.WriteString("comma-separated. If no label applies, answer NONE.\n\n")
	fmt.Fprintf(&sb, "Advisory: %s\nLabels:", summary)
	return sb.String()
}

func buildDefinitionPrompt(catalog []netsift.TaxonomyEntry, neighbors []retriever.Result, summary string) string {
	var sb strings.Builder
	sb.WriteString("You are a Cisco network security analyst. ")
	sb.WriteString("Work through the security advisory below and decide which feature labels ")
	sb.WriteString("describe configuration a device must carry to be exposed:\n")
	sb.WriteString("1. Identify the affected subsystem or protocol named in the advisory\n")
	sb.WriteString("2. Match it against the label definitions, honoring any anti-definition\n")
	sb.WriteString("3. Keep only labels whose configuration is a precondition, not a mitigation\n\n")

	writeCatalog(&sb, catalog)

	if len(neighbors) > 0 {
		sb.WriteString("Previously labeled advisories for reference:\n")
		for _, n := range neighbors {
			fmt.Fprintf(&sb, "Advisory: %s\nLabels: %s\n\n",
				clipSummary(n.Exemplar.Summary), strings.Join(n.Exemplar.Labels, ", "))
		}
	}

	sb.WriteString("After your reasoning, end with exactly one line of the form\n")
	sb.WriteString("Labels: <comma-separated label ids from the catalog, or NONE>\n\n")
	fmt.Fprintf(&sb, "Advisory: %s\n", summary)
	return sb.String()
}

func writeCatalog(sb *strings.Builder, catalog []netsift.TaxonomyEntry) {
	sb.WriteString("Label catalog:\n")
	for _, ent := range catalog {
		fmt.Fprintf(sb, "- %s: %s", ent.Label, ent.Definition)
		if ent.AntiDefinition != "" {
			fmt.Fprintf(sb, " (not: %s)", ent.AntiDefinition)
		}
		sb.WriteByte('\n')
	}
	sb.WriteByte('\n')
}

func clipSummary(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if len(s) <= exemplarSummaryMax {
		return s
	}
	return s[:exemplarSummaryMax] + "…"
}

// parseLabels pulls the label list out of a model response. The contract is
// one comma-separated line, but models editorialize: the parser scans for the
// first line carrying label-shaped tokens (underscore ids like RTE_EIGRP) and
// returns those, deduplicated in order. Prose lines and a NONE answer yield
// nothing.
func parseLabels(raw string) []string {
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if i := strings.IndexByte(line, ':'); i >= 0 {
			switch strings.ToLower(strings.TrimSpace(line[:i])) {
			case "labels", "label", "answer":
				line = line[i+1:]
			}
		}
		fields := strings.FieldsFunc(line, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
		})
		var out []string
		seen := make(map[string]struct{})
		for _, f := range fields {
			// Label ids are domain-prefixed; bare words are model chatter.
			if !strings.ContainsRune(f, '_') {
				continue
			}
			if _, dup := seen[f]; dup {
				continue
			}
			seen[f] = struct{}{}
			out = append(out, f)
		}
		if len(out) > 0 {
			return out
		}
	}
	return nil
}
