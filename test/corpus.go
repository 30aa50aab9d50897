package test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/netsift/netsift"
)

// GenUniqueExemplars creates an array of unique labeled exemplars on the
// given platform. Summaries differ by index-derived tokens, so every
// exemplar embeds to its own point and a query with an exemplar's exact
// summary ranks that exemplar first.
func GenUniqueExemplars(n int, platform netsift.Platform) []netsift.Exemplar {
	es := make([]netsift.Exemplar, 0, n)
	for i := 0; i < n; i++ {
		es = append(es, netsift.Exemplar{
			ID:       fmt.Sprintf("cisco-sa-gen-%d", i),
			Platform: platform,
			Summary: fmt.Sprintf(
				"A vulnerability in subsystem %d of the management plane could allow a remote attacker to degrade component %d of an affected device.",
				i, i%7),
			Labels: []string{labelCycle[i%len(labelCycle)]},
		})
	}
	return es
}

// CorpusReader encodes exemplars in the JSON-lines corpus format the
// retriever loads, one object per line.
func CorpusReader(exemplars []netsift.Exemplar) io.Reader {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i := range exemplars {
		if err := enc.Encode(&exemplars[i]); err != nil {
			panic(err)
		}
	}
	return &buf
}
