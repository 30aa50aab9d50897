package test

import (
	"fmt"
	"time"

	"github.com/netsift/netsift"
)

// labelCycle is a rotation of codes present in the embedded taxonomy, so
// generated records stay valid against a default catalog.
var labelCycle = []string{"RTE_OSPF", "MGMT_SSH_HTTP", "APP_IOx", "SEC_AAA"}

// GenUniqueVulnerabilities creates an array of unique vulnerabilities on the
// given platform. Every keyed field is derived from the index, so no two
// records collide. Kinds alternate between bug and advisory, severities and
// labels cycle, and each record carries a minor-wildcard affected span of the
// form "17.N.x" with N cycling over 1 through 24.
func GenUniqueVulnerabilities(n int, platform netsift.Platform) []*netsift.Vulnerability {
	vs := make([]*netsift.Vulnerability, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		v := &netsift.Vulnerability{
			ID:           fmt.Sprintf("CSCgen%05d", i),
			Kind:         netsift.KindBug,
			Platform:     platform,
			Severity:     netsift.Severity(i%6 + 1),
			Headline:     fmt.Sprintf("generated defect %d", i),
			Labels:       []string{labelCycle[i%len(labelCycle)]},
			LabelsSource: netsift.SourceManual,
			LastModified: base.Add(time.Duration(i) * time.Minute),
		}
		if i%2 == 1 {
			v.Kind = netsift.KindPSIRT
			v.ID = fmt.Sprintf("cisco-sa-gen-%d", i)
		}
		span, err := netsift.ClassifyAffected(fmt.Sprintf("17.%d.x", i%24+1))
		if err != nil {
			panic(err)
		}
		v.Affected = span
		vs = append(vs, v)
	}
	return vs
}
