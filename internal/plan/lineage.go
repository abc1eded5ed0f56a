package plan

import "fmt"

// LineageReport is the outcome of a lineage chain verification. It is
// advisory: a broken chain is surfaced, never enforced, so a corrupted
// history degrades observability rather than halting a running plan.
type LineageReport struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues,omitempty"`
}

// VerifyLineage walks the full handoff chain and reports structural issues:
// non-monotonic timestamps, chain breaks where entry n's to_agent is not
// entry n+1's from_agent, and to_agent values outside the recognized set.
// A nil or empty recognized set skips the identity check.
func VerifyLineage(entries []LineageEntry, recognized map[string]struct{}) LineageReport {
	report := LineageReport{Valid: true}
	for i, e := range entries {
		if i > 0 {
			prev := entries[i-1]
			if e.Timestamp.Before(prev.Timestamp) {
				report.Issues = append(report.Issues,
					fmt.Sprintf("entry %d: timestamp precedes entry %d", i, i-1))
			}
			if prev.ToAgent != e.FromAgent {
				report.Issues = append(report.Issues,
					fmt.Sprintf("entry %d: from_agent %q does not match entry %d to_agent %q",
						i, e.FromAgent, i-1, prev.ToAgent))
			}
		}
		if e.FromAgent == "" || e.ToAgent == "" {
			report.Issues = append(report.Issues,
				fmt.Sprintf("entry %d: missing agent identity", i))
		}
		if len(recognized) > 0 {
			if _, ok := recognized[e.ToAgent]; !ok && e.ToAgent != "" {
				report.Issues = append(report.Issues,
					fmt.Sprintf("entry %d: to_agent %q is not a recognized agent", i, e.ToAgent))
			}
		}
	}
	report.Valid = len(report.Issues) == 0
	return report
}
