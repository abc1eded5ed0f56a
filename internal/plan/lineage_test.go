package plan_test

import (
	"strings"
	"testing"
	"time"

	"github.com/basket/crewdeck/internal/plan"
)

var recognized = map[string]struct{}{
	"planner": {}, "builder": {}, "reviewer": {},
}

func entry(offset time.Duration, from, to string) plan.LineageEntry {
	base := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	return plan.LineageEntry{Timestamp: base.Add(offset), FromAgent: from, ToAgent: to, Reason: "next phase"}
}

func TestVerifyLineage_ValidChain(t *testing.T) {
	entries := []plan.LineageEntry{
		entry(0, "planner", "builder"),
		entry(time.Minute, "builder", "reviewer"),
		entry(2*time.Minute, "reviewer", "builder"),
	}
	report := plan.VerifyLineage(entries, recognized)
	if !report.Valid {
		t.Fatalf("valid chain reported issues: %v", report.Issues)
	}
}

func TestVerifyLineage_EmptyChainIsValid(t *testing.T) {
	report := plan.VerifyLineage(nil, recognized)
	if !report.Valid || len(report.Issues) != 0 {
		t.Fatalf("empty chain: %+v", report)
	}
}

func TestVerifyLineage_ChainBreak(t *testing.T) {
	entries := []plan.LineageEntry{
		entry(0, "planner", "builder"),
		entry(time.Minute, "reviewer", "planner"), // builder never handed off
	}
	report := plan.VerifyLineage(entries, recognized)
	if report.Valid {
		t.Fatalf("broken chain reported valid")
	}
	if len(report.Issues) != 1 || !strings.Contains(report.Issues[0], "does not match") {
		t.Fatalf("issues = %v, want one chain-break issue", report.Issues)
	}
}

func TestVerifyLineage_NonMonotonicTimestamp(t *testing.T) {
	entries := []plan.LineageEntry{
		entry(time.Minute, "planner", "builder"),
		entry(0, "builder", "reviewer"),
	}
	report := plan.VerifyLineage(entries, recognized)
	if report.Valid {
		t.Fatalf("out-of-order timestamps reported valid")
	}
	if !strings.Contains(report.Issues[0], "timestamp") {
		t.Fatalf("issues = %v, want timestamp issue", report.Issues)
	}
}

func TestVerifyLineage_MissingAndUnrecognizedIdentity(t *testing.T) {
	entries := []plan.LineageEntry{
		entry(0, "", "builder"),
		entry(time.Minute, "builder", "intruder"),
	}
	report := plan.VerifyLineage(entries, recognized)
	if report.Valid {
		t.Fatalf("expected issues")
	}
	var missing, unrecognized bool
	for _, issue := range report.Issues {
		if strings.Contains(issue, "missing agent identity") {
			missing = true
		}
		if strings.Contains(issue, "not a recognized agent") {
			unrecognized = true
		}
	}
	if !missing || !unrecognized {
		t.Fatalf("issues = %v, want missing-identity and unrecognized-agent", report.Issues)
	}
}

func TestVerifyLineage_NilRecognizedSkipsIdentityCheck(t *testing.T) {
	entries := []plan.LineageEntry{entry(0, "alpha", "beta")}
	report := plan.VerifyLineage(entries, nil)
	if !report.Valid {
		t.Fatalf("identity check should be skipped: %v", report.Issues)
	}
}

func TestVerifyLineage_CollectsAllIssues(t *testing.T) {
	entries := []plan.LineageEntry{
		entry(time.Minute, "planner", "builder"),
		entry(0, "reviewer", "ghost"),
	}
	report := plan.VerifyLineage(entries, recognized)
	if len(report.Issues) < 3 {
		t.Fatalf("issues = %v, want timestamp + chain break + unrecognized", report.Issues)
	}
}
