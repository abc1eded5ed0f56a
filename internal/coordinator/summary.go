package coordinator

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/basket/crewdeck/internal/plan"
)

// regenerateSummary writes the human-readable plan summary markdown. It is a
// best-effort collaborator: failures are logged, never returned, so a full
// disk cannot fail a handoff.
func (c *Coordinator) regenerateSummary(p *plan.Plan) {
	if c.summaryDir == "" {
		return
	}
	if err := os.MkdirAll(c.summaryDir, 0o755); err != nil {
		c.logger.Warn("summary dir create failed", "plan", p.ID, "error", err)
		return
	}
	path := filepath.Join(c.summaryDir, p.WorkspaceID+"-"+p.ID+".md")
	if err := os.WriteFile(path, []byte(renderSummary(p)), 0o644); err != nil {
		c.logger.Warn("summary write failed", "plan", p.ID, "error", err)
	}
}

func renderSummary(p *plan.Plan) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", p.Title)
	fmt.Fprintf(&b, "- Plan: `%s` (workspace `%s`)\n", p.ID, p.WorkspaceID)
	fmt.Fprintf(&b, "- Status: %s\n", p.Status)
	if p.CurrentAgent != "" {
		fmt.Fprintf(&b, "- Current agent: %s\n", p.CurrentAgent)
	}
	if p.CurrentPhase != "" {
		fmt.Fprintf(&b, "- Current phase: %s\n", p.CurrentPhase)
	}
	fmt.Fprintf(&b, "- Updated: %s\n", p.UpdatedAt.Format(time.RFC3339))

	if len(p.Steps) > 0 {
		b.WriteString("\n## Steps\n\n")
		b.WriteString("| # | Status | Task | Assignee |\n|---|---|---|---|\n")
		for _, s := range p.Steps {
			fmt.Fprintf(&b, "| %d | %s | %s | %s |\n", s.Index, s.Status, s.Task, s.Assignee)
		}
	}

	if len(p.Sessions) > 0 {
		b.WriteString("\n## Sessions\n\n")
		for _, s := range p.Sessions {
			state := "open"
			if !s.Open() {
				state = "completed " + s.CompletedAt.Format(time.RFC3339)
			}
			fmt.Fprintf(&b, "- %s (%s): started %s, %s\n",
				s.AgentType, s.SessionID, s.StartedAt.Format(time.RFC3339), state)
		}
	}

	if len(p.Lineage) > 0 {
		b.WriteString("\n## Handoffs\n\n")
		for _, e := range p.Lineage {
			fmt.Fprintf(&b, "- %s: %s -> %s (%s)\n",
				e.Timestamp.Format(time.RFC3339), e.FromAgent, e.ToAgent, e.Reason)
		}
	}
	return b.String()
}
