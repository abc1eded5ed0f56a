package coordinator_test

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/crewdeck/internal/coordinator"
)

func TestSummary_RegeneratedOnEveryMutation(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	c := coordinator.New(coordinator.Config{
		Store:      newMemStore(),
		Logger:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		SummaryDir: dir,
	})

	if _, err := c.CreatePlan(ctx, "ws-1", "plan-1", "ship the registry"); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	path := filepath.Join(dir, "ws-1-plan-1.md")
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("summary not written: %v", err)
	}
	if !strings.Contains(string(data), "# ship the registry") {
		t.Fatalf("summary content = %s", data)
	}

	if _, err := c.InitialiseAgent(ctx, "ws-1", "plan-1", "builder", nil); err != nil {
		t.Fatalf("initialise: %v", err)
	}
	if _, err := c.Handoff(ctx, "ws-1", "plan-1", "builder", "reviewer", "done building", nil); err != nil {
		t.Fatalf("handoff: %v", err)
	}

	data, err = os.ReadFile(path)
	if err != nil {
		t.Fatalf("reread summary: %v", err)
	}
	text := string(data)
	if !strings.Contains(text, "## Sessions") || !strings.Contains(text, "## Handoffs") {
		t.Fatalf("summary missing sections:\n%s", text)
	}
	if !strings.Contains(text, "builder -> reviewer") {
		t.Fatalf("handoff not rendered:\n%s", text)
	}
}

func TestSummary_DisabledWhenNoDirConfigured(t *testing.T) {
	ctx := context.Background()
	c := newCoordinator(newMemStore())
	// No SummaryDir: mutations still succeed with nothing written.
	if _, err := c.CreatePlan(ctx, "ws-1", "plan-1", "t"); err != nil {
		t.Fatalf("create plan: %v", err)
	}
}
