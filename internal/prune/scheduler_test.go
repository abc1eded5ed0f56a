package prune_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/basket/crewdeck/internal/persistence"
	"github.com/basket/crewdeck/internal/plan"
	"github.com/basket/crewdeck/internal/prune"
	"github.com/basket/crewdeck/internal/registry"
)

func newFixture(t *testing.T, cronExpr string, retention time.Duration) (*prune.Scheduler, *persistence.Store, *registry.Service) {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "crewdeck.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := registry.New(store, nil, logger)
	s, err := prune.NewScheduler(prune.Config{
		Store:     store,
		Registry:  reg,
		Logger:    logger,
		CronExpr:  cronExpr,
		Retention: retention,
	})
	if err != nil {
		t.Fatalf("new scheduler: %v", err)
	}
	return s, store, reg
}

func TestNewScheduler_RejectsBadCronExpression(t *testing.T) {
	_, err := prune.NewScheduler(prune.Config{CronExpr: "not a cron line"})
	if err == nil {
		t.Fatalf("expected invalid expression to be rejected")
	}
	// Six-field (seconds) expressions are not accepted either.
	_, err = prune.NewScheduler(prune.Config{CronExpr: "*/5 * * * * *"})
	if err == nil {
		t.Fatalf("expected six-field expression to be rejected")
	}
}

func TestNewScheduler_DefaultExpression(t *testing.T) {
	if _, err := prune.NewScheduler(prune.Config{}); err != nil {
		t.Fatalf("default config rejected: %v", err)
	}
}

func TestRunOnce_PrunesRegistryAndAudit(t *testing.T) {
	ctx := context.Background()
	s, store, reg := newFixture(t, "0 3 * * *", 24*time.Hour)

	expired := uuid.NewString()
	live := uuid.NewString()
	for _, id := range []string{expired, live} {
		if _, err := reg.Deploy(ctx, persistence.RegistryRow{
			SessionID: id, WorkspaceID: "ws-1", AgentType: "builder",
		}); err != nil {
			t.Fatalf("deploy: %v", err)
		}
	}
	if err := reg.Complete(ctx, expired); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx,
		`UPDATE session_registry SET updated_at = ? WHERE session_id = ?;`,
		time.Now().UTC().Add(-48*time.Hour), expired); err != nil {
		t.Fatalf("backdate: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx, `
		INSERT INTO audit_log (decision, category, created_at) VALUES ('blocked', 'terminal.exec', ?);
	`, time.Now().UTC().Add(-90*24*time.Hour)); err != nil {
		t.Fatalf("seed audit: %v", err)
	}

	s.RunOnce(ctx)

	if _, err := store.GetRegistryRow(ctx, expired); !errors.Is(err, plan.ErrNotFound) {
		t.Fatalf("expired row survived: %v", err)
	}
	if _, err := store.GetRegistryRow(ctx, live); err != nil {
		t.Fatalf("live row pruned: %v", err)
	}

	var auditRows int
	if err := store.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log;`).Scan(&auditRows); err != nil {
		t.Fatalf("count audit: %v", err)
	}
	if auditRows != 0 {
		t.Fatalf("audit rows = %d, want 0", auditRows)
	}
}

func TestStartStop_FiresImmediately(t *testing.T) {
	ctx := context.Background()
	s, store, reg := newFixture(t, "0 3 * * *", time.Hour)

	expired := uuid.NewString()
	if _, err := reg.Deploy(ctx, persistence.RegistryRow{
		SessionID: expired, WorkspaceID: "ws-1", AgentType: "builder",
	}); err != nil {
		t.Fatalf("deploy: %v", err)
	}
	if err := reg.Complete(ctx, expired); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, err := store.DB().ExecContext(ctx,
		`UPDATE session_registry SET updated_at = ? WHERE session_id = ?;`,
		time.Now().UTC().Add(-2*time.Hour), expired); err != nil {
		t.Fatalf("backdate: %v", err)
	}

	s.Start(ctx)
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for {
		if _, err := store.GetRegistryRow(ctx, expired); errors.Is(err, plan.ErrNotFound) {
			return
		}
		select {
		case <-deadline:
			t.Fatalf("startup prune never ran")
		case <-time.After(20 * time.Millisecond):
		}
	}
}
