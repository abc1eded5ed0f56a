// Package registry is the live index of currently-active agent sessions per
// workspace: which step indices and files each session claims. It is
// advisory, not a lock service: it surfaces overlap so a deploying agent can
// wait, negotiate, or proceed with a warning, and a crashed agent can never
// deadlock the workspace.
package registry

import (
	"context"
	"log/slog"
	"time"

	"github.com/basket/crewdeck/internal/bus"
	"github.com/basket/crewdeck/internal/persistence"
)

// staleMultiple scales the retention window for rows still marked active:
// an orphaned claim from a crashed agent survives the retention window times
// this factor before the pruner gives up on it.
const staleMultiple = 7

// Service exposes the registry operations over the store.
type Service struct {
	store  *persistence.Store
	bus    *bus.Bus // may be nil in tests
	logger *slog.Logger
}

// New creates a registry Service.
func New(store *persistence.Store, b *bus.Bus, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, bus: b, logger: logger}
}

// Deploy upserts the caller's registry row and reports which active peers
// already claim the same steps or files. Idempotent by session id: a repeat
// call overwrites mutable fields, refreshes updated_at, and keeps the
// existing materialized path when none is supplied. Conflicts never fail the
// deploy; the row lands either way.
func (s *Service) Deploy(ctx context.Context, row persistence.RegistryRow) ([]Conflict, error) {
	if err := s.store.UpsertRegistryRow(ctx, row); err != nil {
		return nil, err
	}
	conflicts, err := s.FindConflicts(ctx, row.WorkspaceID, row.SessionID, row.ClaimedSteps, row.FilesInScope)
	if err != nil {
		return nil, err
	}
	if len(conflicts) > 0 {
		s.logger.Warn("deploy overlaps active peers",
			"workspace", row.WorkspaceID, "session_id", row.SessionID,
			"conflicts", len(conflicts))
		if s.bus != nil {
			s.bus.Publish(bus.TopicRegistryConflict, bus.RegistryConflictEvent{
				WorkspaceID: row.WorkspaceID,
				SessionID:   row.SessionID,
				Conflicts:   len(conflicts),
			})
		}
	}
	return conflicts, nil
}

// Update applies a partial patch; omitted fields keep their prior value.
// Called on every step-status transition so peers always see current claims.
func (s *Service) Update(ctx context.Context, sessionID string, patch persistence.RegistryPatch) error {
	return s.store.UpdateRegistryRow(ctx, sessionID, patch)
}

// Complete marks the row completed. The row remains visible until pruned.
func (s *Service) Complete(ctx context.Context, sessionID string) error {
	return s.store.CompleteRegistryRow(ctx, sessionID)
}

// ActivePeers returns every other active session in the workspace, oldest
// started_at first. This is the primary conflict-avoidance query.
func (s *Service) ActivePeers(ctx context.Context, workspaceID, excludeSessionID string) ([]persistence.RegistryRow, error) {
	return s.store.ActivePeerRows(ctx, workspaceID, excludeSessionID)
}

// Conflict describes one peer session whose claims overlap the caller's.
type Conflict struct {
	SessionID string   `json:"session_id"`
	AgentType string   `json:"agent_type"`
	PlanID    string   `json:"plan_id,omitempty"`
	Steps     []int    `json:"steps,omitempty"`
	Files     []string `json:"files,omitempty"`
}

// FindConflicts compares intended claims against every active peer and
// returns the overlaps. It never refuses a claim; the decision belongs to
// the caller.
func (s *Service) FindConflicts(ctx context.Context, workspaceID, excludeSessionID string, claimedSteps []int, filesInScope []string) ([]Conflict, error) {
	peers, err := s.ActivePeers(ctx, workspaceID, excludeSessionID)
	if err != nil {
		return nil, err
	}
	wantSteps := make(map[int]struct{}, len(claimedSteps))
	for _, idx := range claimedSteps {
		wantSteps[idx] = struct{}{}
	}
	wantFiles := make(map[string]struct{}, len(filesInScope))
	for _, f := range filesInScope {
		wantFiles[f] = struct{}{}
	}

	var conflicts []Conflict
	for _, peer := range peers {
		var overlap Conflict
		for _, idx := range peer.ClaimedSteps {
			if _, ok := wantSteps[idx]; ok {
				overlap.Steps = append(overlap.Steps, idx)
			}
		}
		for _, f := range peer.FilesInScope {
			if _, ok := wantFiles[f]; ok {
				overlap.Files = append(overlap.Files, f)
			}
		}
		if len(overlap.Steps) > 0 || len(overlap.Files) > 0 {
			overlap.SessionID = peer.SessionID
			overlap.AgentType = peer.AgentType
			overlap.PlanID = peer.PlanID
			conflicts = append(conflicts, overlap)
		}
	}
	return conflicts, nil
}

// Prune removes completed rows older than the retention window and any row,
// regardless of status, older than staleMultiple times the window. Returns
// the total removed.
func (s *Service) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	now := time.Now().UTC()
	completed, err := s.store.PruneCompletedRows(ctx, now.Add(-retention))
	if err != nil {
		return 0, err
	}
	stale, err := s.store.PruneStaleRows(ctx, now.Add(-time.Duration(staleMultiple)*retention))
	if err != nil {
		return completed, err
	}
	total := completed + stale
	if total > 0 {
		s.logger.Info("registry pruned", "completed", completed, "stale", stale)
		if s.bus != nil {
			s.bus.Publish(bus.TopicRegistryPruned, bus.RegistryPrunedEvent{Removed: int(total)})
		}
	}
	return total, nil
}
