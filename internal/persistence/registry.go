package persistence

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/basket/crewdeck/internal/plan"
)

// Registry row statuses. The registry is a live, disposable index of
// present-tense claims; the durable session history lives in the plan
// document.
const (
	RegistryActive    = "active"
	RegistryStopping  = "stopping"
	RegistryCompleted = "completed"
)

// RegistryRow is one live agent session and its claims.
type RegistryRow struct {
	SessionID        string    `json:"session_id"`
	WorkspaceID      string    `json:"workspace_id"`
	PlanID           string    `json:"plan_id,omitempty"`
	AgentType        string    `json:"agent_type"`
	CurrentPhase     string    `json:"current_phase,omitempty"`
	ClaimedSteps     []int     `json:"claimed_steps,omitempty"`
	FilesInScope     []string  `json:"files_in_scope,omitempty"`
	MaterializedPath string    `json:"materialized_path,omitempty"`
	Status           string    `json:"status"`
	StartedAt        time.Time `json:"started_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// RegistryPatch is a partial update; nil fields keep their prior value.
type RegistryPatch struct {
	PlanID           *string
	CurrentPhase     *string
	ClaimedSteps     *[]int
	FilesInScope     *[]string
	MaterializedPath *string
	Status           *string
}

// UpsertRegistryRow inserts or overwrites the row for a session. The first
// insert sets status=active and started_at; repeat calls refresh the mutable
// fields and updated_at, preserving materialized_path when the incoming row
// does not carry one.
func (s *Store) UpsertRegistryRow(ctx context.Context, row RegistryRow) error {
	if _, err := uuid.Parse(row.SessionID); err != nil {
		return fmt.Errorf("%w: invalid session_id: %v", plan.ErrValidation, err)
	}
	if row.WorkspaceID == "" || row.AgentType == "" {
		return fmt.Errorf("%w: workspace_id and agent_type are required", plan.ErrValidation)
	}
	steps, err := json.Marshal(emptyIfNilInts(row.ClaimedSteps))
	if err != nil {
		return fmt.Errorf("encode claimed steps: %w", err)
	}
	files, err := json.Marshal(emptyIfNilStrings(row.FilesInScope))
	if err != nil {
		return fmt.Errorf("encode files in scope: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO session_registry
				(session_id, workspace_id, plan_id, agent_type, current_phase,
				 claimed_steps, files_in_scope, materialized_path, status, started_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'active', CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
			ON CONFLICT(session_id) DO UPDATE SET
				workspace_id = excluded.workspace_id,
				plan_id = excluded.plan_id,
				agent_type = excluded.agent_type,
				current_phase = excluded.current_phase,
				claimed_steps = excluded.claimed_steps,
				files_in_scope = excluded.files_in_scope,
				materialized_path = COALESCE(NULLIF(excluded.materialized_path, ''), session_registry.materialized_path),
				updated_at = CURRENT_TIMESTAMP;
		`, row.SessionID, row.WorkspaceID, row.PlanID, row.AgentType, row.CurrentPhase,
			string(steps), string(files), row.MaterializedPath)
		if err != nil {
			return fmt.Errorf("upsert registry row: %w", err)
		}
		return nil
	})
}

// UpdateRegistryRow applies a partial patch to an existing row. Returns
// plan.ErrNotFound when the session has no row.
func (s *Store) UpdateRegistryRow(ctx context.Context, sessionID string, patch RegistryPatch) error {
	sets := []string{"updated_at = CURRENT_TIMESTAMP"}
	var args []any
	if patch.PlanID != nil {
		sets = append(sets, "plan_id = ?")
		args = append(args, *patch.PlanID)
	}
	if patch.CurrentPhase != nil {
		sets = append(sets, "current_phase = ?")
		args = append(args, *patch.CurrentPhase)
	}
	if patch.ClaimedSteps != nil {
		steps, err := json.Marshal(emptyIfNilInts(*patch.ClaimedSteps))
		if err != nil {
			return fmt.Errorf("encode claimed steps: %w", err)
		}
		sets = append(sets, "claimed_steps = ?")
		args = append(args, string(steps))
	}
	if patch.FilesInScope != nil {
		files, err := json.Marshal(emptyIfNilStrings(*patch.FilesInScope))
		if err != nil {
			return fmt.Errorf("encode files in scope: %w", err)
		}
		sets = append(sets, "files_in_scope = ?")
		args = append(args, string(files))
	}
	if patch.MaterializedPath != nil {
		sets = append(sets, "materialized_path = ?")
		args = append(args, *patch.MaterializedPath)
	}
	if patch.Status != nil {
		switch *patch.Status {
		case RegistryActive, RegistryStopping, RegistryCompleted:
		default:
			return fmt.Errorf("%w: invalid registry status %q", plan.ErrValidation, *patch.Status)
		}
		sets = append(sets, "status = ?")
		args = append(args, *patch.Status)
	}
	args = append(args, sessionID)

	return retryOnBusy(ctx, 5, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE session_registry SET `+strings.Join(sets, ", ")+` WHERE session_id = ?;`, args...)
		if err != nil {
			return fmt.Errorf("update registry row: %w", err)
		}
		n, _ := res.RowsAffected()
		if n == 0 {
			return fmt.Errorf("%w: registry session %s", plan.ErrNotFound, sessionID)
		}
		return nil
	})
}

// CompleteRegistryRow marks a session completed without deleting it;
// deletion is the pruner's job.
func (s *Store) CompleteRegistryRow(ctx context.Context, sessionID string) error {
	status := RegistryCompleted
	return s.UpdateRegistryRow(ctx, sessionID, RegistryPatch{Status: &status})
}

// GetRegistryRow loads one row by session id.
func (s *Store) GetRegistryRow(ctx context.Context, sessionID string) (*RegistryRow, error) {
	rows, err := s.queryRegistry(ctx, `WHERE session_id = ?`, sessionID)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: registry session %s", plan.ErrNotFound, sessionID)
	}
	return &rows[0], nil
}

// ActivePeerRows returns every active row in the workspace other than the
// caller's own, ordered oldest started_at first. Oldest claims surface
// first: they are the longest-held and highest-priority to respect.
func (s *Store) ActivePeerRows(ctx context.Context, workspaceID, excludeSessionID string) ([]RegistryRow, error) {
	return s.queryRegistry(ctx, `
		WHERE workspace_id = ? AND status = 'active' AND session_id != ?
		ORDER BY started_at ASC`, workspaceID, excludeSessionID)
}

// PruneCompletedRows deletes completed rows whose last update is older than
// the cutoff, returning the number removed.
func (s *Store) PruneCompletedRows(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM session_registry WHERE status = 'completed' AND updated_at < ?;
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune completed sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// PruneStaleRows deletes rows of any status whose last update is older than
// the cutoff. Used for orphaned active rows left by crashed agents.
func (s *Store) PruneStaleRows(ctx context.Context, olderThan time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM session_registry WHERE updated_at < ?;
	`, olderThan.UTC())
	if err != nil {
		return 0, fmt.Errorf("prune stale sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (s *Store) queryRegistry(ctx context.Context, where string, args ...any) ([]RegistryRow, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, workspace_id, COALESCE(plan_id, ''), agent_type,
		       COALESCE(current_phase, ''), claimed_steps, files_in_scope,
		       COALESCE(materialized_path, ''), status, started_at, updated_at
		FROM session_registry `+where+`;`, args...)
	if err != nil {
		return nil, fmt.Errorf("query session registry: %w", err)
	}
	defer rows.Close()

	var out []RegistryRow
	for rows.Next() {
		var row RegistryRow
		var steps, files string
		if err := rows.Scan(&row.SessionID, &row.WorkspaceID, &row.PlanID, &row.AgentType,
			&row.CurrentPhase, &steps, &files, &row.MaterializedPath,
			&row.Status, &row.StartedAt, &row.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan registry row: %w", err)
		}
		if err := json.Unmarshal([]byte(steps), &row.ClaimedSteps); err != nil {
			return nil, fmt.Errorf("decode claimed steps: %w", err)
		}
		if err := json.Unmarshal([]byte(files), &row.FilesInScope); err != nil {
			return nil, fmt.Errorf("decode files in scope: %w", err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("registry rows: %w", err)
	}
	return out, nil
}

func emptyIfNilInts(v []int) []int {
	if v == nil {
		return []int{}
	}
	return v
}

func emptyIfNilStrings(v []string) []string {
	if v == nil {
		return []string{}
	}
	return v
}
