package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/basket/crewdeck/internal/plan"
)

// GetPlan loads one plan document. Returns plan.ErrNotFound when no plan
// with that id exists in the workspace.
func (s *Store) GetPlan(ctx context.Context, workspaceID, planID string) (*plan.Plan, error) {
	if workspaceID == "" || planID == "" {
		return nil, fmt.Errorf("%w: workspace and plan id are required", plan.ErrValidation)
	}
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT doc FROM plans WHERE workspace_id = ? AND id = ?;
	`, workspaceID, planID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: plan %s in workspace %s", plan.ErrNotFound, planID, workspaceID)
	}
	if err != nil {
		return nil, fmt.Errorf("query plan: %w", err)
	}
	var p plan.Plan
	if err := json.Unmarshal(doc, &p); err != nil {
		return nil, fmt.Errorf("decode plan %s: %w", planID, err)
	}
	return &p, nil
}

// SavePlan upserts the full plan document. The document is validated before
// anything touches the database.
func (s *Store) SavePlan(ctx context.Context, p *plan.Plan) error {
	if p == nil {
		return fmt.Errorf("%w: nil plan", plan.ErrValidation)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	p.UpdatedAt = time.Now().UTC()
	doc, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode plan %s: %w", p.ID, err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO plans (id, workspace_id, status, doc, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(workspace_id, id) DO UPDATE SET
				status = excluded.status,
				doc = excluded.doc,
				updated_at = excluded.updated_at;
		`, p.ID, p.WorkspaceID, string(p.Status), doc, p.CreatedAt.UTC(), p.UpdatedAt)
		if err != nil {
			return fmt.Errorf("save plan %s: %w", p.ID, err)
		}
		return nil
	})
}

// ListPlans returns every plan in a workspace, most recently updated first.
func (s *Store) ListPlans(ctx context.Context, workspaceID string) ([]*plan.Plan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT doc FROM plans WHERE workspace_id = ? ORDER BY updated_at DESC;
	`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("query plans: %w", err)
	}
	defer rows.Close()

	var out []*plan.Plan
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, fmt.Errorf("scan plan: %w", err)
		}
		var p plan.Plan
		if err := json.Unmarshal(doc, &p); err != nil {
			return nil, fmt.Errorf("decode plan: %w", err)
		}
		out = append(out, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("plan rows: %w", err)
	}
	return out, nil
}

// SaveHandoffContext stores a handoff data payload keyed by the ordered
// agent pair, outside the plan document so large payloads never bloat it.
// A later handoff between the same pair overwrites the previous payload.
func (s *Store) SaveHandoffContext(ctx context.Context, workspaceID, planID, fromAgent, toAgent string, payload map[string]any) error {
	doc, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode handoff context: %w", err)
	}
	return retryOnBusy(ctx, 5, func() error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO handoff_context (workspace_id, plan_id, from_agent, to_agent, payload, updated_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(workspace_id, plan_id, from_agent, to_agent) DO UPDATE SET
				payload = excluded.payload,
				updated_at = CURRENT_TIMESTAMP;
		`, workspaceID, planID, fromAgent, toAgent, doc)
		if err != nil {
			return fmt.Errorf("save handoff context: %w", err)
		}
		return nil
	})
}

// GetHandoffContext loads the most recent payload for an ordered agent pair.
// Returns plan.ErrNotFound when the pair has never exchanged data.
func (s *Store) GetHandoffContext(ctx context.Context, workspaceID, planID, fromAgent, toAgent string) (map[string]any, error) {
	var doc []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT payload FROM handoff_context
		WHERE workspace_id = ? AND plan_id = ? AND from_agent = ? AND to_agent = ?;
	`, workspaceID, planID, fromAgent, toAgent).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: handoff context %s->%s", plan.ErrNotFound, fromAgent, toAgent)
	}
	if err != nil {
		return nil, fmt.Errorf("query handoff context: %w", err)
	}
	var payload map[string]any
	if err := json.Unmarshal(doc, &payload); err != nil {
		return nil, fmt.Errorf("decode handoff context: %w", err)
	}
	return payload, nil
}
