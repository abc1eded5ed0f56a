// Package plan defines the task-graph data model shared by the coordination
// layer: plans, steps, agent sessions, and the handoff lineage chain.
package plan

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusArchived  Status = "archived"
	StatusFailed    Status = "failed"
)

// allowedPlanTransitions gates plan lifecycle changes. Terminal states
// (completed, archived, failed) have no outgoing edges.
var allowedPlanTransitions = map[Status]map[Status]struct{}{
	StatusActive: {
		StatusPaused:    {},
		StatusCompleted: {},
		StatusArchived:  {},
		StatusFailed:    {},
	},
	StatusPaused: {
		StatusActive:   {},
		StatusArchived: {},
		StatusFailed:   {},
	},
}

type StepStatus string

const (
	StepPending StepStatus = "pending"
	StepActive  StepStatus = "active"
	StepDone    StepStatus = "done"
	StepBlocked StepStatus = "blocked"
)

var allowedStepTransitions = map[StepStatus]map[StepStatus]struct{}{
	StepPending: {
		StepActive:  {},
		StepBlocked: {},
	},
	StepActive: {
		StepDone:    {},
		StepBlocked: {},
		StepPending: {}, // Released back to the pool.
	},
	StepBlocked: {
		StepPending: {},
		StepActive:  {},
	},
}

// Step is a single indexed task within a plan. Indices are dense and
// zero-based; reindexing after insert/delete keeps them contiguous.
type Step struct {
	Index       int        `json:"index"`
	Phase       string     `json:"phase,omitempty"`
	Task        string     `json:"task"`
	Status      StepStatus `json:"status"`
	Assignee    string     `json:"assignee,omitempty"`
	DependsOn   []int      `json:"depends_on,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// AgentSession is the durable record of one agent type's bounded interval
// of work on a plan. It is mutated exactly once, by completion.
type AgentSession struct {
	SessionID   string         `json:"session_id"`
	AgentType   string         `json:"agent_type"`
	StartedAt   time.Time      `json:"started_at"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Context     map[string]any `json:"context,omitempty"`
	Summary     string         `json:"summary,omitempty"`
	Artifacts   []string       `json:"artifacts,omitempty"`
}

// Open reports whether the session has not yet been completed.
func (s *AgentSession) Open() bool {
	return s.CompletedAt == nil
}

// LineageEntry records one transfer of control. The lineage list is
// append-only; entries are never rewritten once recorded.
type LineageEntry struct {
	Timestamp time.Time `json:"timestamp"`
	FromAgent string    `json:"from_agent"`
	ToAgent   string    `json:"to_agent"`
	Reason    string    `json:"reason"`
}

// Plan is a tracked unit of work scoped to one workspace.
type Plan struct {
	ID           string         `json:"id"`
	WorkspaceID  string         `json:"workspace_id"`
	Title        string         `json:"title"`
	Status       Status         `json:"status"`
	CurrentAgent string         `json:"current_agent,omitempty"`
	CurrentPhase string         `json:"current_phase,omitempty"`
	Steps        []Step         `json:"steps,omitempty"`
	Sessions     []AgentSession `json:"sessions,omitempty"`
	Lineage      []LineageEntry `json:"lineage,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// New creates an active plan with no steps.
func New(workspaceID, id, title string) *Plan {
	now := time.Now().UTC()
	return &Plan{
		ID:          id,
		WorkspaceID: workspaceID,
		Title:       title,
		Status:      StatusActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// SetStatus applies a plan lifecycle transition.
func (p *Plan) SetStatus(next Status) error {
	if p.Status == next {
		return nil // idempotent
	}
	targets, ok := allowedPlanTransitions[p.Status]
	if !ok {
		return fmt.Errorf("%w: plan %s is %s (terminal)", ErrInvalidTransition, p.ID, p.Status)
	}
	if _, ok := targets[next]; !ok {
		return fmt.Errorf("%w: plan %s cannot move %s -> %s", ErrInvalidTransition, p.ID, p.Status, next)
	}
	p.Status = next
	p.UpdatedAt = time.Now().UTC()
	return nil
}

// OpenSession returns the most recently opened, still-open session for the
// given agent type, or nil if none is open.
func (p *Plan) OpenSession(agentType string) *AgentSession {
	for i := len(p.Sessions) - 1; i >= 0; i-- {
		if p.Sessions[i].AgentType == agentType && p.Sessions[i].Open() {
			return &p.Sessions[i]
		}
	}
	return nil
}

// Validate checks the structural invariants of the plan: dense zero-based
// step indices, dependencies referencing existing steps, and the
// current-agent/lineage agreement.
func (p *Plan) Validate() error {
	if p.ID == "" {
		return fmt.Errorf("%w: plan id is empty", ErrValidation)
	}
	if p.WorkspaceID == "" {
		return fmt.Errorf("%w: plan %s has no workspace", ErrValidation, p.ID)
	}
	for i, s := range p.Steps {
		if s.Index != i {
			return fmt.Errorf("%w: step at position %d has index %d", ErrValidation, i, s.Index)
		}
		for _, dep := range s.DependsOn {
			if dep < 0 || dep >= len(p.Steps) {
				return fmt.Errorf("%w: step %d depends on nonexistent step %d", ErrValidation, s.Index, dep)
			}
			if dep == s.Index {
				return fmt.Errorf("%w: step %d depends on itself", ErrValidation, s.Index)
			}
		}
	}
	return nil
}
