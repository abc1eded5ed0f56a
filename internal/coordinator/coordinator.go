// Package coordinator implements the agent session tracker and the handoff
// lineage verifier: who is working on a plan, who holds control, and the
// verifiable chain of custody between agents.
package coordinator

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/basket/crewdeck/internal/audit"
	"github.com/basket/crewdeck/internal/bus"
	"github.com/basket/crewdeck/internal/persistence"
	"github.com/basket/crewdeck/internal/plan"
	"github.com/basket/crewdeck/internal/safety"
)

// DefaultAgentTypes is the built-in set of recognized agent identities.
var DefaultAgentTypes = []string{"planner", "builder", "reviewer", "tester", "integrator"}

// PlanStore is the task-graph contract the coordinator consumes.
type PlanStore interface {
	GetPlan(ctx context.Context, workspaceID, planID string) (*plan.Plan, error)
	SavePlan(ctx context.Context, p *plan.Plan) error
	SaveHandoffContext(ctx context.Context, workspaceID, planID, fromAgent, toAgent string, payload map[string]any) error
}

// RegistryUpdater patches a session's row in the peer registry.
type RegistryUpdater interface {
	Update(ctx context.Context, sessionID string, patch persistence.RegistryPatch) error
}

// Config holds the coordinator's dependencies.
type Config struct {
	Store      PlanStore
	Bus        *bus.Bus        // may be nil in tests
	Registry   RegistryUpdater // may be nil; step updates then skip the registry refresh
	Sanitizer  *safety.Sanitizer
	Logger     *slog.Logger
	SummaryDir string   // "" disables summary regeneration
	AgentTypes []string // recognized identities; nil uses DefaultAgentTypes
}

// Coordinator serializes plan mutations per plan and records the session
// and handoff history.
type Coordinator struct {
	store      PlanStore
	bus        *bus.Bus
	registry   RegistryUpdater
	sanitizer  *safety.Sanitizer
	logger     *slog.Logger
	summaryDir string
	recognized map[string]struct{}

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New creates a Coordinator.
func New(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sanitizer := cfg.Sanitizer
	if sanitizer == nil {
		sanitizer = safety.NewSanitizer()
	}
	types := cfg.AgentTypes
	if len(types) == 0 {
		types = DefaultAgentTypes
	}
	recognized := make(map[string]struct{}, len(types))
	for _, t := range types {
		recognized[t] = struct{}{}
	}
	return &Coordinator{
		store:      cfg.Store,
		bus:        cfg.Bus,
		registry:   cfg.Registry,
		sanitizer:  sanitizer,
		logger:     logger,
		summaryDir: cfg.SummaryDir,
		recognized: recognized,
		locks:      make(map[string]*sync.Mutex),
	}
}

// planLock returns the mutex serializing read-modify-write cycles for one
// plan. Two concurrent handoffs on the same plan race on current_agent; the
// loser fails the holds-control check instead of corrupting the chain.
func (c *Coordinator) planLock(workspaceID, planID string) *sync.Mutex {
	key := workspaceID + "/" + planID
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[key]
	if !ok {
		l = &sync.Mutex{}
		c.locks[key] = l
	}
	return l
}

// CreatePlan creates and persists a new active plan.
func (c *Coordinator) CreatePlan(ctx context.Context, workspaceID, planID, title string) (*plan.Plan, error) {
	if workspaceID == "" || planID == "" {
		return nil, fmt.Errorf("%w: workspace and plan id are required", plan.ErrValidation)
	}
	p := plan.New(workspaceID, planID, title)
	if err := c.store.SavePlan(ctx, p); err != nil {
		return nil, err
	}
	c.regenerateSummary(p)
	return p, nil
}

// InitialiseAgent opens a new session for an agent type on a plan. The
// context payload is sanitized before storage. Fails when a session for the
// same (plan, agent_type) pair is still open.
func (c *Coordinator) InitialiseAgent(ctx context.Context, workspaceID, planID, agentType string, sessionContext map[string]any) (plan.AgentSession, error) {
	if agentType == "" {
		return plan.AgentSession{}, fmt.Errorf("%w: agent_type is required", plan.ErrValidation)
	}
	lock := c.planLock(workspaceID, planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := c.store.GetPlan(ctx, workspaceID, planID)
	if err != nil {
		return plan.AgentSession{}, err
	}
	if open := p.OpenSession(agentType); open != nil {
		return plan.AgentSession{}, fmt.Errorf("%w: session %s for agent %q is still open",
			plan.ErrInvalidTransition, open.SessionID, agentType)
	}

	session := plan.AgentSession{
		SessionID: uuid.NewString(),
		AgentType: agentType,
		StartedAt: time.Now().UTC(),
		Context:   c.sanitizer.SanitizeMap(sessionContext),
	}
	p.Sessions = append(p.Sessions, session)
	p.CurrentAgent = agentType

	if err := c.store.SavePlan(ctx, p); err != nil {
		return plan.AgentSession{}, err
	}
	c.regenerateSummary(p)
	c.publish(bus.TopicSessionStarted, bus.SessionEvent{
		WorkspaceID: workspaceID,
		PlanID:      planID,
		SessionID:   session.SessionID,
		AgentType:   agentType,
	})
	c.logger.Info("agent session started",
		"workspace", workspaceID, "plan", planID,
		"agent_type", agentType, "session_id", session.SessionID)
	return session, nil
}

// CompleteAgent closes the most recently opened, still-open session for the
// agent type. Fails with plan.ErrNotFound when none is open, so a second
// completion of the same session is detected rather than silently repeated.
func (c *Coordinator) CompleteAgent(ctx context.Context, workspaceID, planID, agentType, summary string, artifacts []string) (plan.AgentSession, error) {
	if agentType == "" {
		return plan.AgentSession{}, fmt.Errorf("%w: agent_type is required", plan.ErrValidation)
	}
	lock := c.planLock(workspaceID, planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := c.store.GetPlan(ctx, workspaceID, planID)
	if err != nil {
		return plan.AgentSession{}, err
	}
	session := p.OpenSession(agentType)
	if session == nil {
		return plan.AgentSession{}, fmt.Errorf("%w: no open session for agent %q on plan %s",
			plan.ErrNotFound, agentType, planID)
	}

	now := time.Now().UTC()
	session.CompletedAt = &now
	session.Summary = summary
	session.Artifacts = artifacts

	if err := c.store.SavePlan(ctx, p); err != nil {
		return plan.AgentSession{}, err
	}
	c.regenerateSummary(p)
	c.publish(bus.TopicSessionCompleted, bus.SessionEvent{
		WorkspaceID: workspaceID,
		PlanID:      planID,
		SessionID:   session.SessionID,
		AgentType:   agentType,
		Summary:     summary,
	})
	c.logger.Info("agent session completed",
		"workspace", workspaceID, "plan", planID,
		"agent_type", agentType, "session_id", session.SessionID)
	return *session, nil
}

// HandoffResult carries the recorded entry and the verification outcome.
// Verification never blocks the handoff: a corrupted history is surfaced,
// not turned into an outage.
type HandoffResult struct {
	Entry        plan.LineageEntry  `json:"entry"`
	Verification plan.LineageReport `json:"verification"`
}

// Handoff transfers control of a plan from one agent to another. Only the
// agent currently holding control may hand off; a stale or impersonating
// session fails with plan.ErrInvalidTransition and the plan is unmodified.
func (c *Coordinator) Handoff(ctx context.Context, workspaceID, planID, fromAgent, toAgent, reason string, data map[string]any) (HandoffResult, error) {
	if fromAgent == "" || toAgent == "" {
		return HandoffResult{}, fmt.Errorf("%w: from_agent and to_agent are required", plan.ErrValidation)
	}
	lock := c.planLock(workspaceID, planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := c.store.GetPlan(ctx, workspaceID, planID)
	if err != nil {
		return HandoffResult{}, err
	}
	if p.CurrentAgent != "" && p.CurrentAgent != fromAgent {
		audit.Record("blocked", "plan.handoff",
			fmt.Sprintf("control held by %q", p.CurrentAgent), workspaceID, fromAgent+"->"+toAgent)
		return HandoffResult{}, fmt.Errorf("%w: %q does not hold control of plan %s (current agent %q)",
			plan.ErrInvalidTransition, fromAgent, planID, p.CurrentAgent)
	}

	entry := plan.LineageEntry{
		Timestamp: time.Now().UTC(),
		FromAgent: fromAgent,
		ToAgent:   toAgent,
		Reason:    reason,
	}
	p.Lineage = append(p.Lineage, entry)
	p.CurrentAgent = toAgent

	report := plan.VerifyLineage(p.Lineage, c.recognized)
	if !report.Valid {
		c.logger.Warn("lineage verification reported issues",
			"workspace", workspaceID, "plan", planID, "issues", report.Issues)
	}

	if len(data) > 0 {
		sanitized := c.sanitizer.SanitizeMap(data)
		if err := c.store.SaveHandoffContext(ctx, workspaceID, planID, fromAgent, toAgent, sanitized); err != nil {
			return HandoffResult{}, err
		}
	}
	if err := c.store.SavePlan(ctx, p); err != nil {
		return HandoffResult{}, err
	}
	c.regenerateSummary(p)
	audit.Record("recorded", "plan.handoff", reason, workspaceID, fromAgent+"->"+toAgent)
	c.publish(bus.TopicHandoff, bus.HandoffEvent{
		WorkspaceID: workspaceID,
		PlanID:      planID,
		FromAgent:   fromAgent,
		ToAgent:     toAgent,
		Reason:      reason,
		ChainValid:  report.Valid,
	})
	c.logger.Info("handoff recorded",
		"workspace", workspaceID, "plan", planID,
		"from", fromAgent, "to", toAgent, "chain_valid", report.Valid)
	return HandoffResult{Entry: entry, Verification: report}, nil
}

// UpdateStepStatus applies a step transition and persists the plan. When a
// sessionID is given and a registry is wired, the session's registry row is
// refreshed with its current claims so peers see them.
func (c *Coordinator) UpdateStepStatus(ctx context.Context, workspaceID, planID string, stepIndex int, status plan.StepStatus, assignee, sessionID string) error {
	lock := c.planLock(workspaceID, planID)
	lock.Lock()
	defer lock.Unlock()

	p, err := c.store.GetPlan(ctx, workspaceID, planID)
	if err != nil {
		return err
	}
	if err := p.SetStepStatus(stepIndex, status); err != nil {
		return err
	}
	if assignee != "" {
		p.Steps[stepIndex].Assignee = assignee
	}
	if err := c.store.SavePlan(ctx, p); err != nil {
		return err
	}
	c.regenerateSummary(p)
	c.refreshRegistryRow(ctx, p, stepIndex, assignee, sessionID)
	c.publish(bus.TopicStepUpdated, bus.StepUpdatedEvent{
		WorkspaceID: workspaceID,
		PlanID:      planID,
		StepIndex:   stepIndex,
		Status:      string(status),
		Assignee:    assignee,
	})
	return nil
}

// refreshRegistryRow patches the session's registry row with the plan's
// currently active steps. The registry is advisory; a failed refresh is
// logged, never propagated to the step update.
func (c *Coordinator) refreshRegistryRow(ctx context.Context, p *plan.Plan, stepIndex int, assignee, sessionID string) {
	if c.registry == nil || sessionID == "" {
		return
	}
	claimed := make([]int, 0, len(p.Steps))
	for i, s := range p.Steps {
		if s.Status != plan.StepActive {
			continue
		}
		if assignee != "" && s.Assignee != assignee {
			continue
		}
		claimed = append(claimed, i)
	}
	patch := persistence.RegistryPatch{
		PlanID:       &p.ID,
		ClaimedSteps: &claimed,
	}
	if phase := p.Steps[stepIndex].Phase; phase != "" {
		patch.CurrentPhase = &phase
	}
	if err := c.registry.Update(ctx, sessionID, patch); err != nil {
		c.logger.Warn("registry refresh failed",
			"workspace", p.WorkspaceID, "plan", p.ID,
			"session_id", sessionID, "error", err)
	}
}

// VerifyLineage re-runs chain verification for a plan without mutating it.
func (c *Coordinator) VerifyLineage(ctx context.Context, workspaceID, planID string) (plan.LineageReport, error) {
	p, err := c.store.GetPlan(ctx, workspaceID, planID)
	if err != nil {
		return plan.LineageReport{}, err
	}
	return plan.VerifyLineage(p.Lineage, c.recognized), nil
}

func (c *Coordinator) publish(topic string, payload any) {
	if c.bus != nil {
		c.bus.Publish(topic, payload)
	}
}
