package bus

// Coordination event topics. Consumers subscribe by prefix, e.g. "plan."
// receives handoffs and step updates for every plan in the process.
const (
	TopicSessionStarted   = "agent.session_started"
	TopicSessionCompleted = "agent.session_completed"
	TopicHandoff          = "plan.handoff"
	TopicStepUpdated      = "plan.step_updated"
	TopicRegistryPruned   = "registry.pruned"
	TopicRegistryConflict = "registry.conflict"
	TopicCommandDecision  = "terminal.decision"
)

// SessionEvent is published when an agent session starts or completes.
type SessionEvent struct {
	WorkspaceID string // Workspace the plan belongs to
	PlanID      string // Plan the session acts on
	SessionID   string // Opaque session identifier
	AgentType   string // Agent type holding the session
	Summary     string // Result summary (completion only)
}

// HandoffEvent is published after a control transfer is recorded.
type HandoffEvent struct {
	WorkspaceID string
	PlanID      string
	FromAgent   string
	ToAgent     string
	Reason      string
	ChainValid  bool // Outcome of lineage verification
}

// StepUpdatedEvent is published on every step status transition.
type StepUpdatedEvent struct {
	WorkspaceID string
	PlanID      string
	StepIndex   int
	Status      string
	Assignee    string
}

// RegistryPrunedEvent is published after a prune pass over the peer
// session registry.
type RegistryPrunedEvent struct {
	Removed int
}

// RegistryConflictEvent is published when a deploying session's claims
// overlap an active peer's.
type RegistryConflictEvent struct {
	WorkspaceID string
	SessionID   string
	Conflicts   int
}

// CommandDecisionEvent is published after every terminal authorization
// check. Command carries only the first token; full lines may echo secrets.
type CommandDecisionEvent struct {
	WorkspaceID string
	Command     string
	Status      string
	Interactive bool
}
