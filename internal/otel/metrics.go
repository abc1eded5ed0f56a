package otel

import "go.opentelemetry.io/otel/metric"

// Metrics holds the coordination layer's metric instruments.
type Metrics struct {
	SessionsStarted   metric.Int64Counter
	SessionsCompleted metric.Int64Counter
	Handoffs          metric.Int64Counter
	LineageIssues     metric.Int64Counter
	CommandsBlocked   metric.Int64Counter
	CommandsAllowed   metric.Int64Counter
	RegistryConflicts metric.Int64Counter
	RegistryPruned    metric.Int64Counter
	ActiveSessions    metric.Int64UpDownCounter
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.SessionsStarted, err = meter.Int64Counter("crewdeck.sessions.started",
		metric.WithDescription("Agent sessions initialised"),
	)
	if err != nil {
		return nil, err
	}

	m.SessionsCompleted, err = meter.Int64Counter("crewdeck.sessions.completed",
		metric.WithDescription("Agent sessions completed"),
	)
	if err != nil {
		return nil, err
	}

	m.Handoffs, err = meter.Int64Counter("crewdeck.handoffs",
		metric.WithDescription("Control transfers recorded"),
	)
	if err != nil {
		return nil, err
	}

	m.LineageIssues, err = meter.Int64Counter("crewdeck.lineage.issues",
		metric.WithDescription("Handoffs whose chain verification reported issues"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandsBlocked, err = meter.Int64Counter("crewdeck.terminal.blocked",
		metric.WithDescription("Commands refused by terminal authorization"),
	)
	if err != nil {
		return nil, err
	}

	m.CommandsAllowed, err = meter.Int64Counter("crewdeck.terminal.allowed",
		metric.WithDescription("Commands passed by terminal authorization"),
	)
	if err != nil {
		return nil, err
	}

	m.RegistryConflicts, err = meter.Int64Counter("crewdeck.registry.conflicts",
		metric.WithDescription("Claim overlaps surfaced to deploying sessions"),
	)
	if err != nil {
		return nil, err
	}

	m.RegistryPruned, err = meter.Int64Counter("crewdeck.registry.pruned",
		metric.WithDescription("Registry rows removed by the pruner"),
	)
	if err != nil {
		return nil, err
	}

	m.ActiveSessions, err = meter.Int64UpDownCounter("crewdeck.sessions.active",
		metric.WithDescription("Currently open agent sessions"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}
