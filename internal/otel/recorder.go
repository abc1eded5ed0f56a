package otel

import (
	"context"

	"github.com/basket/crewdeck/internal/bus"
)

// RunRecorder consumes coordination events and feeds the metric
// instruments. It returns when the context is cancelled or the
// subscription channel closes.
func RunRecorder(ctx context.Context, b *bus.Bus, m *Metrics) {
	sub := b.Subscribe("")
	defer b.Unsubscribe(sub)

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-sub.Ch():
			if !ok {
				return
			}
			switch ev.Topic {
			case bus.TopicSessionStarted:
				m.SessionsStarted.Add(ctx, 1)
				m.ActiveSessions.Add(ctx, 1)
			case bus.TopicSessionCompleted:
				m.SessionsCompleted.Add(ctx, 1)
				m.ActiveSessions.Add(ctx, -1)
			case bus.TopicHandoff:
				m.Handoffs.Add(ctx, 1)
				if payload, ok := ev.Payload.(bus.HandoffEvent); ok && !payload.ChainValid {
					m.LineageIssues.Add(ctx, 1)
				}
			case bus.TopicRegistryPruned:
				if payload, ok := ev.Payload.(bus.RegistryPrunedEvent); ok {
					m.RegistryPruned.Add(ctx, int64(payload.Removed))
				}
			case bus.TopicRegistryConflict:
				if payload, ok := ev.Payload.(bus.RegistryConflictEvent); ok {
					m.RegistryConflicts.Add(ctx, int64(payload.Conflicts))
				}
			case bus.TopicCommandDecision:
				if payload, ok := ev.Payload.(bus.CommandDecisionEvent); ok {
					if payload.Status == "blocked" {
						m.CommandsBlocked.Add(ctx, 1)
					} else {
						m.CommandsAllowed.Add(ctx, 1)
					}
				}
			}
		}
	}
}
