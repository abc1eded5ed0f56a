package terminal

import (
	"fmt"
	"strings"

	"github.com/basket/crewdeck/internal/audit"
	"github.com/basket/crewdeck/internal/bus"
)

// Status is the outcome of a command classification.
type Status string

const (
	StatusAllowed Status = "allowed"
	StatusWarning Status = "allowed_with_warning"
	StatusBlocked Status = "blocked"
)

// Decision is the result of authorizing one command line.
type Decision struct {
	Status Status `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// destructiveKeywords can never be overridden by any allowlist. Matching is
// containment, not anchoring: over-blocking is the intended failure mode.
var destructiveKeywords = []string{
	"rm -rf", "rm -fr", "rm -r ", "rm --recursive",
	"rmdir",
	"mkfs", "fdisk", "diskpart",
	"dd if=", "dd of=",
	"format c:", "del /f", "del /s", "rd /s", "rd /q",
	"drop table", "drop database", "truncate table",
	"shutdown", "reboot", "poweroff", "halt -",
	":(){",
}

// shellOperators force composed commands to be allowlisted as primitives;
// per-command classification cannot reason about what a pipeline does.
var shellOperators = []string{"|", "&", ";", ">", "<", "`", "$"}

// Authorizer classifies commands for autonomous agent sessions.
type Authorizer struct {
	lists *Allowlists
	bus   *bus.Bus // may be nil in tests
}

// NewAuthorizer creates an Authorizer backed by the given allowlist cache.
func NewAuthorizer(lists *Allowlists, b *bus.Bus) *Authorizer {
	return &Authorizer{lists: lists, bus: b}
}

// Authorize classifies a command issued autonomously by an agent. An
// unrecognized command is blocked: without a human watching, everything an
// agent runs must be pre-approved.
func (a *Authorizer) Authorize(command string, args []string, workspace string) Decision {
	d := a.classify(command, args, workspace, false)
	audit.Record(string(d.Status), "terminal.exec", d.Reason, workspace, commandLine(command, args))
	a.publishDecision(workspace, command, args, d, false)
	return d
}

// AuthorizeInteractive classifies a command issued through a human-observed
// interactive terminal. Shell operators and unlisted commands downgrade to a
// warning; destructive keywords remain blocked on both surfaces.
func (a *Authorizer) AuthorizeInteractive(command string, args []string, workspace string) Decision {
	d := a.classify(command, args, workspace, true)
	audit.Record(string(d.Status), "terminal.interactive", d.Reason, workspace, commandLine(command, args))
	a.publishDecision(workspace, command, args, d, true)
	return d
}

func (a *Authorizer) publishDecision(workspace, command string, args []string, d Decision, interactive bool) {
	if a.bus == nil {
		return
	}
	a.bus.Publish(bus.TopicCommandDecision, bus.CommandDecisionEvent{
		WorkspaceID: workspace,
		Command:     firstToken(commandLine(command, args)),
		Status:      string(d.Status),
		Interactive: interactive,
	})
}

func (a *Authorizer) classify(command string, args []string, workspace string, interactive bool) Decision {
	line := commandLine(command, args)
	if line == "" {
		return Decision{Status: StatusBlocked, Reason: "empty command"}
	}
	lower := strings.ToLower(line)

	// Destructive keywords come first and cannot be allowlisted away.
	for _, kw := range destructiveKeywords {
		if strings.Contains(lower, kw) {
			return Decision{
				Status: StatusBlocked,
				Reason: fmt.Sprintf("destructive keyword %q", kw),
			}
		}
	}

	for _, op := range shellOperators {
		if strings.Contains(line, op) {
			reason := fmt.Sprintf("shell operator %q; allowlist the individual commands instead", op)
			if interactive {
				return Decision{Status: StatusWarning, Reason: reason}
			}
			return Decision{Status: StatusBlocked, Reason: reason}
		}
	}

	for _, pattern := range a.lists.Effective(workspace) {
		p := strings.ToLower(strings.TrimSpace(pattern))
		if p == "" {
			continue
		}
		if strings.HasPrefix(lower, p) {
			return Decision{Status: StatusAllowed}
		}
	}

	reason := fmt.Sprintf("command %q is not on the allowlist; add it with an allowlist update", firstToken(line))
	if interactive {
		return Decision{Status: StatusWarning, Reason: reason}
	}
	return Decision{Status: StatusBlocked, Reason: reason}
}

func commandLine(command string, args []string) string {
	parts := append([]string{command}, args...)
	return strings.TrimSpace(strings.Join(parts, " "))
}

func firstToken(line string) string {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return line
	}
	return fields[0]
}
