package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/basket/crewdeck/internal/persistence"
	"github.com/basket/crewdeck/internal/plan"
	"github.com/basket/crewdeck/internal/registry"
	"github.com/basket/crewdeck/internal/terminal"
)

// runSubcommand dispatches crewdeck's direct-call surface. Each subcommand is
// one in-process call against the wired services, printing JSON so output can
// be piped into jq or another agent.
func runSubcommand(ctx context.Context, rt *runtime, args []string) int {
	var err error
	switch args[0] {
	case "plan":
		err = cmdPlan(ctx, rt, args[1:])
	case "agent":
		err = cmdAgent(ctx, rt, args[1:])
	case "handoff":
		err = cmdHandoff(ctx, rt, args[1:])
	case "step":
		err = cmdStep(ctx, rt, args[1:])
	case "deploy":
		err = cmdDeploy(ctx, rt, args[1:])
	case "authorize":
		err = cmdAuthorize(rt, args[1:])
	case "allowlist":
		err = cmdAllowlist(rt, args[1:])
	case "peers":
		err = cmdPeers(ctx, rt, args[1:])
	default:
		fmt.Fprintf(os.Stderr, "crewdeck: unknown subcommand %q\n", args[0])
		printUsage()
		return 2
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewdeck %s: %v\n", args[0], err)
		return 1
	}
	return 0
}

func cmdPlan(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: plan <create|show|list|verify> ...")
	}
	switch args[0] {
	case "create":
		if len(args) < 3 {
			return fmt.Errorf("usage: plan create <workspace> <plan-id> <title...>")
		}
		p, err := rt.coord.CreatePlan(ctx, args[1], args[2], strings.Join(args[3:], " "))
		if err != nil {
			return err
		}
		return printJSON(p)
	case "show":
		if len(args) != 3 {
			return fmt.Errorf("usage: plan show <workspace> <plan-id>")
		}
		p, err := rt.store.GetPlan(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(p)
	case "list":
		if len(args) != 2 {
			return fmt.Errorf("usage: plan list <workspace>")
		}
		plans, err := rt.store.ListPlans(ctx, args[1])
		if err != nil {
			return err
		}
		return printJSON(plans)
	case "verify":
		if len(args) != 3 {
			return fmt.Errorf("usage: plan verify <workspace> <plan-id>")
		}
		report, err := rt.coord.VerifyLineage(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(report)
	default:
		return fmt.Errorf("unknown plan action %q", args[0])
	}
}

func cmdAgent(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: agent <init|complete> ...")
	}
	switch args[0] {
	case "init":
		if len(args) != 4 {
			return fmt.Errorf("usage: agent init <workspace> <plan-id> <agent-type>")
		}
		session, err := rt.coord.InitialiseAgent(ctx, args[1], args[2], args[3], nil)
		if err != nil {
			return err
		}
		return printJSON(session)
	case "complete":
		if len(args) < 4 {
			return fmt.Errorf("usage: agent complete <workspace> <plan-id> <agent-type> <summary...>")
		}
		session, err := rt.coord.CompleteAgent(ctx, args[1], args[2], args[3], strings.Join(args[4:], " "), nil)
		if err != nil {
			return err
		}
		return printJSON(session)
	default:
		return fmt.Errorf("unknown agent action %q", args[0])
	}
}

func cmdHandoff(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: handoff <workspace> <plan-id> <from-agent> <to-agent> [reason...]")
	}
	result, err := rt.coord.Handoff(ctx, args[0], args[1], args[2], args[3], strings.Join(args[4:], " "), nil)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func cmdStep(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 4 {
		return fmt.Errorf("usage: step <workspace> <plan-id> <index> <status> [assignee [session-id]]")
	}
	index, err := strconv.Atoi(args[2])
	if err != nil {
		return fmt.Errorf("step index %q is not a number", args[2])
	}
	assignee, sessionID := "", ""
	if len(args) > 4 {
		assignee = args[4]
	}
	if len(args) > 5 {
		sessionID = args[5]
	}
	if err := rt.coord.UpdateStepStatus(ctx, args[0], args[1], index, plan.StepStatus(args[3]), assignee, sessionID); err != nil {
		return err
	}
	fmt.Printf("step %d -> %s\n", index, args[3])
	return nil
}

// cmdDeploy registers (or refreshes) a session's claims in the peer registry
// and prints any overlap with active peers.
func cmdDeploy(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 3 {
		return fmt.Errorf("usage: deploy <workspace> <session-id> <agent-type> [plan-id [step-index...]]")
	}
	row := persistence.RegistryRow{
		WorkspaceID: args[0],
		SessionID:   args[1],
		AgentType:   args[2],
	}
	if len(args) > 3 {
		row.PlanID = args[3]
	}
	for _, raw := range args[4:] {
		idx, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("step index %q is not a number", raw)
		}
		row.ClaimedSteps = append(row.ClaimedSteps, idx)
	}
	conflicts, err := rt.registry.Deploy(ctx, row)
	if err != nil {
		return err
	}
	if conflicts == nil {
		conflicts = []registry.Conflict{}
	}
	return printJSON(map[string]any{
		"session_id": row.SessionID,
		"conflicts":  conflicts,
	})
}

func cmdAuthorize(rt *runtime, args []string) error {
	interactive := false
	if len(args) > 0 && args[0] == "-interactive" {
		interactive = true
		args = args[1:]
	}
	if len(args) < 2 {
		return fmt.Errorf("usage: authorize [-interactive] <workspace> <command> [args...]")
	}
	workspace, command := args[0], args[1]
	var decision terminal.Decision
	if interactive {
		decision = rt.authorizer.AuthorizeInteractive(command, args[2:], workspace)
	} else {
		decision = rt.authorizer.Authorize(command, args[2:], workspace)
	}
	if err := printJSON(decision); err != nil {
		return err
	}
	if decision.Status == terminal.StatusBlocked {
		return fmt.Errorf("command blocked")
	}
	return nil
}

func cmdAllowlist(rt *runtime, args []string) error {
	if len(args) < 2 {
		return fmt.Errorf("usage: allowlist <show|add|remove> <workspace> [pattern]")
	}
	action, workspace := args[0], args[1]
	switch action {
	case "show":
		return printJSON(rt.allowlists.Effective(workspace))
	case "add":
		if len(args) < 3 {
			return fmt.Errorf("usage: allowlist add <workspace> <pattern>")
		}
		return rt.allowlists.Add(workspace, strings.Join(args[2:], " "))
	case "remove":
		if len(args) < 3 {
			return fmt.Errorf("usage: allowlist remove <workspace> <pattern>")
		}
		return rt.allowlists.Remove(workspace, strings.Join(args[2:], " "))
	default:
		return fmt.Errorf("unknown allowlist action %q", action)
	}
}

func cmdPeers(ctx context.Context, rt *runtime, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: peers <workspace> [exclude-session-id]")
	}
	exclude := ""
	if len(args) > 1 {
		exclude = args[1]
	}
	peers, err := rt.registry.ActivePeers(ctx, args[0], exclude)
	if err != nil {
		return err
	}
	if peers == nil {
		peers = []persistence.RegistryRow{}
	}
	return printJSON(peers)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
