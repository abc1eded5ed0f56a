// Command crewdeck runs the agent coordination daemon: the task-graph store,
// session tracker, handoff lineage verifier, peer session registry, and
// terminal command authorization for one machine's workspaces. Network
// transport is intentionally absent; callers embed the internal packages,
// front the daemon with their own service layer, or use the subcommands for
// direct in-process calls.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/mattn/go-isatty"

	"github.com/basket/crewdeck/internal/audit"
	"github.com/basket/crewdeck/internal/bus"
	"github.com/basket/crewdeck/internal/config"
	"github.com/basket/crewdeck/internal/coordinator"
	otelPkg "github.com/basket/crewdeck/internal/otel"
	"github.com/basket/crewdeck/internal/persistence"
	"github.com/basket/crewdeck/internal/prune"
	"github.com/basket/crewdeck/internal/registry"
	"github.com/basket/crewdeck/internal/telemetry"
	"github.com/basket/crewdeck/internal/terminal"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.1-dev"

// runtime bundles the wired services shared by daemon mode and the
// subcommands.
type runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	store      *persistence.Store
	bus        *bus.Bus
	coord      *coordinator.Coordinator
	registry   *registry.Service
	allowlists *terminal.Allowlists
	authorizer *terminal.Authorizer

	closers []func()
}

func (r *runtime) close() {
	for i := len(r.closers) - 1; i >= 0; i-- {
		r.closers[i]()
	}
}

func newRuntime(quietLogs bool) (*runtime, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	// Audit opens before the logger so logger failures are still audited.
	if err := audit.Init(cfg.HomeDir); err != nil {
		return nil, fmt.Errorf("init audit: %w", err)
	}

	logger, closer, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, quietLogs)
	if err != nil {
		_ = audit.Close()
		return nil, fmt.Errorf("init logger: %w", err)
	}
	slog.SetDefault(logger)

	store, err := persistence.Open(cfg.DBPath)
	if err != nil {
		closer.Close()
		_ = audit.Close()
		return nil, fmt.Errorf("open store: %w", err)
	}
	audit.SetDB(store.DB())

	eventBus := bus.New()

	allowlists, err := terminal.NewAllowlists(cfg.AllowlistDir(), logger)
	if err != nil {
		_ = store.Close()
		closer.Close()
		_ = audit.Close()
		return nil, fmt.Errorf("init allowlists: %w", err)
	}

	rt := &runtime{
		cfg:        cfg,
		logger:     logger,
		store:      store,
		bus:        eventBus,
		allowlists: allowlists,
		authorizer: terminal.NewAuthorizer(allowlists, eventBus),
		registry:   registry.New(store, eventBus, logger),
	}
	rt.coord = coordinator.New(coordinator.Config{
		Store:      store,
		Bus:        eventBus,
		Registry:   rt.registry,
		Logger:     logger,
		SummaryDir: cfg.SummaryDir(),
		AgentTypes: cfg.AgentTypes,
	})
	rt.closers = append(rt.closers,
		func() { _ = audit.Close() },
		func() { closer.Close() },
		func() { _ = store.Close() },
	)
	return rt, nil
}

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	pruneNow := flag.Bool("prune-now", false, "run one retention pass and exit")
	flag.Usage = printUsage
	flag.Parse()

	if *showVersion {
		fmt.Println("crewdeck", Version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Subcommands keep stdout clean for their own output.
	args := flag.Args()
	quietLogs := len(args) > 0

	rt, err := newRuntime(quietLogs)
	if err != nil {
		fmt.Fprintf(os.Stderr, "crewdeck: startup failed: %v\n", err)
		os.Exit(1)
	}
	defer rt.close()

	if len(args) > 0 {
		code := runSubcommand(ctx, rt, args)
		rt.close()
		os.Exit(code)
	}

	runDaemon(ctx, rt, *pruneNow)
}

func runDaemon(ctx context.Context, rt *runtime, pruneNow bool) {
	logger := rt.logger
	logger.Info("startup phase", "phase", "config_loaded", "home", rt.cfg.HomeDir)

	pruner, err := prune.NewScheduler(prune.Config{
		Store:     rt.store,
		Registry:  rt.registry,
		Logger:    logger,
		CronExpr:  rt.cfg.PruneSchedule,
		Retention: rt.cfg.RegistryRetention(),
	})
	if err != nil {
		logger.Error("startup failed", "reason_code", "E_PRUNE_SCHEDULE", "error", err)
		os.Exit(1)
	}
	if pruneNow {
		pruner.RunOnce(ctx)
		return
	}
	pruner.Start(ctx)
	defer pruner.Stop()

	provider, err := otelPkg.Init(ctx, rt.cfg.Otel)
	if err != nil {
		logger.Error("startup failed", "reason_code", "E_OTEL_INIT", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()
	metrics, err := otelPkg.NewMetrics(provider.Meter)
	if err != nil {
		logger.Error("startup failed", "reason_code", "E_METRICS_INIT", "error", err)
		os.Exit(1)
	}
	go otelPkg.RunRecorder(ctx, rt.bus, metrics)

	watcher := config.NewWatcher(rt.cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		go invalidateOnChange(ctx, watcher, rt.allowlists, rt.cfg.AllowlistDir(), logger)
	}

	if isatty.IsTerminal(os.Stdout.Fd()) {
		fmt.Printf("crewdeck %s ready (home %s)\n", Version, rt.cfg.HomeDir)
	}
	logger.Info("startup phase", "phase", "ready", "version", Version)

	<-ctx.Done()
	logger.Info("shutdown requested")
}

// invalidateOnChange drops per-workspace allowlist cache entries when their
// backing file is edited externally.
func invalidateOnChange(ctx context.Context, w *config.Watcher, lists *terminal.Allowlists, allowlistDir string, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.Events():
			if !ok {
				return
			}
			if filepath.Dir(ev.Path) != filepath.Clean(allowlistDir) {
				continue
			}
			workspace := workspaceFromPath(ev.Path)
			if workspace == "" {
				continue
			}
			lists.Invalidate(workspace)
			logger.Info("allowlist cache invalidated", "workspace", workspace)
		}
	}
}

// workspaceFromPath extracts the workspace id from an allowlist file path.
func workspaceFromPath(path string) string {
	base := filepath.Base(path)
	if !strings.HasSuffix(base, ".json") {
		return ""
	}
	return strings.TrimSuffix(base, ".json")
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Start the coordination daemon
  %s -prune-now               Run one retention pass and exit

SUBCOMMANDS:
  %s plan create <ws> <id> <title...>
  %s plan show <ws> <id>
  %s agent init <ws> <plan> <agent-type>
  %s agent complete <ws> <plan> <agent-type> <summary...>
  %s handoff <ws> <plan> <from> <to> <reason...>
  %s step <ws> <plan> <index> <status> [assignee [session-id]]
  %s deploy <ws> <session-id> <agent-type> [plan-id [step-index...]]
  %s authorize [-interactive] <ws> <command> [args...]
  %s allowlist <show|add|remove> <ws> [pattern]
  %s peers <ws> [exclude-session-id]

FLAGS:
`, os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0],
		os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
ENVIRONMENT VARIABLES:
  CREWDECK_HOME           Data directory (default: ~/.crewdeck)
`)
}
