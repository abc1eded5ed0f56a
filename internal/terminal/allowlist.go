// Package terminal classifies shell commands issued by agent sessions and
// manages the per-workspace command allowlists backing that classification.
package terminal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/basket/crewdeck/internal/plan"
)

// defaultPatterns is the built-in allowlist for workspaces with no override:
// common read-only commands an agent needs to inspect a codebase.
var defaultPatterns = []string{
	"ls", "pwd", "cat", "head", "tail", "wc", "grep", "rg", "find",
	"which", "whoami", "date", "file", "stat", "du", "df", "echo",
	"git status", "git log", "git diff", "git branch", "git show", "git remote",
	"go version", "go env", "go list",
	"node --version", "npm ls", "python --version",
}

// allowlistSchema validates the on-disk document shape.
const allowlistSchema = `{
	"type": "object",
	"required": ["patterns"],
	"properties": {
		"patterns": {
			"type": "array",
			"items": {"type": "string", "minLength": 1}
		},
		"updated_at": {"type": "string"}
	}
}`

// allowlistDoc is the persisted per-workspace document.
type allowlistDoc struct {
	Patterns  []string  `json:"patterns"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Allowlists caches per-workspace command allowlists, lazily loaded from
// <dir>/<workspace>.json. The cache is process-wide with no cross-process
// coherence; a multi-instance deployment would need to re-read on every
// check or share the cache.
type Allowlists struct {
	mu     sync.RWMutex
	dir    string
	cache  map[string][]string
	loaded map[string]struct{}
	schema *jsonschema.Schema
	logger *slog.Logger
}

// NewAllowlists creates the manager. dir may not exist yet; it is created
// on the first persisted mutation.
func NewAllowlists(dir string, logger *slog.Logger) (*Allowlists, error) {
	if logger == nil {
		logger = slog.Default()
	}
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(allowlistSchema))
	if err != nil {
		return nil, fmt.Errorf("unmarshal allowlist schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("allowlist.json", doc); err != nil {
		return nil, fmt.Errorf("add allowlist schema resource: %w", err)
	}
	schema, err := c.Compile("allowlist.json")
	if err != nil {
		return nil, fmt.Errorf("compile allowlist schema: %w", err)
	}
	return &Allowlists{
		dir:    dir,
		cache:  make(map[string][]string),
		loaded: make(map[string]struct{}),
		schema: schema,
		logger: logger,
	}, nil
}

// DefaultPatterns returns a copy of the built-in allowlist.
func DefaultPatterns() []string {
	return append([]string(nil), defaultPatterns...)
}

// Effective returns the allowlist in force for a workspace: the workspace's
// persisted override when one exists, the built-in defaults otherwise.
func (a *Allowlists) Effective(workspace string) []string {
	a.mu.RLock()
	if _, ok := a.loaded[workspace]; ok {
		patterns := a.cache[workspace]
		a.mu.RUnlock()
		return patterns
	}
	a.mu.RUnlock()

	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.loaded[workspace]; ok {
		return a.cache[workspace]
	}
	patterns := a.loadLocked(workspace)
	a.cache[workspace] = patterns
	a.loaded[workspace] = struct{}{}
	return patterns
}

// loadLocked reads the workspace file. Absence is not an error; a corrupt or
// schema-invalid file is logged and ignored, falling back to the defaults.
func (a *Allowlists) loadLocked(workspace string) []string {
	data, err := os.ReadFile(a.path(workspace))
	if err != nil {
		if !os.IsNotExist(err) {
			a.logger.Warn("allowlist read failed, using defaults", "workspace", workspace, "error", err)
		}
		return DefaultPatterns()
	}
	inst, err := jsonschema.UnmarshalJSON(strings.NewReader(string(data)))
	if err != nil {
		a.logger.Warn("allowlist file is not valid JSON, using defaults", "workspace", workspace, "error", err)
		return DefaultPatterns()
	}
	if err := a.schema.Validate(inst); err != nil {
		a.logger.Warn("allowlist file failed schema validation, using defaults", "workspace", workspace, "error", err)
		return DefaultPatterns()
	}
	var doc allowlistDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		a.logger.Warn("allowlist decode failed, using defaults", "workspace", workspace, "error", err)
		return DefaultPatterns()
	}
	return doc.Patterns
}

// Add appends a pattern to a workspace's allowlist. Already-present
// patterns (case-insensitive) are a no-op.
func (a *Allowlists) Add(workspace, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("%w: empty allowlist pattern", plan.ErrValidation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	patterns := a.effectiveLocked(workspace)
	for _, p := range patterns {
		if strings.EqualFold(p, pattern) {
			return nil
		}
	}
	patterns = append(patterns, pattern)
	a.cache[workspace] = patterns
	a.loaded[workspace] = struct{}{}
	a.persistLocked(workspace, patterns)
	return nil
}

// Remove deletes a pattern from a workspace's allowlist.
func (a *Allowlists) Remove(workspace, pattern string) error {
	pattern = strings.TrimSpace(pattern)
	if pattern == "" {
		return fmt.Errorf("%w: empty allowlist pattern", plan.ErrValidation)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	patterns := a.effectiveLocked(workspace)
	kept := patterns[:0:0]
	for _, p := range patterns {
		if !strings.EqualFold(p, pattern) {
			kept = append(kept, p)
		}
	}
	a.cache[workspace] = kept
	a.loaded[workspace] = struct{}{}
	a.persistLocked(workspace, kept)
	return nil
}

// Set replaces a workspace's allowlist wholesale.
func (a *Allowlists) Set(workspace string, patterns []string) error {
	cleaned := make([]string, 0, len(patterns))
	for _, p := range patterns {
		p = strings.TrimSpace(p)
		if p == "" {
			return fmt.Errorf("%w: empty allowlist pattern", plan.ErrValidation)
		}
		cleaned = append(cleaned, p)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cache[workspace] = cleaned
	a.loaded[workspace] = struct{}{}
	a.persistLocked(workspace, cleaned)
	return nil
}

// Invalidate drops a workspace from the cache so the next check re-reads
// the file. Called by the config watcher on external edits.
func (a *Allowlists) Invalidate(workspace string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.cache, workspace)
	delete(a.loaded, workspace)
}

func (a *Allowlists) effectiveLocked(workspace string) []string {
	if _, ok := a.loaded[workspace]; ok {
		return a.cache[workspace]
	}
	return a.loadLocked(workspace)
}

// persistLocked writes the workspace document. Failure is logged and
// swallowed: the in-memory list stays authoritative for the rest of the
// process lifetime.
func (a *Allowlists) persistLocked(workspace string, patterns []string) {
	if err := os.MkdirAll(a.dir, 0o755); err != nil {
		a.logger.Warn("allowlist persist failed", "workspace", workspace, "error", err)
		return
	}
	doc := allowlistDoc{Patterns: patterns, UpdatedAt: time.Now().UTC()}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		a.logger.Warn("allowlist encode failed", "workspace", workspace, "error", err)
		return
	}
	if err := os.WriteFile(a.path(workspace), data, 0o644); err != nil {
		a.logger.Warn("allowlist persist failed", "workspace", workspace, "error", err)
	}
}

func (a *Allowlists) path(workspace string) string {
	// Workspace ids are opaque; flatten anything path-like.
	name := strings.NewReplacer("/", "_", "\\", "_", "..", "_").Replace(workspace)
	return filepath.Join(a.dir, name+".json")
}
