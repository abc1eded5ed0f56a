package terminal_test

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/basket/crewdeck/internal/terminal"
)

func newLists(t *testing.T, dir string) *terminal.Allowlists {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	lists, err := terminal.NewAllowlists(dir, logger)
	if err != nil {
		t.Fatalf("new allowlists: %v", err)
	}
	return lists
}

func TestEffective_DefaultsWhenNoFile(t *testing.T) {
	lists := newLists(t, t.TempDir())
	got := lists.Effective("ws-1")
	if !slices.Equal(got, terminal.DefaultPatterns()) {
		t.Fatalf("effective = %v, want built-in defaults", got)
	}
}

func TestAddRemove_PersistAcrossInstances(t *testing.T) {
	dir := t.TempDir()
	lists := newLists(t, dir)

	if err := lists.Add("ws-1", "make test"); err != nil {
		t.Fatalf("add: %v", err)
	}
	// Duplicate add is a no-op, case-insensitively.
	if err := lists.Add("ws-1", "MAKE TEST"); err != nil {
		t.Fatalf("duplicate add: %v", err)
	}
	got := lists.Effective("ws-1")
	if n := countOf(got, "make test"); n != 1 {
		t.Fatalf("pattern appears %d times, want 1 (%v)", n, got)
	}

	// A fresh instance reads the persisted file.
	fresh := newLists(t, dir)
	if !slices.Contains(fresh.Effective("ws-1"), "make test") {
		t.Fatalf("persisted pattern missing after reload: %v", fresh.Effective("ws-1"))
	}

	if err := fresh.Remove("ws-1", "make test"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if slices.Contains(fresh.Effective("ws-1"), "make test") {
		t.Fatalf("pattern survived removal")
	}
}

func TestAdd_RejectsEmptyPattern(t *testing.T) {
	lists := newLists(t, t.TempDir())
	if err := lists.Add("ws-1", "   "); err == nil {
		t.Fatalf("expected empty pattern to be rejected")
	}
}

func TestEffective_CorruptFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "ws-1.json"), []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lists := newLists(t, dir)
	if !slices.Equal(lists.Effective("ws-1"), terminal.DefaultPatterns()) {
		t.Fatalf("corrupt file should fall back to defaults")
	}
}

func TestEffective_SchemaInvalidFileFallsBackToDefaults(t *testing.T) {
	dir := t.TempDir()
	// Valid JSON, wrong shape: patterns must be strings.
	if err := os.WriteFile(filepath.Join(dir, "ws-1.json"), []byte(`{"patterns": [1, 2]}`), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lists := newLists(t, dir)
	if !slices.Equal(lists.Effective("ws-1"), terminal.DefaultPatterns()) {
		t.Fatalf("schema-invalid file should fall back to defaults")
	}
}

func TestInvalidate_RereadsFile(t *testing.T) {
	dir := t.TempDir()
	lists := newLists(t, dir)
	if !slices.Equal(lists.Effective("ws-1"), terminal.DefaultPatterns()) {
		t.Fatalf("expected defaults before external edit")
	}

	// Simulate an external edit, then invalidate the cache.
	doc := []byte(`{"patterns": ["kubectl get"], "updated_at": "2026-08-30T00:00:00Z"}`)
	if err := os.WriteFile(filepath.Join(dir, "ws-1.json"), doc, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	lists.Invalidate("ws-1")

	got := lists.Effective("ws-1")
	if !slices.Equal(got, []string{"kubectl get"}) {
		t.Fatalf("effective after invalidate = %v, want [kubectl get]", got)
	}
}

func TestPath_FlattensWorkspaceIDs(t *testing.T) {
	dir := t.TempDir()
	lists := newLists(t, dir)
	if err := lists.Add("../escape/attempt", "make"); err != nil {
		t.Fatalf("add: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("readdir: %v", err)
	}
	for _, e := range entries {
		if filepath.Dir(filepath.Join(dir, e.Name())) != filepath.Clean(dir) {
			t.Fatalf("allowlist file escaped the directory: %s", e.Name())
		}
	}
}

func countOf(patterns []string, want string) int {
	n := 0
	for _, p := range patterns {
		if p == want {
			n++
		}
	}
	return n
}
