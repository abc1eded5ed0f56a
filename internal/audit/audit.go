// Package audit appends coordination decisions to an append-only trail:
// a JSONL file under the home directory and, when configured, the
// audit_log table in the store. Recording never fails the caller.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/crewdeck/internal/shared"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	Decision  string `json:"decision"`
	Category  string `json:"category"`
	Reason    string `json:"reason"`
	Workspace string `json:"workspace,omitempty"`
	Subject   string `json:"subject,omitempty"`
}

var (
	mu           sync.Mutex
	file         *os.File
	db           *sql.DB
	blockedCount atomic.Int64
)

// Init opens the JSONL audit file under homeDir/logs. Safe to call once;
// later calls are no-ops.
func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB configures the database for audit_log table writes.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// BlockedCount returns the total number of blocked decisions since startup.
func BlockedCount() int64 {
	return blockedCount.Load()
}

// Record appends one decision to the trail. decision is one of "allowed",
// "allowed_with_warning", "blocked", "recorded". Secrets are redacted before
// anything is persisted.
func Record(decision, category, reason, workspace, subject string) {
	if decision == "blocked" {
		blockedCount.Add(1)
	}

	reason = shared.Redact(reason)
	subject = shared.Redact(subject)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		ev := entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			Decision:  decision,
			Category:  category,
			Reason:    reason,
			Workspace: workspace,
			Subject:   subject,
		}
		b, err := json.Marshal(ev)
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_, _ = db.ExecContext(ctx, `
			INSERT INTO audit_log (decision, category, reason, workspace_id, subject, created_at)
			VALUES (?, ?, ?, ?, ?, CURRENT_TIMESTAMP);
		`, decision, category, reason, workspace, subject)
	}
}
