package db

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const (
	workspaceDir       = ".maintline"
	fileName           = "maintline.db"
	defaultBusyTimeout = 5 * time.Second
)

// Config locates the database inside a workspace.
type Config struct {
	Workspace   string
	BusyTimeout time.Duration
}

// Dir is the data directory of workspace.
func Dir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, workspaceDir)
}

// EnsureWorkspace creates the data directory if missing and returns it.
func EnsureWorkspace(workspace string) (string, error) {
	dir := Dir(workspace)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create workspace %s: %w", dir, err)
	}
	return dir, nil
}

// Open returns a handle with foreign keys enforced. Writers wait up to
// BusyTimeout for the lock and transactions take it when they begin.
func Open(cfg Config) (*sql.DB, error) {
	dir, err := EnsureWorkspace(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = defaultBusyTimeout
	}
	q := url.Values{}
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy.Milliseconds()))
	q.Set("_txlock", "immediate")
	dsn := "file:" + filepath.Join(dir, fileName) + "?" + q.Encode()
	return sql.Open("sqlite", dsn)
}
