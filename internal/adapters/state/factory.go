// Package state persists the artifact index across sessions.
package state

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

// Index backends.
const (
	BackendSQLite = "sqlite"
	BackendJSON   = "json"
)

// SessionDeleter is implemented by indexes that can forget a session.
type SessionDeleter interface {
	DeleteSession(ctx context.Context, sessionID string) error
}

// NewIndex opens the artifact index for backend at path. An empty backend
// selects SQLite. The path extension is adjusted to the backend.
func NewIndex(backend, path string) (core.ArtifactIndex, error) {
	switch strings.ToLower(strings.TrimSpace(backend)) {
	case "", BackendSQLite:
		if !strings.HasSuffix(path, ".db") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
		}
		return NewSQLiteIndex(path)
	case BackendJSON:
		if !strings.HasSuffix(path, ".json") {
			path = strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		}
		return NewJSONIndex(path)
	default:
		return nil, fmt.Errorf("unsupported index backend %q", backend)
	}
}
