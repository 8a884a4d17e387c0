package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
)

// JSONIndex implements core.ArtifactIndex as a single JSON document,
// rewritten atomically on every change.
type JSONIndex struct {
	path string
	mu   sync.Mutex
	doc  indexDocument
}

var _ core.ArtifactIndex = (*JSONIndex)(nil)

type indexDocument struct {
	Sessions  []core.SessionSummary `json:"sessions"`
	Artifacts []core.ArtifactRef    `json:"artifacts"`
}

// indexEnvelope wraps the document with metadata.
type indexEnvelope struct {
	Version   int           `json:"version"`
	Checksum  string        `json:"checksum"`
	UpdatedAt time.Time     `json:"updated_at"`
	Index     indexDocument `json:"index"`
}

// NewJSONIndex loads the index at path, starting empty when the file does
// not exist yet.
func NewJSONIndex(path string) (*JSONIndex, error) {
	m := &JSONIndex{path: path}
	if !fsutil.Exists(path) {
		return m, nil
	}
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, fmt.Errorf("reading index: %w", err)
	}
	var env indexEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("parsing index: %w", err)
	}
	if env.Version != 1 {
		return nil, fmt.Errorf("unsupported index version %d", env.Version)
	}
	sum, err := checksum(env.Index)
	if err != nil {
		return nil, err
	}
	if sum != env.Checksum {
		return nil, fmt.Errorf("index %s is corrupt: checksum mismatch", path)
	}
	m.doc = env.Index
	return m, nil
}

func checksum(doc indexDocument) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshaling index: %w", err)
	}
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:]), nil
}

// Path returns the index file path.
func (m *JSONIndex) Path() string {
	return m.path
}

func (m *JSONIndex) save() error {
	sum, err := checksum(m.doc)
	if err != nil {
		return err
	}
	env := indexEnvelope{
		Version:   1,
		Checksum:  sum,
		UpdatedAt: time.Now(),
		Index:     m.doc,
	}
	if err := fsutil.WriteJSONAtomic(m.path, env); err != nil {
		return fmt.Errorf("writing index: %w", err)
	}
	return nil
}

// Record stores ref, registering its session on first sight.
func (m *JSONIndex) Record(_ context.Context, ref core.ArtifactRef) error {
	if ref.SessionID == "" || ref.Path == "" {
		return core.ErrValidation(core.CodeInvalidConfig, "artifact needs a session id and a path")
	}
	if ref.CreatedAt.IsZero() {
		ref.CreatedAt = time.Now()
	}
	ref.CreatedAt = ref.CreatedAt.UTC()

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.doc.Artifacts {
		if a.SessionID == ref.SessionID && a.Path == ref.Path {
			return nil
		}
	}
	if !m.hasSession(ref.SessionID) {
		m.doc.Sessions = append(m.doc.Sessions, core.SessionSummary{
			SessionID: ref.SessionID,
			StartedAt: ref.CreatedAt,
		})
	}
	m.doc.Artifacts = append(m.doc.Artifacts, ref)
	return m.save()
}

func (m *JSONIndex) hasSession(id string) bool {
	for _, s := range m.doc.Sessions {
		if s.SessionID == id {
			return true
		}
	}
	return false
}

// List returns the artifacts of a session in creation order.
func (m *JSONIndex) List(_ context.Context, sessionID string) ([]core.ArtifactRef, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []core.ArtifactRef
	for _, a := range m.doc.Artifacts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// Sessions returns every known session, newest first.
func (m *JSONIndex) Sessions(_ context.Context) ([]core.SessionSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	counts := make(map[string]int, len(m.doc.Sessions))
	for _, a := range m.doc.Artifacts {
		counts[a.SessionID]++
	}
	out := make([]core.SessionSummary, 0, len(m.doc.Sessions))
	for _, s := range m.doc.Sessions {
		s.Artifacts = counts[s.SessionID]
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out, nil
}

// DeleteSession removes a session and its artifact entries. Files on disk
// are left alone.
func (m *JSONIndex) DeleteSession(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.hasSession(sessionID) {
		return core.ErrNotFound("session", sessionID)
	}
	sessions := m.doc.Sessions[:0]
	for _, s := range m.doc.Sessions {
		if s.SessionID != sessionID {
			sessions = append(sessions, s)
		}
	}
	artifacts := m.doc.Artifacts[:0]
	for _, a := range m.doc.Artifacts {
		if a.SessionID != sessionID {
			artifacts = append(artifacts, a)
		}
	}
	m.doc.Sessions, m.doc.Artifacts = sessions, artifacts
	return m.save()
}

// Close is a no-op; every change is already on disk.
func (m *JSONIndex) Close() error {
	return nil
}
