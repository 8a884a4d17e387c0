package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

type indexFactory func(t *testing.T, dir string) core.ArtifactIndex

func backends() map[string]indexFactory {
	return map[string]indexFactory{
		"sqlite": func(t *testing.T, dir string) core.ArtifactIndex {
			idx, err := NewSQLiteIndex(filepath.Join(dir, "index.db"))
			require.NoError(t, err)
			return idx
		},
		"json": func(t *testing.T, dir string) core.ArtifactIndex {
			idx, err := NewJSONIndex(filepath.Join(dir, "index.json"))
			require.NoError(t, err)
			return idx
		},
	}
}

var base = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func ref(session, path string, offset time.Duration) core.ArtifactRef {
	return core.ArtifactRef{
		SessionID: session,
		CaseID:    "case-" + path,
		Diagnoser: "perf",
		Kind:      core.ArtifactTrace,
		Path:      path,
		CreatedAt: base.Add(offset),
	}
}

func TestIndex_RecordAndList(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := open(t, t.TempDir())
			defer idx.Close()

			require.NoError(t, idx.Record(ctx, ref("s1", "/a/second.trace", 2*time.Second)))
			require.NoError(t, idx.Record(ctx, ref("s1", "/a/first.trace", time.Second)))
			require.NoError(t, idx.Record(ctx, ref("s2", "/b/other.trace", 0)))

			got, err := idx.List(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got, 2)
			assert.Equal(t, "/a/first.trace", got[0].Path)
			assert.Equal(t, "/a/second.trace", got[1].Path)
			assert.Equal(t, core.ArtifactTrace, got[0].Kind)
			assert.Equal(t, "perf", got[0].Diagnoser)
			assert.True(t, got[0].CreatedAt.Equal(base.Add(time.Second)))

			none, err := idx.List(ctx, "missing")
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}

func TestIndex_RecordSamePathTwiceIsNoop(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := open(t, t.TempDir())
			defer idx.Close()

			r := ref("s1", "/a/x.trace", 0)
			require.NoError(t, idx.Record(ctx, r))
			r.Diagnoser = "changed"
			require.NoError(t, idx.Record(ctx, r))

			got, err := idx.List(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "perf", got[0].Diagnoser)
		})
	}
}

func TestIndex_RecordRequiresSessionAndPath(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			idx := open(t, t.TempDir())
			defer idx.Close()

			err := idx.Record(context.Background(), core.ArtifactRef{Path: "/x"})
			require.Error(t, err)
			assert.True(t, core.IsCategory(err, core.ErrCatValidation))
			err = idx.Record(context.Background(), core.ArtifactRef{SessionID: "s"})
			require.Error(t, err)
		})
	}
}

func TestIndex_SessionsNewestFirst(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := open(t, t.TempDir())
			defer idx.Close()

			require.NoError(t, idx.Record(ctx, ref("old", "/o/1", 0)))
			require.NoError(t, idx.Record(ctx, ref("old", "/o/2", time.Second)))
			require.NoError(t, idx.Record(ctx, ref("new", "/n/1", time.Hour)))

			sessions, err := idx.Sessions(ctx)
			require.NoError(t, err)
			require.Len(t, sessions, 2)
			assert.Equal(t, "new", sessions[0].SessionID)
			assert.Equal(t, 1, sessions[0].Artifacts)
			assert.Equal(t, "old", sessions[1].SessionID)
			assert.Equal(t, 2, sessions[1].Artifacts)
			assert.True(t, sessions[1].StartedAt.Equal(base))
		})
	}
}

func TestIndex_PersistsAcrossReopen(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			dir := t.TempDir()

			idx := open(t, dir)
			require.NoError(t, idx.Record(ctx, ref("s1", "/a/x.trace", 0)))
			require.NoError(t, idx.Close())

			reopened := open(t, dir)
			defer reopened.Close()
			got, err := reopened.List(ctx, "s1")
			require.NoError(t, err)
			require.Len(t, got, 1)
			assert.Equal(t, "/a/x.trace", got[0].Path)
		})
	}
}

func TestIndex_DeleteSession(t *testing.T) {
	for name, open := range backends() {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			idx := open(t, t.TempDir())
			defer idx.Close()

			require.NoError(t, idx.Record(ctx, ref("s1", "/a/x", 0)))
			require.NoError(t, idx.Record(ctx, ref("s2", "/b/y", 0)))

			deleter, ok := idx.(SessionDeleter)
			require.True(t, ok)
			require.NoError(t, deleter.DeleteSession(ctx, "s1"))

			got, err := idx.List(ctx, "s1")
			require.NoError(t, err)
			assert.Empty(t, got)
			sessions, err := idx.Sessions(ctx)
			require.NoError(t, err)
			require.Len(t, sessions, 1)
			assert.Equal(t, "s2", sessions[0].SessionID)

			err = deleter.DeleteSession(ctx, "s1")
			assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
		})
	}
}

func TestJSONIndex_DetectsCorruption(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "index.json")
	idx, err := NewJSONIndex(path)
	require.NoError(t, err)
	require.NoError(t, idx.Record(ctx, ref("s1", "/a/x.trace", 0)))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	tampered := strings.Replace(string(data), "/a/x.trace", "/a/y.trace", 1)
	require.NoError(t, os.WriteFile(path, []byte(tampered), 0o600))

	_, err = NewJSONIndex(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestJSONIndex_RejectsUnknownVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "index.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"version": 7}`), 0o600))

	_, err := NewJSONIndex(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported index version")
}

func TestNewIndex(t *testing.T) {
	tests := []struct {
		name        string
		backend     string
		path        string
		wantType    string
		wantFile    string
		errContains string
	}{
		{name: "empty backend defaults to sqlite", backend: "", path: "index.db", wantType: "*state.SQLiteIndex", wantFile: "index.db"},
		{name: "sqlite mixed case", backend: "SQLite", path: "index.json", wantType: "*state.SQLiteIndex", wantFile: "index.db"},
		{name: "json", backend: "json", path: "index.db", wantType: "*state.JSONIndex", wantFile: "index.json"},
		{name: "unsupported", backend: "redis", path: "index.db", errContains: "unsupported index backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			idx, err := NewIndex(tt.backend, filepath.Join(dir, tt.path))
			if tt.errContains != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.errContains)
				return
			}
			require.NoError(t, err)
			defer idx.Close()

			assert.Equal(t, tt.wantType, fmt.Sprintf("%T", idx))
			require.NoError(t, idx.Record(context.Background(), ref("s", "/p", 0)))
			_, err = os.Stat(filepath.Join(dir, tt.wantFile))
			assert.NoError(t, err)
		})
	}
}
