package profiler

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
)

func newTestInstaller(t *testing.T, tools map[string]config.ToolSpec) *Installer {
	t.Helper()
	catalog, err := LoadCatalog(tools)
	require.NoError(t, err)
	return NewInstaller(t.TempDir(), catalog, nil)
}
