package profiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

func TestLoadCatalog_BuiltinsAndOverrides(t *testing.T) {
	catalog, err := LoadCatalog(map[string]config.ToolSpec{
		"perf":   {Executable: "/opt/perf"},
		"custom": {Executable: "/bin/true", Attach: config.AttachPID},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"custom", "eventtrace", "perf"}, catalog.Names())

	perf, err := catalog.Tool("perf")
	require.NoError(t, err)
	assert.Equal(t, "/opt/perf", perf.Executable)
	assert.Equal(t, config.AttachPID, perf.Attach)
	assert.True(t, perf.RequiresRoot, "builtin fields survive the override")

	trace, err := catalog.Tool("eventtrace")
	require.NoError(t, err)
	assert.Equal(t, "eventtrace.sh", trace.Template)
	assert.Equal(t, ConverterCollapsed, trace.Convert)

	_, err = catalog.Tool("missing")
	assert.True(t, core.IsCategory(err, core.ErrCatNotFound))
}

func TestInstaller_MaterializesTemplateOnce(t *testing.T) {
	testutil.RequireShell(t)
	inst := newTestInstaller(t, nil)
	ctx := context.Background()

	path, err := inst.Ensure(ctx, "eventtrace")
	require.NoError(t, err)
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.NotZero(t, info.Mode().Perm()&0o100, "collector must be executable")

	require.NoError(t, os.Remove(path))
	again, err := inst.Ensure(ctx, "eventtrace")
	require.NoError(t, err)
	assert.Equal(t, path, again)
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "second check must not reinstall")
}

func TestInstaller_SelfInstallFailure(t *testing.T) {
	script := testutil.WriteScript(t, t.TempDir(), "tool.sh", `
if [ "$1" = "install" ]; then
	echo "missing kernel headers" >&2
	exit 1
fi
`)
	inst := newTestInstaller(t, map[string]config.ToolSpec{
		"broken": {Executable: script, InstallArgs: []string{"install"}},
	})

	_, err := inst.Ensure(context.Background(), "broken")
	require.Error(t, err)
	var de *core.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.CodeInstallFailed, de.Code)
	assert.Equal(t, core.ErrCatToolUnavailable, de.Category)
	assert.Contains(t, de.Details["output"], "missing kernel headers")
}

func TestInstaller_InterruptedInstallIsRetried(t *testing.T) {
	dir := t.TempDir()
	marker := filepath.Join(dir, "attempted")
	script := testutil.WriteScript(t, dir, "tool.sh", fmt.Sprintf(`
if [ "$1" = "install" ] && [ ! -e %q ]; then
	touch %q
	exec sleep 10
fi
`, marker, marker))
	inst := newTestInstaller(t, map[string]config.ToolSpec{
		"slow": {Executable: script, InstallArgs: []string{"install"}},
	})

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, err := inst.Ensure(ctx, "slow")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	path, err := inst.Ensure(context.Background(), "slow")
	require.NoError(t, err)
	assert.Equal(t, script, path)
}

func TestInstaller_RequiresRoot(t *testing.T) {
	inst := newTestInstaller(t, nil)
	inst.euid = func() int { return 1000 }

	_, err := inst.Ensure(context.Background(), "perf")
	require.Error(t, err)
	assert.True(t, core.IsCategory(err, core.ErrCatToolUnavailable))
	assert.Contains(t, err.Error(), "root")
}

func TestInstaller_MissingExecutable(t *testing.T) {
	inst := newTestInstaller(t, map[string]config.ToolSpec{
		"ghost": {Executable: "benchdiag-no-such-tool"},
	})
	_, err := inst.Ensure(context.Background(), "ghost")
	assert.True(t, core.IsCategory(err, core.ErrCatToolUnavailable))
}

func TestSupported(t *testing.T) {
	c := testutil.NewTestCase("Sum", func(c *core.BenchmarkCase) {
		c.Job.RuntimeVersion = "1.22.3"
	})

	assert.Empty(t, Supported(config.ToolSpec{Name: "t"}, c))
	assert.Empty(t, Supported(config.ToolSpec{Name: "t", Platforms: []string{runtime.GOOS}}, c))
	assert.Contains(t, Supported(config.ToolSpec{Name: "t", Platforms: []string{"plan9"}}, c), "platform")
	assert.Contains(t, Supported(config.ToolSpec{Name: "t", Runtimes: []string{"jvm"}}, c), "runtime")
	assert.Empty(t, Supported(config.ToolSpec{Name: "t", RuntimeConstraint: ">= 1.21"}, c))
	assert.Contains(t, Supported(config.ToolSpec{Name: "t", RuntimeConstraint: ">= 1.23"}, c), "requires runtime")

	unknown := testutil.NewTestCase("Sum")
	assert.Contains(t, Supported(config.ToolSpec{Name: "t", RuntimeConstraint: ">= 1.0"}, unknown), "unknown")
}
