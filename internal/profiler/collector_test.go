package profiler

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

const wellBehaved = `
artifact="$1"
trap 'echo "main;work 4" > "$artifact"; echo "done writing"; exit 0' INT TERM
echo "collector ready"
while :; do sleep 0.05; done
`

func startCollector(t *testing.T, spec config.ToolSpec, body string, opts CollectorOptions) (*Collector, string) {
	t.Helper()
	dir := t.TempDir()
	spec.Executable = testutil.WriteScript(t, dir, "collector.sh", body)
	if spec.Args == nil {
		spec.Args = []string{"{{.Artifact}}", "{{.ReadyFile}}"}
	}
	inst := newTestInstaller(t, map[string]config.ToolSpec{"fake": spec})

	c, m, err := Prepare(context.Background(), inst, "fake", opts)
	require.NoError(t, err)
	assert.Equal(t, StateIdle, m.Current())

	artifact := filepath.Join(dir, "out", "case.trace")
	require.NoError(t, c.Start(context.Background(), StartParams{Artifact: artifact, CaseID: "c1"}))
	assert.Equal(t, StateAwaitingReady, c.Machine().Current())
	return c, artifact
}

func TestCollector_ReadyAndStop(t *testing.T) {
	spec := config.ToolSpec{ReadyPhrase: "collector ready", FinishedPhrase: "done writing"}
	c, artifact := startCollector(t, spec, wellBehaved, CollectorOptions{ReadyTimeout: 5 * time.Second})

	require.NoError(t, c.AwaitReady(context.Background()))
	assert.Equal(t, StateCollecting, c.Machine().Current())

	path, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, artifact, path)
	assert.Equal(t, StateCollected, c.Machine().Current())

	log, err := os.ReadFile(LogPath(artifact))
	require.NoError(t, err)
	assert.Contains(t, string(log), "[stdout] collector ready")
}

func TestCollector_LongOutputLineBeforeReady(t *testing.T) {
	body := `
artifact="$1"
trap 'echo "main;work 4" > "$artifact"; exit 0' INT TERM
head -c 70000 /dev/zero | tr '\0' x
echo
echo "collector ready"
while :; do sleep 0.05; done
`
	spec := config.ToolSpec{ReadyPhrase: "collector ready"}
	c, artifact := startCollector(t, spec, body, CollectorOptions{ReadyTimeout: 5 * time.Second})

	require.NoError(t, c.AwaitReady(context.Background()))
	_, err := c.Stop(context.Background())
	require.NoError(t, err)

	log, err := os.ReadFile(LogPath(artifact))
	require.NoError(t, err)
	assert.Contains(t, string(log), "[stdout] "+strings.Repeat("x", 70000)+"\n")
	assert.Contains(t, string(log), "[stdout] collector ready")
}

func TestCollector_ReadyTimeoutTearsDown(t *testing.T) {
	spec := config.ToolSpec{ReadyPhrase: "never printed"}
	c, _ := startCollector(t, spec, "while :; do sleep 0.05; done\n",
		CollectorOptions{ReadyTimeout: 200 * time.Millisecond})
	pid := c.cmd.Process.Pid

	start := time.Now()
	err := c.AwaitReady(context.Background())
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	var de *core.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.CodeReadyTimeout, de.Code)
	assert.Equal(t, StateFailed, c.Machine().Current())
	assert.False(t, diagnostics.ProcessAlive(pid), "collector must be killed")
}

func TestCollector_CrashBeforeReady(t *testing.T) {
	spec := config.ToolSpec{ReadyPhrase: "ready"}
	c, artifact := startCollector(t, spec, "echo boom >&2\nexit 3\n", CollectorOptions{})

	err := c.AwaitReady(context.Background())
	require.Error(t, err)
	var de *core.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.CodeCollectorCrashed, de.Code)

	log, err := os.ReadFile(LogPath(artifact))
	require.NoError(t, err)
	assert.Contains(t, string(log), "[stderr] boom")
}

func TestCollector_StopTimeoutKillsTree(t *testing.T) {
	body := `
echo "main 1" > "$1"
trap '' INT
echo "collector ready"
while :; do sleep 0.05; done
`
	spec := config.ToolSpec{ReadyPhrase: "collector ready"}
	c, artifact := startCollector(t, spec, body, CollectorOptions{StopTimeout: 300 * time.Millisecond})
	require.NoError(t, c.AwaitReady(context.Background()))
	pid := c.cmd.Process.Pid

	path, err := c.Stop(context.Background())
	assert.Equal(t, artifact, path, "an existing artifact is still recorded")
	require.Error(t, err)
	var de *core.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.CodeStopTimeout, de.Code)
	assert.False(t, diagnostics.ProcessAlive(pid))
}

func TestCollector_MissingArtifact(t *testing.T) {
	body := `
trap 'exit 0' INT
echo "collector ready"
while :; do sleep 0.05; done
`
	spec := config.ToolSpec{ReadyPhrase: "collector ready"}
	c, _ := startCollector(t, spec, body, CollectorOptions{ArtifactTimeout: 100 * time.Millisecond})
	require.NoError(t, c.AwaitReady(context.Background()))

	path, err := c.Stop(context.Background())
	assert.Empty(t, path)
	var de *core.DomainError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, core.CodeArtifactMissing, de.Code)
	assert.Equal(t, StateFailed, c.Machine().Current())
}

func TestCollector_ReadyFile(t *testing.T) {
	body := `
trap 'echo "main 1" > "$1"; exit 0' INT
sleep 0.2
: > "$2"
while :; do sleep 0.05; done
`
	spec := config.ToolSpec{ReadyFile: true}
	c, artifact := startCollector(t, spec, body, CollectorOptions{ReadyTimeout: 5 * time.Second})

	require.NoError(t, c.AwaitReady(context.Background()))
	path, err := c.Stop(context.Background())
	require.NoError(t, err)
	assert.Equal(t, artifact, path)
}

func TestCollector_NoReadinessProbe(t *testing.T) {
	c, _ := startCollector(t, config.ToolSpec{}, wellBehaved, CollectorOptions{})
	require.NoError(t, c.AwaitReady(context.Background()))
	assert.Equal(t, StateCollecting, c.Machine().Current())
	c.Abort(core.ErrInternal("test over"))
	assert.Equal(t, StateFailed, c.Machine().Current())
}

func TestPrepare_UnavailableToolFailsMachine(t *testing.T) {
	inst := newTestInstaller(t, map[string]config.ToolSpec{
		"ghost": {Executable: "benchdiag-no-such-tool"},
	})
	c, m, err := Prepare(context.Background(), inst, "ghost", CollectorOptions{})
	require.Error(t, err)
	assert.Nil(t, c)
	assert.Equal(t, StateFailed, m.Current())
}

func TestRenderArgs(t *testing.T) {
	args, err := renderArgs([]string{"-p", "{{.PID}}", "-o", "{{.Artifact}}"}, StartParams{PID: 42, Artifact: "a.data"})
	require.NoError(t, err)
	assert.Equal(t, []string{"-p", "42", "-o", "a.data"}, args)

	_, err = renderArgs([]string{"{{.Nope}}"}, StartParams{})
	assert.Error(t, err)
}
