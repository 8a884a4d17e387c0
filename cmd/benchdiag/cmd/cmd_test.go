package cmd

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/testutil"
)

// execute runs the root command in dir with a clean home directory.
func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Chdir(dir)

	cfgFile, runDryRun, initForce, initUser, artifactsRmFiles, quiet = "", false, false, false, false, false
	noColor = true

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

// writeConfig writes the default configuration with a json index into dir.
func writeConfig(t *testing.T, dir string) string {
	t.Helper()
	content := strings.Replace(config.DefaultConfigYAML,
		"backend: sqlite   # sqlite | json\n    path: .benchdiag/index.db",
		"backend: json\n    path: .benchdiag/index.json", 1)
	path := filepath.Join(dir, "bench.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestRootCmd_Structure(t *testing.T) {
	assert.Equal(t, "benchdiag", rootCmd.Use)
	assert.NotEmpty(t, rootCmd.Short)

	names := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"run", "doctor", "artifacts", "init", "worker", "version"} {
		assert.True(t, names[want], "missing subcommand %s", want)
	}
	assert.True(t, workerCmd.Hidden)
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2024-01-15")

	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	assert.Contains(t, out, "benchdiag v1.2.3")
	assert.Contains(t, out, "abc123def")
	assert.Contains(t, out, "2024-01-15")
}

func TestInitCommand(t *testing.T) {
	dir := t.TempDir()

	_, err := execute(t, dir, "init")
	require.NoError(t, err)
	data, err := os.ReadFile(filepath.Join(dir, config.ProjectConfigFile))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultConfigYAML, string(data))

	_, err = execute(t, dir, "init")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = execute(t, dir, "init", "--force")
	assert.NoError(t, err)
}

func TestRunCommand_DryRunPrintsPlan(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	out, err := execute(t, dir, "--config", path, "run", "--dry-run", "alloc")
	require.NoError(t, err)
	assert.Contains(t, out, "CASE")
	assert.Contains(t, out, "Allocate")
	assert.NotContains(t, out, "Contend")
	assert.Contains(t, out, "allocs(")

	_, err = os.Stat(filepath.Join(dir, ".benchdiag", "index.json"))
	assert.True(t, os.IsNotExist(err), "dry run must not touch the index")
}

func TestRunCommand_NoMatchingCase(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	_, err := execute(t, dir, "--config", path, "run", "--dry-run", "nothing-like-this")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no case matches")
}

func TestArtifactsCommand_EmptyIndex(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir)

	out, err := execute(t, dir, "--config", path, "artifacts", "sessions")
	require.NoError(t, err)
	assert.Contains(t, out, "No sessions recorded.")

	_, err = execute(t, dir, "--config", path, "artifacts", "rm", "missing")
	require.Error(t, err)
}

func TestDoctorCommand(t *testing.T) {
	testutil.RequireShell(t)
	dir := t.TempDir()
	path := writeConfig(t, dir)

	out, err := execute(t, dir, "--config", path, "doctor")
	require.NoError(t, err, out)
	for _, section := range []string{"Configuration", "Collectors", "Host", "Artifact index"} {
		assert.Contains(t, out, section)
	}
	assert.Contains(t, out, "All checks passed.")
	assert.NotContains(t, out, "\x1b[", "no-color output must be plain")
}

func TestDoctorCommand_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("diagnosers: [memroy]\n"), 0o600))

	out, err := execute(t, dir, "--config", path, "doctor")
	require.Error(t, err)
	assert.Contains(t, out, "memroy")
}

func TestSelectCases(t *testing.T) {
	cfg := &config.Config{}
	_, err := selectCases(cfg, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no cases configured")
}
