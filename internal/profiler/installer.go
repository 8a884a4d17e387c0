package profiler

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/fsutil"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
)

const installTimeout = 2 * time.Minute

type installResult struct {
	done chan struct{}
	path string
	err  error
}

// Installer resolves collector executables, materializing bundled templates
// under the tools directory. Each tool is checked at most once per Installer;
// later calls return the first result.
type Installer struct {
	dir     string
	catalog *Catalog
	logger  *logging.Logger

	mu      sync.Mutex
	results map[string]*installResult

	// euid is swapped in tests.
	euid func() int
}

// NewInstaller creates an installer writing templates under dir.
func NewInstaller(dir string, catalog *Catalog, logger *logging.Logger) *Installer {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Installer{
		dir:     dir,
		catalog: catalog,
		logger:  logger,
		results: make(map[string]*installResult),
		euid:    os.Geteuid,
	}
}

// Catalog returns the tool catalog.
func (i *Installer) Catalog() *Catalog {
	return i.catalog
}

// Ensure makes the named tool runnable and returns its executable path.
// Errors are tool-availability errors and are cached, except failures
// caused by ctx ending, which later calls retry.
func (i *Installer) Ensure(ctx context.Context, name string) (string, error) {
	i.mu.Lock()
	res, ok := i.results[name]
	if !ok {
		res = &installResult{done: make(chan struct{})}
		i.results[name] = res
	}
	i.mu.Unlock()

	if ok {
		select {
		case <-res.done:
			return res.path, res.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}

	res.path, res.err = i.install(ctx, name)
	if res.err != nil && ctx.Err() != nil {
		res.err = fmt.Errorf("%w: %w", ctx.Err(), res.err)
		i.mu.Lock()
		delete(i.results, name)
		i.mu.Unlock()
	}
	close(res.done)
	return res.path, res.err
}

func (i *Installer) install(ctx context.Context, name string) (string, error) {
	spec, err := i.catalog.Tool(name)
	if err != nil {
		return "", core.ErrToolUnavailable(name, "no such collector tool").WithCause(err)
	}
	log := i.logger.WithTool(name)

	if spec.RequiresRoot && i.euid() != 0 {
		return "", core.ErrToolUnavailable(name, "collector requires root privileges")
	}

	var path string
	switch {
	case spec.Template != "":
		path, err = i.materialize(spec)
		if err != nil {
			return "", err
		}
	case spec.Executable != "":
		path, err = exec.LookPath(spec.Executable)
		if err != nil {
			return "", core.ErrToolUnavailable(name,
				fmt.Sprintf("executable %q not found", spec.Executable)).WithCause(err)
		}
	default:
		return "", core.ErrToolUnavailable(name, "tool has neither executable nor template")
	}

	if len(spec.InstallArgs) > 0 {
		if err := i.selfInstall(ctx, spec, path); err != nil {
			return "", err
		}
	}

	log.Debug("collector available", "path", path)
	return path, nil
}

// materialize writes the bundled template under the tools directory unless
// a previous session already did.
func (i *Installer) materialize(spec config.ToolSpec) (string, error) {
	path := filepath.Join(i.dir, spec.Name, filepath.Base(spec.Template))
	if fsutil.Exists(path) {
		return path, nil
	}
	data, err := Template(spec.Template)
	if err != nil {
		return "", core.ErrToolUnavailable(spec.Name, "bundled template missing").WithCause(err)
	}
	if err := fsutil.WriteFileAtomic(path, data, 0o700); err != nil {
		e := core.ErrToolUnavailable(spec.Name, "cannot write collector template").WithCause(err)
		e.Code = core.CodeInstallFailed
		return "", e
	}
	// #nosec G302 -- the collector must be executable by its owner
	if err := os.Chmod(path, 0o700); err != nil {
		e := core.ErrToolUnavailable(spec.Name, "cannot mark collector executable").WithCause(err)
		e.Code = core.CodeInstallFailed
		return "", e
	}
	i.logger.WithTool(spec.Name).Info("collector installed", "path", path)
	return path, nil
}

func (i *Installer) selfInstall(ctx context.Context, spec config.ToolSpec, path string) error {
	ctx, cancel := context.WithTimeout(ctx, installTimeout)
	defer cancel()

	// #nosec G204 -- path is the resolved collector, args come from the tool catalog
	cmd := exec.CommandContext(ctx, path, spec.InstallArgs...)
	cmd.Env = toolEnv(spec)
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		e := core.ErrToolUnavailable(spec.Name, "collector self-install failed").
			WithCause(err).
			WithDetail("output", truncate(out.String(), 2000))
		e.Code = core.CodeInstallFailed
		return e
	}
	return nil
}

// Supported returns why spec cannot serve c, or "" when it can. It looks only
// at the tool spec and the case's job; it never touches the host.
func Supported(spec config.ToolSpec, c *core.BenchmarkCase) string {
	platform := c.Job.Platform
	if platform == "" {
		platform = runtime.GOOS
	}
	if len(spec.Platforms) > 0 && !containsString(spec.Platforms, platform) {
		return fmt.Sprintf("%s does not support platform %s", spec.Name, platform)
	}
	if len(spec.Runtimes) > 0 && !containsString(spec.Runtimes, string(c.Job.Runtime)) {
		return fmt.Sprintf("%s does not support runtime %q", spec.Name, c.Job.Runtime)
	}
	if spec.RuntimeConstraint != "" {
		ok, err := satisfies(c.Job.RuntimeVersion, spec.RuntimeConstraint)
		if err != nil {
			return fmt.Sprintf("%s: %v", spec.Name, err)
		}
		if !ok {
			return fmt.Sprintf("%s requires runtime %s, job has %s",
				spec.Name, spec.RuntimeConstraint, c.Job.RuntimeVersion)
		}
	}
	return ""
}

func toolEnv(spec config.ToolSpec) []string {
	env := os.Environ()
	for k, v := range spec.Env {
		env = append(env, k+"="+v)
	}
	return env
}

func containsString(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "... [truncated]"
}
