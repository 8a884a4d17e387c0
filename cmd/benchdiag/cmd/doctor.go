package cmd

import (
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check collectors and host readiness",
	Long: `Verify that the configuration is valid, that every external collector can
be resolved or installed, and that the host is quiet enough to measure on.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type doctorReport struct {
	w        io.Writer
	styles   statusStyles
	failures int
}

func (r *doctorReport) section(name string) {
	fmt.Fprintln(r.w)
	fmt.Fprintln(r.w, r.styles.heading.Render(name))
}

func (r *doctorReport) ok(format string, args ...interface{}) {
	fmt.Fprintf(r.w, "  %s %s\n", r.styles.ok.Render("✓"), fmt.Sprintf(format, args...))
}

func (r *doctorReport) warn(format string, args ...interface{}) {
	fmt.Fprintf(r.w, "  %s %s\n", r.styles.warn.Render("○"), fmt.Sprintf(format, args...))
}

func (r *doctorReport) fail(format string, args ...interface{}) {
	r.failures++
	fmt.Fprintf(r.w, "  %s %s\n", r.styles.fail.Render("✗"), fmt.Sprintf(format, args...))
}

func runDoctor(cmd *cobra.Command, _ []string) error {
	r := &doctorReport{w: cmd.OutOrStdout(), styles: newStatusStyles(noColor)}

	r.section("Configuration")
	cfg, err := loadConfig()
	if err != nil {
		r.fail("%v", err)
		return fmt.Errorf("configuration is invalid")
	}
	r.ok("diagnosers: %v", cfg.Diagnosers)
	r.ok("%d case(s)", len(cfg.Cases))

	logger := newLogger(cfg)

	r.section("Collectors")
	catalog, err := profiler.LoadCatalog(cfg.Tools)
	if err != nil {
		r.fail("tool catalog: %v", err)
	} else {
		checkCollectors(cmd.Context(), r, profiler.NewInstaller(cfg.Profiler.ToolsDir, catalog, logger), cfg.Diagnosers)
	}

	r.section("Host")
	checkHost(r)

	r.section("Artifact index")
	index, err := state.NewIndex(cfg.Artifacts.Index.Backend, cfg.Artifacts.Index.Path)
	if err != nil {
		r.fail("%s index: %v", cfg.Artifacts.Index.Backend, err)
	} else {
		sessions, err := index.Sessions(cmd.Context())
		if err != nil {
			r.fail("reading index: %v", err)
		} else {
			r.ok("%s index at %s (%d session(s))", cfg.Artifacts.Index.Backend, cfg.Artifacts.Index.Path, len(sessions))
		}
		_ = index.Close()
	}

	fmt.Fprintln(r.w)
	if r.failures > 0 {
		return fmt.Errorf("%d check(s) failed", r.failures)
	}
	fmt.Fprintln(r.w, r.styles.ok.Render("All checks passed."))
	return nil
}

// checkCollectors fails for active collectors that cannot be installed and
// only warns for the rest of the catalog.
func checkCollectors(ctx context.Context, r *doctorReport, installer *profiler.Installer, active []string) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	for _, name := range installer.Catalog().Names() {
		path, err := installer.Ensure(ctx, name)
		switch {
		case err == nil:
			r.ok("%s %s", name, r.styles.muted.Render(path))
		case slices.Contains(active, name):
			r.fail("%s: %v", name, err)
		default:
			r.warn("%s unavailable: %v (not active)", name, err)
		}
	}
}

func checkHost(r *doctorReport) {
	topo := diagnostics.HostTopology()
	if topo.Threads > 0 {
		r.ok("%d package(s), %d core(s), %d thread(s) %s", topo.Packages, topo.Cores, topo.Threads,
			r.styles.muted.Render(topo.Model))
	} else {
		r.warn("cpu topology unavailable")
	}

	m := diagnostics.NewSystemMetricsCollector().Collect()
	threads := topo.Threads
	if threads == 0 {
		threads = m.CPUThreads
	}
	switch {
	case threads > 0 && m.LoadAvg1 > float64(threads):
		r.warn("load average %.2f exceeds %d hardware threads; results will be noisy", m.LoadAvg1, threads)
	default:
		r.ok("load average %.2f", m.LoadAvg1)
	}
	if m.MemTotalMB > 0 {
		r.ok("memory %.0f%% used of %.0f MB", m.MemPercent, m.MemTotalMB)
	}
}
