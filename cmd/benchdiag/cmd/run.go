package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnoser"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/export"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/profiler"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/service"
)

var runCmd = &cobra.Command{
	Use:   "run [case-filter...]",
	Short: "Run benchmark cases under the configured diagnosers",
	Long: `Run every configured case, or those whose display name contains one of
the filters. Diagnosers validate every case first; a fatal finding aborts the
session before any worker starts.`,
	RunE: runRun,
}

var runDryRun bool

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringSlice("diagnosers", nil, "diagnosers to activate (overrides config)")
	runCmd.Flags().StringSlice("show", nil, "columns to show even when uninteresting (* for all)")
	runCmd.Flags().StringSlice("export", nil, "report exporters (json, prometheus)")
	runCmd.Flags().BoolVar(&runDryRun, "dry-run", false, "validate and print the execution plan without running")

	_ = v.BindPFlag("diagnosers", runCmd.Flags().Lookup("diagnosers"))
	_ = v.BindPFlag("show_columns", runCmd.Flags().Lookup("show"))
	_ = v.BindPFlag("exporters", runCmd.Flags().Lookup("export"))
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)
	cases, err := selectCases(cfg, args)
	if err != nil {
		return err
	}

	executor := diagnostics.NewSafeExecutor(logger.Slog())
	catalog, err := profiler.LoadCatalog(cfg.Tools)
	if err != nil {
		return err
	}
	registry := diagnosers.NewRegistry(diagnoser.Deps{
		Config:    cfg,
		Logger:    logger,
		Installer: profiler.NewInstaller(cfg.Profiler.ToolsDir, catalog, logger),
		Executor:  executor,
	})
	defer func() { _ = registry.Close() }()

	composite, err := registry.Build(cfg.Diagnosers)
	if err != nil {
		return err
	}
	exporters, err := export.Build(cfg.Exporters)
	if err != nil {
		return err
	}

	launcher, err := service.NewExecLauncher(cfg.Worker.Command, cfg.Worker.Timeout, executor, logger)
	if err != nil {
		return err
	}
	launcher.Env = cfg.Worker.Env

	opts := service.Options{
		Config:     runConfig(cfg),
		Diagnosers: composite,
		Launcher:   launcher,
		Local:      service.NewLocalLauncher(diagnosers.HandlerRegistry(), logger),
		Exporters:  exporters,
		Logger:     logger,
		Operations: cfg.Worker.Operations,
	}
	if cfg.CrashDumps.Enabled {
		opts.CrashDumps = diagnostics.NewCrashDumpWriter(cfg.CrashDumps.Dir, cfg.CrashDumps.MaxFiles,
			cfg.CrashDumps.IncludeStack, logger.Slog())
	}

	ctx, stop := service.WithInterrupt(cmd.Context())
	defer stop()

	if runDryRun {
		sess, err := service.New(opts)
		if err != nil {
			return err
		}
		found := sess.Validate(ctx, cases)
		printValidation(cmd.ErrOrStderr(), found)
		if err := printPlan(cmd.OutOrStdout(), composite, cases); err != nil {
			return err
		}
		return core.FatalError(found)
	}

	index, err := state.NewIndex(cfg.Artifacts.Index.Backend, cfg.Artifacts.Index.Path)
	if err != nil {
		return err
	}
	defer func() { _ = index.Close() }()
	opts.Index = index

	sess, err := service.New(opts)
	if err != nil {
		return err
	}
	out, runErr := sess.Run(ctx, cases)
	if out != nil {
		printValidation(cmd.ErrOrStderr(), out.Validation)
		if err := sess.Display(cmd.OutOrStdout(), out); err != nil {
			return err
		}
		if !quiet && out.Report != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "\nsession %s: %d artifact(s) under %s\n",
				sess.ID(), len(out.Report.Artifacts), cfg.Artifacts.Dir)
		}
	}
	return runErr
}

func printValidation(w io.Writer, found []core.ValidationError) {
	for _, entry := range found {
		fmt.Fprintln(w, entry.String())
	}
}

// printPlan lists each case with the merged mode and the runs it needs.
func printPlan(w io.Writer, composite *diagnoser.Composite, cases []*core.BenchmarkCase) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "CASE\tMODE\tRUNS\tEXTRA ITERATION\tACTIVE")
	for _, c := range cases {
		plan := core.BuildPlan(composite.Members(), c)
		var active []string
		for _, m := range plan.Members {
			if m.Mode != core.ModeNone {
				active = append(active, fmt.Sprintf("%s(%s)", diagnoser.Name(m.Diagnoser), m.Mode))
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%t\t%v\n", c.DisplayName(), plan.Mode, plan.RunCount(), plan.ExtraIteration, active)
	}
	return tw.Flush()
}
