package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/diagnosers"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/logging"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/worker"
)

// workerCmd is the child side of an out-of-process run. stdout carries the
// line protocol, so logs go to stderr.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one benchmark case for the harness",
	Hidden: true,
	Args:   cobra.NoArgs,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
}

func runWorker(cmd *cobra.Command, _ []string) error {
	env, err := worker.EnvFrom(os.LookupEnv)
	if err != nil {
		return fmt.Errorf("reading worker environment: %w", err)
	}
	logger := logging.New(logging.Config{
		Level:  logLevel,
		Format: "json",
		Output: os.Stderr,
	}).WithCase(env.CaseID)

	w := worker.New(env, diagnosers.HandlerRegistry(), os.Stdin, os.Stdout, logger)
	return w.Serve(cmd.Context())
}
