package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a default configuration file",
	Long: `Write the default configuration to ./.benchdiag.yaml, or to the user
configuration directory with --user.`,
	RunE: runInit,
}

var (
	initForce bool
	initUser  bool
)

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
	initCmd.Flags().BoolVar(&initUser, "user", false, "Write the user-level configuration instead")
}

func runInit(cmd *cobra.Command, _ []string) error {
	var path string
	if initUser {
		p, err := config.UserConfigPath()
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(p), 0o750); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}
		path = p
	} else {
		cwd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("getting current directory: %w", err)
		}
		path = filepath.Join(cwd, config.ProjectConfigFile)
	}

	if err := config.WriteDefaultConfig(path, initForce); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
	}
	return nil
}
