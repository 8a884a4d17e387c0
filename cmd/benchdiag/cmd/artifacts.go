package cmd

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/benchdiag/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/benchdiag/internal/core"
)

var artifactsCmd = &cobra.Command{
	Use:     "artifacts",
	Aliases: []string{"art"},
	Short:   "Browse the artifact index",
}

var artifactsSessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded sessions, newest first",
	Args:  cobra.NoArgs,
	RunE:  runArtifactsSessions,
}

var artifactsListCmd = &cobra.Command{
	Use:   "list <session>",
	Short: "List the artifacts of a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsList,
}

var artifactsRmCmd = &cobra.Command{
	Use:   "rm <session>",
	Short: "Forget a session",
	Args:  cobra.ExactArgs(1),
	RunE:  runArtifactsRm,
}

var artifactsRmFiles bool

func init() {
	rootCmd.AddCommand(artifactsCmd)
	artifactsCmd.AddCommand(artifactsSessionsCmd, artifactsListCmd, artifactsRmCmd)
	artifactsRmCmd.Flags().BoolVar(&artifactsRmFiles, "files", false, "Also delete the artifact files")
}

func openIndex() (core.ArtifactIndex, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return state.NewIndex(cfg.Artifacts.Index.Backend, cfg.Artifacts.Index.Path)
}

func runArtifactsSessions(cmd *cobra.Command, _ []string) error {
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	sessions, err := index.Sessions(cmd.Context())
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No sessions recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTARTED\tARTIFACTS")
	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%d\n", s.SessionID, humanize.Time(s.StartedAt), s.Artifacts)
	}
	return w.Flush()
}

func runArtifactsList(cmd *cobra.Command, args []string) error {
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	refs, err := index.List(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if len(refs) == 0 {
		return core.ErrNotFound("session", args[0])
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "DIAGNOSER\tKIND\tSIZE\tPATH")
	for _, ref := range refs {
		size := "missing"
		if info, err := os.Stat(ref.Path); err == nil {
			size = humanize.IBytes(uint64(info.Size()))
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", ref.Diagnoser, ref.Kind, size, ref.Path)
	}
	return w.Flush()
}

func runArtifactsRm(cmd *cobra.Command, args []string) error {
	index, err := openIndex()
	if err != nil {
		return err
	}
	defer index.Close()

	deleter, ok := index.(state.SessionDeleter)
	if !ok {
		return fmt.Errorf("index backend cannot delete sessions")
	}

	removed := 0
	if artifactsRmFiles {
		refs, err := index.List(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		for _, ref := range refs {
			if err := os.Remove(ref.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("removing %s: %w", ref.Path, err)
			}
			removed++
		}
	}

	if err := deleter.DeleteSession(cmd.Context(), args[0]); err != nil {
		return err
	}
	if !quiet {
		fmt.Fprintf(cmd.OutOrStdout(), "Removed session %s", args[0])
		if artifactsRmFiles {
			fmt.Fprintf(cmd.OutOrStdout(), " and %d file(s)", removed)
		}
		fmt.Fprintln(cmd.OutOrStdout())
	}
	return nil
}
