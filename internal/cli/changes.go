package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vtkindex/internal/config"
	"github.com/roach88/vtkindex/internal/resource"
)

// NewChangesCommand creates the changes command.
func NewChangesCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "changes",
		Short: "List pending change-log entries",
		Long: `Show the change-log entries the next poll would deliver, one per
resource (its most recent change). Nothing is removed from the log.

Example:
  vtkindex changes --db ./vtk.db
  vtkindex changes --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChanges(rootOpts, cmd)
		},
	}
	return cmd
}

func runChanges(opts *RootOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	svc, log, err := opts.openService(cmd, func(cfg *config.Config) {
		// Listing must not consume the log.
		cfg.Updater.Enabled = false
	})
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error closing service", "error", closeErr)
		}
	}()

	entries, err := svc.Store().MostRecentChangeLogEntries(cmd.Context())
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "failed to read change log", err)
	}

	return formatter.SuccessRendered(entries, "", func(w io.Writer) error {
		return renderChanges(w, entries)
	})
}

func renderChanges(w io.Writer, entries []resource.ChangeLogEntry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(w, "no pending changes")
		return err
	}
	for _, e := range entries {
		if _, err := fmt.Fprintln(w, e); err != nil {
			return err
		}
	}
	return nil
}
