package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/roach88/vtkindex/internal/consistency"
	"github.com/roach88/vtkindex/internal/service"
)

// CheckOptions holds flags for the check command.
type CheckOptions struct {
	*RootOptions
	Repair         bool
	AbortOnFailure bool
}

// NewCheckCommand creates the check command.
func NewCheckCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CheckOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Compare the index against the resource store",
		Long: `Run a consistency check over every resource and index document.

Exit status is 0 when the index is consistent (or every finding was
repaired), 1 when inconsistencies remain, and 2 when the check could not
run, including when index storage fails its integrity check.

Example:
  vtkindex check --db ./vtk.db --index ./vtk.bleve
  vtkindex check --repair --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCheck(opts, cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Repair, "repair", false, "repair every repairable inconsistency")
	cmd.Flags().BoolVar(&opts.AbortOnFailure, "abort-on-failure", false, "stop repairing at the first failure")

	return cmd
}

func runCheck(opts *CheckOptions, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	svc, log, err := opts.openService(cmd)
	if err != nil {
		_ = formatter.Error(ErrCodeConfig, err.Error(), nil)
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error closing service", "error", closeErr)
		}
	}()

	result, err := svc.RunCheck(cmd.Context(), opts.Repair, opts.AbortOnFailure)
	var re *consistency.RepairError
	switch {
	case consistency.IsStorageCorruption(err):
		_ = formatter.Error(ErrCodeStorageCorruption, err.Error(), nil)
		return WrapExitError(ExitCommandError, "index storage is corrupt", err)
	case errors.As(err, &re):
		_ = formatter.Error(ErrCodeRepairAborted, err.Error(), result)
		return WrapExitError(ExitFailure, "repair aborted", err)
	case err != nil:
		_ = formatter.Error(ErrCodeScanIncomplete, err.Error(), result)
		return WrapExitError(ExitCommandError, "consistency check failed", err)
	}

	checkID := result.Report.CheckID
	if err := formatter.SuccessRendered(result, checkID, func(w io.Writer) error {
		return renderCheck(w, result)
	}); err != nil {
		return WrapExitError(ExitCommandError, "failed to write output", err)
	}

	if remaining := remainingInconsistencies(result); remaining > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d inconsistencies remain", remaining))
	}
	return nil
}

func renderCheck(w io.Writer, result *service.CheckResult) error {
	if err := result.Report.WriteText(w); err != nil {
		return err
	}
	if rep := result.Repair; rep != nil {
		fmt.Fprintf(w, "\nrepaired %d, skipped %d, failed %d\n", rep.Repaired, rep.Skipped, rep.Failed)
		for _, f := range rep.Failures {
			fmt.Fprintf(w, "  %s %s: %s\n", f.Kind, f.URI, f.Error)
		}
	}
	return nil
}

// remainingInconsistencies counts findings not fixed by the repair pass.
func remainingInconsistencies(result *service.CheckResult) int {
	found := len(result.Report.Entries)
	if result.Repair == nil {
		return found
	}
	return found - result.Repair.Repaired
}
