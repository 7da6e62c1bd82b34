package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/vtkindex/internal/resource"
)

// SearchOptions holds flags for the search command.
type SearchOptions struct {
	*RootOptions
	Limit int
}

// NewSearchCommand creates the search command.
func NewSearchCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SearchOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over indexed property sets",
		Long: `Query the index with bleve query-string syntax.

Example:
  vtkindex search budget
  vtkindex search 'resourceType:file +quarterly' --limit 5`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSearch(opts, strings.Join(args, " "), cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 25, "maximum number of hits")

	return cmd
}

func runSearch(opts *SearchOptions, query string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)
	if opts.Limit <= 0 {
		return NewExitError(ExitCommandError, "--limit must be positive")
	}

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

	hits, err := svc.Index().Search(cmd.Context(), query, opts.Limit)
	if err != nil {
		_ = formatter.Error(ErrCodeGeneric, err.Error(), nil)
		return WrapExitError(ExitCommandError, "search failed", err)
	}
	formatter.VerboseLog("%d hit(s) for %q", len(hits), query)

	return formatter.SuccessRendered(hits, "", func(w io.Writer) error {
		return renderHits(w, hits)
	})
}

func renderHits(w io.Writer, hits []resource.PropertySet) error {
	if len(hits) == 0 {
		_, err := fmt.Fprintln(w, "no matches")
		return err
	}
	for _, ps := range hits {
		if _, err := fmt.Fprintf(w, "%s\t%s\tid=%d\n", ps.URI, ps.ResourceType, ps.ID); err != nil {
			return err
		}
	}
	return nil
}
