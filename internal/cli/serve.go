package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/roach88/vtkindex/internal/config"
)

// ServeOptions holds flags for the serve command.
type ServeOptions struct {
	*RootOptions
	Listen         string
	DisableUpdater bool
}

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ServeOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Poll the change log and keep the index up to date",
		Long: `Run the change notifier, index updater, scheduled consistency checks
and the admin HTTP API until interrupted.

Example:
  vtkindex serve --config ./vtkindex.yaml
  vtkindex serve --db ./vtk.db --listen 127.0.0.1:9000 --verbose`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Listen, "listen", "", "admin API address (overrides config; empty keeps config)")
	cmd.Flags().BoolVar(&opts.DisableUpdater, "no-updater", false, "start with the index updater disabled")

	return cmd
}

func runServe(opts *ServeOptions, cmd *cobra.Command) error {
	svc, log, err := opts.openService(cmd, func(cfg *config.Config) {
		if opts.Listen != "" {
			cfg.Admin.Listen = opts.Listen
		}
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := svc.Close(); closeErr != nil {
			log.Error("error closing service", "error", closeErr)
		}
	}()
	if opts.DisableUpdater {
		svc.DisableUpdater()
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	go func() {
		select {
		case sig := <-sigChan:
			log.Info("received signal, shutting down", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	fmt.Fprintln(cmd.OutOrStdout(), "vtkindex running. Press Ctrl-C to stop.")
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return WrapExitError(ExitFailure, "service error", err)
	}

	log.Info("service stopped gracefully")
	return nil
}
