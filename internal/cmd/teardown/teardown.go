// Package teardown implements "plexup teardown": unbind a claimed server
// from the test account and remove its container.
package teardown

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/schmitthub/plexup/internal/bootstrap"
	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/docker"
	"github.com/schmitthub/plexup/internal/iostreams"
	"github.com/schmitthub/plexup/internal/logger"
	"github.com/schmitthub/plexup/internal/plex"
)

// TeardownOptions holds the options for the teardown command.
type TeardownOptions struct {
	IOStreams *iostreams.IOStreams
	Config    func() (*config.Config, error)
	Client    func(context.Context) (*docker.Client, error)

	// Remove forces removal of the server container as well.
	Remove bool
}

// NewCmdTeardown creates the teardown command.
func NewCmdTeardown(f *cmdutil.Factory, runF func(context.Context, *TeardownOptions) error) *cobra.Command {
	opts := &TeardownOptions{
		IOStreams: f.IOStreams,
		Config:    f.Config,
		Client:    f.Client,
	}

	cmd := &cobra.Command{
		Use:   "teardown",
		Short: "Unclaim the bootstrapped server and clean up",
		Long: `Teardown looks up the server recorded by a previous bootstrap, unbinds it
from the test account if it was claimed, and clears the recorded state.

The account-side unbind works even when the server container is already gone,
so teardown is safe to run unconditionally at the end of a pipeline.`,
		Example: `  # Unclaim only, leave the container for inspection
  plexup teardown

  # Unclaim and remove the container
  plexup teardown --rm`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return runTeardown(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Remove, "rm", false, "Also remove the server container")

	return cmd
}

func runTeardown(ctx context.Context, opts *TeardownOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	inst, err := bootstrap.LoadState(cfg.StateFile())
	if err != nil {
		return err
	}

	if err := Teardown(ctx, cfg, inst); err != nil {
		return err
	}

	if opts.Remove {
		client, err := opts.Client(ctx)
		if err != nil {
			return err
		}
		if err := client.RemoveManagedContainers(ctx, inst.Destination); err != nil {
			return err
		}
		fmt.Fprintf(opts.IOStreams.Out, "Removed server container %s\n", inst.Name)
	}

	if err := bootstrap.ClearState(cfg.StateFile()); err != nil {
		logger.Warn().Err(err).Msg("failed to clear instance state")
	}

	fmt.Fprintf(opts.IOStreams.Out, "Teardown complete for %s (%s)\n", inst.Destination, inst.ClaimState)
	return nil
}

// Teardown unbinds a claimed instance from the test account. Unclaimed
// instances have nothing account-side to release. Shared with "plexup run",
// which tears down its claimed leg directly.
func Teardown(ctx context.Context, cfg *config.Config, inst *bootstrap.Instance) error {
	if inst.ClaimState != config.Claimed {
		logger.Debug().Str("destination", inst.Destination).Msg("unclaimed instance, nothing to release")
		return nil
	}
	if cfg.Auth.Token == "" {
		return fmt.Errorf("PLEXAPI_AUTH_TOKEN is required to unclaim a claimed server")
	}

	account := plex.NewAccountClient(cfg.Auth.AccountURL, cfg.Auth.Token, plex.HeadersFromConfig(cfg.Header), cfg.Server.Timeout)
	return account.Unclaim(ctx, inst.MachineIdentifier)
}
