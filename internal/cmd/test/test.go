// Package test implements "plexup test": run the client library's suite
// against an already-bootstrapped server, selecting the subset for one
// claim state.
package test

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/executor"
	"github.com/schmitthub/plexup/internal/iostreams"
)

// TestOptions holds the options for the test command.
type TestOptions struct {
	IOStreams *iostreams.IOStreams
	Config    func() (*config.Config, error)

	Unclaimed   bool
	Claimed     bool
	RunOnce     bool
	IncludeSync bool
	ArtifactDir string
	ToolVersion string
	Packages    []string
}

// ClaimState returns the selected claim state.
func (o *TestOptions) ClaimState() config.ClaimState {
	if o.Claimed {
		return config.Claimed
	}
	return config.Unclaimed
}

// NewCmdTest creates the test command.
func NewCmdTest(f *cmdutil.Factory, runF func(context.Context, *TestOptions) error) *cobra.Command {
	opts := &TestOptions{
		IOStreams: f.IOStreams,
		Config:    f.Config,
	}

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Run the test suite against a bootstrapped server",
		Long: `Test runs the client library's suite against the server described by the
PLEXAPI_SERVER_BASEURL / PLEXAPI_AUTH_TOKEN environment, selecting the test
subset for the given claim state and writing a coverage artifact named
coverage-<claim-state>-<tool-version>.out.

Account-mutating tests run only when --run-once is set; by default that is
true for the unclaimed leg and false for the claimed leg, so a two-leg
pipeline executes them exactly once.`,
		Example: `  # Unclaimed subset (account-mutating tests included by default)
  plexup test --unclaimed

  # Claimed subset, artifacts into a shared directory
  plexup test --claimed --artifact-dir ./artifacts --tool-version go1.25`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Unclaimed == opts.Claimed {
				return cmdutil.FlagErrorf("exactly one of --unclaimed or --claimed is required")
			}
			// The account-mutating tests default onto the unclaimed leg.
			if !cmd.Flags().Changed("run-once") {
				opts.RunOnce = opts.Unclaimed
			}

			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return runTest(cmd.Context(), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Unclaimed, "unclaimed", false, "Run the unclaimed test subset")
	cmd.Flags().BoolVar(&opts.Claimed, "claimed", false, "Run the claimed test subset")
	cmd.Flags().BoolVar(&opts.RunOnce, "run-once", false, "Include account-mutating tests (default: unclaimed leg only)")
	cmd.Flags().BoolVar(&opts.IncludeSync, "include-sync", false, "Include the synchronization feature tests")
	cmd.Flags().StringVar(&opts.ArtifactDir, "artifact-dir", "", "Directory for the coverage artifact (default from config)")
	cmd.Flags().StringVar(&opts.ToolVersion, "tool-version", "", "Toolchain version tag for the artifact name")
	cmd.Flags().StringSliceVar(&opts.Packages, "packages", nil, "Packages to test (default from config)")

	return cmd
}

func runTest(ctx context.Context, opts *TestOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	result, err := Run(ctx, cfg, opts)
	if result != nil {
		fmt.Fprintf(opts.IOStreams.Out, "Suite %s: passed=%t elapsed=%s artifact=%s\n",
			result.ClaimState, result.Passed, result.Elapsed.Round(time.Second), result.Artifact)
	}
	return err
}

// Run builds executor options from config and flags and executes the suite.
// Shared with "plexup run", which invokes one suite per leg.
func Run(ctx context.Context, cfg *config.Config, opts *TestOptions) (*executor.Result, error) {
	artifactDir := opts.ArtifactDir
	if artifactDir == "" {
		artifactDir = cfg.Coverage.ArtifactDir
	}
	toolVersion := opts.ToolVersion
	if toolVersion == "" {
		toolVersion = runtime.Version()
	}
	packages := opts.Packages
	if len(packages) == 0 {
		packages = cfg.Test.Packages
	}

	execOpts := executor.Options{
		ClaimState:     opts.ClaimState(),
		BaseURL:        cfg.Server.BaseURL,
		Token:          cfg.Auth.Token,
		RequestTimeout: cfg.Server.Timeout,
		Headers:        cfg.Header,
		RunOnce:        opts.RunOnce,
		IncludeSync:    opts.IncludeSync || cfg.Test.IncludeSync,
		Packages:       packages,
		ArtifactDir:    artifactDir,
		ToolVersion:    toolVersion,
	}

	return executor.New(nil, opts.IOStreams.Out, opts.IOStreams.ErrOut).Run(ctx, execOpts)
}
