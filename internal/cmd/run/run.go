// Package run implements "plexup run": the full pipeline. Both matrix legs
// execute in parallel, each bootstrapping its own server on a distinct host
// port, and the coverage aggregator joins them at the end.
package run

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/spf13/cobra"

	"github.com/schmitthub/plexup/internal/bootstrap"
	bootstrapcmd "github.com/schmitthub/plexup/internal/cmd/bootstrap"
	teardowncmd "github.com/schmitthub/plexup/internal/cmd/teardown"
	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/coverage"
	"github.com/schmitthub/plexup/internal/docker"
	"github.com/schmitthub/plexup/internal/executor"
	"github.com/schmitthub/plexup/internal/iostreams"
	"github.com/schmitthub/plexup/internal/leg"
	"github.com/schmitthub/plexup/internal/logger"
)

// Host ports for the parallel legs. Each leg owns its own server container;
// distinct ports keep them from colliding on one machine.
const (
	unclaimedHostPort = 32400
	claimedHostPort   = 32401
)

// RunOptions holds the options for the run command.
type RunOptions struct {
	IOStreams *iostreams.IOStreams
	Config    func() (*config.Config, error)
	Client    func(context.Context) (*docker.Client, error)

	Destination      string
	DockerTag        string
	BootstrapTimeout int // seconds
	ArtifactDir      string
	ToolVersion      string
	Threshold        float64
	IncludeSync      bool
}

// NewCmdRun creates the run command.
func NewCmdRun(f *cmdutil.Factory, runF func(context.Context, *RunOptions) error) *cobra.Command {
	opts := &RunOptions{
		IOStreams: f.IOStreams,
		Config:    f.Config,
		Client:    f.Client,
	}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the full pipeline: both legs plus the coverage gate",
		Long: `Run executes the unclaimed and claimed legs in parallel. Each leg
bootstraps its own server, runs its test subset, and tears down; the claimed
leg additionally unbinds from the test account, success or failure. The
account-mutating tests run on the unclaimed leg only, so they execute once
per pipeline.

After both legs finish, the per-leg coverage artifacts are merged and the
aggregate checked against the threshold. Leg failures and a failed coverage
gate each fail the pipeline; aggregation runs regardless of leg outcomes.`,
		Example: `  # Full pipeline with defaults
  PLEXAPI_AUTH_TOKEN=xxx plexup run

  # Pin the server image, collect artifacts in one place
  PLEXAPI_AUTH_TOKEN=xxx plexup run --docker-tag 1.32.8 --artifact-dir ./artifacts`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return runPipeline(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Destination, "destination", "plexapi-tests", "Label prefix for the per-leg server instances")
	cmd.Flags().StringVar(&opts.DockerTag, "docker-tag", "", "Server image tag (default from config)")
	cmd.Flags().IntVar(&opts.BootstrapTimeout, "bootstrap-timeout", 0, "Seconds to wait for server readiness (default from config)")
	cmd.Flags().StringVar(&opts.ArtifactDir, "artifact-dir", "", "Directory for coverage artifacts (default from config)")
	cmd.Flags().StringVar(&opts.ToolVersion, "tool-version", "", "Toolchain version tag for artifact names")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", -1, "Minimum aggregate coverage percent (default from config)")
	cmd.Flags().BoolVar(&opts.IncludeSync, "include-sync", false, "Include the synchronization feature tests")

	return cmd
}

func runPipeline(ctx context.Context, opts *RunOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}
	client, err := opts.Client(ctx)
	if err != nil {
		return err
	}

	artifactDir := opts.ArtifactDir
	if artifactDir == "" {
		artifactDir = cfg.Coverage.ArtifactDir
	}
	toolVersion := opts.ToolVersion
	if toolVersion == "" {
		toolVersion = runtime.Version()
	}
	threshold := opts.Threshold
	if threshold < 0 {
		threshold = cfg.Coverage.Threshold
	}

	pipelines := []*leg.Pipeline{
		newLeg(opts, cfg, client, config.Unclaimed, artifactDir, toolVersion),
		newLeg(opts, cfg, client, config.Claimed, artifactDir, toolVersion),
	}

	start := time.Now()
	results := leg.RunAll(ctx, pipelines)

	var legErr error
	for _, r := range results {
		status := "ok"
		if r.Err != nil {
			status = r.Err.Error()
			if legErr == nil {
				legErr = fmt.Errorf("%s leg: %w", r.ClaimState, r.Err)
			}
		}
		fmt.Fprintf(opts.IOStreams.Out, "leg %-9s %s\n", r.ClaimState, status)
	}

	// The join point: aggregate whatever artifacts the legs produced.
	report, aggErr := coverage.Aggregate(artifactDir, threshold)
	if report != nil {
		fmt.Fprintf(opts.IOStreams.Out, "coverage: %.1f%% of statements (threshold %.1f%%, %d artifacts)\n",
			report.Total, report.Threshold, len(report.Artifacts))
	}

	logger.Info().
		Dur("elapsed", time.Since(start)).
		Bool("legs_ok", legErr == nil).
		Bool("gate_ok", aggErr == nil).
		Msg("pipeline finished")

	if legErr != nil {
		return legErr
	}
	return aggErr
}

// newLeg wires one matrix leg. The unclaimed leg carries the run-once
// account-mutating tests and needs no account teardown; the claimed leg
// claims on bootstrap and unbinds from the account at leg end.
func newLeg(opts *RunOptions, cfg *config.Config, client *docker.Client, state config.ClaimState, artifactDir, toolVersion string) *leg.Pipeline {
	claimed := state == config.Claimed

	destination := opts.Destination + "-" + string(state)
	hostPort := unclaimedHostPort
	if claimed {
		hostPort = claimedHostPort
	}

	bootOpts := &bootstrapcmd.BootstrapOptions{
		IOStreams:        opts.IOStreams,
		Config:           func() (*config.Config, error) { return cfg, nil },
		Client:           func(context.Context) (*docker.Client, error) { return client, nil },
		Destination:      destination,
		AdvertiseIP:      "127.0.0.1",
		BootstrapTimeout: opts.BootstrapTimeout,
		DockerTag:        opts.DockerTag,
		Unclaimed:        !claimed,
		Claimed:          claimed,
		HostPort:         hostPort,
		SkipState:        true,
	}

	p := &leg.Pipeline{
		ClaimState: state,
		Bootstrap: func(ctx context.Context) (*bootstrap.Instance, error) {
			return bootstrapcmd.Provision(ctx, bootOpts)
		},
		Test: func(ctx context.Context, inst *bootstrap.Instance) (*executor.Result, error) {
			execOpts := executor.Options{
				ClaimState:     state,
				BaseURL:        inst.BaseURL,
				Token:          cfg.Auth.Token,
				RequestTimeout: cfg.Server.Timeout,
				Headers:        cfg.Header,
				RunOnce:        !claimed,
				IncludeSync:    opts.IncludeSync || cfg.Test.IncludeSync,
				Packages:       cfg.Test.Packages,
				ArtifactDir:    artifactDir,
				ToolVersion:    toolVersion,
			}
			return executor.New(nil, opts.IOStreams.Out, opts.IOStreams.ErrOut).Run(ctx, execOpts)
		},
		Remove: func(ctx context.Context, inst *bootstrap.Instance) error {
			return client.RemoveManagedContainers(ctx, destination)
		},
	}

	if claimed {
		p.Teardown = func(ctx context.Context, inst *bootstrap.Instance) error {
			return teardowncmd.Teardown(ctx, cfg, inst)
		}
	}

	return p
}
