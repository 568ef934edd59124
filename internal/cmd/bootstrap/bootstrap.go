// Package bootstrap implements "plexup bootstrap": provision a throwaway
// media server container, wait for readiness, and optionally claim it
// against the test account, with bounded retries and cleanup in between.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	bootstrappkg "github.com/schmitthub/plexup/internal/bootstrap"
	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/docker"
	"github.com/schmitthub/plexup/internal/imagecache"
	"github.com/schmitthub/plexup/internal/iostreams"
	"github.com/schmitthub/plexup/internal/logger"
	"github.com/schmitthub/plexup/internal/plex"
	"github.com/schmitthub/plexup/internal/registry"
)

// BootstrapOptions holds the options for the bootstrap command.
type BootstrapOptions struct {
	IOStreams *iostreams.IOStreams
	Config    func() (*config.Config, error)
	Client    func(context.Context) (*docker.Client, error)

	Destination      string
	AdvertiseIP      string
	BootstrapTimeout int // seconds
	DockerTag        string
	Unclaimed        bool
	Claimed          bool

	// HostPort overrides the configured host port. Used by "plexup run"
	// to give parallel legs distinct ports.
	HostPort int
	// SkipState suppresses writing the instance state file.
	SkipState bool
}

// ClaimState returns the selected claim state.
func (o *BootstrapOptions) ClaimState() config.ClaimState {
	if o.Claimed {
		return config.Claimed
	}
	return config.Unclaimed
}

// NewCmdBootstrap creates the bootstrap command.
func NewCmdBootstrap(f *cmdutil.Factory, runF func(context.Context, *BootstrapOptions) error) *cobra.Command {
	opts := &BootstrapOptions{
		IOStreams: f.IOStreams,
		Config:    f.Config,
		Client:    f.Client,
	}

	cmd := &cobra.Command{
		Use:   "bootstrap",
		Short: "Start a throwaway media server for the test suite",
		Long: `Bootstrap starts a fresh media server container, waits for it to become
ready, and optionally claims it against the test account.

The image is cached locally keyed by its registry digest, so repeated runs
load from disk instead of pulling. Failed attempts tear down the stale
container (and unclaim, for claimed runs) before retrying, up to 3 attempts.`,
		Example: `  # Unclaimed server for anonymous-surface tests
  plexup bootstrap --destination plexapi-tests --unclaimed

  # Claimed server, custom tag and readiness bound
  PLEXAPI_AUTH_TOKEN=xxx plexup bootstrap --destination plexapi-tests \
    --claimed --docker-tag 1.32.8 --bootstrap-timeout 540`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if opts.Unclaimed == opts.Claimed {
				return cmdutil.FlagErrorf("exactly one of --unclaimed or --claimed is required")
			}

			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return runBootstrap(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Destination, "destination", "plexapi-tests", "Label for the server instance")
	cmd.Flags().StringVar(&opts.AdvertiseIP, "advertise-ip", "127.0.0.1", "Address the server is reachable on")
	cmd.Flags().IntVar(&opts.BootstrapTimeout, "bootstrap-timeout", 0, "Seconds to wait for server readiness (default from config)")
	cmd.Flags().StringVar(&opts.DockerTag, "docker-tag", "", "Server image tag (default from config)")
	cmd.Flags().BoolVar(&opts.Unclaimed, "unclaimed", false, "Bootstrap without an account binding")
	cmd.Flags().BoolVar(&opts.Claimed, "claimed", false, "Claim the server against the test account")

	return cmd
}

func runBootstrap(ctx context.Context, opts *BootstrapOptions) error {
	inst, err := Provision(ctx, opts)
	if err != nil {
		return err
	}

	if !opts.SkipState {
		cfg, cfgErr := opts.Config()
		if cfgErr == nil {
			if err := bootstrappkg.SaveState(cfg.StateFile(), inst); err != nil {
				logger.Warn().Err(err).Msg("failed to persist instance state")
			}
		}
	}

	fmt.Fprintf(opts.IOStreams.Out, "Server ready at %s (%s, machine %s)\n",
		inst.BaseURL, inst.ClaimState, inst.MachineIdentifier)
	return nil
}

// Provision runs the full bootstrap sequence: digest resolution, image
// cache, then the retry-wrapped container bootstrap. Shared with
// "plexup run", which provisions one instance per leg.
func Provision(ctx context.Context, opts *BootstrapOptions) (*bootstrappkg.Instance, error) {
	cfg, err := opts.Config()
	if err != nil {
		return nil, err
	}

	client, err := opts.Client(ctx)
	if err != nil {
		return nil, err
	}

	tag := opts.DockerTag
	if tag == "" {
		tag = cfg.Docker.Tag
	}
	imageRef := cfg.Docker.Repository + ":" + tag

	hostPort := opts.HostPort
	if hostPort == 0 {
		hostPort = cfg.Docker.HostPort
	}

	timeout := cfg.Bootstrap.Timeout
	if opts.BootstrapTimeout > 0 {
		timeout = time.Duration(opts.BootstrapTimeout) * time.Second
	}

	headers := plex.HeadersFromConfig(cfg.Header)

	// Digest resolution failure only costs us the cache, never the run.
	dgst, err := registry.NewResolver().Digest(ctx, imageRef)
	if err != nil {
		logger.Warn().Err(err).Str("image", imageRef).Msg("digest resolution failed, skipping cache")
		dgst = ""
	}
	cache := imagecache.New(cfg.Docker.CacheDir, client)
	if _, err := cache.Ensure(ctx, imageRef, dgst); err != nil {
		return nil, err
	}

	bootOpts := bootstrappkg.Options{
		Destination: opts.Destination,
		AdvertiseIP: opts.AdvertiseIP,
		Timeout:     timeout,
		Image:       imageRef,
		HostPort:    hostPort,
		Claim:       opts.Claimed,
	}

	var account *plex.AccountClient
	if opts.Claimed {
		if cfg.Auth.Token == "" {
			return nil, fmt.Errorf("%w: PLEXAPI_AUTH_TOKEN is required for claimed runs", bootstrappkg.ErrClaimFailed)
		}
		account = plex.NewAccountClient(cfg.Auth.AccountURL, cfg.Auth.Token, headers, cfg.Server.Timeout)
	}

	bootstrapper := bootstrappkg.New(client, func(baseURL string) bootstrappkg.ServerProber {
		return plex.NewServerClient(baseURL, cfg.Auth.Token, headers, cfg.Server.Timeout)
	})

	retryer := &bootstrappkg.Retryer{
		MaxAttempts:    cfg.Bootstrap.Attempts,
		AttemptTimeout: attemptBudget(cfg.Bootstrap.AttemptTimeout, timeout),
		Recover: func(ctx context.Context, inst *bootstrappkg.Instance) {
			Recover(ctx, client, account, opts.Destination, inst)
		},
	}

	return retryer.Do(ctx, func(ctx context.Context) (*bootstrappkg.Instance, error) {
		// Claim tokens are short-lived, so fetch a fresh one per attempt.
		if account != nil {
			token, err := account.ClaimToken(ctx)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", bootstrappkg.ErrClaimFailed, err)
			}
			bootOpts.ClaimToken = token
		}
		return bootstrapper.Bootstrap(ctx, bootOpts)
	})
}

// readinessGrace pads the attempt budget beyond the readiness bound so
// container create/start and the claim handshake are not charged against
// the readiness wait.
const readinessGrace = 30 * time.Second

// attemptBudget returns the per-attempt timeout. The attempt context wraps
// the readiness wait, so a readiness bound raised past the attempt budget
// must widen the budget with it or every attempt gets cut off early.
func attemptBudget(attempt, readiness time.Duration) time.Duration {
	if readiness > attempt {
		return readiness + readinessGrace
	}
	return attempt
}

// Recover is the between-attempts cleanup: best-effort unclaim of whatever
// the failed attempt managed to bind, then forced removal of the stale
// container. It must tolerate an unreachable server, which is why the
// unclaim goes through the account service rather than the server itself.
func Recover(ctx context.Context, client *docker.Client, account *plex.AccountClient, destination string, inst *bootstrappkg.Instance) {
	if inst != nil && inst.ContainerID != "" {
		if rc, err := client.ContainerLogs(ctx, inst.ContainerID, "30"); err == nil {
			tail, _ := io.ReadAll(io.LimitReader(rc, 64*1024))
			rc.Close()
			logger.Debug().
				Str("container", inst.Name).
				Str("tail", string(tail)).
				Msg("server log tail from failed attempt")
		}
	}
	if account != nil && inst != nil && inst.MachineIdentifier != "" {
		if err := account.Unclaim(ctx, inst.MachineIdentifier); err != nil {
			logger.Warn().Err(err).Msg("best-effort unclaim failed during recovery")
		}
	}
	if err := client.RemoveManagedContainers(ctx, destination); err != nil {
		logger.Warn().Err(err).Msg("failed to remove stale containers during recovery")
	}
}
