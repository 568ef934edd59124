// Package bootstrap provisions throwaway media server instances: it starts
// the server container, waits for readiness, optionally claims it against a
// test account, and retries the whole sequence with cleanup between attempts.
package bootstrap

import (
	"context"
	"fmt"
	"time"

	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/docker"
	"github.com/schmitthub/plexup/internal/logger"
	"github.com/schmitthub/plexup/internal/plex"
)

// ContainerEngine is the docker subset the bootstrapper needs.
type ContainerEngine interface {
	ContainerCreate(ctx context.Context, opts docker.CreateOptions) (string, error)
	ContainerStart(ctx context.Context, containerID string) error
	ContainerRemove(ctx context.Context, containerID string, force bool) error
	RemoveManagedContainers(ctx context.Context, destination string) error
}

// ServerProber is the server-side surface used during bootstrap: readiness
// polling and the claim handshake.
type ServerProber interface {
	WaitReady(ctx context.Context) (*plex.Identity, error)
	Claim(ctx context.Context, claimToken string) error
}

// ProberFactory builds a prober for a server base URL.
type ProberFactory func(baseURL string) ServerProber

// Options describes one bootstrap.
type Options struct {
	// Destination labels the server instance, e.g. "plexapi-tests".
	Destination string
	// AdvertiseIP is the address the server is reachable on from the tests.
	AdvertiseIP string
	// Timeout bounds the readiness wait.
	Timeout time.Duration
	// Image is the full server image reference (repository:tag).
	Image string
	// HostPort is the host port published to the server port.
	HostPort int
	// Claim binds the instance to the test account. ClaimToken must be set.
	Claim      bool
	ClaimToken string
}

// Bootstrapper starts one server instance per call.
type Bootstrapper struct {
	engine    ContainerEngine
	newProber ProberFactory
}

// New creates a Bootstrapper.
func New(engine ContainerEngine, newProber ProberFactory) *Bootstrapper {
	return &Bootstrapper{engine: engine, newProber: newProber}
}

// Bootstrap starts a fresh server container, waits for readiness within
// opts.Timeout, and performs the claim handshake when requested. On any
// failure the partially started container is left for the caller's recovery
// action to reap; Bootstrap itself never retries.
func (b *Bootstrapper) Bootstrap(ctx context.Context, opts Options) (*Instance, error) {
	claimState := config.Unclaimed
	if opts.Claim {
		claimState = config.Claimed
		if opts.ClaimToken == "" {
			return nil, fmt.Errorf("%w: no claim token provided", ErrClaimFailed)
		}
	}

	advertiseIP := opts.AdvertiseIP
	if advertiseIP == "" {
		advertiseIP = "127.0.0.1"
	}
	baseURL := fmt.Sprintf("http://%s:%d", advertiseIP, opts.HostPort)

	name := docker.ContainerName(opts.Destination)
	env := []string{
		"TZ=UTC",
		fmt.Sprintf("ADVERTISE_IP=%s", baseURL),
	}
	if opts.Claim {
		env = append(env, "PLEX_CLAIM="+opts.ClaimToken)
	}

	inst := &Instance{
		Name:           name,
		Destination:    opts.Destination,
		BaseURL:        baseURL,
		ClaimState:     claimState,
		State:          StateStarting,
		BootstrappedAt: time.Now().UTC(),
	}

	logger.Info().
		Str("name", name).
		Str("image", opts.Image).
		Str("claim_state", string(claimState)).
		Msg("bootstrapping server instance")

	containerID, err := b.engine.ContainerCreate(ctx, docker.CreateOptions{
		Name:     name,
		Image:    opts.Image,
		Env:      env,
		Labels:   docker.ManagedLabels(opts.Destination, string(claimState)),
		HostPort: opts.HostPort,
	})
	if err != nil {
		inst.State = StateFailed
		return inst, fmt.Errorf("%w: %v", ErrContainerStart, err)
	}
	inst.ContainerID = containerID

	if err := b.engine.ContainerStart(ctx, containerID); err != nil {
		inst.State = StateFailed
		return inst, fmt.Errorf("%w: %v", ErrContainerStart, err)
	}

	prober := b.newProber(baseURL)

	readyCtx := ctx
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		readyCtx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	identity, err := prober.WaitReady(readyCtx)
	if err != nil {
		inst.State = StateFailed
		return inst, fmt.Errorf("%w: %v", ErrBootstrapTimeout, err)
	}
	inst.MachineIdentifier = identity.MachineIdentifier
	inst.Version = identity.Version

	if opts.Claim && !identity.Claimed {
		if err := prober.Claim(ctx, opts.ClaimToken); err != nil {
			inst.State = StateFailed
			return inst, fmt.Errorf("%w: %v", ErrClaimFailed, err)
		}
		// The handshake can return 200 without actually binding the server
		// (expired token), so confirm ownership from the server's side.
		verified, err := prober.WaitReady(readyCtx)
		if err != nil {
			inst.State = StateFailed
			return inst, fmt.Errorf("%w: server unreachable after claim: %v", ErrClaimFailed, err)
		}
		if !verified.Claimed {
			inst.State = StateFailed
			return inst, fmt.Errorf("%w: server still reports unclaimed after handshake", ErrClaimFailed)
		}
	}

	inst.State = StateReady
	logger.Info().
		Str("name", name).
		Str("base_url", baseURL).
		Str("machine_id", inst.MachineIdentifier).
		Str("version", inst.Version).
		Msg("server instance ready")
	return inst, nil
}
