package docker

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"
	"github.com/docker/go-units"

	"github.com/schmitthub/plexup/internal/logger"
)

// Client wraps the Docker engine client with plexup-specific operations.
type Client struct {
	cli *client.Client
}

// NewClient creates a Docker client from the environment and verifies
// daemon connectivity.
func NewClient(ctx context.Context) (*Client, error) {
	cli, err := client.NewClientWithOpts(
		client.FromEnv,
		client.WithAPIVersionNegotiation(),
	)
	if err != nil {
		return nil, ErrDaemonNotRunning(err)
	}

	c := &Client{cli: cli}
	if _, err := cli.Ping(ctx); err != nil {
		cli.Close()
		return nil, ErrDaemonNotRunning(err)
	}

	logger.Debug().Msg("docker engine connected")
	return c, nil
}

// Close releases Docker client resources.
func (c *Client) Close() error {
	return c.cli.Close()
}

// --- Image operations ---

// ImageExists checks if an image exists locally.
func (c *Client) ImageExists(ctx context.Context, ref string) (bool, error) {
	_, _, err := c.cli.ImageInspectWithRaw(ctx, ref)
	if err != nil {
		if client.IsErrNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// ImagePull pulls an image from the registry and waits for completion.
func (c *Client) ImagePull(ctx context.Context, ref string) error {
	logger.Debug().Str("image", ref).Msg("pulling image")

	reader, err := c.cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return ErrImagePullFailed(ref, err)
	}
	defer reader.Close()

	// The pull is only complete once the progress stream is drained.
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return ErrImagePullFailed(ref, err)
	}
	return nil
}

// ImageSave writes an image archive to path.
func (c *Client) ImageSave(ctx context.Context, ref, path string) error {
	logger.Debug().Str("image", ref).Str("path", path).Msg("saving image archive")

	reader, err := c.cli.ImageSave(ctx, []string{ref})
	if err != nil {
		return ErrArchiveFailed("save", path, err)
	}
	defer reader.Close()

	f, err := os.Create(path)
	if err != nil {
		return ErrArchiveFailed("save", path, err)
	}
	defer f.Close()

	n, err := io.Copy(f, reader)
	if err != nil {
		os.Remove(path)
		return ErrArchiveFailed("save", path, err)
	}

	logger.Debug().
		Str("image", ref).
		Str("size", units.HumanSize(float64(n))).
		Msg("image archive saved")
	return nil
}

// ImageLoad restores an image from an archive at path.
func (c *Client) ImageLoad(ctx context.Context, path string) error {
	logger.Debug().Str("path", path).Msg("loading image archive")

	f, err := os.Open(path)
	if err != nil {
		return ErrArchiveFailed("load", path, err)
	}
	defer f.Close()

	resp, err := c.cli.ImageLoad(ctx, f, client.ImageLoadWithQuiet(true))
	if err != nil {
		return ErrArchiveFailed("load", path, err)
	}
	defer resp.Body.Close()

	if _, err := io.Copy(io.Discard, resp.Body); err != nil {
		return ErrArchiveFailed("load", path, err)
	}
	return nil
}

// --- Container operations ---

// CreateOptions describes the server container to create.
type CreateOptions struct {
	Name     string
	Image    string
	Env      []string
	Labels   map[string]string
	HostPort int // host port published to the server port inside the container
	Port     int // container port, default 32400
}

// ContainerCreate creates a container with plexup's port and label conventions.
func (c *Client) ContainerCreate(ctx context.Context, opts CreateOptions) (string, error) {
	logger.Debug().
		Str("name", opts.Name).
		Str("image", opts.Image).
		Msg("creating container")

	port := opts.Port
	if port == 0 {
		port = 32400
	}
	containerPort, err := nat.NewPort("tcp", fmt.Sprintf("%d", port))
	if err != nil {
		return "", ErrContainerCreateFailed(err)
	}

	cfg := &container.Config{
		Image:  opts.Image,
		Env:    opts.Env,
		Labels: opts.Labels,
		ExposedPorts: nat.PortSet{
			containerPort: struct{}{},
		},
	}
	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{
			containerPort: []nat.PortBinding{
				{HostIP: "0.0.0.0", HostPort: fmt.Sprintf("%d", opts.HostPort)},
			},
		},
	}

	resp, err := c.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return "", ErrContainerCreateFailed(err)
	}
	return resp.ID, nil
}

// ContainerStart starts a container.
func (c *Client) ContainerStart(ctx context.Context, containerID string) error {
	logger.Debug().Str("container", containerID).Msg("starting container")

	if err := c.cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
		return ErrContainerStartFailed(containerID, err)
	}
	return nil
}

// ContainerRemove removes a container.
func (c *Client) ContainerRemove(ctx context.Context, containerID string, force bool) error {
	logger.Debug().Str("container", containerID).Bool("force", force).Msg("removing container")

	return c.cli.ContainerRemove(ctx, containerID, container.RemoveOptions{
		Force:         force,
		RemoveVolumes: true,
	})
}

// ContainerLogs returns the last tail lines of a container's logs, for
// surfacing server startup output when bootstrap fails.
func (c *Client) ContainerLogs(ctx context.Context, containerID string, tail string) (io.ReadCloser, error) {
	return c.cli.ContainerLogs(ctx, containerID, container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Tail:       tail,
	})
}

// FindManagedContainers lists plexup-managed containers, optionally narrowed
// to a destination label. Used by retry recovery and teardown to reap stale
// server instances.
func (c *Client) FindManagedContainers(ctx context.Context, destination string) ([]container.Summary, error) {
	args := filters.NewArgs(
		filters.Arg("label", LabelManaged+"="+ManagedLabelValue),
	)
	if destination != "" {
		args.Add("label", LabelDestination+"="+destination)
		args.Add("name", ContainerNamePrefix(destination))
	}

	return c.cli.ContainerList(ctx, container.ListOptions{
		All:     true,
		Filters: args,
	})
}

// RemoveManagedContainers force-removes every plexup-managed container for a
// destination. Best-effort: the first error is returned but removal continues.
func (c *Client) RemoveManagedContainers(ctx context.Context, destination string) error {
	containers, err := c.FindManagedContainers(ctx, destination)
	if err != nil {
		return err
	}

	var firstErr error
	for _, ctr := range containers {
		name := ""
		if len(ctr.Names) > 0 {
			name = ctr.Names[0]
		}
		if destination != "" && !MatchesDestination(name, destination) {
			logger.Warn().Str("container", name).Msg("labels match but name scheme does not, leaving container alone")
			continue
		}
		if err := c.ContainerRemove(ctx, ctr.ID, true); err != nil {
			logger.Warn().Err(err).Str("container", ctr.ID).Msg("failed to remove stale container")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
