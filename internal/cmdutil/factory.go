// Package cmdutil provides shared dependencies and error conventions for
// plexup commands.
package cmdutil

import (
	"context"
	"sync"

	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/docker"
	"github.com/schmitthub/plexup/internal/iostreams"
)

// Factory provides shared dependencies for CLI commands. It is a dependency
// injection container: commands extract only the fields they need into
// per-command Options structs.
type Factory struct {
	// Version info (set at build time via ldflags)
	Version string
	Commit  string

	Debug bool

	// IO streams for input/output (for testability)
	IOStreams *iostreams.IOStreams

	// Dependency providers (closures with lazy initialization)
	Config      func() (*config.Config, error)
	Client      func(context.Context) (*docker.Client, error)
	CloseClient func()
}

// NewFactory wires the real implementations.
func NewFactory(version, commit string) *Factory {
	f := &Factory{
		Version:   version,
		Commit:    commit,
		IOStreams: iostreams.NewIOStreams(),
	}

	var (
		cfgOnce sync.Once
		cfg     *config.Config
		cfgErr  error
	)
	f.Config = func() (*config.Config, error) {
		cfgOnce.Do(func() {
			cfg, cfgErr = config.NewLoader(".").Load()
		})
		return cfg, cfgErr
	}

	var (
		clientOnce sync.Once
		client     *docker.Client
		clientErr  error
	)
	f.Client = func(ctx context.Context) (*docker.Client, error) {
		clientOnce.Do(func() {
			client, clientErr = docker.NewClient(ctx)
		})
		return client, clientErr
	}
	f.CloseClient = func() {
		if client != nil {
			client.Close()
		}
	}

	return f
}
