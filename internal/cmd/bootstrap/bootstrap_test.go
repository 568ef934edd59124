package bootstrap

import (
	"context"
	"testing"
	"time"

	"github.com/google/shlex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/iostreams"
)

func TestNewCmdBootstrap(t *testing.T) {
	tests := []struct {
		name     string
		cli      string
		wants    BootstrapOptions
		wantsErr string
	}{
		{
			name: "unclaimed with defaults",
			cli:  "--unclaimed",
			wants: BootstrapOptions{
				Destination: "plexapi-tests",
				AdvertiseIP: "127.0.0.1",
				Unclaimed:   true,
			},
		},
		{
			name: "claimed with overrides",
			cli:  "--claimed --destination nightly --docker-tag 1.32.8 --bootstrap-timeout 540",
			wants: BootstrapOptions{
				Destination:      "nightly",
				AdvertiseIP:      "127.0.0.1",
				BootstrapTimeout: 540,
				DockerTag:        "1.32.8",
				Claimed:          true,
			},
		},
		{
			name:     "neither claim flag",
			cli:      "",
			wantsErr: "exactly one of --unclaimed or --claimed is required",
		},
		{
			name:     "both claim flags",
			cli:      "--unclaimed --claimed",
			wantsErr: "exactly one of --unclaimed or --claimed is required",
		},
		{
			name:     "rejects positional args",
			cli:      "--unclaimed extra",
			wantsErr: `unknown command "extra"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ios, _, _ := iostreams.Test()
			f := &cmdutil.Factory{IOStreams: ios}

			argv, err := shlex.Split(tt.cli)
			require.NoError(t, err)

			var gotOpts *BootstrapOptions
			cmd := NewCmdBootstrap(f, func(_ context.Context, opts *BootstrapOptions) error {
				gotOpts = opts
				return nil
			})
			cmd.SetArgs(argv)
			cmd.SetIn(ios.In)
			cmd.SetOut(ios.Out)
			cmd.SetErr(ios.ErrOut)
			cmd.SilenceUsage = true
			cmd.SilenceErrors = true

			_, err = cmd.ExecuteC()
			if tt.wantsErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantsErr)
				return
			}
			require.NoError(t, err)

			assert.Equal(t, tt.wants.Destination, gotOpts.Destination)
			assert.Equal(t, tt.wants.AdvertiseIP, gotOpts.AdvertiseIP)
			assert.Equal(t, tt.wants.BootstrapTimeout, gotOpts.BootstrapTimeout)
			assert.Equal(t, tt.wants.DockerTag, gotOpts.DockerTag)
			assert.Equal(t, tt.wants.Unclaimed, gotOpts.Unclaimed)
			assert.Equal(t, tt.wants.Claimed, gotOpts.Claimed)
		})
	}
}

func TestAttemptBudget(t *testing.T) {
	// Defaults stay untouched: the readiness bound fits inside an attempt.
	assert.Equal(t, 2*time.Minute, attemptBudget(2*time.Minute, 120*time.Second))

	// --bootstrap-timeout 540 must stretch the attempt past the readiness
	// bound, so a server that is ready at 300s still bootstraps.
	assert.Equal(t, 570*time.Second, attemptBudget(2*time.Minute, 540*time.Second))
}

func TestClaimStateSelection(t *testing.T) {
	assert.Equal(t, config.Unclaimed, (&BootstrapOptions{Unclaimed: true}).ClaimState())
	assert.Equal(t, config.Claimed, (&BootstrapOptions{Claimed: true}).ClaimState())
}
