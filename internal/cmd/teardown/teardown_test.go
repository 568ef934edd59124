package teardown

import (
	"context"
	"testing"

	"github.com/google/shlex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/plexup/internal/bootstrap"
	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/iostreams"
)

func TestNewCmdTeardown(t *testing.T) {
	tests := []struct {
		name       string
		cli        string
		wantRemove bool
		wantsErr   string
	}{
		{name: "no flags", cli: ""},
		{name: "with rm", cli: "--rm", wantRemove: true},
		{name: "rejects positional args", cli: "extra", wantsErr: `unknown command "extra"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ios, _, _ := iostreams.Test()
			f := &cmdutil.Factory{IOStreams: ios}

			argv, err := shlex.Split(tt.cli)
			require.NoError(t, err)

			var gotOpts *TeardownOptions
			cmd := NewCmdTeardown(f, func(_ context.Context, opts *TeardownOptions) error {
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
			assert.Equal(t, tt.wantRemove, gotOpts.Remove)
		})
	}
}

func TestTeardownUnclaimedIsNoop(t *testing.T) {
	cfg := config.DefaultConfig()
	inst := &bootstrap.Instance{
		Destination: "plexapi-tests",
		ClaimState:  config.Unclaimed,
	}

	// No token configured and no account service reachable: an unclaimed
	// instance must still tear down cleanly.
	err := Teardown(context.Background(), cfg, inst)
	assert.NoError(t, err)
}

func TestTeardownClaimedRequiresToken(t *testing.T) {
	cfg := config.DefaultConfig()
	inst := &bootstrap.Instance{
		Destination: "plexapi-tests",
		ClaimState:  config.Claimed,
	}

	err := Teardown(context.Background(), cfg, inst)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "PLEXAPI_AUTH_TOKEN")
}
