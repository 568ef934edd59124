package test

import (
	"context"
	"testing"

	"github.com/google/shlex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/iostreams"
)

func TestNewCmdTest(t *testing.T) {
	tests := []struct {
		name     string
		cli      string
		wants    TestOptions
		wantsErr string
	}{
		{
			name: "unclaimed defaults run-once on",
			cli:  "--unclaimed",
			wants: TestOptions{
				Unclaimed: true,
				RunOnce:   true,
			},
		},
		{
			name: "claimed defaults run-once off",
			cli:  "--claimed",
			wants: TestOptions{
				Claimed: true,
				RunOnce: false,
			},
		},
		{
			name: "explicit run-once wins over the default",
			cli:  "--claimed --run-once",
			wants: TestOptions{
				Claimed: true,
				RunOnce: true,
			},
		},
		{
			name: "run-once can be forced off for unclaimed",
			cli:  "--unclaimed --run-once=false",
			wants: TestOptions{
				Unclaimed: true,
				RunOnce:   false,
			},
		},
		{
			name: "artifact settings",
			cli:  "--claimed --include-sync --artifact-dir ./artifacts --tool-version go1.25 --packages ./plexapi/...",
			wants: TestOptions{
				Claimed:     true,
				IncludeSync: true,
				ArtifactDir: "./artifacts",
				ToolVersion: "go1.25",
				Packages:    []string{"./plexapi/..."},
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
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ios, _, _ := iostreams.Test()
			f := &cmdutil.Factory{IOStreams: ios}

			argv, err := shlex.Split(tt.cli)
			require.NoError(t, err)

			var gotOpts *TestOptions
			cmd := NewCmdTest(f, func(_ context.Context, opts *TestOptions) error {
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

			assert.Equal(t, tt.wants.Unclaimed, gotOpts.Unclaimed)
			assert.Equal(t, tt.wants.Claimed, gotOpts.Claimed)
			assert.Equal(t, tt.wants.RunOnce, gotOpts.RunOnce)
			assert.Equal(t, tt.wants.IncludeSync, gotOpts.IncludeSync)
			assert.Equal(t, tt.wants.ArtifactDir, gotOpts.ArtifactDir)
			assert.Equal(t, tt.wants.ToolVersion, gotOpts.ToolVersion)
			assert.Equal(t, tt.wants.Packages, gotOpts.Packages)
		})
	}
}

func TestClaimStateSelection(t *testing.T) {
	assert.Equal(t, config.Unclaimed, (&TestOptions{Unclaimed: true}).ClaimState())
	assert.Equal(t, config.Claimed, (&TestOptions{Claimed: true}).ClaimState())
}
