package coverage

import (
	"context"
	"testing"

	"github.com/google/shlex"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/iostreams"
)

func TestNewCmdCoverage(t *testing.T) {
	tests := []struct {
		name     string
		cli      string
		wants    CoverageOptions
		wantsErr string
	}{
		{
			name: "defaults defer to config",
			cli:  "",
			wants: CoverageOptions{
				Threshold: -1,
			},
		},
		{
			name: "explicit gate",
			cli:  "--dir ./artifacts --threshold 50",
			wants: CoverageOptions{
				Dir:       "./artifacts",
				Threshold: 50,
			},
		},
		{
			name: "zero threshold is a valid override",
			cli:  "--threshold 0",
			wants: CoverageOptions{
				Threshold: 0,
			},
		},
		{
			name: "report outputs",
			cli:  "--json --merged-out merged.out",
			wants: CoverageOptions{
				Threshold: -1,
				JSON:      true,
				MergedOut: "merged.out",
			},
		},
		{
			name:     "rejects positional args",
			cli:      "extra",
			wantsErr: `unknown command "extra"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ios, _, _ := iostreams.Test()
			f := &cmdutil.Factory{IOStreams: ios}

			argv, err := shlex.Split(tt.cli)
			require.NoError(t, err)

			var gotOpts *CoverageOptions
			cmd := NewCmdCoverage(f, func(_ context.Context, opts *CoverageOptions) error {
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

			assert.Equal(t, tt.wants.Dir, gotOpts.Dir)
			assert.Equal(t, tt.wants.Threshold, gotOpts.Threshold)
			assert.Equal(t, tt.wants.JSON, gotOpts.JSON)
			assert.Equal(t, tt.wants.MergedOut, gotOpts.MergedOut)
		})
	}
}
