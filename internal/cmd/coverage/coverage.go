// Package coverage implements "plexup coverage": merge per-leg coverage
// artifacts and enforce the aggregate threshold.
package coverage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/config"
	coveragepkg "github.com/schmitthub/plexup/internal/coverage"
	"github.com/schmitthub/plexup/internal/iostreams"
)

// CoverageOptions holds the options for the coverage command.
type CoverageOptions struct {
	IOStreams *iostreams.IOStreams
	Config    func() (*config.Config, error)

	Dir       string
	Threshold float64
	JSON      bool
	// MergedOut writes the merged profile to the given path, for external
	// coverage dashboards.
	MergedOut string
}

// NewCmdCoverage creates the coverage command.
func NewCmdCoverage(f *cmdutil.Factory, runF func(context.Context, *CoverageOptions) error) *cobra.Command {
	opts := &CoverageOptions{
		IOStreams: f.IOStreams,
		Config:    f.Config,
	}

	cmd := &cobra.Command{
		Use:   "coverage",
		Short: "Aggregate per-leg coverage artifacts and enforce the threshold",
		Long: `Coverage globs coverage-<claim-state>-<tool-version>.out artifacts under
the given directory, merges them into one profile, and fails when the
aggregate falls below the threshold. Artifacts from failed legs are simply
absent; aggregation proceeds with whatever is present.`,
		Example: `  # Gate on the configured threshold
  plexup coverage --dir ./artifacts

  # Machine-readable report, merged profile for upload
  plexup coverage --dir ./artifacts --json --merged-out coverage-merged.out`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if runF != nil {
				return runF(cmd.Context(), opts)
			}
			return runCoverage(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Dir, "dir", "", "Directory containing coverage artifacts (default from config)")
	cmd.Flags().Float64Var(&opts.Threshold, "threshold", -1, "Minimum aggregate coverage percent (default from config)")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "Emit the report as JSON")
	cmd.Flags().StringVar(&opts.MergedOut, "merged-out", "", "Write the merged profile to this path")

	return cmd
}

func runCoverage(_ context.Context, opts *CoverageOptions) error {
	cfg, err := opts.Config()
	if err != nil {
		return err
	}

	dir := opts.Dir
	if dir == "" {
		dir = cfg.Coverage.ArtifactDir
	}
	threshold := opts.Threshold
	if threshold < 0 {
		threshold = cfg.Coverage.Threshold
	}

	report, aggErr := coveragepkg.Aggregate(dir, threshold)
	if report == nil {
		return aggErr
	}

	if opts.MergedOut != "" {
		profiles, err := coveragepkg.Merge(report.Artifacts)
		if err != nil {
			return err
		}
		if err := coveragepkg.WriteProfile(opts.MergedOut, profiles); err != nil {
			return err
		}
	}

	if opts.JSON {
		enc := json.NewEncoder(opts.IOStreams.Out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(opts.IOStreams, report, aggErr)
	}

	// The threshold verdict is the exit status; the report above is
	// published either way.
	return aggErr
}

func printReport(ios *iostreams.IOStreams, report *coveragepkg.Report, aggErr error) {
	w := tabwriter.NewWriter(ios.Out, 0, 8, 2, ' ', 0)
	for _, f := range report.Files {
		fmt.Fprintf(w, "%s\t%.1f%%\n", f.Name, f.Percent)
	}
	w.Flush()

	fmt.Fprintf(ios.Out, "\ntotal: %.1f%% (threshold %.1f%%, %d artifacts)\n",
		report.Total, report.Threshold, len(report.Artifacts))

	if errors.Is(aggErr, coveragepkg.ErrThresholdUnmet) {
		fmt.Fprintln(ios.ErrOut, "coverage gate failed")
	}
}
