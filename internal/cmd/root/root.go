// Package root assembles the plexup command tree.
package root

import (
	"path/filepath"

	"github.com/spf13/cobra"

	bootstrapCmd "github.com/schmitthub/plexup/internal/cmd/bootstrap"
	coverageCmd "github.com/schmitthub/plexup/internal/cmd/coverage"
	runCmd "github.com/schmitthub/plexup/internal/cmd/run"
	teardownCmd "github.com/schmitthub/plexup/internal/cmd/teardown"
	testCmd "github.com/schmitthub/plexup/internal/cmd/test"
	versionCmd "github.com/schmitthub/plexup/internal/cmd/version"
	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/logger"
)

// NewCmdRoot creates the root command for plexup.
func NewCmdRoot(f *cmdutil.Factory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "plexup <command>",
		Short: "Bootstrap disposable media servers for client library testing",
		Long: `plexup provisions throwaway media server containers, runs the client
library's test suite against them in claimed and unclaimed configurations,
and gates the pipeline on aggregate coverage.`,
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			initLogging(f)
		},
	}

	cmd.PersistentFlags().BoolVarP(&f.Debug, "debug", "D", false, "Enable debug logging")

	cmd.AddCommand(runCmd.NewCmdRun(f, nil))
	cmd.AddCommand(bootstrapCmd.NewCmdBootstrap(f, nil))
	cmd.AddCommand(testCmd.NewCmdTest(f, nil))
	cmd.AddCommand(teardownCmd.NewCmdTeardown(f, nil))
	cmd.AddCommand(coverageCmd.NewCmdCoverage(f, nil))
	cmd.AddCommand(versionCmd.NewCmdVersion(f))

	return cmd
}

// initLogging sets up the global logger: console output gated on --debug,
// plus a rotated log file under the cache directory when config loads.
func initLogging(f *cmdutil.Factory) {
	cfg, err := f.Config()
	if err != nil {
		logger.Init(f.Debug)
		logger.Warn().Err(err).Msg("failed to load configuration, file logging disabled")
		return
	}

	logsDir := filepath.Join(cfg.Docker.CacheDir, "logs")
	if err := logger.InitWithFile(f.Debug, logsDir, &logger.FileConfig{}); err != nil {
		logger.Init(f.Debug)
		logger.Warn().Err(err).Msg("file logging disabled")
	}
}
