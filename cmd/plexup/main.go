// plexup provisions disposable media server containers and runs the client
// library's test suite against them, claimed and unclaimed, gating the
// pipeline on aggregate coverage.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/schmitthub/plexup/internal/cmd/root"
	"github.com/schmitthub/plexup/internal/cmdutil"
	"github.com/schmitthub/plexup/internal/docker"
	"github.com/schmitthub/plexup/internal/logger"
)

// Set at build time via ldflags.
var (
	version = "dev"
	commit  = ""
)

func main() {
	os.Exit(run())
}

func run() int {
	f := cmdutil.NewFactory(version, commit)
	defer func() {
		f.CloseClient()
		logger.CloseFileWriter()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := root.NewCmdRoot(f)
	rootCmd.SetIn(f.IOStreams.In)
	rootCmd.SetOut(f.IOStreams.Out)
	rootCmd.SetErr(f.IOStreams.ErrOut)

	cmd, err := rootCmd.ExecuteContextC(ctx)
	if err == nil {
		return cmdutil.ExitOK
	}

	printError(f, cmd, err)
	return cmdutil.ExitCode(err)
}

func printError(f *cmdutil.Factory, cmd *cobra.Command, err error) {
	if errors.Is(err, cmdutil.SilentError) {
		return
	}

	var engineErr *docker.EngineError
	if errors.As(err, &engineErr) {
		fmt.Fprint(f.IOStreams.ErrOut, engineErr.FormatUserError())
		return
	}

	fmt.Fprintf(f.IOStreams.ErrOut, "Error: %s\n", err)

	var flagErr *cmdutil.FlagError
	if errors.As(err, &flagErr) && cmd != nil {
		fmt.Fprint(f.IOStreams.ErrOut, cmd.UsageString())
	}
}
