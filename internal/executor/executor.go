// Package executor runs the client library's test suite against a live
// server instance, selecting the test subset by claim state and recording a
// coverage artifact per leg.
package executor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/logger"
)

// ErrTestFailure means the suite ran and assertions failed. Test failures
// are never retried; they propagate as the leg's failure.
var ErrTestFailure = errors.New("test suite failed")

// Test name prefixes used for subset selection. The suite groups tests by
// what they need from the server: TestClaimed* require an account-bound
// server, TestAccount* mutate the shared test account, TestSync* exercise
// the synchronization feature.
const (
	claimedTestPattern = "TestClaimed"
	accountTestPattern = "TestAccount"
	syncTestPattern    = "TestSync"
)

// Options configures one test run. Selection is driven entirely by these
// fields; the executor never consults ambient process environment to decide
// what to run.
type Options struct {
	ClaimState config.ClaimState

	// Server connection handed to the suite.
	BaseURL        string
	Token          string
	RequestTimeout time.Duration
	Headers        config.HeaderConfig

	// RunOnce enables the account-mutating tests. Exactly one leg may set
	// it (the unclaimed one), so those operations run once per pipeline
	// rather than once per leg.
	RunOnce bool

	// IncludeSync enables the synchronization feature tests, excluded from
	// continuous runs by default.
	IncludeSync bool

	// Packages passed to go test, default ./...
	Packages []string

	// ArtifactDir receives the coverage artifact.
	ArtifactDir string
	// ToolVersion tags the artifact name, e.g. the Go toolchain version.
	ToolVersion string
}

// Result is the outcome of one test run.
type Result struct {
	ClaimState config.ClaimState
	Passed     bool
	Artifact   string
	Elapsed    time.Duration
}

// ArtifactName returns the coverage artifact file name for a leg, following
// the naming convention the aggregator globs for.
func ArtifactName(claimState config.ClaimState, toolVersion string) string {
	return fmt.Sprintf("coverage-%s-%s.out", claimState, toolVersion)
}

// SkipPatterns returns the test name prefixes excluded for the given options.
func SkipPatterns(opts Options) []string {
	var skips []string
	if !opts.IncludeSync {
		skips = append(skips, syncTestPattern)
	}
	if opts.ClaimState != config.Claimed {
		skips = append(skips, claimedTestPattern)
	}
	if !opts.RunOnce {
		skips = append(skips, accountTestPattern)
	}
	return skips
}

// CommandRunner executes a command. Injectable for tests.
type CommandRunner func(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error

// Executor runs the suite.
type Executor struct {
	run    CommandRunner
	stdout io.Writer
	stderr io.Writer
}

// New creates an Executor. A nil runner uses os/exec.
func New(run CommandRunner, stdout, stderr io.Writer) *Executor {
	if run == nil {
		run = execRunner
	}
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}
	return &Executor{run: run, stdout: stdout, stderr: stderr}
}

// Run executes the selected test subset. The returned error is ErrTestFailure
// (wrapped) when assertions failed, so callers can distinguish a red suite
// from infrastructure problems. The coverage artifact is written either way;
// the run's status always reflects the underlying test outcome.
func (e *Executor) Run(ctx context.Context, opts Options) (*Result, error) {
	if !opts.ClaimState.Valid() {
		return nil, fmt.Errorf("invalid claim state %q", opts.ClaimState)
	}

	artifact := filepath.Join(opts.ArtifactDir, ArtifactName(opts.ClaimState, opts.ToolVersion))
	if err := os.MkdirAll(opts.ArtifactDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create artifact directory: %w", err)
	}

	args := e.buildArgs(opts, artifact)
	env := e.buildEnv(opts)

	logger.Info().
		Str("claim_state", string(opts.ClaimState)).
		Bool("run_once", opts.RunOnce).
		Strs("skip", SkipPatterns(opts)).
		Str("artifact", artifact).
		Msg("running test suite")

	start := time.Now()
	err := e.run(ctx, "go", args, env, e.stdout, e.stderr)
	elapsed := time.Since(start)

	result := &Result{
		ClaimState: opts.ClaimState,
		Passed:     err == nil,
		Artifact:   artifact,
		Elapsed:    elapsed,
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return result, fmt.Errorf("%w: %v", ErrTestFailure, err)
		}
		return result, fmt.Errorf("failed to run test suite: %w", err)
	}

	logger.Info().
		Str("claim_state", string(opts.ClaimState)).
		Dur("elapsed", elapsed).
		Msg("test suite passed")
	return result, nil
}

func (e *Executor) buildArgs(opts Options, artifact string) []string {
	packages := opts.Packages
	if len(packages) == 0 {
		packages = []string{"./..."}
	}

	args := []string{"test"}
	args = append(args, packages...)
	args = append(args,
		"-count=1",
		"-covermode=atomic",
		"-coverprofile", artifact,
	)
	if skips := SkipPatterns(opts); len(skips) > 0 {
		args = append(args, "-skip", "^("+strings.Join(skips, "|")+")")
	}
	return args
}

// buildEnv hands the suite its server connection and synthetic client
// identity. The run-once guard is exported too, for suites that gate at
// runtime rather than by test name.
func (e *Executor) buildEnv(opts Options) []string {
	env := append([]string{}, os.Environ()...)

	add := func(key, val string) {
		if val != "" {
			env = append(env, key+"="+val)
		}
	}
	add("PLEXAPI_SERVER_BASEURL", opts.BaseURL)
	add("PLEXAPI_AUTH_TOKEN", opts.Token)
	if opts.RequestTimeout > 0 {
		add("PLEXAPI_SERVER_TIMEOUT", opts.RequestTimeout.String())
	}
	add("PLEXAPI_HEADER_PRODUCT", opts.Headers.Product)
	add("PLEXAPI_HEADER_PLATFORM", opts.Headers.Platform)
	add("PLEXAPI_HEADER_PLATFORM_VERSION", opts.Headers.PlatformVersion)
	add("PLEXAPI_HEADER_DEVICE", opts.Headers.Device)
	add("PLEXAPI_HEADER_PROVIDES", opts.Headers.Provides)
	add("PLEXAPI_HEADER_IDENTIFIER", opts.Headers.Identifier)

	env = append(env, fmt.Sprintf("PLEXAPI_TEST_RUN_ONCE=%t", opts.RunOnce))
	return env
}

// execRunner is the real CommandRunner.
func execRunner(ctx context.Context, name string, args, env []string, stdout, stderr io.Writer) error {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = env
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	return cmd.Run()
}
