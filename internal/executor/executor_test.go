package executor

import (
	"context"
	"errors"
	"io"
	"os/exec"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schmitthub/plexup/internal/config"
)

// recordedRun captures what the executor asked the runner to do.
type recordedRun struct {
	name string
	args []string
	env  []string
}

func fakeRunner(rec *recordedRun, err error) CommandRunner {
	return func(_ context.Context, name string, args, env []string, _, _ io.Writer) error {
		rec.name = name
		rec.args = args
		rec.env = env
		return err
	}
}

func envValue(env []string, key string) (string, bool) {
	for _, kv := range env {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func baseOpts(t *testing.T, state config.ClaimState) Options {
	t.Helper()
	return Options{
		ClaimState:  state,
		BaseURL:     "http://127.0.0.1:32400",
		ArtifactDir: t.TempDir(),
		ToolVersion: "1.25",
	}
}

func TestSkipPatterns(t *testing.T) {
	tests := []struct {
		name string
		opts Options
		want []string
	}{
		{
			name: "unclaimed with run-once",
			opts: Options{ClaimState: config.Unclaimed, RunOnce: true},
			want: []string{"TestSync", "TestClaimed"},
		},
		{
			name: "unclaimed without run-once",
			opts: Options{ClaimState: config.Unclaimed},
			want: []string{"TestSync", "TestClaimed", "TestAccount"},
		},
		{
			name: "claimed never runs account tests",
			opts: Options{ClaimState: config.Claimed},
			want: []string{"TestSync", "TestAccount"},
		},
		{
			name: "sync included on request",
			opts: Options{ClaimState: config.Claimed, IncludeSync: true},
			want: []string{"TestAccount"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, SkipPatterns(tt.opts))
		})
	}
}

func TestRunBuildsGoTestInvocation(t *testing.T) {
	rec := &recordedRun{}
	e := New(fakeRunner(rec, nil), io.Discard, io.Discard)

	opts := baseOpts(t, config.Unclaimed)
	opts.RunOnce = true
	opts.Token = "" // unclaimed leg has no credential
	opts.RequestTimeout = 60 * time.Second

	result, err := e.Run(context.Background(), opts)
	require.NoError(t, err)

	assert.True(t, result.Passed)
	assert.Equal(t, "go", rec.name)
	assert.Equal(t, "test", rec.args[0])
	assert.Contains(t, rec.args, "./...")
	assert.Contains(t, rec.args, "-coverprofile")
	assert.Contains(t, rec.args, "-skip")

	joined := strings.Join(rec.args, " ")
	assert.Contains(t, joined, "^(TestSync|TestClaimed)")

	baseURL, ok := envValue(rec.env, "PLEXAPI_SERVER_BASEURL")
	require.True(t, ok)
	assert.Equal(t, "http://127.0.0.1:32400", baseURL)

	_, hasToken := envValue(rec.env, "PLEXAPI_AUTH_TOKEN")
	assert.False(t, hasToken)

	timeout, ok := envValue(rec.env, "PLEXAPI_SERVER_TIMEOUT")
	require.True(t, ok)
	assert.Equal(t, "1m0s", timeout)

	runOnce, ok := envValue(rec.env, "PLEXAPI_TEST_RUN_ONCE")
	require.True(t, ok)
	assert.Equal(t, "true", runOnce)
}

func TestRunClaimedLegPassesToken(t *testing.T) {
	rec := &recordedRun{}
	e := New(fakeRunner(rec, nil), io.Discard, io.Discard)

	opts := baseOpts(t, config.Claimed)
	opts.Token = "secret"

	_, err := e.Run(context.Background(), opts)
	require.NoError(t, err)

	token, ok := envValue(rec.env, "PLEXAPI_AUTH_TOKEN")
	require.True(t, ok)
	assert.Equal(t, "secret", token)

	// Run-once guard stays false on the claimed leg.
	runOnce, _ := envValue(rec.env, "PLEXAPI_TEST_RUN_ONCE")
	assert.Equal(t, "false", runOnce)
}

func TestRunArtifactNaming(t *testing.T) {
	rec := &recordedRun{}
	e := New(fakeRunner(rec, nil), io.Discard, io.Discard)

	result, err := e.Run(context.Background(), baseOpts(t, config.Claimed))
	require.NoError(t, err)

	assert.True(t, strings.HasSuffix(result.Artifact, "coverage-claimed-1.25.out"))
	assert.Contains(t, rec.args, result.Artifact)
}

func TestRunTestFailure(t *testing.T) {
	exitErr := &exec.ExitError{}
	e := New(fakeRunner(&recordedRun{}, exitErr), io.Discard, io.Discard)

	result, err := e.Run(context.Background(), baseOpts(t, config.Unclaimed))
	require.Error(t, err)

	assert.ErrorIs(t, err, ErrTestFailure)
	require.NotNil(t, result)
	assert.False(t, result.Passed)
	assert.NotEmpty(t, result.Artifact)
}

func TestRunInfrastructureFailureIsNotTestFailure(t *testing.T) {
	e := New(fakeRunner(&recordedRun{}, errors.New("go: not found")), io.Discard, io.Discard)

	_, err := e.Run(context.Background(), baseOpts(t, config.Unclaimed))
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTestFailure)
}

func TestRunRejectsInvalidClaimState(t *testing.T) {
	e := New(fakeRunner(&recordedRun{}, nil), io.Discard, io.Discard)

	_, err := e.Run(context.Background(), Options{ClaimState: "bogus", ArtifactDir: t.TempDir()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid claim state")
}

func TestArtifactName(t *testing.T) {
	assert.Equal(t, "coverage-unclaimed-1.25.out", ArtifactName(config.Unclaimed, "1.25"))
	assert.Equal(t, "coverage-claimed-1.25.out", ArtifactName(config.Claimed, "1.25"))
}
