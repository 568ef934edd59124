// Package leg runs one matrix leg of the pipeline: bootstrap, test,
// teardown, strictly in that order. Legs are independent units of work with
// no shared mutable state; the run command executes them in parallel and
// joins on the coverage aggregator afterwards.
package leg

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/schmitthub/plexup/internal/bootstrap"
	"github.com/schmitthub/plexup/internal/config"
	"github.com/schmitthub/plexup/internal/executor"
	"github.com/schmitthub/plexup/internal/logger"
)

// Result is the terminal state of one leg.
type Result struct {
	ClaimState config.ClaimState
	Instance   *bootstrap.Instance
	Test       *executor.Result
	// Err is the leg's unrecovered failure: retry exhaustion or a test
	// failure. Teardown problems never land here.
	Err error
}

// Pipeline wires one leg's steps together. The closures carry their own
// dependencies so the package stays free of wiring concerns.
type Pipeline struct {
	ClaimState config.ClaimState

	// Bootstrap provisions a ready server, retries included.
	Bootstrap func(ctx context.Context) (*bootstrap.Instance, error)

	// Test runs the suite against the ready instance.
	Test func(ctx context.Context, inst *bootstrap.Instance) (*executor.Result, error)

	// Teardown unbinds a claimed instance from the test account. Nil for
	// unclaimed legs. Failures are logged, never fatal: they must not
	// overturn the leg's already-determined outcome.
	Teardown func(ctx context.Context, inst *bootstrap.Instance) error

	// Remove destroys the server container at leg end.
	Remove func(ctx context.Context, inst *bootstrap.Instance) error
}

// Run executes the leg. Bootstrap exhaustion is terminal: the test step is
// never invoked. For claimed legs teardown runs exactly once at leg end,
// success or failure.
func (p *Pipeline) Run(ctx context.Context) *Result {
	result := &Result{ClaimState: p.ClaimState}

	logger.Info().Str("claim_state", string(p.ClaimState)).Msg("starting leg")

	inst, err := p.Bootstrap(ctx)
	if err != nil {
		result.Err = err
		logger.Error().Err(err).Str("claim_state", string(p.ClaimState)).Msg("leg failed during bootstrap")
		return result
	}
	result.Instance = inst

	// Cleanup runs even when the surrounding context has been cancelled.
	defer func() {
		cleanupCtx := context.WithoutCancel(ctx)
		if p.Teardown != nil {
			if err := p.Teardown(cleanupCtx, inst); err != nil {
				logger.Warn().Err(err).Msg("teardown failed, leg outcome unchanged")
			}
		}
		if p.Remove != nil {
			if err := p.Remove(cleanupCtx, inst); err != nil {
				logger.Warn().Err(err).Msg("failed to remove server container")
			}
		}
	}()

	testResult, err := p.Test(ctx, inst)
	result.Test = testResult
	result.Err = err

	if err != nil {
		logger.Error().Err(err).Str("claim_state", string(p.ClaimState)).Msg("leg failed")
	} else {
		logger.Info().Str("claim_state", string(p.ClaimState)).Msg("leg succeeded")
	}
	return result
}

// RunAll executes every pipeline in parallel and waits for all of them to
// reach a terminal state. Individual leg failures are recorded in their
// Result, not returned: the caller aggregates coverage regardless.
func RunAll(ctx context.Context, pipelines []*Pipeline) []*Result {
	results := make([]*Result, len(pipelines))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range pipelines {
		i, p := i, p
		g.Go(func() error {
			results[i] = p.Run(gctx)
			return nil
		})
	}
	// Goroutines never return errors; Wait is a pure barrier here.
	_ = g.Wait()

	return results
}
