package restruct

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// DefaultRunner returns the default implementation backed by errgroup.Group.
func DefaultRunner(ctx context.Context) Runner {
	return newErrGroupRunner(ctx, runtime.NumCPU())
}

// NewLimitedRunner creates a runner with bounded concurrency.
func NewLimitedRunner(ctx context.Context, maxConcurrency int) Runner {
	return newErrGroupRunner(ctx, maxConcurrency)
}

type errGroupRunner struct {
	ctx context.Context // derived ctx shared by all tasks
	eg  *errgroup.Group
}

func newErrGroupRunner(parent context.Context, maxConcurrency int) *errGroupRunner {
	eg, ctx := errgroup.WithContext(parent)
	if maxConcurrency > 0 {
		eg.SetLimit(maxConcurrency)
	}
	return &errGroupRunner{ctx: ctx, eg: eg}
}

func (r *errGroupRunner) Go(fn func() error) { r.eg.Go(fn) }

func (r *errGroupRunner) Wait() error { return r.eg.Wait() }

// BatchResult is the outcome of one input of ExtractBatch.
type BatchResult[T any] struct {
	Value   *T
	History *AttemptHistory
	Err     error
}

// ExtractBatch runs one independent request per input through the configured
// Runner. Results keep input order. A failed input does not stop the others;
// its error is reported in its BatchResult.
func (x *Extractor[T]) ExtractBatch(
	ctx context.Context,
	inputs [][]Asset,
	optFns ...func(*Options),
) ([]BatchResult[T], error) {
	var opts Options
	for _, fn := range optFns {
		fn(&opts)
	}

	r := opts.Runner
	if r == nil {
		r = DefaultRunner(ctx)
	}
	runCtx := ctx
	if d, ok := r.(*errGroupRunner); ok {
		runCtx = d.ctx
	}

	x.log.Debug("Starting batch", "inputs", len(inputs))
	results := make([]BatchResult[T], len(inputs))
	for i, assets := range inputs {
		r.Go(func() error {
			v, h, err := x.Extract(runCtx, assets, optFns...)
			results[i] = BatchResult[T]{Value: v, History: h, Err: err}
			if err != nil {
				x.log.Debug("Batch item failed", "index", i, "error", err)
			}
			return nil
		})
	}
	if err := r.Wait(); err != nil {
		return results, fmt.Errorf("batch: %w", err)
	}
	return results, nil
}
