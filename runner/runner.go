// Package runner provides the bounded, order-preserving task pool used for
// bulk fetching and parallel report drafting.
package runner

import (
	"context"
	"fmt"
	"runtime/debug"

	apperr "github.com/sweetpotato0/paper-survey/errors"
	"github.com/sweetpotato0/paper-survey/pkg/metrics"
	"github.com/sweetpotato0/paper-survey/pkg/telemetry"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"
)

// Worker processes one item.
type Worker[T, R any] func(ctx context.Context, item T) (R, error)

// Result holds the outcome for the item at Index in the caller's input.
type Result[R any] struct {
	Index int
	Value R
	Err   error
}

// OK reports whether the unit succeeded.
func (r Result[R]) OK() bool { return r.Err == nil }

// Batch is the ordered outcome of one Run call.
type Batch[R any] struct {
	Results   []Result[R]
	Succeeded int
	Failed    int
}

// Values returns successful values in input order.
func (b *Batch[R]) Values() []R {
	out := make([]R, 0, b.Succeeded)
	for _, r := range b.Results {
		if r.Err == nil {
			out = append(out, r.Value)
		}
	}
	return out
}

// Errors returns failed results in input order.
func (b *Batch[R]) Errors() []Result[R] {
	out := make([]Result[R], 0, b.Failed)
	for _, r := range b.Results {
		if r.Err != nil {
			out = append(out, r)
		}
	}
	return out
}

// Option configures a single Run call.
type Option func(*options)

type options struct {
	name string
}

// WithName labels spans and metrics for the batch, e.g. "fetch" or "draft".
func WithName(name string) Option {
	return func(o *options) {
		if name != "" {
			o.name = name
		}
	}
}

// Run executes worker over items with at most maxConcurrency units in flight.
// Results[i] always belongs to items[i]. A failing or panicking unit only
// affects its own slot; nothing is retried. Cancelling ctx marks units that
// have not started yet as failed with the context error.
func Run[T, R any](ctx context.Context, items []T, worker Worker[T, R], maxConcurrency int, opts ...Option) (*Batch[R], error) {
	if maxConcurrency <= 0 {
		return nil, apperr.NewExecutionError("runner", fmt.Errorf("%w: got %d", apperr.ErrInvalidConcurrency, maxConcurrency))
	}
	if worker == nil {
		return nil, apperr.NewExecutionError("runner", fmt.Errorf("%w: worker is nil", apperr.ErrInvalidInput))
	}
	batch := &Batch[R]{Results: make([]Result[R], len(items))}
	if len(items) == 0 {
		return batch, nil
	}

	cfg := options{name: "pool"}
	for _, opt := range opts {
		opt(&cfg)
	}

	ctx, span := telemetry.Start(ctx, "runner", cfg.name,
		attribute.Int("pool.items", len(items)),
		attribute.Int("pool.max_concurrency", maxConcurrency),
	)

	var g errgroup.Group
	g.SetLimit(maxConcurrency)
	for i, item := range items {
		// Each goroutine owns slot i exclusively.
		g.Go(func() error {
			batch.Results[i] = runUnit(ctx, cfg.name, i, item, worker)
			return nil
		})
	}
	_ = g.Wait()

	for _, r := range batch.Results {
		if r.Err != nil {
			batch.Failed++
		} else {
			batch.Succeeded++
		}
	}
	span.SetAttributes(
		attribute.Int("pool.succeeded", batch.Succeeded),
		attribute.Int("pool.failed", batch.Failed),
	)
	telemetry.End(span, nil)
	return batch, nil
}

func runUnit[T, R any](ctx context.Context, pool string, index int, item T, worker Worker[T, R]) (res Result[R]) {
	res.Index = index
	if err := ctx.Err(); err != nil {
		res.Err = &apperr.UnitFailure{Index: index, Err: err}
		metrics.PoolUnits.WithLabelValues(pool, metrics.Outcome(err)).Inc()
		return res
	}

	inFlight := metrics.PoolInFlight.WithLabelValues(pool)
	inFlight.Inc()
	defer inFlight.Dec()

	unitCtx, span := telemetry.Start(ctx, "runner", pool+".unit", attribute.Int("unit.index", index))
	defer func() {
		if r := recover(); r != nil {
			res.Err = &apperr.UnitFailure{Index: index, Err: fmt.Errorf("panic: %v\n%s", r, debug.Stack())}
		}
		metrics.PoolUnits.WithLabelValues(pool, metrics.Outcome(res.Err)).Inc()
		telemetry.End(span, res.Err)
	}()

	value, err := worker(unitCtx, item)
	if err != nil {
		res.Err = &apperr.UnitFailure{Index: index, Err: err}
		return res
	}
	res.Value = value
	return res
}
