// Package batch groups Gmail calls into bounded rounds and requeues the
// ones Gmail throttles until a round finishes without a 429.
package batch

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/google/mail-importer/internal/gmail"
	"github.com/google/mail-importer/internal/rate"
)

// DefaultMaxSize is Gmail's ceiling for calls in one batch request.
const DefaultMaxSize = 100

// ErrThrottled is passed to failure callbacks of operations still throttled
// when MaxRounds runs out.
var ErrThrottled = errors.New("operation still throttled after final round")

type op struct {
	name    string
	call    func(context.Context) error
	succeed func()
	fail    func(error)
}

// Batch is an ordered queue of deferred calls. A Batch is not safe for
// concurrent use; callbacks may queue follow-up operations into it.
type Batch struct {
	name string
	ops  []*op
}

// New returns an empty batch labelled name in logs.
func New(name string) *Batch {
	return &Batch{name: name}
}

// Len reports queued operations not yet executed.
func (b *Batch) Len() int { return len(b.ops) }

// Queue appends call to b. Exactly one of onSuccess or onFailure runs per
// operation once it settles; either may be nil.
func Queue[T any](b *Batch, name string, call func(context.Context) (T, error), onSuccess func(T), onFailure func(error)) {
	var result T
	b.ops = append(b.ops, &op{
		name: name,
		call: func(ctx context.Context) error {
			v, err := call(ctx)
			if err == nil {
				result = v
			}
			return err
		},
		succeed: func() {
			if onSuccess != nil {
				onSuccess(result)
			}
		},
		fail: func(err error) {
			if onFailure != nil {
				onFailure(err)
			}
		},
	})
}

func (b *Batch) drain() []*op {
	ops := b.ops
	b.ops = nil
	return ops
}

// Stats summarizes one Execute call.
type Stats struct {
	Rounds    int
	Succeeded int
	Failed    int
	Requeued  int
}

// Executor dispatches batches.
type Executor struct {
	Limiter     rate.Limiter
	Logger      *slog.Logger
	MaxSize     int
	Concurrency int
	RoundDelay  time.Duration
	// MaxRounds bounds the requeue loop; zero means until no call is throttled.
	MaxRounds   int
	IsThrottled func(error) bool
}

// NewExecutor constructs an Executor with sane defaults.
func NewExecutor(limiter rate.Limiter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
	}
	return &Executor{
		Limiter:     limiter,
		Logger:      logger,
		MaxSize:     DefaultMaxSize,
		Concurrency: 10,
		IsThrottled: gmail.IsThrottled,
	}
}

// Execute runs every queued operation. Callbacks run on the calling
// goroutine after each round, in queue order. Only context cancellation or
// a limiter failure makes Execute return an error.
func (e *Executor) Execute(ctx context.Context, b *Batch) (Stats, error) {
	var stats Stats
	pending := b.drain()
	for len(pending) > 0 {
		if err := ctx.Err(); err != nil {
			return stats, fmt.Errorf("batch %s: %w", b.name, err)
		}
		if e.MaxRounds > 0 && stats.Rounds >= e.MaxRounds {
			for _, o := range pending {
				stats.Failed++
				o.fail(fmt.Errorf("%s: %w", o.name, ErrThrottled))
			}
			e.Logger.Warn("batch gave up on throttled calls", "batch", b.name, "rounds", stats.Rounds, "count", len(pending))
			break
		}
		if stats.Rounds > 0 && e.RoundDelay > 0 {
			if err := sleep(ctx, e.RoundDelay); err != nil {
				return stats, fmt.Errorf("batch %s: %w", b.name, err)
			}
		}
		stats.Rounds++

		errs, err := e.dispatch(ctx, pending)
		if err != nil {
			return stats, fmt.Errorf("batch %s round %d: %w", b.name, stats.Rounds, err)
		}

		var throttled []*op
		for i, o := range pending {
			switch {
			case errs[i] == nil:
				stats.Succeeded++
				o.succeed()
			case e.throttled(errs[i]):
				throttled = append(throttled, o)
			default:
				stats.Failed++
				o.fail(errs[i])
			}
		}
		stats.Requeued += len(throttled)
		e.Logger.Debug("batch round", "batch", b.name, "round", stats.Rounds, "ops", len(pending), "throttled", len(throttled))
		pending = append(throttled, b.drain()...)
	}
	return stats, nil
}

func (e *Executor) throttled(err error) bool {
	if e.IsThrottled == nil {
		return gmail.IsThrottled(err)
	}
	return e.IsThrottled(err)
}

// dispatch runs ops in chunks of MaxSize, each chunk with bounded
// concurrency, and returns the per-op errors in order.
func (e *Executor) dispatch(ctx context.Context, ops []*op) ([]error, error) {
	size := e.MaxSize
	if size <= 0 {
		size = DefaultMaxSize
	}
	limit := e.Concurrency
	if limit <= 0 {
		limit = 1
	}
	limiter := rate.OrUnlimited(e.Limiter)

	errs := make([]error, len(ops))
	for start := 0; start < len(ops); start += size {
		end := min(start+size, len(ops))
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(limit)
		for i := start; i < end; i++ {
			o := ops[i]
			g.Go(func() error {
				if err := limiter.Wait(gctx); err != nil {
					return err
				}
				errs[i] = o.call(gctx)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	}
	return errs, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
