package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/example/go-itslive/internal/logging"
	"github.com/example/go-itslive/monitor"
)

// Processor turns a raw notification into exactly one outcome.
type Processor interface {
	Process(ctx context.Context, raw []byte) monitor.Outcome
}

// Observer receives transport-level observations.
type Observer interface {
	TrackInFlight() func()
	RecordTransportError(operation string)
}

type nopObserver struct{}

func (nopObserver) TrackInFlight() func()       { return func() {} }
func (nopObserver) RecordTransportError(string) {}

// Runner pulls messages from a Source and settles them by outcome: Submitted
// and Skipped are acknowledged, Deferred is retried until MaxAttempts, and
// Failed is dead-lettered.
type Runner struct {
	source      Source
	processor   Processor
	logger      *slog.Logger
	observer    Observer
	concurrency int
	maxAttempts int
	errorPause  time.Duration
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithConcurrency bounds the messages processed at once.
func WithConcurrency(n int) RunnerOption {
	return func(r *Runner) {
		if n > 0 {
			r.concurrency = n
		}
	}
}

// WithMaxAttempts sets the delivery count after which a deferred message is
// dead-lettered. Zero retries forever.
func WithMaxAttempts(n int) RunnerOption {
	return func(r *Runner) {
		if n >= 0 {
			r.maxAttempts = n
		}
	}
}

// WithRunnerLogger sets the runner logger.
func WithRunnerLogger(l *slog.Logger) RunnerOption {
	return func(r *Runner) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithObserver receives in-flight and transport error observations.
func WithObserver(o Observer) RunnerOption {
	return func(r *Runner) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithErrorPause sets the wait after a failed receive.
func WithErrorPause(d time.Duration) RunnerOption {
	return func(r *Runner) {
		if d > 0 {
			r.errorPause = d
		}
	}
}

// NewRunner builds a Runner.
func NewRunner(source Source, processor Processor, opts ...RunnerOption) (*Runner, error) {
	if source == nil || processor == nil {
		return nil, errors.New("notify: source and processor are required")
	}
	r := &Runner{
		source:      source,
		processor:   processor,
		logger:      slog.Default(),
		observer:    nopObserver{},
		concurrency: 4,
		maxAttempts: 5,
		errorPause:  5 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run processes batches until ctx is cancelled. Messages already being
// processed are allowed to finish.
func (r *Runner) Run(ctx context.Context) error {
	ctx = logging.WithFields(ctx, logging.Fields{Component: "notify.runner"})
	r.logger.InfoContext(ctx, "notification runner started",
		"concurrency", r.concurrency, "max_attempts", r.maxAttempts)

	for {
		if ctx.Err() != nil {
			r.logger.InfoContext(ctx, "notification runner stopped")
			return nil
		}
		msgs, err := r.source.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			r.observer.RecordTransportError("receive")
			r.logger.ErrorContext(ctx, "receive failed", "error", err)
			select {
			case <-ctx.Done():
			case <-time.After(r.errorPause):
			}
			continue
		}
		r.RunBatch(ctx, msgs)
	}
}

// RunBatch processes msgs concurrently and settles each one.
func (r *Runner) RunBatch(ctx context.Context, msgs []Message) {
	var g errgroup.Group
	g.SetLimit(r.concurrency)
	for _, msg := range msgs {
		g.Go(func() error {
			r.handle(context.WithoutCancel(ctx), msg)
			return nil
		})
	}
	_ = g.Wait()
}

func (r *Runner) handle(ctx context.Context, msg Message) {
	release := r.observer.TrackInFlight()
	defer release()

	ctx = logging.WithFields(ctx, logging.Fields{MessageID: msg.ID})
	out := r.processor.Process(ctx, msg.Body)

	var (
		op  string
		err error
	)
	switch {
	case out.Done():
		op, err = "ack", r.source.Ack(ctx, msg)
	case out.Retryable() && (r.maxAttempts == 0 || msg.Attempt < r.maxAttempts):
		op, err = "retry", r.source.Retry(ctx, msg, reason(out))
	default:
		op, err = "dead_letter", r.source.DeadLetter(ctx, msg, reason(out))
		r.logger.WarnContext(ctx, "notification dead-lettered",
			"outcome", out.String(), "attempt", msg.Attempt)
	}
	if err != nil {
		r.observer.RecordTransportError(op)
		r.logger.ErrorContext(ctx, "settle message failed", "operation", op, "error", err)
	}
}

func reason(out monitor.Outcome) string {
	if out.Err != nil {
		return fmt.Sprintf("%s: %v", out.Reason, out.Err)
	}
	return string(out.Reason)
}
