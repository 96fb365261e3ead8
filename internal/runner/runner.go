// Package runner drives one processing cycle of the dispatch queue: select
// eligible e-mails, send each through the sender, and report a per-record
// summary.
package runner

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/busybox42/postbox/internal/mail"
	"github.com/busybox42/postbox/internal/metrics"
	"github.com/busybox42/postbox/internal/sender"
	"github.com/busybox42/postbox/internal/store"
)

// Status of one record after a cycle.
const (
	StatusOK      = "OK"
	StatusFailed  = "Failed"
	StatusSkipped = "Skipped"
)

// Result reports the outcome for one e-mail.
type Result struct {
	ID         int64
	Recipients string
	Subject    string
	Status     string
	Error      string
}

// Summary reports one cycle.
type Summary struct {
	Results []Result
	// BudgetExceeded is true when the cycle stopped early because the
	// wall-clock budget ran out; remaining records are reported as skipped.
	BudgetExceeded bool
	Duration       time.Duration
}

// Empty reports whether nothing was eligible.
func (s Summary) Empty() bool {
	return len(s.Results) == 0
}

// Config for the runner.
type Config struct {
	// Workers > 1 sends records of one cycle in parallel. Safety does not
	// depend on it: the claim compare-and-swap in the sender is what keeps
	// concurrent cycles and workers off the same record.
	Workers int
	// Budget caps the wall-clock time of one cycle. Zero means no cap.
	Budget time.Duration
}

// Runner executes queue cycles.
type Runner struct {
	store   *store.Store
	sender  *sender.Sender
	config  Config
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// New creates a runner.
func New(st *store.Store, snd *sender.Sender, config Config) *Runner {
	if config.Workers <= 0 {
		config.Workers = 1
	}
	return &Runner{
		store:  st,
		sender: snd,
		config: config,
		logger: slog.Default().With("component", "runner"),
	}
}

// SetMetrics attaches prometheus instrumentation. Optional.
func (r *Runner) SetMetrics(m *metrics.Metrics) {
	r.metrics = m
}

// Run executes one cycle. An empty queue is a clean no-op. Per-record
// failures never abort the batch; the summary is the operator-visible
// failure signal.
func (r *Runner) Run(ctx context.Context) (Summary, error) {
	started := time.Now()

	if r.config.Budget > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.config.Budget)
		defer cancel()
	}

	queue, err := r.store.GetQueue(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("fetching queue: %w", err)
	}

	if r.metrics != nil {
		r.metrics.QueueDepth.Set(float64(len(queue)))
	}

	summary := Summary{Results: make([]Result, len(queue))}
	if len(queue) == 0 {
		summary.Duration = time.Since(started)
		return summary, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.config.Workers)

	for i, email := range queue {
		// Stop handing out work once the budget is gone; already-running
		// sends finish, the rest are reported as skipped.
		if gctx.Err() != nil {
			summary.Results[i] = skippedResult(email)
			summary.BudgetExceeded = true
			continue
		}

		i, email := i, email
		g.Go(func() error {
			summary.Results[i] = r.processOne(gctx, email)
			return nil
		})
	}

	// Workers never return errors; per-record failures live in the summary.
	_ = g.Wait()

	summary.Duration = time.Since(started)
	if r.metrics != nil {
		r.metrics.CycleDuration.Observe(summary.Duration.Seconds())
	}

	r.logger.Info("queue cycle finished",
		"selected", len(queue),
		"duration", summary.Duration,
		"budget_exceeded", summary.BudgetExceeded)

	return summary, nil
}

// processOne sends one record with full failure isolation: a panic or an
// escaping error is converted into a failed mark so one bad record never
// aborts the batch.
func (r *Runner) processOne(ctx context.Context, email *mail.Email) (result Result) {
	result = Result{
		ID:         email.ID,
		Recipients: email.RecipientsString(),
		Subject:    email.Subject,
	}

	defer func() {
		if rec := recover(); rec != nil {
			cause := fmt.Errorf("panic during send: %v", rec)
			r.logger.Error("send panicked", "id", email.ID, "panic", rec)
			_ = r.sender.MarkFailed(context.WithoutCancel(ctx), email, cause)
			result.Status = StatusFailed
			result.Error = cause.Error()
		}
	}()

	if err := r.sender.Send(ctx, email); err != nil {
		// Defensive: the sender catches transport errors itself, so this
		// is an infrastructure failure. Mark and move on.
		_ = r.sender.MarkFailed(context.WithoutCancel(ctx), email, err)
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}

	// The store is the source of truth for the outcome.
	updated, err := r.store.Get(context.WithoutCancel(ctx), email.ID)
	if err != nil {
		result.Status = StatusFailed
		result.Error = err.Error()
		return result
	}

	if updated.IsSent() {
		result.Status = StatusOK
	} else {
		result.Status = StatusFailed
		result.Error = updated.Error
	}
	return result
}

func skippedResult(email *mail.Email) Result {
	return Result{
		ID:         email.ID,
		Recipients: email.RecipientsString(),
		Subject:    email.Subject,
		Status:     StatusSkipped,
		Error:      "cycle budget exceeded",
	}
}
