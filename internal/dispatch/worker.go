package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/busybox42/postbox/internal/sender"
	"github.com/busybox42/postbox/internal/store"
)

// Worker consumes send jobs and delivers them through the sender. It runs
// until the context is cancelled.
type Worker struct {
	dispatcher *Dispatcher
	store      *store.Store
	sender     *sender.Sender
	logger     *slog.Logger

	// popTimeout bounds each blocking pop so promotion and shutdown get a
	// chance to run.
	popTimeout time.Duration
}

// NewWorker creates a worker over an existing dispatcher connection.
func NewWorker(d *Dispatcher, st *store.Store, snd *sender.Sender) *Worker {
	return &Worker{
		dispatcher: d,
		store:      st,
		sender:     snd,
		logger:     slog.Default().With("component", "dispatch-worker"),
		popTimeout: 5 * time.Second,
	}
}

// Run processes jobs until ctx is done.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("dispatch worker started", "queue", w.dispatcher.queue)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("dispatch worker stopped")
			return nil
		default:
		}

		if err := w.dispatcher.promoteDue(ctx); err != nil && !isContextErr(err) {
			w.logger.Error("promoting delayed jobs", "error", err)
		}

		res, err := w.dispatcher.client.BRPop(ctx, w.popTimeout, w.dispatcher.queue).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) || isContextErr(err) {
				continue
			}
			w.logger.Error("popping job", "error", err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) != 2 {
			continue
		}

		w.handle(ctx, []byte(res[1]))
	}
}

func (w *Worker) handle(ctx context.Context, payload []byte) {
	var job Job
	if err := json.Unmarshal(payload, &job); err != nil {
		w.logger.Error("discarding malformed job", "error", err)
		return
	}

	email, err := w.store.Get(ctx, job.EmailID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			w.logger.Warn("job references missing e-mail", "job_id", job.ID, "email_id", job.EmailID)
			return
		}
		w.logger.Error("loading e-mail for job", "job_id", job.ID, "error", err)
		return
	}

	// Send handles its own failure recording; idempotence makes redelivered
	// jobs harmless.
	if err := w.sender.Send(ctx, email); err != nil {
		w.logger.Error("job send failed", "job_id", job.ID, "email_id", job.EmailID, "error", err)
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
