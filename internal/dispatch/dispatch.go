// Package dispatch implements the asynchronous delivery path: composed
// e-mails are handed to a redis-backed job queue and delivered by a worker
// process instead of the periodic runner.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Job wraps an e-mail id for the worker. The job carries only the id; the
// worker re-reads the record so delivery always sees current state.
type Job struct {
	ID      string `json:"id"`
	EmailID int64  `json:"email_id"`
}

// Config for the redis connection and queue naming.
type Config struct {
	Addr     string
	Password string
	DB       int
	// Queue is the redis list jobs are pushed to. Delayed jobs wait in
	// Queue + ":delayed" (a sorted set scored by due time) until promoted.
	Queue string
}

// Dispatcher enqueues send jobs.
type Dispatcher struct {
	client *redis.Client
	queue  string
	logger *slog.Logger
	now    func() time.Time
}

// New connects to redis and returns a dispatcher.
func New(cfg Config) (*Dispatcher, error) {
	if cfg.Queue == "" {
		cfg.Queue = "postbox:jobs"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}

	return &Dispatcher{
		client: client,
		queue:  cfg.Queue,
		logger: slog.Default().With("component", "dispatch"),
		now:    time.Now,
	}, nil
}

// Close releases the redis connection.
func (d *Dispatcher) Close() error {
	return d.client.Close()
}

// Enqueue pushes a send job for the e-mail. A positive delay parks the job
// in the delayed set until its due time.
func (d *Dispatcher) Enqueue(ctx context.Context, emailID int64, delay time.Duration) error {
	job := Job{ID: uuid.NewString(), EmailID: emailID}
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encoding job: %w", err)
	}

	if delay > 0 {
		due := float64(d.now().Add(delay).UnixMilli())
		if err := d.client.ZAdd(ctx, d.delayedKey(), redis.Z{
			Score:  due,
			Member: payload,
		}).Err(); err != nil {
			return fmt.Errorf("enqueuing delayed job: %w", err)
		}
		d.logger.Debug("job delayed", "job_id", job.ID, "email_id", emailID, "delay", delay)
		return nil
	}

	if err := d.client.LPush(ctx, d.queue, payload).Err(); err != nil {
		return fmt.Errorf("enqueuing job: %w", err)
	}
	d.logger.Debug("job enqueued", "job_id", job.ID, "email_id", emailID)
	return nil
}

func (d *Dispatcher) delayedKey() string {
	return d.queue + ":delayed"
}

// promoteDue moves delayed jobs whose due time has passed onto the queue.
func (d *Dispatcher) promoteDue(ctx context.Context) error {
	now := fmt.Sprintf("%d", d.now().UnixMilli())

	members, err := d.client.ZRangeByScore(ctx, d.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: now,
	}).Result()
	if err != nil {
		return err
	}

	for _, member := range members {
		// Remove-then-push; a job lost between the two commands would
		// disappear, so push first and tolerate the rare duplicate. The
		// send itself is idempotent, duplicates are harmless.
		if err := d.client.LPush(ctx, d.queue, member).Err(); err != nil {
			return err
		}
		if err := d.client.ZRem(ctx, d.delayedKey(), member).Err(); err != nil {
			return err
		}
	}
	return nil
}
