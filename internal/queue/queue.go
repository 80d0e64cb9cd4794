// internal/queue/queue.go
package queue

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"
)

// Queue classes, mirroring how jobs are prioritized: webhook-driven single
// syncs are short, paginated bulk syncs are long.
const (
	ClassShort = "short"
	ClassLong  = "long"
)

// Job is one named unit of background work with loosely-typed arguments.
type Job struct {
	Name    string
	Queue   string
	Timeout time.Duration
	Args    map[string]any
}

// Enqueuer submits jobs for asynchronous at-least-once execution.
type Enqueuer interface {
	Enqueue(ctx context.Context, job Job) error
}

// HandlerFunc executes one job.
type HandlerFunc func(ctx context.Context, args map[string]any) error

// Pool is an in-process Enqueuer: a buffered channel drained by a fixed
// set of workers. Handlers are registered by job name before Start.
// Delivery within the process is exactly once; a crashed process loses
// buffered jobs, so callers treat every sync as repeatable.
type Pool struct {
	jobs     chan Job
	handlers map[string]HandlerFunc
	logger   *slog.Logger
}

func NewPool(logger *slog.Logger, buffer int) *Pool {
	return &Pool{
		jobs:     make(chan Job, buffer),
		handlers: make(map[string]HandlerFunc),
		logger:   logger,
	}
}

// Register binds a handler to a job name. Not safe to call after Start.
func (p *Pool) Register(name string, fn HandlerFunc) {
	p.handlers[name] = fn
}

// Enqueue submits a job. It blocks while the buffer is full so that a
// webhook burst applies backpressure instead of dropping work.
func (p *Pool) Enqueue(ctx context.Context, job Job) error {
	select {
	case p.jobs <- job:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs the worker pool until ctx is cancelled. Job failures are
// logged, never fatal to the pool.
func (p *Pool) Start(ctx context.Context, workers int) {
	if workers <= 0 {
		workers = 1
	}
	p.logger.Info("Starting job workers", "workers", workers)

	g, gctx := errgroup.WithContext(ctx)
	for range workers {
		g.Go(func() error {
			for {
				select {
				case job := <-p.jobs:
					p.run(gctx, job)
				case <-gctx.Done():
					return nil
				}
			}
		})
	}
	_ = g.Wait()
	p.logger.Info("Job workers stopped", "reason", ctx.Err())
}

func (p *Pool) run(ctx context.Context, job Job) {
	handler, ok := p.handlers[job.Name]
	if !ok {
		p.logger.Error("No handler registered for job", "job", job.Name)
		return
	}

	if job.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, job.Timeout)
		defer cancel()
	}

	start := time.Now()
	if err := handler(ctx, job.Args); err != nil {
		p.logger.Error("Job failed", "job", job.Name, "queue", job.Queue, "error", err, "duration", time.Since(start).String())
		return
	}
	p.logger.Debug("Job finished", "job", job.Name, "duration", time.Since(start).String())
}

// IntArg reads an integer argument that may have round-tripped through
// JSON as a float.
func IntArg(args map[string]any, key string) (int, error) {
	switch v := args[key].(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		return int(v), nil
	default:
		return 0, fmt.Errorf("job argument %q is not an integer (got %T)", key, args[key])
	}
}

// StringArg reads a string argument.
func StringArg(args map[string]any, key string) (string, error) {
	if v, ok := args[key].(string); ok {
		return v, nil
	}
	return "", fmt.Errorf("job argument %q is not a string (got %T)", key, args[key])
}
