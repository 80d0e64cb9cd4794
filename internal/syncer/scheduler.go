// internal/syncer/scheduler.go
package syncer

import (
	"context"
	"log/slog"
	"time"

	"github-manager/internal/model"
	"github-manager/internal/queue"
	"github-manager/internal/store"
)

// Scheduler enqueues the recurring sync jobs: open pull requests for every
// known repository each hour, and a full repository sweep each day.
type Scheduler struct {
	records      store.RecordStore
	queue        queue.Enqueuer
	logger       *slog.Logger
	prInterval   time.Duration
	repoInterval time.Duration
}

func NewScheduler(records store.RecordStore, q queue.Enqueuer, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		records:      records,
		queue:        q,
		logger:       logger,
		prInterval:   time.Hour,
		repoInterval: 24 * time.Hour,
	}
}

// Start runs the schedule loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	s.logger.Info("Starting scheduler", "pr_interval", s.prInterval.String(), "repo_interval", s.repoInterval.String())

	prTicker := time.NewTicker(s.prInterval)
	defer prTicker.Stop()
	repoTicker := time.NewTicker(s.repoInterval)
	defer repoTicker.Stop()

	for {
		select {
		case <-prTicker.C:
			s.enqueueOpenPRSyncs(ctx)
		case <-repoTicker.C:
			s.enqueueRepositorySweep(ctx)
		case <-ctx.Done():
			s.logger.Info("Scheduler shutting down", "reason", ctx.Err())
			return
		}
	}
}

func (s *Scheduler) enqueueOpenPRSyncs(ctx context.Context) {
	repositories, err := s.records.ListKeys(ctx, model.KindRepository)
	if err != nil {
		s.logger.Error("Failed to list repositories for scheduled PR sync", "error", err)
		return
	}

	for _, repository := range repositories {
		job := queue.Job{
			Name:    JobSyncPullRequests,
			Queue:   queue.ClassLong,
			Timeout: 30 * time.Minute,
			Args:    map[string]any{"repository": repository, "state": "open"},
		}
		if err := s.queue.Enqueue(ctx, job); err != nil {
			s.logger.Error("Failed to enqueue scheduled PR sync", "repository", repository, "error", err)
		}
	}
	s.logger.Info("Scheduled open-PR syncs enqueued", "repositories", len(repositories))
}

func (s *Scheduler) enqueueRepositorySweep(ctx context.Context) {
	job := queue.Job{
		Name:    JobSyncAllRepositories,
		Queue:   queue.ClassLong,
		Timeout: time.Hour,
		Args:    map[string]any{},
	}
	if err := s.queue.Enqueue(ctx, job); err != nil {
		s.logger.Error("Failed to enqueue scheduled repository sweep", "error", err)
		return
	}
	s.logger.Info("Scheduled repository sweep enqueued")
}
