package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"github.com/spec-kit/property-service/internal/domain"
)

// JobSource reads one named queue.
type JobSource interface {
	Name() string
	ListJobs(ctx context.Context, state domain.JobState, limit int) ([]domain.QueueJob, error)
	GetJob(ctx context.Context, id string) (*domain.JobDetail, error)
}

// JobInspector gives a read-only view over background queues. It never fails
// the caller: an unavailable backend reads as an empty queue.
type JobInspector struct {
	sources      []JobSource
	historyLimit int
	logger       *zap.Logger
}

// NewJobInspector constructs the inspector. historyLimit caps completed and
// failed jobs per queue.
func NewJobInspector(sources []JobSource, historyLimit int, logger *zap.Logger) *JobInspector {
	if logger == nil {
		logger = zap.NewNop()
	}
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &JobInspector{sources: sources, historyLimit: historyLimit, logger: logger}
}

// ListJobs merges every queue's jobs, newest first.
func (i *JobInspector) ListJobs(ctx context.Context) []domain.QueueJob {
	jobs := make([]domain.QueueJob, 0)
	for _, source := range i.sources {
		for _, state := range domain.JobStates {
			limit := 0
			if state == domain.JobCompleted || state == domain.JobFailed {
				limit = i.historyLimit
			}
			batch, err := source.ListJobs(ctx, state, limit)
			if err != nil {
				i.logger.Warn("job queue unavailable",
					zap.String("queue", source.Name()),
					zap.String("state", string(state)),
					zap.Error(err))
				return []domain.QueueJob{}
			}
			jobs = append(jobs, batch...)
		}
	}
	sort.SliceStable(jobs, func(a, b int) bool {
		if !jobs[a].CreatedAt.Equal(jobs[b].CreatedAt) {
			return jobs[a].CreatedAt.After(jobs[b].CreatedAt)
		}
		if jobs[a].Queue != jobs[b].Queue {
			return jobs[a].Queue < jobs[b].Queue
		}
		return jobs[a].ID > jobs[b].ID
	})
	return jobs
}

// GetJob returns the first job with id across queues in configured order, or
// nil when none has it.
func (i *JobInspector) GetJob(ctx context.Context, id string) *domain.JobDetail {
	for _, source := range i.sources {
		job, err := source.GetJob(ctx, id)
		if err != nil {
			i.logger.Warn("job lookup failed",
				zap.String("queue", source.Name()),
				zap.String("job_id", id),
				zap.Error(err))
			return nil
		}
		if job != nil {
			return job
		}
	}
	return nil
}
