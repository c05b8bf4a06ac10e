package jobs

import (
	"context"
	"errors"
	"log/slog"

	"github.com/hibiken/asynq"

	"github.com/crewnet-hq/crewnet/internal/auth"
	jobmetrics "github.com/crewnet-hq/crewnet/internal/jobs"
)

// SessionCleanupJob deletes login session records past their expiry.
type SessionCleanupJob struct {
	Auth    *auth.Service
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
}

// NewSessionCleanupJob wires dependencies for the cleanup handler.
func NewSessionCleanupJob(svc *auth.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *SessionCleanupJob {
	return &SessionCleanupJob{Auth: svc, Logger: logger, Metrics: metrics}
}

// Handle processes session cleanup tasks.
func (j *SessionCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Auth == nil {
		return errors.New("session cleanup: handler not configured")
	}

	tracker := j.metrics().Track(TaskSessionCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	removed, err := j.Auth.CleanupExpiredSessions(ctx)
	if err != nil {
		resultErr = err
		j.logger().Error("cleanup expired sessions", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPurged(TaskSessionCleanup, removed)
	j.logger().Info("removed expired sessions", slog.Int64("removed", removed))
	return resultErr
}

func (j *SessionCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskSessionCleanup))
	}
	return slog.Default().With(slog.String("job", TaskSessionCleanup))
}

func (j *SessionCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
