package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/crewnet-hq/crewnet/internal/jobs"
	"github.com/crewnet-hq/crewnet/internal/relationships"
)

var defaultJobMetrics = jobmetrics.NewMetrics(nil)

// TombstoneCleanupJob purges rejected connection requests once their
// retention window lapses, so a rejection eventually stops shadowing
// future requests between the same pair.
type TombstoneCleanupJob struct {
	Relationships *relationships.Service
	Logger        *slog.Logger
	Metrics       *jobmetrics.Metrics
}

// NewTombstoneCleanupJob wires dependencies for the cleanup handler.
func NewTombstoneCleanupJob(svc *relationships.Service, logger *slog.Logger, metrics *jobmetrics.Metrics) *TombstoneCleanupJob {
	return &TombstoneCleanupJob{Relationships: svc, Logger: logger, Metrics: metrics}
}

// Handle processes tombstone cleanup tasks.
func (j *TombstoneCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil || j.Relationships == nil {
		return errors.New("tombstone cleanup: handler not configured")
	}
	var payload TombstoneCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.RetentionDays <= 0 {
		payload.RetentionDays = 30
	}

	tracker := j.metrics().Track(TaskTombstoneCleanup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	retention := time.Duration(payload.RetentionDays) * 24 * time.Hour
	purged, err := j.Relationships.PurgeRejectedConnections(ctx, retention)
	if err != nil {
		resultErr = err
		j.logger().Error("purge rejected connections", slog.Any("error", err))
		return resultErr
	}
	j.metrics().AddPurged(TaskTombstoneCleanup, purged)
	j.logger().Info("purged rejected connections",
		slog.Int64("purged", purged),
		slog.Int("retention_days", payload.RetentionDays))
	return resultErr
}

func (j *TombstoneCleanupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskTombstoneCleanup))
	}
	return slog.Default().With(slog.String("job", TaskTombstoneCleanup))
}

func (j *TombstoneCleanupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}
