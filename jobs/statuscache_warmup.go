package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/crewnet-hq/crewnet/internal/identity"
	jobmetrics "github.com/crewnet-hq/crewnet/internal/jobs"
	"github.com/crewnet-hq/crewnet/internal/statuscache"
)

// StatusWarmupJob pre-resolves relationship statuses for principals with a
// live session, so their first profile views after login hit warm cache
// entries instead of the resolver.
type StatusWarmupJob struct {
	Cache   *statuscache.Cache
	Pool    *pgxpool.Pool
	Logger  *slog.Logger
	Metrics *jobmetrics.Metrics
	clock   func() time.Time
}

// NewStatusWarmupJob wires dependencies for the warmup handler.
func NewStatusWarmupJob(cache *statuscache.Cache, pool *pgxpool.Pool, logger *slog.Logger, metrics *jobmetrics.Metrics) *StatusWarmupJob {
	return &StatusWarmupJob{
		Cache:   cache,
		Pool:    pool,
		Logger:  logger,
		Metrics: metrics,
		clock: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Handle processes status warmup tasks.
func (j *StatusWarmupJob) Handle(ctx context.Context, t *asynq.Task) error {
	if j == nil {
		return errors.New("status warmup: handler not configured")
	}
	var payload StatusWarmupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	if payload.Limit <= 0 {
		payload.Limit = 200
	}

	tracker := j.metrics().Track(TaskStatusWarmup)
	var resultErr error
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	logger := j.logger()
	logger.Info("starting status warmup", slog.Int("limit", payload.Limit))

	principalIDs, err := j.fetchActivePrincipals(ctx, payload.Limit)
	if err != nil {
		resultErr = err
		logger.Error("load active principals", slog.Any("error", err))
		return resultErr
	}
	if len(principalIDs) == 0 {
		logger.Info("no live sessions to warm")
		return resultErr
	}

	start := j.now()
	warmed := 0
	for _, principalID := range principalIDs {
		if err := j.warmPrincipal(ctx, principalID); err != nil {
			resultErr = err
			logger.Error("warm principal", slog.Int64("principal_id", principalID), slog.Any("error", err))
			return resultErr
		}
		warmed++
	}

	logger.Info("completed status warmup",
		slog.Int("principals", warmed),
		slog.Duration("duration", time.Since(start)))
	return resultErr
}

// warmPrincipal resolves the principal's pending counterparties as seen
// from their personal persona, which is where they land after login.
func (j *StatusWarmupJob) warmPrincipal(ctx context.Context, principalID int64) error {
	if j.Cache == nil {
		return nil
	}
	warmCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	targets, err := j.fetchCounterparties(warmCtx, principalID)
	if err != nil {
		return err
	}
	if len(targets) == 0 {
		return nil
	}
	j.Cache.GetBatch(warmCtx, identity.PersonalPersona(principalID), targets)
	return nil
}

func (j *StatusWarmupJob) fetchActivePrincipals(ctx context.Context, limit int) ([]int64, error) {
	if j.Pool == nil {
		return nil, errors.New("status warmup: pool not configured")
	}
	rows, err := j.Pool.Query(ctx, `
		SELECT DISTINCT user_id FROM sessions
		WHERE expires_at > now()
		ORDER BY user_id
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	ids := make([]int64, 0, limit)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// fetchCounterparties collects the other side of the principal's pending
// connection requests. Those are the rows the user is most likely to look
// at next.
func (j *StatusWarmupJob) fetchCounterparties(ctx context.Context, principalID int64) ([]identity.Endpoint, error) {
	rows, err := j.Pool.Query(ctx, `
		SELECT CASE WHEN requester_kind = 'user' AND requester_id = $1
			THEN recipient_kind ELSE requester_kind END,
		       CASE WHEN requester_kind = 'user' AND requester_id = $1
			THEN recipient_id ELSE requester_id END
		FROM connections
		WHERE status = 'pending'
		  AND ((requester_kind = 'user' AND requester_id = $1)
		    OR (recipient_kind = 'user' AND recipient_id = $1))
		LIMIT 50`, principalID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var targets []identity.Endpoint
	for rows.Next() {
		var kind string
		var id int64
		if err := rows.Scan(&kind, &id); err != nil {
			return nil, err
		}
		targets = append(targets, identity.Endpoint{Kind: identity.EndpointKind(kind), ID: id})
	}
	return targets, rows.Err()
}

func (j *StatusWarmupJob) logger() *slog.Logger {
	if j.Logger != nil {
		return j.Logger.With(slog.String("job", TaskStatusWarmup))
	}
	return slog.Default().With(slog.String("job", TaskStatusWarmup))
}

func (j *StatusWarmupJob) metrics() *jobmetrics.Metrics {
	if j.Metrics != nil {
		return j.Metrics
	}
	return defaultJobMetrics
}

func (j *StatusWarmupJob) now() time.Time {
	if j.clock != nil {
		return j.clock()
	}
	return time.Now().UTC()
}
