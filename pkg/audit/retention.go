package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/platinummonkey/assetvault/pkg/observability"
)

// RetentionJob periodically removes audit events that fall outside the policy
type RetentionJob struct {
	store   Store
	policy  RetentionPolicy
	timeout time.Duration
	logger  *observability.Logger
}

// NewRetentionJob creates a cleanup job for store
func NewRetentionJob(store Store, policy RetentionPolicy, logger *observability.Logger) *RetentionJob {
	return &RetentionJob{
		store:   store,
		policy:  policy,
		timeout: 5 * time.Minute,
		logger:  logger,
	}
}

// Run performs a single cleanup pass
func (j *RetentionJob) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), j.timeout)
	defer cancel()

	removed, err := j.store.Cleanup(ctx, j.policy)
	if err != nil {
		j.logger.WithError(err).Error("audit retention cleanup failed")
		return
	}
	j.logger.WithField("removed", removed).
		WithField("retention_days", j.policy.RetentionDays).
		Info("audit retention cleanup finished")
}

// Schedule registers the job on c using a standard five-field cron spec
func (j *RetentionJob) Schedule(c *cron.Cron, spec string) (cron.EntryID, error) {
	id, err := c.AddJob(spec, j)
	if err != nil {
		return 0, fmt.Errorf("failed to schedule audit retention: %w", err)
	}
	return id, nil
}
