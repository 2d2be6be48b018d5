// internal/nurture/scheduler/marks.go
package scheduler

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"nurture-engine/internal/common/logger"
)

const markPrefix = "job:done:"

// ExecutionMarks remembers which jobs already ran so a replayed fire of the
// same job ID becomes a no-op. Marks live in Redis with a TTL of twice the
// misfire grace; after that a replay is impossible anyway because the job
// row is no longer pending.
type ExecutionMarks struct {
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewExecutionMarks(client *redis.Client, grace time.Duration, log logger.Logger) *ExecutionMarks {
	return &ExecutionMarks{
		client: client,
		ttl:    2 * grace,
		logger: log.WithFields(map[string]interface{}{"component": "execution-marks"}),
	}
}

// Seen reports whether the job already executed. Redis being down reads as
// not-seen; the job-status guard in the trigger handler still holds.
func (m *ExecutionMarks) Seen(ctx context.Context, jobID string) bool {
	if m == nil || m.client == nil {
		return false
	}

	_, err := m.client.Get(ctx, markPrefix+jobID).Result()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		m.logger.Warn("execution mark lookup failed", map[string]interface{}{
			"jobId": jobID,
			"error": err.Error(),
		})
		return false
	}
	return true
}

// Mark records that the job executed.
func (m *ExecutionMarks) Mark(ctx context.Context, jobID string) {
	if m == nil || m.client == nil {
		return
	}

	if err := m.client.Set(ctx, markPrefix+jobID, "1", m.ttl).Err(); err != nil {
		m.logger.Warn("execution mark write failed", map[string]interface{}{
			"jobId": jobID,
			"error": err.Error(),
		})
	}
}
