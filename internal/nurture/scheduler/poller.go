// internal/nurture/scheduler/poller.go
package scheduler

import (
	"context"
	"sync"
	"time"

	"nurture-engine/internal/common/config"
	"nurture-engine/internal/common/logger"
	"nurture-engine/internal/common/metrics"
	"nurture-engine/internal/models"
)

// TriggerHandler executes one due job. Implementations are terminal
// boundaries: they log their own failures and never return them.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, job *models.ScheduledJob)
}

// JobClaimer is the slice of the job store the poller reads through.
type JobClaimer interface {
	ClaimDue(ctx context.Context, now time.Time, limit int) ([]*models.ScheduledJob, error)
	MarkFailed(ctx context.Context, id, reason string, at time.Time) error
	MarkSkipped(ctx context.Context, id, reason string, at time.Time) error
}

// Poller drives the due loop: claim jobs whose run time has passed, drop
// the ones beyond the misfire grace, and hand the rest to worker
// goroutines. Different leads proceed in parallel; the per-lead lock inside
// the handler serializes same-lead work.
type Poller struct {
	jobs    JobClaimer
	handler TriggerHandler
	marks   *ExecutionMarks
	config  *config.SchedulerConfig
	logger  logger.Logger
}

func NewPoller(jobs JobClaimer, handler TriggerHandler, marks *ExecutionMarks, cfg *config.SchedulerConfig, log logger.Logger) *Poller {
	return &Poller{
		jobs:    jobs,
		handler: handler,
		marks:   marks,
		config:  cfg,
		logger:  log.WithFields(map[string]interface{}{"component": "poller"}),
	}
}

// Run blocks until the context is cancelled, then drains in-flight handlers.
func (p *Poller) Run(ctx context.Context) {
	interval := config.GetDuration(p.config.PollInterval)
	if interval <= 0 {
		interval = 15 * time.Second
	}
	workers := p.config.WorkerCount
	if workers <= 0 {
		workers = 4
	}

	work := make(chan *models.ScheduledJob)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range work {
				p.process(ctx, job)
			}
		}()
	}

	p.logger.Info("poller started", map[string]interface{}{
		"interval": interval.String(),
		"workers":  workers,
	})

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			close(work)
			wg.Wait()
			p.logger.Info("poller stopped", nil)
			return
		case <-ticker.C:
			p.tick(ctx, work)
		}
	}
}

func (p *Poller) tick(ctx context.Context, work chan<- *models.ScheduledJob) {
	now := time.Now().UTC()

	batch := p.config.ClaimBatch
	if batch <= 0 {
		batch = 20
	}
	jobs, err := p.jobs.ClaimDue(ctx, now, batch)
	if err != nil {
		p.logger.Error("claiming due jobs failed", map[string]interface{}{"error": err.Error()})
		return
	}

	grace := config.GetDuration(p.config.MisfireGrace)
	if grace <= 0 {
		grace = time.Hour
	}

	for _, job := range jobs {
		if now.Sub(job.RunAt) > grace {
			metrics.JobsMisfired.Inc()
			p.logger.Warn("job missed its grace window", map[string]interface{}{
				"jobId": job.ID,
				"runAt": job.RunAt,
			})
			if err := p.jobs.MarkFailed(ctx, job.ID, "misfire", now); err != nil {
				p.logger.Error("marking misfired job failed", map[string]interface{}{
					"jobId": job.ID,
					"error": err.Error(),
				})
			}
			continue
		}

		select {
		case work <- job:
		case <-ctx.Done():
			return
		}
	}
}

func (p *Poller) process(ctx context.Context, job *models.ScheduledJob) {
	if p.marks.Seen(ctx, job.ID) {
		p.logger.Debug("job already executed, replay ignored", map[string]interface{}{"jobId": job.ID})
		if err := p.jobs.MarkSkipped(ctx, job.ID, "already_executed", time.Now().UTC()); err != nil {
			p.logger.Error("marking replayed job failed", map[string]interface{}{
				"jobId": job.ID,
				"error": err.Error(),
			})
		}
		return
	}
	p.handler.HandleTrigger(ctx, job)
}
