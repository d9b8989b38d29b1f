package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sjperalta/custodia-api/internal/jobs"
	"github.com/sjperalta/custodia-api/pkg/logger"
)

type JobService struct {
	worker   *jobs.Worker
	audit    *AuditService
	notifier *NotificationService
}

func NewJobService(worker *jobs.Worker, audit *AuditService, notifier *NotificationService) *JobService {
	return &JobService{
		worker:   worker,
		audit:    audit,
		notifier: notifier,
	}
}

func (s *JobService) GetStatus() jobs.WorkerStats {
	return s.worker.GetStats()
}

// Enqueue runs a named job on the worker pool
func (s *JobService) Enqueue(name string, job jobs.Job) {
	s.worker.Enqueue(name, job)
}

// ScheduleAuditVerification re-verifies, every interval, the hash chains of
// entities touched during the last two intervals.
func (s *JobService) ScheduleAuditVerification(interval time.Duration) {
	if interval <= 0 {
		return
	}
	s.worker.ScheduleEvery("audit-verify", interval, func(ctx context.Context) error {
		return s.VerifyRecentAudit(ctx, time.Now().Add(-2*interval))
	})
	logger.Log.Info("audit verification scheduled", "interval", interval.String())
}

// VerifyRecentAudit verifies chains touched since the given time and raises
// an event for each broken one.
func (s *JobService) VerifyRecentAudit(ctx context.Context, since time.Time) error {
	broken, checked, err := s.audit.VerifySince(ctx, since)
	if err != nil {
		return fmt.Errorf("audit verification: %w", err)
	}
	for _, report := range broken {
		s.notifier.Publish(Event{
			Type:       EventAuditChainBroken,
			EntityType: report.EntityType,
			EntityID:   report.EntityID,
			Actor:      SystemActor.ID,
			Detail:     fmt.Sprintf("sequence %d: %s", report.BrokenAt, report.Problem),
		})
	}
	logger.Log.InfoContext(ctx, "audit verification finished", "checked", checked, "broken", len(broken))
	if len(broken) > 0 {
		return fmt.Errorf("%d audit chain(s) broken, first %s #%d", len(broken), broken[0].EntityType, broken[0].EntityID)
	}
	return nil
}
