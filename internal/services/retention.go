package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/soochol/stagecond/internal/repository"
	"github.com/soochol/stagecond/internal/stagecond"
)

// RetentionService periodically purges old evaluation logs.
type RetentionService struct {
	cron     *cron.Cron
	repo     repository.EvaluationLogRepository
	days     int
	schedule string
	logger   *slog.Logger
	now      func() time.Time
}

// NewRetentionService keeps logs for days; days <= 0 disables purging.
// schedule is a cron spec or descriptor such as "@daily".
func NewRetentionService(repo repository.EvaluationLogRepository, days int, schedule string, logger *slog.Logger) *RetentionService {
	if schedule == "" {
		schedule = "@daily"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &RetentionService{
		cron:     cron.New(),
		repo:     repo,
		days:     days,
		schedule: schedule,
		logger:   logger,
		now:      time.Now,
	}
}

// Start registers the purge job and starts the scheduler.
func (r *RetentionService) Start() error {
	if r.days <= 0 {
		r.logger.Info("evaluation log retention disabled")
		return nil
	}
	_, err := r.cron.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		if _, err := r.Purge(ctx); err != nil {
			r.logger.Warn("purge evaluation logs", "err", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", r.schedule, err)
	}
	r.cron.Start()
	r.logger.Info("evaluation log retention started", "days", r.days, "schedule", r.schedule)
	return nil
}

// Stop halts the scheduler and waits for a running purge.
func (r *RetentionService) Stop() {
	<-r.cron.Stop().Done()
}

// Purge deletes logs older than the retention window.
func (r *RetentionService) Purge(ctx context.Context) (int, error) {
	if r.days <= 0 {
		return 0, nil
	}
	cutoff := r.now().AddDate(0, 0, -r.days)
	n, err := r.repo.PurgeBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		r.logger.Info("purged evaluation logs", "count", n, "before", cutoff.Format(time.RFC3339))
	}
	return n, nil
}

// ListLogs returns an instance's evaluation logs, newest first.
func (r *RetentionService) ListLogs(ctx context.Context, instanceID string, limit int) ([]*stagecond.EvaluationLog, error) {
	return r.repo.ListByInstance(ctx, instanceID, limit)
}
