// Package retention removes old pipeline runs and their exported workbooks
// on a cron schedule.
package retention

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"itemuploader/internal/runs"
)

// Scheduler owns the cron instance running the purge job.
type Scheduler struct {
	cron   *cron.Cron
	jobIDs map[string]cron.EntryID
	db     *gorm.DB
	days   int
	now    func() time.Time
}

// Start initializes and starts a cron scheduler that purges runs older than
// RETENTION_DAYS on the RETENTION_CRON schedule (default: 0 3 * * *).
//
// Parameters:
//   - db: Database connection holding runs and exports
//
// Returns:
//   - *Scheduler: The running scheduler; call Stop to end it
//   - error: If the cron expression is invalid
func Start(db *gorm.DB) (*Scheduler, error) {
	return NewScheduler(db, viper.GetString("RETENTION_CRON"), viper.GetInt("RETENTION_DAYS"))
}

// NewScheduler starts a purge job on schedule keeping days of history.
// days <= 0 disables purging while leaving the scheduler running.
func NewScheduler(db *gorm.DB, schedule string, days int) (*Scheduler, error) {
	s := &Scheduler{
		cron:   cron.New(),
		jobIDs: make(map[string]cron.EntryID),
		db:     db,
		days:   days,
		now:    time.Now,
	}

	id, err := s.cron.AddFunc(schedule, func() {
		logrus.Info("Running scheduled retention task")
		if _, _, err := s.RunOnce(context.Background()); err != nil {
			logrus.WithError(err).Error("Retention task failed")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	s.jobIDs["purgeRuns"] = id

	s.cron.Start()
	logrus.WithFields(logrus.Fields{"schedule": schedule, "days": days}).Info("Scheduler started for run retention")
	return s, nil
}

// RunOnce purges everything older than the retention window.
func (s *Scheduler) RunOnce(ctx context.Context) (int64, int64, error) {
	if s.days <= 0 {
		logrus.Info("Retention disabled, nothing purged")
		return 0, 0, nil
	}
	cutoff := s.now().AddDate(0, 0, -s.days)
	runCount, exportCount, err := runs.PurgeOlderThan(ctx, s.db, cutoff)
	if err != nil {
		return 0, 0, err
	}
	logrus.WithFields(logrus.Fields{
		"cutoff":  cutoff.Format(time.RFC3339),
		"runs":    runCount,
		"exports": exportCount,
	}).Info("Purged old runs")
	return runCount, exportCount, nil
}

// Next returns the next time the purge job fires.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.jobIDs["purgeRuns"]).Next
}

// Stop halts the scheduler and waits for a running job to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
	logrus.Info("Retention scheduler stopped")
}
