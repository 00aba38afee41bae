package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduled job names
const (
	JobFixSeats    = "fix_seats"
	JobFixPayments = "fix_payments"
)

// CronSchedule holds the cron specs of the maintenance jobs. Specs have a
// seconds field.
type CronSchedule struct {
	FixSeats    string
	FixPayments string
}

// JobRun is the outcome of the last run of a job
type JobRun struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`
	Error     string        `json:"error,omitempty"`
	Summary   string        `json:"summary"`
}

// CronService manages scheduled background jobs
type CronService struct {
	cron        *cron.Cron
	maintenance *MaintenanceService
	reports     *ReportService
	schedule    CronSchedule
	logger      *logrus.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
	lastRun map[string]JobRun
	running map[string]bool
}

// NewCronService creates a new CronService
func NewCronService(maintenance *MaintenanceService, reports *ReportService, schedule CronSchedule, logger *logrus.Logger) *CronService {
	return &CronService{
		cron:        cron.New(cron.WithSeconds()),
		maintenance: maintenance,
		reports:     reports,
		schedule:    schedule,
		logger:      logger,
		entries:     make(map[string]cron.EntryID),
		lastRun:     make(map[string]JobRun),
		running:     make(map[string]bool),
	}
}

// Start schedules the maintenance jobs and starts the scheduler
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	jobs := []struct {
		name string
		spec string
	}{
		{JobFixSeats, s.schedule.FixSeats},
		{JobFixPayments, s.schedule.FixPayments},
	}
	for _, job := range jobs {
		if job.spec == "" {
			continue
		}
		name := job.name
		id, err := s.cron.AddFunc(job.spec, func() { s.run(name) })
		if err != nil {
			return fmt.Errorf("failed to schedule %s job: %w", name, err)
		}
		s.mu.Lock()
		s.entries[name] = id
		s.mu.Unlock()
		s.logger.WithFields(logrus.Fields{"job": name, "spec": job.spec}).Info("Scheduled maintenance job")
	}

	s.cron.Start()
	s.logger.Info("Cron service started")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

// RunNow runs a job immediately and returns its outcome
func (s *CronService) RunNow(name string) (JobRun, error) {
	if name != JobFixSeats && name != JobFixPayments {
		return JobRun{}, invalidf("unknown job %q", name)
	}
	s.logger.WithField("job", name).Info("[MANUAL] Running maintenance job now")
	run, ok := s.run(name)
	if !ok {
		return JobRun{}, conflictf("job %s is already running", name)
	}
	return run, nil
}

// run executes one job unless it is already running
func (s *CronService) run(name string) (JobRun, bool) {
	s.mu.Lock()
	if s.running[name] {
		s.mu.Unlock()
		s.logger.WithField("job", name).Warn("Previous run still in progress, skipping")
		return JobRun{}, false
	}
	s.running[name] = true
	s.mu.Unlock()

	ctx := WithSession(context.Background(), SystemSession)
	run := JobRun{StartedAt: time.Now()}
	logger := s.logger.WithField("job", name)

	var err error
	switch name {
	case JobFixSeats:
		run.Summary, err = s.fixSeats(ctx)
	case JobFixPayments:
		run.Summary, err = s.fixPayments(ctx)
	}
	run.Duration = time.Since(run.StartedAt)
	if err != nil {
		run.Error = err.Error()
		logger.WithError(err).Error("Maintenance job failed")
	} else {
		logger.WithFields(logrus.Fields{
			"duration": run.Duration,
			"summary":  run.Summary,
		}).Info("Maintenance job finished")
	}

	s.mu.Lock()
	s.running[name] = false
	s.lastRun[name] = run
	s.mu.Unlock()
	return run, true
}

func (s *CronService) fixSeats(ctx context.Context) (string, error) {
	result, err := s.maintenance.FixSeats(ctx)
	if err != nil {
		return "", err
	}
	if s.reports != nil && len(result.Logs) > 0 {
		if _, err := s.reports.SaveSeatReport(result); err != nil {
			s.logger.WithError(err).Warn("Failed to write seat repair report")
		}
	}
	return fmt.Sprintf("fixed=%d synced=%d conflicts=%d",
		result.FixedCount, result.SyncCount, result.ConflictCount), nil
}

func (s *CronService) fixPayments(ctx context.Context) (string, error) {
	result, err := s.maintenance.FixPayments(ctx)
	if err != nil {
		return "", err
	}
	if s.reports != nil && len(result.Logs) > 0 {
		if _, err := s.reports.SavePaymentReport(result); err != nil {
			s.logger.WithError(err).Warn("Failed to write payment repair report")
		}
	}
	return fmt.Sprintf("deleted=%d fixed=%d mismatches=%d skipped=%d",
		result.DeletedCount, result.FixedCount, result.MismatchCount, result.ConflictCount), nil
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()

	jobs := make([]map[string]interface{}, 0, len(s.entries))
	for _, name := range []string{JobFixSeats, JobFixPayments} {
		job := map[string]interface{}{
			"name":    name,
			"running": s.running[name],
		}
		if id, ok := s.entries[name]; ok {
			entry := s.cron.Entry(id)
			job["next_run"] = entry.Next
			job["prev_run"] = entry.Prev
		}
		if run, ok := s.lastRun[name]; ok {
			job["last_run"] = run
		}
		jobs = append(jobs, job)
	}

	return map[string]interface{}{
		"running":   len(s.entries) > 0,
		"job_count": len(s.entries),
		"jobs":      jobs,
	}
}
