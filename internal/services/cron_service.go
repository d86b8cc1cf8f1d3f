package services

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// CronConfig holds sweep schedules
type CronConfig struct {
	ReservationSweepInterval time.Duration
	PaymentSweepInterval     time.Duration
	ReconcileSchedule        string // six-field cron spec, empty disables
	JobTimeout               time.Duration
}

// CronService manages scheduled background jobs
type CronService struct {
	cron       *cron.Cron
	expiration *ExpirationService
	inventory  *SeatInventoryService
	config     CronConfig
	logger     *logrus.Logger
}

// NewCronService creates a new CronService
func NewCronService(expiration *ExpirationService, inventory *SeatInventoryService, config CronConfig, logger *logrus.Logger) *CronService {
	if config.JobTimeout <= 0 {
		config.JobTimeout = time.Minute
	}
	cronLogger := cron.PrintfLogger(logger)
	c := cron.New(
		cron.WithSeconds(),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &CronService{
		cron:       c,
		expiration: expiration,
		inventory:  inventory,
		config:     config,
		logger:     logger,
	}
}

// Start schedules and starts all jobs
func (s *CronService) Start() error {
	s.logger.Info("Starting cron service...")

	if _, err := s.cron.AddFunc(every(s.config.ReservationSweepInterval), s.reservationSweepJob); err != nil {
		return fmt.Errorf("failed to schedule reservation sweep: %w", err)
	}
	s.logger.WithField("interval", s.config.ReservationSweepInterval.String()).Info("Scheduled: reservation expiry sweep")

	if _, err := s.cron.AddFunc(every(s.config.PaymentSweepInterval), s.paymentSweepJob); err != nil {
		return fmt.Errorf("failed to schedule payment timeout sweep: %w", err)
	}
	s.logger.WithField("interval", s.config.PaymentSweepInterval.String()).Info("Scheduled: payment timeout sweep")

	// "0 30 3 * * *" = At 3:30 AM every day
	if s.config.ReconcileSchedule != "" {
		if _, err := s.cron.AddFunc(s.config.ReconcileSchedule, s.reconcileJob); err != nil {
			return fmt.Errorf("failed to schedule inventory reconcile: %w", err)
		}
		s.logger.WithField("schedule", s.config.ReconcileSchedule).Info("Scheduled: inventory reconcile")
	}

	s.cron.Start()
	s.logger.Info("Cron service started successfully")
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *CronService) Stop() {
	s.logger.Info("Stopping cron service...")
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("Cron service stopped")
}

func (s *CronService) reservationSweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	if _, err := s.expiration.ExpireReservations(ctx); err != nil {
		s.logger.WithError(err).Error("[CRON] Reservation sweep failed")
	}
}

func (s *CronService) paymentSweepJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	if _, err := s.expiration.TimeOutPayments(ctx); err != nil {
		s.logger.WithError(err).Error("[CRON] Payment timeout sweep failed")
	}
}

func (s *CronService) reconcileJob() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.JobTimeout)
	defer cancel()

	startTime := time.Now()
	corrected, err := s.inventory.Reconcile(ctx)
	if err != nil {
		s.logger.WithError(err).Error("[CRON] Inventory reconcile failed")
		return
	}
	s.logger.WithFields(logrus.Fields{
		"corrected": corrected,
		"duration":  time.Since(startTime).String(),
	}).Info("[CRON] Inventory reconciled")
}

// GetJobStatus returns the status of scheduled jobs
func (s *CronService) GetJobStatus() map[string]interface{} {
	entries := s.cron.Entries()

	jobs := make([]map[string]interface{}, 0, len(entries))
	for _, entry := range entries {
		jobs = append(jobs, map[string]interface{}{
			"id":       entry.ID,
			"next_run": entry.Next,
			"prev_run": entry.Prev,
		})
	}

	return map[string]interface{}{
		"running":   len(entries) > 0,
		"job_count": len(entries),
		"jobs":      jobs,
	}
}

func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}
