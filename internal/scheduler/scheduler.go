package scheduler

import (
	"context"
	"log/slog"
	"time"

	"kidfun/internal/core"
	"kidfun/internal/metrics"
)

// Storage interface for retention operations. Both purges only delete
// closed records; open usage logs are never touched.
type Storage interface {
	PurgeUsageLogs(ctx context.Context, before time.Time) (int64, error)
	PurgeWarnings(ctx context.Context, before time.Time) (int64, error)
}

// RetentionPolicy says how many days of each record kind to keep.
// Zero keeps everything.
type RetentionPolicy struct {
	UsageLogDays int
	WarningDays  int
}

// SweepResult counts the rows one sweep removed
type SweepResult struct {
	UsageLogs int64
	Warnings  int64
}

// Sweeper periodically purges expired usage logs and warnings
type Sweeper struct {
	storage  Storage
	policy   RetentionPolicy
	clock    core.Clock
	interval time.Duration
	stopChan chan struct{}
	logger   *slog.Logger
}

// NewSweeper creates a new sweeper
func NewSweeper(storage Storage, policy RetentionPolicy, interval time.Duration, clock core.Clock, logger *slog.Logger) *Sweeper {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = core.RealClock{}
	}
	if interval <= 0 {
		interval = time.Hour
	}
	return &Sweeper{
		storage:  storage,
		policy:   policy,
		clock:    clock,
		interval: interval,
		stopChan: make(chan struct{}),
		logger:   logger.With("component", "retention-sweeper"),
	}
}

// Start begins the sweep loop. It blocks until Stop is called.
func (s *Sweeper) Start() {
	s.logger.Info("Retention sweeper started",
		"interval", s.interval,
		"usage_log_days", s.policy.UsageLogDays,
		"warning_days", s.policy.WarningDays)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.tick()
		case <-s.stopChan:
			s.logger.Info("Retention sweeper stopped")
			return
		}
	}
}

// Stop stops the sweeper
func (s *Sweeper) Stop() {
	close(s.stopChan)
}

// tick performs one cycle of the sweeper
func (s *Sweeper) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	result := s.Sweep(ctx)
	s.logger.Debug("Retention sweep finished",
		"usage_logs", result.UsageLogs,
		"warnings", result.Warnings)
}

// Sweep purges everything older than the policy allows. Failures are
// logged and the other table is still swept.
func (s *Sweeper) Sweep(ctx context.Context) SweepResult {
	var result SweepResult
	now := s.clock.Now()

	if s.policy.UsageLogDays > 0 {
		cutoff := now.AddDate(0, 0, -s.policy.UsageLogDays)
		n, err := s.storage.PurgeUsageLogs(ctx, cutoff)
		if err != nil {
			s.logger.Error("Failed to purge usage logs", "cutoff", cutoff, "error", err)
		} else {
			result.UsageLogs = n
			metrics.RowsPurged.WithLabelValues("usage_logs").Add(float64(n))
		}
	}

	if s.policy.WarningDays > 0 {
		cutoff := now.AddDate(0, 0, -s.policy.WarningDays)
		n, err := s.storage.PurgeWarnings(ctx, cutoff)
		if err != nil {
			s.logger.Error("Failed to purge warnings", "cutoff", cutoff, "error", err)
		} else {
			result.Warnings = n
			metrics.RowsPurged.WithLabelValues("warnings").Add(float64(n))
		}
	}

	if result.UsageLogs > 0 || result.Warnings > 0 {
		s.logger.Info("Purged expired records",
			"usage_logs", result.UsageLogs,
			"warnings", result.Warnings)
	}

	return result
}
