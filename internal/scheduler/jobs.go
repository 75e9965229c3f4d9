package scheduler

import (
	"context"
	"log/slog"
	"time"
)

// Maintenance job names.
const (
	JobReapStaleRuns  = "reap-stale-runs"
	JobSweepLimiter   = "sweep-rate-limiter"
	JobVacuumDatabase = "vacuum-database"
)

// Reaper fails runs that stopped making progress.
type Reaper interface {
	ReapStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// Sweeper drops idle rate-limit buckets.
type Sweeper interface {
	Sweep(idle time.Duration) int
}

// Vacuumer compacts the database.
type Vacuumer interface {
	Vacuum(ctx context.Context) error
}

// ReapJob fails pending or generating runs untouched for olderThan.
func ReapJob(spec string, r Reaper, olderThan time.Duration, logger *slog.Logger) Job {
	return Job{
		Name: JobReapStaleRuns,
		Spec: spec,
		Run: func(ctx context.Context) error {
			n, err := r.ReapStale(ctx, olderThan)
			if n > 0 {
				logger.Warn("reaped stale runs", slog.Int("count", n))
			}
			return err
		},
	}
}

// SweepJob drops rate-limit buckets idle for longer than idle.
func SweepJob(spec string, s Sweeper, idle time.Duration, logger *slog.Logger) Job {
	return Job{
		Name: JobSweepLimiter,
		Spec: spec,
		Run: func(context.Context) error {
			if n := s.Sweep(idle); n > 0 {
				logger.Debug("swept rate-limit buckets", slog.Int("count", n))
			}
			return nil
		},
	}
}

// VacuumJob compacts the database.
func VacuumJob(spec string, v Vacuumer) Job {
	return Job{Name: JobVacuumDatabase, Spec: spec, Run: v.Vacuum}
}
