package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/pointledger/internal/authorization"
	"github.com/smallbiznis/pointledger/internal/clock"
	ledgerdomain "github.com/smallbiznis/pointledger/internal/ledger/domain"
	obsmetrics "github.com/smallbiznis/pointledger/internal/observability/metrics"
	"github.com/smallbiznis/pointledger/internal/ratelimit"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const (
	JobPeriodReset = "period_reset"

	sweepLockKey = "pointledger:scheduler:period_reset"
)

var ErrInvalidConfig = errors.New("invalid_scheduler_config")

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     ledgerdomain.Repository
	Locker   *ratelimit.Locker     `optional:"true"`
	AuthzSvc authorization.Service `optional:"true"`
	Config   Config                `optional:"true"`
}

type Scheduler struct {
	db       *gorm.DB
	log      *zap.Logger
	cfg      Config
	genID    *snowflake.Node
	clock    clock.Clock
	repo     ledgerdomain.Repository
	locker   *ratelimit.Locker
	authzSvc authorization.Service
}

// SweepResult counts the rows one sweep moved into the current period.
type SweepResult struct {
	BalancesReset    int `json:"balances_reset"`
	AllocationsReset int `json:"allocations_reset"`
}

func New(p Params) (*Scheduler, error) {
	if p.DB == nil || p.Log == nil || p.GenID == nil || p.Clock == nil || p.Repo == nil {
		return nil, ErrInvalidConfig
	}
	return &Scheduler{
		db:       p.DB,
		log:      p.Log.Named("scheduler").With(zap.String("component", "scheduler")),
		cfg:      p.Config.withDefaults(),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		locker:   p.Locker,
		authzSvc: p.AuthzSvc,
	}, nil
}

func (s *Scheduler) runJob(
	parent context.Context,
	name string,
	batchSize int,
	timeout time.Duration,
	fn func(ctx context.Context) error,
) error {
	start := s.clock.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	ctx, run, owner := s.ensureJobRun(ctx, name, batchSize)
	if owner {
		s.logJobStart(ctx, run)
	}
	log := s.logger(ctx).With(
		zap.String("job", name),
		zap.String("run_id", run.runID),
	)
	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.IncJobRun(name)

	err := fn(ctx)
	schedMetrics.ObserveJobDuration(name, time.Since(start))
	if owner {
		if _, errs := run.counts(); err != nil && !errors.Is(err, ratelimit.ErrLockHeld) && errs == 0 {
			run.IncError()
		}
		s.logJobFinish(ctx, run)
	}
	if err == nil {
		return nil
	}

	if errors.Is(err, ratelimit.ErrLockHeld) {
		schedMetrics.IncJobSkipped(name)
		log.Debug("job skipped, lock held by another replica")
		return nil
	}

	// A deadline is a soft timeout; the next tick picks up the remaining rows.
	isTimeout := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
	if isTimeout {
		schedMetrics.IncJobTimeout(name)
	}
	schedMetrics.IncJobError(name, err)
	if isTimeout {
		log.Warn("job timed out",
			zap.Duration("timeout", timeout),
			zap.Error(err),
		)
		return nil
	}

	return fmt.Errorf("%s: %w", name, err)
}

func (s *Scheduler) RunOnce(parent context.Context) error {
	var err error

	jobs := []struct {
		Name    string
		Enabled bool
		Run     func(context.Context) error
	}{
		{JobPeriodReset, s.isJobEnabled(JobPeriodReset), func(ctx context.Context) error {
			return s.runJob(ctx, JobPeriodReset, s.cfg.BatchSize, s.cfg.JobTimeout, s.PeriodResetJob)
		}},
	}

	for _, job := range jobs {
		if job.Enabled {
			err = errors.Join(err, job.Run(parent))
		}
	}
	return err
}

func (s *Scheduler) RunForever(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.RunInterval)
	defer ticker.Stop()
	nextRun := s.clock.Now().Add(s.cfg.RunInterval)
	schedMetrics := obsmetrics.Scheduler()

	for {
		runLag := time.Since(nextRun)
		if runLag > 0 {
			schedMetrics.ObserveRunLoopLag(runLag)
		}
		if err := s.RunOnce(ctx); err != nil {
			s.log.Warn("scheduler run failed", zap.Error(err))
		}
		nextRun = nextRun.Add(s.cfg.RunInterval)

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (s *Scheduler) isJobEnabled(jobName string) bool {
	if len(s.cfg.EnabledJobs) == 0 {
		return true
	}
	for _, enabled := range s.cfg.EnabledJobs {
		if strings.EqualFold(enabled, jobName) {
			return true
		}
	}
	return false
}

// PeriodResetJob sweeps at the scheduler clock's current time.
func (s *Scheduler) PeriodResetJob(ctx context.Context) error {
	_, err := s.Sweep(ctx, s.clock.Now())
	return err
}

// Sweep rolls every balance and allocation record whose period ended at or
// before now into the month containing now. Replicas coordinate through a
// redis lease when one is configured; row claims skip locked rows either way,
// so overlapping sweeps never roll a record twice.
func (s *Scheduler) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	ctx, run, owner := s.ensureJobRun(ctx, JobPeriodReset, s.cfg.BatchSize)
	if owner {
		s.logJobStart(ctx, run)
		defer s.logJobFinish(ctx, run)
	}
	if err := s.authorizeSystem(ctx); err != nil {
		s.logSchedulerError(ctx, run, "scheduler.authorize.failed", JobPeriodReset, err)
		return SweepResult{}, err
	}

	var result SweepResult
	err := s.locker.WithLock(ctx, sweepLockKey, s.cfg.LockTTL, func(ctx context.Context) error {
		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			n, err := s.resetBalances(gctx, now, run)
			result.BalancesReset = n
			return err
		})
		g.Go(func() error {
			n, err := s.resetAllocations(gctx, now, run)
			result.AllocationsReset = n
			return err
		})
		return g.Wait()
	})

	schedMetrics := obsmetrics.Scheduler()
	schedMetrics.AddRowsReset(JobPeriodReset, "balance_records", result.BalancesReset)
	schedMetrics.AddRowsReset(JobPeriodReset, "allocation_records", result.AllocationsReset)
	return result, err
}

func (s *Scheduler) resetBalances(ctx context.Context, now time.Time, run *jobRun) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		claimed, reset := 0, 0
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			lockStart := time.Now()
			rows, err := s.repo.ClaimExpiredBalances(ctx, tx, now, s.cfg.BatchSize)
			obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceBalanceRecords, time.Since(lockStart))
			if err != nil {
				return err
			}
			claimed = len(rows)
			for i := range rows {
				if !ledgerdomain.RollBalance(&rows[i], now) {
					continue
				}
				saved, err := s.repo.SaveBalanceRollover(ctx, tx, &rows[i], now)
				if err != nil {
					return err
				}
				if saved {
					reset++
				}
			}
			return nil
		})
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.balance.reset.failed", JobPeriodReset, err)
			return total, err
		}
		total += reset
		run.AddProcessed(reset)
		if claimed < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *Scheduler) resetAllocations(ctx context.Context, now time.Time, run *jobRun) (int, error) {
	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, err
		}

		claimed, reset := 0, 0
		err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			lockStart := time.Now()
			rows, err := s.repo.ClaimExpiredAllocations(ctx, tx, now, s.cfg.BatchSize)
			obsmetrics.Scheduler().ObserveDBLockWait(obsmetrics.LockResourceAllocationRecords, time.Since(lockStart))
			if err != nil {
				return err
			}
			claimed = len(rows)
			for i := range rows {
				if !ledgerdomain.RollAllocation(&rows[i], now) {
					continue
				}
				saved, err := s.repo.SaveAllocationRollover(ctx, tx, &rows[i], now)
				if err != nil {
					return err
				}
				if saved {
					reset++
				}
			}
			return nil
		})
		if err != nil {
			s.logSchedulerError(ctx, run, "scheduler.allocation.reset.failed", JobPeriodReset, err)
			return total, err
		}
		total += reset
		run.AddProcessed(reset)
		if claimed < s.cfg.BatchSize {
			return total, nil
		}
	}
}

func (s *Scheduler) authorizeSystem(ctx context.Context) error {
	if s.authzSvc == nil {
		return nil
	}
	return s.authzSvc.Authorize(ctx, authorization.SystemActor(), authorization.ObjectSweep, authorization.ActionSweepRun)
}
