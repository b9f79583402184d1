package ledgermetrics

import (
	"context"
	"time"

	"github.com/smallbiznis/pointledger/internal/clock"
	"github.com/smallbiznis/pointledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultPushInterval = 15 * time.Minute

var Module = fx.Module("ledger.metrics",
	fx.Provide(NewGauges),
	fx.Provide(NewPusher),
	fx.Provide(NewWorker),
	fx.Invoke(registerWorker),
)

// Worker rebuilds the gauges from the database and pushes them.
type Worker struct {
	db       *gorm.DB
	clock    clock.Clock
	gauges   *Gauges
	pusher   Pusher
	interval time.Duration
	log      *zap.Logger
}

type WorkerParams struct {
	fx.In

	Cfg    config.Config
	DB     *gorm.DB
	Clock  clock.Clock
	Gauges *Gauges
	Pusher Pusher     `optional:"true"`
	Log    *zap.Logger `optional:"true"`
}

// NewWorker returns nil when pushing is disabled or misconfigured.
func NewWorker(p WorkerParams) *Worker {
	if p.Pusher == nil {
		return nil
	}
	log := p.Log
	if log == nil {
		log = zap.NewNop()
	}
	interval := p.Cfg.Metrics.Interval
	if interval <= 0 {
		interval = defaultPushInterval
	}
	return &Worker{
		db:       p.DB,
		clock:    p.Clock,
		gauges:   p.Gauges,
		pusher:   p.Pusher,
		interval: interval,
		log:      log.Named("ledger.metrics"),
	}
}

// RunOnce snapshots and pushes a single time.
func (w *Worker) RunOnce(ctx context.Context) error {
	if w == nil {
		return nil
	}
	if err := w.gauges.Snapshot(ctx, w.db, w.clock.Now()); err != nil {
		return err
	}
	return w.pusher.Push(ctx, w.gauges.Registry())
}

// Run pushes immediately and then on every tick until ctx is done.
func (w *Worker) Run(ctx context.Context) {
	if w == nil {
		return
	}
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	if err := w.RunOnce(ctx); err != nil {
		w.log.Error("initial ledger metrics push failed", zap.Error(err))
	}

	for {
		select {
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.log.Error("periodic ledger metrics push failed", zap.Error(err))
			}
		case <-ctx.Done():
			w.log.Info("stopping ledger metrics worker")
			return
		}
	}
}

func registerWorker(lc fx.Lifecycle, w *Worker) {
	if w == nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			w.log.Info("starting ledger metrics worker", zap.Duration("interval", w.interval))
			go func() {
				defer close(done)
				w.Run(ctx)
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
