package task

import (
	"context"
	"time"

	"apextrade-backend/pkg/config"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultInterval = time.Minute

type Scheduler struct {
	service  *Service
	interval time.Duration
	cancel   context.CancelFunc
	done     chan struct{}
}

type SchedulerParams struct {
	fx.In
	Service *Service
	Config  *config.Config `optional:"true"`
}

func NewScheduler(p SchedulerParams) *Scheduler {
	interval := defaultInterval
	if p.Config != nil && p.Config.Scheduler.RecomputeInterval > 0 {
		interval = p.Config.Scheduler.RecomputeInterval
	}
	return &Scheduler{service: p.Service, interval: interval}
}

// StartScheduler is invoked by fx and ties the loop to the app lifecycle.
func StartScheduler(lc fx.Lifecycle, s *Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())
			s.cancel = cancel
			s.done = make(chan struct{})
			go func() {
				defer close(s.done)
				s.run(ctx)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if s.cancel == nil {
				return nil
			}
			s.cancel()
			select {
			case <-s.done:
			case <-ctx.Done():
			}
			return nil
		},
	})
}

func (s *Scheduler) run(ctx context.Context) {
	zap.L().Info("[Scheduler] started recompute scheduler", zap.Duration("interval", s.interval))

	for {
		select {
		case <-time.After(s.interval):
			s.tick(ctx)
		case <-ctx.Done():
			zap.L().Warn("[Scheduler] stopped")
			return
		}
	}
}

func (s *Scheduler) tick(ctx context.Context) {
	start := time.Now()

	job, err := s.service.EnqueueRecompute(ctx)
	if err != nil {
		zap.L().Error("[Scheduler] failed to enqueue recompute", zap.Error(err))
		return
	}

	zap.L().Debug("[Scheduler] recompute enqueued",
		zap.String("job_id", job.ID),
		zap.Duration("duration", time.Since(start)),
	)
}
