package task

import (
	"context"
	"encoding/json"
	"fmt"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"
	pkgtask "apextrade-backend/pkg/task"
	"apextrade-backend/pkg/taskname"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/system"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Recomputer interface {
	RecomputeAll(ctx context.Context) (ledger.RecomputeResult, error)
}

type SettingsReader interface {
	Get(ctx context.Context) (*system.Settings, error)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock

	queue    pkgtask.Enqueuer
	ledger   Recomputer
	settings SettingsReader

	jobs repository.Repository[Job]
}

type Params struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	Queue    pkgtask.Enqueuer
	Ledger   Recomputer
	Settings SettingsReader
}

func NewService(p Params) *Service {
	return &Service{
		db:    p.DB,
		node:  p.Node,
		clock: p.Clock,

		queue:    p.Queue,
		ledger:   p.Ledger,
		settings: p.Settings,

		jobs: repository.ProvideStore[Job](p.DB),
	}
}

// EnqueueRecompute creates a pending job record and sends it to the queue.
func (s *Service) EnqueueRecompute(ctx context.Context) (*Job, error) {
	now := s.clock.Now()
	job := &Job{
		ID:        gen.ID(s.node, "job"),
		Type:      taskname.InvestmentRecompute,
		Status:    JobPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, err
	}

	payload, _ := json.Marshal(recomputePayload{JobID: job.ID})
	t := asynq.NewTask(taskname.InvestmentRecompute, payload)

	// one recompute in flight per interval is enough
	if _, err := s.queue.Enqueue(ctx, t, asynq.Queue(taskname.QueueDefault), asynq.MaxRetry(1)); err != nil {
		s.finish(ctx, job.ID, JobFailed, err.Error(), nil)
		return nil, err
	}

	zap.L().Info("enqueued recompute job", zap.String("job_id", job.ID))
	return job, nil
}

// HandleRecomputeTask is the asynq handler for investment:recompute.
func (s *Service) HandleRecomputeTask(ctx context.Context, t *asynq.Task) error {
	var payload recomputePayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid recompute payload", zap.Error(err))
		return fmt.Errorf("invalid recompute payload: %v: %w", err, asynq.SkipRetry)
	}
	return s.RunRecompute(ctx, payload.JobID)
}

// RunRecompute completes finished investments unless the engine is stopped.
func (s *Service) RunRecompute(ctx context.Context, jobID string) error {
	log := logger.FromContext(ctx).With(zap.String("job_id", jobID))

	settings, err := s.settings.Get(ctx)
	if err != nil {
		s.finish(ctx, jobID, JobFailed, err.Error(), nil)
		return err
	}
	if !settings.EngineRunning {
		log.Info("engine stopped, skipping recompute")
		s.finish(ctx, jobID, JobSkipped, "", nil)
		return nil
	}

	now := s.clock.Now()
	if err := s.jobs.Update(ctx, jobID, map[string]any{"status": JobRunning, "started_at": now, "updated_at": now}); err != nil {
		log.Warn("failed to mark job running", zap.Error(err))
	}

	res, err := s.ledger.RecomputeAll(ctx)
	if err != nil {
		log.Error("recompute failed", zap.Error(err))
		s.finish(ctx, jobID, JobFailed, err.Error(), nil)
		return err
	}

	s.finish(ctx, jobID, JobSuccess, "", res)
	log.Info("recompute finished", zap.Int("scanned", res.Scanned), zap.Int("completed", res.Completed))
	return nil
}

func (s *Service) finish(ctx context.Context, jobID string, status JobStatus, msg string, metadata any) {
	if jobID == "" {
		return
	}

	now := s.clock.Now()
	updates := map[string]any{
		"status":       status,
		"error_msg":    msg,
		"completed_at": now,
		"updated_at":   now,
	}
	if metadata != nil {
		if raw, err := json.Marshal(metadata); err == nil {
			updates["metadata"] = datatypes.JSON(raw)
		}
	}

	if err := s.jobs.Update(ctx, jobID, updates); err != nil {
		zap.L().Warn("failed to finalize job", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Service) GetJob(ctx context.Context, id string) (*Job, error) {
	return s.jobs.FindOne(ctx, &Job{ID: id})
}
