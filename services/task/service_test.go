package task

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"apextrade-backend/pkg/taskname"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/system"
	"apextrade-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type enqueuerStub struct {
	mu    sync.Mutex
	tasks []*asynq.Task
	err   error
}

func (e *enqueuerStub) Enqueue(_ context.Context, t *asynq.Task, _ ...asynq.Option) (*asynq.TaskInfo, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.tasks = append(e.tasks, t)
	return &asynq.TaskInfo{Type: t.Type()}, nil
}

type recomputerStub struct {
	calls int
	res   ledger.RecomputeResult
	err   error
}

func (r *recomputerStub) RecomputeAll(context.Context) (ledger.RecomputeResult, error) {
	r.calls++
	return r.res, r.err
}

type settingsStub struct {
	running bool
}

func (s settingsStub) Get(context.Context) (*system.Settings, error) {
	return &system.Settings{ID: "system", EngineRunning: s.running}, nil
}

func newTestService(t *testing.T, q *enqueuerStub, r *recomputerStub, running bool) *Service {
	t.Helper()
	db := testutil.NewTestDB(t, &Job{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(Params{
		DB: db, Node: node, Clock: testutil.NewClock(),
		Queue: q, Ledger: r, Settings: settingsStub{running: running},
	})
}

func TestEnqueueAndRunRecompute(t *testing.T) {
	q := &enqueuerStub{}
	r := &recomputerStub{res: ledger.RecomputeResult{Scanned: 3, Completed: 2}}
	svc := newTestService(t, q, r, true)
	ctx := context.Background()

	job, err := svc.EnqueueRecompute(ctx)
	require.NoError(t, err)
	require.Equal(t, JobPending, job.Status)
	require.Len(t, q.tasks, 1)
	require.Equal(t, taskname.InvestmentRecompute, q.tasks[0].Type())

	var payload recomputePayload
	require.NoError(t, json.Unmarshal(q.tasks[0].Payload(), &payload))
	require.Equal(t, job.ID, payload.JobID)

	require.NoError(t, svc.HandleRecomputeTask(ctx, q.tasks[0]))
	require.Equal(t, 1, r.calls)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobSuccess, got.Status)
	require.NotNil(t, got.CompletedAt)
	require.JSONEq(t, `{"scanned":3,"completed":2}`, string(got.Metadata))
}

func TestRunRecomputeSkipsWhenEngineStopped(t *testing.T) {
	q := &enqueuerStub{}
	r := &recomputerStub{}
	svc := newTestService(t, q, r, false)
	ctx := context.Background()

	job, err := svc.EnqueueRecompute(ctx)
	require.NoError(t, err)
	require.NoError(t, svc.RunRecompute(ctx, job.ID))
	require.Zero(t, r.calls)

	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobSkipped, got.Status)
}

func TestEnqueueRecomputeFailure(t *testing.T) {
	ctx := context.Background()

	q := &enqueuerStub{err: errors.New("redis down")}
	svc := newTestService(t, q, &recomputerStub{}, true)
	_, err := svc.EnqueueRecompute(ctx)
	require.Error(t, err)

	var jobs []Job
	require.NoError(t, svc.db.Find(&jobs).Error)
	require.Len(t, jobs, 1)
	require.Equal(t, JobFailed, jobs[0].Status)
	require.Contains(t, jobs[0].ErrorMsg, "redis down")
}

func TestRecomputeRunFailure(t *testing.T) {
	ctx := context.Background()
	r := &recomputerStub{err: errors.New("boom")}
	svc := newTestService(t, &enqueuerStub{}, r, true)
	job, err := svc.EnqueueRecompute(ctx)
	require.NoError(t, err)
	require.Error(t, svc.RunRecompute(ctx, job.ID))
	got, err := svc.GetJob(ctx, job.ID)
	require.NoError(t, err)
	require.Equal(t, JobFailed, got.Status)

	err = svc.HandleRecomputeTask(ctx, asynq.NewTask(taskname.InvestmentRecompute, []byte("{")))
	require.ErrorIs(t, err, asynq.SkipRetry)
}

func TestSchedulerTicksUntilCancelled(t *testing.T) {
	q := &enqueuerStub{}
	svc := newTestService(t, q, &recomputerStub{}, true)
	s := &Scheduler{service: svc, interval: 10 * time.Millisecond}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		s.run(ctx)
	}()

	require.Eventually(t, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()
		return len(q.tasks) >= 2
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done
}
