package ledger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/repository"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"
	"apextrade-backend/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type repoMock[T any] struct {
	withTrxFn     func(tx *gorm.DB) repository.Repository[T]
	findFn        func(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error)
	findOneFn     func(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error)
	createFn      func(ctx context.Context, resource *T) error
	updateFn      func(ctx context.Context, resourceID string, resource any) error
	batchCreateFn func(ctx context.Context, resources []*T) error
	batchUpdateFn func(ctx context.Context, resources []*T) error
	countFn       func(ctx context.Context, query *T) (int64, error)
}

func (m *repoMock[T]) WithTrx(tx *gorm.DB) repository.Repository[T] {
	if m.withTrxFn != nil {
		return m.withTrxFn(tx)
	}
	return m
}

func (m *repoMock[T]) Find(ctx context.Context, query *T, opts ...option.QueryOption) ([]*T, error) {
	if m.findFn != nil {
		return m.findFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) FindOne(ctx context.Context, query *T, opts ...option.QueryOption) (*T, error) {
	if m.findOneFn != nil {
		return m.findOneFn(ctx, query, opts...)
	}
	return nil, nil
}

func (m *repoMock[T]) Create(ctx context.Context, resource *T) error {
	if m.createFn != nil {
		return m.createFn(ctx, resource)
	}
	return nil
}

func (m *repoMock[T]) Update(ctx context.Context, resourceID string, resource any) error {
	if m.updateFn != nil {
		return m.updateFn(ctx, resourceID, resource)
	}
	return nil
}

func (m *repoMock[T]) BatchCreate(ctx context.Context, resources []*T) error {
	if m.batchCreateFn != nil {
		return m.batchCreateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) BatchUpdate(ctx context.Context, resources []*T) error {
	if m.batchUpdateFn != nil {
		return m.batchUpdateFn(ctx, resources)
	}
	return nil
}

func (m *repoMock[T]) Count(ctx context.Context, query *T) (int64, error) {
	if m.countFn != nil {
		return m.countFn(ctx, query)
	}
	return 0, nil
}

type recorderStub struct {
	mu    sync.Mutex
	types []string
}

func (r *recorderStub) Record(_ context.Context, _, eventType string, _ map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, eventType)
}

func (r *recorderStub) count(eventType string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, t := range r.types {
		if t == eventType {
			n++
		}
	}
	return n
}

type fixture struct {
	svc   *Service
	otp   *otp.Service
	clock *clock.Fake
	rec   *recorderStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t, &Investment{}, &otp.OneTimeCode{}, &system.Settings{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.OTP.BcryptCost = bcrypt.MinCost
	cfg.Ledger.DefaultRate = 0.4

	clk := testutil.NewClock()
	rec := &recorderStub{}
	otpSvc := otp.NewService(otp.ServiceParams{DB: db, Node: node, Clock: clk, Config: cfg})
	settings := system.NewService(system.ServiceParams{DB: db, Clock: clk, Audit: rec, Config: cfg})

	svc := NewService(ServiceParams{
		DB: db, Node: node, Clock: clk,
		OTP: otpSvc, Settings: settings, Audit: rec, Config: cfg,
	})
	return &fixture{svc: svc, otp: otpSvc, clock: clk, rec: rec}
}

func (f *fixture) running(t *testing.T, principal int64, duration string) *Investment {
	t.Helper()
	ctx := context.Background()

	inv, err := f.svc.CreateIntent(ctx, CreateIntentRequest{UserID: "usr_1", PackageRef: "starter", Principal: decimal.NewFromInt(principal), Duration: duration})
	require.NoError(t, err)

	_, code, err := f.svc.Confirm(ctx, inv.ID)
	require.NoError(t, err)

	inv, err = f.svc.Activate(ctx, inv.ID, code)
	require.NoError(t, err)
	return inv
}

func TestNewService(t *testing.T) {
	f := newFixture(t)
	require.NotNil(t, f.svc.investments)
	require.Equal(t, defaultRecomputeConcurrency, f.svc.concurrency)
}

func TestComputeStateScenarioA(t *testing.T) {
	start := testutil.Epoch
	inv := &Investment{
		Principal: decimal.NewFromInt(10000),
		Rate:      decimal.RequireFromString("0.4"),
		Duration:  Duration4h,
		Status:    StatusRunning,
		StartAt:   &start,
	}

	st := ComputeState(inv, start.Add(2*time.Hour))
	require.Equal(t, int64(50), st.ProgressPct)
	require.True(t, st.Accrued.Equal(decimal.NewFromInt(2000)), st.Accrued.String())
	require.True(t, st.Fees.IsZero())
	require.True(t, st.Net.Equal(decimal.NewFromInt(12000)), st.Net.String())
}

func TestComputeStateMonotonicAndPinned(t *testing.T) {
	start := testutil.Epoch
	inv := &Investment{
		Principal: decimal.NewFromInt(2500),
		Rate:      decimal.RequireFromString("0.4"),
		Duration:  Duration8h,
		Status:    StatusRunning,
		StartAt:   &start,
	}

	prev := decimal.NewFromInt(-1)
	for step := time.Duration(-30) * time.Minute; step <= 10*time.Hour; step += 7 * time.Minute {
		st := ComputeState(inv, start.Add(step))
		require.True(t, st.Progress.GreaterThanOrEqual(prev))
		require.True(t, st.Progress.GreaterThanOrEqual(decimal.Zero))
		require.True(t, st.Progress.LessThanOrEqual(decimal.NewFromInt(1)))
		if step >= 8*time.Hour {
			require.True(t, st.Progress.Equal(decimal.NewFromInt(1)))
			require.True(t, st.Done())
		}
		prev = st.Progress
	}
}

func TestComputeStateFeesAndNoStart(t *testing.T) {
	inv := &Investment{
		Principal:  decimal.NewFromInt(1000),
		Rate:       decimal.RequireFromString("0.4"),
		Duration:   Duration1d,
		Status:     StatusPending,
		FeePercent: decimal.NewFromInt(5),
		FeeFixed:   decimal.NewFromInt(20),
	}

	st := ComputeState(inv, testutil.Epoch)
	require.True(t, st.Progress.IsZero())
	require.True(t, st.Fees.Equal(decimal.NewFromInt(70)))
	require.True(t, st.Net.Equal(decimal.NewFromInt(930)))
}

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from Status
		ev   Event
		to   Status
		ok   bool
	}{
		{StatusPending, EventConfirm, StatusConfirmed, true},
		{StatusConfirmed, EventActivate, StatusRunning, true},
		{StatusRunning, EventPause, StatusOnHold, true},
		{StatusActive, EventPause, StatusOnHold, true},
		{StatusOnHold, EventResume, StatusRunning, true},
		{StatusOnHold, EventCancel, StatusCancelled, true},
		{StatusRunning, EventComplete, StatusCompleted, true},
		{StatusCompleted, EventCancel, StatusCompleted, false},
		{StatusCancelled, EventResume, StatusCancelled, false},
		{StatusRunning, EventActivate, StatusRunning, false},
		{StatusPending, EventPause, StatusPending, false},
	}
	for _, c := range cases {
		to, ok := Transition(c.from, c.ev)
		require.Equal(t, c.ok, ok, "%s --%s-->", c.from, c.ev)
		require.Equal(t, c.to, to, "%s --%s-->", c.from, c.ev)
	}
}

func TestCreateIntentValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.CreateIntent(ctx, CreateIntentRequest{Principal: decimal.Zero, Duration: "4h"})
	require.True(t, errors.Is(err, errutil.ErrValidation))

	_, err = f.svc.CreateIntent(ctx, CreateIntentRequest{Principal: decimal.NewFromInt(100), Duration: "2h"})
	require.True(t, errors.Is(err, errutil.ErrValidation))
}

func TestCreateIntentSnapshotsRate(t *testing.T) {
	f := newFixture(t)

	inv, err := f.svc.CreateIntent(context.Background(), CreateIntentRequest{Principal: decimal.NewFromInt(500), Duration: "1d", PackageRef: "silver"})
	require.NoError(t, err)
	require.Equal(t, StatusPending, inv.Status)
	require.Nil(t, inv.UserID)
	require.Nil(t, inv.StartAt)
	require.True(t, inv.Rate.Equal(decimal.RequireFromString("0.4")))
	require.Equal(t, 1, f.rec.count("investment.created"))
}

func TestCreateIntentStorageError(t *testing.T) {
	f := newFixture(t)
	f.svc.investments = &repoMock[Investment]{
		createFn: func(ctx context.Context, resource *Investment) error {
			return errors.New("disk full")
		},
	}

	_, err := f.svc.CreateIntent(context.Background(), CreateIntentRequest{Principal: decimal.NewFromInt(100), Duration: "4h"})
	require.True(t, errors.Is(err, errutil.ErrStorage))
}

func TestGetNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Get(context.Background(), "inv_missing")
	require.True(t, errors.Is(err, errutil.ErrNotFound))
}

func TestActivateScenarioB(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateIntent(ctx, CreateIntentRequest{UserID: "usr_1", Principal: decimal.NewFromInt(1000), Duration: "4h"})
	require.NoError(t, err)

	confirmed, code, err := f.svc.Confirm(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusConfirmed, confirmed.Status)
	require.Len(t, code, 6)

	wrong := "123456"
	if code == wrong {
		wrong = "654321"
	}
	_, err = f.svc.Activate(ctx, inv.ID, wrong)
	require.True(t, errors.Is(err, errutil.ErrInvalidCode))

	f.clock.Advance(16 * time.Minute)
	_, err = f.svc.Activate(ctx, inv.ID, code)
	require.True(t, errors.Is(err, errutil.ErrOtpExpired))

	f.clock.Set(testutil.Epoch.Add(10 * time.Minute))
	activated, err := f.svc.Activate(ctx, inv.ID, code)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, activated.Status)
	require.NotNil(t, activated.StartAt)
	require.True(t, activated.StartAt.Equal(testutil.Epoch.Add(10*time.Minute)))

	_, err = f.svc.Activate(ctx, inv.ID, code)
	require.True(t, errors.Is(err, errutil.ErrInvalidState))
}

func TestActivateErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.svc.Activate(ctx, "inv_missing", "123456")
	require.True(t, errors.Is(err, errutil.ErrNotFound))

	inv, err := f.svc.CreateIntent(ctx, CreateIntentRequest{Principal: decimal.NewFromInt(1000), Duration: "4h"})
	require.NoError(t, err)

	_, err = f.svc.Activate(ctx, inv.ID, "123456")
	require.True(t, errors.Is(err, errutil.ErrOtpNotFound))
}

func TestBalanceCompletesOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.running(t, 10000, "4h")

	f.clock.Advance(2 * time.Hour)
	_, st, err := f.svc.Balance(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, int64(50), st.ProgressPct)

	f.clock.Advance(3 * time.Hour)
	got, st, err := f.svc.Balance(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
	require.Equal(t, 100, got.ProgressPinned)
	require.Equal(t, int64(100), st.ProgressPct)
	require.True(t, st.Net.Equal(decimal.NewFromInt(14000)), st.Net.String())

	_, _, err = f.svc.Balance(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, 1, f.rec.count("investment.completed"))
}

func TestRecomputeAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	short := f.running(t, 1000, "4h")
	long := f.running(t, 1000, "7d")

	f.clock.Advance(5 * time.Hour)
	res, err := f.svc.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Scanned)
	require.Equal(t, 1, res.Completed)

	got, err := f.svc.Get(ctx, short.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)

	got, err = f.svc.Get(ctx, long.ID)
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)

	res, err = f.svc.RecomputeAll(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, res.Completed)
	require.Equal(t, 1, f.rec.count("investment.completed"))
}

func TestAdminAdjust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateIntent(ctx, CreateIntentRequest{Principal: decimal.NewFromInt(1000), Duration: "4h"})
	require.NoError(t, err)

	pct := decimal.NewFromInt(5)
	fixed := decimal.NewFromInt(25)
	got, err := f.svc.AdminAdjust(ctx, inv.ID, Adjustment{FeePercent: &pct, FeeFixed: &fixed})
	require.NoError(t, err)
	require.True(t, got.FeePercent.Equal(pct))
	require.True(t, got.FeeFixed.Equal(fixed))
	require.True(t, got.Principal.Equal(decimal.NewFromInt(1000)))
	require.Equal(t, 1, f.rec.count("investment.adjusted"))

	neg := decimal.NewFromInt(-1)
	_, err = f.svc.AdminAdjust(ctx, inv.ID, Adjustment{Principal: &neg})
	require.True(t, errors.Is(err, errutil.ErrValidation))

	_, err = f.svc.AdminAdjust(ctx, "inv_missing", Adjustment{FeeFixed: &fixed})
	require.True(t, errors.Is(err, errutil.ErrNotFound))
}

func TestSetStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.running(t, 1000, "1d")

	got, err := f.svc.SetStatus(ctx, inv.ID, "pause")
	require.NoError(t, err)
	require.Equal(t, StatusOnHold, got.Status)

	_, err = f.svc.SetStatus(ctx, inv.ID, "pause")
	require.True(t, errors.Is(err, errutil.ErrInvalidState))

	got, err = f.svc.SetStatus(ctx, inv.ID, "resume")
	require.NoError(t, err)
	require.Equal(t, StatusRunning, got.Status)

	_, err = f.svc.SetStatus(ctx, inv.ID, "explode")
	require.True(t, errors.Is(err, errutil.ErrValidation))

	got, err = f.svc.SetStatus(ctx, inv.ID, "cancel")
	require.NoError(t, err)
	require.Equal(t, StatusCancelled, got.Status)
}

func TestSetStatusScenarioD(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv := f.running(t, 1000, "4h")
	f.clock.Advance(4 * time.Hour)
	_, _, err := f.svc.Balance(ctx, inv.ID)
	require.NoError(t, err)

	_, err = f.svc.SetStatus(ctx, inv.ID, "cancel")
	require.True(t, errors.Is(err, errutil.ErrInvalidState))

	got, err := f.svc.Get(ctx, inv.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, got.Status)
}

func TestAssignOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inv, err := f.svc.CreateIntent(ctx, CreateIntentRequest{Principal: decimal.NewFromInt(1000), Duration: "4h"})
	require.NoError(t, err)

	got, err := f.svc.AssignOwner(ctx, inv.ID, "usr_9")
	require.NoError(t, err)
	require.Equal(t, "usr_9", got.Owner())

	_, err = f.svc.AssignOwner(ctx, inv.ID, "usr_9")
	require.NoError(t, err)

	_, err = f.svc.AssignOwner(ctx, inv.ID, "usr_10")
	require.True(t, errors.Is(err, errutil.ErrInvalidState))

	list, err := f.svc.List(ctx, ListFilter{UserID: "usr_9"})
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestRecomputeCompletionReachesOtherProcessHub(t *testing.T) {
	db := testutil.NewTestDB(t, &Investment{}, &otp.OneTimeCode{}, &system.Settings{}, &audit.AuditEvent{})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.OTP.BcryptCost = bcrypt.MinCost
	cfg.Ledger.DefaultRate = 0.4
	clk := testutil.NewClock()
	relay := testutil.NewRelay()

	// api side: only the hub and its bridge listener
	apiHub := audit.NewHub()
	apiBridge := audit.NewBridge("api", relay, apiHub)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = apiBridge.Run(ctx) }()
	require.Eventually(t, func() bool { return relay.Listeners() == 1 }, time.Second, 10*time.Millisecond)

	// worker side: the ledger that runs the scheduled recompute
	workerHub := audit.NewHub()
	workerAudit := audit.NewService(audit.ServiceParams{
		DB: db, Node: node, Clock: clk, Hub: workerHub,
		Bridge: audit.NewBridge("worker", relay, workerHub),
	})
	otpSvc := otp.NewService(otp.ServiceParams{DB: db, Node: node, Clock: clk, Config: cfg})
	settings := system.NewService(system.ServiceParams{DB: db, Clock: clk, Audit: workerAudit, Config: cfg})
	worker := NewService(ServiceParams{
		DB: db, Node: node, Clock: clk,
		OTP: otpSvc, Settings: settings, Audit: workerAudit, Config: cfg,
	})

	inv, err := worker.CreateIntent(context.Background(), CreateIntentRequest{UserID: "usr_1", Principal: decimal.NewFromInt(1000), Duration: "4h"})
	require.NoError(t, err)
	_, code, err := worker.Confirm(context.Background(), inv.ID)
	require.NoError(t, err)
	_, err = worker.Activate(context.Background(), inv.ID, code)
	require.NoError(t, err)

	sub := apiHub.Subscribe()
	defer apiHub.Unsubscribe(sub)

	clk.Advance(5 * time.Hour)
	res, err := worker.RecomputeAll(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, res.Completed)

	select {
	case ev := <-sub.C:
		require.Equal(t, audit.InvestmentCompleted, ev.Type)
		require.Equal(t, inv.ID, ev.String("investment_id"))
	case <-time.After(time.Second):
		t.Fatal("completion recorded by the worker did not reach the api hub")
	}
}
