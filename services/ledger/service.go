package ledger

import (
	"context"
	"errors"
	"sync/atomic"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const defaultRecomputeConcurrency = 8

type OTPIssuer interface {
	Issue(ctx context.Context, req otp.IssueRequest) (string, error)
	Redeem(ctx context.Context, subjectID, code string) error
}

type SettingsReader interface {
	Get(ctx context.Context) (*system.Settings, error)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock

	otp      OTPIssuer
	settings SettingsReader
	audit    audit.Recorder

	feePercent  decimal.Decimal
	feeFixed    decimal.Decimal
	concurrency int

	investments repository.Repository[Investment]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Clock    clock.Clock
	OTP      OTPIssuer
	Settings SettingsReader
	Audit    audit.Recorder
	Config   *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:          p.DB,
		node:        p.Node,
		clock:       p.Clock,
		otp:         p.OTP,
		settings:    p.Settings,
		audit:       p.Audit,
		feePercent:  decimal.Zero,
		feeFixed:    decimal.Zero,
		concurrency: defaultRecomputeConcurrency,

		investments: repository.ProvideStore[Investment](p.DB),
	}
	if p.Config != nil {
		s.feePercent = decimal.NewFromFloat(p.Config.Ledger.FeePercent)
		s.feeFixed = decimal.NewFromFloat(p.Config.Ledger.FeeFixed)
		if p.Config.Scheduler.Concurrency > 0 {
			s.concurrency = p.Config.Scheduler.Concurrency
		}
	}
	return s
}

func (s *Service) CreateIntent(ctx context.Context, req CreateIntentRequest) (*Investment, error) {
	log := logger.FromContext(ctx)

	if !req.Principal.IsPositive() {
		return nil, errutil.ValidationFailed("invalid principal", nil, errutil.Field("principal", "must be greater than 0"))
	}
	duration, ok := ParseDuration(req.Duration)
	if !ok {
		return nil, errutil.ValidationFailed("invalid duration", nil, errutil.Field("duration", "must be one of 4h, 8h, 1d, 7d, 1m"))
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	inv := &Investment{
		ID:         gen.ID(s.node, "inv"),
		PackageRef: req.PackageRef,
		Principal:  req.Principal,
		Status:     StatusPending,
		Duration:   duration,
		Rate:       settings.DefaultRate,
		FeePercent: s.feePercent,
		FeeFixed:   s.feeFixed,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if req.UserID != "" {
		userID := req.UserID
		inv.UserID = &userID
	}

	if err := s.investments.Create(ctx, inv); err != nil {
		log.Error("failed to create investment", zap.Error(err))
		return nil, errutil.Storage("failed to create investment", err)
	}

	s.audit.Record(ctx, audit.ActorClient, audit.InvestmentCreated, map[string]any{
		"investment_id": inv.ID,
		"user_id":       inv.Owner(),
		"principal":     inv.Principal.String(),
		"duration":      string(inv.Duration),
	})
	return inv, nil
}

func (s *Service) Get(ctx context.Context, id string) (*Investment, error) {
	inv, err := s.investments.FindOne(ctx, &Investment{ID: id})
	if err != nil {
		logger.FromContext(ctx).Error("failed to load investment", zap.String("investment_id", id), zap.Error(err))
		return nil, errutil.Storage("failed to load investment", err)
	}
	if inv == nil {
		return nil, errutil.NotFound("investment not found", nil)
	}
	return inv, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Investment, error) {
	query := &Investment{Status: f.Status}
	if f.UserID != "" {
		query.UserID = &f.UserID
	}

	out, err := s.investments.Find(ctx, query,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(f.Limit),
	)
	if err != nil {
		return nil, errutil.Storage("failed to list investments", err)
	}
	return out, nil
}

// transition applies ev with a conditional update so concurrent writers
// cannot both move the same row.
func (s *Service) transition(ctx context.Context, inv *Investment, ev Event, extra map[string]any) (Status, error) {
	to, ok := Transition(inv.Status, ev)
	if !ok {
		return inv.Status, errutil.InvalidState("investment is "+string(inv.Status), nil)
	}

	updates := map[string]any{"status": to, "updated_at": s.clock.Now()}
	for k, v := range extra {
		updates[k] = v
	}

	res := s.db.WithContext(ctx).Model(&Investment{}).
		Where("id = ? AND status IN ?", inv.ID, sourcesOf(ev)).
		Updates(updates)
	if res.Error != nil {
		return inv.Status, errutil.Storage("failed to update investment", res.Error)
	}
	if res.RowsAffected == 0 {
		return inv.Status, errutil.InvalidState("investment changed concurrently", nil)
	}
	return to, nil
}

// Confirm moves the intent to confirmed and issues its activation code.
// The plaintext code is returned once.
func (s *Service) Confirm(ctx context.Context, id string) (*Investment, string, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	if _, err := s.transition(ctx, inv, EventConfirm, nil); err != nil {
		return nil, "", err
	}

	code, err := s.otp.Issue(ctx, otp.IssueRequest{
		Purpose:   otp.PurposeInvestment,
		SubjectID: inv.ID,
		OwnerID:   inv.Owner(),
	})
	if err != nil {
		return nil, "", err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.InvestmentConfirmed, map[string]any{
		"investment_id": inv.ID,
		"user_id":       inv.Owner(),
	})

	inv, err = s.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}
	return inv, code, nil
}

// Activate redeems the activation code and starts accrual.
func (s *Service) Activate(ctx context.Context, id, code string) (*Investment, error) {
	log := logger.FromContext(ctx).With(zap.String("investment_id", id))

	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, ok := Transition(inv.Status, EventActivate); !ok {
		return nil, errutil.InvalidState("investment is "+string(inv.Status), nil)
	}

	if err := s.otp.Redeem(ctx, inv.ID, code); err != nil {
		log.Info("activation code rejected", zap.Error(err))
		return nil, err
	}

	now := s.clock.Now()
	if _, err := s.transition(ctx, inv, EventActivate, map[string]any{"start_at": now}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorClient, audit.InvestmentActivated, map[string]any{
		"investment_id": inv.ID,
		"user_id":       inv.Owner(),
		"start_at":      now,
	})
	return s.Get(ctx, id)
}

// complete pins an accruing investment at 100%. Only the caller that flips
// the row records the event; repeated calls are no-ops.
func (s *Service) complete(ctx context.Context, inv *Investment) (bool, error) {
	now := s.clock.Now()
	_, err := s.transition(ctx, inv, EventComplete, map[string]any{
		"progress_pinned": 100,
		"completed_at":    now,
	})
	if err != nil {
		if errors.Is(err, errutil.ErrInvalidState) {
			return false, nil
		}
		return false, err
	}

	s.audit.Record(ctx, audit.ActorSystem, audit.InvestmentCompleted, map[string]any{
		"investment_id": inv.ID,
		"user_id":       inv.Owner(),
	})
	return true, nil
}

// Balance computes the state at the current time and completes the
// investment when accrual has finished.
func (s *Service) Balance(ctx context.Context, id string) (*Investment, State, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, State{}, err
	}

	state := ComputeState(inv, s.clock.Now())
	if inv.Status.Accruing() && state.Done() {
		if _, err := s.complete(ctx, inv); err != nil {
			return nil, State{}, err
		}
		if inv, err = s.Get(ctx, id); err != nil {
			return nil, State{}, err
		}
		state = ComputeState(inv, s.clock.Now())
	}
	return inv, state, nil
}

// RecomputeAll completes every accruing investment whose duration elapsed.
func (s *Service) RecomputeAll(ctx context.Context) (RecomputeResult, error) {
	log := logger.FromContext(ctx)

	running, err := s.investments.Find(ctx, nil,
		option.WithIn("status", []Status{StatusRunning, StatusActive}),
	)
	if err != nil {
		log.Error("failed to list running investments", zap.Error(err))
		return RecomputeResult{}, errutil.Storage("failed to list investments", err)
	}

	var completed atomic.Int64
	now := s.clock.Now()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	for _, inv := range running {
		if !ComputeState(inv, now).Done() {
			continue
		}
		g.Go(func() error {
			flipped, err := s.complete(gctx, inv)
			if err != nil {
				return err
			}
			if flipped {
				completed.Add(1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error("recompute failed", zap.Error(err))
		return RecomputeResult{Scanned: len(running), Completed: int(completed.Load())}, err
	}

	res := RecomputeResult{Scanned: len(running), Completed: int(completed.Load())}
	log.Info("recompute finished", zap.Int("scanned", res.Scanned), zap.Int("completed", res.Completed))
	return res, nil
}

func (s *Service) AdminAdjust(ctx context.Context, id string, adj Adjustment) (*Investment, error) {
	var details []errutil.Detail
	updates := map[string]any{"updated_at": s.clock.Now()}
	check := func(field string, v *decimal.Decimal) {
		if v == nil {
			return
		}
		if v.IsNegative() {
			details = append(details, errutil.Detail{Field: field, Message: "must not be negative"})
			return
		}
		updates[field] = *v
	}
	check("fee_percent", adj.FeePercent)
	check("fee_fixed", adj.FeeFixed)
	check("principal", adj.Principal)
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid adjustment", nil, errutil.WithDetails(details...))
	}

	before, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if err := s.investments.Update(ctx, id, updates); err != nil {
		logger.FromContext(ctx).Error("failed to adjust investment", zap.String("investment_id", id), zap.Error(err))
		return nil, errutil.Storage("failed to adjust investment", err)
	}

	after, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.InvestmentAdjusted, map[string]any{
		"investment_id": id,
		"user_id":       after.Owner(),
		"before":        adjustable(before),
		"after":         adjustable(after),
	})
	return after, nil
}

func adjustable(inv *Investment) map[string]string {
	return map[string]string{
		"principal":   inv.Principal.String(),
		"fee_percent": inv.FeePercent.String(),
		"fee_fixed":   inv.FeeFixed.String(),
	}
}

// SetStatus applies an admin action (pause, resume, cancel).
func (s *Service) SetStatus(ctx context.Context, id, action string) (*Investment, error) {
	ev, ok := ParseAction(action)
	if !ok {
		return nil, errutil.ValidationFailed("unknown action", nil, errutil.Field("action", "must be pause, resume or cancel"))
	}

	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	from := inv.Status
	to, err := s.transition(ctx, inv, ev, nil)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.InvestmentStatus, map[string]any{
		"investment_id": id,
		"user_id":       inv.Owner(),
		"action":        action,
		"from":          string(from),
		"to":            string(to),
	})
	return s.Get(ctx, id)
}

// AssignOwner attaches a user to an ownerless intent.
func (s *Service) AssignOwner(ctx context.Context, id, userID string) (*Investment, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if inv.UserID != nil {
		if *inv.UserID == userID {
			return inv, nil
		}
		return nil, errutil.InvalidState("investment already has an owner", nil)
	}

	res := s.db.WithContext(ctx).Model(&Investment{}).
		Where("id = ? AND user_id IS NULL", id).
		Updates(map[string]any{"user_id": userID, "updated_at": s.clock.Now()})
	if res.Error != nil {
		return nil, errutil.Storage("failed to assign owner", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, errutil.InvalidState("investment already has an owner", nil)
	}

	s.audit.Record(ctx, audit.ActorClient, audit.InvestmentAssigned, map[string]any{
		"investment_id": id,
		"user_id":       userID,
	})
	return s.Get(ctx, id)
}
