package withdrawal

import (
	"context"
	"strings"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/otp"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultMaxUploadSize = 10 << 20

type InvestmentReader interface {
	Get(ctx context.Context, id string) (*ledger.Investment, error)
	Balance(ctx context.Context, id string) (*ledger.Investment, ledger.State, error)
}

type OTPIssuer interface {
	Issue(ctx context.Context, req otp.IssueRequest) (string, error)
	Redeem(ctx context.Context, subjectID, code string) error
}

type ReferenceGenerator interface {
	NextWithdrawalCode(ctx context.Context) (string, error)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock

	investments InvestmentReader
	otp         OTPIssuer
	audit       audit.Recorder
	store       ObjectStore
	refs        ReferenceGenerator

	locks         *keyedMutex
	maxUploadSize int64

	withdrawals repository.Repository[Withdrawal]
	fees        repository.Repository[Fee]
	uploads     repository.Repository[UploadedProof]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Clock       clock.Clock
	Investments InvestmentReader
	OTP         OTPIssuer
	Audit       audit.Recorder
	Store       ObjectStore
	References  ReferenceGenerator `optional:"true"`
	Config      *config.Config     `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:            p.DB,
		node:          p.Node,
		clock:         p.Clock,
		investments:   p.Investments,
		otp:           p.OTP,
		audit:         p.Audit,
		store:         p.Store,
		refs:          p.References,
		locks:         newKeyedMutex(),
		maxUploadSize: defaultMaxUploadSize,

		withdrawals: repository.ProvideStore[Withdrawal](p.DB),
		fees:        repository.ProvideStore[Fee](p.DB),
		uploads:     repository.ProvideStore[UploadedProof](p.DB),
	}
	if p.Config != nil && p.Config.Upload.MaxSize > 0 {
		s.maxUploadSize = p.Config.Upload.MaxSize
	}
	return s
}

// Request opens a withdrawal for a completed investment. Repeated calls
// return the existing withdrawal.
func (s *Service) Request(ctx context.Context, investmentID string) (*Withdrawal, error) {
	log := logger.FromContext(ctx).With(zap.String("investment_id", investmentID))

	existing, err := s.withdrawals.FindOne(ctx, &Withdrawal{InvestmentID: investmentID})
	if err != nil {
		return nil, errutil.Storage("failed to load withdrawal", err)
	}
	if existing != nil {
		return existing, nil
	}

	inv, state, err := s.investments.Balance(ctx, investmentID)
	if err != nil {
		return nil, err
	}
	if inv.Status != ledger.StatusCompleted {
		return nil, errutil.InvalidState("investment is "+string(inv.Status), nil)
	}
	if inv.Owner() == "" {
		return nil, errutil.InvalidState("investment has no owner", nil)
	}

	now := s.clock.Now()
	w := &Withdrawal{
		ID:           gen.ID(s.node, "wdr"),
		InvestmentID: inv.ID,
		UserID:       inv.Owner(),
		Amount:       state.Net,
		Status:       StatusRequested,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	w.Reference = s.reference(ctx, w.ID)

	if err := s.withdrawals.Create(ctx, w); err != nil {
		// lost the race against a concurrent request for the same investment
		if winner, ferr := s.withdrawals.FindOne(ctx, &Withdrawal{InvestmentID: investmentID}); ferr == nil && winner != nil {
			return winner, nil
		}
		log.Error("failed to create withdrawal", zap.Error(err))
		return nil, errutil.Storage("failed to create withdrawal", err)
	}

	s.audit.Record(ctx, audit.ActorClient, audit.WithdrawalRequested, map[string]any{
		"withdrawal_id": w.ID,
		"investment_id": w.InvestmentID,
		"user_id":       w.UserID,
		"amount":        w.Amount.String(),
	})
	return w, nil
}

func (s *Service) reference(ctx context.Context, id string) string {
	if s.refs != nil {
		ref, err := s.refs.NextWithdrawalCode(ctx)
		if err == nil {
			return ref
		}
		logger.FromContext(ctx).Warn("failed to generate withdrawal reference", zap.Error(err))
	}
	return strings.ToUpper(id)
}

func (s *Service) getWithdrawal(ctx context.Context, repo repository.Repository[Withdrawal], id string, opts ...option.QueryOption) (*Withdrawal, error) {
	w, err := repo.FindOne(ctx, &Withdrawal{ID: id}, opts...)
	if err != nil {
		return nil, errutil.Storage("failed to load withdrawal", err)
	}
	if w == nil {
		return nil, errutil.NotFound("withdrawal not found", nil)
	}
	return w, nil
}

func (s *Service) getFee(ctx context.Context, repo repository.Repository[Fee], id string) (*Fee, error) {
	f, err := repo.FindOne(ctx, &Fee{ID: id})
	if err != nil {
		return nil, errutil.Storage("failed to load fee", err)
	}
	if f == nil {
		return nil, errutil.NotFound("fee not found", nil)
	}
	return f, nil
}

func (s *Service) listFees(ctx context.Context, repo repository.Repository[Fee], withdrawalID string) ([]*Fee, error) {
	fees, err := repo.Find(ctx, &Fee{WithdrawalID: withdrawalID},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "asc"}))
	if err != nil {
		return nil, errutil.Storage("failed to list fees", err)
	}
	return fees, nil
}

func (s *Service) Get(ctx context.Context, id string) (*WithdrawalDetail, error) {
	w, err := s.getWithdrawal(ctx, s.withdrawals, id)
	if err != nil {
		return nil, err
	}
	fees, err := s.listFees(ctx, s.fees, id)
	if err != nil {
		return nil, err
	}
	return &WithdrawalDetail{Withdrawal: w, Fees: fees}, nil
}

func (s *Service) List(ctx context.Context, f ListFilter) ([]*Withdrawal, error) {
	out, err := s.withdrawals.Find(ctx, &Withdrawal{UserID: f.UserID, Status: f.Status},
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(f.Limit),
	)
	if err != nil {
		return nil, errutil.Storage("failed to list withdrawals", err)
	}
	return out, nil
}

// moveWithdrawal applies ev to w inside tx with a conditional update.
func (s *Service) moveWithdrawal(ctx context.Context, tx *gorm.DB, w *Withdrawal, ev Event, extra map[string]any) error {
	to, ok := NextStatus(w.Status, ev)
	if !ok {
		return errutil.InvalidState("withdrawal is "+string(w.Status), nil)
	}

	updates := map[string]any{"status": to, "updated_at": s.clock.Now()}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.WithContext(ctx).Model(&Withdrawal{}).
		Where("id = ? AND status = ?", w.ID, w.Status).
		Updates(updates)
	if res.Error != nil {
		return errutil.Storage("failed to update withdrawal", res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.InvalidState("withdrawal changed concurrently", nil)
	}
	w.Status = to
	return nil
}

func (s *Service) moveFee(ctx context.Context, tx *gorm.DB, f *Fee, ev Event) error {
	to, ok := NextFeeStatus(f.Status, ev)
	if !ok {
		return errutil.InvalidState("fee is "+string(f.Status), nil)
	}

	res := tx.WithContext(ctx).Model(&Fee{}).
		Where("id = ? AND status = ?", f.ID, f.Status).
		Updates(map[string]any{"status": to, "updated_at": s.clock.Now()})
	if res.Error != nil {
		return errutil.Storage("failed to update fee", res.Error)
	}
	if res.RowsAffected == 0 {
		return errutil.InvalidState("fee changed concurrently", nil)
	}
	f.Status = to
	return nil
}

// withLockedWithdrawal runs fn in a transaction holding both the in-process
// lock and the row lock of the withdrawal.
func (s *Service) withLockedWithdrawal(ctx context.Context, id string, fn func(tx *gorm.DB, w *Withdrawal) error) error {
	unlock := s.locks.Lock(id)
	defer unlock()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		w, err := s.lockWithdrawal(ctx, tx, id)
		if err != nil {
			return err
		}
		return fn(tx, w)
	})
}

func (s *Service) lockWithdrawal(ctx context.Context, tx *gorm.DB, id string) (*Withdrawal, error) {
	return s.getWithdrawal(ctx, s.withdrawals.WithTrx(tx), id, option.WithLockingUpdate())
}

func (s *Service) AttachFee(ctx context.Context, withdrawalID, label string, amount decimal.Decimal) (*Fee, error) {
	label = strings.TrimSpace(label)
	var details []errutil.Detail
	if label == "" {
		details = append(details, errutil.Detail{Field: "label", Message: "required"})
	}
	if !amount.IsPositive() {
		details = append(details, errutil.Detail{Field: "amount", Message: "must be greater than 0"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid fee", nil, errutil.WithDetails(details...))
	}

	now := s.clock.Now()
	fee := &Fee{
		ID:           gen.ID(s.node, "fee"),
		WithdrawalID: withdrawalID,
		Label:        label,
		Amount:       amount,
		Status:       FeePending,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	var userID string
	if err := s.withLockedWithdrawal(ctx, withdrawalID, func(tx *gorm.DB, w *Withdrawal) error {
		userID = w.UserID
		if err := s.moveWithdrawal(ctx, tx, w, EventAttachFee, nil); err != nil {
			return err
		}
		if err := s.fees.WithTrx(tx).Create(ctx, fee); err != nil {
			return errutil.Storage("failed to create fee", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.FeeAttached, map[string]any{
		"withdrawal_id": withdrawalID,
		"fee_id":        fee.ID,
		"user_id":       userID,
		"label":         fee.Label,
		"amount":        fee.Amount.String(),
	})
	return fee, nil
}

// Approve re-runs the fee aggregate check and approves when every fee is
// verified or paid.
func (s *Service) Approve(ctx context.Context, withdrawalID string) (*WithdrawalDetail, error) {
	var userID string
	if err := s.withLockedWithdrawal(ctx, withdrawalID, func(tx *gorm.DB, w *Withdrawal) error {
		userID = w.UserID
		fees, err := s.listFees(ctx, s.fees.WithTrx(tx), w.ID)
		if err != nil {
			return err
		}
		if !allCleared(fees) {
			return errutil.InvalidState("withdrawal has uncleared fees", nil)
		}
		return s.moveWithdrawal(ctx, tx, w, EventAllFeesVerified, nil)
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.WithdrawalApproved, map[string]any{
		"withdrawal_id": withdrawalID,
		"user_id":       userID,
	})
	return s.Get(ctx, withdrawalID)
}

// MarkPaid settles an approved withdrawal and its verified fees.
func (s *Service) MarkPaid(ctx context.Context, withdrawalID string) (*WithdrawalDetail, error) {
	var userID string
	if err := s.withLockedWithdrawal(ctx, withdrawalID, func(tx *gorm.DB, w *Withdrawal) error {
		userID = w.UserID
		if err := s.moveWithdrawal(ctx, tx, w, EventMarkPaid, nil); err != nil {
			return err
		}
		fees, err := s.listFees(ctx, s.fees.WithTrx(tx), w.ID)
		if err != nil {
			return err
		}
		for _, f := range fees {
			if f.Status != FeeVerified {
				continue
			}
			if err := s.moveFee(ctx, tx, f, FeeEventSettle); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.WithdrawalPaid, map[string]any{
		"withdrawal_id": withdrawalID,
		"user_id":       userID,
	})
	return s.Get(ctx, withdrawalID)
}

// Reject closes a non-terminal withdrawal and its open fees.
func (s *Service) Reject(ctx context.Context, withdrawalID, note string) (*WithdrawalDetail, error) {
	var userID string
	if err := s.withLockedWithdrawal(ctx, withdrawalID, func(tx *gorm.DB, w *Withdrawal) error {
		userID = w.UserID
		if err := s.moveWithdrawal(ctx, tx, w, EventReject, map[string]any{"note": strings.TrimSpace(note)}); err != nil {
			return err
		}
		fees, err := s.listFees(ctx, s.fees.WithTrx(tx), w.ID)
		if err != nil {
			return err
		}
		for _, f := range fees {
			if _, ok := NextFeeStatus(f.Status, FeeEventReject); !ok {
				continue
			}
			if err := s.moveFee(ctx, tx, f, FeeEventReject); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.WithdrawalRejected, map[string]any{
		"withdrawal_id": withdrawalID,
		"user_id":       userID,
		"note":          note,
	})
	return s.Get(ctx, withdrawalID)
}
