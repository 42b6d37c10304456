package user

import (
	"context"
	"errors"
	"strings"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/ledger"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// OwnerAssigner claims an ownerless investment intent for a new user.
type OwnerAssigner interface {
	Get(ctx context.Context, id string) (*ledger.Investment, error)
	AssignOwner(ctx context.Context, id, userID string) (*ledger.Investment, error)
}

type Service struct {
	node  *snowflake.Node
	clock clock.Clock
	audit audit.Recorder

	investments OwnerAssigner

	users repository.Repository[User]
}

type ServiceParams struct {
	fx.In
	DB          *gorm.DB
	Node        *snowflake.Node
	Clock       clock.Clock
	Audit       audit.Recorder
	Investments OwnerAssigner
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:        p.Node,
		clock:       p.Clock,
		audit:       p.Audit,
		investments: p.Investments,
		users:       repository.ProvideStore[User](p.DB),
	}
}

func (s *Service) Register(ctx context.Context, req RegisterRequest) (*User, error) {
	log := logger.FromContext(ctx)

	req.FirstName = strings.TrimSpace(req.FirstName)
	req.LastName = strings.TrimSpace(req.LastName)
	phone := NormalizePhone(req.Dial, req.Phone)

	var details []errutil.Detail
	if req.FirstName == "" {
		details = append(details, errutil.Detail{Field: "first_name", Message: "required"})
	}
	if req.LastName == "" {
		details = append(details, errutil.Detail{Field: "last_name", Message: "required"})
	}
	if !ValidPhone(phone) {
		details = append(details, errutil.Detail{Field: "phone", Message: "invalid phone number"})
	}
	if len(details) > 0 {
		return nil, errutil.ValidationFailed("invalid registration", nil, errutil.WithDetails(details...))
	}

	if req.InvestmentID != "" {
		inv, err := s.investments.Get(ctx, req.InvestmentID)
		if err != nil {
			return nil, err
		}
		if inv.UserID != nil {
			return nil, errutil.InvalidState("investment already has an owner", nil, errutil.Field("investment_id", "already claimed"))
		}
	}

	existing, err := s.users.FindOne(ctx, &User{Phone: phone})
	if err != nil {
		return nil, errutil.Storage("failed to load user", err)
	}
	if existing != nil {
		return nil, errutil.Conflict("phone already registered", nil)
	}

	u := &User{
		ID:          gen.ID(s.node, "usr"),
		FirstName:   req.FirstName,
		LastName:    req.LastName,
		CountryCode: strings.ToUpper(strings.TrimSpace(req.CountryCode)),
		Dial:        req.Dial,
		Phone:       phone,
		CreatedAt:   s.clock.Now(),
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("phone already registered", err)
		}
		log.Error("failed to create user", zap.Error(err))
		return nil, errutil.Storage("failed to create user", err)
	}

	s.audit.Record(ctx, audit.ActorClient, audit.UserRegistered, map[string]any{
		"user_id": u.ID,
		"phone":   u.Phone,
	})

	// The user row is committed; losing the claim race leaves an unclaimed account.
	if req.InvestmentID != "" {
		if _, err := s.investments.AssignOwner(ctx, req.InvestmentID, u.ID); err != nil {
			log.Warn("failed to claim investment", zap.String("investment_id", req.InvestmentID), zap.String("user_id", u.ID), zap.Error(err))
		}
	}
	return u, nil
}

func (s *Service) Get(ctx context.Context, id string) (*User, error) {
	u, err := s.users.FindOne(ctx, &User{ID: id})
	if err != nil {
		return nil, errutil.Storage("failed to load user", err)
	}
	if u == nil {
		return nil, errutil.NotFound("user not found", nil)
	}
	return u, nil
}

// Touch updates last_seen_at.
func (s *Service) Touch(ctx context.Context, id string) error {
	if err := s.users.Update(ctx, id, map[string]any{"last_seen_at": s.clock.Now()}); err != nil {
		return errutil.Storage("failed to update user", err)
	}
	return nil
}
