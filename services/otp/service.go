package otp

import (
	"context"
	"errors"
	"time"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const DefaultTTL = 15 * time.Minute

var verifications = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name: "otp_verifications_total",
}, []string{"result"})

func init() {
	prometheus.MustRegister(verifications)
}

type Service struct {
	db    *gorm.DB
	node  *snowflake.Node
	clock clock.Clock

	ttl  time.Duration
	cost int

	codes repository.Repository[OneTimeCode]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Node   *snowflake.Node
	Clock  clock.Clock
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		db:    p.DB,
		node:  p.Node,
		clock: p.Clock,
		ttl:   DefaultTTL,
		cost:  bcrypt.DefaultCost,
		codes: repository.ProvideStore[OneTimeCode](p.DB),
	}
	if p.Config != nil {
		if p.Config.OTP.TTL > 0 {
			s.ttl = p.Config.OTP.TTL
		}
		if p.Config.OTP.BcryptCost >= bcrypt.MinCost {
			s.cost = p.Config.OTP.BcryptCost
		}
	}
	return s
}

// Issue creates a new code for the subject and returns the plaintext once.
// Earlier unconsumed codes for the same subject are consumed in the same
// transaction.
func (s *Service) Issue(ctx context.Context, req IssueRequest) (string, error) {
	log := logger.FromContext(ctx).With(zap.String("subject_id", req.SubjectID), zap.String("purpose", string(req.Purpose)))

	if req.SubjectID == "" {
		return "", errutil.ValidationFailed("subject is required", nil, errutil.Field("subject_id", "required"))
	}

	ttl := req.TTL
	if ttl <= 0 {
		ttl = s.ttl
	}

	code, err := generateCode()
	if err != nil {
		log.Error("failed to generate code", zap.Error(err))
		return "", errutil.Internal("failed to generate code", err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(code), s.cost)
	if err != nil {
		log.Error("failed to hash code", zap.Error(err))
		return "", errutil.Internal("failed to hash code", err)
	}

	now := s.clock.Now()
	record := &OneTimeCode{
		ID:        gen.ID(s.node, "otp"),
		Purpose:   req.Purpose,
		SubjectID: req.SubjectID,
		OwnerID:   req.OwnerID,
		CodeHash:  string(hash),
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}

	if err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&OneTimeCode{}).
			Where("subject_id = ? AND consumed = ?", req.SubjectID, false).
			Updates(map[string]any{"consumed": true, "consumed_at": now}).Error; err != nil {
			return err
		}
		return s.codes.WithTrx(tx).Create(ctx, record)
	}); err != nil {
		log.Error("failed to store code", zap.Error(err))
		return "", errutil.Storage("failed to store code", err)
	}

	log.Info("otp issued", zap.String("otp_id", record.ID), zap.Time("expires_at", record.ExpiresAt))
	return code, nil
}

// Verify checks candidate against the latest unconsumed code of the subject.
// A mismatch returns (false, nil) and leaves the code usable. A match
// consumes the code; losing a concurrent consume returns ErrOtpNotFound.
func (s *Service) Verify(ctx context.Context, subjectID, candidate string) (bool, error) {
	log := logger.FromContext(ctx).With(zap.String("subject_id", subjectID))

	record, err := s.codes.FindOne(ctx, &OneTimeCode{SubjectID: subjectID},
		option.ApplyOperator(option.Condition{Field: "consumed", Operator: option.EQ, Value: false}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
	)
	if err != nil {
		log.Error("failed to load code", zap.Error(err))
		return false, errutil.Storage("failed to load code", err)
	}
	if record == nil {
		verifications.WithLabelValues("not_found").Inc()
		return false, errutil.OtpNotFound("no active code for subject", nil)
	}

	now := s.clock.Now()
	if now.After(record.ExpiresAt) {
		verifications.WithLabelValues("expired").Inc()
		return false, errutil.OtpExpired("code expired", nil)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(record.CodeHash), []byte(candidate)); err != nil {
		if !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			log.Warn("code comparison failed", zap.Error(err))
		}
		verifications.WithLabelValues("mismatch").Inc()
		return false, nil
	}

	res := s.db.WithContext(ctx).Model(&OneTimeCode{}).
		Where("id = ? AND consumed = ?", record.ID, false).
		Updates(map[string]any{"consumed": true, "consumed_at": now})
	if res.Error != nil {
		log.Error("failed to consume code", zap.Error(res.Error))
		return false, errutil.Storage("failed to consume code", res.Error)
	}
	if res.RowsAffected == 0 {
		verifications.WithLabelValues("not_found").Inc()
		return false, errutil.OtpNotFound("code already used", nil)
	}

	verifications.WithLabelValues("ok").Inc()
	log.Info("otp verified", zap.String("otp_id", record.ID))
	return true, nil
}

// Redeem is Verify with a mismatch reported as ErrInvalidCode.
func (s *Service) Redeem(ctx context.Context, subjectID, candidate string) error {
	ok, err := s.Verify(ctx, subjectID, candidate)
	if err != nil {
		return err
	}
	if !ok {
		return errutil.InvalidCode("invalid code", nil)
	}
	return nil
}
