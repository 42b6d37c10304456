package bootstrap

import (
	"context"

	"apextrade-backend/pkg/db"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/notification"
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"
	"apextrade-backend/services/task"
	"apextrade-backend/services/user"
	"apextrade-backend/services/withdrawal"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Models lists every table owned by the application.
func Models() []any {
	return []any{
		&user.User{},
		&ledger.Investment{},
		&otp.OneTimeCode{},
		&system.Settings{},
		&withdrawal.Withdrawal{},
		&withdrawal.Fee{},
		&withdrawal.UploadedProof{},
		&audit.AuditEvent{},
		&notification.Notification{},
		&task.Job{},
	}
}

type SettingsReader interface {
	Get(ctx context.Context) (*system.Settings, error)
}

type Service struct {
	db       *gorm.DB
	settings SettingsReader
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Settings SettingsReader
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:       p.DB,
		settings: p.Settings,
	}
}

// Migrate brings the schema up to date and seeds the settings row.
func (s *Service) Migrate(ctx context.Context) error {
	if err := db.Migrate(s.db, Models()...); err != nil {
		return err
	}

	settings, err := s.settings.Get(ctx)
	if err != nil {
		zap.L().Error("[bootstrap] failed to seed system settings", zap.Error(err))
		return err
	}

	zap.L().Info("[bootstrap] schema ready",
		zap.Bool("maintenance", settings.Maintenance),
		zap.Bool("engine_running", settings.EngineRunning),
		zap.String("default_rate", settings.DefaultRate.String()),
	)
	return nil
}
