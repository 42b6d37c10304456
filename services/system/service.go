package system

import (
	"context"
	"sync"
	"time"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"
	"apextrade-backend/services/audit"

	"github.com/shopspring/decimal"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var maxRate = decimal.NewFromInt(10)

const cacheTTL = 5 * time.Second

type Service struct {
	db    *gorm.DB
	clock clock.Clock
	audit audit.Recorder

	defaults Settings

	group    singleflight.Group
	mu       sync.RWMutex
	cached   *Settings
	cachedAt time.Time

	settings repository.Repository[Settings]
}

type ServiceParams struct {
	fx.In
	DB     *gorm.DB
	Clock  clock.Clock
	Audit  audit.Recorder
	Config *config.Config `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	defaults := Settings{
		ID:            settingsID,
		EngineRunning: true,
		DefaultRate:   decimal.NewFromFloat(0.4),
	}
	if p.Config != nil && p.Config.Ledger.DefaultRate > 0 {
		defaults.DefaultRate = decimal.NewFromFloat(p.Config.Ledger.DefaultRate)
	}

	return &Service{
		db:       p.DB,
		clock:    p.Clock,
		audit:    p.Audit,
		defaults: defaults,
		settings: repository.ProvideStore[Settings](p.DB),
	}
}

// Get returns the settings, creating the row from defaults on first use.
func (s *Service) Get(ctx context.Context) (*Settings, error) {
	s.mu.RLock()
	if s.cached != nil && s.clock.Now().Sub(s.cachedAt) < cacheTTL {
		out := *s.cached
		s.mu.RUnlock()
		return &out, nil
	}
	s.mu.RUnlock()

	v, err, _ := s.group.Do(settingsID, func() (any, error) {
		return s.load(ctx)
	})
	if err != nil {
		return nil, err
	}

	out := *v.(*Settings)
	return &out, nil
}

func (s *Service) load(ctx context.Context) (*Settings, error) {
	row := s.defaults
	row.UpdatedAt = s.clock.Now()

	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error; err != nil {
		return nil, errutil.Storage("failed to init settings", err)
	}

	current, err := s.settings.FindOne(ctx, &Settings{ID: settingsID})
	if err != nil || current == nil {
		return nil, errutil.Storage("failed to load settings", err)
	}

	s.mu.Lock()
	s.cached = current
	s.cachedAt = s.clock.Now()
	s.mu.Unlock()
	return current, nil
}

func (s *Service) Update(ctx context.Context, patch SettingsPatch) (*Settings, error) {
	before, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	updates := map[string]any{"updated_at": s.clock.Now()}
	if patch.Maintenance != nil {
		updates["maintenance"] = *patch.Maintenance
	}
	if patch.EngineRunning != nil {
		updates["engine_running"] = *patch.EngineRunning
	}
	if patch.DefaultRate != nil {
		if patch.DefaultRate.IsNegative() || patch.DefaultRate.GreaterThan(maxRate) {
			return nil, errutil.ValidationFailed("rate out of range", nil, errutil.Field("default_rate", "must be between 0 and 10"))
		}
		updates["default_rate"] = *patch.DefaultRate
	}

	if err := s.settings.Update(ctx, settingsID, updates); err != nil {
		logger.FromContext(ctx).Error("failed to update settings", zap.Error(err))
		return nil, errutil.Storage("failed to update settings", err)
	}

	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()

	after, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.SystemUpdated, map[string]any{
		"before": before,
		"after":  after,
	})
	return after, nil
}
