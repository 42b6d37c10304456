package audit

import (
	"context"
	"encoding/json"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultListLimit = 100

// Recorder is the sink every component writes its domain events to.
type Recorder interface {
	Record(ctx context.Context, actor, eventType string, payload map[string]any)
}

type Service struct {
	node   *snowflake.Node
	clock  clock.Clock
	hub    *Hub
	bridge *Bridge

	events repository.Repository[AuditEvent]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Hub   *Hub

	Bridge *Bridge `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:   p.Node,
		clock:  p.Clock,
		hub:    p.Hub,
		bridge: p.Bridge,
		events: repository.ProvideStore[AuditEvent](p.DB),
	}
}

// Record persists the event and publishes it, locally and to the other
// processes when a Bridge is wired. It never fails the caller: storage and
// relay errors are logged and the event is still published.
func (s *Service) Record(ctx context.Context, actor, eventType string, payload map[string]any) {
	if payload == nil {
		payload = map[string]any{}
	}

	ev := Event{
		ID:        gen.ID(s.node, "evt"),
		Actor:     actor,
		Type:      eventType,
		Payload:   payload,
		CreatedAt: s.clock.Now(),
	}

	log := logger.FromContext(ctx).With(zap.String("event_id", ev.ID), zap.String("event_type", eventType))

	raw, err := json.Marshal(payload)
	if err != nil {
		log.Warn("failed to encode audit payload", zap.Error(err))
		raw = []byte("{}")
	}

	if err := s.events.Create(ctx, &AuditEvent{
		ID:        ev.ID,
		Actor:     actor,
		Type:      eventType,
		Payload:   datatypes.JSON(raw),
		CreatedAt: ev.CreatedAt,
	}); err != nil {
		log.Error("failed to persist audit event", zap.Error(err))
	}

	s.hub.Publish(ev)

	if s.bridge != nil {
		if err := s.bridge.Forward(ctx, ev); err != nil {
			log.Warn("failed to forward audit event", zap.Error(err))
		}
	}
}

// List returns the latest events, newest first.
func (s *Service) List(ctx context.Context, limit int) ([]*AuditEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = DefaultListLimit
	}

	events, err := s.events.Find(ctx, nil,
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(limit),
	)
	if err != nil {
		return nil, errutil.Storage("failed to list audit events", err)
	}
	return events, nil
}
