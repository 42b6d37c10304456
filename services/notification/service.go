package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/db/option"
	"apextrade-backend/pkg/errutil"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/repository"
	"apextrade-backend/services/audit"

	"github.com/bwmarrin/snowflake"
	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultListLimit = 50

type Service struct {
	node  *snowflake.Node
	clock clock.Clock
	audit audit.Recorder

	notifications repository.Repository[Notification]
}

type ServiceParams struct {
	fx.In
	DB    *gorm.DB
	Node  *snowflake.Node
	Clock clock.Clock
	Audit audit.Recorder
}

func NewService(p ServiceParams) *Service {
	return &Service{
		node:  p.Node,
		clock: p.Clock,
		audit: p.Audit,

		notifications: repository.ProvideStore[Notification](p.DB),
	}
}

func (s *Service) Deliver(ctx context.Context, p DeliverPayload) (*Notification, error) {
	n := &Notification{
		ID:        gen.ID(s.node, "ntf"),
		UserID:    p.UserID,
		Type:      p.Type,
		Body:      p.Body,
		EventID:   p.EventID,
		CreatedAt: s.clock.Now(),
	}
	if n.Type == "" {
		n.Type = TypeInfo
	}
	if err := s.notifications.Create(ctx, n); err != nil {
		return nil, errutil.Storage("failed to create notification", err)
	}
	return n, nil
}

// HandleDeliverTask is the asynq handler for notification:deliver.
func (s *Service) HandleDeliverTask(ctx context.Context, t *asynq.Task) error {
	var p DeliverPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		zap.L().Error("invalid notification payload", zap.Error(err))
		return fmt.Errorf("invalid notification payload: %v: %w", err, asynq.SkipRetry)
	}

	n, err := s.Deliver(ctx, p)
	if err != nil {
		logger.FromContext(ctx).Error("failed to deliver notification", zap.String("user_id", p.UserID), zap.Error(err))
		return err
	}

	zap.L().Debug("notification delivered", zap.String("notification_id", n.ID), zap.String("user_id", n.UserID))
	return nil
}

// Broadcast stores an admin message for one user or, with userID empty or
// "all", for everyone.
func (s *Service) Broadcast(ctx context.Context, userID, kind, body string) (*Notification, error) {
	body = strings.TrimSpace(body)
	if body == "" {
		return nil, errutil.ValidationFailed("invalid notification", nil, errutil.Field("body", "required"))
	}
	switch kind {
	case "":
		kind = TypeInfo
	case TypeInfo, TypeSuccess, TypeWarning:
	default:
		return nil, errutil.ValidationFailed("invalid notification", nil, errutil.Field("type", "must be info, success or warning"))
	}

	userID = strings.TrimSpace(userID)
	if userID == "" {
		userID = Everyone
	}

	n, err := s.Deliver(ctx, DeliverPayload{UserID: userID, Type: kind, Body: body})
	if err != nil {
		return nil, err
	}

	s.audit.Record(ctx, audit.ActorAdmin, audit.NotificationBroadcast, map[string]any{
		"notification_id": n.ID,
		"user_id":         userID,
		"type":            kind,
	})
	return n, nil
}

// ListForUser returns the user's own and broadcast notifications, newest first.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]*Notification, error) {
	out, err := s.notifications.Find(ctx, nil,
		option.WithIn("user_id", []string{userID, Everyone}),
		option.WithSortBy(option.QuerySortBy{SortBy: "created_at", OrderBy: "desc"}),
		option.WithLimit(defaultListLimit),
	)
	if err != nil {
		return nil, errutil.Storage("failed to list notifications", err)
	}
	return out, nil
}
