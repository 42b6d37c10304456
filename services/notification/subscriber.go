package notification

import (
	"context"
	"encoding/json"
	"sync"

	pkgtask "apextrade-backend/pkg/task"
	"apextrade-backend/pkg/taskname"
	"apextrade-backend/services/audit"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type message struct {
	kind string
	body string
}

// messages maps domain events to the text shown to the owning user.
var messages = map[string]message{
	audit.InvestmentConfirmed: {TypeInfo, "Your investment was confirmed. Enter the activation code to start it."},
	audit.InvestmentActivated: {TypeSuccess, "Your investment is now running."},
	audit.InvestmentCompleted: {TypeSuccess, "Your investment has completed. You can request a withdrawal."},
	audit.InvestmentStatus:    {TypeWarning, "The status of your investment changed."},
	audit.WithdrawalApproved:  {TypeSuccess, "Your withdrawal was approved."},
	audit.WithdrawalPaid:      {TypeSuccess, "Your withdrawal has been paid."},
	audit.WithdrawalRejected:  {TypeWarning, "Your withdrawal was rejected."},
	audit.FeeAttached:         {TypeWarning, "A fee is required before your withdrawal can be approved."},
	audit.FeeOtpIssued:        {TypeInfo, "Your fee proof was accepted. Enter the verification code."},
	audit.ProofReviewed:       {TypeInfo, "Your payment proof was reviewed."},
}

// Subscriber turns hub events into notification:deliver tasks.
type Subscriber struct {
	hub   *audit.Hub
	queue pkgtask.Enqueuer

	sub *audit.Subscription
	wg  sync.WaitGroup
}

func NewSubscriber(hub *audit.Hub, queue pkgtask.Enqueuer) *Subscriber {
	return &Subscriber{hub: hub, queue: queue}
}

func (s *Subscriber) Start() {
	s.sub = s.hub.Subscribe()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for ev := range s.sub.C {
			s.handle(context.Background(), ev)
		}
	}()
}

func (s *Subscriber) Stop() {
	s.hub.Unsubscribe(s.sub)
	s.wg.Wait()
}

// handle never fails; enqueue errors are logged and the event is dropped.
func (s *Subscriber) handle(ctx context.Context, ev audit.Event) {
	msg, ok := messages[ev.Type]
	if !ok {
		return
	}
	userID := ev.String("user_id")
	if userID == "" {
		return
	}

	payload, _ := json.Marshal(DeliverPayload{
		UserID:  userID,
		Type:    msg.kind,
		Body:    msg.body,
		EventID: ev.ID,
	})
	t := asynq.NewTask(taskname.NotificationDeliver, payload)

	if _, err := s.queue.Enqueue(ctx, t, asynq.Queue(taskname.QueueLow)); err != nil {
		zap.L().Warn("failed to enqueue notification",
			zap.String("event_id", ev.ID),
			zap.String("event_type", ev.Type),
			zap.Error(err),
		)
	}
}

func registerSubscriber(lc fx.Lifecycle, s *Subscriber) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			s.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			s.Stop()
			return nil
		},
	})
}
