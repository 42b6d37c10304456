package notification

import (
	"apextrade-backend/pkg/taskname"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(NewService),
)

// Publisher runs inside the API process, where the audit hub lives.
var Publisher = fx.Module("notification.publisher",
	fx.Provide(NewSubscriber),
	fx.Invoke(registerSubscriber),
)

var Worker = fx.Module("notification.worker",
	fx.Invoke(func(mux *asynq.ServeMux, s *Service) {
		mux.HandleFunc(taskname.NotificationDeliver, s.HandleDeliverTask)
	}),
)
