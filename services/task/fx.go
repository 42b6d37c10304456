package task

import (
	"apextrade-backend/pkg/taskname"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/system"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
)

var Module = fx.Module("task.service",
	fx.Provide(
		NewService,
		func(s *ledger.Service) Recomputer { return s },
		func(s *system.Service) SettingsReader { return s },
	),
)

// Worker registers handlers on the asynq mux and runs the scheduler.
var Worker = fx.Module("task.worker",
	fx.Provide(NewScheduler),
	fx.Invoke(
		func(mux *asynq.ServeMux, s *Service) {
			mux.HandleFunc(taskname.InvestmentRecompute, s.HandleRecomputeTask)
		},
		StartScheduler,
	),
)
