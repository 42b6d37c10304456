package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/db"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/otelcol"
	"apextrade-backend/pkg/profiling"
	"apextrade-backend/pkg/redis"
	pkgtask "apextrade-backend/pkg/task"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/notification"
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"
	"apextrade-backend/services/task"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		otelcol.Module,
		profiling.Module,
		db.Module,
		redis.Module,
		clock.Module,
		gen.Module,
		pkgtask.Client,
		pkgtask.Server,
		audit.Module,
		audit.Fanout,
		otp.Module,
		system.Module,
		ledger.Module,
		notification.Module,
		notification.Worker,
		task.Module,
		task.Worker,
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	app := fx.New(opts...)

	app.Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	if cfg.AppEnv == "development" {
		return &fxevent.ZapLogger{Logger: logger.Named("fx")}
	}
	return fxevent.NopLogger
})
