package main

import (
	"log"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"

	apihttp "apextrade-backend/internal/httpapi"
	"apextrade-backend/pkg/clock"
	"apextrade-backend/pkg/config"
	"apextrade-backend/pkg/db"
	"apextrade-backend/pkg/gen"
	"apextrade-backend/pkg/health"
	"apextrade-backend/pkg/httpapi"
	"apextrade-backend/pkg/logger"
	"apextrade-backend/pkg/minio"
	"apextrade-backend/pkg/otelcol"
	"apextrade-backend/pkg/profiling"
	"apextrade-backend/pkg/redis"
	"apextrade-backend/pkg/sequence"
	"apextrade-backend/pkg/server"
	"apextrade-backend/pkg/task"
	"apextrade-backend/services/audit"
	"apextrade-backend/services/bootstrap"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/notification"
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"
	"apextrade-backend/services/user"
	"apextrade-backend/services/withdrawal"
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
		task.Client,
		sequence.Module,
		minio.Client,
		health.Module,
		httpapi.Module,
		audit.Module,
		audit.Fanout,
		otp.Module,
		system.Module,
		ledger.Module,
		user.Module,
		withdrawal.Module,
		notification.Module,
		notification.Publisher,
		bootstrap.Module,
		apihttp.Module,
		server.ProvideHTTPServer,
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
