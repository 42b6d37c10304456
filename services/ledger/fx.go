package ledger

import (
	"apextrade-backend/services/otp"
	"apextrade-backend/services/system"

	"go.uber.org/fx"
)

var Module = fx.Module("ledger.service",
	fx.Provide(
		NewService,
		func(s *otp.Service) OTPIssuer { return s },
		func(s *system.Service) SettingsReader { return s },
	),
)
