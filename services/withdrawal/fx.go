package withdrawal

import (
	"apextrade-backend/pkg/minio"
	"apextrade-backend/pkg/sequence"
	"apextrade-backend/services/ledger"
	"apextrade-backend/services/otp"

	"go.uber.org/fx"
)

var Module = fx.Module("withdrawal.service",
	fx.Provide(
		NewService,
		func(s *ledger.Service) InvestmentReader { return s },
		func(s *otp.Service) OTPIssuer { return s },
		func(s *minio.Store) ObjectStore { return s },
		func(g *sequence.RedisGenerator) ReferenceGenerator { return g },
	),
)
