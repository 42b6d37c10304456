package user

import (
	"apextrade-backend/services/ledger"

	"go.uber.org/fx"
)

var Module = fx.Module("user.service",
	fx.Provide(
		NewService,
		func(s *ledger.Service) OwnerAssigner { return s },
	),
)
