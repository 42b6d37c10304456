package audit

import (
	"apextrade-backend/pkg/gen"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
)

var Module = fx.Module("audit.service",
	fx.Provide(
		NewHub,
		NewService,
		func(s *Service) Recorder { return s },
	),
)

// Fanout shares recorded events between the API and worker processes
// through Redis, so every hub sees every event.
var Fanout = fx.Module("audit.fanout",
	fx.Provide(
		NewRedisRelay,
		func(r *RedisRelay) Relay { return r },
		func(node *snowflake.Node, relay Relay, hub *Hub) *Bridge {
			return NewBridge(gen.ID(node, "proc"), relay, hub)
		},
	),
	fx.Invoke(registerBridge),
)
