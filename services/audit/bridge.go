package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const (
	BridgeChannel = "audit:events"

	bridgeRetryDelay = time.Second
)

// Relay carries encoded events between processes.
type Relay interface {
	Send(ctx context.Context, payload []byte) error
	// Listen blocks, calling fn for every payload until ctx is done.
	Listen(ctx context.Context, fn func(payload []byte)) error
}

type envelope struct {
	Origin string `json:"origin"`
	Event  Event  `json:"event"`
}

// Bridge joins the local Hub to the hubs of the other processes. Events
// recorded here are forwarded; events from elsewhere are republished
// locally. A process never republishes its own events.
type Bridge struct {
	origin string
	relay  Relay
	hub    *Hub
}

func NewBridge(origin string, relay Relay, hub *Hub) *Bridge {
	return &Bridge{origin: origin, relay: relay, hub: hub}
}

func (b *Bridge) Forward(ctx context.Context, ev Event) error {
	raw, err := json.Marshal(envelope{Origin: b.origin, Event: ev})
	if err != nil {
		return err
	}
	return b.relay.Send(ctx, raw)
}

func (b *Bridge) Run(ctx context.Context) error {
	return b.relay.Listen(ctx, b.receive)
}

func (b *Bridge) receive(raw []byte) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		zap.L().Warn("dropping malformed bridged event", zap.Error(err))
		return
	}
	if env.Origin == b.origin {
		return
	}
	b.hub.Publish(env.Event)
}

// RedisRelay is a Relay over Redis pub/sub.
type RedisRelay struct {
	rdb     *redis.Client
	channel string
}

func NewRedisRelay(rdb *redis.Client) *RedisRelay {
	return &RedisRelay{rdb: rdb, channel: BridgeChannel}
}

func (r *RedisRelay) Send(ctx context.Context, payload []byte) error {
	return r.rdb.Publish(ctx, r.channel, payload).Err()
}

func (r *RedisRelay) Listen(ctx context.Context, fn func(payload []byte)) error {
	sub := r.rdb.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			fn([]byte(msg.Payload))
		}
	}
}

func registerBridge(lc fx.Lifecycle, b *Bridge) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				defer close(done)
				for {
					err := b.Run(ctx)
					if ctx.Err() != nil {
						return
					}
					zap.L().Warn("event bridge stopped, reconnecting", zap.String("origin", b.origin), zap.Error(err))
					select {
					case <-ctx.Done():
						return
					case <-time.After(bridgeRetryDelay):
					}
				}
			}()
			return nil
		},
		OnStop: func(stopCtx context.Context) error {
			cancel()
			select {
			case <-done:
			case <-stopCtx.Done():
			}
			return nil
		},
	})
}
