package pubsub

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"

	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

const ChannelRoundUpdates = "round_updates_broadcast"

// Publisher é o subconjunto do client Redis usado no broadcast.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisBroadcaster repassa os eventos de rodada para as instâncias do
// round-service, que entregam aos clientes WebSocket.
type RedisBroadcaster struct {
	r       Publisher
	channel string
}

func NewRedisBroadcaster(r Publisher, channel string) *RedisBroadcaster {
	if channel == "" {
		channel = ChannelRoundUpdates
	}
	return &RedisBroadcaster{r: r, channel: channel}
}

func (b *RedisBroadcaster) Channel() string { return b.channel }

func (b *RedisBroadcaster) Publish(ctx context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg, err := json.Marshal(WSUpdate{Type: e.Name(), RoundID: e.Key(), Payload: payload})
	if err != nil {
		return err
	}
	return b.r.Publish(ctx, b.channel, msg).Err()
}

// Payload padrão para o WS do round-service
type WSUpdate struct {
	Type    string          `json:"type"` // nome do evento: round_started, round_resolved...
	RoundID string          `json:"roundId"`
	Payload json.RawMessage `json:"payload"`
}
