package ws

import (
	"context"
	"encoding/json"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/pubsub"
)

// Subscriber é o subconjunto do client Redis usado aqui.
type Subscriber interface {
	Subscribe(ctx context.Context, channels ...string) *redis.PubSub
}

// RunRedisSubscriber escuta o canal de broadcast e repassa cada atualização
// ao Hub até ctx ser cancelado.
func RunRedisSubscriber(ctx context.Context, r Subscriber, channel string, hub *Hub, log *zap.Logger) error {
	sub := r.Subscribe(ctx, channel)
	defer sub.Close() // encerra a inscrição ao finalizar o contexto

	// confirma a inscrição antes de entrar no loop
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}
	log.Info("ws subscriber listening", zap.String("channel", channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var upd pubsub.WSUpdate
			if err := json.Unmarshal([]byte(msg.Payload), &upd); err != nil {
				log.Warn("ws subscriber unmarshal error", zap.Error(err))
				continue
			}
			hub.Broadcast(upd)
		}
	}
}
