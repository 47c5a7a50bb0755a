// Package producer publica os eventos de rodada no Kafka.
package producer

import (
	"context"
	"encoding/json"
	"fmt"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/shared/kafka"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// KafkaSink serializa cada evento em JSON e envia para o tópico do seu tipo.
// A chave é e.Key(): eventos da mesma rodada caem na mesma partição.
type KafkaSink struct {
	W      kafka.MessageWriter
	Topics map[string]string // nome do evento -> tópico; ausente usa o próprio nome
	Log    *zap.Logger
}

func New(w kafka.MessageWriter, topics map[string]string, log *zap.Logger) *KafkaSink {
	return &KafkaSink{W: w, Topics: topics, Log: log}
}

func (p *KafkaSink) Topic(name string) string {
	if t, ok := p.Topics[name]; ok && t != "" {
		return t
	}
	return name
}

func (p *KafkaSink) Publish(ctx context.Context, e events.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", e.Name(), err)
	}

	topic := p.Topic(e.Name())
	if err := kafka.WriteJSON(ctx, p.W, topic, e.Key(), value,
		kafkago.Header{Key: "event", Value: []byte(e.Name())}); err != nil {
		return fmt.Errorf("kafka write %s: %w", topic, err)
	}

	p.Log.Debug("event published", zap.String("topic", topic), zap.String("key", e.Key()))
	return nil
}
