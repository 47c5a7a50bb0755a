package kafka

import (
	"context"
	"time"

	"github.com/segmentio/kafka-go"
)

type Writer = kafka.Writer

type Message = kafka.Message

// MessageWriter é o que os publishers precisam do *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewWriter cria um writer. topic vazio permite escolher o tópico por mensagem.
func NewWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{}, // mesma chave, mesma partição
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
		BatchTimeout:           50 * time.Millisecond,
		ReadTimeout:            10 * time.Second,
		WriteTimeout:           10 * time.Second,
	}
}

// helper pra enviar mensagem simples
func WriteJSON(ctx context.Context, w MessageWriter, topic, key string, payload []byte, headers ...kafka.Header) error {
	msg := kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   payload,
		Headers: headers,
		Time:    time.Now(),
	}

	return w.WriteMessages(ctx, msg)
}
