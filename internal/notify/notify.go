package notify

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// Sink entrega eventos de rodada para algum destino (Kafka, Redis, HTTP, S3).
type Sink interface {
	Publish(ctx context.Context, e events.Event) error
}

// SinkFunc adapta uma função para Sink.
type SinkFunc func(ctx context.Context, e events.Event) error

func (f SinkFunc) Publish(ctx context.Context, e events.Event) error { return f(ctx, e) }

// Nop descarta tudo.
type Nop struct{}

func (Nop) Publish(context.Context, events.Event) error { return nil }

// Named dá nome a um destino para logs e métricas.
type Named struct {
	Name string
	Sink Sink
}

// Fanout entrega cada evento a todos os destinos, em sequência, com timeout
// próprio por destino. Falhas são logadas e nunca devolvidas: o estado local já
// foi gravado quando um evento é emitido.
type Fanout struct {
	Log     *zap.Logger
	Sinks   []Named
	Timeout time.Duration

	OnPublished func(sink string)
	OnFailed    func(sink string)
}

// NewFanout cria o fan-out com timeout padrão de 2s por destino.
func NewFanout(log *zap.Logger, sinks ...Named) *Fanout {
	return &Fanout{Log: log, Sinks: sinks, Timeout: 2 * time.Second}
}

// Add inclui um destino; nil é ignorado para facilitar integrações opcionais.
func (f *Fanout) Add(name string, s Sink) {
	if s == nil {
		return
	}
	f.Sinks = append(f.Sinks, Named{Name: name, Sink: s})
}

func (f *Fanout) Publish(ctx context.Context, e events.Event) error {
	// o contexto do chamador pode já estar cancelado (request encerrado)
	base := context.WithoutCancel(ctx)
	for _, s := range f.Sinks {
		f.deliver(base, s, e)
	}
	return nil
}

func (f *Fanout) deliver(ctx context.Context, s Named, e events.Event) {
	timeout := f.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.Sink.Publish(ctx, e); err != nil {
		f.Log.Warn("event delivery failed",
			zap.String("sink", s.Name),
			zap.String("event", e.Name()),
			zap.String("key", e.Key()),
			zap.Error(err))
		if f.OnFailed != nil {
			f.OnFailed(s.Name)
		}
		return
	}
	if f.OnPublished != nil {
		f.OnPublished(s.Name)
	}
}
