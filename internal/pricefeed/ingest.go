package pricefeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/notify"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// WSClient consome ticks de preço de um fornecedor via WebSocket, grava o
// último preço no Redis e republica cada tick no Kafka.
type WSClient struct {
	URL       string      // endpoint WebSocket do fornecedor
	Symbol    string      // ticks de outros símbolos são ignorados
	Log       *zap.Logger
	Store     HashWriter  // Redis com o último preço
	Publisher notify.Sink // opcional; tópico price_ticks

	MinBackoff time.Duration
	MaxBackoff time.Duration

	OnTick func(result string) // "ok", "invalid", "ignored", "error"

	lastSeq int64
	lastTs  time.Time
}

// Start inicia o loop de conexão e escuta do WebSocket.
// Em caso de desconexão, reconecta com backoff exponencial até MaxBackoff.
func (c *WSClient) Start(ctx context.Context) {
	minB, maxB := c.MinBackoff, c.MaxBackoff
	if minB <= 0 {
		minB = 500 * time.Millisecond
	}
	if maxB < minB {
		maxB = 10 * time.Second
	}
	backoff := minB

	for {
		if ctx.Err() != nil {
			c.Log.Info("context canceled, stopping WS client")
			return
		}

		received, err := c.connectAndListen(ctx)
		if err == nil && ctx.Err() != nil {
			continue
		}
		if received {
			backoff = minB
		}
		c.Log.Warn("connection closed", zap.Error(err), zap.Duration("retry_in", backoff))

		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
		if backoff *= 2; backoff > maxB {
			backoff = maxB
		}
	}
}

// connectAndListen devolve received=true se ao menos uma mensagem chegou,
// para zerar o backoff só em conexões que realmente funcionaram.
func (c *WSClient) connectAndListen(ctx context.Context) (received bool, err error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.URL, nil)
	if err != nil {
		return false, err
	}
	defer conn.Close()
	c.Log.Info("connected to price WS", zap.String("url", c.URL))

	// fecha a conexão no cancelamento para destravar o ReadMessage
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure) || ctx.Err() != nil {
				return received, nil
			}
			return received, err
		}
		received = true

		if err := c.Handle(ctx, message); err != nil {
			c.Log.Warn("tick dropped", zap.Error(err))
		}
	}
}

// Handle processa uma mensagem do fornecedor.
func (c *WSClient) Handle(ctx context.Context, message []byte) error {
	var tick events.PriceTick
	if err := json.Unmarshal(message, &tick); err != nil {
		c.report("invalid")
		return fmt.Errorf("invalid message: %w", err)
	}
	if !tick.Price.IsPositive() || tick.Ts.IsZero() {
		c.report("invalid")
		return errors.New("invalid tick: price and ts are required")
	}
	if c.Symbol != "" && !strings.EqualFold(tick.Symbol, c.Symbol) {
		c.report("ignored")
		return nil
	}
	// tick reenviado após reconexão. Um fornecedor reiniciado volta a contar
	// seq do 1, então só descarta se o ts também não avançou.
	if tick.Seq > 0 && tick.Seq <= c.lastSeq && !tick.Ts.After(c.lastTs) {
		c.report("ignored")
		return nil
	}

	symbol := c.Symbol
	if symbol == "" {
		symbol = tick.Symbol
	}
	if err := Write(ctx, c.Store, symbol, tick.Price, tick.Ts); err != nil {
		c.report("error")
		return fmt.Errorf("store price: %w", err)
	}
	c.lastSeq = tick.Seq
	if tick.Ts.After(c.lastTs) {
		c.lastTs = tick.Ts
	}

	if c.Publisher != nil {
		if err := c.Publisher.Publish(ctx, tick); err != nil {
			c.Log.Error("failed to publish tick", zap.Error(err))
		}
	}
	c.report("ok")
	return nil
}

func (c *WSClient) report(result string) {
	if c.OnTick != nil {
		c.OnTick(result)
	}
}
