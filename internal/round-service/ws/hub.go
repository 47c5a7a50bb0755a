package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/radieske/prediction-rounds/internal/pubsub"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

const writeWait = 5 * time.Second

// client serializa as escritas: gorilla não aceita writers concorrentes.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *client) write(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteMessage(websocket.TextMessage, b)
}

// Hub gerencia conexões WebSocket e assinaturas por rodada.
type Hub struct {
	upgrader websocket.Upgrader
	log      *zap.Logger
	mu       sync.RWMutex
	// roundID (ou "*") -> conexões
	subs map[string]map[*client]struct{}
}

// NewHub cria o Hub com política de origem customizada
func NewHub(log *zap.Logger, allowOrigin func(r *http.Request) bool) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
		log:      log,
		subs:     make(map[string]map[*client]struct{}),
	}
}

// HandleWS gerencia o ciclo de vida de uma conexão: subscribe/unsubscribe por
// rodada e ping.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := &client{conn: conn}
	defer func() {
		h.drop(c)
		_ = conn.Close()
	}()

	for {
		var msg ClientMsg
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case "subscribe":
			if msg.RoundID == "" {
				continue
			}
			h.mu.Lock()
			if _, ok := h.subs[msg.RoundID]; !ok {
				h.subs[msg.RoundID] = make(map[*client]struct{})
			}
			h.subs[msg.RoundID][c] = struct{}{}
			h.mu.Unlock()
			_ = c.write([]byte(`{"type":"subscribed","roundId":` + quote(msg.RoundID) + `}`))
		case "unsubscribe":
			h.mu.Lock()
			if m, ok := h.subs[msg.RoundID]; ok {
				delete(m, c)
				if len(m) == 0 {
					delete(h.subs, msg.RoundID)
				}
			}
			h.mu.Unlock()
		case "ping":
			_ = c.write([]byte(`{"type":"pong"}`))
		}
	}
}

// drop remove a conexão de todas as assinaturas ao desconectar
func (h *Hub) drop(c *client) {
	h.mu.Lock()
	for id, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, id)
		}
	}
	h.mu.Unlock()
}

// Subscribers conta conexões assinando roundID (sem contar "*").
func (h *Hub) Subscribers(roundID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[roundID])
}

// Broadcast envia a atualização aos inscritos na rodada e em "*".
func (h *Hub) Broadcast(update pubsub.WSUpdate) {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.subs[update.RoundID])+len(h.subs[AllRounds]))
	for c := range h.subs[update.RoundID] {
		targets = append(targets, c)
	}
	if update.RoundID != AllRounds {
		for c := range h.subs[AllRounds] {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()
	if len(targets) == 0 {
		return
	}

	b, err := json.Marshal(update)
	if err != nil {
		return
	}
	seen := make(map[*client]struct{}, len(targets))
	for _, c := range targets {
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		if err := c.write(b); err != nil {
			h.log.Debug("ws write failed", zap.Error(err))
		}
	}
}

// Publish permite usar o Hub direto como destino de eventos quando não há
// Redis (uma única instância do round-service).
func (h *Hub) Publish(_ context.Context, e events.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	h.Broadcast(pubsub.WSUpdate{Type: e.Name(), RoundID: e.Key(), Payload: payload})
	return nil
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
