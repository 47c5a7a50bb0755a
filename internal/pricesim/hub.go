package pricesim

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

type clientConn struct {
	id   string
	conn *websocket.Conn
	wmu  sync.Mutex
}

// Hub guarda os consumidores conectados e faz broadcast dos ticks.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*clientConn
	log     *zap.Logger

	OnConnections func(n int)
	OnSent        func()
}

func NewHub(log *zap.Logger) *Hub {
	return &Hub{clients: make(map[string]*clientConn), log: log}
}

func (h *Hub) add(c *clientConn) {
	h.mu.Lock()
	h.clients[c.id] = c
	n := len(h.clients)
	h.mu.Unlock()
	if h.OnConnections != nil {
		h.OnConnections(n)
	}
	h.log.Info("ws client connected", zap.String("client_id", c.id))
}

func (h *Hub) remove(id string) {
	h.mu.Lock()
	_, ok := h.clients[id]
	delete(h.clients, id)
	n := len(h.clients)
	h.mu.Unlock()
	if !ok {
		return
	}
	if h.OnConnections != nil {
		h.OnConnections(n)
	}
	h.log.Info("ws client disconnected", zap.String("client_id", id))
}

// Len devolve quantos consumidores estão conectados.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast envia v para todos os clientes. Quem falha na escrita é desconectado.
func (h *Hub) Broadcast(v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		h.log.Error("marshal tick", zap.Error(err))
		return
	}

	h.mu.RLock()
	targets := make([]*clientConn, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c.wmu.Lock()
		_ = c.conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
		err := c.conn.WriteMessage(websocket.TextMessage, msg)
		c.wmu.Unlock()
		if err != nil {
			h.log.Warn("ws write failed", zap.String("client_id", c.id), zap.Error(err))
			_ = c.conn.Close()
			h.remove(c.id)
			continue
		}
		if h.OnSent != nil {
			h.OnSent()
		}
	}
}

// HandleWS aceita um consumidor e descarta o que ele enviar até desconectar.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	c := &clientConn{id: uuid.NewString(), conn: conn}
	h.add(c)

	go func() {
		defer func() {
			h.remove(c.id)
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
