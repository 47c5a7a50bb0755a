package pricesim

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// Server junta o passeio, o hub WS e o ledger falso.
type Server struct {
	Log    *zap.Logger
	Walk   *Walk
	Hub    *Hub
	Ledger *LedgerMock
	Now    func() time.Time
}

func NewServer(log *zap.Logger, walk *Walk) *Server {
	return &Server{
		Log:    log,
		Walk:   walk,
		Hub:    NewHub(log),
		Ledger: NewLedgerMock(log),
		Now:    time.Now,
	}
}

// Router expõe /ws (ticks) e /ledger/* (ledger consultivo falso).
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.Hub.HandleWS)
	r.Mount("/ledger", s.Ledger.Routes())
	return r
}

// Run emite um tick a cada interval até ctx terminar.
func (s *Server) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			tick := s.Walk.Next(s.Now())
			s.Hub.Broadcast(tick)
			s.Log.Debug("tick", zap.String("price", tick.Price.String()), zap.Int64("seq", tick.Seq))
		}
	}
}
