package pricesim

import (
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// LedgerMock imita o ledger consultivo externo. Grava cada espelho pela
// Idempotency-Key: reenvios respondem 200 sem duplicar, novos respondem 201.
type LedgerMock struct {
	log *zap.Logger

	mu      sync.Mutex
	entries map[string]json.RawMessage
}

func NewLedgerMock(log *zap.Logger) *LedgerMock {
	return &LedgerMock{log: log, entries: make(map[string]json.RawMessage)}
}

// Routes monta POST /rounds e POST /rounds/{id}/{kind}.
func (l *LedgerMock) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/rounds", l.record)
	r.Post("/rounds/{id}/{kind}", l.record)
	return r
}

func (l *LedgerMock) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *LedgerMock) record(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("Idempotency-Key")
	if key == "" {
		http.Error(w, "missing Idempotency-Key", http.StatusBadRequest)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil || !json.Valid(body) {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	l.mu.Lock()
	_, seen := l.entries[key]
	if !seen {
		l.entries[key] = body
	}
	l.mu.Unlock()

	status := http.StatusCreated
	if seen {
		status = http.StatusOK
	}
	l.log.Debug("ledger mirror",
		zap.String("path", r.URL.Path),
		zap.String("idempotency_key", key),
		zap.Bool("replay", seen))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"key": key, "replay": seen})
}
