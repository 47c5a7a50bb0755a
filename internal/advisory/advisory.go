// Package advisory espelha rodadas, apostas e resultados num ledger externo.
// É só consultivo: o store local continua sendo a fonte da verdade.
package advisory

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/radieske/prediction-rounds/internal/domain"
	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

// Client envia os espelhos por HTTP. Eventos sem rota (lock, ticks) são
// ignorados.
type Client struct {
	baseURL string
	client  *http.Client
}

func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: timeout},
	}
}

// route devolve o caminho do espelho para o evento, ou "" se não há.
func route(e events.Event) string {
	switch ev := e.(type) {
	case events.RoundStarted:
		return "/rounds"
	case events.PredictionPlaced:
		return "/rounds/" + url.PathEscape(ev.RoundID) + "/predictions"
	case events.RoundResolved:
		return "/rounds/" + url.PathEscape(ev.RoundID) + "/resolution"
	case events.RoundCancelled:
		return "/rounds/" + url.PathEscape(ev.RoundID) + "/cancellation"
	default:
		return ""
	}
}

func (c *Client) Publish(ctx context.Context, e events.Event) error {
	path := route(e)
	if path == "" {
		return nil
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("%w: marshal %s: %v", domain.ErrExternalLedger, e.Name(), err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: create request: %v", domain.ErrExternalLedger, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", e.Name()+":"+idempotencyKey(e))

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: send request: %v", domain.ErrExternalLedger, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("%w: unexpected status %d: %s", domain.ErrExternalLedger, resp.StatusCode, string(respBody))
	}
	return nil
}

// reenvios do mesmo evento não devem duplicar no ledger externo
func idempotencyKey(e events.Event) string {
	if p, ok := e.(events.PredictionPlaced); ok {
		return p.PredictionID
	}
	return e.Key()
}
