package pricefeed

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-rounds/internal/domain"
)

// Feed fornece o último preço observado. Qualquer valor ausente, velho ou não
// positivo vira domain.ErrFeedUnavailable.
type Feed interface {
	CurrentPrice(ctx context.Context) (decimal.Decimal, error)
}

// Key é o hash Redis onde o ingest grava o último preço de symbol.
func Key(symbol string) string { return "price:" + symbol }

// HashReader é o subconjunto do client Redis usado pela leitura.
type HashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// HashWriter é o subconjunto do client Redis usado pelo ingest.
type HashWriter interface {
	HSet(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
}

// RedisFeed lê o hash price:<symbol> com campos price e ts (unix ms).
type RedisFeed struct {
	Client  HashReader
	Symbol  string
	MaxAge  time.Duration
	Timeout time.Duration
	Now     func() time.Time

	OnRead func(result string) // "ok", "missing", "stale", "invalid", "error"
}

func NewRedisFeed(client HashReader, symbol string, maxAge, timeout time.Duration) *RedisFeed {
	return &RedisFeed{Client: client, Symbol: symbol, MaxAge: maxAge, Timeout: timeout, Now: time.Now}
}

func (f *RedisFeed) CurrentPrice(ctx context.Context) (decimal.Decimal, error) {
	p, result, err := f.read(ctx)
	if f.OnRead != nil {
		f.OnRead(result)
	}
	return p, err
}

func (f *RedisFeed) read(ctx context.Context) (decimal.Decimal, string, error) {
	if f.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, f.Timeout)
		defer cancel()
	}

	vals, err := f.Client.HGetAll(ctx, Key(f.Symbol)).Result()
	if err != nil {
		return decimal.Zero, "error", fmt.Errorf("%w: %v", domain.ErrFeedUnavailable, err)
	}
	raw, ok := vals["price"]
	if !ok {
		return decimal.Zero, "missing", fmt.Errorf("%w: no price for %s", domain.ErrFeedUnavailable, f.Symbol)
	}

	price, err := decimal.NewFromString(raw)
	if err != nil || !price.IsPositive() {
		return decimal.Zero, "invalid", fmt.Errorf("%w: bad price %q", domain.ErrFeedUnavailable, raw)
	}

	if f.MaxAge > 0 {
		ms, err := strconv.ParseInt(vals["ts"], 10, 64)
		if err != nil {
			return decimal.Zero, "invalid", fmt.Errorf("%w: bad timestamp %q", domain.ErrFeedUnavailable, vals["ts"])
		}
		if age := f.Now().Sub(time.UnixMilli(ms)); age > f.MaxAge {
			return decimal.Zero, "stale", fmt.Errorf("%w: price is %s old", domain.ErrFeedUnavailable, age.Round(time.Millisecond))
		}
	}
	return price, "ok", nil
}

// Write grava o preço no formato lido por RedisFeed.
func Write(ctx context.Context, w HashWriter, symbol string, price decimal.Decimal, ts time.Time) error {
	return w.HSet(ctx, Key(symbol), "price", price.String(), "ts", strconv.FormatInt(ts.UnixMilli(), 10)).Err()
}

// Static devolve sempre o mesmo preço; usado pela CLI e em testes.
type Static struct {
	Price decimal.Decimal
	Err   error
}

func (s Static) CurrentPrice(context.Context) (decimal.Decimal, error) {
	if s.Err != nil {
		return decimal.Zero, s.Err
	}
	if !s.Price.IsPositive() {
		return decimal.Zero, domain.ErrFeedUnavailable
	}
	return s.Price, nil
}

// IsUnavailable ajuda os chamadores a distinguir feed fora do ar de outros erros.
func IsUnavailable(err error) bool { return errors.Is(err, domain.ErrFeedUnavailable) }
