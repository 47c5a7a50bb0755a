// Package pricesim é o fornecedor de preço simulado usado em ambiente local:
// gera um passeio aleatório, transmite os ticks por WebSocket e expõe um
// ledger consultivo falso para o round-service espelhar eventos.
package pricesim

import (
	"math/rand"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/radieske/prediction-rounds/pkg/contracts/events"
)

var minPrice = decimal.New(1, -2)

// Walk gera ticks por passeio aleatório multiplicativo. Seguro para goroutines.
type Walk struct {
	Symbol     string
	Source     string
	Volatility float64 // desvio padrão do retorno por tick (0.001 = 0,1%)

	mu    sync.Mutex
	price decimal.Decimal
	seq   int64
	rng   *rand.Rand
}

func NewWalk(symbol string, start decimal.Decimal, volatility float64, seed int64) *Walk {
	return &Walk{
		Symbol:     symbol,
		Source:     "price-simulator",
		Volatility: volatility,
		price:      start,
		rng:        rand.New(rand.NewSource(seed)),
	}
}

// Next avança um passo e devolve o tick correspondente.
func (w *Walk) Next(now time.Time) events.PriceTick {
	w.mu.Lock()
	defer w.mu.Unlock()

	ret := decimal.NewFromFloat(1 + w.rng.NormFloat64()*w.Volatility)
	w.price = w.price.Mul(ret).Round(2)
	if w.price.LessThan(minPrice) {
		w.price = minPrice
	}
	w.seq++

	return events.PriceTick{
		Symbol: w.Symbol,
		Price:  w.price,
		Ts:     now.UTC(),
		Source: w.Source,
		Seq:    w.seq,
	}
}

func (w *Walk) Price() decimal.Decimal {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.price
}
