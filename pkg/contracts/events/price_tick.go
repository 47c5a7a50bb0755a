package events

import (
	"time"

	"github.com/shopspring/decimal"

	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

// Evento publicado no tópico "price_ticks" pelo price-ingest-service
type PriceTick struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
	Ts     time.Time       `json:"ts"`
	Source string          `json:"source"` // "price-simulator"
	Seq    int64           `json:"seq"`
}

func (e PriceTick) Name() string { return ctopics.PriceTicks }
func (e PriceTick) Key() string  { return e.Symbol }
