package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Mode define o tipo de aposta aceito por uma rodada.
type Mode string

const (
	ModeUpDown  Mode = "UP_DOWN"
	ModeLegends Mode = "LEGENDS"
)

func (m Mode) Valid() bool { return m == ModeUpDown || m == ModeLegends }

// ParseMode aceita o nome canônico ou as formas curtas usadas na CLI/API.
func ParseMode(s string) (Mode, error) {
	switch s {
	case string(ModeUpDown), "updown", "up_down", "UPDOWN":
		return ModeUpDown, nil
	case string(ModeLegends), "legends":
		return ModeLegends, nil
	}
	return "", Validationf("unknown mode %q", s)
}

// RoundStatus representa o estado da rodada. Só avança:
// PENDING/ACTIVE -> LOCKED -> RESOLVED | CANCELLED.
type RoundStatus string

const (
	StatusPending   RoundStatus = "PENDING"
	StatusActive    RoundStatus = "ACTIVE"
	StatusLocked    RoundStatus = "LOCKED"
	StatusResolved  RoundStatus = "RESOLVED"
	StatusCancelled RoundStatus = "CANCELLED"
)

// Terminal indica se a rodada já foi liquidada ou cancelada.
func (s RoundStatus) Terminal() bool { return s == StatusResolved || s == StatusCancelled }

// Parâmetros da faixa do modo Legends: 5 faixas de 5% do preço inicial,
// começando duas larguras abaixo do preço.
const (
	LegendsRangeCount  = 5
	legendsBelowRanges = 2
)

var legendsWidthRatio = decimal.RequireFromString("0.05")

// PriceRange é uma faixa semiaberta [Min, Max) com o seu pool.
type PriceRange struct {
	Index     int             `json:"index"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	PoolCents int64           `json:"poolCents"`
}

// Contains aplica a regra Min <= price < Max.
func (r PriceRange) Contains(price decimal.Decimal) bool {
	return r.Min.LessThanOrEqual(price) && price.LessThan(r.Max)
}

// SameBounds compara só os limites, ignorando índice e pool.
func (r PriceRange) SameBounds(o PriceRange) bool {
	return r.Min.Equal(o.Min) && r.Max.Equal(o.Max)
}

// LegendsRanges particiona a banda em torno de startPrice em faixas contíguas
// de mesma largura (5% do preço inicial), todas com pool zero.
func LegendsRanges(startPrice decimal.Decimal) []PriceRange {
	width := startPrice.Mul(legendsWidthRatio)
	lower := startPrice.Sub(width.Mul(decimal.NewFromInt(legendsBelowRanges)))
	out := make([]PriceRange, LegendsRangeCount)
	for i := range out {
		lo := lower.Add(width.Mul(decimal.NewFromInt(int64(i))))
		out[i] = PriceRange{Index: i, Min: lo, Max: lo.Add(width)}
	}
	return out
}

// Round é uma janela de apostas sobre um único movimento de preço.
type Round struct {
	ID         string           `json:"id"`
	Mode       Mode             `json:"mode"`
	Status     RoundStatus      `json:"status"`
	StartTime  time.Time        `json:"startTime"`
	EndTime    time.Time        `json:"endTime"`
	ResolvedAt *time.Time       `json:"resolvedAt,omitempty"`
	StartPrice decimal.Decimal  `json:"startPrice"`
	EndPrice   *decimal.Decimal `json:"endPrice,omitempty"`

	PoolUpCents    int64        `json:"poolUpCents"`
	PoolDownCents  int64        `json:"poolDownCents"`
	TotalPoolCents int64        `json:"totalPoolCents"`
	Ranges         []PriceRange `json:"ranges,omitempty"` // só Legends

	CreatedAt time.Time `json:"createdAt"`
}

// Expired indica se o prazo de apostas já passou em now.
func (r *Round) Expired(now time.Time) bool { return !now.Before(r.EndTime) }

// AcceptsBets combina o status com o lock implícito por expiração.
func (r *Round) AcceptsBets(now time.Time) bool {
	return r.Status == StatusActive && !r.Expired(now)
}

// MatchRange procura a faixa pré-definida com exatamente os mesmos limites.
func (r *Round) MatchRange(want PriceRange) (PriceRange, bool) {
	for _, pr := range r.Ranges {
		if pr.SameBounds(want) {
			return pr, true
		}
	}
	return PriceRange{}, false
}

// RangeFor devolve a faixa vencedora para price, se houver.
func (r *Round) RangeFor(price decimal.Decimal) (PriceRange, bool) {
	for _, pr := range r.Ranges {
		if pr.Contains(price) {
			return pr, true
		}
	}
	return PriceRange{}, false
}
