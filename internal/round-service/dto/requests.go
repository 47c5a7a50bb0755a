package dto

import "github.com/shopspring/decimal"

type CreateRoundRequest struct {
	Mode            string           `json:"mode"` // "UP_DOWN" | "LEGENDS"
	DurationSeconds int64            `json:"durationSeconds"`
	StartPrice      *decimal.Decimal `json:"startPrice,omitempty"` // ausente: preço do feed
}

type ResolveRoundRequest struct {
	FinalPrice *decimal.Decimal `json:"finalPrice,omitempty"` // ausente: preço do feed
}

type RangeRequest struct {
	Min decimal.Decimal `json:"min"`
	Max decimal.Decimal `json:"max"`
}

// PlacePredictionRequest leva side (UP_DOWN) ou range (LEGENDS), nunca os dois.
type PlacePredictionRequest struct {
	UserID      string        `json:"userId"`
	RoundID     string        `json:"roundId"`
	AmountCents int64         `json:"amountCents"`
	Side        string        `json:"side,omitempty"`
	Range       *RangeRequest `json:"range,omitempty"`
}

type DepositRequest struct {
	AmountCents int64 `json:"amountCents"`
}
