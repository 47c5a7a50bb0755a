package events

import (
	"time"

	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

// PredictionPlaced carrega side ou range, nunca os dois.
type PredictionPlaced struct {
	RoundID      string      `json:"roundId"`
	PredictionID string      `json:"predictionId"`
	UserID       string      `json:"userId"`
	AmountCents  int64       `json:"amountCents"`
	Side         string      `json:"side,omitempty"`
	Range        *PriceRange `json:"range,omitempty"`
	Ts           time.Time   `json:"ts"`
}

func (e PredictionPlaced) Name() string { return ctopics.PredictionPlaced }

// particionado pela rodada para manter a ordem das apostas de uma mesma rodada
func (e PredictionPlaced) Key() string { return e.RoundID }
