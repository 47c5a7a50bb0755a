package events

import (
	"time"

	"github.com/shopspring/decimal"

	ctopics "github.com/radieske/prediction-rounds/pkg/contracts/topics"
)

// Evento publicado no tópico "round_started"
type RoundStarted struct {
	RoundID    string          `json:"roundId"`
	Mode       string          `json:"mode"` // "UP_DOWN" | "LEGENDS"
	StartTime  time.Time       `json:"startTime"`
	EndTime    time.Time       `json:"endTime"`
	StartPrice decimal.Decimal `json:"startPrice"`
	Ranges     []PriceRange    `json:"ranges,omitempty"`
}

type PriceRange struct {
	Index int             `json:"index"`
	Min   decimal.Decimal `json:"min"`
	Max   decimal.Decimal `json:"max"`
}

// RoundLocked sai tanto do lock explícito quanto da varredura de expiração.
type RoundLocked struct {
	RoundID  string    `json:"roundId"`
	Mode     string    `json:"mode"`
	LockedAt time.Time `json:"lockedAt"`
}

// RoundResolved é emitido uma única vez por rodada, após o commit da liquidação.
type RoundResolved struct {
	RoundID        string          `json:"roundId"`
	Mode           string          `json:"mode"`
	StartPrice     decimal.Decimal `json:"startPrice"`
	EndPrice       decimal.Decimal `json:"endPrice"`
	ResolvedAt     time.Time       `json:"resolvedAt"`
	Outcome        string          `json:"outcome"` // "UP", "DOWN", "RANGE_2", "REFUND"
	WinnerCount    int             `json:"winnerCount"`
	LoserCount     int             `json:"loserCount"`
	RefundCount    int             `json:"refundCount"`
	TotalPoolCents int64           `json:"totalPoolCents"`
}

type RoundCancelled struct {
	RoundID     string    `json:"roundId"`
	Mode        string    `json:"mode"`
	CancelledAt time.Time `json:"cancelledAt"`
	RefundCount int       `json:"refundCount"`
}

func (e RoundStarted) Name() string   { return ctopics.RoundStarted }
func (e RoundStarted) Key() string    { return e.RoundID }
func (e RoundLocked) Name() string    { return ctopics.RoundLocked }
func (e RoundLocked) Key() string     { return e.RoundID }
func (e RoundResolved) Name() string  { return ctopics.RoundResolved }
func (e RoundResolved) Key() string   { return e.RoundID }
func (e RoundCancelled) Name() string { return ctopics.RoundCancelled }
func (e RoundCancelled) Key() string  { return e.RoundID }
