package dto

import (
	"time"

	"github.com/radieske/prediction-rounds/internal/domain"
)

type ErrorResponse struct {
	Error string `json:"error"`
}

type RoundsResponse struct {
	Rounds []domain.Round `json:"rounds"`
	Limit  int            `json:"limit,omitempty"`
	Offset int            `json:"offset,omitempty"`
}

type PredictionsResponse struct {
	Predictions []domain.Prediction `json:"predictions"`
}

// SettlementResponse resume uma liquidação ou cancelamento.
type SettlementResponse struct {
	Round        *domain.Round `json:"round"`
	Outcome      string        `json:"outcome"`
	WinnerCount  int           `json:"winnerCount"`
	LoserCount   int           `json:"loserCount"`
	RefundCount  int           `json:"refundCount"`
	WinningCents int64         `json:"winningCents"`
	LosingCents  int64         `json:"losingCents"`
	PayoutCents  int64         `json:"payoutCents"`
}

type UserResponse struct {
	UserID       string    `json:"userId"`
	BalanceCents int64     `json:"balanceCents"`
	WinStreak    int       `json:"winStreak"`
	CreatedAt    time.Time `json:"createdAt"`
}

// UserStatsResponse achata as estatísticas e inclui accuracy calculada.
type UserStatsResponse struct {
	domain.UserStats
	Rank     int     `json:"rank"`
	Accuracy float64 `json:"accuracy"`
}

type LeaderboardResponse struct {
	Entries []UserStatsResponse `json:"entries"`
	Limit   int                 `json:"limit"`
	Offset  int                 `json:"offset"`
}

func NewUserStats(e domain.LeaderboardEntry) UserStatsResponse {
	return UserStatsResponse{UserStats: e.Stats, Rank: e.Rank, Accuracy: e.Stats.Accuracy()}
}

func NewUser(u *domain.User) UserResponse {
	return UserResponse{UserID: u.ID, BalanceCents: u.BalanceCents, WinStreak: u.WinStreak, CreatedAt: u.CreatedAt}
}
