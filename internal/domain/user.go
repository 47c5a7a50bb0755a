package domain

import "time"

// User é o recorte da entidade externa de usuário que este núcleo altera:
// saldo e sequência de vitórias.
type User struct {
	ID           string    `json:"id"`
	BalanceCents int64     `json:"balanceCents"`
	WinStreak    int       `json:"winStreak"`
	CreatedAt    time.Time `json:"createdAt"`
}

// StreakUpdate descreve o efeito da liquidação na sequência de vitórias.
type StreakUpdate int

const (
	StreakKeep StreakUpdate = iota
	StreakIncrement
	StreakReset
)

// UserStats são contadores vitalícios por usuário; só crescem.
type UserStats struct {
	UserID               string    `json:"userId"`
	TotalPredictions     int64     `json:"totalPredictions"`
	CorrectPredictions   int64     `json:"correctPredictions"`
	TotalEarningsCents   int64     `json:"totalEarningsCents"`
	UpDownWins           int64     `json:"upDownWins"`
	UpDownLosses         int64     `json:"upDownLosses"`
	UpDownEarningsCents  int64     `json:"upDownEarningsCents"`
	LegendsWins          int64     `json:"legendsWins"`
	LegendsLosses        int64     `json:"legendsLosses"`
	LegendsEarningsCents int64     `json:"legendsEarningsCents"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// Accuracy é correctPredictions / totalPredictions (0 sem previsões).
func (s UserStats) Accuracy() float64 {
	if s.TotalPredictions == 0 {
		return 0
	}
	return float64(s.CorrectPredictions) / float64(s.TotalPredictions)
}

// StatsDelta é o incremento aplicado por uma previsão liquidada.
type StatsDelta struct {
	TotalPredictions     int64
	CorrectPredictions   int64
	TotalEarningsCents   int64
	UpDownWins           int64
	UpDownLosses         int64
	UpDownEarningsCents  int64
	LegendsWins          int64
	LegendsLosses        int64
	LegendsEarningsCents int64
}

func (d StatsDelta) IsZero() bool { return d == StatsDelta{} }

// LeaderboardEntry é uma linha do ranking; Rank é calculado na leitura.
type LeaderboardEntry struct {
	Rank  int       `json:"rank"`
	Stats UserStats `json:"stats"`
}
