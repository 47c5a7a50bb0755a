package topics

const (
	// Rodadas
	RoundStarted   = "round_started"
	RoundLocked    = "round_locked"
	RoundResolved  = "round_resolved"
	RoundCancelled = "round_cancelled"

	// Previsões
	PredictionPlaced = "prediction_placed"

	// Preço
	PriceTicks = "price_ticks"
)
