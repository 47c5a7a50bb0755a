package ws

// ClientMsg representa uma mensagem recebida do cliente WebSocket
// Type: subscribe | unsubscribe | ping
// RoundID: id da rodada ou "*" para todas
type ClientMsg struct {
	Type    string `json:"type"`
	RoundID string `json:"roundId"`
}

// AllRounds assina todas as rodadas.
const AllRounds = "*"
