package domain

import (
	"encoding/json"
	"time"
)

// Side é a direção apostada numa rodada UP_DOWN.
type Side string

const (
	SideUp   Side = "UP"
	SideDown Side = "DOWN"
)

func (s Side) Valid() bool { return s == SideUp || s == SideDown }

// ParseSide normaliza "up"/"down".
func ParseSide(s string) (Side, error) {
	switch s {
	case "UP", "up", "Up":
		return SideUp, nil
	case "DOWN", "down", "Down":
		return SideDown, nil
	}
	return "", Validationf("unknown side %q", s)
}

type choiceKind uint8

const (
	choiceNone choiceKind = iota
	choiceSide
	choiceRange
)

// Choice é a escolha de uma previsão: um lado (UP_DOWN) ou uma faixa (LEGENDS).
// Os campos são privados para que "os dois preenchidos" ou "nenhum" não existam
// fora do valor zero, que é rejeitado pela validação.
type Choice struct {
	kind  choiceKind
	side  Side
	price PriceRange
}

// SideChoice cria uma escolha de lado.
func SideChoice(s Side) Choice { return Choice{kind: choiceSide, side: s} }

// RangeChoice cria uma escolha de faixa.
func RangeChoice(r PriceRange) Choice { return Choice{kind: choiceRange, price: r} }

func (c Choice) Side() (Side, bool) { return c.side, c.kind == choiceSide }

func (c Choice) Range() (PriceRange, bool) { return c.price, c.kind == choiceRange }

func (c Choice) IsZero() bool { return c.kind == choiceNone }

// Mode devolve o modo de rodada compatível com a escolha.
func (c Choice) Mode() Mode {
	switch c.kind {
	case choiceSide:
		return ModeUpDown
	case choiceRange:
		return ModeLegends
	}
	return ""
}

// Matches indica se a escolha aposta no mesmo resultado que o.
func (c Choice) Matches(o Choice) bool {
	if c.kind != o.kind {
		return false
	}
	switch c.kind {
	case choiceSide:
		return c.side == o.side
	case choiceRange:
		return c.price.SameBounds(o.price)
	}
	return false
}

type choiceJSON struct {
	Side  *Side       `json:"side,omitempty"`
	Range *PriceRange `json:"range,omitempty"`
}

func (c Choice) MarshalJSON() ([]byte, error) {
	var out choiceJSON
	switch c.kind {
	case choiceSide:
		s := c.side
		out.Side = &s
	case choiceRange:
		r := c.price
		out.Range = &r
	}
	return json.Marshal(out)
}

func (c *Choice) UnmarshalJSON(b []byte) error {
	var in choiceJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	switch {
	case in.Side != nil && in.Range != nil:
		return Validationf("choice must be either side or range, not both")
	case in.Side != nil:
		if !in.Side.Valid() {
			return Validationf("unknown side %q", *in.Side)
		}
		*c = SideChoice(*in.Side)
	case in.Range != nil:
		*c = RangeChoice(*in.Range)
	default:
		*c = Choice{}
	}
	return nil
}

// Result é o resultado liquidado de uma previsão.
type Result string

const (
	ResultPending  Result = "PENDING"
	ResultWon      Result = "WON"
	ResultLost     Result = "LOST"
	ResultRefunded Result = "REFUNDED"
)

// Won traduz o resultado para o trinário won: true, false ou nil (reembolso).
// Para previsões ainda não liquidadas também devolve nil; use Settled.
func (r Result) Won() *bool {
	switch r {
	case ResultWon:
		v := true
		return &v
	case ResultLost:
		v := false
		return &v
	}
	return nil
}

func (r Result) Settled() bool { return r != ResultPending && r != "" }

// Prediction é a aposta de um usuário numa rodada. Imutável depois de criada,
// exceto Result/PayoutCents/SettledAt, escritos uma única vez na liquidação.
type Prediction struct {
	ID          string     `json:"id"`
	RoundID     string     `json:"roundId"`
	UserID      string     `json:"userId"`
	Mode        Mode       `json:"mode"`
	AmountCents int64      `json:"amountCents"`
	Choice      Choice     `json:"choice"`
	Result      Result     `json:"result"`
	PayoutCents int64      `json:"payoutCents"`
	CreatedAt   time.Time  `json:"createdAt"`
	SettledAt   *time.Time `json:"settledAt,omitempty"`
}
