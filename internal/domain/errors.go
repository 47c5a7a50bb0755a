package domain

import (
	"errors"
	"fmt"
)

// Erros base. Os específicos embrulham um destes com %w, então errors.Is
// funciona tanto com o erro exato quanto com a categoria.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidState        = errors.New("invalid state")
	ErrValidation          = errors.New("validation error")
	ErrDuplicatePrediction = errors.New("duplicate prediction")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyResolved     = errors.New("round already resolved")
	ErrFeedUnavailable     = errors.New("price feed unavailable")
	ErrExternalLedger      = errors.New("external ledger error")
)

var (
	ErrRoundNotFound      = fmt.Errorf("round %w", ErrNotFound)
	ErrPredictionNotFound = fmt.Errorf("prediction %w", ErrNotFound)
	ErrUserNotFound       = fmt.Errorf("user %w", ErrNotFound)
	ErrRoundNotActive     = fmt.Errorf("%w: round not active", ErrInvalidState)
)

// Validationf cria um erro de validação com mensagem formatada.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
