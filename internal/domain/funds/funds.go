package funds

import (
	"fmt"
	"strings"
	"time"

	"obgateway/internal/domain/money"
	"obgateway/internal/pagination"
)

// Result is the immutable outcome of one funds confirmation.
type Result struct {
	FundsConfirmationID string       `json:"FundsConfirmationId"`
	ConsentID           string       `json:"ConsentId"`
	Reference           string       `json:"Reference"`
	InstructedAmount    money.Amount `json:"InstructedAmount"`
	FundsAvailable      bool         `json:"FundsAvailable"`
	CreationDateTime    time.Time    `json:"CreationDateTime"`
}

// ValidateRequest checks the caller supplied reference and amount.
func ValidateRequest(reference string, amount money.Amount) error {
	if n := len(strings.TrimSpace(reference)); n == 0 || n > 35 {
		return fmt.Errorf("Reference must be 1-35 characters")
	}
	if err := amount.Validate(); err != nil {
		return fmt.Errorf("InstructedAmount: %w", err)
	}
	return nil
}

// Availability is the answer to a payment consent funds check; it is not stored.
type Availability struct {
	FundsAvailable   bool      `json:"FundsAvailable"`
	FundsAvailableAt time.Time `json:"FundsAvailableDateTime"`
}

func (r *Result) PageKey() pagination.Cursor {
	return pagination.Cursor{At: r.CreationDateTime, ID: r.FundsConfirmationID}
}
