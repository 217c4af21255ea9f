package api

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"

	"github.com/punchamoorthee/parimutuel/internal/domain"
)

type CreateMarketRequest struct {
	MarketID string `json:"market_id" validate:"required,max=50"`
	Question string `json:"question" validate:"required,max=200"`
	EndTime  int64  `json:"end_time" validate:"required,gt=0"`
}

type StakeRequest struct {
	Outcome domain.Outcome `json:"outcome" validate:"required,oneof=yes no"`
	Amount  int64          `json:"amount" validate:"required,gt=0"`
}

type ResolveRequest struct {
	WinningOutcome domain.Outcome `json:"winning_outcome" validate:"required,oneof=yes no"`
}

// AddressesResponse is the offline derivation of a market's addresses.
type AddressesResponse struct {
	MarketID      string `json:"market_id"`
	MarketAddress string `json:"market_address"`
	EscrowAddress string `json:"escrow_address"`
}

type ArchiveResponse struct {
	Key string `json:"key"`
}

// fieldErrors maps a failed DTO field to the engine error a caller would
// have received for the same value.
var fieldErrors = map[string]*domain.Error{
	"MarketID":       domain.ErrInvalidMarketID,
	"Question":       domain.ErrInvalidQuestion,
	"EndTime":        domain.ErrInvalidEndTime,
	"Outcome":        domain.ErrInvalidOutcome,
	"WinningOutcome": domain.ErrInvalidOutcome,
	"Amount":         domain.ErrInvalidAmount,
}

// validationError turns the first validator failure into a domain error.
func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err
	}
	fe := verrs[0]
	msg := fmt.Sprintf("%s failed %q validation", fe.Field(), fe.Tag())
	if de, ok := fieldErrors[fe.StructField()]; ok {
		return de.WithMessage(msg)
	}
	return domain.ErrInvalidInstruction.WithMessage(msg)
}
