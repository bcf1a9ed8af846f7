package pipeline

import (
	"fmt"
	"strings"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/money"
)

// NewPaymentRequest parses and validates an operator-entered amount and fills
// in the application fee. Any failure wraps ErrValidation.
func NewPaymentRequest(amount, currency, account, email string) (models.PaymentRequest, error) {
	a, err := money.Parse(amount)
	if err != nil {
		return models.PaymentRequest{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	req := models.PaymentRequest{
		Amount:             a,
		Currency:           strings.ToLower(strings.TrimSpace(currency)),
		ConnectedAccountID: strings.TrimSpace(account),
		Email:              strings.TrimSpace(email),
	}
	if err := validate(req); err != nil {
		return models.PaymentRequest{}, err
	}
	req.ApplicationFeeAmount = money.ApplicationFee(money.ToMinor(a))
	return req, nil
}

func validate(req models.PaymentRequest) error {
	if err := money.Validate(req.Amount); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if req.ConnectedAccountID == "" {
		return fmt.Errorf("%w: connected account is required", ErrValidation)
	}
	if req.Currency == "" {
		return fmt.Errorf("%w: currency is required", ErrValidation)
	}
	return nil
}

func intentParams(req models.PaymentRequest) models.IntentParams {
	return models.IntentParams{
		Amount:                  money.ToMinor(req.Amount),
		Currency:                req.Currency,
		PaymentMethodTypes:      []string{"card_present"},
		SetupFutureUsage:        "off_session",
		OnBehalfOf:              req.ConnectedAccountID,
		TransferDataDestination: req.ConnectedAccountID,
		ApplicationFeeAmount:    money.ApplicationFee(money.ToMinor(req.Amount)),
	}
}
