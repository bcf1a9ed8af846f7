// Package terminal describes the card reader capability the payment pipeline
// drives, and ships an in-process simulator of it.
package terminal

import (
	"context"
	"errors"
	"fmt"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
)

type InputType string

const (
	InputInsertCard InputType = "insertCard"
	InputSwipeCard  InputType = "swipeCard"
	InputTapCard    InputType = "tapCard"
)

const (
	CodeCanceled     = "canceled"
	CodeCardDeclined = "card_declined"
	CodeNotConnected = "not_connected"
)

var ErrNotConnected = &Error{Code: CodeNotConnected, Message: "reader is not connected"}

// Error is what the reader reports when an operation fails.
type Error struct {
	Code    string
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// IsCanceled reports whether err came from CancelCollectPaymentMethod.
func IsCanceled(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Code == CodeCanceled
}

// Listener receives the reader's asynchronous notifications. Calls may arrive
// on any goroutine while a reader operation is outstanding.
type Listener interface {
	OnRequestReaderInput(inputs []InputType)
	OnRequestReaderDisplayMessage(message string)
}

type Reader interface {
	SetListener(l Listener)
	CreatePaymentIntent(ctx context.Context, params models.IntentParams) (*models.PaymentIntent, error)
	CollectPaymentMethod(ctx context.Context, intentID string) (*models.PaymentIntent, error)
	CancelCollectPaymentMethod(ctx context.Context) error
	ProcessPayment(ctx context.Context, intentID string) (*models.PaymentIntent, error)
}

// TokenProvider hands the reader the connection token it authenticates with.
type TokenProvider interface {
	CreateConnectionToken(ctx context.Context) (string, error)
}
