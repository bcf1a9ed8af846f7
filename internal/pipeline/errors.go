package pipeline

import (
	"errors"
	"fmt"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/terminal"
)

var (
	ErrValidation      = errors.New("invalid payment request")
	ErrIntentCreation  = errors.New("payment intent creation failed")
	ErrMissingIntentID = errors.New("no payment intent id returned")
	ErrCollection      = errors.New("payment method collection failed")
	ErrProcessing      = errors.New("payment processing failed")
	ErrMissingCharge   = errors.New("processed intent has no charge")
	ErrCapture         = errors.New("payment capture failed")
	ErrFinalization    = errors.New("transaction finalization failed")

	ErrBusy          = errors.New("a payment is already in progress")
	ErrNotCollecting = errors.New("no payment method collection in progress")
)

// errCanceled is how the collector reports an operator cancel. It never
// reaches callers.
var errCanceled = errors.New("collection canceled")

const (
	CodeNoCode        = "no_code"
	CodeMissingCharge = "missing_charge"
)

// PipelineError is the code/message pair a stage failed with. Kind is one of
// the Err* sentinels above.
type PipelineError struct {
	Kind    error
	Code    string
	Message string
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("%v: %s: %s", e.Kind, e.Code, e.Message)
}

func (e *PipelineError) Unwrap() error {
	return e.Kind
}

func newError(kind error, code, message string) *PipelineError {
	return &PipelineError{Kind: kind, Code: orNoCode(code), Message: message}
}

// codeOf pulls a code/message pair out of whatever a reader or the backend
// returned.
func codeOf(err error) (string, string) {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Code, pe.Message
	}
	var te *terminal.Error
	if errors.As(err, &te) {
		return orNoCode(te.Code), te.Message
	}
	var ae *models.APIError
	if errors.As(err, &ae) {
		return orNoCode(ae.Code), ae.Message
	}
	return CodeNoCode, err.Error()
}

func orNoCode(code string) string {
	if code == "" {
		return CodeNoCode
	}
	return code
}
