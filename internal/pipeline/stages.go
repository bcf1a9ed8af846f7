package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/gridpay-terminal/internal/eventlog"
	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/terminal"
)

const (
	GroupCreate  = "Create Payment Intent"
	GroupCollect = "Collect Payment Method"
	GroupProcess = "Process Payment"
	GroupCapture = "Capture Payment"
)

// Capturer captures an authorized intent on the backend.
type Capturer interface {
	CapturePaymentIntent(ctx context.Context, intentID, email string) (*models.CaptureResponse, error)
}

// Ledger receives finalized transactions.
type Ledger interface {
	ProcessTerminal(ctx context.Context, amount decimal.Decimal, email, account string) (*models.Transaction, error)
}

func failed(description string, err error) eventlog.Event {
	code, message := codeOf(err)
	return eventlog.Event{
		Name:        "Failed",
		Description: description,
		Metadata:    map[string]string{"errorCode": code, "errorMessage": message},
	}
}

type IntentCreator struct {
	reader terminal.Reader
	log    *eventlog.Log
}

func NewIntentCreator(reader terminal.Reader, log *eventlog.Log) *IntentCreator {
	return &IntentCreator{reader: reader, log: log}
}

func (c *IntentCreator) Create(ctx context.Context, req models.PaymentRequest) (*models.PaymentIntent, error) {
	const desc = "terminal.createPaymentIntent"
	c.log.Append(GroupCreate, eventlog.Event{Name: "Create", Description: desc})

	pi, err := c.reader.CreatePaymentIntent(ctx, intentParams(req))
	if err != nil {
		code, message := codeOf(err)
		perr := newError(ErrIntentCreation, code, message)
		c.log.Append(GroupCreate, failed(desc, perr))
		return nil, perr
	}
	if pi == nil || pi.ID == "" {
		perr := newError(ErrMissingIntentID, CodeNoCode, "No payment id returned")
		c.log.Append(GroupCreate, failed(desc, perr))
		return nil, perr
	}

	c.log.Append(GroupCreate, eventlog.Event{
		Name:        "Created",
		Description: desc,
		Metadata:    map[string]string{"paymentIntentId": pi.ID},
	})
	return pi, nil
}

// Collector drives the reader's card wait. It is also the reader's Listener,
// so prompts raised during the wait land in the collect group in the order
// they arrive.
type Collector struct {
	reader terminal.Reader
	log    *eventlog.Log

	mu     sync.Mutex
	active *collection
}

type collection struct {
	cancel func()
}

func NewCollector(reader terminal.Reader, log *eventlog.Log) *Collector {
	c := &Collector{reader: reader, log: log}
	reader.SetListener(c)
	return c
}

func (c *Collector) OnRequestReaderInput(inputs []terminal.InputType) {
	names := make([]string, len(inputs))
	for i, in := range inputs {
		names[i] = string(in)
	}
	c.log.Append(GroupCollect, eventlog.Event{
		Name:        strings.Join(names, " / "),
		Description: "terminal.didRequestReaderInput",
		Cancel:      c.cancelHook(),
	})
}

func (c *Collector) OnRequestReaderDisplayMessage(message string) {
	c.log.Append(GroupCollect, eventlog.Event{
		Name:        message,
		Description: "terminal.didRequestReaderDisplayMessage",
	})
}

func (c *Collector) cancelHook() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.active == nil {
		return nil
	}
	return c.active.cancel
}

// Collect waits for a card. cancel is attached to the log so a viewer can
// interrupt the wait. An interrupted wait returns errCanceled and logs nothing
// further.
func (c *Collector) Collect(ctx context.Context, intentID string, cancel func()) (*models.PaymentIntent, error) {
	const desc = "terminal.collectPaymentMethod"

	cur := &collection{cancel: cancel}
	c.mu.Lock()
	c.active = cur
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		if c.active == cur {
			c.active = nil
		}
		c.mu.Unlock()
	}()

	c.log.Append(GroupCollect, eventlog.Event{
		Name:        "Collect",
		Description: desc,
		Metadata:    map[string]string{"paymentIntentId": intentID},
		Cancel:      cancel,
	})

	pi, err := c.reader.CollectPaymentMethod(ctx, intentID)
	if terminal.IsCanceled(err) || errors.Is(err, context.Canceled) || ctx.Err() != nil {
		return nil, errCanceled
	}
	if err != nil {
		code, message := codeOf(err)
		perr := newError(ErrCollection, code, message)
		c.log.Append(GroupCollect, failed(desc, perr))
		return nil, perr
	}

	id := intentID
	if pi != nil && pi.ID != "" {
		id = pi.ID
	}
	c.log.Append(GroupCollect, eventlog.Event{
		Name:        "Collected",
		Description: desc,
		Metadata:    map[string]string{"paymentIntentId": id},
	})
	return pi, nil
}

type ProcessResult struct {
	Intent   *models.PaymentIntent
	ChargeID string
	// Succeeded means the processor already settled the intent and there is
	// nothing to capture.
	Succeeded bool
}

type Processor struct {
	reader terminal.Reader
	log    *eventlog.Log
}

func NewProcessor(reader terminal.Reader, log *eventlog.Log) *Processor {
	return &Processor{reader: reader, log: log}
}

func (p *Processor) Process(ctx context.Context, intentID string) (*ProcessResult, error) {
	const desc = "terminal.processPayment"
	p.log.Append(GroupProcess, eventlog.Event{
		Name:        "Process",
		Description: desc,
		Metadata:    map[string]string{"paymentIntentId": intentID},
	})

	pi, err := p.reader.ProcessPayment(ctx, intentID)
	if err != nil {
		code, message := codeOf(err)
		perr := newError(ErrProcessing, code, message)
		p.log.Append(GroupProcess, failed(desc, perr))
		return nil, perr
	}
	if pi == nil {
		perr := newError(ErrProcessing, CodeNoCode, "No payment intent returned")
		p.log.Append(GroupProcess, failed(desc, perr))
		return nil, perr
	}
	if len(pi.Charges) == 0 || pi.Charges[0].ID == "" {
		perr := newError(ErrMissingCharge, CodeMissingCharge, "processed payment intent "+intentID+" has no charge")
		p.log.Append(GroupProcess, failed(desc, perr))
		return nil, perr
	}

	chargeID := pi.Charges[0].ID
	p.log.Append(GroupProcess, eventlog.Event{
		Name:        "Processed",
		Description: desc,
		Metadata:    map[string]string{"paymentIntentId": intentID, "chargeId": chargeID},
	})
	return &ProcessResult{
		Intent:    pi,
		ChargeID:  chargeID,
		Succeeded: pi.Status == models.IntentSucceeded,
	}, nil
}

type CaptureClient struct {
	backend Capturer
	log     *eventlog.Log
}

func NewCaptureClient(backend Capturer, log *eventlog.Log) *CaptureClient {
	return &CaptureClient{backend: backend, log: log}
}

// Capture returns the captured intent id.
func (c *CaptureClient) Capture(ctx context.Context, intentID, email string) (string, error) {
	const desc = "terminal.capturePayment"
	c.log.Append(GroupCapture, eventlog.Event{Name: "Capture", Description: desc})

	resp, err := c.backend.CapturePaymentIntent(ctx, intentID, email)
	if err == nil && (resp == nil || resp.ID == "") {
		err = newError(ErrCapture, CodeNoCode, "No payment id returned")
	}
	if err != nil {
		code, message := codeOf(err)
		perr := newError(ErrCapture, code, message)
		c.log.Append(GroupCapture, failed(desc, perr))
		return "", perr
	}

	c.log.Append(GroupCapture, eventlog.Event{
		Name:        "Captured",
		Description: "terminal.paymentIntentId: " + resp.ID,
	})
	return resp.ID, nil
}

// FinalizationNotifier posts the finished transaction to the ledger. The
// operator never sees its failures; they only reach the logger.
type FinalizationNotifier struct {
	ledger    Ledger
	logger    zerolog.Logger
	onRefresh func(*models.Transaction)
}

func NewFinalizationNotifier(ledger Ledger, logger zerolog.Logger, onRefresh func(*models.Transaction)) *FinalizationNotifier {
	return &FinalizationNotifier{ledger: ledger, logger: logger, onRefresh: onRefresh}
}

func (f *FinalizationNotifier) Finalize(ctx context.Context, rec models.TransactionRecord) error {
	tx, err := f.ledger.ProcessTerminal(ctx, rec.Amount, rec.Email, rec.Account)
	if err != nil {
		f.logger.Error().Err(err).
			Str("account", rec.Account).
			Str("amount", rec.Amount.StringFixed(2)).
			Msg("Failed to finalize transaction")
		return errors.Join(ErrFinalization, err)
	}

	f.logger.Info().Str("account", rec.Account).Str("amount", rec.Amount.StringFixed(2)).Msg("Transaction finalized")
	if f.onRefresh != nil {
		f.onRefresh(tx)
	}
	return nil
}
