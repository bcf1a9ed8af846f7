// Package pipeline runs one card payment end to end: create an intent,
// collect a card, process it, capture it on the backend and hand the result
// to the ledger.
package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/markjakearzadon/gridpay-terminal/internal/eventlog"
	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/terminal"
)

type State string

const (
	StateIdle       State = "idle"
	StateCreating   State = "creating"
	StateCollecting State = "collecting"
	StateProcessing State = "processing"
	StateCapturing  State = "capturing"
	StateFinalizing State = "finalizing"
	StateError      State = "error"
)

const DefaultBannerDuration = 5 * time.Second

// Status is everything an operator screen shows.
type Status struct {
	State    State
	Disabled bool
	Loading  bool
	Complete bool
	HasError bool
	Err      error
}

// Backend is the part of the GridPay backend a run talks to.
type Backend interface {
	Capturer
	Ledger
}

type Option func(*Controller)

func WithBannerDuration(d time.Duration) Option {
	return func(c *Controller) { c.banner = d }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithRefresh is called with the ledger's answer after a transaction is
// finalized.
func WithRefresh(fn func(*models.Transaction)) Option {
	return func(c *Controller) { c.onRefresh = fn }
}

// WithStateObserver is called, under no lock, after every status change.
func WithStateObserver(fn func(Status)) Option {
	return func(c *Controller) { c.observer = fn }
}

// Controller owns one session's pipeline. Only one run is in flight at a
// time.
type Controller struct {
	session *Session
	reader  terminal.Reader
	log     *eventlog.Log
	logger  zerolog.Logger

	banner    time.Duration
	onRefresh func(*models.Transaction)
	observer  func(Status)

	creator   *IntentCreator
	collector *Collector
	processor *Processor
	capture   *CaptureClient
	finalizer *FinalizationNotifier

	mu          sync.Mutex
	status      Status
	gen         uint64
	canceledGen uint64
	timer       *time.Timer
	cancelRun   context.CancelFunc
	done        chan struct{}
	request     *models.PaymentRequest
}

func NewController(session *Session, reader terminal.Reader, backend Backend, opts ...Option) *Controller {
	c := &Controller{
		session: session,
		reader:  reader,
		log:     eventlog.New(),
		logger:  zerolog.Nop(),
		banner:  DefaultBannerDuration,
		status:  Status{State: StateIdle},
	}
	for _, opt := range opts {
		opt(c)
	}

	c.creator = NewIntentCreator(reader, c.log)
	c.collector = NewCollector(reader, c.log)
	c.processor = NewProcessor(reader, c.log)
	c.capture = NewCaptureClient(backend, c.log)
	c.finalizer = NewFinalizationNotifier(backend, c.logger, c.onRefresh)
	return c
}

func (c *Controller) Log() *eventlog.Log {
	return c.log
}

func (c *Controller) Session() *Session {
	return c.session
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Request returns the request of the current run. It is forgotten once the
// transaction is finalized.
func (c *Controller) Request() (models.PaymentRequest, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request == nil {
		return models.PaymentRequest{}, false
	}
	return *c.request, true
}

// Submit validates req and starts a run in the background. Validation
// failures and ErrBusy are returned before anything is logged or called.
func (c *Controller) Submit(ctx context.Context, req models.PaymentRequest) error {
	if req.ConnectedAccountID == "" {
		req.ConnectedAccountID = c.session.ConnectedAccountID
	}
	if req.Currency == "" {
		req.Currency = c.session.Currency
	}
	if err := validate(req); err != nil {
		return err
	}

	c.mu.Lock()
	if c.status.Disabled {
		c.mu.Unlock()
		return ErrBusy
	}
	c.gen++
	gen := c.gen
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancelRun = cancel
	c.done = make(chan struct{})
	done := c.done
	c.request = &req
	c.log.Clear()
	c.status = Status{State: StateCreating, Disabled: true, Loading: true}
	st := c.status
	c.mu.Unlock()

	c.notify(st)
	c.logger.Info().Str("amount", req.Amount.StringFixed(2)).Str("account", req.ConnectedAccountID).Msg("Payment submitted")

	go func() {
		defer close(done)
		defer cancel()
		c.run(runCtx, gen, req)
	}()
	return nil
}

// Cancel interrupts a card wait. It is only valid while collecting; the run
// goes straight back to idle without an error banner.
func (c *Controller) Cancel(ctx context.Context) error {
	c.mu.Lock()
	gen := c.gen
	c.mu.Unlock()
	return c.cancelCollect(ctx, gen)
}

// cancelCollect cancels run gen's card wait. Submission stays disabled until
// the reader has been told, so the reader cancel can never reach a later
// run's collection.
func (c *Controller) cancelCollect(ctx context.Context, gen uint64) error {
	c.mu.Lock()
	if c.gen != gen || c.status.State != StateCollecting || c.canceledGen == gen {
		c.mu.Unlock()
		return ErrNotCollecting
	}
	c.canceledGen = gen
	cancelRun := c.cancelRun
	c.mu.Unlock()

	c.logger.Info().Msg("Collect payment method canceled")
	if err := c.reader.CancelCollectPaymentMethod(ctx); err != nil {
		c.logger.Warn().Err(err).Msg("Reader refused cancel")
	}
	if cancelRun != nil {
		cancelRun()
	}
	c.abandon(gen)
	return nil
}

// Wait blocks until the current run, if any, has returned.
func (c *Controller) Wait(ctx context.Context) error {
	c.mu.Lock()
	done := c.done
	c.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) run(ctx context.Context, gen uint64, req models.PaymentRequest) {
	intent, err := c.creator.Create(ctx, req)
	if err != nil {
		c.fail(gen, err)
		return
	}

	if !c.transition(gen, StateCollecting) {
		return
	}
	cancelHook := func() {
		if err := c.cancelCollect(context.Background(), gen); err != nil {
			c.logger.Debug().Err(err).Msg("Cancel ignored")
		}
	}
	_, err = c.collector.Collect(ctx, intent.ID, cancelHook)
	c.detachCancelHooks(gen)
	if err != nil {
		if errors.Is(err, errCanceled) || c.canceled(gen) {
			c.abandon(gen)
			return
		}
		c.fail(gen, err)
		return
	}

	// A cancel that raced a finished card wait wins.
	if c.canceled(gen) || !c.transitionFrom(gen, StateCollecting, StateProcessing) {
		c.abandon(gen)
		return
	}
	res, err := c.processor.Process(ctx, intent.ID)
	if err != nil {
		c.fail(gen, err)
		return
	}
	c.session.setLastSuccessfulChargeID(res.ChargeID)
	if res.Succeeded {
		c.logger.Info().Str("payment_intent_id", intent.ID).Msg("Payment succeeded without capture")
		c.complete(gen, StateIdle)
		return
	}

	if !c.transition(gen, StateCapturing) {
		return
	}
	if _, err := c.capture.Capture(ctx, intent.ID, req.Email); err != nil {
		c.fail(gen, err)
		return
	}
	c.logger.Info().Str("payment_intent_id", intent.ID).Msg("Payment captured")
	c.complete(gen, StateFinalizing)

	rec := models.TransactionRecord{
		Amount:    req.Amount,
		Email:     req.Email,
		Account:   req.ConnectedAccountID,
		CreatedAt: time.Now(),
	}
	// The reader and card are done; a later cancel of this run must not
	// drop the ledger post.
	_ = c.finalizer.Finalize(context.WithoutCancel(ctx), rec)

	c.mu.Lock()
	if c.gen == gen {
		c.request = nil
	}
	c.mu.Unlock()
	c.transitionFrom(gen, StateFinalizing, StateIdle)
}

func (c *Controller) transition(gen uint64, to State) bool {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return false
	}
	c.status.State = to
	st := c.status
	c.mu.Unlock()
	c.notify(st)
	return true
}

func (c *Controller) transitionFrom(gen uint64, from, to State) bool {
	c.mu.Lock()
	if c.gen != gen || c.status.State != from {
		c.mu.Unlock()
		return false
	}
	c.status.State = to
	st := c.status
	c.mu.Unlock()
	c.notify(st)
	return true
}

func (c *Controller) canceled(gen uint64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.canceledGen == gen
}

// detachCancelHooks drops the cancel hooks from run gen's collect events once
// the card wait is over. A newer run's log is left alone.
func (c *Controller) detachCancelHooks(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.log.DetachCancel(GroupCollect)
	}
}

func (c *Controller) abandon(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.status.State != StateCollecting {
		c.mu.Unlock()
		return
	}
	c.status = Status{State: StateIdle}
	st := c.status
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) fail(gen uint64, err error) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.status = Status{State: StateError, HasError: true, Err: err}
	st := c.status
	c.timer = time.AfterFunc(c.banner, func() { c.clearError(gen) })
	c.mu.Unlock()

	c.logger.Error().Err(err).Msg("Payment failed")
	c.notify(st)
}

func (c *Controller) clearError(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || c.status.State != StateError {
		c.mu.Unlock()
		return
	}
	c.status = Status{State: StateIdle}
	st := c.status
	c.timer = nil
	c.mu.Unlock()
	c.notify(st)
}

// complete shows the success banner and re-enables submission.
func (c *Controller) complete(gen uint64, next State) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.status = Status{State: next, Complete: true}
	st := c.status
	c.timer = time.AfterFunc(c.banner, func() { c.clearComplete(gen) })
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) clearComplete(gen uint64) {
	c.mu.Lock()
	if c.gen != gen || !c.status.Complete {
		c.mu.Unlock()
		return
	}
	c.status.Complete = false
	st := c.status
	c.timer = nil
	c.mu.Unlock()
	c.notify(st)
}

func (c *Controller) notify(st Status) {
	if c.observer != nil {
		c.observer(st)
	}
}
