package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/terminal"
)

// fakeReader collects immediately unless blockCollect is set, in which case
// the card wait lasts until CancelCollectPaymentMethod or ctx.
type fakeReader struct {
	mu       sync.Mutex
	listener terminal.Listener
	calls    atomic.Int32
	cancels  atomic.Int32

	createFn     func(models.IntentParams) (*models.PaymentIntent, error)
	processFn    func(string) (*models.PaymentIntent, error)
	collectErr   error
	blockCollect bool
	prompts      bool
	onCollect    func()

	lastParams models.IntentParams
	cancelCh   chan struct{}
}

func newFakeReader() *fakeReader {
	return &fakeReader{}
}

func (f *fakeReader) SetListener(l terminal.Listener) {
	f.mu.Lock()
	f.listener = l
	f.mu.Unlock()
}

func (f *fakeReader) CreatePaymentIntent(_ context.Context, p models.IntentParams) (*models.PaymentIntent, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.lastParams = p
	f.mu.Unlock()
	if f.createFn != nil {
		return f.createFn(p)
	}
	return &models.PaymentIntent{ID: "pi_1", Amount: p.Amount, Currency: p.Currency, Status: models.IntentCreated}, nil
}

func (f *fakeReader) CollectPaymentMethod(ctx context.Context, id string) (*models.PaymentIntent, error) {
	f.calls.Add(1)
	f.mu.Lock()
	l := f.listener
	ch := make(chan struct{})
	f.cancelCh = ch
	f.mu.Unlock()

	if f.onCollect != nil {
		f.onCollect()
	}
	if f.prompts && l != nil {
		l.OnRequestReaderInput([]terminal.InputType{terminal.InputInsertCard, terminal.InputTapCard})
		l.OnRequestReaderDisplayMessage("Retry card")
	}
	if f.blockCollect {
		select {
		case <-ch:
			return nil, &terminal.Error{Code: terminal.CodeCanceled, Message: "canceled"}
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.collectErr != nil {
		return nil, f.collectErr
	}
	return &models.PaymentIntent{ID: id, Status: models.IntentRequiresCapture}, nil
}

func (f *fakeReader) CancelCollectPaymentMethod(context.Context) error {
	f.cancels.Add(1)
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.cancelCh != nil {
		close(f.cancelCh)
		f.cancelCh = nil
	}
	return nil
}

func (f *fakeReader) ProcessPayment(_ context.Context, id string) (*models.PaymentIntent, error) {
	f.calls.Add(1)
	if f.processFn != nil {
		return f.processFn(id)
	}
	return &models.PaymentIntent{
		ID:      id,
		Status:  models.IntentRequiresCapture,
		Charges: []models.Charge{{ID: "ch_1", Amount: 500, Last4: "4242"}},
	}, nil
}

type fakeBackend struct {
	mu          sync.Mutex
	captureErr  error
	finalizeErr error
	captures    []string
	finalized   []models.TransactionRecord
}

func (b *fakeBackend) CapturePaymentIntent(_ context.Context, id, email string) (*models.CaptureResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.captures = append(b.captures, id+"|"+email)
	if b.captureErr != nil {
		return nil, b.captureErr
	}
	return &models.CaptureResponse{ID: id, ClientSecret: id + "_secret"}, nil
}

func (b *fakeBackend) ProcessTerminal(_ context.Context, amount decimal.Decimal, email, acc string) (*models.Transaction, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.finalizeErr != nil {
		return nil, b.finalizeErr
	}
	b.finalized = append(b.finalized, models.TransactionRecord{Amount: amount, Email: email, Account: acc})
	return &models.Transaction{ID: "tx_1", Amount: amount.Shift(2).IntPart(), Account: acc}, nil
}

func (b *fakeBackend) captureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.captures)
}

func decimalOf(t interface{ Helper() }, s string) decimal.Decimal {
	t.Helper()
	return decimal.RequireFromString(s)
}
