package terminal

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
)

// Simulator is an in-memory Reader. It asks for a card, waits CardDelay as if
// one were presented, and authorizes everything unless told to decline.
type Simulator struct {
	tokens TokenProvider
	log    zerolog.Logger

	cardDelay   time.Duration
	decline     bool
	autoCapture bool
	last4       string

	mu         sync.Mutex
	token      string
	listener   Listener
	intents    map[string]*models.PaymentIntent
	cancelCard chan struct{}
}

type SimulatorOption func(*Simulator)

func WithCardDelay(d time.Duration) SimulatorOption {
	return func(s *Simulator) { s.cardDelay = d }
}

// WithDecline makes ProcessPayment fail with card_declined.
func WithDecline(decline bool) SimulatorOption {
	return func(s *Simulator) { s.decline = decline }
}

// WithAutoCapture makes ProcessPayment return a succeeded intent.
func WithAutoCapture(auto bool) SimulatorOption {
	return func(s *Simulator) { s.autoCapture = auto }
}

func WithLast4(last4 string) SimulatorOption {
	return func(s *Simulator) { s.last4 = last4 }
}

func WithLogger(l zerolog.Logger) SimulatorOption {
	return func(s *Simulator) { s.log = l }
}

func NewSimulator(tokens TokenProvider, opts ...SimulatorOption) *Simulator {
	s := &Simulator{
		tokens:    tokens,
		log:       zerolog.Nop(),
		cardDelay: 2 * time.Second,
		last4:     "4242",
		intents:   make(map[string]*models.PaymentIntent),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect fetches a connection token. Nothing else works until it succeeds.
func (s *Simulator) Connect(ctx context.Context) error {
	token, err := s.tokens.CreateConnectionToken(ctx)
	if err != nil {
		return fmt.Errorf("fetch connection token: %w", err)
	}
	if token == "" {
		return fmt.Errorf("fetch connection token: empty secret")
	}

	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
	s.log.Info().Msg("Reader connected")
	return nil
}

func (s *Simulator) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.token != ""
}

func (s *Simulator) SetListener(l Listener) {
	s.mu.Lock()
	s.listener = l
	s.mu.Unlock()
}

func (s *Simulator) CreatePaymentIntent(ctx context.Context, params models.IntentParams) (*models.PaymentIntent, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}
	if params.Amount <= 0 {
		return nil, &Error{Code: "parameter_invalid_integer", Message: "amount must be positive"}
	}
	if !onlyCardPresent(params.PaymentMethodTypes) {
		return nil, &Error{Code: "payment_method_unsupported", Message: "reader only accepts card_present"}
	}

	pi := &models.PaymentIntent{
		ID:       "pi_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount:   params.Amount,
		Currency: params.Currency,
		Status:   models.IntentCreated,
	}
	s.mu.Lock()
	s.intents[pi.ID] = pi
	s.mu.Unlock()

	out := *pi
	return &out, nil
}

func (s *Simulator) CollectPaymentMethod(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}

	s.mu.Lock()
	pi, ok := s.intents[intentID]
	if !ok {
		s.mu.Unlock()
		return nil, &Error{Code: "resource_missing", Message: "no such payment intent: " + intentID}
	}
	if s.cancelCard != nil {
		s.mu.Unlock()
		return nil, &Error{Code: "reader_busy", Message: "a collection is already in progress"}
	}
	cancel := make(chan struct{})
	s.cancelCard = cancel
	listener := s.listener
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		if s.cancelCard == cancel {
			s.cancelCard = nil
		}
		s.mu.Unlock()
	}()

	if listener != nil {
		listener.OnRequestReaderInput([]InputType{InputInsertCard, InputSwipeCard, InputTapCard})
	}

	select {
	case <-time.After(s.cardDelay):
	case <-cancel:
		return nil, &Error{Code: CodeCanceled, Message: "collect payment method was canceled"}
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if listener != nil {
		listener.OnRequestReaderDisplayMessage("Remove card")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	pi.Status = models.IntentRequiresCapture
	out := *pi
	return &out, nil
}

func (s *Simulator) CancelCollectPaymentMethod(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelCard == nil {
		return &Error{Code: "no_collect_in_progress", Message: "nothing to cancel"}
	}
	close(s.cancelCard)
	s.cancelCard = nil
	return nil
}

func (s *Simulator) ProcessPayment(ctx context.Context, intentID string) (*models.PaymentIntent, error) {
	if !s.Connected() {
		return nil, ErrNotConnected
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	pi, ok := s.intents[intentID]
	if !ok {
		return nil, &Error{Code: "resource_missing", Message: "no such payment intent: " + intentID}
	}
	if s.decline {
		pi.Status = models.IntentFailed
		return nil, &Error{Code: CodeCardDeclined, Message: "Your card was declined."}
	}

	charge := models.Charge{
		ID:     "ch_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
		Amount: pi.Amount,
		Last4:  s.last4,
	}
	pi.Status = models.IntentRequiresCapture
	if s.autoCapture {
		pi.Status = models.IntentSucceeded
		charge.Captured = true
	}
	pi.Charges = []models.Charge{charge}

	out := *pi
	out.Charges = append([]models.Charge(nil), pi.Charges...)
	return &out, nil
}

func onlyCardPresent(types []string) bool {
	if len(types) == 0 {
		return false
	}
	for _, t := range types {
		if t != "card_present" {
			return false
		}
	}
	return true
}
