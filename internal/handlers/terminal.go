package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/services"
)

type Capturer interface {
	CapturePaymentIntent(ctx context.Context, intentID, receiptEmail string) (*services.CapturedIntent, error)
}

type Ledger interface {
	RecordCapture(ctx context.Context, pi *services.CapturedIntent, account string) (*models.Payment, error)
	Finalize(ctx context.Context, amount, email, account string) (*models.Transaction, error)
	PreviousPayments(ctx context.Context, account string) ([]models.PreviousPayment, error)
}

type TokenIssuer interface {
	VerifySecret(secret string) error
	Issue() (string, error)
}

type ReplayStore interface {
	Recall(ctx context.Context, intentID string) ([]byte, bool, error)
	Remember(ctx context.Context, intentID string, body []byte) error
}

type Publisher interface {
	PublishFinalized(ctx context.Context, tx *models.Transaction) error
}

// TerminalHandler serves the endpoints the card terminal app calls.
type TerminalHandler struct {
	capturer  Capturer
	ledger    Ledger
	tokens    TokenIssuer
	replay    ReplayStore
	publisher Publisher
	logger    zerolog.Logger
	tracer    trace.Tracer
}

type Option func(*TerminalHandler)

func WithReplayStore(s ReplayStore) Option {
	return func(h *TerminalHandler) { h.replay = s }
}

func WithPublisher(p Publisher) Option {
	return func(h *TerminalHandler) { h.publisher = p }
}

func NewTerminalHandler(capturer Capturer, ledger Ledger, tokens TokenIssuer, logger zerolog.Logger, opts ...Option) *TerminalHandler {
	h := &TerminalHandler{
		capturer: capturer,
		ledger:   ledger,
		tokens:   tokens,
		logger:   logger,
		tracer:   otel.Tracer("gridpay-http"),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

func (h *TerminalHandler) Routes(router *mux.Router) {
	router.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET", "HEAD")
	router.HandleFunc("/mobile-connection_token", h.ConnectionToken).Methods("POST")
	router.HandleFunc("/mobile-capture_payment_intent", h.CapturePaymentIntent).Methods("POST")
	router.HandleFunc("/mobile-process-terminal", h.ProcessTerminal).Methods("POST")
	router.HandleFunc("/previousPayments", h.PreviousPayments).Methods("POST")
}

func (h *TerminalHandler) ConnectionToken(w http.ResponseWriter, r *http.Request) {
	_, span := h.tracer.Start(r.Context(), "ConnectionToken")
	defer span.End()

	if err := h.tokens.VerifySecret(r.FormValue("secret")); err != nil {
		span.SetStatus(codes.Error, "invalid secret")
		writeError(w, http.StatusUnauthorized, "invalid_secret", "The terminal secret is not valid")
		return
	}

	token, err := h.tokens.Issue()
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to issue connection token")
		span.RecordError(err)
		writeError(w, http.StatusInternalServerError, "token_unavailable", "Failed to issue connection token")
		return
	}
	writeJSON(w, http.StatusOK, models.ConnectionToken{Secret: token})
}

func (h *TerminalHandler) CapturePaymentIntent(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "CapturePaymentIntent")
	defer span.End()

	intentID := strings.TrimSpace(r.FormValue("payment_intent_id"))
	email := strings.TrimSpace(r.FormValue("email"))
	if intentID == "" {
		writeError(w, http.StatusBadRequest, "missing_payment_intent_id", "payment_intent_id is required")
		return
	}
	span.SetAttributes(attribute.String("payment_intent_id", intentID))

	if h.replay != nil {
		body, ok, err := h.replay.Recall(ctx, intentID)
		if err != nil {
			h.logger.Warn().Err(err).Str("payment_intent_id", intentID).Msg("Replay store unavailable")
		} else if ok {
			h.logger.Info().Str("payment_intent_id", intentID).Msg("Replaying capture response")
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			w.Write(body)
			return
		}
	}

	pi, err := h.capturer.CapturePaymentIntent(ctx, intentID, email)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "capture failed")
		h.logger.Error().Err(err).Str("payment_intent_id", intentID).Msg("Failed to capture payment intent")

		var perr *services.ProviderError
		if errors.As(err, &perr) {
			status := http.StatusBadGateway
			if perr.CardError() {
				status = http.StatusPaymentRequired
			}
			writeError(w, status, perr.Code, perr.Message)
			return
		}
		writeError(w, http.StatusBadGateway, "capture_failed", err.Error())
		return
	}

	if _, err := h.ledger.RecordCapture(ctx, pi, ""); err != nil {
		// Capture already succeeded at the processor; a ledger miss is only logged.
		h.logger.Error().Err(err).Str("payment_intent_id", intentID).Msg("Failed to record capture")
	}

	body, err := json.Marshal(models.CaptureResponse{ClientSecret: pi.ClientSecret, ID: pi.ID})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_failed", "Failed to encode response")
		return
	}
	if h.replay != nil {
		if err := h.replay.Remember(ctx, intentID, body); err != nil {
			h.logger.Warn().Err(err).Str("payment_intent_id", intentID).Msg("Failed to remember capture")
		}
	}

	h.logger.Info().Str("payment_intent_id", pi.ID).Int64("amount", pi.Amount).Msg("Payment captured")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(body)
}

func (h *TerminalHandler) ProcessTerminal(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "ProcessTerminal")
	defer span.End()

	tx, err := h.ledger.Finalize(ctx, r.FormValue("amount"), r.FormValue("email"), r.FormValue("acc"))
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, services.ErrInvalidTransaction) {
			writeError(w, http.StatusBadRequest, "invalid_transaction", err.Error())
			return
		}
		h.logger.Error().Err(err).Msg("Failed to finalize transaction")
		writeError(w, http.StatusInternalServerError, "ledger_unavailable", "Failed to record transaction")
		return
	}
	span.SetAttributes(attribute.String("account", tx.Account), attribute.Int64("amount", tx.Amount))

	if h.publisher != nil {
		if err := h.publisher.PublishFinalized(ctx, tx); err != nil {
			h.logger.Error().Err(err).Str("transaction_id", tx.ID).Msg("Failed to publish finalized transaction")
		}
	}

	writeJSON(w, http.StatusOK, tx)
}

func (h *TerminalHandler) PreviousPayments(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "PreviousPayments")
	defer span.End()

	account := strings.TrimSpace(r.FormValue("connected"))
	if account == "" {
		writeError(w, http.StatusBadRequest, "missing_account", "connected is required")
		return
	}

	payments, err := h.ledger.PreviousPayments(ctx, account)
	if err != nil {
		span.RecordError(err)
		h.logger.Error().Err(err).Str("account", account).Msg("Failed to fetch payments")
		writeError(w, http.StatusInternalServerError, "ledger_unavailable", "Failed to fetch payments")
		return
	}
	if payments == nil {
		payments = []models.PreviousPayment{}
	}
	writeJSON(w, http.StatusOK, payments)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, `{"error":{"code":"encode_failed","message":"Failed to encode response"}}`, http.StatusInternalServerError)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, models.ErrorResponse{Error: &models.APIError{Code: code, Message: message}})
}
