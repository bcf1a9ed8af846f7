// Package api is the terminal's client for the GridPay backend.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"
	"github.com/shopspring/decimal"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
)

var ErrUnexpectedResponse = errors.New("unexpected backend response")

type Client struct {
	baseURL string
	secret  string
	client  *http.Client
}

type Option func(*Client)

func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

func NewClient(baseURL, secret string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		secret:  secret,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateConnectionToken exchanges the shared secret for a reader token.
func (c *Client) CreateConnectionToken(ctx context.Context) (string, error) {
	var out models.ConnectionToken
	if err := c.post(ctx, "/mobile-connection_token", url.Values{"secret": {c.secret}}, &out); err != nil {
		return "", err
	}
	if out.Secret == "" {
		return "", fmt.Errorf("%w: empty connection token", ErrUnexpectedResponse)
	}
	return out.Secret, nil
}

// CapturePaymentIntent captures an authorized intent. A backend refusal is
// returned as *models.APIError.
func (c *Client) CapturePaymentIntent(ctx context.Context, intentID, email string) (*models.CaptureResponse, error) {
	form := url.Values{
		"payment_intent_id": {intentID},
		"email":             {email},
	}
	var out models.CaptureResponse
	if err := c.post(ctx, "/mobile-capture_payment_intent", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ProcessTerminal(ctx context.Context, amount decimal.Decimal, email, account string) (*models.Transaction, error) {
	form := url.Values{
		"amount": {amount.StringFixed(2)},
		"email":  {email},
		"acc":    {account},
	}
	var out models.Transaction
	if err := c.post(ctx, "/mobile-process-terminal", form, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) PreviousPayments(ctx context.Context, account string) ([]models.PreviousPayment, error) {
	var out []models.PreviousPayment
	if err := c.post(ctx, "/previousPayments", url.Values{"connected": {account}}, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: read body: %w", path, err)
	}

	// The backend reports failures as {"error":{...}} and not always with a
	// non-2xx status.
	var envelope models.ErrorResponse
	if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
		return envelope.Error
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: %s returned status %d", ErrUnexpectedResponse, path, resp.StatusCode)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrUnexpectedResponse, path, err)
	}
	return nil
}
