package services

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/json-iterator/go"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
)

// ProviderService talks to the card processor's REST API with the platform's
// secret key.
type ProviderService struct {
	secretKey string
	baseURL   string
	client    *http.Client
}

// CapturedIntent is the slice of the processor's payment intent the backend
// keeps.
type CapturedIntent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
	Status       string `json:"status"`
	Created      int64  `json:"created"`
	OnBehalfOf   string `json:"on_behalf_of"`
	ReceiptEmail string `json:"receipt_email"`
	Charges      struct {
		Data []ProviderCharge `json:"data"`
	} `json:"charges"`
	LatestCharge *LatestCharge `json:"latest_charge"`
}

type ProviderCharge struct {
	ID                   string                      `json:"id"`
	Captured             bool                        `json:"captured"`
	PaymentMethodDetails models.PaymentMethodDetails `json:"payment_method_details"`
}

// LatestCharge is the intent's newest charge. Newer API versions send it in
// place of the charges list, as an id unless it was expanded.
type LatestCharge struct {
	ProviderCharge
}

func (l *LatestCharge) UnmarshalJSON(b []byte) error {
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &l.ID)
	}
	return json.Unmarshal(b, &l.ProviderCharge)
}

func (c *CapturedIntent) charge() *ProviderCharge {
	if len(c.Charges.Data) > 0 {
		return &c.Charges.Data[0]
	}
	if c.LatestCharge != nil {
		return &c.LatestCharge.ProviderCharge
	}
	return nil
}

func (c *CapturedIntent) ChargeID() string {
	if ch := c.charge(); ch != nil {
		return ch.ID
	}
	return ""
}

// Captured reports whether the funds were taken. A succeeded intent has been
// captured whatever its charge says.
func (c *CapturedIntent) Captured() bool {
	if c.Status == "succeeded" {
		return true
	}
	ch := c.charge()
	return ch != nil && ch.Captured
}

func (c *CapturedIntent) Last4() string {
	if ch := c.charge(); ch != nil {
		return ch.PaymentMethodDetails.CardPresent.Last4
	}
	return ""
}

// ProviderError is a refusal from the processor.
type ProviderError struct {
	StatusCode int
	Type       string `json:"type"`
	Code       string `json:"code"`
	Message    string `json:"message"`
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("provider error (%d %s): %s: %s", e.StatusCode, e.Type, e.Code, e.Message)
}

func (e *ProviderError) CardError() bool {
	return e.Type == "card_error"
}

func NewProviderService(baseURL, secretKey string) *ProviderService {
	return &ProviderService{
		secretKey: secretKey,
		baseURL:   strings.TrimRight(baseURL, "/"),
		client:    &http.Client{Timeout: 10 * time.Second},
	}
}

// CapturePaymentIntent attaches the receipt email, when there is one, and
// captures the intent with its latest charge expanded.
func (s *ProviderService) CapturePaymentIntent(ctx context.Context, intentID, receiptEmail string) (*CapturedIntent, error) {
	path := "/v1/payment_intents/" + url.PathEscape(intentID)
	if receiptEmail != "" {
		if err := s.do(ctx, path, url.Values{"receipt_email": {receiptEmail}}, nil); err != nil {
			return nil, err
		}
	}

	var out CapturedIntent
	if err := s.do(ctx, path+"/capture", url.Values{"expand[]": {"latest_charge"}}, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *ProviderService) do(ctx context.Context, path string, form url.Values, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+path, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request for %s: %w", path, err)
	}
	req.SetBasicAuth(s.secretKey, "")
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("provider request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("provider request %s: read body: %w", path, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var envelope struct {
			Error *ProviderError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) != nil || envelope.Error == nil {
			envelope.Error = &ProviderError{Type: "api_error", Code: "provider_unavailable", Message: strings.TrimSpace(string(body))}
		}
		envelope.Error.StatusCode = resp.StatusCode
		return envelope.Error
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode provider response: %w", err)
	}
	return nil
}
