package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// IntentStatus mirrors the card processor's payment intent lifecycle.
type IntentStatus string

const (
	IntentCreated         IntentStatus = "created"
	IntentRequiresCapture IntentStatus = "requires_capture"
	IntentSucceeded       IntentStatus = "succeeded"
	IntentFailed          IntentStatus = "failed"
)

// PaymentRequest is what the operator asks the terminal to charge.
type PaymentRequest struct {
	Amount               decimal.Decimal // major units, e.g. 5.00
	Currency             string
	ConnectedAccountID   string
	ApplicationFeeAmount int64 // minor units
	Email                string
}

// IntentParams is the payload handed to the reader when opening an intent.
type IntentParams struct {
	Amount                  int64
	Currency                string
	PaymentMethodTypes      []string
	SetupFutureUsage        string
	OnBehalfOf              string
	TransferDataDestination string
	ApplicationFeeAmount    int64
}

type Charge struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Captured bool   `json:"captured"`
	Last4    string `json:"last4"`
}

type PaymentIntent struct {
	ID       string       `json:"id"`
	Amount   int64        `json:"amount"`
	Currency string       `json:"currency"`
	Status   IntentStatus `json:"status"`
	Charges  []Charge     `json:"charges"`
}

// Payment is the ledger document kept per captured intent. It backs the
// previous-payments listing.
type Payment struct {
	ID           string    `bson:"_id" json:"id"`
	Account      string    `bson:"account" json:"account"`
	Amount       int64     `bson:"amount" json:"amount"`
	Currency     string    `bson:"currency" json:"currency"`
	Status       string    `bson:"status" json:"status"`
	Captured     bool      `bson:"captured" json:"captured"`
	ChargeID     string    `bson:"charge_id" json:"charge_id"`
	Last4        string    `bson:"last4" json:"last4"`
	ReceiptEmail string    `bson:"receipt_email" json:"receipt_email"`
	Created      int64     `bson:"created" json:"created"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}

type CardPresent struct {
	Last4 string `json:"last4"`
}

type PaymentMethodDetails struct {
	CardPresent CardPresent `json:"card_present"`
}

// PreviousPayment is one row of the POST /previousPayments response.
type PreviousPayment struct {
	ID                   string               `json:"id"`
	Amount               int64                `json:"amount"`
	Status               string               `json:"status"`
	Captured             bool                 `json:"captured"`
	PaymentMethodDetails PaymentMethodDetails `json:"payment_method_details"`
	Created              int64                `json:"created"`
}

func (p Payment) Previous() PreviousPayment {
	return PreviousPayment{
		ID:                   p.ID,
		Amount:               p.Amount,
		Status:               p.Status,
		Captured:             p.Captured,
		PaymentMethodDetails: PaymentMethodDetails{CardPresent: CardPresent{Last4: p.Last4}},
		Created:              p.Created,
	}
}

// DisplayStatus is what the payments list shows: uncaptured rows read as failed.
func (p PreviousPayment) DisplayStatus() string {
	if !p.Captured {
		return "Failed"
	}
	return p.Status
}
