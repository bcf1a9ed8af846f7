package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionRecord is the terminal-side view of a captured payment. It only
// lives between capture and finalization.
type TransactionRecord struct {
	Amount    decimal.Decimal
	Email     string
	Account   string
	CreatedAt time.Time
}

// Transaction is the ledger document written by POST /mobile-process-terminal.
type Transaction struct {
	ID        string    `bson:"_id" json:"id"`
	Amount    int64     `bson:"amount" json:"amount"` // minor units
	Email     string    `bson:"email" json:"email,omitempty"`
	Account   string    `bson:"account" json:"acc"`
	CreatedAt time.Time `bson:"created_at" json:"-"`
	Created   int64     `bson:"created" json:"created"`
}
