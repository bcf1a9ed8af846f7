package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/markjakearzadon/gridpay-terminal/internal/db"
	"github.com/markjakearzadon/gridpay-terminal/internal/models"
	"github.com/markjakearzadon/gridpay-terminal/internal/money"
)

var ErrInvalidTransaction = errors.New("invalid transaction")

type LedgerService struct {
	db     *mongo.Database
	logger zerolog.Logger
	now    func() time.Time
}

func NewLedgerService(database *mongo.Database, logger zerolog.Logger) *LedgerService {
	return &LedgerService{db: database, logger: logger, now: time.Now}
}

// EnsureIndexes creates the indexes the previous-payments query relies on.
func (s *LedgerService) EnsureIndexes(ctx context.Context) error {
	_, err := s.db.Collection(db.PaymentsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "account", Value: 1}, {Key: "created", Value: -1}}},
		{Keys: bson.D{{Key: "charge_id", Value: 1}}},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create payment indexes")
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	_, err = s.db.Collection(db.TransactionsCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "account", Value: 1}, {Key: "created", Value: -1}},
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to create transaction indexes")
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// RecordCapture upserts the ledger row for a captured intent.
func (s *LedgerService) RecordCapture(ctx context.Context, pi *CapturedIntent, account string) (*models.Payment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if account == "" {
		account = pi.OnBehalfOf
	}
	created := pi.Created
	if created == 0 {
		created = s.now().Unix()
	}
	payment := models.Payment{
		ID:           pi.ID,
		Account:      account,
		Amount:       pi.Amount,
		Currency:     pi.Currency,
		Status:       pi.Status,
		Captured:     pi.Captured(),
		ChargeID:     pi.ChargeID(),
		Last4:        pi.Last4(),
		ReceiptEmail: pi.ReceiptEmail,
		Created:      created,
		UpdatedAt:    s.now().UTC(),
	}

	_, err := s.db.Collection(db.PaymentsCollection).UpdateOne(ctx,
		bson.M{"_id": payment.ID},
		bson.M{"$set": payment},
		options.Update().SetUpsert(true),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("payment_intent_id", pi.ID).Msg("Failed to record capture")
		return nil, fmt.Errorf("failed to record capture: %w", err)
	}
	return &payment, nil
}

// Finalize stores the terminal's finished transaction. amount is in major
// units.
func (s *LedgerService) Finalize(ctx context.Context, amount, email, account string) (*models.Transaction, error) {
	account = strings.TrimSpace(account)
	if account == "" {
		return nil, fmt.Errorf("%w: acc is required", ErrInvalidTransaction)
	}
	a, err := money.Parse(amount)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}
	if err := money.Validate(a); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidTransaction, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	now := s.now().UTC()
	tx := models.Transaction{
		ID:        uuid.NewString(),
		Amount:    money.ToMinor(a),
		Email:     strings.TrimSpace(email),
		Account:   account,
		CreatedAt: now,
		Created:   now.Unix(),
	}
	if _, err := s.db.Collection(db.TransactionsCollection).InsertOne(ctx, tx); err != nil {
		s.logger.Error().Err(err).Str("account", account).Msg("Failed to insert transaction")
		return nil, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return &tx, nil
}

// PreviousPayments lists an account's payments, newest first.
func (s *LedgerService) PreviousPayments(ctx context.Context, account string) ([]models.PreviousPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cur, err := s.db.Collection(db.PaymentsCollection).Find(ctx,
		bson.M{"account": account},
		options.Find().SetSort(bson.D{{Key: "created", Value: -1}}).SetLimit(100),
	)
	if err != nil {
		s.logger.Error().Err(err).Str("account", account).Msg("Failed to fetch payments")
		return nil, fmt.Errorf("failed to fetch payments: %w", err)
	}
	defer cur.Close(ctx)

	var payments []models.Payment
	if err := cur.All(ctx, &payments); err != nil {
		return nil, fmt.Errorf("failed to decode payments: %w", err)
	}

	out := make([]models.PreviousPayment, 0, len(payments))
	for _, p := range payments {
		out = append(out, p.Previous())
	}
	return out, nil
}

// TransactionAmount is the finalized amount in major units.
func TransactionAmount(tx *models.Transaction) decimal.Decimal {
	return money.FromMinor(tx.Amount)
}
