package services

import (
	"context"
	"fmt"
	"time"

	json "github.com/json-iterator/go"
	"github.com/segmentio/kafka-go"

	"github.com/markjakearzadon/gridpay-terminal/internal/models"
)

const EventTransactionFinalized = "transaction.finalized"

// MessageWriter is the part of *kafka.Writer the publisher uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

func NewKafkaWriter(addr, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(addr),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireAll,
	}
}

type TransactionEvent struct {
	Type          string `json:"type"`
	TransactionID string `json:"transaction_id"`
	Account       string `json:"account"`
	Amount        int64  `json:"amount"`
	AmountMajor   string `json:"amount_major"`
	Email         string `json:"email,omitempty"`
	Created       int64  `json:"created"`
}

// EventPublisher announces finalized transactions, keyed by account so one
// account's events stay ordered.
type EventPublisher struct {
	writer MessageWriter
}

func NewEventPublisher(w MessageWriter) *EventPublisher {
	return &EventPublisher{writer: w}
}

func (p *EventPublisher) PublishFinalized(ctx context.Context, tx *models.Transaction) error {
	payload, err := json.Marshal(TransactionEvent{
		Type:          EventTransactionFinalized,
		TransactionID: tx.ID,
		Account:       tx.Account,
		Amount:        tx.Amount,
		AmountMajor:   TransactionAmount(tx).StringFixed(2),
		Email:         tx.Email,
		Created:       tx.Created,
	})
	if err != nil {
		return fmt.Errorf("marshal %s: %w", EventTransactionFinalized, err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(tx.Account),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "event-type", Value: []byte(EventTransactionFinalized)},
		},
		Time: time.Unix(tx.Created, 0),
	})
	if err != nil {
		return fmt.Errorf("publish %s: %w", EventTransactionFinalized, err)
	}
	return nil
}
