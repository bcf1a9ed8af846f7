package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ReplayStore remembers successful capture responses so a retried capture of
// the same intent gets the same answer without a second processor call.
type ReplayStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewReplayStore(client *redis.Client, ttl time.Duration) *ReplayStore {
	return &ReplayStore{client: client, ttl: ttl}
}

func captureKey(intentID string) string {
	return "gridpay:capture:" + intentID
}

// Recall returns the stored response body, if any.
func (s *ReplayStore) Recall(ctx context.Context, intentID string) ([]byte, bool, error) {
	body, err := s.client.Get(ctx, captureKey(intentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("recall capture %s: %w", intentID, err)
	}
	return body, true, nil
}

// Remember stores body unless one is already stored.
func (s *ReplayStore) Remember(ctx context.Context, intentID string, body []byte) error {
	if err := s.client.SetNX(ctx, captureKey(intentID), body, s.ttl).Err(); err != nil {
		return fmt.Errorf("remember capture %s: %w", intentID, err)
	}
	return nil
}
