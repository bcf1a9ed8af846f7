package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var ErrInvalidSecret = errors.New("invalid secret")

const tokenIssuer = "gridpay"

// TokenService checks the terminal's shared secret and mints the short-lived
// connection tokens the card reader authenticates with.
type TokenService struct {
	secretHash []byte
	signingKey []byte
	ttl        time.Duration
	now        func() time.Time
}

func NewTokenService(secretHash, signingKey string, ttl time.Duration) *TokenService {
	return &TokenService{
		secretHash: []byte(secretHash),
		signingKey: []byte(signingKey),
		ttl:        ttl,
		now:        time.Now,
	}
}

func (s *TokenService) VerifySecret(secret string) error {
	if secret == "" {
		return ErrInvalidSecret
	}
	if err := bcrypt.CompareHashAndPassword(s.secretHash, []byte(secret)); err != nil {
		return ErrInvalidSecret
	}
	return nil
}

func (s *TokenService) Issue() (string, error) {
	now := s.now()
	claims := jwt.RegisteredClaims{
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		ID:        uuid.NewString(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.signingKey)
	if err != nil {
		return "", fmt.Errorf("failed to sign connection token: %w", err)
	}
	return token, nil
}
