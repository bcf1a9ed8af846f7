// Package config reads settings for both binaries from the environment,
// after loading an optional .env file.
package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

var ErrMissing = errors.New("required setting is not set")

type Backend struct {
	Port                 string
	MongoURI             string
	MongoDB              string
	ConnectionSecretHash string
	TokenSigningKey      string
	TokenTTL             time.Duration
	ProviderBaseURL      string
	ProviderSecretKey    string
	RedisAddr            string
	KafkaAddr            string
	KafkaTopic           string
}

type Terminal struct {
	APIURL           string
	ConnectionSecret string
	ConnectedAccount string
	Currency         string
}

// LoadEnv loads files into the environment. A missing file is only a
// warning.
func LoadEnv(files ...string) {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil {
			log.Warn().Err(err).Str("file", f).Msg("Error loading env file")
		}
	}
}

func LoadBackend() (*Backend, error) {
	ttl, err := duration("TOKEN_TTL", 10*time.Minute)
	if err != nil {
		return nil, err
	}
	cfg := &Backend{
		Port:                 getenv("PORT", "8080"),
		MongoURI:             os.Getenv("MONGOURI"),
		MongoDB:              getenv("MONGO_DB", "gridpay"),
		ConnectionSecretHash: os.Getenv("CONNECTION_SECRET_HASH"),
		TokenSigningKey:      os.Getenv("TOKEN_SIGNING_KEY"),
		TokenTTL:             ttl,
		ProviderBaseURL:      getenv("PROVIDER_BASE_URL", "https://api.stripe.com"),
		ProviderSecretKey:    os.Getenv("PROVIDER_SECRET_KEY"),
		RedisAddr:            os.Getenv("REDIS_ADDR"),
		KafkaAddr:            os.Getenv("KAFKA_ADDR"),
		KafkaTopic:           getenv("KAFKA_TOPIC", "gridpay.transactions"),
	}
	if err := require(map[string]string{
		"MONGOURI":               cfg.MongoURI,
		"CONNECTION_SECRET_HASH": cfg.ConnectionSecretHash,
		"TOKEN_SIGNING_KEY":      cfg.TokenSigningKey,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func LoadTerminal() (*Terminal, error) {
	cfg := &Terminal{
		APIURL:           os.Getenv("API_URL"),
		ConnectionSecret: os.Getenv("CONNECTION_SECRET"),
		ConnectedAccount: os.Getenv("CONNECTED_ACCOUNT"),
		Currency:         strings.ToLower(getenv("CURRENCY", "gbp")),
	}
	if err := require(map[string]string{
		"API_URL":           cfg.APIURL,
		"CONNECTION_SECRET": cfg.ConnectionSecret,
		"CONNECTED_ACCOUNT": cfg.ConnectedAccount,
	}); err != nil {
		return nil, err
	}
	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func duration(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s: must be positive, got %s", key, v)
	}
	return d, nil
}

func require(values map[string]string) error {
	var missing []string
	for k, v := range values {
		if v == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) == 0 {
		return nil
	}
	slices.Sort(missing)
	return fmt.Errorf("%w: %s", ErrMissing, strings.Join(missing, ", "))
}
