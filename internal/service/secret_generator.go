package service

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"

	"partner-webhooks/internal/core/ports"
)

// Prefixes make leaked credentials recognisable in logs and secret scanners.
const (
	WebhookSecretPrefix = "whsec_"
	APIKeyPrefix        = "pk_"
	APISecretPrefix     = "sk_"

	webhookSecretBytes = 32
	apiKeyBytes        = 16
	apiSecretBytes     = 32
)

// SecretGenerator implements ports.SecretGenerator on crypto/rand.
type SecretGenerator struct {
	hashSvc ports.HashService
	random  io.Reader
}

// NewSecretGenerator creates a generator that hashes API secrets with hashSvc.
func NewSecretGenerator(hashSvc ports.HashService) *SecretGenerator {
	return &SecretGenerator{hashSvc: hashSvc, random: rand.Reader}
}

// GenerateWebhookSecret returns a fresh 256-bit signing secret.
func (g *SecretGenerator) GenerateWebhookSecret() (string, error) {
	return g.generateKey(WebhookSecretPrefix, webhookSecretBytes)
}

// GenerateAPIKey returns a new key pair. APISecret is plaintext and is the
// only copy; callers persist APISecretHash.
func (g *SecretGenerator) GenerateAPIKey() (*ports.APICredentials, error) {
	apiKey, err := g.generateKey(APIKeyPrefix, apiKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("generate api key: %w", err)
	}

	apiSecret, err := g.generateKey(APISecretPrefix, apiSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("generate api secret: %w", err)
	}

	hash, err := g.hashSvc.Hash(apiSecret)
	if err != nil {
		return nil, fmt.Errorf("hash api secret: %w", err)
	}

	return &ports.APICredentials{
		APIKey:        apiKey,
		APISecret:     apiSecret,
		APISecretHash: hash,
	}, nil
}

func (g *SecretGenerator) generateKey(prefix string, length int) (string, error) {
	b := make([]byte, length)
	if _, err := io.ReadFull(g.random, b); err != nil {
		return "", err
	}
	return prefix + hex.EncodeToString(b), nil
}
