package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Webhook delivery headers. Partners verify deliveries against these names,
// so they change only together with SignatureVersion.
const (
	HeaderSignature        = "X-Webhook-Signature"
	HeaderSignatureVersion = "X-Webhook-Signature-Version"
	HeaderEventID          = "X-Webhook-Id"
	HeaderEventType        = "X-Webhook-Event"
	HeaderTimestamp        = "X-Webhook-Timestamp"

	// SignatureVersion identifies the v1 scheme: sha256=hex(HMAC-SHA256(secret, raw body)).
	SignatureVersion = "v1"

	signaturePrefix = "sha256="
)

// HMACSignatureService implements ports.SignatureService using HMAC-SHA256.
type HMACSignatureService struct{}

// NewHMACSignatureService creates a new HMAC-SHA256 signature service.
func NewHMACSignatureService() *HMACSignatureService {
	return &HMACSignatureService{}
}

// Sign returns the X-Webhook-Signature value for payload: "sha256=" followed
// by the lowercase hex HMAC-SHA256 of the raw bytes.
func (s *HMACSignatureService) Sign(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a signature header value in constant time.
func (s *HMACSignatureService) Verify(secret string, payload []byte, signature string) bool {
	return VerifySignature(secret, payload, signature)
}

// VerifySignature is the receiver-side check for a delivered webhook. The
// "sha256=" prefix is required and matched case-insensitively.
func VerifySignature(secret string, body []byte, header string) bool {
	header = strings.TrimSpace(header)
	if len(header) <= len(signaturePrefix) || !strings.EqualFold(header[:len(signaturePrefix)], signaturePrefix) {
		return false
	}

	got, err := hex.DecodeString(header[len(signaturePrefix):])
	if err != nil {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(mac.Sum(nil), got)
}
