package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
)

var ErrInvalidSignature = errors.New("invalid signature")

// Signer authenticates transaction-completed events pushed by the
// payments ledger.
type Signer struct {
	secretKey []byte
	logger    *slog.Logger
}

func NewSigner(secretKey string, logger *slog.Logger) *Signer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Signer{
		secretKey: []byte(secretKey),
		logger:    logger,
	}
}

func (s *Signer) Sign(data []byte) string {
	mac := hmac.New(sha256.New, s.secretKey)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *Signer) Verify(data []byte, signature string) error {
	expectedSignature := s.Sign(data)

	if !hmac.Equal([]byte(expectedSignature), []byte(signature)) {
		s.logger.Warn("Signature verification failed",
			slog.Int("signature_length", len(signature)))
		return ErrInvalidSignature
	}

	return nil
}

// SignEvent signs the canonical "user:tx:amount:unix" form of an event.
// Amount is the decimal string exactly as sent.
func (s *Signer) SignEvent(userID, transactionID, amount string, timestamp int64) string {
	return s.Sign([]byte(eventPayload(userID, transactionID, amount, timestamp)))
}

func (s *Signer) VerifyEvent(userID, transactionID, amount string, timestamp int64, signature string) error {
	return s.Verify([]byte(eventPayload(userID, transactionID, amount, timestamp)), signature)
}

func eventPayload(userID, transactionID, amount string, timestamp int64) string {
	return fmt.Sprintf("%s:%s:%s:%d", userID, transactionID, amount, timestamp)
}
