package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TypePayment  TransactionType = "payment"
	TypeTrade    TransactionType = "trade"
	TypeTransfer TransactionType = "transfer"
)

// TransactionEvent is what the payment and trading subsystems emit once a
// transaction has completed.
type TransactionEvent struct {
	UserID        string            `json:"user_id"`
	TransactionID string            `json:"transaction_id"`
	Amount        decimal.Decimal   `json:"amount"`
	Type          TransactionType   `json:"type"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CompletedAt   time.Time         `json:"completed_at"`
}

func NewTransactionEvent(userID, transactionID string, t TransactionType, amount decimal.Decimal) *TransactionEvent {
	return &TransactionEvent{
		UserID:        userID,
		TransactionID: transactionID,
		Amount:        amount,
		Type:          t,
		Metadata:      make(map[string]string),
		CompletedAt:   time.Now(),
	}
}

func (e *TransactionEvent) AddMetadata(key, value string) {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
}
