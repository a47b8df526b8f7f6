package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type RoundUpStatus string

const (
	StatusPending    RoundUpStatus = "pending"
	StatusProcessing RoundUpStatus = "processing"
	StatusCompleted  RoundUpStatus = "completed"
	StatusFailed     RoundUpStatus = "failed"
)

// RoundUpTransaction is one firing of one rule against one source
// transaction. Only Status, CompletedAt and FailureReason change after
// creation.
type RoundUpTransaction struct {
	ID                    string            `json:"id"`
	UserID                string            `json:"user_id"`
	OriginalTransactionID string            `json:"original_transaction_id"`
	OriginalAmount        decimal.Decimal   `json:"original_amount"`
	RoundUpAmount         decimal.Decimal   `json:"round_up_amount"`
	TotalAmount           decimal.Decimal   `json:"total_amount"`
	AutoSaveRuleID        string            `json:"auto_save_rule_id"`
	DestinationType       DestinationType   `json:"destination_type"`
	DestinationID         string            `json:"destination_id"`
	Status                RoundUpStatus     `json:"status"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
	CompletedAt           *time.Time        `json:"completed_at,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
}

func NewRoundUp(event *TransactionEvent, rule *AutoSaveRule, amount decimal.Decimal) *RoundUpTransaction {
	return &RoundUpTransaction{
		UserID:                event.UserID,
		OriginalTransactionID: event.TransactionID,
		OriginalAmount:        event.Amount,
		RoundUpAmount:         amount,
		TotalAmount:           event.Amount.Add(amount),
		AutoSaveRuleID:        rule.ID,
		DestinationType:       rule.DestinationType,
		DestinationID:         rule.DestinationID,
		Status:                StatusPending,
		Metadata: map[string]string{
			"trigger_type":     string(rule.TriggerType),
			"transaction_type": string(event.Type),
			"rule_name":        rule.Name,
		},
	}
}

func (s RoundUpStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransition reports whether a round-up may move from one status to
// another.
func CanTransition(from, to RoundUpStatus) bool {
	switch from {
	case StatusPending:
		return to == StatusProcessing || to == StatusFailed
	case StatusProcessing:
		return to == StatusCompleted || to == StatusFailed
	default:
		return false
	}
}
