package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type WithdrawalPolicy string

const (
	WithdrawAnytime WithdrawalPolicy = "anytime"
	WithdrawMonthly WithdrawalPolicy = "monthly"
	WithdrawLocked  WithdrawalPolicy = "locked"
)

type AccountSettings struct {
	WithdrawalPolicy WithdrawalPolicy `json:"withdrawal_policy"`
	MinimumBalance   decimal.Decimal  `json:"minimum_balance"`
	AutoCompound     bool             `json:"auto_compound"`
}

type SavingsAccount struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Name             string          `json:"name"`
	Balance          decimal.Decimal `json:"balance"`
	TotalDeposits    decimal.Decimal `json:"total_deposits"`
	TotalWithdrawals decimal.Decimal `json:"total_withdrawals"`
	TotalInterest    decimal.Decimal `json:"total_interest"`
	InterestRate     decimal.Decimal `json:"interest_rate"`
	Settings         AccountSettings `json:"settings"`
	IsActive         bool            `json:"is_active"`
	CreatedAt        time.Time       `json:"created_at"`
	LastActivity     time.Time       `json:"last_activity"`
}
