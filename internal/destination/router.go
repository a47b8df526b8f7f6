package destination

import (
	"autosave/internal/domain"
	"autosave/internal/repository"
	"autosave/pkg/validator"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
)

var ErrDestinationUnavailable = errors.New("destination unavailable")

// The collaborators receive the round-up ID as key and must treat a repeated
// key as already applied.
type AccountCreditor interface {
	CreditSavingsAccount(ctx context.Context, accountID string, amount decimal.Decimal, key string) error
}

type VaultContributor interface {
	ContributeToVault(ctx context.Context, vaultID string, amount decimal.Decimal, key string) error
}

type StockPurchaser interface {
	PurchaseStock(ctx context.Context, symbol string, amount decimal.Decimal, key string) error
}

type RouteRequest struct {
	RoundUpID       string
	UserID          string
	DestinationType domain.DestinationType
	DestinationID   string
	Amount          decimal.Decimal
}

type RetryPolicy struct {
	MaxAttempts int
	Backoff     time.Duration
}

var DefaultRetryPolicy = RetryPolicy{MaxAttempts: 3, Backoff: 200 * time.Millisecond}

type Router struct {
	accounts AccountCreditor
	vaults   VaultContributor
	stocks   StockPurchaser
	retry    RetryPolicy
	logger   *slog.Logger
}

func NewRouter(
	accounts AccountCreditor,
	vaults VaultContributor,
	stocks StockPurchaser,
	retry RetryPolicy,
	logger *slog.Logger,
) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	if retry.MaxAttempts < 1 {
		retry.MaxAttempts = 1
	}

	return &Router{
		accounts: accounts,
		vaults:   vaults,
		stocks:   stocks,
		retry:    retry,
		logger:   logger,
	}
}

// Route delivers the amount to the destination. Transient failures are
// retried with doubling backoff under the same idempotency key.
func (r *Router) Route(ctx context.Context, req RouteRequest) error {
	if !req.Amount.IsPositive() {
		return fmt.Errorf("%w: route amount must be positive, got %s", validator.ErrInvalidAmount, req.Amount)
	}
	if err := validator.ValidateDestination(req.DestinationType, req.DestinationID); err != nil {
		return err
	}

	backoff := r.retry.Backoff
	var err error
	for attempt := 1; attempt <= r.retry.MaxAttempts; attempt++ {
		err = r.deliver(ctx, req)
		if err == nil {
			r.logger.InfoContext(ctx, "Round-up delivered",
				slog.String("round_up_id", req.RoundUpID),
				slog.String("destination_type", string(req.DestinationType)),
				slog.String("destination_id", req.DestinationID),
				slog.String("amount", req.Amount.String()),
				slog.Int("attempt", attempt))
			return nil
		}

		if !errors.Is(err, ErrDestinationUnavailable) || attempt == r.retry.MaxAttempts {
			break
		}

		r.logger.WarnContext(ctx, "Destination call failed, retrying",
			slog.String("round_up_id", req.RoundUpID),
			slog.String("destination_type", string(req.DestinationType)),
			slog.Int("attempt", attempt),
			slog.String("error", err.Error()))

		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return fmt.Errorf("%w: %w", ErrDestinationUnavailable, ctx.Err())
		}
		backoff *= 2
	}

	return err
}

func (r *Router) deliver(ctx context.Context, req RouteRequest) error {
	var err error

	switch req.DestinationType {
	case domain.DestinationSavingsAccount:
		err = r.call(r.accounts != nil, func() error {
			return r.accounts.CreditSavingsAccount(ctx, req.DestinationID, req.Amount, req.RoundUpID)
		})
	case domain.DestinationVault:
		err = r.call(r.vaults != nil, func() error {
			return r.vaults.ContributeToVault(ctx, req.DestinationID, req.Amount, req.RoundUpID)
		})
	case domain.DestinationStock:
		err = r.call(r.stocks != nil, func() error {
			return r.stocks.PurchaseStock(ctx, req.DestinationID, req.Amount, req.RoundUpID)
		})
	}

	return classify(req, err)
}

func (r *Router) call(configured bool, fn func() error) error {
	if !configured {
		return errors.New("no collaborator configured")
	}
	return fn()
}

// classify keeps not-found and validation errors as they are and marks
// everything else as a destination outage. Inactive accounts are an outage
// that retrying will not fix.
func classify(req RouteRequest, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrNotFound), errors.Is(err, validator.ErrValidation):
		return err
	case errors.Is(err, repository.ErrAccountInactive):
		return fmt.Errorf("%s %s: %w", req.DestinationType, req.DestinationID, err)
	default:
		return fmt.Errorf("%w: %s %s: %w", ErrDestinationUnavailable, req.DestinationType, req.DestinationID, err)
	}
}
