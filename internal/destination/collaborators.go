package destination

import (
	"context"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"
)

// Delivery is one call a stand-in collaborator accepted.
type Delivery struct {
	DestinationID string
	Amount        decimal.Decimal
	Key           string
}

// LoggingVaultContributor stands in for the vault contribution system. It
// logs each contribution once per key.
type LoggingVaultContributor struct {
	*ledger
}

func NewLoggingVaultContributor(logger *slog.Logger) *LoggingVaultContributor {
	return &LoggingVaultContributor{ledger: newLedger("vault_contribution", logger)}
}

func (v *LoggingVaultContributor) ContributeToVault(ctx context.Context, vaultID string, amount decimal.Decimal, key string) error {
	v.record(ctx, vaultID, amount, key)
	return nil
}

// LoggingStockPurchaser stands in for the trading system.
type LoggingStockPurchaser struct {
	*ledger
}

func NewLoggingStockPurchaser(logger *slog.Logger) *LoggingStockPurchaser {
	return &LoggingStockPurchaser{ledger: newLedger("stock_purchase", logger)}
}

func (p *LoggingStockPurchaser) PurchaseStock(ctx context.Context, symbol string, amount decimal.Decimal, key string) error {
	p.record(ctx, symbol, amount, key)
	return nil
}

type ledger struct {
	kind       string
	mu         sync.Mutex
	seen       map[string]struct{}
	deliveries []Delivery
	logger     *slog.Logger
}

func newLedger(kind string, logger *slog.Logger) *ledger {
	if logger == nil {
		logger = slog.Default()
	}
	return &ledger{kind: kind, seen: make(map[string]struct{}), logger: logger}
}

func (l *ledger) record(ctx context.Context, id string, amount decimal.Decimal, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, dup := l.seen[key]; dup && key != "" {
		return
	}
	l.seen[key] = struct{}{}
	l.deliveries = append(l.deliveries, Delivery{DestinationID: id, Amount: amount, Key: key})

	l.logger.InfoContext(ctx, "External destination accepted amount",
		slog.String("kind", l.kind),
		slog.String("destination_id", id),
		slog.String("amount", amount.String()),
		slog.String("key", key))
}

func (l *ledger) Deliveries() []Delivery {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]Delivery(nil), l.deliveries...)
}
