package processor

import (
	"autosave/internal/destination"
	"autosave/internal/domain"
	"autosave/internal/repository"
	"autosave/pkg/validator"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
)

var ErrProcessorClosed = errors.New("processor is shut down")

type Router interface {
	Route(ctx context.Context, req destination.RouteRequest) error
}

// CompletionObserver is told about every round-up that reaches completed.
// Goal tracking hangs off it.
type CompletionObserver interface {
	OnRoundUpCompleted(ctx context.Context, roundUp *domain.RoundUpTransaction, rule *domain.AutoSaveRule) error
}

// FailureObserver is told about every round-up that ends failed.
type FailureObserver interface {
	OnRoundUpFailed(ctx context.Context, roundUp *domain.RoundUpTransaction, cause error) error
}

type MetricsRecorder interface {
	RecordRoundUpTriggered(trigger domain.TriggerType, amount decimal.Decimal)
	RecordRoundUpSettled(dest domain.DestinationType, status domain.RoundUpStatus, duration time.Duration)
	RecordCapRejection(trigger domain.TriggerType)
}

type Config struct {
	MaxWorkers         int
	DestinationTimeout time.Duration
	Location           *time.Location
}

type Option func(*AutoSaveProcessor)

func WithLogger(logger *slog.Logger) Option {
	return func(p *AutoSaveProcessor) { p.logger = logger }
}

func WithMetrics(m MetricsRecorder) Option {
	return func(p *AutoSaveProcessor) { p.metrics = m }
}

func WithCompletionObservers(observers ...CompletionObserver) Option {
	return func(p *AutoSaveProcessor) { p.completed = append(p.completed, observers...) }
}

func WithFailureObservers(observers ...FailureObserver) Option {
	return func(p *AutoSaveProcessor) { p.failed = append(p.failed, observers...) }
}

func WithClock(now func() time.Time) Option {
	return func(p *AutoSaveProcessor) { p.now = now }
}

// AutoSaveProcessor turns completed transactions into round-ups and drives
// each round-up through pending -> processing -> completed|failed.
type AutoSaveProcessor struct {
	ruleRepo           repository.RuleRepository
	roundUpRepo        repository.RoundUpRepository
	ruleEngine         *RuleEngine
	capGuard           *CapGuard
	router             Router
	validator          *validator.TransactionValidator
	completed          []CompletionObserver
	failed             []FailureObserver
	metrics            MetricsRecorder
	ingestPool         chan struct{}
	settlePool         chan struct{}
	destinationTimeout time.Duration
	now                func() time.Time
	logger             *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

func NewAutoSaveProcessor(
	ruleRepo repository.RuleRepository,
	roundUpRepo repository.RoundUpRepository,
	router Router,
	cfg Config,
	opts ...Option,
) *AutoSaveProcessor {
	if cfg.MaxWorkers < 1 {
		cfg.MaxWorkers = 1
	}
	if cfg.DestinationTimeout <= 0 {
		cfg.DestinationTimeout = 10 * time.Second
	}

	p := &AutoSaveProcessor{
		ruleRepo:           ruleRepo,
		roundUpRepo:        roundUpRepo,
		router:             router,
		validator:          validator.NewTransactionValidator(),
		metrics:            nopMetrics{},
		ingestPool:         make(chan struct{}, cfg.MaxWorkers),
		settlePool:         make(chan struct{}, cfg.MaxWorkers),
		destinationTimeout: cfg.DestinationTimeout,
		now:                time.Now,
		logger:             slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.metrics == nil {
		p.metrics = nopMetrics{}
	}

	p.ruleEngine = NewRuleEngine(ruleRepo, p.logger)
	p.capGuard = NewCapGuard(roundUpRepo, cfg.Location, p.logger)

	return p
}

func (p *AutoSaveProcessor) RuleEngine() *RuleEngine { return p.ruleEngine }

func (p *AutoSaveProcessor) CapGuard() *CapGuard { return p.capGuard }

// ProcessTransaction evaluates the user's active rules against a completed
// transaction and records one pending round-up per firing rule. Routing of
// each round-up continues in the background; the returned records reflect
// their state at creation.
func (p *AutoSaveProcessor) ProcessTransaction(ctx context.Context, event *domain.TransactionEvent) ([]*domain.RoundUpTransaction, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrProcessorClosed
	}

	if err := p.validator.ValidateEvent(event); err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	rules, err := p.ruleEngine.ActiveRules(ctx, event.UserID)
	if err != nil {
		p.validator.Forget(event)
		return nil, fmt.Errorf("rule evaluation failed: %w", err)
	}

	var firing []EvaluationResult
	for _, result := range p.ruleEngine.Evaluate(ctx, event, rules) {
		if result.Fires {
			firing = append(firing, result)
		}
	}

	created := make([]*domain.RoundUpTransaction, len(firing))
	now := p.now()

	var (
		wg        sync.WaitGroup
		skipped   int
		abandoned atomic.Int32
	)
	for i, result := range firing {
		if !p.acquireIngest(ctx) {
			skipped = len(firing) - i
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-p.ingestPool }()
			var ok bool
			created[i], ok = p.createRoundUp(ctx, event, result, now)
			if !ok {
				abandoned.Add(1)
			}
		}()
	}
	wg.Wait()
	skipped += int(abandoned.Load())

	roundUps := make([]*domain.RoundUpTransaction, 0, len(created))
	for _, ru := range created {
		if ru == nil {
			continue
		}
		roundUps = append(roundUps, ru)
		p.dispatch(ctx, ru.ID)
	}

	if skipped > 0 {
		if len(roundUps) == 0 {
			p.validator.Forget(event)
		}
		p.logger.WarnContext(ctx, "Transaction abandoned before all rules were applied",
			slog.String("transaction_id", event.TransactionID),
			slog.Int("skipped_rules", skipped),
			slog.Int("round_ups", len(roundUps)))
		return roundUps, fmt.Errorf("%d of %d rules not applied: %w", skipped, len(firing), ctx.Err())
	}

	p.logger.InfoContext(ctx, "Transaction processed for auto-save",
		slog.String("transaction_id", event.TransactionID),
		slog.String("user_id", event.UserID),
		slog.Int("rules_evaluated", len(rules)),
		slog.Int("round_ups_created", len(roundUps)))

	return roundUps, nil
}

func (p *AutoSaveProcessor) createRoundUp(
	ctx context.Context,
	event *domain.TransactionEvent,
	result EvaluationResult,
	now time.Time,
) (*domain.RoundUpTransaction, bool) {
	rule := result.Rule
	ru := domain.NewRoundUp(event, rule, result.Amount)
	if ctx.Err() != nil {
		return nil, false
	}

	allowed, err := p.capGuard.Reserve(ctx, rule, result.Amount, event.UserID, now, func(ctx context.Context) error {
		_, err := p.roundUpRepo.Create(ctx, ru)
		return err
	})
	if err != nil {
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return nil, false
		}
		p.logger.ErrorContext(ctx, "Failed to create round-up",
			slog.String("rule_id", rule.ID),
			slog.String("transaction_id", event.TransactionID),
			slog.String("error", err.Error()))
		return nil, true
	}
	if !allowed {
		p.metrics.RecordCapRejection(rule.TriggerType)
		p.logger.InfoContext(ctx, "Auto-save skipped by daily cap",
			slog.String("rule_id", rule.ID),
			slog.String("transaction_id", event.TransactionID),
			slog.String("reason", ReasonDailyCapExceeded))
		return nil, true
	}

	p.metrics.RecordRoundUpTriggered(rule.TriggerType, result.Amount)
	return ru, true
}

// acquireIngest takes an ingest slot unless ctx ends first. Ingest and
// settlement have separate pools so slow destinations never stall new
// transactions.
func (p *AutoSaveProcessor) acquireIngest(ctx context.Context) bool {
	if ctx.Err() != nil {
		return false
	}
	select {
	case p.ingestPool <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (p *AutoSaveProcessor) dispatch(ctx context.Context, roundUpID string) {
	bg := context.WithoutCancel(ctx)

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.settlePool <- struct{}{}
		defer func() { <-p.settlePool }()

		if _, err := p.ProcessPending(bg, roundUpID); err != nil {
			p.logger.WarnContext(bg, "Round-up did not complete",
				slog.String("round_up_id", roundUpID),
				slog.String("error", err.Error()))
		}
	}()
}

// ProcessPending settles one pending round-up. Only the caller that moves
// it out of pending routes it, so repeated calls never deliver twice.
func (p *AutoSaveProcessor) ProcessPending(ctx context.Context, roundUpID string) (*domain.RoundUpTransaction, error) {
	ru, err := p.roundUpRepo.GetByID(ctx, roundUpID)
	if err != nil {
		return nil, err
	}

	if err := p.roundUpRepo.UpdateStatus(ctx, ru.ID, domain.StatusPending, domain.StatusProcessing, nil, ""); err != nil {
		return ru, err
	}
	ru.Status = domain.StatusProcessing
	start := time.Now()

	rule, err := p.ruleRepo.GetByID(ctx, ru.AutoSaveRuleID)
	if err != nil {
		return p.fail(ctx, ru, fmt.Errorf("failed to load rule: %w", err), start)
	}

	routeCtx, cancel := context.WithTimeout(ctx, p.destinationTimeout)
	err = p.router.Route(routeCtx, destination.RouteRequest{
		RoundUpID:       ru.ID,
		UserID:          ru.UserID,
		DestinationType: ru.DestinationType,
		DestinationID:   ru.DestinationID,
		Amount:          ru.RoundUpAmount,
	})
	cancel()
	if err != nil {
		return p.fail(ctx, ru, err, start)
	}

	completedAt := p.now()
	if err := p.roundUpRepo.UpdateStatus(ctx, ru.ID, domain.StatusProcessing, domain.StatusCompleted, &completedAt, ""); err != nil {
		return ru, fmt.Errorf("failed to mark round-up completed: %w", err)
	}
	ru.Status = domain.StatusCompleted
	ru.CompletedAt = &completedAt
	p.metrics.RecordRoundUpSettled(ru.DestinationType, domain.StatusCompleted, time.Since(start))

	if err := p.ruleRepo.IncrementRuleStats(ctx, rule.ID, ru.RoundUpAmount, completedAt); err != nil {
		p.logger.ErrorContext(ctx, "Failed to update rule statistics",
			slog.String("rule_id", rule.ID),
			slog.String("round_up_id", ru.ID),
			slog.String("error", err.Error()))
	}

	for _, o := range p.completed {
		if err := o.OnRoundUpCompleted(ctx, ru, rule); err != nil {
			p.logger.ErrorContext(ctx, "Round-up observer failed",
				slog.String("round_up_id", ru.ID),
				slog.String("error", err.Error()))
		}
	}

	p.logger.InfoContext(ctx, "Round-up completed",
		slog.String("round_up_id", ru.ID),
		slog.String("rule_id", rule.ID),
		slog.String("amount", ru.RoundUpAmount.String()),
		slog.String("destination_type", string(ru.DestinationType)))

	return ru, nil
}

func (p *AutoSaveProcessor) fail(ctx context.Context, ru *domain.RoundUpTransaction, cause error, start time.Time) (*domain.RoundUpTransaction, error) {
	if err := p.roundUpRepo.UpdateStatus(ctx, ru.ID, domain.StatusProcessing, domain.StatusFailed, nil, cause.Error()); err != nil {
		p.logger.ErrorContext(ctx, "Failed to mark round-up failed",
			slog.String("round_up_id", ru.ID),
			slog.String("error", err.Error()))
		return ru, errors.Join(cause, err)
	}
	ru.Status = domain.StatusFailed
	ru.FailureReason = cause.Error()
	p.metrics.RecordRoundUpSettled(ru.DestinationType, domain.StatusFailed, time.Since(start))

	p.logger.ErrorContext(ctx, "Round-up failed",
		slog.String("round_up_id", ru.ID),
		slog.String("rule_id", ru.AutoSaveRuleID),
		slog.String("destination_type", string(ru.DestinationType)),
		slog.String("error", cause.Error()))

	for _, o := range p.failed {
		if err := o.OnRoundUpFailed(ctx, ru, cause); err != nil {
			p.logger.ErrorContext(ctx, "Round-up observer failed",
				slog.String("round_up_id", ru.ID),
				slog.String("error", err.Error()))
		}
	}

	return ru, cause
}

func (p *AutoSaveProcessor) GetRoundUp(ctx context.Context, id string) (*domain.RoundUpTransaction, error) {
	return p.roundUpRepo.GetByID(ctx, id)
}

func (p *AutoSaveProcessor) ListRoundUps(ctx context.Context, userID string, limit int) ([]*domain.RoundUpTransaction, error) {
	return p.roundUpRepo.ListByUser(ctx, userID, limit)
}

// Wait blocks until every round-up dispatched so far has settled.
func (p *AutoSaveProcessor) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting transactions and waits for in-flight routing.
func (p *AutoSaveProcessor) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("Auto-save processor shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type nopMetrics struct{}

func (nopMetrics) RecordRoundUpTriggered(domain.TriggerType, decimal.Decimal) {}
func (nopMetrics) RecordRoundUpSettled(domain.DestinationType, domain.RoundUpStatus, time.Duration) {}
func (nopMetrics) RecordCapRejection(domain.TriggerType) {}
