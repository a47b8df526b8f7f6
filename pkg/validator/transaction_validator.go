package validator

import (
	"autosave/internal/domain"
	"container/list"
	"errors"
	"fmt"
	"sync"
	"time"
)

var (
	ErrValidation = errors.New("validation error")

	ErrInvalidAmount          = fmt.Errorf("%w: invalid amount", ErrValidation)
	ErrInvalidTransaction     = fmt.Errorf("%w: invalid transaction", ErrValidation)
	ErrInvalidTriggerSettings = fmt.Errorf("%w: invalid trigger settings", ErrValidation)
	ErrInvalidDestination     = fmt.Errorf("%w: invalid destination", ErrValidation)
	ErrInvalidGoal            = fmt.Errorf("%w: invalid goal", ErrValidation)
	ErrInvalidPeriod          = fmt.Errorf("%w: invalid period", ErrValidation)
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
)

const (
	// DefaultDedupeWindow is how long an accepted transaction ID is remembered.
	DefaultDedupeWindow = 24 * time.Hour
	// DefaultDedupeLimit caps how many IDs are remembered at once; the
	// oldest are dropped first.
	DefaultDedupeLimit = 100_000
)

// TransactionValidator checks upstream completion events and remembers
// which transaction IDs it has accepted within a bounded window. Memory is
// per process, so a restart forgets every ID.
type TransactionValidator struct {
	mu     sync.Mutex
	seen   map[string]*list.Element
	order  *list.List
	window time.Duration
	limit  int
	now    func() time.Time
}

type seenEntry struct {
	key string
	at  time.Time
}

func NewTransactionValidator() *TransactionValidator {
	return NewTransactionValidatorWithLimits(DefaultDedupeWindow, DefaultDedupeLimit, nil)
}

func NewTransactionValidatorWithLimits(window time.Duration, limit int, now func() time.Time) *TransactionValidator {
	if window <= 0 {
		window = DefaultDedupeWindow
	}
	if limit < 1 {
		limit = DefaultDedupeLimit
	}
	if now == nil {
		now = time.Now
	}
	return &TransactionValidator{
		seen:   make(map[string]*list.Element),
		order:  list.New(),
		window: window,
		limit:  limit,
		now:    now,
	}
}

func (v *TransactionValidator) ValidateEvent(event *domain.TransactionEvent) error {
	var errs []error

	if event.UserID == "" {
		errs = append(errs, errors.New("user_id is required"))
	}
	if event.TransactionID == "" {
		errs = append(errs, errors.New("transaction_id is required"))
	}
	if !event.Amount.IsPositive() {
		errs = append(errs, errors.New("amount must be positive"))
	}

	switch event.Type {
	case domain.TypePayment, domain.TypeTrade, domain.TypeTransfer:
	default:
		errs = append(errs, fmt.Errorf("unknown transaction type: %q", event.Type))
	}

	if event.CompletedAt.After(time.Now().Add(5 * time.Minute)) {
		errs = append(errs, errors.New("completion date cannot be in the future"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, errors.Join(errs...))
	}

	v.mu.Lock()
	defer v.mu.Unlock()

	now := v.now()
	v.evict(now)

	key := event.UserID + "/" + event.TransactionID
	if _, ok := v.seen[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTransaction, event.TransactionID)
	}
	for len(v.seen) >= v.limit {
		v.dropOldest()
	}
	v.seen[key] = v.order.PushBack(seenEntry{key: key, at: now})

	return nil
}

// Len reports how many transaction IDs are currently remembered.
func (v *TransactionValidator) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.seen)
}

func (v *TransactionValidator) evict(now time.Time) {
	cutoff := now.Add(-v.window)
	for front := v.order.Front(); front != nil; front = v.order.Front() {
		if front.Value.(seenEntry).at.After(cutoff) {
			return
		}
		v.dropOldest()
	}
}

func (v *TransactionValidator) dropOldest() {
	if front := v.order.Front(); front != nil {
		delete(v.seen, v.order.Remove(front).(seenEntry).key)
	}
}

// Forget drops a transaction ID so a later redelivery is accepted again.
func (v *TransactionValidator) Forget(event *domain.TransactionEvent) {
	v.mu.Lock()
	defer v.mu.Unlock()
	key := event.UserID + "/" + event.TransactionID
	if e, ok := v.seen[key]; ok {
		v.order.Remove(e)
		delete(v.seen, key)
	}
}

func ValidatePeriod(p domain.Period) error {
	if _, ok := p.StartFrom(time.Now()); !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPeriod, p)
	}
	return nil
}
