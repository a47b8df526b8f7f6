package commands

import (
	"context"
	"fmt"
	"log/slog"

	"autosave/internal/api"
	"autosave/internal/config"
	"autosave/internal/destination"
	"autosave/internal/processor"
	"autosave/internal/repository"
	"autosave/internal/repository/memory"
	"autosave/internal/repository/sqlite"
	"autosave/internal/service"
	"autosave/pkg/crypto"
	"autosave/pkg/metrics"
)

// app is the fully wired engine behind the serve command.
type app struct {
	rules    repository.RuleRepository
	roundUps repository.RoundUpRepository
	goals    repository.GoalRepository
	accounts repository.AccountRepository
	store    *sqlite.Store

	metrics       *metrics.MetricsCollector
	notifications *service.NotificationService
	analytics     *service.AnalyticsService
	processor     *processor.AutoSaveProcessor
	handler       *api.APIHandler
	logger        *slog.Logger
}

func buildApp(cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	switch cfg.Storage.Driver {
	case config.StorageSQLite:
		store, err := sqlite.Open(cfg.Storage.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		a.store = store
		a.rules, a.roundUps, a.goals, a.accounts = store.Rules(), store.RoundUps(), store.Goals(), store.Accounts()
	default:
		a.rules = memory.NewRuleRepository()
		a.roundUps = memory.NewRoundUpRepository()
		a.goals = memory.NewGoalRepository()
		a.accounts = memory.NewAccountRepository()
	}

	location, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	a.metrics = metrics.NewMetricsCollector(logger)
	a.notifications = service.NewNotificationService(
		&loggingEmailService{logger: logger},
		&loggingPushService{logger: logger},
		3,
		logger,
	)
	tracker := service.NewGoalTracker(a.goals, a.notifications, a.metrics, logger)
	a.analytics = service.NewAnalyticsService(a.rules, a.roundUps, a.goals, logger)

	router := destination.NewRouter(
		a.accounts,
		destination.NewLoggingVaultContributor(logger),
		destination.NewLoggingStockPurchaser(logger),
		destination.RetryPolicy{MaxAttempts: cfg.Engine.MaxAttempts, Backoff: cfg.Engine.RetryBackoff},
		logger,
	)
	a.processor = processor.NewAutoSaveProcessor(a.rules, a.roundUps, router,
		processor.Config{
			MaxWorkers:         cfg.Engine.MaxWorkers,
			DestinationTimeout: cfg.Engine.DestinationTimeout,
			Location:           location,
		},
		processor.WithLogger(logger),
		processor.WithMetrics(a.metrics),
		processor.WithCompletionObservers(tracker),
		processor.WithFailureObservers(a.notifications),
	)

	a.handler = api.NewAPIHandler(api.Dependencies{
		Processor: a.processor,
		Rules:     a.rules,
		Accounts:  a.accounts,
		Goals:     tracker,
		Analytics: a.analytics,
		Signer:    crypto.NewSigner(cfg.Security.SigningSecret, logger),
		Metrics:   a.metrics,
	}, cfg.Server.RequestTimeout, logger)

	return a, nil
}

// shutdown drains in-flight round-ups before closing the store.
func (a *app) shutdown(ctx context.Context) {
	if err := a.processor.Shutdown(ctx); err != nil {
		a.logger.Error("Processor shutdown failed", slog.String("error", err.Error()))
	}
	if err := a.notifications.Shutdown(ctx); err != nil {
		a.logger.Error("Notification service shutdown failed", slog.String("error", err.Error()))
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("Store close failed", slog.String("error", err.Error()))
		}
	}
}

type loggingEmailService struct {
	logger *slog.Logger
}

func (s *loggingEmailService) SendEmail(to, subject, body string) error {
	s.logger.Info("Email delivered",
		slog.String("to", to),
		slog.String("subject", subject),
		slog.Int("body_length", len(body)))
	return nil
}

type loggingPushService struct {
	logger *slog.Logger
}

func (s *loggingPushService) SendPush(userID, title, message string) error {
	s.logger.Info("Push delivered",
		slog.String("user_id", userID),
		slog.String("title", title),
		slog.String("message", message))
	return nil
}
