package scheduler

import (
	"context"
	"fmt"
	"log/slog"

	"autosave/internal/domain"

	"github.com/robfig/cron/v3"
)

type UserLister interface {
	ListUserIDs(ctx context.Context) ([]string, error)
}

type AnalyticsProvider interface {
	GetAnalytics(ctx context.Context, userID string, period domain.Period) (*domain.SavingsAnalytics, error)
}

type InsightSender interface {
	SendInsights(ctx context.Context, userID string, insights []domain.SmartSaveInsight) error
}

// Scheduler runs the periodic insight digest.
type Scheduler struct {
	cron      *cron.Cron
	users     UserLister
	analytics AnalyticsProvider
	sender    InsightSender
	period    domain.Period
	ctx       context.Context
	logger    *slog.Logger
}

func NewScheduler(
	ctx context.Context,
	users UserLister,
	analytics AnalyticsProvider,
	sender InsightSender,
	period domain.Period,
	logger *slog.Logger,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		cron:      cron.New(cron.WithSeconds()),
		users:     users,
		analytics: analytics,
		sender:    sender,
		period:    period,
		ctx:       ctx,
		logger:    logger,
	}
}

// RegisterDigest schedules RunDigest on a six-field cron spec.
func (s *Scheduler) RegisterDigest(spec string) error {
	if _, err := s.cron.AddFunc(spec, func() {
		if _, err := s.RunDigest(s.ctx); err != nil {
			s.logger.Error("Insight digest failed", slog.String("error", err.Error()))
		}
	}); err != nil {
		return fmt.Errorf("register digest: %w", err)
	}
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("Scheduler started", slog.Int("jobs", len(s.cron.Entries())))
}

// Stop waits for a running digest to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunDigest sends each user with rules their current insights. A failure
// for one user does not stop the others; it returns how many users were
// sent a digest.
func (s *Scheduler) RunDigest(ctx context.Context) (int, error) {
	userIDs, err := s.users.ListUserIDs(ctx)
	if err != nil {
		return 0, fmt.Errorf("list users: %w", err)
	}

	sent := 0
	for _, userID := range userIDs {
		if err := ctx.Err(); err != nil {
			return sent, err
		}

		analytics, err := s.analytics.GetAnalytics(ctx, userID, s.period)
		if err != nil {
			s.logger.Error("Failed to build digest",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		if len(analytics.Insights) == 0 {
			continue
		}
		if err := s.sender.SendInsights(ctx, userID, analytics.Insights); err != nil {
			s.logger.Error("Failed to send digest",
				slog.String("user_id", userID),
				slog.String("error", err.Error()))
			continue
		}
		sent++
	}

	s.logger.Info("Insight digest complete",
		slog.Int("users", len(userIDs)),
		slog.Int("sent", sent))

	return sent, nil
}
