package service

import (
	"autosave/internal/domain"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type NotificationType string

const (
	NotificationEmail NotificationType = "email"
	NotificationPush  NotificationType = "push"
)

var ErrNotifierClosed = errors.New("notification service is shut down")

type NotificationService struct {
	emailService EmailService
	pushService  PushService
	messageQueue chan NotificationMessage
	workers      int
	shutdownChan chan struct{}
	closeOnce    sync.Once
	wg           sync.WaitGroup
	logger       *slog.Logger
}

type NotificationMessage struct {
	Type      NotificationType
	Recipient string
	Subject   string
	Message   string
	Priority  int
	Metadata  map[string]string
	CreatedAt time.Time
}

type EmailService interface {
	SendEmail(to, subject, body string) error
}

type PushService interface {
	SendPush(userID, title, message string) error
}

func NewNotificationService(
	emailService EmailService,
	pushService PushService,
	workers int,
	logger *slog.Logger,
) *NotificationService {
	if logger == nil {
		logger = slog.Default()
	}
	if workers <= 0 {
		workers = 1
	}

	service := &NotificationService{
		emailService: emailService,
		pushService:  pushService,
		messageQueue: make(chan NotificationMessage, 1000),
		workers:      workers,
		shutdownChan: make(chan struct{}),
		logger:       logger,
	}

	service.startWorkers()

	return service
}

func (s *NotificationService) NotifyGoalCompleted(ctx context.Context, goal *domain.SavingsGoal) error {
	return s.enqueue(ctx, NotificationMessage{
		Type:      NotificationPush,
		Recipient: goal.UserID,
		Subject:   "Goal reached",
		Message: fmt.Sprintf("You reached your %s goal of %s. Nice work!",
			goal.Name, goal.TargetAmount.StringFixed(2)),
		Priority: 8,
		Metadata: map[string]string{
			"goal_id": goal.ID,
		},
		CreatedAt: time.Now(),
	})
}

// SendInsights delivers one email digest per batch; an empty batch sends
// nothing.
func (s *NotificationService) SendInsights(ctx context.Context, userID string, insights []domain.SmartSaveInsight) error {
	if len(insights) == 0 {
		return nil
	}

	body := ""
	priority := 3
	for _, in := range insights {
		body += fmt.Sprintf("- %s: %s\n", in.Title, in.Description)
		if in.Priority == domain.InsightHigh {
			priority = 7
		}
	}

	return s.enqueue(ctx, NotificationMessage{
		Type:      NotificationEmail,
		Recipient: userID,
		Subject:   fmt.Sprintf("Your savings digest (%d insights)", len(insights)),
		Message:   body,
		Priority:  priority,
		Metadata: map[string]string{
			"insight_count": fmt.Sprintf("%d", len(insights)),
		},
		CreatedAt: time.Now(),
	})
}

func (s *NotificationService) OnRoundUpFailed(ctx context.Context, ru *domain.RoundUpTransaction, cause error) error {
	reason := ru.FailureReason
	if reason == "" && cause != nil {
		reason = cause.Error()
	}

	return s.enqueue(ctx, NotificationMessage{
		Type:      NotificationPush,
		Recipient: ru.UserID,
		Subject:   "Auto-save failed",
		Message: fmt.Sprintf("We couldn't move %s to your %s. Reason: %s",
			ru.RoundUpAmount.StringFixed(2), ru.DestinationType, reason),
		Priority: 5,
		Metadata: map[string]string{
			"round_up_id":    ru.ID,
			"transaction_id": ru.OriginalTransactionID,
			"rule_id":        ru.AutoSaveRuleID,
		},
		CreatedAt: time.Now(),
	})
}

func (s *NotificationService) enqueue(ctx context.Context, msg NotificationMessage) error {
	select {
	case <-s.shutdownChan:
		return ErrNotifierClosed
	default:
	}

	select {
	case s.messageQueue <- msg:
		s.logger.Info("Notification queued",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.String("subject", msg.Subject))
		return nil
	case <-s.shutdownChan:
		return ErrNotifierClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *NotificationService) startWorkers() {
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

func (s *NotificationService) worker(id int) {
	defer s.wg.Done()

	s.logger.Debug("Notification worker started", slog.Int("worker_id", id))

	for {
		select {
		case msg := <-s.messageQueue:
			s.processNotification(msg, id)
		case <-s.shutdownChan:
			s.logger.Debug("Notification worker stopping", slog.Int("worker_id", id))
			return
		}
	}
}

func (s *NotificationService) processNotification(msg NotificationMessage, workerID int) {
	startTime := time.Now()
	var err error

	switch msg.Type {
	case NotificationEmail:
		err = s.emailService.SendEmail(msg.Recipient, msg.Subject, msg.Message)
	case NotificationPush:
		err = s.pushService.SendPush(msg.Recipient, msg.Subject, msg.Message)
	default:
		err = fmt.Errorf("unknown notification type: %s", msg.Type)
	}

	duration := time.Since(startTime)

	if err != nil {
		s.logger.Error("Failed to send notification",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	} else {
		s.logger.Info("Notification sent successfully",
			slog.String("type", string(msg.Type)),
			slog.String("recipient", msg.Recipient),
			slog.Int("worker_id", workerID),
			slog.Duration("duration", duration))
	}
}

func (s *NotificationService) Shutdown(ctx context.Context) error {
	s.closeOnce.Do(func() { close(s.shutdownChan) })

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Notification service shutdown complete")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type SentMessage struct {
	To      string
	Subject string
	Body    string
}

type MockEmailService struct {
	mu   sync.Mutex
	sent []SentMessage
}

func (m *MockEmailService) SendEmail(to, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{to, subject, body})
	return nil
}

func (m *MockEmailService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}

type MockPushService struct {
	mu   sync.Mutex
	sent []SentMessage
}

func (m *MockPushService) SendPush(userID, title, message string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, SentMessage{userID, title, message})
	return nil
}

func (m *MockPushService) Sent() []SentMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]SentMessage(nil), m.sent...)
}
