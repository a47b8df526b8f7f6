package internal_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"autosave/internal/api"
	"autosave/internal/destination"
	"autosave/internal/domain"
	"autosave/internal/processor"
	"autosave/internal/repository/memory"
	"autosave/internal/service"
	"autosave/pkg/crypto"
	"autosave/pkg/metrics"

	"github.com/shopspring/decimal"
)

type testEnv struct {
	accounts  *memory.AccountRepository
	rules     *memory.RuleRepository
	goals     *memory.GoalRepository
	processor *processor.AutoSaveProcessor
	signer    *crypto.Signer
	metrics   *metrics.MetricsCollector
	push      *service.MockPushService
	mux       *http.ServeMux
}

func setup(t *testing.T) *testEnv {
	t.Helper()
	logger := slog.Default()

	accounts := memory.NewAccountRepository()
	rules := memory.NewRuleRepository()
	roundUps := memory.NewRoundUpRepository()
	goals := memory.NewGoalRepository()

	metricsCollector := metrics.NewMetricsCollector(nil)
	signer := crypto.NewSigner("test-secret", nil)
	push := &service.MockPushService{}
	notifications := service.NewNotificationService(&service.MockEmailService{}, push, 2, logger)
	tracker := service.NewGoalTracker(goals, notifications, metricsCollector, logger)
	analytics := service.NewAnalyticsService(rules, roundUps, goals, logger)

	router := destination.NewRouter(accounts,
		destination.NewLoggingVaultContributor(logger),
		destination.NewLoggingStockPurchaser(logger),
		destination.RetryPolicy{MaxAttempts: 2, Backoff: time.Millisecond}, logger)
	proc := processor.NewAutoSaveProcessor(rules, roundUps, router,
		processor.Config{MaxWorkers: 4, DestinationTimeout: time.Second, Location: time.UTC},
		processor.WithLogger(logger),
		processor.WithMetrics(metricsCollector),
		processor.WithCompletionObservers(tracker),
		processor.WithFailureObservers(notifications))

	handler := api.NewAPIHandler(api.Dependencies{
		Processor: proc,
		Rules:     rules,
		Accounts:  accounts,
		Goals:     tracker,
		Analytics: analytics,
		Signer:    signer,
		Metrics:   metricsCollector,
	}, 5*time.Second, logger)

	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		proc.Shutdown(ctx)
		notifications.Shutdown(ctx)
	})

	return &testEnv{
		accounts:  accounts,
		rules:     rules,
		goals:     goals,
		processor: proc,
		signer:    signer,
		metrics:   metricsCollector,
		push:      push,
		mux:       mux,
	}
}

func (env *testEnv) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body failed: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		r.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	env.mux.ServeHTTP(w, r)
	return w
}

// postEvent sends a transaction event signed with the test secret.
func (env *testEnv) postEvent(t *testing.T, req api.TransactionCompletedRequest) *httptest.ResponseRecorder {
	t.Helper()
	sig := env.signer.SignEvent(req.UserID, req.TransactionID, req.Amount.String(), req.CompletedAt.Unix())
	return env.do(t, "POST", "/api/v1/events/transaction-completed", req, map[string]string{api.SignatureHeader: sig})
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(w.Body).Decode(&v); err != nil {
		t.Fatalf("decode response failed: %v", err)
	}
	return v
}

func mustCreateAccount(t *testing.T, env *testEnv, id, userID string) {
	t.Helper()
	acc := &domain.SavingsAccount{ID: id, UserID: userID, Name: "Savings", IsActive: true}
	if _, err := env.accounts.Create(context.Background(), acc); err != nil {
		t.Fatalf("create account failed: %v", err)
	}
}

func mustCreateRule(t *testing.T, env *testEnv, req api.CreateRuleRequest) *domain.AutoSaveRule {
	t.Helper()
	w := env.do(t, "POST", "/api/v1/rules", req, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create rule: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	rule := decode[domain.AutoSaveRule](t, w)
	return &rule
}

func event(userID, txID, amount string) api.TransactionCompletedRequest {
	return api.TransactionCompletedRequest{
		UserID:        userID,
		TransactionID: txID,
		Amount:        decimal.RequireFromString(amount),
		Type:          domain.TypePayment,
		CompletedAt:   time.Now().Add(-time.Minute).Truncate(time.Second),
	}
}

func TestIntegration_RoundUpFlowsIntoAccountAndGoal(t *testing.T) {
	env := setup(t)
	mustCreateAccount(t, env, "sav-1", "u1")

	rule := mustCreateRule(t, env, api.CreateRuleRequest{
		UserID:          "u1",
		Name:            "Spare change",
		TriggerType:     domain.TriggerRoundUp,
		TriggerSettings: domain.TriggerSettings{RoundUpAmount: domain.Dec(5)},
		DestinationType: domain.DestinationSavingsAccount,
		DestinationID:   "sav-1",
		Priority:        1,
	})
	if !rule.IsActive {
		t.Fatalf("expected new rule to default to active")
	}

	w := env.do(t, "POST", "/api/v1/goals", api.CreateGoalRequest{
		UserID:        "u1",
		Name:          "Weekend away",
		TargetAmount:  decimal.NewFromInt(100),
		TargetDate:    time.Now().AddDate(0, 3, 0),
		AutoSaveRules: []string{rule.ID},
	}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("create goal: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	goal := decode[domain.SavingsGoal](t, w)

	req := event("u1", "tx-1", "47.70")
	sig := env.signer.SignEvent(req.UserID, req.TransactionID, req.Amount.String(), req.CompletedAt.Unix())
	w = env.do(t, "POST", "/api/v1/events/transaction-completed", req, map[string]string{api.SignatureHeader: sig})
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	resp := decode[api.TransactionCompletedResponse](t, w)
	if len(resp.RoundUps) != 1 {
		t.Fatalf("expected 1 round-up, got %d", len(resp.RoundUps))
	}
	if !resp.RoundUps[0].RoundUpAmount.Equal(decimal.RequireFromString("2.30")) {
		t.Fatalf("expected round-up 2.30, got %s", resp.RoundUps[0].RoundUpAmount)
	}

	env.processor.Wait()

	acc, err := env.accounts.GetByID(context.Background(), "sav-1")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if !acc.Balance.Equal(decimal.RequireFromString("2.3")) {
		t.Fatalf("expected balance 2.3, got %s", acc.Balance)
	}

	w = env.do(t, "GET", "/api/v1/roundups?id="+resp.RoundUps[0].ID, nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get round-up: expected 200, got %d", w.Code)
	}
	if got := decode[domain.RoundUpTransaction](t, w); got.Status != domain.StatusCompleted {
		t.Fatalf("expected completed round-up, got %s", got.Status)
	}

	w = env.do(t, "GET", "/api/v1/goals/"+goal.ID+"/contributions", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list contributions: expected 200, got %d", w.Code)
	}
	contributions := decode[[]domain.GoalContribution](t, w)
	if len(contributions) != 1 || contributions[0].SourceID != resp.RoundUps[0].ID {
		t.Fatalf("expected one contribution from the round-up, got %+v", contributions)
	}

	w = env.do(t, "GET", "/api/v1/analytics?user_id=u1&period=week", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("analytics: expected 200, got %d", w.Code)
	}
	analytics := decode[domain.SavingsAnalytics](t, w)
	if analytics.RoundUpCount != 1 || !analytics.TotalSaved.Equal(decimal.RequireFromString("2.3")) {
		t.Fatalf("unexpected analytics totals: count=%d total=%s", analytics.RoundUpCount, analytics.TotalSaved)
	}
	if len(analytics.GoalProgress) != 1 || analytics.GoalProgress[0].Progress <= 0 {
		t.Fatalf("expected goal progress to reflect the round-up, got %+v", analytics.GoalProgress)
	}
}

func TestIntegration_CreateAndReadAccount(t *testing.T) {
	env := setup(t)

	w := env.do(t, "POST", "/api/v1/accounts", api.CreateAccountRequest{ID: "sav-9", UserID: "u1", Name: "Holiday pot"}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}
	if w := env.do(t, "POST", "/api/v1/accounts", api.CreateAccountRequest{ID: "sav-9", UserID: "u1"}, nil); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 for duplicate account, got %d", w.Code)
	}

	w = env.do(t, "GET", "/api/v1/accounts/sav-9", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	acc := decode[domain.SavingsAccount](t, w)
	if !acc.IsActive || acc.Settings.WithdrawalPolicy != domain.WithdrawAnytime {
		t.Fatalf("unexpected account: %+v", acc)
	}
}

func TestIntegration_InvalidSignature(t *testing.T) {
	env := setup(t)

	req := event("u1", "tx-1", "10.00")
	w := env.do(t, "POST", "/api/v1/events/transaction-completed", req, map[string]string{api.SignatureHeader: "deadbeef"})
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
	if got := decode[api.ErrorResponse](t, w); got.Code != "INVALID_SIGNATURE" {
		t.Fatalf("expected INVALID_SIGNATURE, got %s", got.Code)
	}
}

func TestIntegration_UnsignedEventRejected(t *testing.T) {
	env := setup(t)
	mustCreateAccount(t, env, "sav-1", "u1")
	mustCreateRule(t, env, api.CreateRuleRequest{
		UserID:          "u1",
		Name:            "Fixed",
		TriggerType:     domain.TriggerFixedAmount,
		TriggerSettings: domain.TriggerSettings{FixedAmount: domain.Dec(1)},
		DestinationType: domain.DestinationSavingsAccount,
		DestinationID:   "sav-1",
	})

	w := env.do(t, "POST", "/api/v1/events/transaction-completed", event("u1", "tx-1", "10.00"), nil)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without signature, got %d", w.Code)
	}
	if got := decode[api.ErrorResponse](t, w); got.Code != "INVALID_SIGNATURE" {
		t.Fatalf("expected INVALID_SIGNATURE, got %s", got.Code)
	}

	env.processor.Wait()
	acc, err := env.accounts.GetByID(context.Background(), "sav-1")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if !acc.Balance.IsZero() {
		t.Fatalf("expected untouched balance, got %s", acc.Balance)
	}
}

func TestIntegration_EventValidation(t *testing.T) {
	env := setup(t)

	w := env.postEvent(t, event("u1", "tx-1", "-3"))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative amount, got %d", w.Code)
	}

	raw := httptest.NewRequest("POST", "/api/v1/events/transaction-completed", bytes.NewReader([]byte(`{"amount":`)))
	rec := httptest.NewRecorder()
	env.mux.ServeHTTP(rec, raw)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", rec.Code)
	}
}

func TestIntegration_DuplicateEvent(t *testing.T) {
	env := setup(t)

	req := event("u1", "tx-dup", "12.00")
	if w := env.postEvent(t, req); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	if w := env.postEvent(t, req); w.Code != http.StatusConflict {
		t.Fatalf("expected 409 on redelivery, got %d", w.Code)
	}
}

func TestIntegration_InvalidRule(t *testing.T) {
	env := setup(t)

	w := env.do(t, "POST", "/api/v1/rules", api.CreateRuleRequest{
		UserID:          "u1",
		Name:            "Too much",
		TriggerType:     domain.TriggerPercentage,
		TriggerSettings: domain.TriggerSettings{Percentage: domain.Dec(150)},
		DestinationType: domain.DestinationSavingsAccount,
		DestinationID:   "sav-1",
	}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if got := decode[api.ErrorResponse](t, w); got.Code != "VALIDATION_ERROR" {
		t.Fatalf("expected VALIDATION_ERROR, got %s", got.Code)
	}
}

func TestIntegration_NotFoundAndMissingParams(t *testing.T) {
	env := setup(t)

	cases := []struct {
		method, path string
		body         any
		want         int
	}{
		{"GET", "/api/v1/roundups?id=missing", nil, http.StatusNotFound},
		{"GET", "/api/v1/roundups", nil, http.StatusBadRequest},
		{"GET", "/api/v1/rules", nil, http.StatusBadRequest},
		{"GET", "/api/v1/goals/missing", nil, http.StatusNotFound},
		{"POST", "/api/v1/goals/missing/contributions", api.ContributionRequest{Amount: decimal.NewFromInt(5)}, http.StatusNotFound},
		{"GET", "/api/v1/analytics?user_id=u1&period=decade", nil, http.StatusBadRequest},
		{"GET", "/api/health", nil, http.StatusOK},
	}

	for _, tc := range cases {
		t.Run(fmt.Sprintf("%s %s", tc.method, tc.path), func(t *testing.T) {
			if w := env.do(t, tc.method, tc.path, tc.body, nil); w.Code != tc.want {
				t.Fatalf("expected %d, got %d", tc.want, w.Code)
			}
		})
	}
}

func TestIntegration_ConcurrentEventsRespectDailyCap(t *testing.T) {
	env := setup(t)
	mustCreateAccount(t, env, "sav-1", "u1")

	mustCreateRule(t, env, api.CreateRuleRequest{
		UserID:      "u1",
		Name:        "Fixed tenner",
		TriggerType: domain.TriggerFixedAmount,
		TriggerSettings: domain.TriggerSettings{
			FixedAmount:    domain.Dec(10),
			MaxDailyAmount: domain.Dec(15),
		},
		DestinationType: domain.DestinationSavingsAccount,
		DestinationID:   "sav-1",
	})

	n := 10
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			env.postEvent(t, event("u1", fmt.Sprintf("tx-%d", i), "20"))
		}(i)
	}
	wg.Wait()
	env.processor.Wait()

	acc, err := env.accounts.GetByID(context.Background(), "sav-1")
	if err != nil {
		t.Fatalf("get account failed: %v", err)
	}
	if !acc.Balance.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected exactly one 10.00 firing under a 15.00 cap, got balance %s", acc.Balance)
	}
}

func TestIntegration_FailedRoundUpNotifiesUser(t *testing.T) {
	env := setup(t)

	mustCreateRule(t, env, api.CreateRuleRequest{
		UserID:          "u1",
		Name:            "Missing account",
		TriggerType:     domain.TriggerFixedAmount,
		TriggerSettings: domain.TriggerSettings{FixedAmount: domain.Dec(1)},
		DestinationType: domain.DestinationSavingsAccount,
		DestinationID:   "nope",
	})

	if w := env.postEvent(t, event("u1", "tx-1", "5")); w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", w.Code)
	}
	env.processor.Wait()

	deadline := time.Now().Add(time.Second)
	for len(env.push.Sent()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	sent := env.push.Sent()
	if len(sent) != 1 || sent[0].Subject != "Auto-save failed" {
		t.Fatalf("expected one failure notification, got %+v", sent)
	}
}
