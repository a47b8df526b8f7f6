package api

import (
	"autosave/internal/domain"
	"autosave/internal/processor"
	"autosave/internal/repository"
	"autosave/internal/service"
	"autosave/pkg/crypto"
	"autosave/pkg/validator"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
)

const SignatureHeader = "X-Signature"

type RequestMetrics interface {
	RecordAPIRequest(route string, code int)
}

type Dependencies struct {
	Processor *processor.AutoSaveProcessor
	Rules     repository.RuleRepository
	Accounts  repository.AccountRepository
	Goals     *service.GoalTracker
	Analytics *service.AnalyticsService
	Signer    *crypto.Signer
	Metrics   RequestMetrics
}

type APIHandler struct {
	processor      *processor.AutoSaveProcessor
	rules          repository.RuleRepository
	accounts       repository.AccountRepository
	goals          *service.GoalTracker
	analytics      *service.AnalyticsService
	signer         *crypto.Signer
	metrics        RequestMetrics
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(deps Dependencies, requestTimeout time.Duration, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &APIHandler{
		processor:      deps.Processor,
		rules:          deps.Rules,
		accounts:       deps.Accounts,
		goals:          deps.Goals,
		analytics:      deps.Analytics,
		signer:         deps.Signer,
		metrics:        deps.Metrics,
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

type TransactionCompletedRequest struct {
	UserID        string                 `json:"user_id"`
	TransactionID string                 `json:"transaction_id"`
	Amount        decimal.Decimal        `json:"amount"`
	Type          domain.TransactionType `json:"type"`
	Metadata      map[string]string      `json:"metadata,omitempty"`
	CompletedAt   time.Time              `json:"completed_at"`
}

type TransactionCompletedResponse struct {
	TransactionID string                       `json:"transaction_id"`
	RoundUps      []*domain.RoundUpTransaction `json:"round_ups"`
	Message       string                       `json:"message"`
}

type CreateRuleRequest struct {
	UserID          string                 `json:"user_id"`
	Name            string                 `json:"name"`
	Description     string                 `json:"description,omitempty"`
	IsActive        *bool                  `json:"is_active,omitempty"`
	TriggerType     domain.TriggerType     `json:"trigger_type"`
	TriggerSettings domain.TriggerSettings `json:"trigger_settings"`
	DestinationType domain.DestinationType `json:"destination_type"`
	DestinationID   string                 `json:"destination_id"`
	Priority        int                    `json:"priority"`
}

type CreateGoalRequest struct {
	UserID        string              `json:"user_id"`
	Name          string              `json:"name"`
	Description   string              `json:"description,omitempty"`
	TargetAmount  decimal.Decimal     `json:"target_amount"`
	CurrentAmount decimal.Decimal     `json:"current_amount"`
	TargetDate    time.Time           `json:"target_date"`
	Category      string              `json:"category,omitempty"`
	Priority      domain.GoalPriority `json:"priority,omitempty"`
	AutoSaveRules []string            `json:"auto_save_rules,omitempty"`
}

type CreateAccountRequest struct {
	ID           string                 `json:"id,omitempty"`
	UserID       string                 `json:"user_id"`
	Name         string                 `json:"name"`
	InterestRate decimal.Decimal        `json:"interest_rate"`
	Settings     domain.AccountSettings `json:"settings"`
}

type ContributionRequest struct {
	Amount   decimal.Decimal           `json:"amount"`
	Source   domain.ContributionSource `json:"source,omitempty"`
	SourceID string                    `json:"source_id,omitempty"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Details string `json:"details,omitempty"`
}

func (h *APIHandler) TransactionCompletedHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req TransactionCompletedRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	if h.signer != nil {
		signature := r.Header.Get(SignatureHeader)
		if signature == "" {
			h.sendError(w, "Missing signature", http.StatusUnauthorized, "INVALID_SIGNATURE")
			return
		}
		if err := h.signer.VerifyEvent(req.UserID, req.TransactionID, req.Amount.String(), req.CompletedAt.Unix(), signature); err != nil {
			h.sendError(w, "Invalid signature", http.StatusUnauthorized, "INVALID_SIGNATURE")
			return
		}
	}

	event := domain.NewTransactionEvent(req.UserID, req.TransactionID, req.Type, req.Amount)
	if !req.CompletedAt.IsZero() {
		event.CompletedAt = req.CompletedAt
	}
	for k, v := range req.Metadata {
		event.AddMetadata(k, v)
	}

	roundUps, err := h.processor.ProcessTransaction(ctx, event)
	if err != nil {
		h.logger.ErrorContext(ctx, "Transaction event processing failed",
			slog.String("error", err.Error()),
			slog.String("transaction_id", req.TransactionID))
		h.sendDomainError(w, err)
		return
	}

	h.sendJSON(w, TransactionCompletedResponse{
		TransactionID: event.TransactionID,
		RoundUps:      roundUps,
		Message:       "Transaction event processed",
	}, http.StatusCreated)

	h.logger.InfoContext(ctx, "Transaction event processed",
		slog.String("transaction_id", event.TransactionID),
		slog.String("user_id", event.UserID),
		slog.Int("round_ups", len(roundUps)))
}

func (h *APIHandler) GetRoundUpsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	if id := r.URL.Query().Get("id"); id != "" {
		ru, err := h.processor.GetRoundUp(ctx, id)
		if err != nil {
			h.sendDomainError(w, err)
			return
		}
		h.sendJSON(w, ru, http.StatusOK)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.sendError(w, "id or user_id is required", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			h.sendError(w, "limit must be a positive integer", http.StatusBadRequest, "VALIDATION_ERROR")
			return
		}
		limit = n
	}

	roundUps, err := h.processor.ListRoundUps(ctx, userID, limit)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, roundUps, http.StatusOK)
}

func (h *APIHandler) CreateRuleHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req CreateRuleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	rule := &domain.AutoSaveRule{
		UserID:          req.UserID,
		Name:            req.Name,
		Description:     req.Description,
		IsActive:        req.IsActive == nil || *req.IsActive,
		TriggerType:     req.TriggerType,
		TriggerSettings: req.TriggerSettings,
		DestinationType: req.DestinationType,
		DestinationID:   req.DestinationID,
		Priority:        req.Priority,
	}
	if err := validator.ValidateRule(rule); err != nil {
		h.sendDomainError(w, err)
		return
	}

	if _, err := h.rules.Create(ctx, rule); err != nil {
		h.sendDomainError(w, err)
		return
	}

	h.logger.InfoContext(ctx, "Auto-save rule created",
		slog.String("rule_id", rule.ID),
		slog.String("user_id", rule.UserID),
		slog.String("trigger_type", string(rule.TriggerType)))
	h.sendJSON(w, rule, http.StatusCreated)
}

func (h *APIHandler) ListRulesHandler(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		h.sendError(w, "user_id is required", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	rules, err := h.rules.ListByUser(ctx, userID)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	if rules == nil {
		rules = []*domain.AutoSaveRule{}
	}
	h.sendJSON(w, rules, http.StatusOK)
}

func (h *APIHandler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req CreateAccountRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	if req.UserID == "" {
		h.sendError(w, "user_id is required", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	if req.Settings.WithdrawalPolicy == "" {
		req.Settings.WithdrawalPolicy = domain.WithdrawAnytime
	}

	account := &domain.SavingsAccount{
		ID:           req.ID,
		UserID:       req.UserID,
		Name:         req.Name,
		InterestRate: req.InterestRate,
		Settings:     req.Settings,
		IsActive:     true,
	}
	if _, err := h.accounts.Create(ctx, account); err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusCreated)
}

func (h *APIHandler) GetAccountHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	account, err := h.accounts.GetByID(ctx, r.PathValue("id"))
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) CreateGoalHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req CreateGoalRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	goal, err := h.goals.CreateGoal(ctx, &domain.SavingsGoal{
		UserID:        req.UserID,
		Name:          req.Name,
		Description:   req.Description,
		TargetAmount:  req.TargetAmount,
		CurrentAmount: req.CurrentAmount,
		TargetDate:    req.TargetDate,
		Category:      req.Category,
		Priority:      req.Priority,
		AutoSaveRules: req.AutoSaveRules,
	})
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, goal, http.StatusCreated)
}

func (h *APIHandler) GetGoalHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	goal, err := h.goals.GetGoal(ctx, r.PathValue("id"))
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, goal, http.StatusOK)
}

func (h *APIHandler) AddContributionHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	var req ContributionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, "Invalid request body", http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	if req.Source == "" {
		req.Source = domain.SourceManual
	}

	contribution, err := h.goals.AddContribution(ctx, r.PathValue("id"), req.Amount, req.Source, req.SourceID)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, contribution, http.StatusCreated)
}

func (h *APIHandler) ListContributionsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	contributions, err := h.goals.ListContributions(ctx, r.PathValue("id"))
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, contributions, http.StatusOK)
}

func (h *APIHandler) AnalyticsHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
	defer cancel()

	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodMonth
	}

	analytics, err := h.analytics.GetAnalytics(ctx, r.URL.Query().Get("user_id"), period)
	if err != nil {
		h.sendDomainError(w, err)
		return
	}
	h.sendJSON(w, analytics, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"version":   "1.0.0",
	}
	h.sendJSON(w, response, http.StatusOK)
}

// sendDomainError maps an error from the engine or the stores onto a
// response code.
func (h *APIHandler) sendDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, validator.ErrValidation):
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
	case errors.Is(err, validator.ErrDuplicateTransaction), errors.Is(err, repository.ErrDuplicate):
		h.sendError(w, err.Error(), http.StatusConflict, "DUPLICATE")
	case errors.Is(err, repository.ErrNotFound):
		h.sendError(w, err.Error(), http.StatusNotFound, "NOT_FOUND")
	case errors.Is(err, processor.ErrProcessorClosed):
		h.sendError(w, "Service is shutting down", http.StatusServiceUnavailable, "UNAVAILABLE")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		h.sendError(w, "Request timed out", http.StatusServiceUnavailable, "TIMEOUT")
	default:
		h.sendError(w, "Processing failed", http.StatusInternalServerError, "PROCESSING_ERROR")
	}
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	errorResponse := ErrorResponse{
		Error: message,
		Code:  code,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(errorResponse)

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (h *APIHandler) instrument(route string, next http.HandlerFunc) http.HandlerFunc {
	if h.metrics == nil {
		return next
	}
	return func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(rec, r)
		h.metrics.RecordAPIRequest(route, rec.status)
	}
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	routes := []struct {
		pattern string
		handler http.HandlerFunc
	}{
		{"POST /api/v1/events/transaction-completed", h.TransactionCompletedHandler},
		{"GET /api/v1/roundups", h.GetRoundUpsHandler},
		{"POST /api/v1/rules", h.CreateRuleHandler},
		{"GET /api/v1/rules", h.ListRulesHandler},
		{"POST /api/v1/accounts", h.CreateAccountHandler},
		{"GET /api/v1/accounts/{id}", h.GetAccountHandler},
		{"POST /api/v1/goals", h.CreateGoalHandler},
		{"GET /api/v1/goals/{id}", h.GetGoalHandler},
		{"POST /api/v1/goals/{id}/contributions", h.AddContributionHandler},
		{"GET /api/v1/goals/{id}/contributions", h.ListContributionsHandler},
		{"GET /api/v1/analytics", h.AnalyticsHandler},
		{"GET /api/health", h.HealthCheckHandler},
	}

	for _, rt := range routes {
		mux.HandleFunc(rt.pattern, h.instrument(rt.pattern, rt.handler))
	}
}
