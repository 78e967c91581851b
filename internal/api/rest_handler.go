package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/ledger"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
	"github.com/Utkarshvr/budget-tracker-sub000/pkg/metrics"
)

const (
	OwnerHeader     = "X-Owner-ID"
	maxRequestBytes = 1 << 20
	defaultPageSize = 50
)

type APIHandler struct {
	ledger         *ledger.Ledger
	metrics        *metrics.MetricsCollector
	validate       *validator.Validate
	logger         *slog.Logger
	requestTimeout time.Duration
}

func NewAPIHandler(
	l *ledger.Ledger,
	metrics *metrics.MetricsCollector,
	requestTimeout time.Duration,
	logger *slog.Logger,
) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	return &APIHandler{
		ledger:         l,
		metrics:        metrics,
		validate:       newValidator(),
		logger:         logger,
		requestTimeout: requestTimeout,
	}
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/accounts", h.owned(h.CreateAccountHandler))
	mux.HandleFunc("GET /api/v1/accounts", h.owned(h.ListAccountsHandler))
	mux.HandleFunc("GET /api/v1/accounts/{id}", h.owned(h.GetAccountHandler))
	mux.HandleFunc("PATCH /api/v1/accounts/{id}/balance", h.owned(h.SetBalanceHandler))
	mux.HandleFunc("DELETE /api/v1/accounts/{id}", h.owned(h.DeleteAccountHandler))
	mux.HandleFunc("GET /api/v1/accounts/{id}/transactions", h.owned(h.AccountHistoryHandler))

	mux.HandleFunc("POST /api/v1/categories", h.owned(h.CreateCategoryHandler))
	mux.HandleFunc("GET /api/v1/categories", h.owned(h.ListCategoriesHandler))
	mux.HandleFunc("GET /api/v1/categories/{id}", h.owned(h.GetCategoryHandler))

	mux.HandleFunc("POST /api/v1/reservations", h.owned(h.CreateReservationHandler))
	mux.HandleFunc("POST /api/v1/reservations/{id}/allocate", h.owned(h.AllocateHandler))
	mux.HandleFunc("POST /api/v1/reservations/{id}/withdraw", h.owned(h.WithdrawHandler))
	mux.HandleFunc("DELETE /api/v1/reservations/{id}", h.owned(h.DeleteReservationHandler))

	mux.HandleFunc("POST /api/v1/transactions", h.owned(h.CreateTransactionHandler))
	mux.HandleFunc("GET /api/v1/transactions/{id}", h.owned(h.GetTransactionHandler))
	mux.HandleFunc("PUT /api/v1/transactions/{id}", h.owned(h.UpdateTransactionHandler))
	mux.HandleFunc("DELETE /api/v1/transactions/{id}", h.owned(h.DeleteTransactionHandler))

	mux.HandleFunc("POST /api/v1/goals", h.owned(h.CreateGoalHandler))
	mux.HandleFunc("GET /api/v1/goals", h.owned(h.ListGoalsHandler))
	mux.HandleFunc("POST /api/v1/goals/{id}/deposit", h.owned(h.GoalDepositHandler))
	mux.HandleFunc("POST /api/v1/goals/{id}/withdraw", h.owned(h.GoalWithdrawHandler))
	mux.HandleFunc("POST /api/v1/goals/{id}/complete", h.owned(h.CompleteGoalHandler))

	mux.HandleFunc("GET /api/health", h.HealthCheckHandler)
}

// ownedHandler serves one request against a freshly loaded snapshot of the
// caller's ledger.
type ownedHandler func(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot)

func (h *APIHandler) owned(next ownedHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ownerID := r.Header.Get(OwnerHeader)
		if ownerID == "" {
			h.sendError(w, OwnerHeader+" header is required", http.StatusBadRequest, "MISSING_OWNER")
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), h.requestTimeout)
		defer cancel()

		snap, err := h.ledger.Loader.Load(ctx, ownerID)
		if err != nil {
			h.sendLedgerError(w, err)
			return
		}
		next(ctx, w, r, snap)
	}
}

func (h *APIHandler) CreateAccountHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req CreateAccountRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.ledger.CreateAccount(ctx, snap, ledger.CreateAccountRequest{
		Name:     req.Name,
		Type:     req.Type,
		Currency: req.Currency,
		Balance:  req.Balance,
	})
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.logger.Info("Account created",
		slog.String("account_id", account.ID),
		slog.String("owner_id", snap.OwnerID))
	h.sendJSON(w, account, http.StatusCreated)
}

func (h *APIHandler) ListAccountsHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	h.sendJSON(w, h.ledger.Summaries(snap), http.StatusOK)
}

func (h *APIHandler) GetAccountHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	summary, err := h.ledger.Summary(snap, r.PathValue("id"))
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, summary, http.StatusOK)
}

func (h *APIHandler) SetBalanceHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req SetBalanceRequest
	if !h.decode(w, r, &req) {
		return
	}

	account, err := h.ledger.SetAccountBalance(ctx, snap, r.PathValue("id"), *req.Balance)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, account, http.StatusOK)
}

func (h *APIHandler) DeleteAccountHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	id := r.PathValue("id")
	account, err := snap.Account(id)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	if err := h.ledger.DeleteAccount(ctx, snap, id); err != nil {
		h.sendLedgerError(w, err)
		return
	}
	if h.metrics != nil {
		h.metrics.ForgetAccount(account.ID, account.Currency)
	}

	h.logger.Info("Account deleted", slog.String("account_id", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) AccountHistoryHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	limit, err := queryInt(r, "limit", defaultPageSize)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.sendError(w, err.Error(), http.StatusBadRequest, "VALIDATION_ERROR")
		return
	}

	events, err := h.ledger.Orchestrator.History(ctx, snap, r.PathValue("id"), limit, offset)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	if events == nil {
		events = []*domain.LedgerEvent{}
	}
	h.sendJSON(w, events, http.StatusOK)
}

func (h *APIHandler) CreateCategoryHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req CreateCategoryRequest
	if !h.decode(w, r, &req) {
		return
	}

	category, err := h.ledger.CreateCategory(ctx, snap.OwnerID, req.Name, req.Kind, req.Emoji)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, category, http.StatusCreated)
}

func (h *APIHandler) ListCategoriesHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	categories, err := h.ledger.Categories(ctx, snap.OwnerID)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	if categories == nil {
		categories = []*domain.Category{}
	}
	h.sendJSON(w, categories, http.StatusOK)
}

func (h *APIHandler) GetCategoryHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	category, err := h.ledger.Category(ctx, snap.OwnerID, r.PathValue("id"))
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, category, http.StatusOK)
}

func (h *APIHandler) CreateReservationHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req CreateReservationRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.ledger.Allocation.CreateReservation(ctx, snap, ledger.CreateReservationRequest{
		Kind:          req.Kind,
		OwnerEntityID: req.CategoryID,
		AccountID:     req.AccountID,
		Name:          req.Name,
		Currency:      req.Currency,
		InitialAmount: req.InitialAmount,
		TargetAmount:  req.TargetAmount,
	})
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.logger.Info("Reservation created",
		slog.String("reservation_id", res.ID),
		slog.String("kind", string(res.Kind)),
		slog.String("account_id", res.AccountID))
	h.sendJSON(w, res, http.StatusCreated)
}

func (h *APIHandler) AllocateHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	h.moveReservation(ctx, w, r, snap, h.ledger.Allocation.Allocate)
}

func (h *APIHandler) WithdrawHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	h.moveReservation(ctx, w, r, snap, h.ledger.Allocation.Withdraw)
}

func (h *APIHandler) moveReservation(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	snap *ledger.Snapshot,
	move func(context.Context, *ledger.Snapshot, string, domain.Amount) (*domain.Reservation, error),
) {
	var req AmountRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := move(ctx, snap, r.PathValue("id"), req.Amount)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, res, http.StatusOK)
}

func (h *APIHandler) DeleteReservationHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	if err := h.ledger.Allocation.DeleteReservation(ctx, snap, r.PathValue("id")); err != nil {
		h.sendLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) CreateTransactionHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req CreateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	event, err := h.ledger.Orchestrator.CreateEvent(ctx, snap, ledger.EventRequest{
		Type:          req.Type,
		Amount:        req.Amount,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		CategoryID:    req.CategoryID,
		GoalID:        req.GoalID,
		Currency:      req.Currency,
		Note:          req.Note,
	})
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}

	h.logger.Info("Transaction recorded",
		slog.String("transaction_id", event.ID),
		slog.String("type", string(event.Type)),
		slog.String("amount", event.Amount.String()))
	h.sendJSON(w, event, http.StatusCreated)
}

func (h *APIHandler) GetTransactionHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	event, err := h.ledger.Orchestrator.GetEvent(ctx, snap, r.PathValue("id"))
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, event, http.StatusOK)
}

func (h *APIHandler) UpdateTransactionHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req UpdateTransactionRequest
	if !h.decode(w, r, &req) {
		return
	}

	event, err := h.ledger.Orchestrator.UpdateEvent(ctx, snap, r.PathValue("id"), ledger.EventEdit{
		Amount:        req.Amount,
		FromAccountID: req.FromAccountID,
		ToAccountID:   req.ToAccountID,
		CategoryID:    req.CategoryID,
		Note:          req.Note,
	})
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, event, http.StatusOK)
}

func (h *APIHandler) DeleteTransactionHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	if err := h.ledger.Orchestrator.DeleteEvent(ctx, snap, r.PathValue("id")); err != nil {
		h.sendLedgerError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) CreateGoalHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	var req CreateGoalRequest
	if !h.decode(w, r, &req) {
		return
	}

	goal, err := h.ledger.Goals.CreateGoal(ctx, snap, ledger.CreateGoalRequest{
		Title:        req.Title,
		TargetAmount: req.TargetAmount,
		Currency:     req.Currency,
		FundType:     req.FundType,
	})
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, goal, http.StatusCreated)
}

func (h *APIHandler) ListGoalsHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	goals := snap.Goals()
	if goals == nil {
		goals = []domain.Goal{}
	}
	h.sendJSON(w, goals, http.StatusOK)
}

func (h *APIHandler) GoalDepositHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	h.moveGoal(ctx, w, r, snap, h.ledger.Goals.Deposit)
}

func (h *APIHandler) GoalWithdrawHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	h.moveGoal(ctx, w, r, snap, h.ledger.Goals.Withdraw)
}

func (h *APIHandler) moveGoal(
	ctx context.Context,
	w http.ResponseWriter,
	r *http.Request,
	snap *ledger.Snapshot,
	move func(context.Context, *ledger.Snapshot, string, string, domain.Amount, string) (*domain.LedgerEvent, error),
) {
	var req GoalMovementRequest
	if !h.decode(w, r, &req) {
		return
	}

	event, err := move(ctx, snap, r.PathValue("id"), req.AccountID, req.Amount, req.Note)
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, event, http.StatusCreated)
}

func (h *APIHandler) CompleteGoalHandler(ctx context.Context, w http.ResponseWriter, r *http.Request, snap *ledger.Snapshot) {
	goal, err := h.ledger.Goals.MarkCompleted(ctx, snap, r.PathValue("id"))
	if err != nil {
		h.sendLedgerError(w, err)
		return
	}
	h.sendJSON(w, goal, http.StatusOK)
}

func (h *APIHandler) HealthCheckHandler(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}
	h.sendJSON(w, response, http.StatusOK)
}

// decode reads and validates a JSON body into req, writing the 400 itself
// when it fails.
func (h *APIHandler) decode(w http.ResponseWriter, r *http.Request, req any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(req); err != nil {
		code := "INVALID_REQUEST"
		if errors.Is(err, domain.ErrInvalidAmount) {
			code = "INVALID_AMOUNT"
		}
		h.sendErrorDetails(w, "Invalid request body", err.Error(), http.StatusBadRequest, code)
		return false
	}
	if err := validateRequest(h.validate, req); err != nil {
		code := "VALIDATION_ERROR"
		if errors.Is(err, domain.ErrInvalidAmount) {
			code = "INVALID_AMOUNT"
		}
		h.sendError(w, err.Error(), http.StatusBadRequest, code)
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, fallback int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

type errorStatus struct {
	err    error
	status int
	code   string
}

// errorStatuses is checked in order. A compensation failure also unwraps to
// its cause, so it comes first.
var errorStatuses = []errorStatus{
	{domain.ErrCompensationFailure, http.StatusInternalServerError, "COMPENSATION_FAILURE"},
	{repository.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
	{repository.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
	{domain.ErrInvalidAmount, http.StatusBadRequest, "INVALID_AMOUNT"},
	{domain.ErrInvalidInput, http.StatusBadRequest, "VALIDATION_ERROR"},
	{domain.ErrInsufficientFreeToPlan, http.StatusUnprocessableEntity, "INSUFFICIENT_FREE_TO_PLAN"},
	{domain.ErrInsufficientReservedBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_RESERVED_BALANCE"},
	{domain.ErrInsufficientAccountBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_ACCOUNT_BALANCE"},
	{domain.ErrInsufficientSaved, http.StatusUnprocessableEntity, "INSUFFICIENT_SAVED"},
	{domain.ErrAmountExceedsRemainingTarget, http.StatusUnprocessableEntity, "AMOUNT_EXCEEDS_REMAINING_TARGET"},
	{domain.ErrCurrencyMismatch, http.StatusUnprocessableEntity, "CURRENCY_MISMATCH"},
	{domain.ErrNonZeroBalance, http.StatusUnprocessableEntity, "NON_ZERO_BALANCE"},
	{domain.ErrGoalNotActive, http.StatusUnprocessableEntity, "GOAL_NOT_ACTIVE"},
	{domain.ErrNetwork, http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
}

func statusFor(err error) (int, string) {
	for _, s := range errorStatuses {
		if errors.Is(err, s.err) {
			return s.status, s.code
		}
	}
	return http.StatusInternalServerError, "SERVER_ERROR"
}

func (h *APIHandler) sendLedgerError(w http.ResponseWriter, err error) {
	status, code := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Ledger operation failed",
			slog.String("code", code),
			slog.String("error", err.Error()))
	}
	h.sendError(w, err.Error(), status, code)
}

func (h *APIHandler) sendJSON(w http.ResponseWriter, data interface{}, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}
}

func (h *APIHandler) sendError(w http.ResponseWriter, message string, statusCode int, code string) {
	h.sendErrorDetails(w, message, "", statusCode, code)
}

func (h *APIHandler) sendErrorDetails(w http.ResponseWriter, message, details string, statusCode int, code string) {
	errorResponse := ErrorResponse{
		Error:   message,
		Code:    code,
		Details: details,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(errorResponse); err != nil {
		h.logger.Error("Failed to encode JSON response", slog.String("error", err.Error()))
	}

	h.logger.Warn("API error response",
		slog.String("message", message),
		slog.String("code", code),
		slog.Int("status", statusCode))
}
