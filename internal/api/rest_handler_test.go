package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

func TestStatusFor(t *testing.T) {
	compErr := &domain.CompensationError{
		Operation: "create_event",
		EntityID:  "e1",
		Cause:     fmt.Errorf("%w: reset", domain.ErrNetwork),
		Err:       errors.New("delete failed"),
	}

	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"compensation failure wins over its cause", compErr, http.StatusInternalServerError, "COMPENSATION_FAILURE"},
		{"not found", fmt.Errorf("%w: account a1", repository.ErrNotFound), http.StatusNotFound, "NOT_FOUND"},
		{"duplicate", repository.ErrDuplicate, http.StatusConflict, "DUPLICATE"},
		{"invalid input", fmt.Errorf("%w: bad", domain.ErrInvalidInput), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"free-to-plan", domain.ErrInsufficientFreeToPlan, http.StatusUnprocessableEntity, "INSUFFICIENT_FREE_TO_PLAN"},
		{"reserved", domain.ErrInsufficientReservedBalance, http.StatusUnprocessableEntity, "INSUFFICIENT_RESERVED_BALANCE"},
		{"goal inactive", domain.ErrGoalNotActive, http.StatusUnprocessableEntity, "GOAL_NOT_ACTIVE"},
		{"network", fmt.Errorf("%w: timeout", domain.ErrNetwork), http.StatusServiceUnavailable, "STORE_UNAVAILABLE"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "SERVER_ERROR"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, code := statusFor(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, code)
		})
	}
}

func TestValidateRequest(t *testing.T) {
	v := newValidator()

	err := validateRequest(v, CreateGoalRequest{Title: "", Currency: "usd", TargetAmount: -1})
	assert.ErrorIs(t, err, errValidation)
	assert.Contains(t, err.Error(), "'title' is required")
	assert.Contains(t, err.Error(), "'currency' must be uppercase")
	assert.Contains(t, err.Error(), "'target_amount' must be at least 0")

	target := domain.Amount(500)
	assert.NoError(t, validateRequest(v, CreateReservationRequest{
		Kind: domain.KindFund, AccountID: "a1", Name: "Trip", TargetAmount: &target,
	}))
	assert.Error(t, validateRequest(v, CreateReservationRequest{
		Kind: domain.KindCategoryReservation, AccountID: "a1",
	}))
}

func TestValidateRequest_AmountFailures(t *testing.T) {
	v := newValidator()

	err := validateRequest(v, AmountRequest{Amount: 0})
	assert.ErrorIs(t, err, errValidation)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	assert.Contains(t, err.Error(), "'amount' must be greater than 0")

	negative := domain.Amount(-5)
	err = validateRequest(v, CreateReservationRequest{
		Kind: domain.KindFund, AccountID: "a1", Name: "Trip", TargetAmount: &negative,
	})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)

	err = validateRequest(v, SetBalanceRequest{})
	assert.ErrorIs(t, err, errValidation)
	assert.NotErrorIs(t, err, domain.ErrInvalidAmount)

	err = validateRequest(v, CreateGoalRequest{Title: "", Currency: "INR", TargetAmount: 100})
	assert.NotErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestDecode_AmountErrors(t *testing.T) {
	h := &APIHandler{validate: newValidator(), logger: slog.New(slog.NewTextHandler(io.Discard, nil))}

	tests := []struct {
		name string
		body string
		code string
	}{
		{"zero", `{"amount": 0}`, "INVALID_AMOUNT"},
		{"negative", `{"amount": -10}`, "INVALID_AMOUNT"},
		{"not a number", `{"amount": "ten"}`, "INVALID_AMOUNT"},
		{"fractional minor units", `{"amount": 1.5}`, "INVALID_AMOUNT"},
		{"sub-cent decimal string", `{"amount": "0.001"}`, "INVALID_AMOUNT"},
		{"broken json", `{"amount": `, "INVALID_REQUEST"},
		{"unknown field", `{"amount": 5, "memo": "x"}`, "INVALID_REQUEST"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			r := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/r1/allocate", strings.NewReader(tt.body))

			var req AmountRequest
			require.False(t, h.decode(w, r, &req))
			assert.Equal(t, http.StatusBadRequest, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
			assert.Equal(t, tt.code, resp.Code)
		})
	}

	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/api/v1/reservations/r1/allocate", strings.NewReader(`{"amount": "12.34"}`))
	var req AmountRequest
	require.True(t, h.decode(w, r, &req))
	assert.Equal(t, domain.Amount(1234), req.Amount)
}
