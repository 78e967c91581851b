package domain

import (
	"encoding/json"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAmount(t *testing.T) {
	tests := []struct {
		in      string
		want    Amount
		wantErr bool
	}{
		{in: "100", want: 10000},
		{in: "12.34", want: 1234},
		{in: " 0.5 ", want: 50},
		{in: "-3.00", want: -300},
		{in: "0", want: 0},
		{in: "1.005", wantErr: true},
		{in: "abc", wantErr: true},
		{in: "", wantErr: true},
		{in: "99999999999999999999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseAmount(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidAmount))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAmount_String(t *testing.T) {
	assert.Equal(t, "100.00", Amount(10000).String())
	assert.Equal(t, "0.07", Amount(7).String())
	assert.Equal(t, "-12.30", Amount(-1230).String())
}

func TestAmount_AddSubOverflow(t *testing.T) {
	sum, err := Amount(3000).Add(7000)
	require.NoError(t, err)
	assert.Equal(t, Amount(10000), sum)

	_, err = Amount(math.MaxInt64).Add(1)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	diff, err := Amount(100).Sub(250)
	require.NoError(t, err)
	assert.Equal(t, Amount(-150), diff)

	_, err = Amount(math.MinInt64).Sub(1)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestAmount_UnmarshalJSON(t *testing.T) {
	var body struct {
		Minor Amount  `json:"minor"`
		Major Amount  `json:"major"`
		Empty *Amount `json:"empty"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"minor": 3000, "major": "70.01", "empty": null}`), &body))
	assert.Equal(t, Amount(3000), body.Minor)
	assert.Equal(t, Amount(7001), body.Major)
	assert.Nil(t, body.Empty)

	var bad struct {
		Amount Amount `json:"amount"`
	}
	err := json.Unmarshal([]byte(`{"amount": "ten"}`), &bad)
	assert.ErrorIs(t, err, ErrInvalidAmount)

	err = json.Unmarshal([]byte(`{"amount": 10.5}`), &bad)
	assert.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedgerEvent_BalanceEffects(t *testing.T) {
	transfer := NewLedgerEvent(EventTransfer, 500, "INR").WithAccounts("a1", "a2")
	assert.Equal(t, []BalanceEffect{{AccountID: "a1", Delta: -500}, {AccountID: "a2", Delta: 500}}, transfer.BalanceEffects())

	deposit := NewLedgerEvent(EventGoalDeposit, 200, "INR").WithAccounts("a1", "").WithGoal("g1")
	assert.Equal(t, []BalanceEffect{{AccountID: "a1", Delta: -200}}, deposit.BalanceEffects())

	withdraw := NewLedgerEvent(EventGoalWithdraw, 200, "INR").WithAccounts("", "a2")
	assert.Equal(t, []BalanceEffect{{AccountID: "a2", Delta: 200}}, withdraw.BalanceEffects())
}

func TestCompensationError_Unwrap(t *testing.T) {
	cause := ErrInsufficientReservedBalance
	err := error(&CompensationError{Operation: "create_event", EntityID: "e1", Cause: cause, Err: ErrNetwork})

	assert.ErrorIs(t, err, ErrCompensationFailure)
	assert.ErrorIs(t, err, ErrInsufficientReservedBalance)
	assert.Contains(t, err.Error(), "e1")
}
