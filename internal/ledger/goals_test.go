package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

func (f *fixture) goal(t *testing.T, target domain.Amount) domain.Goal {
	t.Helper()
	goal, err := f.ledger.Goals.CreateGoal(f.ctx, f.snap, CreateGoalRequest{
		Title: "Laptop", TargetAmount: target, Currency: "INR",
	})
	require.NoError(t, err)
	return *goal
}

func TestGoals_CreateGoalDefaults(t *testing.T) {
	f := newFixture(t)
	goal := f.goal(t, 10000)
	assert.Equal(t, domain.FundTargetGoal, goal.FundType)
	assert.Equal(t, domain.GoalActive, goal.Status)

	_, err := f.ledger.Goals.CreateGoal(f.ctx, f.snap, CreateGoalRequest{Currency: "INR"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
	_, err = f.ledger.Goals.CreateGoal(f.ctx, f.snap, CreateGoalRequest{Title: "x", Currency: "INR", TargetAmount: -1})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.ledger.Goals.CreateGoal(f.ctx, f.snap, CreateGoalRequest{Title: "x", Currency: "INR", FundType: "lottery"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestGoals_DepositUpToTarget(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 20000)
	goal := f.goal(t, 10000)

	_, err := f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 9000, "")
	require.NoError(t, err)

	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 1500, "")
	require.ErrorIs(t, err, domain.ErrAmountExceedsRemainingTarget)

	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 1000, "")
	require.NoError(t, err)

	cached, err := f.snap.Goal(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10000), cached.SavedAmount)
	assert.Equal(t, domain.GoalActive, cached.Status)
	assert.Equal(t, domain.Amount(10000), f.storedAccount(t, acc.ID).Balance)

	completed, err := f.ledger.Goals.MarkCompleted(f.ctx, f.snap, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.GoalCompleted, completed.Status)

	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 1, "")
	assert.ErrorIs(t, err, domain.ErrGoalNotActive)
	_, err = f.ledger.Goals.MarkCompleted(f.ctx, f.snap, goal.ID)
	assert.ErrorIs(t, err, domain.ErrGoalNotActive)

	_, err = f.ledger.Goals.Withdraw(f.ctx, f.snap, goal.ID, acc.ID, 500, "")
	require.NoError(t, err)
	cached, err = f.snap.Goal(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(9500), cached.SavedAmount)

	_, err = f.ledger.Goals.Withdraw(f.ctx, f.snap, goal.ID, acc.ID, 9501, "")
	assert.ErrorIs(t, err, domain.ErrInsufficientSaved)
}

func TestGoals_DepositChecksRawAccountBalance(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 500)
	f.categoryFund(t, acc.ID, "groceries", 400)
	goal := f.goal(t, 0)

	_, err := f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 501, "")
	require.ErrorIs(t, err, domain.ErrInsufficientAccountBalance)

	// Goals do not consume free-to-plan.
	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 300, "")
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(200), f.storedAccount(t, acc.ID).Balance)
}

func TestGoals_DepositCurrencyAndLookups(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1000)
	goal := f.goal(t, 0)
	usd, err := f.ledger.Goals.CreateGoal(f.ctx, f.snap, CreateGoalRequest{Title: "NYC", Currency: "USD"})
	require.NoError(t, err)

	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, usd.ID, acc.ID, 100, "")
	assert.ErrorIs(t, err, domain.ErrCurrencyMismatch)
	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, "missing", acc.ID, 100, "")
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 0, "")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestGoals_FailedSavedAdjustDeletesEvent(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1000)
	goal := f.goal(t, 0)

	f.deltas.failNext(1, errConnReset)
	_, err := f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 400, "")
	require.ErrorIs(t, err, domain.ErrNetwork)

	assert.Empty(t, f.history(t, acc.ID))
	assert.Equal(t, domain.Amount(1000), f.storedAccount(t, acc.ID).Balance)
	cached, err := f.snap.Account(acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1000), cached.Balance)
}

func TestGoals_EventsThroughOrchestrator(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	goal := f.goal(t, 5000)

	deposit, err := f.ledger.Orchestrator.CreateEvent(f.ctx, f.snap, EventRequest{
		Type: domain.EventGoalDeposit, Amount: 2000, FromAccountID: acc.ID, GoalID: goal.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, "INR", deposit.Currency)

	_, err = f.ledger.Orchestrator.CreateEvent(f.ctx, f.snap, EventRequest{
		Type: domain.EventGoalWithdraw, Amount: 500, ToAccountID: acc.ID, GoalID: goal.ID,
	})
	require.NoError(t, err)

	_, err = f.ledger.Orchestrator.CreateEvent(f.ctx, f.snap, EventRequest{
		Type: domain.EventGoalDeposit, Amount: 100, FromAccountID: acc.ID, GoalID: "missing",
	})
	assert.ErrorIs(t, err, repository.ErrNotFound)

	cached, err := f.snap.Goal(goal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(1500), cached.SavedAmount)
	assert.Equal(t, domain.Amount(8500), f.storedAccount(t, acc.ID).Balance)

	// Deleting the deposit would take the goal below zero.
	err = f.ledger.Orchestrator.DeleteEvent(f.ctx, f.snap, deposit.ID)
	assert.ErrorIs(t, err, domain.ErrInsufficientSaved)
}

func TestGoals_DeleteDepositReversesSaved(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	goal := f.goal(t, 0)
	deposit, err := f.ledger.Goals.Deposit(f.ctx, f.snap, goal.ID, acc.ID, 1000, "")
	require.NoError(t, err)

	require.NoError(t, f.ledger.Orchestrator.DeleteEvent(f.ctx, f.snap, deposit.ID))

	stored, err := f.store.Goals.GetByID(f.ctx, goal.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), stored.SavedAmount)
	assert.Equal(t, domain.Amount(10000), f.storedAccount(t, acc.ID).Balance)
}
