package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

type CreateGoalRequest struct {
	Title string
	// TargetAmount of 0 means the goal has no target.
	TargetAmount domain.Amount
	Currency     string
	FundType     domain.FundType
}

// GoalEngine tracks savings goals. Goals are not bound to an account and do
// not count against any account's free-to-plan.
type GoalEngine struct {
	store repository.Store
	c     *caller
}

func (g *GoalEngine) CreateGoal(ctx context.Context, snap *Snapshot, req CreateGoalRequest) (goal *domain.Goal, err error) {
	defer g.c.observe("create_goal", time.Now(), &err)

	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("%w: goal needs a title", domain.ErrInvalidInput)
	}
	if req.TargetAmount < 0 {
		return nil, fmt.Errorf("%w: target amount %s is negative", domain.ErrInvalidAmount, req.TargetAmount)
	}
	if req.FundType == "" {
		req.FundType = domain.FundTargetGoal
	}
	if !req.FundType.Valid() {
		return nil, fmt.Errorf("%w: fund type %q", domain.ErrInvalidInput, req.FundType)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: goal needs a currency", domain.ErrInvalidInput)
	}

	goal = &domain.Goal{
		ID:           domain.NewID(),
		OwnerID:      snap.OwnerID,
		Title:        req.Title,
		TargetAmount: req.TargetAmount,
		Currency:     req.Currency,
		FundType:     req.FundType,
		Status:       domain.GoalActive,
	}

	err = g.c.call(ctx, func(ctx context.Context) error {
		return g.store.Goals.Save(ctx, goal)
	})
	if err != nil {
		return nil, err
	}

	snap.putGoal(*goal)
	return goal, nil
}

// Deposit moves amount from accountID into the goal. The account check is
// against its raw balance, not free-to-plan.
func (g *GoalEngine) Deposit(ctx context.Context, snap *Snapshot, goalID, accountID string, amount domain.Amount, note string) (event *domain.LedgerEvent, err error) {
	defer g.c.observe("goal_deposit", time.Now(), &err)

	if amount <= 0 {
		return nil, fmt.Errorf("%w: deposit must be positive, got %s", domain.ErrInvalidAmount, amount)
	}
	goal, account, err := g.lookup(snap, goalID, accountID)
	if err != nil {
		return nil, err
	}
	if !goal.IsActive() {
		return nil, fmt.Errorf("%w: goal %s is %s", domain.ErrGoalNotActive, goal.ID, goal.Status)
	}
	if goal.TargetAmount > 0 && amount > goal.Remaining() {
		return nil, fmt.Errorf("%w: goal %s needs %s more, requested %s",
			domain.ErrAmountExceedsRemainingTarget, goal.ID, goal.Remaining(), amount)
	}
	if amount > account.Balance {
		return nil, fmt.Errorf("%w: account %s holds %s, requested %s",
			domain.ErrInsufficientAccountBalance, account.ID, account.Balance, amount)
	}

	event = domain.NewLedgerEvent(domain.EventGoalDeposit, amount, goal.Currency).
		WithOwner(snap.OwnerID).
		WithAccounts(account.ID, "").
		WithGoal(goal.ID).
		WithNote(note)

	if err := g.record(ctx, snap, event, amount, "goal_deposit"); err != nil {
		return nil, err
	}
	return event, nil
}

// Withdraw moves amount out of the goal into accountID. Completed goals can
// still be withdrawn from.
func (g *GoalEngine) Withdraw(ctx context.Context, snap *Snapshot, goalID, accountID string, amount domain.Amount, note string) (event *domain.LedgerEvent, err error) {
	defer g.c.observe("goal_withdraw", time.Now(), &err)

	if amount <= 0 {
		return nil, fmt.Errorf("%w: withdrawal must be positive, got %s", domain.ErrInvalidAmount, amount)
	}
	goal, account, err := g.lookup(snap, goalID, accountID)
	if err != nil {
		return nil, err
	}
	if amount > goal.SavedAmount {
		return nil, fmt.Errorf("%w: goal %s has %s saved, requested %s",
			domain.ErrInsufficientSaved, goal.ID, goal.SavedAmount, amount)
	}

	event = domain.NewLedgerEvent(domain.EventGoalWithdraw, amount, goal.Currency).
		WithOwner(snap.OwnerID).
		WithAccounts("", account.ID).
		WithGoal(goal.ID).
		WithNote(note)

	if err := g.record(ctx, snap, event, -amount, "goal_withdraw"); err != nil {
		return nil, err
	}
	return event, nil
}

// MarkCompleted is a one-way user decision. It does not require the target
// to be reached.
func (g *GoalEngine) MarkCompleted(ctx context.Context, snap *Snapshot, goalID string) (goal *domain.Goal, err error) {
	defer g.c.observe("complete_goal", time.Now(), &err)

	current, err := snap.Goal(goalID)
	if err != nil {
		return nil, err
	}
	if !current.IsActive() {
		return nil, fmt.Errorf("%w: goal %s is %s", domain.ErrGoalNotActive, goalID, current.Status)
	}

	err = g.c.call(ctx, func(ctx context.Context) error {
		var err error
		goal, err = g.store.Goals.Complete(ctx, goalID)
		return err
	})
	if err != nil {
		return nil, err
	}

	snap.putGoal(*goal)
	return goal, nil
}

func (g *GoalEngine) lookup(snap *Snapshot, goalID, accountID string) (domain.Goal, domain.Account, error) {
	goal, err := snap.Goal(goalID)
	if err != nil {
		return domain.Goal{}, domain.Account{}, err
	}
	account, err := snap.Account(accountID)
	if err != nil {
		return domain.Goal{}, domain.Account{}, err
	}
	if goal.Currency != account.Currency {
		return domain.Goal{}, domain.Account{}, fmt.Errorf("%w: goal %s is in %s, account %s in %s",
			domain.ErrCurrencyMismatch, goal.ID, goal.Currency, account.ID, account.Currency)
	}
	return goal, account, nil
}

// record inserts the goal event, then moves the saved amount. A failed delta
// deletes the event again.
func (g *GoalEngine) record(ctx context.Context, snap *Snapshot, event *domain.LedgerEvent, delta domain.Amount, operation string) error {
	err := g.c.call(ctx, func(ctx context.Context) error {
		return g.store.Events.Insert(ctx, event)
	})
	if err != nil {
		return err
	}
	snap.applyEffects(event.BalanceEffects(), 1)

	goal, err := g.adjustSaved(ctx, event.GoalID, delta)
	if err != nil {
		err = g.c.compensate(ctx, operation, event.ID, err,
			ignoreNotFound(func(ctx context.Context) error {
				return g.store.Events.Delete(ctx, event.ID)
			}))
		if !errors.Is(err, domain.ErrCompensationFailure) {
			snap.applyEffects(event.BalanceEffects(), -1)
		}
		return err
	}

	snap.putGoal(*goal)
	g.c.notify(ctx, domain.Notice{
		Kind:      domain.NoticeGoalAdjusted,
		OwnerID:   snap.OwnerID,
		SubjectID: goal.ID,
		Amount:    delta,
		Attributes: map[string]string{
			"event_id":     event.ID,
			"saved_amount": goal.SavedAmount.String(),
		},
	})
	return nil
}

func (g *GoalEngine) adjustSaved(ctx context.Context, goalID string, delta domain.Amount) (*domain.Goal, error) {
	var goal *domain.Goal
	err := g.c.call(ctx, func(ctx context.Context) error {
		var err error
		goal, err = g.store.Ledger.AdjustGoalSavedAmount(ctx, goalID, delta)
		return err
	})
	return goal, err
}
