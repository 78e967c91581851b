package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository/memory"
)

const owner = "owner1"

// foreignCategory belongs to another owner.
const foreignCategory = "owner2-rent"

var seededCategories = map[string]domain.CategoryKind{
	"groceries": domain.CategoryExpense,
	"dining":    domain.CategoryExpense,
	"fuel":      domain.CategoryExpense,
	"salary":    domain.CategoryIncome,
}

type fixture struct {
	ctx     context.Context
	store   repository.Store
	deltas  *faultyLedger
	events  *faultyEvents
	ledger  *Ledger
	snap    *Snapshot
	metrics *recordingMetrics
	notices *recordingNotifier
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWithTimeout(t, time.Second)
}

func newFixtureWithTimeout(t *testing.T, timeout time.Duration) *fixture {
	t.Helper()

	repos := memory.NewStore().Repositories()
	f := &fixture{
		ctx:     context.Background(),
		deltas:  &faultyLedger{LedgerStore: repos.Ledger},
		events:  &faultyEvents{EventRepository: repos.Events},
		metrics: &recordingMetrics{compensationFailures: make(map[string]int)},
		notices: &recordingNotifier{},
	}
	repos.Ledger = f.deltas
	repos.Events = f.events
	f.store = repos

	f.ledger = New(repos, Options{
		CallTimeout: timeout,
		Logger:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Metrics:     f.metrics,
		Notifier:    f.notices,
	})

	for id, kind := range seededCategories {
		require.NoError(t, repos.Categories.Save(f.ctx, &domain.Category{
			ID: id, OwnerID: owner, Name: id, Kind: kind,
		}))
	}
	require.NoError(t, repos.Categories.Save(f.ctx, &domain.Category{
		ID: foreignCategory, OwnerID: "owner2", Name: "Rent", Kind: domain.CategoryExpense,
	}))

	snap, err := f.ledger.Loader.Load(f.ctx, owner)
	require.NoError(t, err)
	f.snap = snap
	return f
}

func (f *fixture) account(t *testing.T, balance domain.Amount) domain.Account {
	t.Helper()
	account, err := f.ledger.CreateAccount(f.ctx, f.snap, CreateAccountRequest{
		Name: "Main", Type: domain.AccountChecking, Currency: "INR", Balance: balance,
	})
	require.NoError(t, err)
	return *account
}

func (f *fixture) categoryFund(t *testing.T, accountID, categoryID string, initial domain.Amount) domain.Reservation {
	t.Helper()
	res, err := f.ledger.Allocation.CreateReservation(f.ctx, f.snap, CreateReservationRequest{
		Kind: domain.KindCategoryFund, OwnerEntityID: categoryID, AccountID: accountID, InitialAmount: initial,
	})
	require.NoError(t, err)
	return *res
}

func (f *fixture) storedAccount(t *testing.T, id string) domain.Account {
	t.Helper()
	account, err := f.store.Accounts.GetByID(f.ctx, id)
	require.NoError(t, err)
	return *account
}

func (f *fixture) storedReservation(t *testing.T, id string) domain.Reservation {
	t.Helper()
	res, err := f.store.Reservations.GetByID(f.ctx, id)
	require.NoError(t, err)
	return *res
}

func (f *fixture) history(t *testing.T, accountID string) []*domain.LedgerEvent {
	t.Helper()
	events, err := f.store.Events.GetByAccountID(f.ctx, accountID, 0, 0)
	require.NoError(t, err)
	return events
}

// faultyLedger fails or blocks delta calls on demand.
type faultyLedger struct {
	repository.LedgerStore

	mu       sync.Mutex
	skip     int
	failures int
	err      error
	block    bool
	calls    int
}

func (l *faultyLedger) failNext(n int, err error) {
	l.failAfter(0, n, err)
}

// failAfter lets skip calls through, then fails the following n.
func (l *faultyLedger) failAfter(skip, n int, err error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.skip, l.failures, l.err = skip, n, err
}

func (l *faultyLedger) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

func (l *faultyLedger) fault(ctx context.Context) error {
	l.mu.Lock()
	l.calls++
	block := l.block
	var err error
	if l.skip > 0 {
		l.skip--
	} else if l.failures > 0 {
		l.failures--
		err = l.err
	}
	l.mu.Unlock()

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	return err
}

func (l *faultyLedger) AdjustCategoryFundBalance(ctx context.Context, categoryID string, delta domain.Amount, accountID string) (*domain.Reservation, error) {
	if err := l.fault(ctx); err != nil {
		return nil, err
	}
	return l.LedgerStore.AdjustCategoryFundBalance(ctx, categoryID, delta, accountID)
}

func (l *faultyLedger) AdjustCategoryReservation(ctx context.Context, categoryID, accountID string, delta domain.Amount) (*domain.Reservation, error) {
	if err := l.fault(ctx); err != nil {
		return nil, err
	}
	return l.LedgerStore.AdjustCategoryReservation(ctx, categoryID, accountID, delta)
}

func (l *faultyLedger) AdjustAccountFundBalance(ctx context.Context, fundID string, delta domain.Amount) (*domain.Reservation, error) {
	if err := l.fault(ctx); err != nil {
		return nil, err
	}
	return l.LedgerStore.AdjustAccountFundBalance(ctx, fundID, delta)
}

func (l *faultyLedger) AdjustGoalSavedAmount(ctx context.Context, goalID string, delta domain.Amount) (*domain.Goal, error) {
	if err := l.fault(ctx); err != nil {
		return nil, err
	}
	return l.LedgerStore.AdjustGoalSavedAmount(ctx, goalID, delta)
}

// faultyEvents fails event writes on demand.
type faultyEvents struct {
	repository.EventRepository

	mu             sync.Mutex
	deleteFailures int
	updateFailures int
	insertFailures int
	err            error
}

func (e *faultyEvents) take(counter *int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if *counter > 0 {
		*counter--
		return e.err
	}
	return nil
}

func (e *faultyEvents) Insert(ctx context.Context, event *domain.LedgerEvent) error {
	if err := e.take(&e.insertFailures); err != nil {
		return err
	}
	return e.EventRepository.Insert(ctx, event)
}

func (e *faultyEvents) Update(ctx context.Context, event *domain.LedgerEvent) error {
	if err := e.take(&e.updateFailures); err != nil {
		return err
	}
	return e.EventRepository.Update(ctx, event)
}

func (e *faultyEvents) Delete(ctx context.Context, id string) error {
	if err := e.take(&e.deleteFailures); err != nil {
		return err
	}
	return e.EventRepository.Delete(ctx, id)
}

type recordingMetrics struct {
	mu                   sync.Mutex
	operations           []string
	compensationFailures map[string]int
}

func (m *recordingMetrics) ObserveOperation(operation string, _ time.Duration, _ error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.operations = append(m.operations, operation)
}

func (m *recordingMetrics) CompensationFailed(operation string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.compensationFailures[operation]++
}

func (m *recordingMetrics) ObserveAccount(string, string, domain.Amount, domain.Amount) {}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []domain.Notice
}

func (n *recordingNotifier) Notify(_ context.Context, notice domain.Notice) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice)
}

func (n *recordingNotifier) kinds() []domain.NoticeKind {
	n.mu.Lock()
	defer n.mu.Unlock()
	kinds := make([]domain.NoticeKind, 0, len(n.notices))
	for _, notice := range n.notices {
		kinds = append(kinds, notice.Kind)
	}
	return kinds
}
