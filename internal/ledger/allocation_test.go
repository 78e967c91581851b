package ledger

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Utkarshvr/budget-tracker-sub000/internal/domain"
	"github.com/Utkarshvr/budget-tracker-sub000/internal/repository"
)

func TestRegistry_ValidateDeltaBoundaries(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	res := f.categoryFund(t, acc.ID, "groceries", 3000)

	tests := []struct {
		name    string
		delta   domain.Amount
		wantErr error
	}{
		{"allocate one past free-to-plan", 7001, domain.ErrInsufficientFreeToPlan},
		{"allocate exactly free-to-plan", 7000, nil},
		{"withdraw one past balance", -3001, domain.ErrInsufficientReservedBalance},
		{"withdraw exactly balance", -3000, nil},
		{"zero delta", 0, domain.ErrInvalidAmount},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := f.ledger.Registry.ValidateDelta(f.snap, res, tt.delta)
			if tt.wantErr == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestRegistry_FreeToPlan(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	f.categoryFund(t, acc.ID, "groceries", 3000)

	ftp, err := f.ledger.Registry.FreeToPlan(f.snap, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10000), ftp.Balance)
	assert.Equal(t, domain.Amount(3000), ftp.Reserved)
	assert.Equal(t, domain.Amount(7000), ftp.Signed)
	assert.Equal(t, domain.Amount(7000), ftp.Available)
	assert.False(t, ftp.Overcommitted)

	_, err = f.ledger.Registry.FreeToPlan(f.snap, "missing")
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

// An unreserved expense can push reserved money above the balance. The
// account then reports as overcommitted and refuses further allocation.
func TestRegistry_Overcommitted(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 1000)
	fund := f.categoryFund(t, acc.ID, "groceries", 800)

	_, err := f.ledger.Orchestrator.CreateEvent(f.ctx, f.snap, EventRequest{
		Type: domain.EventExpense, Amount: 500, FromAccountID: acc.ID, CategoryID: "fuel",
	})
	require.NoError(t, err)

	ftp, err := f.ledger.Registry.FreeToPlan(f.snap, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(-300), ftp.Signed)
	assert.Equal(t, domain.Amount(0), ftp.Available)
	assert.True(t, ftp.Overcommitted)

	_, err = f.ledger.Allocation.Allocate(f.ctx, f.snap, fund.ID, 1)
	assert.ErrorIs(t, err, domain.ErrInsufficientFreeToPlan)
}

func TestAllocation_CreateReservationWithinFreeToPlan(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)

	res := f.categoryFund(t, acc.ID, "groceries", 3000)
	assert.Equal(t, domain.Amount(3000), res.Balance)
	assert.Equal(t, domain.Amount(3000), f.storedReservation(t, res.ID).Balance)

	ftp, err := f.ledger.Registry.FreeToPlan(f.snap, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(7000), ftp.Signed)

	_, err = f.ledger.Allocation.Allocate(f.ctx, f.snap, res.ID, 7001)
	assert.ErrorIs(t, err, domain.ErrInsufficientFreeToPlan)
	assert.Equal(t, domain.Amount(3000), f.storedReservation(t, res.ID).Balance)

	updated, err := f.ledger.Allocation.Allocate(f.ctx, f.snap, res.ID, 7000)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(10000), updated.Balance)

	assert.Contains(t, f.notices.kinds(), domain.NoticeReservationAdjusted)
}

func TestAllocation_CreateReservationRejections(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	f.categoryFund(t, acc.ID, "groceries", 0)

	tests := []struct {
		name    string
		req     CreateReservationRequest
		wantErr error
	}{
		{
			name:    "unknown kind",
			req:     CreateReservationRequest{Kind: "bucket", AccountID: acc.ID},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "category kind without category",
			req:     CreateReservationRequest{Kind: domain.KindCategoryReservation, AccountID: acc.ID},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "fund without name",
			req:     CreateReservationRequest{Kind: domain.KindFund, AccountID: acc.ID},
			wantErr: domain.ErrInvalidInput,
		},
		{
			name:    "negative initial amount",
			req:     CreateReservationRequest{Kind: domain.KindFund, Name: "Trip", AccountID: acc.ID, InitialAmount: -1},
			wantErr: domain.ErrInvalidAmount,
		},
		{
			name:    "unknown account",
			req:     CreateReservationRequest{Kind: domain.KindFund, Name: "Trip", AccountID: "missing"},
			wantErr: repository.ErrNotFound,
		},
		{
			name:    "currency mismatch",
			req:     CreateReservationRequest{Kind: domain.KindFund, Name: "Trip", AccountID: acc.ID, Currency: "USD"},
			wantErr: domain.ErrCurrencyMismatch,
		},
		{
			name:    "second fund for category",
			req:     CreateReservationRequest{Kind: domain.KindCategoryFund, OwnerEntityID: "groceries", AccountID: acc.ID},
			wantErr: repository.ErrDuplicate,
		},
		{
			name:    "unknown category",
			req:     CreateReservationRequest{Kind: domain.KindCategoryFund, OwnerEntityID: "missing", AccountID: acc.ID},
			wantErr: repository.ErrNotFound,
		},
		{
			name:    "another owner's category",
			req:     CreateReservationRequest{Kind: domain.KindCategoryFund, OwnerEntityID: foreignCategory, AccountID: acc.ID},
			wantErr: repository.ErrNotFound,
		},
		{
			name:    "reservation on another owner's category",
			req:     CreateReservationRequest{Kind: domain.KindCategoryReservation, OwnerEntityID: foreignCategory, AccountID: acc.ID},
			wantErr: repository.ErrNotFound,
		},
		{
			name:    "initial above free-to-plan",
			req:     CreateReservationRequest{Kind: domain.KindFund, Name: "Trip", AccountID: acc.ID, InitialAmount: 10001},
			wantErr: domain.ErrInsufficientFreeToPlan,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.ledger.Allocation.CreateReservation(f.ctx, f.snap, tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	stored, err := f.store.Reservations.GetByAccountID(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Len(t, stored, 1)
}

func TestAllocation_AllocateWithdrawRoundTrip(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	fund, err := f.ledger.Allocation.CreateReservation(f.ctx, f.snap, CreateReservationRequest{
		Kind: domain.KindFund, Name: "Vacation", AccountID: acc.ID,
	})
	require.NoError(t, err)
	assert.Equal(t, fund.ID, fund.OwnerEntityID)

	before, err := f.ledger.Registry.FreeToPlan(f.snap, acc.ID)
	require.NoError(t, err)

	_, err = f.ledger.Allocation.Allocate(f.ctx, f.snap, fund.ID, 2500)
	require.NoError(t, err)
	res, err := f.ledger.Allocation.Withdraw(f.ctx, f.snap, fund.ID, 2500)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(0), res.Balance)

	after, err := f.ledger.Registry.FreeToPlan(f.snap, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, before.Signed, after.Signed)
	assert.Equal(t, domain.Amount(10000), f.storedAccount(t, acc.ID).Balance)

	_, err = f.ledger.Allocation.Allocate(f.ctx, f.snap, fund.ID, 0)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.ledger.Allocation.Withdraw(f.ctx, f.snap, fund.ID, -5)
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}

func TestAllocation_DeleteRequiresEmptyReservation(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	res := f.categoryFund(t, acc.ID, "groceries", 1200)

	err := f.ledger.Allocation.DeleteReservation(f.ctx, f.snap, res.ID)
	assert.ErrorIs(t, err, domain.ErrNonZeroBalance)

	_, err = f.ledger.Allocation.Withdraw(f.ctx, f.snap, res.ID, 1200)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Allocation.DeleteReservation(f.ctx, f.snap, res.ID))

	_, err = f.snap.Reservation(res.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	_, err = f.store.Reservations.GetByID(f.ctx, res.ID)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestAllocation_SeedFailureRemovesReservation(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	f.deltas.failNext(1, fmt.Errorf("%w: connection reset", domain.ErrNetwork))

	_, err := f.ledger.Allocation.CreateReservation(f.ctx, f.snap, CreateReservationRequest{
		Kind: domain.KindCategoryFund, OwnerEntityID: "groceries", AccountID: acc.ID, InitialAmount: 500,
	})
	require.ErrorIs(t, err, domain.ErrNetwork)
	assert.False(t, errors.Is(err, domain.ErrCompensationFailure))

	stored, err := f.store.Reservations.GetByAccountID(f.ctx, acc.ID)
	require.NoError(t, err)
	assert.Empty(t, stored)
	assert.Empty(t, f.snap.ReservationsOn(acc.ID))
}

// A stale snapshot passes the client pre-check; the store still rejects the
// allocation that would overcommit the account.
func TestAllocation_StaleSnapshotRejectedByStore(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)
	create := func(name string) *domain.Reservation {
		res, err := f.ledger.Allocation.CreateReservation(f.ctx, f.snap, CreateReservationRequest{
			Kind: domain.KindFund, Name: name, AccountID: acc.ID,
		})
		require.NoError(t, err)
		return res
	}
	first, second := create("Car"), create("House")

	snapA, err := f.ledger.Loader.Load(f.ctx, owner)
	require.NoError(t, err)
	snapB, err := f.ledger.Loader.Load(f.ctx, owner)
	require.NoError(t, err)

	_, err = f.ledger.Allocation.Allocate(f.ctx, snapA, first.ID, 6000)
	require.NoError(t, err)

	_, err = f.ledger.Allocation.Allocate(f.ctx, snapB, second.ID, 6000)
	require.ErrorIs(t, err, domain.ErrInsufficientFreeToPlan)

	require.NoError(t, f.ledger.Loader.Refresh(f.ctx, snapB))
	ftp, err := f.ledger.Registry.FreeToPlan(snapB, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(4000), ftp.Signed)
	assert.Equal(t, domain.Amount(0), f.storedReservation(t, second.ID).Balance)
}

func TestAllocation_ConcurrentAllocationsConserveBalance(t *testing.T) {
	f := newFixture(t)
	acc := f.account(t, 10000)

	var ids []string
	for _, name := range []string{"Car", "House"} {
		res, err := f.ledger.Allocation.CreateReservation(f.ctx, f.snap, CreateReservationRequest{
			Kind: domain.KindFund, Name: name, AccountID: acc.ID,
		})
		require.NoError(t, err)
		ids = append(ids, res.ID)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, id := range ids {
		snap, err := f.ledger.Loader.Load(f.ctx, owner)
		require.NoError(t, err)

		wg.Add(1)
		go func(snap *Snapshot, id string) {
			defer wg.Done()
			_, err := f.ledger.Allocation.Allocate(f.ctx, snap, id, 6000)
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		}(snap, id)
	}
	wg.Wait()

	var succeeded, rejected int
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, domain.ErrInsufficientFreeToPlan):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, 1, rejected)

	require.NoError(t, f.ledger.Loader.Refresh(f.ctx, f.snap))
	reserved, err := f.ledger.Registry.ReservedTotal(f.snap, acc.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Amount(6000), reserved)
}

func TestRegistry_ReservedTotalOverflow(t *testing.T) {
	f := newFixture(t)

	snap := NewSnapshot(owner)
	snap.putAccount(domain.Account{ID: "a1", OwnerID: owner, Balance: math.MaxInt64})
	half := domain.Amount(math.MaxInt64/2 + 1)
	snap.putReservation(domain.Reservation{ID: "r1", Kind: domain.KindFund, AccountID: "a1", Balance: half})
	snap.putReservation(domain.Reservation{ID: "r2", Kind: domain.KindFund, AccountID: "a1", Balance: half})

	_, err := f.ledger.Registry.ReservedTotal(snap, "a1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.ledger.Registry.FreeToPlan(snap, "a1")
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
}
