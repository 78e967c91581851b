package domain

import "time"

// OwnerKind tags which of the three reservation shapes a Reservation is.
type OwnerKind string

const (
	// KindCategoryFund is the single fund a category holds, bound to one account.
	KindCategoryFund OwnerKind = "category_fund"
	// KindCategoryReservation is a per-account balance held by a category.
	KindCategoryReservation OwnerKind = "category_reservation"
	// KindFund is a standalone named fund bound to one account.
	KindFund OwnerKind = "fund"
)

func (k OwnerKind) Valid() bool {
	switch k {
	case KindCategoryFund, KindCategoryReservation, KindFund:
		return true
	}
	return false
}

// IsCategory reports whether the reservation is owned by a category and can
// therefore be debited by expenses in that category.
func (k OwnerKind) IsCategory() bool {
	return k == KindCategoryFund || k == KindCategoryReservation
}

// Reservation is a claim on part of one account's balance. For funds the
// OwnerEntityID is the reservation's own ID.
type Reservation struct {
	ID            string    `json:"id"`
	Kind          OwnerKind `json:"kind"`
	OwnerID       string    `json:"owner_id"`
	AccountID     string    `json:"account_id"`
	OwnerEntityID string    `json:"owner_entity_id"`
	Name          string    `json:"name,omitempty"`
	Balance       Amount    `json:"balance"`
	Currency      string    `json:"currency"`
	TargetAmount  *Amount   `json:"target_amount,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// Clone returns a copy that shares no memory with r.
func (r Reservation) Clone() Reservation {
	if r.TargetAmount != nil {
		target := *r.TargetAmount
		r.TargetAmount = &target
	}
	return r
}

// Debits reports whether an expense in categoryID paid from accountID is
// drawn from this reservation.
func (r Reservation) Debits(categoryID, accountID string) bool {
	return r.Kind.IsCategory() && r.OwnerEntityID == categoryID && r.AccountID == accountID
}
