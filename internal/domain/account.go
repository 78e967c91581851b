package domain

import (
	"time"
)

type AccountType string

const (
	AccountCash       AccountType = "cash"
	AccountChecking   AccountType = "checking"
	AccountSavings    AccountType = "savings"
	AccountCreditCard AccountType = "credit_card"
)

func (t AccountType) Valid() bool {
	switch t {
	case AccountCash, AccountChecking, AccountSavings, AccountCreditCard:
		return true
	}
	return false
}

// Account balance is authoritative. It moves only through LedgerEvents and
// direct edits, never through reservation changes.
type Account struct {
	ID        string      `json:"id"`
	OwnerID   string      `json:"owner_id"`
	Name      string      `json:"name"`
	Type      AccountType `json:"type"`
	Currency  string      `json:"currency"`
	Balance   Amount      `json:"balance"`
	CreatedAt time.Time   `json:"created_at"`
	UpdatedAt time.Time   `json:"updated_at"`
}

// BalanceEffect is a signed change an event applies to one account.
type BalanceEffect struct {
	AccountID string
	Delta     Amount
}
