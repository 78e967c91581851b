package domain

import "time"

type CategoryKind string

const (
	CategoryExpense CategoryKind = "expense"
	CategoryIncome  CategoryKind = "income"
)

type Category struct {
	ID        string       `json:"id"`
	OwnerID   string       `json:"owner_id"`
	Name      string       `json:"name"`
	Kind      CategoryKind `json:"kind"`
	Emoji     string       `json:"emoji,omitempty"`
	CreatedAt time.Time    `json:"created_at"`
}
