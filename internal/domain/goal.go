package domain

import "time"

type FundType string

const (
	FundTargetGoal    FundType = "target_goal"
	FundEmergencyFund FundType = "emergency_fund"
	FundBudgetFund    FundType = "budget_fund"
)

func (t FundType) Valid() bool {
	switch t {
	case FundTargetGoal, FundEmergencyFund, FundBudgetFund:
		return true
	}
	return false
}

type GoalStatus string

const (
	GoalActive    GoalStatus = "active"
	GoalCompleted GoalStatus = "completed"
)

// Goal is a savings target. It is not bound to an account: each deposit or
// withdrawal names the account it moves money through.
type Goal struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Title        string     `json:"title"`
	TargetAmount Amount     `json:"target_amount"`
	SavedAmount  Amount     `json:"saved_amount"`
	Currency     string     `json:"currency"`
	FundType     FundType   `json:"fund_type"`
	Status       GoalStatus `json:"status"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Remaining is the amount still needed to reach the target. It is only
// meaningful when TargetAmount > 0.
func (g Goal) Remaining() Amount {
	return g.TargetAmount - g.SavedAmount
}

func (g Goal) IsActive() bool {
	return g.Status == GoalActive
}

func (g Goal) Clone() Goal {
	if g.CompletedAt != nil {
		at := *g.CompletedAt
		g.CompletedAt = &at
	}
	return g
}
