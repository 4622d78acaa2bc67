package models

import "time"

// Role is a user's role within a company directory
type Role string

const (
	RoleEmployee Role = "employee"
	RoleManager  Role = "manager"
	RoleAdmin    Role = "admin"
)

// AlertState tracks budget alerting for a user.
// It moves none -> warned -> exceeded and resets to none when the budget
// period rolls over, so re-alerting after a reset works.
type AlertState string

const (
	AlertNone     AlertState = "none"
	AlertWarned   AlertState = "warned"
	AlertExceeded AlertState = "exceeded"
)

// User is a directory record the approval engine reads manager
// relationships and roles from
type User struct {
	ID                int64      `json:"id"`
	CompanyID         int64      `json:"company_id"`
	Name              string     `json:"name"`
	Email             string     `json:"email"`
	Role              Role       `json:"role"`
	ManagerID         *int64     `json:"manager_id,omitempty"`
	IsManagerApprover bool       `json:"is_manager_approver"`
	IsActive          bool       `json:"is_active"`
	MonthlyBudget     float64    `json:"monthly_budget,omitempty"`
	SpentThisMonth    float64    `json:"spent_this_month"`
	AlertState        AlertState `json:"alert_state"`
	CreatedAt         time.Time  `json:"created_at"`
	UpdatedAt         time.Time  `json:"updated_at"`
}

// Company owns rules, users and expenses; BaseCurrency is the currency
// rule thresholds are expressed in
type Company struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	BaseCurrency string    `json:"base_currency"`
	CreatedAt    time.Time `json:"created_at"`
}

// ApprovalHistory is one audit row per expense status transition
type ApprovalHistory struct {
	ID             int64     `json:"id"`
	ExpenseID      int64     `json:"expense_id"`
	ActorID        int64     `json:"actor_id"`
	ActionType     string    `json:"action_type"`
	PreviousStatus string    `json:"previous_status"`
	NewStatus      string    `json:"new_status"`
	StepSequence   int       `json:"step_sequence,omitempty"`
	Comments       string    `json:"comments,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// History action types
const (
	ActionTypeSubmit   = "SUBMIT"
	ActionTypeApprove  = "APPROVE"
	ActionTypeReject   = "REJECT"
	ActionTypeOverride = "OVERRIDE"
	ActionTypeCancel   = "CANCEL"
)
