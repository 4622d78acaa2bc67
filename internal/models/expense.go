package models

import "time"

// ExpenseStatus is the expense-level lifecycle state
type ExpenseStatus string

const (
	ExpensePending   ExpenseStatus = "pending"
	ExpenseApproved  ExpenseStatus = "approved"
	ExpenseRejected  ExpenseStatus = "rejected"
	ExpenseCancelled ExpenseStatus = "cancelled" // employee-initiated, terminal
)

// IsTerminal returns true once no further approval action is possible
func (s ExpenseStatus) IsTerminal() bool {
	return s == ExpenseApproved || s == ExpenseRejected || s == ExpenseCancelled
}

// StepStatus is the per-step decision state
type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepApproved   StepStatus = "approved"
	StepRejected   StepStatus = "rejected"
	StepOverridden StepStatus = "overridden"
)

// ApprovalStep is one entry in an expense's approval sequence.
// A nil ApproverID marks a dynamic step whose voter pool is resolved
// at decision time (pure percentage and hybrid percentage steps).
// Once Status leaves pending it never reverts.
type ApprovalStep struct {
	ID           int64      `json:"id"`
	ExpenseID    int64      `json:"expense_id"`
	ApproverID   *int64     `json:"approver_id,omitempty"`
	Sequence     int        `json:"sequence"` // 1-based
	IsRequired   bool       `json:"is_required"`
	RuleType     RuleType   `json:"rule_type"`
	Percentage   int        `json:"percentage,omitempty"` // dynamic steps only
	Status       StepStatus `json:"status"`
	Comments     string     `json:"comments,omitempty"`
	ApprovedAt   *time.Time `json:"approved_at,omitempty"`
	RejectedAt   *time.Time `json:"rejected_at,omitempty"`
	OverriddenAt *time.Time `json:"overridden_at,omitempty"`
}

// FinalApproval records the terminal decision, set exactly once
type FinalApproval struct {
	ApprovedBy *int64     `json:"approved_by,omitempty"`
	RejectedBy *int64     `json:"rejected_by,omitempty"`
	ApprovedAt *time.Time `json:"approved_at,omitempty"`
	RejectedAt *time.Time `json:"rejected_at,omitempty"`
	Comments   string     `json:"final_comments,omitempty"`
}

// Expense is the aggregate root the approval engine operates on
type Expense struct {
	ID                    int64          `json:"id"`
	CompanyID             int64          `json:"company_id"`
	EmployeeID            int64          `json:"employee_id"`
	Amount                float64        `json:"amount"`
	Currency              string         `json:"currency"`
	AmountCompanyCurrency float64        `json:"amount_company_currency"`
	ExchangeRate          float64        `json:"exchange_rate"`
	Category              string         `json:"category"`
	ExpenseDate           time.Time      `json:"expense_date"`
	Description           string         `json:"description"`
	ReceiptPath           string         `json:"receipt_path,omitempty"`
	Status                ExpenseStatus  `json:"status"`
	Steps                 []ApprovalStep `json:"approval_sequence"`
	CurrentApproverID     *int64         `json:"current_approver_id,omitempty"`
	Final                 *FinalApproval `json:"final_approval,omitempty"`
	Version               int64          `json:"version"`
	CreatedAt             time.Time      `json:"created_at"`
	UpdatedAt             time.Time      `json:"updated_at"`
}

// StepForApprover returns the first pending step the given user may act
// on: either a step assigned to that user, or a dynamic step (nil
// approver). Returns nil when no such step exists.
func (e *Expense) StepForApprover(userID int64) *ApprovalStep {
	for i := range e.Steps {
		s := &e.Steps[i]
		if s.Status != StepPending {
			continue
		}
		if s.ApproverID == nil || *s.ApproverID == userID {
			return s
		}
	}
	return nil
}

// NextPendingStep returns the pending step with the lowest sequence, or nil
func (e *Expense) NextPendingStep() *ApprovalStep {
	var next *ApprovalStep
	for i := range e.Steps {
		s := &e.Steps[i]
		if s.Status != StepPending {
			continue
		}
		if next == nil || s.Sequence < next.Sequence {
			next = s
		}
	}
	return next
}

// ApprovedStepCount returns the number of steps marked approved
func (e *Expense) ApprovedStepCount() int {
	n := 0
	for i := range e.Steps {
		if e.Steps[i].Status == StepApproved {
			n++
		}
	}
	return n
}

// RequiredComplete reports whether every required step has left pending
func (e *Expense) RequiredComplete() bool {
	for i := range e.Steps {
		if e.Steps[i].IsRequired && e.Steps[i].Status == StepPending {
			return false
		}
	}
	return true
}

// ApprovedRatio returns approved steps over total steps as a percentage.
// A zero-length sequence yields 0 so callers never divide by zero.
func (e *Expense) ApprovedRatio() float64 {
	if len(e.Steps) == 0 {
		return 0
	}
	return float64(e.ApprovedStepCount()) / float64(len(e.Steps)) * 100
}
