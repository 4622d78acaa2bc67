package models

import "time"

// RuleType identifies the approval strategy a rule configures
type RuleType string

const (
	RuleTypePercentage       RuleType = "percentage"
	RuleTypeSpecificApprover RuleType = "specific_approver"
	RuleTypeHybrid           RuleType = "hybrid"
	RuleTypeSequential       RuleType = "sequential"
)

// IsValid returns true for a known rule type
func (t RuleType) IsValid() bool {
	switch t {
	case RuleTypePercentage, RuleTypeSpecificApprover, RuleTypeHybrid, RuleTypeSequential:
		return true
	}
	return false
}

// RuleApprover is one configured approver on a rule
type RuleApprover struct {
	UserID     int64 `json:"user_id"`
	Sequence   int   `json:"sequence"`
	IsRequired bool  `json:"is_required"`
}

// ApprovalRule is a company-level approval configuration record.
// Rules are edited only through admin actions and soft-deleted via IsActive.
type ApprovalRule struct {
	ID         int64          `json:"id"`
	CompanyID  int64          `json:"company_id"`
	Name       string         `json:"name"`
	Type       RuleType       `json:"type"`
	Percentage int            `json:"percentage,omitempty"` // 1-100, percentage and hybrid rules
	Approvers  []RuleApprover `json:"approvers,omitempty"`
	AmountMin  *float64       `json:"amount_min,omitempty"` // company currency, inclusive
	AmountMax  *float64       `json:"amount_max,omitempty"` // company currency, exclusive
	Categories []string       `json:"categories,omitempty"` // empty = all categories
	Priority   int            `json:"priority"`
	IsActive   bool           `json:"is_active"`
	CreatedAt  time.Time      `json:"created_at"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// Matches reports whether the rule applies to an expense amount
// (in company currency) and category. The amount range is half-open:
// [AmountMin, AmountMax). A nil bound is unbounded; an empty category
// list matches every category.
func (r *ApprovalRule) Matches(amount float64, category string) bool {
	if r.AmountMin != nil && amount < *r.AmountMin {
		return false
	}
	if r.AmountMax != nil && amount >= *r.AmountMax {
		return false
	}
	if len(r.Categories) == 0 {
		return true
	}
	for _, c := range r.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// ListsApprover reports whether userID is one of the rule's configured approvers
func (r *ApprovalRule) ListsApprover(userID int64) bool {
	for _, a := range r.Approvers {
		if a.UserID == userID {
			return true
		}
	}
	return false
}
