package approval

import (
	"context"

	"github.com/calyxhq/expenseflow/internal/models"
)

// RuleSource provides read-only access to a company's approval rules.
// The engine never writes rules.
type RuleSource interface {
	ActiveRules(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error)
}

// Directory provides read-only access to user records
type Directory interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	ActiveByRole(ctx context.Context, companyID int64, role models.Role) ([]*models.User, error)
}
