package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// ExpenseRepository handles expense and approval-step persistence
type ExpenseRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewExpenseRepository creates a new expense repository
func NewExpenseRepository(db *sql.DB, logger *zap.Logger) *ExpenseRepository {
	return &ExpenseRepository{db: db, logger: logger}
}

const expenseColumns = `
	id, company_id, employee_id, amount, currency, amount_company_currency,
	exchange_rate, category, expense_date, description, receipt_path, status,
	current_approver_id, final_approved_by, final_rejected_by,
	final_approved_at, final_rejected_at, final_comments, version,
	created_at, updated_at
`

// Create inserts a new expense together with its approval sequence
func (r *ExpenseRepository) Create(ctx context.Context, tx *sql.Tx, expense *models.Expense) error {
	query := `
		INSERT INTO expenses (
			company_id, employee_id, amount, currency, amount_company_currency,
			exchange_rate, category, expense_date, description, receipt_path,
			status, current_approver_id, version
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
	`

	result, err := tx.ExecContext(ctx, query,
		expense.CompanyID,
		expense.EmployeeID,
		expense.Amount,
		expense.Currency,
		expense.AmountCompanyCurrency,
		expense.ExchangeRate,
		expense.Category,
		expense.ExpenseDate,
		expense.Description,
		expense.ReceiptPath,
		expense.Status,
		expense.CurrentApproverID,
	)
	if err != nil {
		r.logger.Error("Failed to create expense", zap.Error(err))
		return fmt.Errorf("failed to create expense: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	expense.ID = id
	expense.Version = 1

	for i := range expense.Steps {
		step := &expense.Steps[i]
		step.ExpenseID = id
		if err := r.createStep(ctx, tx, step); err != nil {
			return err
		}
	}

	return nil
}

func (r *ExpenseRepository) createStep(ctx context.Context, tx *sql.Tx, step *models.ApprovalStep) error {
	query := `
		INSERT INTO approval_steps (
			expense_id, approver_id, sequence, is_required, rule_type,
			percentage, status, comments
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		step.ExpenseID,
		step.ApproverID,
		step.Sequence,
		step.IsRequired,
		step.RuleType,
		step.Percentage,
		step.Status,
		step.Comments,
	)
	if err != nil {
		r.logger.Error("Failed to create approval step",
			zap.Int64("expense_id", step.ExpenseID),
			zap.Int("sequence", step.Sequence),
			zap.Error(err))
		return fmt.Errorf("failed to create approval step: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	step.ID = id
	return nil
}

// GetByID retrieves an expense and its approval sequence. Returns
// (nil, nil) when the expense does not exist.
func (r *ExpenseRepository) GetByID(ctx context.Context, id int64) (*models.Expense, error) {
	query := `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

	expense, err := r.scanExpense(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get expense", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get expense: %w", err)
	}

	steps, err := r.loadSteps(ctx, id)
	if err != nil {
		return nil, err
	}
	expense.Steps = steps

	return expense, nil
}

// UpdateDecision persists the expense header and every approval step
// after a decision, override or cancellation. The write is guarded by a
// compare-and-swap on the version column: if the row changed since the
// read, no row matches and ErrVersionConflict is returned.
func (r *ExpenseRepository) UpdateDecision(ctx context.Context, tx *sql.Tx, expense *models.Expense) error {
	query := `
		UPDATE expenses SET
			status = ?,
			current_approver_id = ?,
			final_approved_by = ?,
			final_rejected_by = ?,
			final_approved_at = ?,
			final_rejected_at = ?,
			final_comments = ?,
			version = version + 1,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND version = ?
	`

	var approvedBy, rejectedBy interface{}
	var approvedAt, rejectedAt interface{}
	var finalComments string
	if expense.Final != nil {
		if expense.Final.ApprovedBy != nil {
			approvedBy = *expense.Final.ApprovedBy
		}
		if expense.Final.RejectedBy != nil {
			rejectedBy = *expense.Final.RejectedBy
		}
		if expense.Final.ApprovedAt != nil {
			approvedAt = *expense.Final.ApprovedAt
		}
		if expense.Final.RejectedAt != nil {
			rejectedAt = *expense.Final.RejectedAt
		}
		finalComments = expense.Final.Comments
	}

	result, err := tx.ExecContext(ctx, query,
		expense.Status,
		expense.CurrentApproverID,
		approvedBy,
		rejectedBy,
		approvedAt,
		rejectedAt,
		finalComments,
		expense.ID,
		expense.Version,
	)
	if err != nil {
		r.logger.Error("Failed to update expense", zap.Int64("id", expense.ID), zap.Error(err))
		return fmt.Errorf("failed to update expense: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		r.logger.Warn("Optimistic concurrency conflict on expense",
			zap.Int64("id", expense.ID),
			zap.Int64("version", expense.Version))
		return ErrVersionConflict
	}
	expense.Version++

	for i := range expense.Steps {
		if err := r.updateStep(ctx, tx, &expense.Steps[i]); err != nil {
			return err
		}
	}

	return nil
}

func (r *ExpenseRepository) updateStep(ctx context.Context, tx *sql.Tx, step *models.ApprovalStep) error {
	query := `
		UPDATE approval_steps SET
			status = ?, comments = ?, approved_at = ?, rejected_at = ?, overridden_at = ?
		WHERE id = ?
	`
	_, err := tx.ExecContext(ctx, query,
		step.Status,
		step.Comments,
		step.ApprovedAt,
		step.RejectedAt,
		step.OverriddenAt,
		step.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update approval step", zap.Int64("step_id", step.ID), zap.Error(err))
		return fmt.Errorf("failed to update approval step: %w", err)
	}
	return nil
}

// ListByCompany retrieves company expenses newest first with pagination
func (r *ExpenseRepository) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]*models.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses WHERE company_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, companyID, limit, offset)
}

// ListByEmployee retrieves one employee's expenses newest first
func (r *ExpenseRepository) ListByEmployee(ctx context.Context, employeeID int64, limit, offset int) ([]*models.Expense, error) {
	query := `SELECT ` + expenseColumns + `
		FROM expenses WHERE employee_id = ?
		ORDER BY created_at DESC LIMIT ? OFFSET ?`
	return r.list(ctx, query, employeeID, limit, offset)
}

func (r *ExpenseRepository) list(ctx context.Context, query string, args ...interface{}) ([]*models.Expense, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to list expenses", zap.Error(err))
		return nil, fmt.Errorf("failed to list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []*models.Expense
	for rows.Next() {
		expense, err := r.scanExpense(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan expense: %w", err)
		}
		expenses = append(expenses, expense)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, expense := range expenses {
		steps, err := r.loadSteps(ctx, expense.ID)
		if err != nil {
			return nil, err
		}
		expense.Steps = steps
	}

	return expenses, nil
}

func (r *ExpenseRepository) loadSteps(ctx context.Context, expenseID int64) ([]models.ApprovalStep, error) {
	query := `
		SELECT id, expense_id, approver_id, sequence, is_required, rule_type,
			percentage, status, comments, approved_at, rejected_at, overridden_at
		FROM approval_steps
		WHERE expense_id = ?
		ORDER BY sequence ASC
	`
	rows, err := r.db.QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to load approval steps", zap.Int64("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to load approval steps: %w", err)
	}
	defer rows.Close()

	var steps []models.ApprovalStep
	for rows.Next() {
		var step models.ApprovalStep
		var approverID sql.NullInt64
		var ruleType sql.NullString
		var approvedAt, rejectedAt, overriddenAt sql.NullTime

		err := rows.Scan(
			&step.ID,
			&step.ExpenseID,
			&approverID,
			&step.Sequence,
			&step.IsRequired,
			&ruleType,
			&step.Percentage,
			&step.Status,
			&step.Comments,
			&approvedAt,
			&rejectedAt,
			&overriddenAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan approval step: %w", err)
		}

		if approverID.Valid {
			step.ApproverID = &approverID.Int64
		}
		if ruleType.Valid {
			step.RuleType = models.RuleType(ruleType.String)
		}
		if approvedAt.Valid {
			step.ApprovedAt = &approvedAt.Time
		}
		if rejectedAt.Valid {
			step.RejectedAt = &rejectedAt.Time
		}
		if overriddenAt.Valid {
			step.OverriddenAt = &overriddenAt.Time
		}

		steps = append(steps, step)
	}

	return steps, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ExpenseRepository) scanExpense(row rowScanner) (*models.Expense, error) {
	var expense models.Expense
	var currentApprover, approvedBy, rejectedBy sql.NullInt64
	var approvedAt, rejectedAt sql.NullTime
	var finalComments sql.NullString

	err := row.Scan(
		&expense.ID,
		&expense.CompanyID,
		&expense.EmployeeID,
		&expense.Amount,
		&expense.Currency,
		&expense.AmountCompanyCurrency,
		&expense.ExchangeRate,
		&expense.Category,
		&expense.ExpenseDate,
		&expense.Description,
		&expense.ReceiptPath,
		&expense.Status,
		&currentApprover,
		&approvedBy,
		&rejectedBy,
		&approvedAt,
		&rejectedAt,
		&finalComments,
		&expense.Version,
		&expense.CreatedAt,
		&expense.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if currentApprover.Valid {
		expense.CurrentApproverID = &currentApprover.Int64
	}
	if approvedBy.Valid || rejectedBy.Valid {
		final := &models.FinalApproval{Comments: finalComments.String}
		if approvedBy.Valid {
			final.ApprovedBy = &approvedBy.Int64
		}
		if rejectedBy.Valid {
			final.RejectedBy = &rejectedBy.Int64
		}
		if approvedAt.Valid {
			final.ApprovedAt = &approvedAt.Time
		}
		if rejectedAt.Valid {
			final.RejectedAt = &rejectedAt.Time
		}
		expense.Final = final
	}

	return &expense, nil
}
