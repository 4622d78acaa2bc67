package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// UserRepository handles user directory persistence
type UserRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewUserRepository creates a new user repository
func NewUserRepository(db *sql.DB, logger *zap.Logger) *UserRepository {
	return &UserRepository{db: db, logger: logger}
}

const userColumns = `
	id, company_id, name, email, role, manager_id, is_manager_approver,
	is_active, monthly_budget, spent_this_month, alert_state,
	created_at, updated_at
`

// Create inserts a new user
func (r *UserRepository) Create(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO users (
			company_id, name, email, role, manager_id, is_manager_approver,
			is_active, monthly_budget, spent_this_month, alert_state
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := r.db.ExecContext(ctx, query,
		user.CompanyID,
		user.Name,
		user.Email,
		user.Role,
		user.ManagerID,
		user.IsManagerApprover,
		user.IsActive,
		user.MonthlyBudget,
		user.SpentThisMonth,
		user.AlertState,
	)
	if err != nil {
		r.logger.Error("Failed to create user", zap.String("email", user.Email), zap.Error(err))
		return fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	user.ID = id
	return nil
}

// GetByID retrieves a user; (nil, nil) when missing
func (r *UserRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = ?`

	user, err := r.scanUser(r.db.QueryRowContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get user", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// ActiveByRole lists a company's active users holding the given role,
// oldest account first so fallback approver selection is stable
func (r *UserRepository) ActiveByRole(ctx context.Context, companyID int64, role models.Role) ([]*models.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users WHERE company_id = ? AND role = ? AND is_active = 1
		ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, companyID, role)
	if err != nil {
		r.logger.Error("Failed to list users by role",
			zap.Int64("company_id", companyID),
			zap.String("role", string(role)),
			zap.Error(err))
		return nil, fmt.Errorf("failed to list users by role: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// ListByCompany lists every user of a company
func (r *UserRepository) ListByCompany(ctx context.Context, companyID int64) ([]*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE company_id = ? ORDER BY id ASC`

	rows, err := r.db.QueryContext(ctx, query, companyID)
	if err != nil {
		r.logger.Error("Failed to list users", zap.Int64("company_id", companyID), zap.Error(err))
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	return r.collect(rows)
}

// UpdateBudgetState persists a user's running spend and alert state
func (r *UserRepository) UpdateBudgetState(ctx context.Context, tx *sql.Tx, id int64, spent float64, state models.AlertState) error {
	query := `UPDATE users SET spent_this_month = ?, alert_state = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?`

	var err error
	if tx != nil {
		_, err = tx.ExecContext(ctx, query, spent, state, id)
	} else {
		_, err = r.db.ExecContext(ctx, query, spent, state, id)
	}
	if err != nil {
		r.logger.Error("Failed to update budget state", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to update budget state: %w", err)
	}
	return nil
}

func (r *UserRepository) collect(rows *sql.Rows) ([]*models.User, error) {
	var users []*models.User
	for rows.Next() {
		user, err := r.scanUser(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (r *UserRepository) scanUser(row rowScanner) (*models.User, error) {
	var user models.User
	var managerID sql.NullInt64

	err := row.Scan(
		&user.ID,
		&user.CompanyID,
		&user.Name,
		&user.Email,
		&user.Role,
		&managerID,
		&user.IsManagerApprover,
		&user.IsActive,
		&user.MonthlyBudget,
		&user.SpentThisMonth,
		&user.AlertState,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if managerID.Valid {
		user.ManagerID = &managerID.Int64
	}
	return &user, nil
}
