package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// RuleRepository handles approval rule persistence. The approval engine
// only ever reads rules; writes come from admin actions.
type RuleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *sql.DB, logger *zap.Logger) *RuleRepository {
	return &RuleRepository{db: db, logger: logger}
}

// Create inserts a rule and its configured approvers
func (r *RuleRepository) Create(ctx context.Context, tx *sql.Tx, rule *models.ApprovalRule) error {
	categories, err := json.Marshal(rule.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	query := `
		INSERT INTO approval_rules (
			company_id, name, rule_type, percentage, amount_min, amount_max,
			categories, priority, is_active
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	result, err := tx.ExecContext(ctx, query,
		rule.CompanyID,
		rule.Name,
		rule.Type,
		rule.Percentage,
		rule.AmountMin,
		rule.AmountMax,
		string(categories),
		rule.Priority,
		rule.IsActive,
	)
	if err != nil {
		r.logger.Error("Failed to create rule", zap.Error(err))
		return fmt.Errorf("failed to create rule: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	rule.ID = id

	for _, a := range rule.Approvers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rule_approvers (rule_id, user_id, sequence, is_required) VALUES (?, ?, ?, ?)`,
			id, a.UserID, a.Sequence, a.IsRequired,
		)
		if err != nil {
			r.logger.Error("Failed to create rule approver",
				zap.Int64("rule_id", id),
				zap.Int64("user_id", a.UserID),
				zap.Error(err))
			return fmt.Errorf("failed to create rule approver: %w", err)
		}
	}

	return nil
}

// GetByID retrieves a rule with its approvers; (nil, nil) when missing
func (r *RuleRepository) GetByID(ctx context.Context, id int64) (*models.ApprovalRule, error) {
	rules, err := r.query(ctx, `WHERE id = ?`, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, nil
	}
	return rules[0], nil
}

// ActiveRules returns the active rules of a company. This is the read
// the sequence builder and decision evaluator run on every operation.
func (r *RuleRepository) ActiveRules(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error) {
	return r.query(ctx, `WHERE company_id = ? AND is_active = 1 ORDER BY priority DESC, created_at ASC, id ASC`, companyID)
}

// ListByCompany returns all rules of a company, active or not
func (r *RuleRepository) ListByCompany(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error) {
	return r.query(ctx, `WHERE company_id = ? ORDER BY priority DESC, created_at ASC`, companyID)
}

// Update rewrites a rule's configuration and replaces its approver list
func (r *RuleRepository) Update(ctx context.Context, tx *sql.Tx, rule *models.ApprovalRule) error {
	categories, err := json.Marshal(rule.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	query := `
		UPDATE approval_rules SET
			name = ?, rule_type = ?, percentage = ?, amount_min = ?,
			amount_max = ?, categories = ?, priority = ?, is_active = ?,
			updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query,
		rule.Name,
		rule.Type,
		rule.Percentage,
		rule.AmountMin,
		rule.AmountMax,
		string(categories),
		rule.Priority,
		rule.IsActive,
		rule.ID,
	)
	if err != nil {
		r.logger.Error("Failed to update rule", zap.Int64("id", rule.ID), zap.Error(err))
		return fmt.Errorf("failed to update rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM rule_approvers WHERE rule_id = ?`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear rule approvers: %w", err)
	}
	for _, a := range rule.Approvers {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO rule_approvers (rule_id, user_id, sequence, is_required) VALUES (?, ?, ?, ?)`,
			rule.ID, a.UserID, a.Sequence, a.IsRequired,
		)
		if err != nil {
			return fmt.Errorf("failed to create rule approver: %w", err)
		}
	}

	return nil
}

// Deactivate soft-deletes a rule
func (r *RuleRepository) Deactivate(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE approval_rules SET is_active = 0, updated_at = CURRENT_TIMESTAMP WHERE id = ?`, id)
	if err != nil {
		r.logger.Error("Failed to deactivate rule", zap.Int64("id", id), zap.Error(err))
		return fmt.Errorf("failed to deactivate rule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *RuleRepository) query(ctx context.Context, where string, args ...interface{}) ([]*models.ApprovalRule, error) {
	query := `
		SELECT id, company_id, name, rule_type, percentage, amount_min,
			amount_max, categories, priority, is_active, created_at, updated_at
		FROM approval_rules ` + where

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		r.logger.Error("Failed to query rules", zap.Error(err))
		return nil, fmt.Errorf("failed to query rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.ApprovalRule
	for rows.Next() {
		var rule models.ApprovalRule
		var amountMin, amountMax sql.NullFloat64
		var categories string

		err := rows.Scan(
			&rule.ID,
			&rule.CompanyID,
			&rule.Name,
			&rule.Type,
			&rule.Percentage,
			&amountMin,
			&amountMax,
			&categories,
			&rule.Priority,
			&rule.IsActive,
			&rule.CreatedAt,
			&rule.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}

		if amountMin.Valid {
			rule.AmountMin = &amountMin.Float64
		}
		if amountMax.Valid {
			rule.AmountMax = &amountMax.Float64
		}
		if categories != "" {
			if err := json.Unmarshal([]byte(categories), &rule.Categories); err != nil {
				return nil, fmt.Errorf("failed to unmarshal categories for rule %d: %w", rule.ID, err)
			}
		}

		rules = append(rules, &rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, rule := range rules {
		approvers, err := r.loadApprovers(ctx, rule.ID)
		if err != nil {
			return nil, err
		}
		rule.Approvers = approvers
	}

	return rules, nil
}

func (r *RuleRepository) loadApprovers(ctx context.Context, ruleID int64) ([]models.RuleApprover, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT user_id, sequence, is_required FROM rule_approvers WHERE rule_id = ? ORDER BY sequence ASC, id ASC`,
		ruleID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rule approvers: %w", err)
	}
	defer rows.Close()

	var approvers []models.RuleApprover
	for rows.Next() {
		var a models.RuleApprover
		if err := rows.Scan(&a.UserID, &a.Sequence, &a.IsRequired); err != nil {
			return nil, fmt.Errorf("failed to scan rule approver: %w", err)
		}
		approvers = append(approvers, a)
	}
	return approvers, rows.Err()
}
