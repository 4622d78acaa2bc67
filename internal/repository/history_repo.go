package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// HistoryRepository records one audit row per expense status transition
type HistoryRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewHistoryRepository creates a new history repository
func NewHistoryRepository(db *sql.DB, logger *zap.Logger) *HistoryRepository {
	return &HistoryRepository{db: db, logger: logger}
}

// Create inserts an audit record
func (r *HistoryRepository) Create(ctx context.Context, tx *sql.Tx, h *models.ApprovalHistory) error {
	query := `
		INSERT INTO approval_history (
			expense_id, actor_id, action_type, previous_status, new_status,
			step_sequence, comments
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	var result sql.Result
	var err error
	if tx != nil {
		result, err = tx.ExecContext(ctx, query,
			h.ExpenseID, h.ActorID, h.ActionType, h.PreviousStatus, h.NewStatus, h.StepSequence, h.Comments)
	} else {
		result, err = r.db.ExecContext(ctx, query,
			h.ExpenseID, h.ActorID, h.ActionType, h.PreviousStatus, h.NewStatus, h.StepSequence, h.Comments)
	}
	if err != nil {
		r.logger.Error("Failed to create history record", zap.Int64("expense_id", h.ExpenseID), zap.Error(err))
		return fmt.Errorf("failed to create history record: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	h.ID = id
	return nil
}

// ListByExpense returns an expense's audit trail oldest first
func (r *HistoryRepository) ListByExpense(ctx context.Context, expenseID int64) ([]*models.ApprovalHistory, error) {
	query := `
		SELECT id, expense_id, actor_id, action_type, previous_status,
			new_status, step_sequence, comments, created_at
		FROM approval_history
		WHERE expense_id = ?
		ORDER BY id ASC
	`
	rows, err := r.db.QueryContext(ctx, query, expenseID)
	if err != nil {
		r.logger.Error("Failed to list history", zap.Int64("expense_id", expenseID), zap.Error(err))
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()

	var records []*models.ApprovalHistory
	for rows.Next() {
		var h models.ApprovalHistory
		err := rows.Scan(
			&h.ID,
			&h.ExpenseID,
			&h.ActorID,
			&h.ActionType,
			&h.PreviousStatus,
			&h.NewStatus,
			&h.StepSequence,
			&h.Comments,
			&h.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history record: %w", err)
		}
		records = append(records, &h)
	}
	return records, rows.Err()
}
