package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// CompanyRepository handles company persistence
type CompanyRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewCompanyRepository creates a new company repository
func NewCompanyRepository(db *sql.DB, logger *zap.Logger) *CompanyRepository {
	return &CompanyRepository{db: db, logger: logger}
}

// Create inserts a new company
func (r *CompanyRepository) Create(ctx context.Context, company *models.Company) error {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO companies (name, base_currency) VALUES (?, ?)`,
		company.Name, company.BaseCurrency)
	if err != nil {
		r.logger.Error("Failed to create company", zap.String("name", company.Name), zap.Error(err))
		return fmt.Errorf("failed to create company: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	company.ID = id
	return nil
}

// GetByID retrieves a company; (nil, nil) when missing
func (r *CompanyRepository) GetByID(ctx context.Context, id int64) (*models.Company, error) {
	var company models.Company
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, base_currency, created_at FROM companies WHERE id = ?`, id).
		Scan(&company.ID, &company.Name, &company.BaseCurrency, &company.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		r.logger.Error("Failed to get company", zap.Int64("id", id), zap.Error(err))
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return &company, nil
}
