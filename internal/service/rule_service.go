package service

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"github.com/calyxhq/expenseflow/internal/models"
)

// RuleStore is the persistence surface the service needs for rules
type RuleStore interface {
	Create(ctx context.Context, tx *sql.Tx, rule *models.ApprovalRule) error
	GetByID(ctx context.Context, id int64) (*models.ApprovalRule, error)
	ListByCompany(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error)
	Update(ctx context.Context, tx *sql.Tx, rule *models.ApprovalRule) error
	Deactivate(ctx context.Context, id int64) error
}

// RuleService validates and manages approval rule configuration. Rule
// changes never rewrite sequences already materialized on pending
// expenses; they only affect future submissions.
type RuleService struct {
	tx     TxRunner
	rules  RuleStore
	logger *zap.Logger
}

// NewRuleService creates a new rule service
func NewRuleService(tx TxRunner, rules RuleStore, logger *zap.Logger) *RuleService {
	return &RuleService{tx: tx, rules: rules, logger: logger}
}

// Create validates and persists a new rule
func (s *RuleService) Create(ctx context.Context, rule *models.ApprovalRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	rule.IsActive = true

	err := s.tx.WithTransaction(func(tx *sql.Tx) error {
		return s.rules.Create(ctx, tx, rule)
	})
	if err != nil {
		return err
	}

	s.logger.Info("Approval rule created",
		zap.Int64("rule_id", rule.ID),
		zap.Int64("company_id", rule.CompanyID),
		zap.String("type", string(rule.Type)))
	return nil
}

// Get retrieves one rule with its approver list
func (s *RuleService) Get(ctx context.Context, id int64) (*models.ApprovalRule, error) {
	rule, err := s.rules.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("%w: %d", ErrRuleNotFound, id)
	}
	return rule, nil
}

// ListByCompany retrieves every rule of a company, active or not
func (s *RuleService) ListByCompany(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error) {
	return s.rules.ListByCompany(ctx, companyID)
}

// Update validates and rewrites an existing rule
func (s *RuleService) Update(ctx context.Context, rule *models.ApprovalRule) error {
	if err := validateRule(rule); err != nil {
		return err
	}
	return s.tx.WithTransaction(func(tx *sql.Tx) error {
		return s.rules.Update(ctx, tx, rule)
	})
}

// Deactivate soft-deletes a rule so it no longer matches new expenses
func (s *RuleService) Deactivate(ctx context.Context, id int64) error {
	if err := s.rules.Deactivate(ctx, id); err != nil {
		return err
	}
	s.logger.Info("Approval rule deactivated", zap.Int64("rule_id", id))
	return nil
}

func validateRule(rule *models.ApprovalRule) error {
	if rule.CompanyID <= 0 {
		return fmt.Errorf("%w: company_id is required", ErrInvalidRule)
	}
	if rule.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidRule)
	}
	if !rule.Type.IsValid() {
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, rule.Type)
	}

	switch rule.Type {
	case models.RuleTypePercentage:
		if rule.Percentage < 1 || rule.Percentage > 100 {
			return fmt.Errorf("%w: percentage must be between 1 and 100", ErrInvalidRule)
		}
	case models.RuleTypeSpecificApprover, models.RuleTypeSequential:
		if len(rule.Approvers) == 0 {
			return fmt.Errorf("%w: %s rules need at least one approver", ErrInvalidRule, rule.Type)
		}
	case models.RuleTypeHybrid:
		if len(rule.Approvers) == 0 {
			return fmt.Errorf("%w: hybrid rules need at least one approver", ErrInvalidRule)
		}
		if rule.Percentage < 1 || rule.Percentage > 100 {
			return fmt.Errorf("%w: percentage must be between 1 and 100", ErrInvalidRule)
		}
	}

	if rule.AmountMin != nil && *rule.AmountMin < 0 {
		return fmt.Errorf("%w: amount_min must not be negative", ErrInvalidRule)
	}
	if rule.AmountMin != nil && rule.AmountMax != nil && *rule.AmountMax <= *rule.AmountMin {
		return fmt.Errorf("%w: amount_max must be greater than amount_min", ErrInvalidRule)
	}

	return nil
}
