package approval

import (
	"context"
	"fmt"
	"sort"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// SequenceBuilder materializes the approval sequence for a newly
// submitted expense. Rule lookup failures and no-match both degrade to
// the default manager/admin sequence; only directory failures propagate.
type SequenceBuilder struct {
	rules     RuleSource
	directory Directory
	logger    *zap.Logger
}

// NewSequenceBuilder creates a new sequence builder
func NewSequenceBuilder(rules RuleSource, directory Directory, logger *zap.Logger) *SequenceBuilder {
	return &SequenceBuilder{
		rules:     rules,
		directory: directory,
		logger:    logger,
	}
}

// Build produces the initial approval sequence for an expense. The
// returned slice may be empty, meaning nobody can approve; the caller
// must treat that as a manual-intervention state rather than persisting
// the expense.
func (b *SequenceBuilder) Build(ctx context.Context, expense *models.Expense) ([]models.ApprovalStep, error) {
	rules, err := b.rules.ActiveRules(ctx, expense.CompanyID)
	if err != nil {
		b.logger.Warn("Rule lookup failed, falling back to default sequence",
			zap.Int64("company_id", expense.CompanyID),
			zap.Error(err))
		return b.defaultSequence(ctx, expense)
	}

	rule := SelectRule(rules, expense.AmountCompanyCurrency, expense.Category)
	if rule == nil {
		return b.defaultSequence(ctx, expense)
	}

	steps := buildFromRule(rule)
	b.logger.Info("Built approval sequence from rule",
		zap.Int64("company_id", expense.CompanyID),
		zap.Int64("rule_id", rule.ID),
		zap.String("rule_type", string(rule.Type)),
		zap.Int("steps", len(steps)))

	return steps, nil
}

// buildFromRule materializes steps per rule type:
//
//	sequential        one step per approver in configured order
//	specific_approver one required step per listed approver
//	percentage        one dynamic step carrying the threshold
//	hybrid            specific steps followed by a dynamic percentage step
func buildFromRule(rule *models.ApprovalRule) []models.ApprovalStep {
	var steps []models.ApprovalStep

	switch rule.Type {
	case models.RuleTypeSequential:
		approvers := append([]models.RuleApprover(nil), rule.Approvers...)
		sort.SliceStable(approvers, func(i, j int) bool {
			return approvers[i].Sequence < approvers[j].Sequence
		})
		for i, a := range approvers {
			id := a.UserID
			steps = append(steps, models.ApprovalStep{
				ApproverID: &id,
				Sequence:   i + 1,
				IsRequired: a.IsRequired,
				RuleType:   rule.Type,
				Status:     models.StepPending,
			})
		}

	case models.RuleTypeSpecificApprover:
		for i, a := range rule.Approvers {
			id := a.UserID
			steps = append(steps, models.ApprovalStep{
				ApproverID: &id,
				Sequence:   i + 1,
				IsRequired: true,
				RuleType:   rule.Type,
				Status:     models.StepPending,
			})
		}

	case models.RuleTypePercentage:
		steps = append(steps, dynamicStep(1, rule))

	case models.RuleTypeHybrid:
		for i, a := range rule.Approvers {
			id := a.UserID
			steps = append(steps, models.ApprovalStep{
				ApproverID: &id,
				Sequence:   i + 1,
				IsRequired: true,
				RuleType:   rule.Type,
				Status:     models.StepPending,
			})
		}
		steps = append(steps, dynamicStep(len(rule.Approvers)+1, rule))
	}

	return steps
}

// dynamicStep is a percentage step with no fixed approver; the voter
// pool is resolved at decision time
func dynamicStep(sequence int, rule *models.ApprovalRule) models.ApprovalStep {
	return models.ApprovalStep{
		ApproverID: nil,
		Sequence:   sequence,
		IsRequired: false,
		RuleType:   rule.Type,
		Percentage: rule.Percentage,
		Status:     models.StepPending,
	}
}

// defaultSequence resolves the fallback chain: the employee's direct
// manager when flagged as approver, else any active manager in the
// company, else any active admin, else empty.
func (b *SequenceBuilder) defaultSequence(ctx context.Context, expense *models.Expense) ([]models.ApprovalStep, error) {
	approverID, err := b.defaultApprover(ctx, expense)
	if err != nil {
		return nil, err
	}
	if approverID == nil {
		b.logger.Warn("No default approver found for expense",
			zap.Int64("company_id", expense.CompanyID),
			zap.Int64("employee_id", expense.EmployeeID))
		return nil, nil
	}

	return []models.ApprovalStep{{
		ApproverID: approverID,
		Sequence:   1,
		IsRequired: true,
		Status:     models.StepPending,
	}}, nil
}

func (b *SequenceBuilder) defaultApprover(ctx context.Context, expense *models.Expense) (*int64, error) {
	employee, err := b.directory.GetByID(ctx, expense.EmployeeID)
	if err != nil {
		return nil, fmt.Errorf("failed to load employee %d: %w", expense.EmployeeID, err)
	}

	if employee != nil && employee.ManagerID != nil {
		manager, err := b.directory.GetByID(ctx, *employee.ManagerID)
		if err != nil {
			return nil, fmt.Errorf("failed to load manager %d: %w", *employee.ManagerID, err)
		}
		if manager != nil && manager.IsActive && manager.IsManagerApprover {
			return &manager.ID, nil
		}
	}

	managers, err := b.directory.ActiveByRole(ctx, expense.CompanyID, models.RoleManager)
	if err != nil {
		return nil, fmt.Errorf("failed to list managers: %w", err)
	}
	if len(managers) > 0 {
		return &managers[0].ID, nil
	}

	admins, err := b.directory.ActiveByRole(ctx, expense.CompanyID, models.RoleAdmin)
	if err != nil {
		return nil, fmt.Errorf("failed to list admins: %w", err)
	}
	if len(admins) > 0 {
		return &admins[0].ID, nil
	}

	return nil, nil
}

// CurrentApprover returns the approver of the first step, or nil when
// the sequence is empty or starts with a dynamic step
func CurrentApprover(steps []models.ApprovalStep) *int64 {
	if len(steps) == 0 {
		return nil
	}
	return steps[0].ApproverID
}
