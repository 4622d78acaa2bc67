package approval

import (
	"context"
	"fmt"
	"time"

	"github.com/calyxhq/expenseflow/internal/models"
	"go.uber.org/zap"
)

// Action is an approver's decision on an expense
type Action string

const (
	ActionApprove Action = "approve"
	ActionReject  Action = "reject"
)

// fallbackThreshold is the documented default applied when every step
// has been decided and no percentage rule settled the outcome. It is a
// policy constant, not rule configuration.
const fallbackThreshold = 50.0

const insufficientApprovalsComment = "Insufficient approvals"

// Outcome describes what a decision did to the expense
type Outcome struct {
	Step      *models.ApprovalStep // the step the decision touched
	Finalized bool
	Status    models.ExpenseStatus
}

// Evaluator applies individual approver decisions to an expense and
// computes the resulting expense-level state. It mutates the in-memory
// aggregate only; persistence is the caller's responsibility.
type Evaluator struct {
	rules     RuleSource
	directory Directory
	logger    *zap.Logger
	now       func() time.Time
}

// NewEvaluator creates a new decision evaluator
func NewEvaluator(rules RuleSource, directory Directory, logger *zap.Logger) *Evaluator {
	return &Evaluator{
		rules:     rules,
		directory: directory,
		logger:    logger,
		now:       time.Now,
	}
}

// Decide applies one approver's decision. Preconditions: the expense is
// pending, the actor matches the current approver, and the actor has a
// pending step in the sequence. Violations surface as errors, never as
// silent no-ops. Rule-lookup failures during evaluation are surfaced
// rather than treated as "no rule".
func (ev *Evaluator) Decide(ctx context.Context, e *models.Expense, actorID int64, action Action, comments string) (*Outcome, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if e.Status != models.ExpensePending {
		return nil, fmt.Errorf("%w: status %s", ErrNotPending, e.Status)
	}

	step := e.StepForApprover(actorID)
	if step == nil {
		return nil, fmt.Errorf("%w: user %d has no pending step on expense %d", ErrNotCurrentApprover, actorID, e.ID)
	}
	if e.CurrentApproverID != nil && *e.CurrentApproverID != actorID {
		return nil, fmt.Errorf("%w: expected user %d, got %d", ErrNotCurrentApprover, *e.CurrentApproverID, actorID)
	}
	if step.ApproverID == nil {
		if err := ev.checkDynamicEligibility(ctx, e, actorID); err != nil {
			return nil, err
		}
	}

	now := ev.now()
	step.Comments = comments
	if action == ActionReject {
		step.Status = models.StepRejected
		step.RejectedAt = &now
	} else {
		step.Status = models.StepApproved
		step.ApprovedAt = &now
	}

	// A single reject is always terminal regardless of remaining steps.
	if action == ActionReject {
		ev.finalizeRejected(e, actorID, comments, now)
		return &Outcome{Step: step, Finalized: true, Status: e.Status}, nil
	}

	rules, err := ev.rules.ActiveRules(ctx, e.CompanyID)
	if err != nil {
		return nil, fmt.Errorf("rule lookup failed while evaluating expense %d: %w", e.ID, err)
	}

	// Designated specific approvers finalize with a single approval,
	// bypassing any remaining pending steps.
	if approverDesignated(rules, actorID) {
		ev.logger.Info("Auto-approval by designated approver",
			zap.Int64("expense_id", e.ID),
			zap.Int64("approver_id", actorID))
		ev.finalizeApproved(e, actorID, comments, now)
		return &Outcome{Step: step, Finalized: true, Status: e.Status}, nil
	}

	if e.RequiredComplete() && percentageSatisfied(rules, e) {
		ev.finalizeApproved(e, actorID, comments, now)
		return &Outcome{Step: step, Finalized: true, Status: e.Status}, nil
	}

	if next := e.NextPendingStep(); next != nil {
		e.CurrentApproverID = next.ApproverID
		return &Outcome{Step: step, Finalized: false, Status: e.Status}, nil
	}

	// Every step decided, no percentage rule settled it: apply the
	// fallback threshold.
	if e.ApprovedRatio() >= fallbackThreshold && len(e.Steps) > 0 {
		ev.finalizeApproved(e, actorID, comments, now)
	} else {
		ev.finalizeRejected(e, actorID, insufficientApprovalsComment, now)
	}
	return &Outcome{Step: step, Finalized: true, Status: e.Status}, nil
}

// Override force-finalizes a pending expense, bypassing the sequence.
// Every still-pending step is marked overridden. Role checks belong to
// the caller; this only enforces aggregate invariants.
func (ev *Evaluator) Override(e *models.Expense, adminID int64, action Action, comments string) (*Outcome, error) {
	if action != ActionApprove && action != ActionReject {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	if e.Status != models.ExpensePending {
		return nil, fmt.Errorf("%w: status %s", ErrNotPending, e.Status)
	}

	now := ev.now()
	for i := range e.Steps {
		if e.Steps[i].Status == models.StepPending {
			e.Steps[i].Status = models.StepOverridden
			e.Steps[i].OverriddenAt = &now
		}
	}

	if action == ActionApprove {
		ev.finalizeApproved(e, adminID, comments, now)
	} else {
		ev.finalizeRejected(e, adminID, comments, now)
	}

	ev.logger.Info("Expense finalized by administrative override",
		zap.Int64("expense_id", e.ID),
		zap.Int64("admin_id", adminID),
		zap.String("status", string(e.Status)))

	return &Outcome{Finalized: true, Status: e.Status}, nil
}

// checkDynamicEligibility resolves the voter pool for dynamic steps:
// active managers and admins of the expense's company.
func (ev *Evaluator) checkDynamicEligibility(ctx context.Context, e *models.Expense, actorID int64) error {
	user, err := ev.directory.GetByID(ctx, actorID)
	if err != nil {
		return fmt.Errorf("failed to load user %d: %w", actorID, err)
	}
	if user == nil || !user.IsActive || user.CompanyID != e.CompanyID {
		return fmt.Errorf("%w: user %d", ErrNotEligible, actorID)
	}
	if user.Role != models.RoleManager && user.Role != models.RoleAdmin {
		return fmt.Errorf("%w: user %d has role %s", ErrNotEligible, actorID, user.Role)
	}
	return nil
}

// approverDesignated reports whether the actor is listed on any active
// specific_approver or hybrid rule of the company
func approverDesignated(rules []*models.ApprovalRule, actorID int64) bool {
	for _, r := range rules {
		if !r.IsActive {
			continue
		}
		if r.Type != models.RuleTypeSpecificApprover && r.Type != models.RuleTypeHybrid {
			continue
		}
		if r.ListsApprover(actorID) {
			return true
		}
	}
	return false
}

// percentageSatisfied checks every active percentage/hybrid rule of the
// company against approvedCount/totalSteps; comparisons are inclusive.
func percentageSatisfied(rules []*models.ApprovalRule, e *models.Expense) bool {
	if len(e.Steps) == 0 {
		return false
	}
	ratio := e.ApprovedRatio()
	for _, r := range rules {
		if !r.IsActive || r.Percentage <= 0 {
			continue
		}
		if r.Type != models.RuleTypePercentage && r.Type != models.RuleTypeHybrid {
			continue
		}
		if ratio >= float64(r.Percentage) {
			return true
		}
	}
	return false
}

func (ev *Evaluator) finalizeApproved(e *models.Expense, byID int64, comments string, t time.Time) {
	e.Status = models.ExpenseApproved
	e.CurrentApproverID = nil
	e.Final = &models.FinalApproval{
		ApprovedBy: &byID,
		ApprovedAt: &t,
		Comments:   comments,
	}
}

func (ev *Evaluator) finalizeRejected(e *models.Expense, byID int64, comments string, t time.Time) {
	e.Status = models.ExpenseRejected
	e.CurrentApproverID = nil
	e.Final = &models.FinalApproval{
		RejectedBy: &byID,
		RejectedAt: &t,
		Comments:   comments,
	}
}
