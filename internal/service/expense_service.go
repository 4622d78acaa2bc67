package service

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/calyxhq/expenseflow/internal/approval"
	"github.com/calyxhq/expenseflow/internal/budget"
	"github.com/calyxhq/expenseflow/internal/currency"
	"github.com/calyxhq/expenseflow/internal/models"
	"github.com/calyxhq/expenseflow/internal/notify"
)

// TxRunner executes a function within a database transaction
type TxRunner interface {
	WithTransaction(fn func(*sql.Tx) error) error
}

// ExpenseStore is the persistence surface the service needs for expenses
type ExpenseStore interface {
	Create(ctx context.Context, tx *sql.Tx, expense *models.Expense) error
	GetByID(ctx context.Context, id int64) (*models.Expense, error)
	UpdateDecision(ctx context.Context, tx *sql.Tx, expense *models.Expense) error
	ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]*models.Expense, error)
	ListByEmployee(ctx context.Context, employeeID int64, limit, offset int) ([]*models.Expense, error)
}

// UserStore resolves directory records and persists budget state
type UserStore interface {
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpdateBudgetState(ctx context.Context, tx *sql.Tx, id int64, spent float64, state models.AlertState) error
}

// CompanyStore resolves companies
type CompanyStore interface {
	GetByID(ctx context.Context, id int64) (*models.Company, error)
}

// HistoryStore persists and reads the audit trail
type HistoryStore interface {
	Create(ctx context.Context, tx *sql.Tx, h *models.ApprovalHistory) error
	ListByExpense(ctx context.Context, expenseID int64) ([]*models.ApprovalHistory, error)
}

// eventSink decouples the service from the dispatcher for tests
type eventSink interface {
	Enqueue(event notify.Event)
}

// SubmitRequest carries the input for a new expense submission
type SubmitRequest struct {
	EmployeeID  int64
	Amount      float64
	Currency    string
	Category    string
	ExpenseDate time.Time
	Description string
	ReceiptPath string
}

// BulkResult reports the outcome of one expense in a bulk decision.
// Expenses fail or succeed independently; one conflict never aborts the
// rest of the batch.
type BulkResult struct {
	ExpenseID int64           `json:"expense_id"`
	Status    string          `json:"status,omitempty"`
	Expense   *models.Expense `json:"-"`
	Err       error           `json:"-"`
	Error     string          `json:"error,omitempty"`
}

// ExpenseService coordinates submission, decisions, overrides and
// cancellation. All state transitions are persisted through the version
// guard on the expense row, so two racing decisions cannot both win.
type ExpenseService struct {
	tx        TxRunner
	expenses  ExpenseStore
	users     UserStore
	companies CompanyStore
	history   HistoryStore
	builder   *approval.SequenceBuilder
	evaluator *approval.Evaluator
	converter *currency.Converter
	events    eventSink
	logger    *zap.Logger
}

// NewExpenseService creates a new expense service
func NewExpenseService(
	tx TxRunner,
	expenses ExpenseStore,
	users UserStore,
	companies CompanyStore,
	history HistoryStore,
	builder *approval.SequenceBuilder,
	evaluator *approval.Evaluator,
	converter *currency.Converter,
	events eventSink,
	logger *zap.Logger,
) *ExpenseService {
	return &ExpenseService{
		tx:        tx,
		expenses:  expenses,
		users:     users,
		companies: companies,
		history:   history,
		builder:   builder,
		evaluator: evaluator,
		converter: converter,
		events:    events,
		logger:    logger,
	}
}

// Submit validates the request, converts the amount to the company base
// currency, materializes the approval sequence and persists everything
// in one transaction. An empty sequence is an error, never a silently
// stuck expense.
func (s *ExpenseService) Submit(ctx context.Context, req SubmitRequest) (*models.Expense, error) {
	if req.Amount <= 0 {
		return nil, fmt.Errorf("%w: amount must be positive", ErrInvalidExpense)
	}
	if req.Category == "" {
		return nil, fmt.Errorf("%w: category is required", ErrInvalidExpense)
	}
	if req.Currency == "" {
		return nil, fmt.Errorf("%w: currency is required", ErrInvalidExpense)
	}

	employee, err := s.users.GetByID(ctx, req.EmployeeID)
	if err != nil {
		return nil, err
	}
	if employee == nil || !employee.IsActive {
		return nil, fmt.Errorf("%w: employee %d", ErrUserNotFound, req.EmployeeID)
	}

	company, err := s.companies.GetByID(ctx, employee.CompanyID)
	if err != nil {
		return nil, err
	}
	if company == nil {
		return nil, fmt.Errorf("%w: company %d", ErrCompanyNotFound, employee.CompanyID)
	}

	converted, rate, err := s.converter.ToBase(req.Amount, req.Currency, company.BaseCurrency)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidExpense, err)
	}

	expense := &models.Expense{
		CompanyID:             company.ID,
		EmployeeID:            employee.ID,
		Amount:                req.Amount,
		Currency:              req.Currency,
		AmountCompanyCurrency: converted,
		ExchangeRate:          rate,
		Category:              req.Category,
		ExpenseDate:           req.ExpenseDate,
		Description:           req.Description,
		ReceiptPath:           req.ReceiptPath,
		Status:                models.ExpensePending,
	}

	steps, err := s.builder.Build(ctx, expense)
	if err != nil {
		return nil, err
	}
	if len(steps) == 0 {
		return nil, fmt.Errorf("%w: company %d", approval.ErrNoApprover, company.ID)
	}
	expense.Steps = steps
	expense.CurrentApproverID = approval.CurrentApprover(steps)

	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.expenses.Create(ctx, tx, expense); err != nil {
			return err
		}
		return s.history.Create(ctx, tx, &models.ApprovalHistory{
			ExpenseID:      expense.ID,
			ActorID:        employee.ID,
			ActionType:     models.ActionTypeSubmit,
			PreviousStatus: "",
			NewStatus:      string(models.ExpensePending),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Expense submitted",
		zap.Int64("expense_id", expense.ID),
		zap.Int64("employee_id", employee.ID),
		zap.Float64("amount", converted),
		zap.String("currency", company.BaseCurrency),
		zap.Int("steps", len(steps)))

	s.notifyApprover(ctx, notify.EventSubmitted, expense, employee)
	return expense, nil
}

// Decide applies one approver's decision and persists the result under
// the version guard. Callers racing on the same expense see
// repository.ErrVersionConflict for the losing write.
func (s *ExpenseService) Decide(ctx context.Context, expenseID, actorID int64, action approval.Action, comments string) (*models.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, fmt.Errorf("%w: %d", ErrExpenseNotFound, expenseID)
	}

	outcome, err := s.evaluator.Decide(ctx, expense, actorID, action, comments)
	if err != nil {
		return nil, err
	}

	actionType := models.ActionTypeApprove
	if action == approval.ActionReject {
		actionType = models.ActionTypeReject
	}
	stepSequence := 0
	if outcome.Step != nil {
		stepSequence = outcome.Step.Sequence
	}

	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.expenses.UpdateDecision(ctx, tx, expense); err != nil {
			return err
		}
		if err := s.history.Create(ctx, tx, &models.ApprovalHistory{
			ExpenseID:      expense.ID,
			ActorID:        actorID,
			ActionType:     actionType,
			PreviousStatus: string(models.ExpensePending),
			NewStatus:      string(expense.Status),
			StepSequence:   stepSequence,
			Comments:       comments,
		}); err != nil {
			return err
		}
		if outcome.Finalized && expense.Status == models.ExpenseApproved {
			return s.recordSpend(ctx, tx, expense)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.dispatchDecision(ctx, expense, outcome)
	return expense, nil
}

// BulkDecide applies the same action to several expenses. Each expense
// is evaluated and persisted independently; the result slice preserves
// the input order.
func (s *ExpenseService) BulkDecide(ctx context.Context, expenseIDs []int64, actorID int64, action approval.Action, comments string) []BulkResult {
	results := make([]BulkResult, 0, len(expenseIDs))
	for _, id := range expenseIDs {
		expense, err := s.Decide(ctx, id, actorID, action, comments)
		result := BulkResult{ExpenseID: id}
		if err != nil {
			result.Err = err
			result.Error = err.Error()
		} else {
			result.Expense = expense
			result.Status = string(expense.Status)
		}
		results = append(results, result)
	}
	return results
}

// Override lets a company admin force-finalize a pending expense. The
// admin does not need to appear in the sequence.
func (s *ExpenseService) Override(ctx context.Context, expenseID, adminID int64, action approval.Action, comments string) (*models.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, fmt.Errorf("%w: %d", ErrExpenseNotFound, expenseID)
	}

	admin, err := s.users.GetByID(ctx, adminID)
	if err != nil {
		return nil, err
	}
	if admin == nil || !admin.IsActive || admin.Role != models.RoleAdmin || admin.CompanyID != expense.CompanyID {
		return nil, fmt.Errorf("%w: user %d", ErrNotAdmin, adminID)
	}

	if _, err := s.evaluator.Override(expense, adminID, action, comments); err != nil {
		return nil, err
	}

	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.expenses.UpdateDecision(ctx, tx, expense); err != nil {
			return err
		}
		if err := s.history.Create(ctx, tx, &models.ApprovalHistory{
			ExpenseID:      expense.ID,
			ActorID:        adminID,
			ActionType:     models.ActionTypeOverride,
			PreviousStatus: string(models.ExpensePending),
			NewStatus:      string(expense.Status),
			Comments:       comments,
		}); err != nil {
			return err
		}
		if expense.Status == models.ExpenseApproved {
			return s.recordSpend(ctx, tx, expense)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifyEmployee(ctx, notify.EventOverridden, expense, admin)
	return expense, nil
}

// Cancel lets the submitting employee withdraw a still-pending expense.
func (s *ExpenseService) Cancel(ctx context.Context, expenseID, employeeID int64) (*models.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, fmt.Errorf("%w: %d", ErrExpenseNotFound, expenseID)
	}
	if expense.EmployeeID != employeeID {
		return nil, fmt.Errorf("%w: expense %d", ErrNotOwner, expenseID)
	}
	if expense.Status != models.ExpensePending {
		return nil, fmt.Errorf("%w: status %s", approval.ErrNotPending, expense.Status)
	}

	expense.Status = models.ExpenseCancelled
	expense.CurrentApproverID = nil

	err = s.tx.WithTransaction(func(tx *sql.Tx) error {
		if err := s.expenses.UpdateDecision(ctx, tx, expense); err != nil {
			return err
		}
		return s.history.Create(ctx, tx, &models.ApprovalHistory{
			ExpenseID:      expense.ID,
			ActorID:        employeeID,
			ActionType:     models.ActionTypeCancel,
			PreviousStatus: string(models.ExpensePending),
			NewStatus:      string(models.ExpenseCancelled),
		})
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Expense cancelled",
		zap.Int64("expense_id", expenseID),
		zap.Int64("employee_id", employeeID))
	return expense, nil
}

// Get retrieves one expense with its approval sequence
func (s *ExpenseService) Get(ctx context.Context, expenseID int64) (*models.Expense, error) {
	expense, err := s.expenses.GetByID(ctx, expenseID)
	if err != nil {
		return nil, err
	}
	if expense == nil {
		return nil, fmt.Errorf("%w: %d", ErrExpenseNotFound, expenseID)
	}
	return expense, nil
}

// ListByCompany retrieves company expenses newest first
func (s *ExpenseService) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]*models.Expense, error) {
	return s.expenses.ListByCompany(ctx, companyID, normalizeLimit(limit), offset)
}

// ListByEmployee retrieves one employee's expenses newest first
func (s *ExpenseService) ListByEmployee(ctx context.Context, employeeID int64, limit, offset int) ([]*models.Expense, error) {
	return s.expenses.ListByEmployee(ctx, employeeID, normalizeLimit(limit), offset)
}

// History retrieves the audit trail of an expense oldest first
func (s *ExpenseService) History(ctx context.Context, expenseID int64) ([]*models.ApprovalHistory, error) {
	return s.history.ListByExpense(ctx, expenseID)
}

// recordSpend adds an approved expense to the employee's running
// monthly total and advances the budget alert state. Runs inside the
// decision transaction so spend and status commit together.
func (s *ExpenseService) recordSpend(ctx context.Context, tx *sql.Tx, expense *models.Expense) error {
	employee, err := s.users.GetByID(ctx, expense.EmployeeID)
	if err != nil {
		return err
	}
	if employee == nil {
		return fmt.Errorf("%w: employee %d", ErrUserNotFound, expense.EmployeeID)
	}

	spent := employee.SpentThisMonth + expense.AmountCompanyCurrency
	state, shouldNotify := budget.Advance(employee.AlertState, spent, employee.MonthlyBudget)
	if err := s.users.UpdateBudgetState(ctx, tx, employee.ID, spent, state); err != nil {
		return err
	}

	if shouldNotify {
		s.events.Enqueue(notify.Event{
			Kind:      notify.EventBudget,
			Expense:   expense,
			Recipient: employee,
			Message:   fmt.Sprintf("Monthly spend %.2f against budget %.2f", spent, employee.MonthlyBudget),
		})
	}
	return nil
}

func (s *ExpenseService) dispatchDecision(ctx context.Context, expense *models.Expense, outcome *approval.Outcome) {
	if !outcome.Finalized {
		s.notifyApprover(ctx, notify.EventStepActed, expense, nil)
		return
	}
	kind := notify.EventApproved
	if expense.Status == models.ExpenseRejected {
		kind = notify.EventRejected
	}
	s.notifyEmployee(ctx, kind, expense, nil)
}

// notifyApprover targets the current approver; best-effort, lookup
// failures only log.
func (s *ExpenseService) notifyApprover(ctx context.Context, kind notify.EventKind, expense *models.Expense, actor *models.User) {
	if expense.CurrentApproverID == nil {
		return
	}
	recipient, err := s.users.GetByID(ctx, *expense.CurrentApproverID)
	if err != nil || recipient == nil {
		s.logger.Warn("Could not resolve approver for notification",
			zap.Int64("expense_id", expense.ID),
			zap.Error(err))
		return
	}
	s.events.Enqueue(notify.Event{Kind: kind, Expense: expense, Actor: actor, Recipient: recipient})
}

func (s *ExpenseService) notifyEmployee(ctx context.Context, kind notify.EventKind, expense *models.Expense, actor *models.User) {
	recipient, err := s.users.GetByID(ctx, expense.EmployeeID)
	if err != nil || recipient == nil {
		s.logger.Warn("Could not resolve employee for notification",
			zap.Int64("expense_id", expense.ID),
			zap.Error(err))
		return
	}
	s.events.Enqueue(notify.Event{Kind: kind, Expense: expense, Actor: actor, Recipient: recipient})
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > 200 {
		return 50
	}
	return limit
}
