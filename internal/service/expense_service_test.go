package service

import (
	"context"
	"database/sql"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/calyxhq/expenseflow/internal/approval"
	"github.com/calyxhq/expenseflow/internal/currency"
	"github.com/calyxhq/expenseflow/internal/models"
	"github.com/calyxhq/expenseflow/internal/notify"
	"github.com/calyxhq/expenseflow/internal/repository"
)

// fakeTx runs the closure directly; the fakes below do their own
// bookkeeping instead of relying on SQL transactions.
type fakeTx struct{}

func (fakeTx) WithTransaction(fn func(*sql.Tx) error) error { return fn(nil) }

type fakeExpenseStore struct {
	mu       sync.Mutex
	nextID   int64
	expenses map[int64]*models.Expense
}

func newFakeExpenseStore() *fakeExpenseStore {
	return &fakeExpenseStore{nextID: 1, expenses: make(map[int64]*models.Expense)}
}

func cloneExpense(e *models.Expense) *models.Expense {
	c := *e
	c.Steps = append([]models.ApprovalStep(nil), e.Steps...)
	if e.CurrentApproverID != nil {
		v := *e.CurrentApproverID
		c.CurrentApproverID = &v
	}
	if e.Final != nil {
		f := *e.Final
		c.Final = &f
	}
	return &c
}

func (s *fakeExpenseStore) Create(ctx context.Context, tx *sql.Tx, expense *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	expense.ID = s.nextID
	s.nextID++
	expense.Version = 1
	for i := range expense.Steps {
		expense.Steps[i].ID = int64(i + 1)
		expense.Steps[i].ExpenseID = expense.ID
	}
	s.expenses[expense.ID] = cloneExpense(expense)
	return nil
}

func (s *fakeExpenseStore) GetByID(ctx context.Context, id int64) (*models.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.expenses[id]
	if !ok {
		return nil, nil
	}
	return cloneExpense(e), nil
}

// UpdateDecision mirrors the SQL compare-and-swap: the write only lands
// when the caller's version matches the stored one.
func (s *fakeExpenseStore) UpdateDecision(ctx context.Context, tx *sql.Tx, expense *models.Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.expenses[expense.ID]
	if !ok || stored.Version != expense.Version {
		return repository.ErrVersionConflict
	}
	expense.Version++
	s.expenses[expense.ID] = cloneExpense(expense)
	return nil
}

func (s *fakeExpenseStore) ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]*models.Expense, error) {
	return s.listMatching(func(e *models.Expense) bool { return e.CompanyID == companyID })
}

func (s *fakeExpenseStore) ListByEmployee(ctx context.Context, employeeID int64, limit, offset int) ([]*models.Expense, error) {
	return s.listMatching(func(e *models.Expense) bool { return e.EmployeeID == employeeID })
}

func (s *fakeExpenseStore) listMatching(match func(*models.Expense) bool) ([]*models.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*models.Expense
	for _, e := range s.expenses {
		if match(e) {
			out = append(out, cloneExpense(e))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// fakeUsers backs both the service's user store and the approval
// package's directory.
type fakeUsers struct {
	mu    sync.Mutex
	users map[int64]*models.User
}

func newFakeUsers(users ...*models.User) *fakeUsers {
	m := make(map[int64]*models.User, len(users))
	for _, u := range users {
		m[u.ID] = u
	}
	return &fakeUsers{users: m}
}

func (f *fakeUsers) GetByID(ctx context.Context, id int64) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (f *fakeUsers) ActiveByRole(ctx context.Context, companyID int64, role models.Role) ([]*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.User
	for _, u := range f.users {
		if u.CompanyID == companyID && u.Role == role && u.IsActive {
			c := *u
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeUsers) UpdateBudgetState(ctx context.Context, tx *sql.Tx, id int64, spent float64, state models.AlertState) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.SpentThisMonth = spent
	u.AlertState = state
	return nil
}

type fakeCompanies struct {
	companies map[int64]*models.Company
}

func (f *fakeCompanies) GetByID(ctx context.Context, id int64) (*models.Company, error) {
	c, ok := f.companies[id]
	if !ok {
		return nil, nil
	}
	return c, nil
}

type fakeHistory struct {
	mu   sync.Mutex
	rows []*models.ApprovalHistory
}

func (f *fakeHistory) Create(ctx context.Context, tx *sql.Tx, h *models.ApprovalHistory) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	h.ID = int64(len(f.rows) + 1)
	f.rows = append(f.rows, h)
	return nil
}

func (f *fakeHistory) ListByExpense(ctx context.Context, expenseID int64) ([]*models.ApprovalHistory, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.ApprovalHistory
	for _, h := range f.rows {
		if h.ExpenseID == expenseID {
			out = append(out, h)
		}
	}
	return out, nil
}

func (f *fakeHistory) actions(expenseID int64) []string {
	rows, _ := f.ListByExpense(context.Background(), expenseID)
	var out []string
	for _, h := range rows {
		out = append(out, h.ActionType)
	}
	return out
}

type fakeSink struct {
	mu     sync.Mutex
	events []notify.Event
}

func (f *fakeSink) Enqueue(event notify.Event) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeSink) kinds() []notify.EventKind {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []notify.EventKind
	for _, e := range f.events {
		out = append(out, e.Kind)
	}
	return out
}

type rulesStub struct {
	rules []*models.ApprovalRule
	err   error
}

func (r *rulesStub) ActiveRules(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error) {
	return r.rules, r.err
}

type fixture struct {
	svc      *ExpenseService
	expenses *fakeExpenseStore
	users    *fakeUsers
	history  *fakeHistory
	sink     *fakeSink
	rules    *rulesStub
}

func int64Ref(v int64) *int64 { return &v }

// newFixture wires the service over in-memory fakes. The directory has
// one employee (100) reporting to manager 200, plus admin 300.
func newFixture(t *testing.T, rules ...*models.ApprovalRule) *fixture {
	t.Helper()
	logger := zap.NewNop()

	users := newFakeUsers(
		&models.User{ID: 100, CompanyID: 1, Name: "Dana", Role: models.RoleEmployee, ManagerID: int64Ref(200), IsActive: true, AlertState: models.AlertNone},
		&models.User{ID: 200, CompanyID: 1, Name: "Morgan", Role: models.RoleManager, IsManagerApprover: true, IsActive: true, AlertState: models.AlertNone},
		&models.User{ID: 300, CompanyID: 1, Name: "Alex", Role: models.RoleAdmin, IsActive: true, AlertState: models.AlertNone},
	)
	companies := &fakeCompanies{companies: map[int64]*models.Company{
		1: {ID: 1, Name: "Acme", BaseCurrency: "USD"},
	}}
	ruleSource := &rulesStub{rules: rules}
	expenses := newFakeExpenseStore()
	history := &fakeHistory{}
	sink := &fakeSink{}

	builder := approval.NewSequenceBuilder(ruleSource, users, logger)
	evaluator := approval.NewEvaluator(ruleSource, users, logger)
	converter := currency.NewConverter(map[string]float64{"USD": 1, "EUR": 1.1}, logger)

	svc := NewExpenseService(fakeTx{}, expenses, users, companies, history, builder, evaluator, converter, sink, logger)
	return &fixture{svc: svc, expenses: expenses, users: users, history: history, sink: sink, rules: ruleSource}
}

func submitReq() SubmitRequest {
	return SubmitRequest{
		EmployeeID:  100,
		Amount:      250,
		Currency:    "USD",
		Category:    "Travel",
		ExpenseDate: time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC),
		Description: "Client visit",
	}
}

func TestSubmitBuildsDefaultSequence(t *testing.T) {
	fx := newFixture(t)

	expense, err := fx.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	assert.Equal(t, models.ExpensePending, expense.Status)
	assert.Equal(t, int64(1), expense.Version)
	require.Len(t, expense.Steps, 1)
	require.NotNil(t, expense.Steps[0].ApproverID)
	assert.Equal(t, int64(200), *expense.Steps[0].ApproverID)
	require.NotNil(t, expense.CurrentApproverID)
	assert.Equal(t, int64(200), *expense.CurrentApproverID)

	assert.Equal(t, []string{models.ActionTypeSubmit}, fx.history.actions(expense.ID))
	assert.Equal(t, []notify.EventKind{notify.EventSubmitted}, fx.sink.kinds())
}

func TestSubmitConvertsCurrency(t *testing.T) {
	fx := newFixture(t)

	req := submitReq()
	req.Amount = 100
	req.Currency = "EUR"

	expense, err := fx.svc.Submit(context.Background(), req)
	require.NoError(t, err)

	assert.InDelta(t, 110, expense.AmountCompanyCurrency, 0.001)
	assert.InDelta(t, 1.1, expense.ExchangeRate, 0.001)
	assert.Equal(t, float64(100), expense.Amount)
	assert.Equal(t, "EUR", expense.Currency)
}

func TestSubmitValidation(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name   string
		mutate func(*SubmitRequest)
	}{
		{"zero amount", func(r *SubmitRequest) { r.Amount = 0 }},
		{"negative amount", func(r *SubmitRequest) { r.Amount = -5 }},
		{"missing category", func(r *SubmitRequest) { r.Category = "" }},
		{"missing currency", func(r *SubmitRequest) { r.Currency = "" }},
		{"unknown currency", func(r *SubmitRequest) { r.Currency = "XXX" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := submitReq()
			tt.mutate(&req)
			_, err := fx.svc.Submit(ctx, req)
			assert.ErrorIs(t, err, ErrInvalidExpense)
		})
	}
}

func TestSubmitUnknownEmployee(t *testing.T) {
	fx := newFixture(t)

	req := submitReq()
	req.EmployeeID = 999
	_, err := fx.svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestSubmitNoApproverAvailable(t *testing.T) {
	fx := newFixture(t)
	// Lone employee in a company without managers or admins.
	fx.users.users[400] = &models.User{ID: 400, CompanyID: 2, Role: models.RoleEmployee, IsActive: true}
	companies := fx.svc.companies.(*fakeCompanies)
	companies.companies[2] = &models.Company{ID: 2, Name: "Solo", BaseCurrency: "USD"}

	req := submitReq()
	req.EmployeeID = 400
	_, err := fx.svc.Submit(context.Background(), req)
	assert.ErrorIs(t, err, approval.ErrNoApprover)
}

func TestDecideApproveFinalizes(t *testing.T) {
	fx := newFixture(t)
	expense, err := fx.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	decided, err := fx.svc.Decide(context.Background(), expense.ID, 200, approval.ActionApprove, "ok")
	require.NoError(t, err)

	assert.Equal(t, models.ExpenseApproved, decided.Status)
	require.NotNil(t, decided.Final)
	require.NotNil(t, decided.Final.ApprovedBy)
	assert.Equal(t, int64(200), *decided.Final.ApprovedBy)
	assert.Equal(t, int64(2), decided.Version)

	stored, err := fx.svc.Get(context.Background(), expense.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExpenseApproved, stored.Status)

	assert.Equal(t, []string{models.ActionTypeSubmit, models.ActionTypeApprove}, fx.history.actions(expense.ID))
	assert.Contains(t, fx.sink.kinds(), notify.EventApproved)

	// The approved amount lands on the employee's running total.
	employee, err := fx.users.GetByID(context.Background(), 100)
	require.NoError(t, err)
	assert.InDelta(t, 250, employee.SpentThisMonth, 0.001)
}

func TestDecideRejectFinalizes(t *testing.T) {
	fx := newFixture(t)
	expense, err := fx.svc.Submit(context.Background(), submitReq())
	require.NoError(t, err)

	decided, err := fx.svc.Decide(context.Background(), expense.ID, 200, approval.ActionReject, "no receipt")
	require.NoError(t, err)

	assert.Equal(t, models.ExpenseRejected, decided.Status)
	assert.Contains(t, fx.sink.kinds(), notify.EventRejected)

	employee, err := fx.users.GetByID(context.Background(), 100)
	require.NoError(t, err)
	assert.Zero(t, employee.SpentThisMonth)
}

func TestDecidePreconditions(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	expense, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	_, err = fx.svc.Decide(ctx, 999, 200, approval.ActionApprove, "")
	assert.ErrorIs(t, err, ErrExpenseNotFound)

	_, err = fx.svc.Decide(ctx, expense.ID, 300, approval.ActionApprove, "")
	assert.ErrorIs(t, err, approval.ErrNotCurrentApprover)

	_, err = fx.svc.Decide(ctx, expense.ID, 200, approval.Action("defer"), "")
	assert.ErrorIs(t, err, approval.ErrUnknownAction)

	_, err = fx.svc.Decide(ctx, expense.ID, 200, approval.ActionApprove, "")
	require.NoError(t, err)

	_, err = fx.svc.Decide(ctx, expense.ID, 200, approval.ActionApprove, "")
	assert.ErrorIs(t, err, approval.ErrNotPending)
}

func TestBulkDecideIsIndependent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)
	second, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	// Finalize the second up front so the bulk call hits a terminal
	// expense there.
	_, err = fx.svc.Decide(ctx, second.ID, 200, approval.ActionApprove, "")
	require.NoError(t, err)

	results := fx.svc.BulkDecide(ctx, []int64{first.ID, second.ID, 999}, 200, approval.ActionApprove, "batch")
	require.Len(t, results, 3)

	assert.NoError(t, results[0].Err)
	assert.Equal(t, string(models.ExpenseApproved), results[0].Status)

	assert.ErrorIs(t, results[1].Err, approval.ErrNotPending)
	assert.ErrorIs(t, results[2].Err, ErrExpenseNotFound)
}

func TestOverride(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	expense, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	overridden, err := fx.svc.Override(ctx, expense.ID, 300, approval.ActionApprove, "executive approval")
	require.NoError(t, err)

	assert.Equal(t, models.ExpenseApproved, overridden.Status)
	require.Len(t, overridden.Steps, 1)
	assert.Equal(t, models.StepOverridden, overridden.Steps[0].Status)
	assert.Contains(t, fx.history.actions(expense.ID), models.ActionTypeOverride)
	assert.Contains(t, fx.sink.kinds(), notify.EventOverridden)
}

func TestOverrideRequiresAdmin(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	expense, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	_, err = fx.svc.Override(ctx, expense.ID, 200, approval.ActionApprove, "")
	assert.ErrorIs(t, err, ErrNotAdmin)

	_, err = fx.svc.Override(ctx, expense.ID, 100, approval.ActionReject, "")
	assert.ErrorIs(t, err, ErrNotAdmin)
}

func TestCancel(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	expense, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	_, err = fx.svc.Cancel(ctx, expense.ID, 200)
	assert.ErrorIs(t, err, ErrNotOwner)

	cancelled, err := fx.svc.Cancel(ctx, expense.ID, 100)
	require.NoError(t, err)
	assert.Equal(t, models.ExpenseCancelled, cancelled.Status)
	assert.Nil(t, cancelled.CurrentApproverID)
	assert.Contains(t, fx.history.actions(expense.ID), models.ActionTypeCancel)

	_, err = fx.svc.Cancel(ctx, expense.ID, 100)
	assert.ErrorIs(t, err, approval.ErrNotPending)
}

func TestBudgetAlertOnApproval(t *testing.T) {
	fx := newFixture(t)
	fx.users.users[100].MonthlyBudget = 300
	ctx := context.Background()

	expense, err := fx.svc.Submit(ctx, submitReq()) // 250 against a 300 budget
	require.NoError(t, err)
	_, err = fx.svc.Decide(ctx, expense.ID, 200, approval.ActionApprove, "")
	require.NoError(t, err)

	employee, err := fx.users.GetByID(ctx, 100)
	require.NoError(t, err)
	assert.Equal(t, models.AlertWarned, employee.AlertState)
	assert.Contains(t, fx.sink.kinds(), notify.EventBudget)
}

// Two simultaneous approvals of the same single-step expense must not
// both finalize it: the version guard lets exactly one write land.
func TestConcurrentDecideSingleWinner(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	expense, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	start := make(chan struct{})
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			_, errs[i] = fx.svc.Decide(ctx, expense.ID, 200, approval.ActionApprove, "race")
		}(i)
	}
	close(start)
	wg.Wait()

	var wins, losses int
	for _, err := range errs {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, repository.ErrVersionConflict) || errors.Is(err, approval.ErrNotPending):
			losses++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins, "exactly one decision must win")
	assert.Equal(t, 1, losses)

	stored, err := fx.svc.Get(ctx, expense.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ExpenseApproved, stored.Status)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.Final)
	assert.NotNil(t, stored.Final.ApprovedBy)
}

func TestListScopes(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()

	first, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)
	second, err := fx.svc.Submit(ctx, submitReq())
	require.NoError(t, err)

	byCompany, err := fx.svc.ListByCompany(ctx, 1, 0, 0)
	require.NoError(t, err)
	assert.Len(t, byCompany, 2)

	byEmployee, err := fx.svc.ListByEmployee(ctx, 100, 50, 0)
	require.NoError(t, err)
	require.Len(t, byEmployee, 2)
	assert.Equal(t, first.ID, byEmployee[0].ID)
	assert.Equal(t, second.ID, byEmployee[1].ID)
}
