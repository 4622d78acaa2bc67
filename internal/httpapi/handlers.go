package httpapi

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/calyxhq/expenseflow/internal/approval"
	"github.com/calyxhq/expenseflow/internal/models"
	"github.com/calyxhq/expenseflow/internal/receipt"
	"github.com/calyxhq/expenseflow/internal/repository"
	"github.com/calyxhq/expenseflow/internal/service"
)

// ExpenseAPI is the expense service surface the handlers call
type ExpenseAPI interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*models.Expense, error)
	Decide(ctx context.Context, expenseID, actorID int64, action approval.Action, comments string) (*models.Expense, error)
	BulkDecide(ctx context.Context, expenseIDs []int64, actorID int64, action approval.Action, comments string) []service.BulkResult
	Override(ctx context.Context, expenseID, adminID int64, action approval.Action, comments string) (*models.Expense, error)
	Cancel(ctx context.Context, expenseID, employeeID int64) (*models.Expense, error)
	Get(ctx context.Context, expenseID int64) (*models.Expense, error)
	ListByCompany(ctx context.Context, companyID int64, limit, offset int) ([]*models.Expense, error)
	ListByEmployee(ctx context.Context, employeeID int64, limit, offset int) ([]*models.Expense, error)
	History(ctx context.Context, expenseID int64) ([]*models.ApprovalHistory, error)
}

// RuleAPI is the rule service surface the handlers call
type RuleAPI interface {
	Create(ctx context.Context, rule *models.ApprovalRule) error
	Get(ctx context.Context, id int64) (*models.ApprovalRule, error)
	ListByCompany(ctx context.Context, companyID int64) ([]*models.ApprovalRule, error)
	Update(ctx context.Context, rule *models.ApprovalRule) error
	Deactivate(ctx context.Context, id int64) error
}

// UserAdmin covers the thin directory administration endpoints
type UserAdmin interface {
	Create(ctx context.Context, user *models.User) error
	ListByCompany(ctx context.Context, companyID int64) ([]*models.User, error)
}

// CompanyAdmin covers company creation and lookup
type CompanyAdmin interface {
	Create(ctx context.Context, company *models.Company) error
	GetByID(ctx context.Context, id int64) (*models.Company, error)
}

// ReceiptSaver stores uploaded receipt files
type ReceiptSaver interface {
	Save(originalName string, content []byte) (string, error)
}

// ReceiptExtractor reads expense fields out of a stored receipt; may be
// nil when extraction is not configured
type ReceiptExtractor interface {
	Extract(ctx context.Context, path string) (*receipt.Data, error)
}

// ReportWriter renders the company expense report
type ReportWriter interface {
	WriteReport(out io.Writer, company *models.Company, expenses []*models.Expense) error
}

// Handlers contains all HTTP request handlers
type Handlers struct {
	expenses  ExpenseAPI
	rules     RuleAPI
	users     UserAdmin
	companies CompanyAdmin
	receipts  ReceiptSaver
	extractor ReceiptExtractor
	reports   ReportWriter
	logger    *zap.Logger
}

// NewHandlers creates a new Handlers instance
func NewHandlers(
	expenses ExpenseAPI,
	rules RuleAPI,
	users UserAdmin,
	companies CompanyAdmin,
	receipts ReceiptSaver,
	extractor ReceiptExtractor,
	reports ReportWriter,
	logger *zap.Logger,
) *Handlers {
	return &Handlers{
		expenses:  expenses,
		rules:     rules,
		users:     users,
		companies: companies,
		receipts:  receipts,
		extractor: extractor,
		reports:   reports,
		logger:    logger,
	}
}

// Response represents a standard JSON response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// HealthCheck handles GET /health
func (h *Handlers) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, Response{
		Success: true,
		Data: gin.H{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		},
	})
}

// SubmitExpenseRequest is the body of POST /api/v1/expenses
type SubmitExpenseRequest struct {
	EmployeeID  int64   `json:"employee_id" binding:"required"`
	Amount      float64 `json:"amount" binding:"required"`
	Currency    string  `json:"currency" binding:"required"`
	Category    string  `json:"category" binding:"required"`
	ExpenseDate string  `json:"expense_date"`
	Description string  `json:"description"`
	ReceiptPath string  `json:"receipt_path"`
}

// SubmitExpense handles POST /api/v1/expenses
func (h *Handlers) SubmitExpense(c *gin.Context) {
	var req SubmitExpenseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	expenseDate := time.Now().UTC()
	if req.ExpenseDate != "" {
		parsed, err := time.Parse("2006-01-02", req.ExpenseDate)
		if err != nil {
			h.badRequest(c, "expense_date must be YYYY-MM-DD")
			return
		}
		expenseDate = parsed
	}

	expense, err := h.expenses.Submit(c.Request.Context(), service.SubmitRequest{
		EmployeeID:  req.EmployeeID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Category:    req.Category,
		ExpenseDate: expenseDate,
		Description: req.Description,
		ReceiptPath: req.ReceiptPath,
	})
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: expense})
}

// GetExpense handles GET /api/v1/expenses/:id
func (h *Handlers) GetExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	expense, err := h.expenses.Get(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// ListExpenses handles GET /api/v1/expenses. Exactly one of company_id
// and employee_id scopes the listing.
func (h *Handlers) ListExpenses(c *gin.Context) {
	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	ctx := c.Request.Context()
	var (
		expenses []*models.Expense
		err      error
	)
	switch {
	case c.Query("employee_id") != "":
		employeeID, perr := strconv.ParseInt(c.Query("employee_id"), 10, 64)
		if perr != nil {
			h.badRequest(c, "invalid employee_id")
			return
		}
		expenses, err = h.expenses.ListByEmployee(ctx, employeeID, limit, offset)
	case c.Query("company_id") != "":
		companyID, perr := strconv.ParseInt(c.Query("company_id"), 10, 64)
		if perr != nil {
			h.badRequest(c, "invalid company_id")
			return
		}
		expenses, err = h.expenses.ListByCompany(ctx, companyID, limit, offset)
	default:
		h.badRequest(c, "company_id or employee_id is required")
		return
	}
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expenses})
}

// GetExpenseHistory handles GET /api/v1/expenses/:id/history
func (h *Handlers) GetExpenseHistory(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	history, err := h.expenses.History(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: history})
}

// DecisionRequest is the body of the single and bulk decision endpoints
type DecisionRequest struct {
	ApproverID int64   `json:"approver_id" binding:"required"`
	Action     string  `json:"action" binding:"required"`
	Comments   string  `json:"comments"`
	ExpenseIDs []int64 `json:"expense_ids"`
}

// DecideExpense handles POST /api/v1/expenses/:id/decision
func (h *Handlers) DecideExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	expense, err := h.expenses.Decide(c.Request.Context(), id, req.ApproverID, approval.Action(req.Action), req.Comments)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// BulkDecision handles POST /api/v1/expenses/bulk-decision
func (h *Handlers) BulkDecision(c *gin.Context) {
	var req DecisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}
	if len(req.ExpenseIDs) == 0 {
		h.badRequest(c, "expense_ids is required")
		return
	}

	results := h.expenses.BulkDecide(c.Request.Context(), req.ExpenseIDs, req.ApproverID, approval.Action(req.Action), req.Comments)
	c.JSON(http.StatusOK, Response{Success: true, Data: results})
}

// OverrideRequest is the body of POST /api/v1/expenses/:id/override
type OverrideRequest struct {
	AdminID  int64  `json:"admin_id" binding:"required"`
	Action   string `json:"action" binding:"required"`
	Comments string `json:"comments"`
}

// OverrideExpense handles POST /api/v1/expenses/:id/override
func (h *Handlers) OverrideExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req OverrideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	expense, err := h.expenses.Override(c.Request.Context(), id, req.AdminID, approval.Action(req.Action), req.Comments)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// CancelRequest is the body of POST /api/v1/expenses/:id/cancel
type CancelRequest struct {
	EmployeeID int64 `json:"employee_id" binding:"required"`
}

// CancelExpense handles POST /api/v1/expenses/:id/cancel
func (h *Handlers) CancelExpense(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req CancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	expense, err := h.expenses.Cancel(c.Request.Context(), id, req.EmployeeID)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: expense})
}

// ExportExpenses handles GET /api/v1/expenses/export?company_id=
func (h *Handlers) ExportExpenses(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid company_id")
		return
	}

	ctx := c.Request.Context()
	company, err := h.companies.GetByID(ctx, companyID)
	if err != nil {
		h.serviceError(c, err)
		return
	}
	if company == nil {
		h.notFound(c, "company not found")
		return
	}

	expenses, err := h.expenses.ListByCompany(ctx, companyID, 200, intQuery(c, "offset", 0))
	if err != nil {
		h.serviceError(c, err)
		return
	}

	var buf bytes.Buffer
	if err := h.reports.WriteReport(&buf, company, expenses); err != nil {
		h.serviceError(c, err)
		return
	}

	filename := fmt.Sprintf("expenses_%d_%s.xlsx", companyID, time.Now().UTC().Format("20060102"))
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	c.Data(http.StatusOK, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", buf.Bytes())
}

// ReceiptResponse is the body returned by the receipt upload endpoint
type ReceiptResponse struct {
	Path      string        `json:"path"`
	Extracted *receipt.Data `json:"extracted,omitempty"`
}

// UploadReceipt handles POST /api/v1/receipts. The file is stored and,
// when an extractor is configured, the extracted fields are returned as
// a draft for the submission form; they are never persisted directly.
func (h *Handlers) UploadReceipt(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		h.badRequest(c, "file is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		h.serviceError(c, err)
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	path, err := h.receipts.Save(fileHeader.Filename, content)
	if err != nil {
		h.badRequest(c, err.Error())
		return
	}

	resp := ReceiptResponse{Path: path}
	if h.extractor != nil {
		extracted, err := h.extractor.Extract(c.Request.Context(), path)
		if err != nil {
			// Extraction is best-effort; the upload itself succeeded.
			h.logger.Warn("Receipt extraction failed",
				zap.String("path", path),
				zap.Error(err))
		} else {
			resp.Extracted = extracted
		}
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: resp})
}

// RuleRequest is the body of rule create and update endpoints
type RuleRequest struct {
	CompanyID  int64                 `json:"company_id" binding:"required"`
	Name       string                `json:"name" binding:"required"`
	Type       string                `json:"type" binding:"required"`
	Percentage int                   `json:"percentage"`
	Approvers  []models.RuleApprover `json:"approvers"`
	AmountMin  *float64              `json:"amount_min"`
	AmountMax  *float64              `json:"amount_max"`
	Categories []string              `json:"categories"`
	Priority   int                   `json:"priority"`
}

func (r *RuleRequest) toModel() *models.ApprovalRule {
	return &models.ApprovalRule{
		CompanyID:  r.CompanyID,
		Name:       r.Name,
		Type:       models.RuleType(r.Type),
		Percentage: r.Percentage,
		Approvers:  r.Approvers,
		AmountMin:  r.AmountMin,
		AmountMax:  r.AmountMax,
		Categories: r.Categories,
		Priority:   r.Priority,
	}
}

// CreateRule handles POST /api/v1/rules
func (h *Handlers) CreateRule(c *gin.Context) {
	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	rule := req.toModel()
	if err := h.rules.Create(c.Request.Context(), rule); err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: rule})
}

// GetRule handles GET /api/v1/rules/:id
func (h *Handlers) GetRule(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	rule, err := h.rules.Get(c.Request.Context(), id)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

// ListRules handles GET /api/v1/rules?company_id=
func (h *Handlers) ListRules(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid company_id")
		return
	}

	rules, err := h.rules.ListByCompany(c.Request.Context(), companyID)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: rules})
}

// UpdateRule handles PUT /api/v1/rules/:id
func (h *Handlers) UpdateRule(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	var req RuleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	rule := req.toModel()
	rule.ID = id
	if err := h.rules.Update(c.Request.Context(), rule); err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: rule})
}

// DeactivateRule handles DELETE /api/v1/rules/:id
func (h *Handlers) DeactivateRule(c *gin.Context) {
	id, ok := h.pathID(c)
	if !ok {
		return
	}

	if err := h.rules.Deactivate(c.Request.Context(), id); err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true})
}

// UserRequest is the body of POST /api/v1/users
type UserRequest struct {
	CompanyID         int64   `json:"company_id" binding:"required"`
	Name              string  `json:"name" binding:"required"`
	Email             string  `json:"email" binding:"required"`
	Role              string  `json:"role" binding:"required"`
	ManagerID         *int64  `json:"manager_id"`
	IsManagerApprover bool    `json:"is_manager_approver"`
	MonthlyBudget     float64 `json:"monthly_budget"`
}

// CreateUser handles POST /api/v1/users
func (h *Handlers) CreateUser(c *gin.Context) {
	var req UserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	role := models.Role(req.Role)
	if role != models.RoleEmployee && role != models.RoleManager && role != models.RoleAdmin {
		h.badRequest(c, "role must be employee, manager or admin")
		return
	}

	user := &models.User{
		CompanyID:         req.CompanyID,
		Name:              req.Name,
		Email:             req.Email,
		Role:              role,
		ManagerID:         req.ManagerID,
		IsManagerApprover: req.IsManagerApprover,
		MonthlyBudget:     req.MonthlyBudget,
		IsActive:          true,
		AlertState:        models.AlertNone,
	}
	if err := h.users.Create(c.Request.Context(), user); err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: user})
}

// ListUsers handles GET /api/v1/users?company_id=
func (h *Handlers) ListUsers(c *gin.Context) {
	companyID, err := strconv.ParseInt(c.Query("company_id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid company_id")
		return
	}

	users, err := h.users.ListByCompany(c.Request.Context(), companyID)
	if err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Data: users})
}

// CompanyRequest is the body of POST /api/v1/companies
type CompanyRequest struct {
	Name         string `json:"name" binding:"required"`
	BaseCurrency string `json:"base_currency" binding:"required"`
}

// CreateCompany handles POST /api/v1/companies
func (h *Handlers) CreateCompany(c *gin.Context) {
	var req CompanyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.badRequest(c, "invalid request body")
		return
	}

	company := &models.Company{Name: req.Name, BaseCurrency: req.BaseCurrency}
	if err := h.companies.Create(c.Request.Context(), company); err != nil {
		h.serviceError(c, err)
		return
	}

	c.JSON(http.StatusCreated, Response{Success: true, Data: company})
}

func (h *Handlers) pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		h.badRequest(c, "invalid id")
		return 0, false
	}
	return id, true
}

func intQuery(c *gin.Context, name string, fallback int) int {
	raw := c.Query(name)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func (h *Handlers) badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, Response{Success: false, Error: msg})
}

func (h *Handlers) notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, Response{Success: false, Error: msg})
}

// serviceError maps domain errors to HTTP status codes
func (h *Handlers) serviceError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, service.ErrExpenseNotFound),
		errors.Is(err, service.ErrRuleNotFound),
		errors.Is(err, service.ErrUserNotFound),
		errors.Is(err, service.ErrCompanyNotFound),
		errors.Is(err, repository.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, service.ErrInvalidExpense),
		errors.Is(err, service.ErrInvalidRule),
		errors.Is(err, approval.ErrUnknownAction):
		status = http.StatusBadRequest
	case errors.Is(err, service.ErrNotOwner),
		errors.Is(err, service.ErrNotAdmin),
		errors.Is(err, approval.ErrNotCurrentApprover),
		errors.Is(err, approval.ErrNotEligible):
		status = http.StatusForbidden
	case errors.Is(err, approval.ErrNotPending),
		errors.Is(err, repository.ErrVersionConflict):
		status = http.StatusConflict
	case errors.Is(err, approval.ErrNoApprover):
		status = http.StatusUnprocessableEntity
	default:
		h.logger.Error("Unhandled service error", zap.Error(err))
	}

	c.JSON(status, Response{Success: false, Error: err.Error()})
}
