package export

import (
	"fmt"
	"io"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/calyxhq/expenseflow/internal/models"
)

const reportSheet = "Expenses"

// ExcelWriter renders company expense reports as xlsx workbooks.
type ExcelWriter struct {
	logger *zap.Logger
}

func NewExcelWriter(logger *zap.Logger) *ExcelWriter {
	return &ExcelWriter{logger: logger}
}

// WriteReport writes one row per expense plus a total of approved
// amounts in the company base currency.
func (w *ExcelWriter) WriteReport(out io.Writer, company *models.Company, expenses []*models.Expense) error {
	f := excelize.NewFile()
	defer f.Close()

	index, err := f.NewSheet(reportSheet)
	if err != nil {
		return fmt.Errorf("failed to create sheet: %w", err)
	}
	f.SetActiveSheet(index)
	if err := f.DeleteSheet("Sheet1"); err != nil {
		w.logger.Warn("Failed to remove default sheet", zap.Error(err))
	}

	headers := []string{
		"ID", "Employee", "Date", "Category", "Description",
		"Amount", "Currency", fmt.Sprintf("Amount (%s)", company.BaseCurrency), "Status",
	}
	for col, h := range headers {
		w.setCell(f, cellName(col+1, 1), h)
	}

	var totalApproved float64
	for i, exp := range expenses {
		row := i + 2
		w.setCell(f, cellName(1, row), exp.ID)
		w.setCell(f, cellName(2, row), exp.EmployeeID)
		w.setCell(f, cellName(3, row), exp.ExpenseDate.Format("2006-01-02"))
		w.setCell(f, cellName(4, row), exp.Category)
		w.setCell(f, cellName(5, row), exp.Description)
		w.setCell(f, cellName(6, row), exp.Amount)
		w.setCell(f, cellName(7, row), exp.Currency)
		w.setCell(f, cellName(8, row), exp.AmountCompanyCurrency)
		w.setCell(f, cellName(9, row), string(exp.Status))

		if exp.Status == models.ExpenseApproved {
			totalApproved += exp.AmountCompanyCurrency
		}
	}

	totalRow := len(expenses) + 3
	w.setCell(f, cellName(5, totalRow), "Total approved")
	w.setCell(f, cellName(8, totalRow), totalApproved)

	if err := f.Write(out); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}

	w.logger.Info("Expense report generated",
		zap.Int64("company_id", company.ID),
		zap.Int("expense_count", len(expenses)))

	return nil
}

func (w *ExcelWriter) setCell(f *excelize.File, cell string, value interface{}) {
	if err := f.SetCellValue(reportSheet, cell, value); err != nil {
		w.logger.Warn("Failed to set cell value",
			zap.String("cell", cell),
			zap.Error(err))
	}
}

func cellName(col, row int) string {
	name, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return fmt.Sprintf("A%d", row)
	}
	return name
}
