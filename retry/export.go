package retry

import (
	"context"
	"fmt"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/inboundr/art-framer-sub005/models"
)

// ExportOperations builds an operator spreadsheet of operations from the
// trailing window, newest first. Failed rows come with their last error so
// support can triage without DB access.
func (e *Engine) ExportOperations(ctx context.Context, windowHours int) (*excelize.File, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	db := e.DB.WithContext(ctx)
	since := time.Now().UTC().Add(-time.Duration(windowHours) * time.Hour)

	var ops []models.RetryableOperation
	if err := db.Where("created_at >= ?", since).
		Order("created_at DESC").
		Limit(10000).
		Find(&ops).Error; err != nil {
		return nil, err
	}

	f := excelize.NewFile()
	const sheet = "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}

	headers := []string{"OperationId", "Type", "OrderId", "Status", "Attempts", "LastAttemptAt", "NextRetryAt", "LastError", "CreatedAt"}
	for i, h := range headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		f.SetCellValue(sheet, cell, h)
	}

	for i, op := range ops {
		row := i + 2
		f.SetCellValue(sheet, "A"+fmt.Sprint(row), op.ID)
		f.SetCellValue(sheet, "B"+fmt.Sprint(row), string(op.Type))
		f.SetCellValue(sheet, "C"+fmt.Sprint(row), op.OrderId)
		f.SetCellValue(sheet, "D"+fmt.Sprint(row), string(op.Status))
		f.SetCellValue(sheet, "E"+fmt.Sprint(row), op.Attempts)
		f.SetCellValue(sheet, "F"+fmt.Sprint(row), formatTimePtr(op.LastAttemptAt))
		f.SetCellValue(sheet, "G"+fmt.Sprint(row), formatTimePtr(op.NextRetryAt))
		if op.LastError != nil {
			f.SetCellValue(sheet, "H"+fmt.Sprint(row), *op.LastError)
		}
		f.SetCellValue(sheet, "I"+fmt.Sprint(row), op.CreatedAt.Format(time.RFC3339))
	}
	return f, nil
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.Format(time.RFC3339)
}
