package retry

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/utils"
)

type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusDegraded HealthStatus = "degraded"
	HealthStatusCritical HealthStatus = "critical"
)

// HealthThresholds tune the classification in Report. Values are trailing
// counts within the report window.
type HealthThresholds struct {
	CriticalFailedCount int
	DegradedFailedCount int
	// MinSampleSize gates the success-rate check so a window with two
	// operations and one failure is not "pathologically low".
	MinSampleSize       int
	CriticalSuccessRate float64
	DegradedStuckRatio  float64
	// StuckAfter is how old a paid/processing order may be without a
	// terminal dropship status before it counts as stuck.
	StuckAfter time.Duration
}

func DefaultHealthThresholds() HealthThresholds {
	return HealthThresholds{
		CriticalFailedCount: 10,
		DegradedFailedCount: 3,
		MinSampleSize:       20,
		CriticalSuccessRate: 0.5,
		DegradedStuckRatio:  0.2,
		StuckAfter:          2 * time.Hour,
	}
}

// HealthReport is the operator-facing view of the fulfillment subsystem over
// a trailing window.
type HealthReport struct {
	Status      HealthStatus `json:"status"`
	WindowHours int          `json:"window_hours"`

	TotalOperations      int64   `json:"total_operations"`
	PendingOperations    int64   `json:"pending_operations"`
	ProcessingOperations int64   `json:"processing_operations"`
	CompletedOperations  int64   `json:"completed_operations"`
	FailedOperations     int64   `json:"failed_operations"`
	SuccessRate          float64 `json:"success_rate"`

	ActiveOrders int64 `json:"active_orders"`
	StuckOrders  int64 `json:"stuck_orders"`
}

// Report aggregates operation and order statistics over the trailing window
// and classifies subsystem health.
func (e *Engine) Report(ctx context.Context, windowHours int) (HealthReport, error) {
	if windowHours <= 0 {
		windowHours = 24
	}
	db := e.DB.WithContext(ctx)
	now := time.Now().UTC()
	since := now.Add(-time.Duration(windowHours) * time.Hour)

	report := HealthReport{Status: HealthStatusHealthy, WindowHours: windowHours}

	type statusCount struct {
		Status models.OperationStatus
		N      int64
	}
	var counts []statusCount
	err := db.Model(&models.RetryableOperation{}).
		Select("status, COUNT(*) AS n").
		Where("created_at >= ?", since).
		Group("status").
		Scan(&counts).Error
	if err != nil {
		return report, err
	}
	for _, c := range counts {
		report.TotalOperations += c.N
		switch c.Status {
		case models.OperationStatusPending:
			report.PendingOperations = c.N
		case models.OperationStatusProcessing:
			report.ProcessingOperations = c.N
		case models.OperationStatusCompleted:
			report.CompletedOperations = c.N
		case models.OperationStatusFailed:
			report.FailedOperations = c.N
		}
	}
	if report.TotalOperations > 0 {
		report.SuccessRate = float64(report.CompletedOperations) / float64(report.TotalOperations)
	}

	activeStatuses := []models.OrderStatus{models.OrderStatusPaid, models.OrderStatusProcessing}
	if err := db.Model(&models.Order{}).
		Where("status IN ? AND created_at >= ?", activeStatuses, since).
		Count(&report.ActiveOrders).Error; err != nil {
		return report, err
	}

	stuckBefore := now.Add(-e.Health.StuckAfter)
	err = db.Model(&models.Order{}).
		Where("status IN ? AND created_at >= ? AND created_at <= ?", activeStatuses, since, stuckBefore).
		Where("id NOT IN (?)", db.Session(&gorm.Session{NewDB: true}).
			Model(&models.DropshipOrder{}).
			Select("order_id").
			Where("status IN ?", []models.DropshipStatus{models.DropshipStatusShipped, models.DropshipStatusDelivered})).
		Count(&report.StuckOrders).Error
	if err != nil {
		return report, err
	}

	report.Status = e.classify(report)
	return report, nil
}

func (e *Engine) classify(r HealthReport) HealthStatus {
	t := e.Health
	if r.FailedOperations > int64(t.CriticalFailedCount) {
		return HealthStatusCritical
	}
	if r.TotalOperations >= int64(t.MinSampleSize) && r.SuccessRate < t.CriticalSuccessRate {
		return HealthStatusCritical
	}
	if r.FailedOperations > int64(t.DegradedFailedCount) {
		return HealthStatusDegraded
	}
	if r.ActiveOrders > 0 && float64(r.StuckOrders)/float64(r.ActiveOrders) > t.DegradedStuckRatio {
		return HealthStatusDegraded
	}
	return HealthStatusHealthy
}

// RescheduleFailed returns every failed operation to the queue with a fresh
// retry budget. This is a manual override; the acting operator is logged.
func (e *Engine) RescheduleFailed(ctx context.Context) (int64, error) {
	db := e.DB.WithContext(ctx)
	now := time.Now().UTC()

	res := db.Model(&models.RetryableOperation{}).
		Where("status = ?", models.OperationStatusFailed).
		Updates(map[string]interface{}{
			"status":        models.OperationStatusPending,
			"attempts":      0,
			"last_error":    nil,
			"next_retry_at": &now,
			"locked_at":     nil,
			"locked_by":     nil,
		})
	if res.Error != nil {
		return 0, res.Error
	}

	actor, _ := utils.GetAdminActorFromContext(ctx)
	e.Logger.WithFields(logrus.Fields{
		"field": "RetryEngine",
		"count": res.RowsAffected,
		"actor": actor,
	}).Warn("failed operations rescheduled by operator")
	return res.RowsAffected, nil
}

// PurgeOperations deletes terminal operations older than the retention
// window. Pending and processing rows are never touched.
func (e *Engine) PurgeOperations(ctx context.Context, retention time.Duration) (int64, error) {
	db := e.DB.WithContext(ctx)
	cutoff := time.Now().UTC().Add(-retention)

	terminal := []models.OperationStatus{
		models.OperationStatusCompleted,
		models.OperationStatusFailed,
		models.OperationStatusCancelled,
	}
	res := db.Where("status IN ? AND updated_at <= ?", terminal, cutoff).
		Delete(&models.RetryableOperation{})
	if res.Error != nil {
		return 0, res.Error
	}

	actor, _ := utils.GetAdminActorFromContext(ctx)
	e.Logger.WithFields(logrus.Fields{
		"field":  "RetryEngine",
		"count":  res.RowsAffected,
		"cutoff": cutoff.Format(time.RFC3339),
		"actor":  actor,
	}).Info("old operations purged")
	return res.RowsAffected, nil
}
