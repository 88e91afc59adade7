package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/models"
)

type outcome int

const (
	outcomeSkipped outcome = iota
	outcomeAlreadyTerminal
	outcomeCompleted
	outcomeRequeued
	outcomeFailed
)

// Process runs one processing round for the operation. It returns true when
// the operation reached completed (or already was terminal-success) and false
// when it is still pending, was claimed elsewhere, or failed.
func (e *Engine) Process(ctx context.Context, operationId string) bool {
	switch e.processOne(ctx, operationId) {
	case outcomeCompleted, outcomeAlreadyTerminal:
		return true
	default:
		return false
	}
}

func (e *Engine) processOne(ctx context.Context, operationId string) outcome {
	db := e.DB.WithContext(ctx)
	now := time.Now().UTC()

	var op models.RetryableOperation
	if err := db.Where("id = ?", operationId).First(&op).Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			e.logError("processOne", "loading operation", operationId, err)
		}
		return outcomeSkipped
	}

	switch op.Status {
	case models.OperationStatusCompleted, models.OperationStatusCancelled:
		return outcomeAlreadyTerminal
	case models.OperationStatusFailed, models.OperationStatusProcessing:
		return outcomeSkipped
	}

	if op.Attempts >= e.Config.MaxRetries {
		if err := models.MarkOperationFailed(db, op.ID, "Max retries exceeded"); err != nil {
			e.logError("processOne", "marking exhausted operation failed", op.ID, err)
		}
		return outcomeFailed
	}

	claimed, err := models.ClaimOperation(db, op.ID, e.WorkerID, now)
	if err != nil {
		// Claim never happened; the row stays pending for a later sweep.
		e.logError("processOne", "claiming operation", op.ID, err)
		return outcomeSkipped
	}
	if !claimed {
		// Another worker holds it, or the status moved under us.
		return outcomeSkipped
	}
	op.Attempts++

	executor, ok := e.Registry.lookup(op.Type)
	if !ok {
		msg := fmt.Sprintf("no executor registered for operation type %q", op.Type)
		if err := models.MarkOperationFailed(db, op.ID, msg); err != nil {
			e.logError("processOne", "marking unroutable operation failed", op.ID, err)
		}
		return outcomeFailed
	}

	execCtx, cancel := context.WithTimeout(ctx, e.ExecTimeout)
	res := executor.Execute(execCtx, op)
	cancel()

	switch res.Kind {
	case KindCompleted, KindAlreadyDone:
		if err := models.MarkOperationCompleted(db, op.ID, res.Value); err != nil {
			e.logError("processOne", "marking operation completed", op.ID, err)
			return outcomeSkipped
		}
		e.Logger.WithFields(logrus.Fields{
			"field":        "RetryEngine",
			"operation_id": op.ID,
			"type":         op.Type,
			"order_id":     op.OrderId,
			"attempt":      op.Attempts,
			"result":       res.Kind.String(),
		}).Info("operation completed")
		return outcomeCompleted

	case KindPermanent:
		// Business failures cannot succeed on retry; fail fast instead of
		// burning the remaining budget before an operator sees it.
		msg := errMessage(res.Err)
		if err := models.MarkOperationFailed(db, op.ID, msg); err != nil {
			e.logError("processOne", "marking operation failed", op.ID, err)
		}
		e.Logger.WithFields(logrus.Fields{
			"field":        "RetryEngine",
			"operation_id": op.ID,
			"type":         op.Type,
			"order_id":     op.OrderId,
			"attempt":      op.Attempts,
		}).Error("operation failed permanently: " + msg)
		return outcomeFailed

	default: // KindTransient
		msg := errMessage(res.Err)
		if op.Attempts < e.Config.MaxRetries {
			next := now.Add(NextDelay(op.Attempts, e.Config))
			if err := models.MarkOperationPending(db, op.ID, msg, next); err != nil {
				e.logError("processOne", "requeueing operation", op.ID, err)
			}
			e.Logger.WithFields(logrus.Fields{
				"field":         "RetryEngine",
				"operation_id":  op.ID,
				"type":          op.Type,
				"order_id":      op.OrderId,
				"attempt":       op.Attempts,
				"next_retry_at": next.Format(time.RFC3339Nano),
			}).Warn("operation attempt failed: " + msg)
			return outcomeRequeued
		}

		if err := models.MarkOperationFailed(db, op.ID, msg); err != nil {
			e.logError("processOne", "marking exhausted operation failed", op.ID, err)
		}
		e.Logger.WithFields(logrus.Fields{
			"field":        "RetryEngine",
			"operation_id": op.ID,
			"type":         op.Type,
			"order_id":     op.OrderId,
			"attempt":      op.Attempts,
		}).Error("operation failed after max retries: " + msg)
		return outcomeFailed
	}
}

func errMessage(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
