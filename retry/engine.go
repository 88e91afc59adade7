package retry

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bsm/redislock"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/config"
	"github.com/inboundr/art-framer-sub005/models"
)

// Engine drives retryable operations through their lifecycle. It holds only
// configuration and injected dependencies; one instance is constructed at
// process start and shared by the webhook path and the background sweeper.
type Engine struct {
	DB       *gorm.DB
	Logger   *logrus.Logger
	Registry *Registry
	Config   Config

	// Locker is optional; when present the sweeper takes a best-effort
	// distributed lock so replicas don't scan the same batch. Correctness
	// rests on the per-operation claim, not on this lock.
	Locker   *redislock.Client
	WorkerID string

	BatchSize    int
	PollInterval time.Duration
	// LockTimeout bounds how long an operation may sit in processing before
	// the sweeper reclaims it as a crashed attempt.
	LockTimeout time.Duration
	// ExecTimeout caps a single executor invocation.
	ExecTimeout time.Duration

	Health HealthThresholds
}

func NewEngine(db *gorm.DB, logger *logrus.Logger, registry *Registry) *Engine {
	return &Engine{
		DB:           db,
		Logger:       logger,
		Registry:     registry,
		Config:       DefaultConfig(),
		WorkerID:     uuid.NewString(),
		BatchSize:    50,
		PollInterval: 15 * time.Second,
		LockTimeout:  2 * time.Minute,
		ExecTimeout:  60 * time.Second,
		Health:       DefaultHealthThresholds(),
	}
}

// Schedule persists a new pending operation for orderId and, when immediate,
// synchronously runs one processing round before returning. Duplicate
// scheduling of the same logical work is allowed; executors are idempotent.
func (e *Engine) Schedule(ctx context.Context, opType models.OperationType, orderId int, payload any, immediate bool) (string, error) {
	db := e.DB.WithContext(ctx)

	// The subject must exist; a dangling operation could never complete.
	if _, err := models.GetOrder(db, orderId); err != nil {
		return "", err
	}

	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	now := time.Now().UTC()
	nextRetryAt := now
	if !immediate {
		nextRetryAt = now.Add(NextDelay(1, e.Config))
	}

	op := models.RetryableOperation{
		ID:          models.NewOperationID(opType, orderId, now),
		Type:        opType,
		OrderId:     orderId,
		Payload:     payloadJSON,
		Status:      models.OperationStatusPending,
		NextRetryAt: &nextRetryAt,
	}
	if err := db.Create(&op).Error; err != nil {
		return "", err
	}

	e.Logger.WithFields(logrus.Fields{
		"field":        "RetryEngine",
		"operation_id": op.ID,
		"type":         opType,
		"order_id":     orderId,
		"immediate":    immediate,
	}).Info("operation scheduled")

	if immediate {
		// Inline processing failure is not a scheduling failure: the row is
		// persisted and the sweep will retry it.
		e.Process(ctx, op.ID)
	}
	return op.ID, nil
}

func (e *Engine) logError(funcName string, context string, data any, err error) {
	config.LogError(e.Logger, "retry", funcName, context, data, err)
}
