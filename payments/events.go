package payments

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/retry"
)

// Post-materialization payment events are plain status projections on the
// order. They never schedule fulfillment work; a failed payment must not
// create a remote order.

// HandleAsyncPaymentFailed cancels the order for a checkout session whose
// delayed payment method ultimately failed.
func (m *Materializer) HandleAsyncPaymentFailed(ctx context.Context, session stripe.CheckoutSession) error {
	return m.projectStatus(ctx, session.ID, models.OrderStatusCancelled, "payment_failed",
		"async payment failed for session "+session.ID,
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusPaid})
}

// HandlePaymentFailed projects a failed payment intent onto its order, found
// through the session id carried in the intent metadata.
func (m *Materializer) HandlePaymentFailed(ctx context.Context, intent stripe.PaymentIntent) error {
	sessionId := intent.Metadata["sessionId"]
	if sessionId == "" {
		m.Logger.WithFields(logrus.Fields{
			"field":     "PaymentEvents",
			"intent_id": intent.ID,
		}).Warn("payment_failed event has no sessionId metadata; dropping")
		return nil
	}
	return m.projectStatus(ctx, sessionId, models.OrderStatusCancelled, "payment_failed",
		"payment intent "+intent.ID+" failed",
		[]models.OrderStatus{models.OrderStatusPending, models.OrderStatusPaid})
}

// HandleDisputeCreated flags the order as disputed regardless of its current
// fulfillment progress.
func (m *Materializer) HandleDisputeCreated(ctx context.Context, dispute stripe.Dispute) error {
	sessionId := ""
	if dispute.PaymentIntent != nil {
		sessionId = dispute.PaymentIntent.Metadata["sessionId"]
	}
	if sessionId == "" {
		m.Logger.WithFields(logrus.Fields{
			"field":      "PaymentEvents",
			"dispute_id": dispute.ID,
		}).Warn("dispute event cannot be correlated to an order; dropping")
		return nil
	}
	return m.projectStatus(ctx, sessionId, models.OrderStatusDisputed, "dispute_created",
		"dispute "+dispute.ID+" opened", nil)
}

// HandleChargeRefunded marks the order refunded.
func (m *Materializer) HandleChargeRefunded(ctx context.Context, charge stripe.Charge) error {
	sessionId := charge.Metadata["sessionId"]
	if sessionId == "" {
		m.Logger.WithFields(logrus.Fields{
			"field":     "PaymentEvents",
			"charge_id": charge.ID,
		}).Warn("refund event has no sessionId metadata; dropping")
		return nil
	}
	return m.projectStatus(ctx, sessionId, models.OrderStatusRefunded, "charge_refunded",
		"charge "+charge.ID+" refunded", nil)
}

// SchedulePaymentEventSync queues the downstream ledger-sync side effect for
// a succeeded payment intent. Missing correlation is dropped quietly: the
// materializer path owns the order itself.
func (m *Materializer) SchedulePaymentEventSync(ctx context.Context, intent stripe.PaymentIntent) error {
	sessionId := intent.Metadata["sessionId"]
	if sessionId == "" {
		return nil
	}
	db := m.DB.WithContext(ctx)
	order, err := models.GetOrderBySessionId(db, sessionId)
	if err != nil {
		return err
	}
	if order == nil {
		// Intent event raced ahead of session materialization. The session
		// event carries everything needed, so nothing is lost.
		return nil
	}
	payload := models.PaymentEventPayload{
		EventId:   intent.ID,
		EventType: "payment_intent.succeeded",
		SessionId: sessionId,
	}
	_, err = m.Engine.Schedule(ctx, models.OperationTypeProcessPaymentEvent, order.ID, payload, false)
	return err
}

// projectStatus applies a terminal-ish payment status onto the order. When
// onlyFrom is non-empty the transition applies only from those statuses so a
// late event cannot regress a shipped order.
func (m *Materializer) projectStatus(ctx context.Context, sessionId string, to models.OrderStatus, action, details string, onlyFrom []models.OrderStatus) error {
	db := m.DB.WithContext(ctx)
	order, err := models.GetOrderBySessionId(db, sessionId)
	if err != nil {
		return err
	}
	if order == nil {
		m.Logger.WithFields(logrus.Fields{
			"field":      "PaymentEvents",
			"session_id": sessionId,
			"action":     action,
		}).Info("no order for session; payment event ignored")
		return nil
	}

	q := db.Model(&models.Order{}).Where("id = ?", order.ID)
	if len(onlyFrom) > 0 {
		q = q.Where("status IN ?", onlyFrom)
	}
	res := q.Update("status", to)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}
	if err := models.AppendOrderLog(db, order.ID, action, details); err != nil {
		m.Logger.Warn("failed to append order log: " + err.Error())
	}
	return nil
}

// PaymentEventExecutor is the process_payment_event executor: the hook for
// secondary payment side effects (ledger sync). Today the downstream ledger
// is fed from the notifications topic, so the executor only records that the
// event was seen, exactly once per event id.
type PaymentEventExecutor struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

func (x *PaymentEventExecutor) Execute(ctx context.Context, op models.RetryableOperation) retry.Result {
	db := x.DB.WithContext(ctx)

	var payload models.PaymentEventPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding process_payment_event payload: %w", err))
	}

	details := fmt.Sprintf("event=%s type=%s session=%s", payload.EventId, payload.EventType, payload.SessionId)
	var count int64
	err := db.Model(&models.OrderLog{}).
		Where("order_id = ? AND action = ? AND details = ?", op.OrderId, "payment_event_processed", details).
		Count(&count).Error
	if err != nil {
		return retry.Transient(err)
	}
	if count > 0 {
		return retry.AlreadyDone("payment event " + payload.EventId + " already processed")
	}

	if err := models.AppendOrderLog(db, op.OrderId, "payment_event_processed", details); err != nil {
		return retry.Transient(err)
	}
	result, _ := json.Marshal(map[string]string{"event_id": payload.EventId})
	return retry.Ok(result)
}
