// Package notify is the customer notification sink: a durable DB row plus a
// best-effort publish to the notifications topic. Notification failures are
// retried by their own operation and never block fulfillment.
package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/config"
	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/retry"
	"github.com/inboundr/art-framer-sub005/utils"
)

var validate = validator.New()

type Notifier struct {
	DB     *gorm.DB
	Logger *logrus.Logger
}

// Create persists the notification and publishes it when a topic is
// configured. The DB row is the source of truth; publish failures surface as
// errors so the operation retries.
func (n *Notifier) Create(ctx context.Context, orderId int, payload models.NotificationPayload) (string, error) {
	db := n.DB.WithContext(ctx)

	metadata, err := json.Marshal(payload.Metadata)
	if err != nil {
		return "", err
	}
	row := models.Notification{
		ID:       uuid.NewString(),
		OrderId:  orderId,
		Type:     payload.Type,
		Title:    payload.Title,
		Message:  payload.Message,
		Metadata: metadata,
	}
	if err := db.Create(&row).Error; err != nil {
		return "", err
	}

	if config.NotificationsConfigured() {
		correlationId, _ := utils.GetCorrelationIdFromContext(ctx)
		msg := config.NotificationMessage{
			NotificationId: row.ID,
			OrderId:        orderId,
			Type:           payload.Type,
			Title:          payload.Title,
			Message:        payload.Message,
			Metadata:       payload.Metadata,
			CorrelationId:  correlationId,
		}
		if _, err := config.PublishNotification(ctx, msg); err != nil {
			return row.ID, fmt.Errorf("publishing notification %s: %w", row.ID, err)
		}
	}
	return row.ID, nil
}

// SendNotificationExecutor is the send_notification executor. A row already
// existing for this operation means a previous attempt got as far as the
// insert; it short-circuits instead of double-notifying.
type SendNotificationExecutor struct {
	Notifier *Notifier
}

func (x *SendNotificationExecutor) Execute(ctx context.Context, op models.RetryableOperation) retry.Result {
	var payload models.NotificationPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding send_notification payload: %w", err))
	}
	if err := validate.Struct(payload); err != nil {
		return retry.Permanent(fmt.Errorf("invalid notification payload: %w", err))
	}

	db := x.Notifier.DB.WithContext(ctx)
	var count int64
	err := db.Model(&models.Notification{}).
		Where("order_id = ? AND type = ? AND title = ?", op.OrderId, payload.Type, payload.Title).
		Count(&count).Error
	if err != nil {
		return retry.Transient(err)
	}
	if count > 0 {
		return retry.AlreadyDone("notification already created for order")
	}

	id, err := x.Notifier.Create(ctx, op.OrderId, payload)
	if err != nil {
		return retry.Transient(err)
	}
	result, _ := json.Marshal(map[string]string{"notification_id": id})
	return retry.Ok(result)
}
