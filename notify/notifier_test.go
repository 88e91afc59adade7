package notify

import (
	"context"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/retry"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "test.db") + "?_busy_timeout=10000&_journal_mode=WAL"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	if err := models.MigrateTable(db); err != nil {
		t.Fatalf("migrating test db: %v", err)
	}
	return db
}

func newExecutor(t *testing.T) (*SendNotificationExecutor, *gorm.DB) {
	t.Helper()
	db := newTestDB(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return &SendNotificationExecutor{Notifier: &Notifier{DB: db, Logger: logger}}, db
}

func notificationOp(orderId int, payload string) models.RetryableOperation {
	return models.RetryableOperation{
		ID:      models.NewOperationID(models.OperationTypeSendNotification, orderId, time.Now().UTC()),
		Type:    models.OperationTypeSendNotification,
		OrderId: orderId,
		Payload: []byte(payload),
	}
}

func TestSendNotificationCreatesRow(t *testing.T) {
	x, db := newExecutor(t)

	op := notificationOp(1, `{"type":"order_shipped","title":"Your order shipped","message":"Tracking inside"}`)
	res := x.Execute(context.Background(), op)
	if res.Kind != retry.KindCompleted {
		t.Fatalf("result kind = %s, want completed (err=%v)", res.Kind, res.Err)
	}

	var rows []models.Notification
	db.Where("order_id = ?", 1).Find(&rows)
	if len(rows) != 1 {
		t.Fatalf("notifications = %d, want 1", len(rows))
	}
	if rows[0].Type != "order_shipped" || rows[0].Title != "Your order shipped" {
		t.Errorf("unexpected row: %+v", rows[0])
	}
}

func TestSendNotificationReplayShortCircuits(t *testing.T) {
	x, db := newExecutor(t)

	op := notificationOp(1, `{"type":"order_shipped","title":"Your order shipped"}`)
	if res := x.Execute(context.Background(), op); res.Kind != retry.KindCompleted {
		t.Fatalf("first run kind = %s, want completed", res.Kind)
	}
	if res := x.Execute(context.Background(), op); res.Kind != retry.KindAlreadyDone {
		t.Fatalf("replay kind = %s, want already_done", res.Kind)
	}

	var count int64
	db.Model(&models.Notification{}).Where("order_id = ?", 1).Count(&count)
	if count != 1 {
		t.Errorf("notifications = %d, want 1", count)
	}
}

func TestSendNotificationInvalidPayloadIsPermanent(t *testing.T) {
	x, _ := newExecutor(t)

	cases := []string{
		`not json`,
		`{"type":"order_shipped"}`,
		`{"title":"missing type"}`,
	}
	for _, payload := range cases {
		res := x.Execute(context.Background(), notificationOp(1, payload))
		if res.Kind != retry.KindPermanent {
			t.Errorf("payload %q kind = %s, want permanent", payload, res.Kind)
		}
	}
}
