package payments

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
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

func testLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// newTestMaterializer wires a materializer whose create_remote_order
// executor succeeds without touching any provider.
func newTestMaterializer(t *testing.T, db *gorm.DB) *Materializer {
	t.Helper()
	registry := retry.NewRegistry()
	registry.Register(models.OperationTypeCreateRemoteOrder,
		retry.ExecutorFunc(func(ctx context.Context, op models.RetryableOperation) retry.Result {
			return retry.Ok(nil)
		}))
	engine := retry.NewEngine(db, testLogger(), registry)
	return &Materializer{DB: db, Logger: testLogger(), Engine: engine}
}

func seedCart(t *testing.T, db *gorm.DB, userId string, productCount int) []int {
	t.Helper()
	ids := make([]int, 0, productCount)
	for i := 0; i < productCount; i++ {
		product := &models.Product{
			Name:        fmt.Sprintf("Print %d", i),
			Provider:    models.ProviderProdigi,
			ProviderSku: fmt.Sprintf("SKU-%d", i),
			ImageUrl:    "https://cdn.example.com/art.png",
			Price:       decimal.NewFromInt(40),
		}
		if err := db.Create(product).Error; err != nil {
			t.Fatalf("seeding product: %v", err)
		}
		item := &models.CartItem{
			UserId:    userId,
			ProductId: product.ID,
			Quantity:  1 + i,
			UnitPrice: product.Price,
		}
		if err := db.Create(item).Error; err != nil {
			t.Fatalf("seeding cart item: %v", err)
		}
		ids = append(ids, item.ID)
	}
	return ids
}

func joinIds(ids []int) string {
	s := ""
	for i, id := range ids {
		if i > 0 {
			s += ","
		}
		s += fmt.Sprint(id)
	}
	return s
}

func completedSession(sessionId, userId string, cartItemIds []int) stripe.CheckoutSession {
	return stripe.CheckoutSession{
		ID:             sessionId,
		AmountSubtotal: 12000,
		AmountTotal:    13500,
		Currency:       stripe.CurrencyUSD,
		Metadata: map[string]string{
			"userId":      userId,
			"cartItemIds": joinIds(cartItemIds),
		},
		TotalDetails: &stripe.CheckoutSessionTotalDetails{
			AmountTax:      500,
			AmountShipping: 1000,
		},
		CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
			Email: "buyer@example.com",
			Name:  "Ava Buyer",
		},
		ShippingDetails: &stripe.ShippingDetails{
			Name: "Ava Buyer",
			Address: &stripe.Address{
				Line1:      "1 Print Street",
				City:       "Austin",
				State:      "TX",
				PostalCode: "78701",
				Country:    "US",
			},
		},
	}
}

func TestMaterializeCreatesOrder(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)
	cartIds := seedCart(t, db, "user-1", 2)

	session := completedSession("cs_happy", "user-1", cartIds)
	if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
		t.Fatalf("HandleSessionCompleted: %v", err)
	}

	order, err := models.GetOrderBySessionId(db, "cs_happy")
	if err != nil || order == nil {
		t.Fatalf("order not materialized: %v", err)
	}
	if order.Status != models.OrderStatusPaid {
		t.Errorf("order status = %s, want paid", order.Status)
	}
	if !order.Total.Equal(decimal.NewFromInt(135)) {
		t.Errorf("total = %s, want 135", order.Total)
	}
	if !order.Tax.Equal(decimal.NewFromInt(5)) {
		t.Errorf("tax = %s, want 5", order.Tax)
	}
	if order.ShippingAddress.Line1 != "1 Print Street" {
		t.Errorf("shipping line1 = %q", order.ShippingAddress.Line1)
	}

	items, err := models.GetOrderLineItems(db, order.ID)
	if err != nil {
		t.Fatalf("loading line items: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("line items = %d, want 2", len(items))
	}
	for _, item := range items {
		want := decimal.NewFromInt(40).Mul(decimal.NewFromInt(int64(item.Quantity)))
		if !item.TotalPrice.Equal(want) {
			t.Errorf("line total = %s, want %s (40 x %d)", item.TotalPrice, want, item.Quantity)
		}
	}

	ds, err := models.GetDropshipOrder(db, order.ID, models.ProviderProdigi)
	if err != nil || ds == nil {
		t.Fatalf("dropship placeholder missing: %v", err)
	}

	remaining, err := models.LoadCartItems(db, "user-1", cartIds)
	if err != nil {
		t.Fatalf("loading cart: %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("cart items remaining = %d, want 0", len(remaining))
	}

	var opCount int64
	db.Model(&models.RetryableOperation{}).
		Where("order_id = ? AND type = ?", order.ID, models.OperationTypeCreateRemoteOrder).
		Count(&opCount)
	if opCount == 0 {
		t.Error("no create_remote_order operation scheduled")
	}
}

func TestDuplicateDeliveryIsNoOp(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)
	cartIds := seedCart(t, db, "user-1", 1)
	session := completedSession("cs_dup", "user-1", cartIds)

	for i := 0; i < 3; i++ {
		if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
			t.Fatalf("delivery %d: %v", i+1, err)
		}
	}

	var orderCount int64
	db.Model(&models.Order{}).Where("external_payment_session_id = ?", "cs_dup").Count(&orderCount)
	if orderCount != 1 {
		t.Fatalf("orders = %d, want 1", orderCount)
	}
	order, _ := models.GetOrderBySessionId(db, "cs_dup")
	items, _ := models.GetOrderLineItems(db, order.ID)
	if len(items) != 1 {
		t.Errorf("line items = %d, want 1", len(items))
	}

	var opCount int64
	db.Model(&models.RetryableOperation{}).
		Where("order_id = ? AND type = ?", order.ID, models.OperationTypeCreateRemoteOrder).
		Count(&opCount)
	if opCount != 1 {
		t.Errorf("operations = %d, want 1 (redelivery must not pile up duplicates)", opCount)
	}
}

func TestConcurrentDeliveryCreatesOneOrder(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)
	cartIds := seedCart(t, db, "user-1", 2)
	session := completedSession("cs_race", "user-1", cartIds)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			errs[n] = m.HandleSessionCompleted(context.Background(), session)
		}(i)
	}
	wg.Wait()
	for i, err := range errs {
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
	}

	var orderCount int64
	db.Model(&models.Order{}).Where("external_payment_session_id = ?", "cs_race").Count(&orderCount)
	if orderCount != 1 {
		t.Fatalf("orders = %d, want 1", orderCount)
	}
	order, _ := models.GetOrderBySessionId(db, "cs_race")
	items, _ := models.GetOrderLineItems(db, order.ID)
	if len(items) != 2 {
		t.Errorf("line items = %d, want 2", len(items))
	}
	var dsCount int64
	db.Model(&models.DropshipOrder{}).Where("order_id = ?", order.ID).Count(&dsCount)
	if dsCount != 1 {
		t.Errorf("dropship orders = %d, want 1", dsCount)
	}
}

func TestMalformedEventDropped(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)

	cases := []map[string]string{
		{},
		{"userId": "user-1"},
		{"userId": "user-1", "cartItemIds": "a,b"},
		{"cartItemIds": "1,2"},
	}
	for i, metadata := range cases {
		session := stripe.CheckoutSession{ID: fmt.Sprintf("cs_bad_%d", i), Metadata: metadata}
		if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
			t.Errorf("case %d: malformed event must be dropped, got %v", i, err)
		}
	}

	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Errorf("orders = %d, want 0", orderCount)
	}
}

func TestClearedCartWithoutOrderDropped(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)

	session := completedSession("cs_ghost", "user-1", []int{991, 992})
	if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
		t.Fatalf("anomalous event must be dropped, got %v", err)
	}
	var orderCount int64
	db.Model(&models.Order{}).Count(&orderCount)
	if orderCount != 0 {
		t.Errorf("orders = %d, want 0", orderCount)
	}
}

func TestAddressResolution(t *testing.T) {
	t.Run("stored checkout address wins", func(t *testing.T) {
		db := newTestDB(t)
		m := newTestMaterializer(t, db)
		cartIds := seedCart(t, db, "user-1", 1)

		pc := &models.PendingCheckout{
			SessionId: "cs_addr",
			UserId:    "user-1",
			ShippingAddress: models.Address{
				Name:       "Ava Buyer",
				Line1:      "9 Stored Road",
				City:       "Denver",
				PostalCode: "80201",
				Country:    "US",
			},
		}
		if err := db.Create(pc).Error; err != nil {
			t.Fatalf("seeding pending checkout: %v", err)
		}

		session := completedSession("cs_addr", "user-1", cartIds)
		if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
			t.Fatalf("HandleSessionCompleted: %v", err)
		}
		order, _ := models.GetOrderBySessionId(db, "cs_addr")
		if order.ShippingAddress.Line1 != "9 Stored Road" {
			t.Errorf("shipping line1 = %q, want stored address", order.ShippingAddress.Line1)
		}
	})

	t.Run("falls back to event address", func(t *testing.T) {
		db := newTestDB(t)
		m := newTestMaterializer(t, db)
		cartIds := seedCart(t, db, "user-1", 1)

		session := completedSession("cs_addr", "user-1", cartIds)
		if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
			t.Fatalf("HandleSessionCompleted: %v", err)
		}
		order, _ := models.GetOrderBySessionId(db, "cs_addr")
		if order.ShippingAddress.Line1 != "1 Print Street" {
			t.Errorf("shipping line1 = %q, want event address", order.ShippingAddress.Line1)
		}
	})

	t.Run("placeholder when nothing available", func(t *testing.T) {
		db := newTestDB(t)
		m := newTestMaterializer(t, db)
		cartIds := seedCart(t, db, "user-1", 1)

		session := completedSession("cs_addr", "user-1", cartIds)
		session.ShippingDetails = nil
		session.CustomerDetails.Address = nil
		if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
			t.Fatalf("HandleSessionCompleted: %v", err)
		}
		order, _ := models.GetOrderBySessionId(db, "cs_addr")
		if order.ShippingAddress.Name != models.PlaceholderAddressName {
			t.Errorf("shipping name = %q, want placeholder marker", order.ShippingAddress.Name)
		}

		var logCount int64
		db.Model(&models.OrderLog{}).
			Where("order_id = ? AND action = ?", order.ID, "placeholder_address").
			Count(&logCount)
		if logCount != 1 {
			t.Errorf("placeholder_address log entries = %d, want 1", logCount)
		}
	})
}

func TestResumeCreatesMissingLineItems(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)
	cartIds := seedCart(t, db, "user-1", 2)

	// An earlier run crashed after the order insert: order exists, no line
	// items, cart untouched.
	order := &models.Order{
		OrderNumber:              models.NewOrderNumber(nowUTC()),
		ExternalPaymentSessionId: "cs_resume",
		UserId:                   "user-1",
		Status:                   models.OrderStatusPaid,
		Currency:                 "USD",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seeding order: %v", err)
	}

	session := completedSession("cs_resume", "user-1", cartIds)
	if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
		t.Fatalf("HandleSessionCompleted: %v", err)
	}

	items, _ := models.GetOrderLineItems(db, order.ID)
	if len(items) != 2 {
		t.Fatalf("line items = %d, want 2 after resume", len(items))
	}
	remaining, _ := models.LoadCartItems(db, "user-1", cartIds)
	if len(remaining) != 0 {
		t.Errorf("cart items remaining = %d, want 0", len(remaining))
	}
	var orderCount int64
	db.Model(&models.Order{}).Where("external_payment_session_id = ?", "cs_resume").Count(&orderCount)
	if orderCount != 1 {
		t.Errorf("orders = %d, want 1", orderCount)
	}
}

func TestResumeCompletesFulfillmentAfterLineItems(t *testing.T) {
	db := newTestDB(t)
	m := newTestMaterializer(t, db)
	cartIds := seedCart(t, db, "user-1", 1)

	// An earlier run crashed right after the line-item inserts: order and
	// line items exist, but no dropship placeholder, no scheduled operation,
	// and the cart was never cleaned up.
	order := &models.Order{
		OrderNumber:              models.NewOrderNumber(nowUTC()),
		ExternalPaymentSessionId: "cs_stall",
		UserId:                   "user-1",
		Status:                   models.OrderStatusPaid,
		Currency:                 "USD",
	}
	if err := db.Create(order).Error; err != nil {
		t.Fatalf("seeding order: %v", err)
	}
	cartItems, err := models.LoadCartItems(db, "user-1", cartIds)
	if err != nil || len(cartItems) != 1 {
		t.Fatalf("loading seeded cart: %v", err)
	}
	item := models.OrderLineItem{
		OrderId:    order.ID,
		ProductId:  cartItems[0].ProductId,
		Quantity:   cartItems[0].Quantity,
		UnitPrice:  cartItems[0].UnitPrice,
		TotalPrice: cartItems[0].UnitPrice,
	}
	if err := db.Create(&item).Error; err != nil {
		t.Fatalf("seeding line item: %v", err)
	}

	session := completedSession("cs_stall", "user-1", cartIds)
	if err := m.HandleSessionCompleted(context.Background(), session); err != nil {
		t.Fatalf("HandleSessionCompleted: %v", err)
	}

	ds, err := models.GetDropshipOrder(db, order.ID, models.ProviderProdigi)
	if err != nil || ds == nil {
		t.Errorf("dropship placeholder missing after redelivery: %v", err)
	}
	var opCount int64
	db.Model(&models.RetryableOperation{}).
		Where("order_id = ? AND type = ?", order.ID, models.OperationTypeCreateRemoteOrder).
		Count(&opCount)
	if opCount != 1 {
		t.Errorf("create_remote_order operations = %d, want 1 after redelivery", opCount)
	}
	remaining, _ := models.LoadCartItems(db, "user-1", cartIds)
	if len(remaining) != 0 {
		t.Errorf("cart items remaining = %d, want 0", len(remaining))
	}
	items, _ := models.GetOrderLineItems(db, order.ID)
	if len(items) != 1 {
		t.Errorf("line items = %d, want 1 (resume must not duplicate them)", len(items))
	}
}

func TestBuildOrderNormalizesCustomerPhone(t *testing.T) {
	address := models.Address{Line1: "1 Print Street", City: "Austin", PostalCode: "78701", Country: "US"}

	cases := []struct {
		name  string
		phone string
		want  string
	}{
		{"national format", "(512) 555-0134", "+15125550134"},
		{"already e164", "+15125550134", "+15125550134"},
		{"unparseable kept verbatim", "call me maybe", "call me maybe"},
		{"empty stays empty", "", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			session := stripe.CheckoutSession{
				ID: "cs_phone",
				CustomerDetails: &stripe.CheckoutSessionCustomerDetails{
					Email: "buyer@example.com",
					Phone: tc.phone,
				},
			}
			order := buildOrder(session, "user-1", address)
			if order.CustomerPhone != tc.want {
				t.Errorf("customer phone = %q, want %q", order.CustomerPhone, tc.want)
			}
		})
	}
}
