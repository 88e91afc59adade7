package payments

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v78"
	"github.com/ttacon/libphonenumber"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/retry"
	"github.com/inboundr/art-framer-sub005/utils"
)

// Materializer turns a successful payment event into a persisted order and
// kicks off remote fulfillment. It is safe against webhook redelivery and
// against concurrent delivery of the same event: the unique constraint on
// the payment session id makes the insert race lose gracefully.
type Materializer struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Engine *retry.Engine
}

// HandleSessionCompleted materializes the order for a completed checkout
// session. A nil return means the event is fully handled or intentionally
// dropped; a non-nil return asks the payment provider to redeliver.
func (m *Materializer) HandleSessionCompleted(ctx context.Context, session stripe.CheckoutSession) error {
	db := m.DB.WithContext(ctx)
	log := m.Logger.WithFields(logrus.Fields{
		"field":      "OrderMaterializer",
		"session_id": session.ID,
	})

	userId := session.Metadata["userId"]
	cartItemIds, idsErr := parseCartItemIds(session.Metadata["cartItemIds"])
	if userId == "" || idsErr != nil || len(cartItemIds) == 0 {
		// Malformed event. The source cannot be reconstructed, so this is
		// dropped on purpose, loudly.
		log.WithFields(logrus.Fields{
			"user_id":       userId,
			"cart_item_ids": session.Metadata["cartItemIds"],
		}).Error("dropping malformed payment event: missing userId or cartItemIds metadata")
		return nil
	}
	log = log.WithFields(logrus.Fields{"user_id": userId, "cart_item_ids": cartItemIds})

	existing, err := models.GetOrderBySessionId(db, session.ID)
	if err != nil {
		return err
	}
	if existing != nil {
		return m.resume(ctx, existing, userId, cartItemIds, session, log)
	}

	cartItems, err := models.LoadCartItems(db, userId, cartItemIds)
	if err != nil {
		return err
	}
	if len(cartItems) == 0 {
		// The idempotency check above should have caught a completed run;
		// an empty cart here is an anomaly worth a human look, not a crash.
		log.Error("dropping payment event: cart items already cleared and no order exists for session")
		return nil
	}

	address, addressSource := m.resolveShippingAddress(ctx, session)

	order := buildOrder(session, userId, address)
	if err := db.Create(order).Error; err != nil {
		if utils.IsDuplicateKeyErr(err) {
			// A concurrent delivery inserted first. The row exists; carry on
			// as if the idempotency check had found it.
			winner, lerr := models.GetOrderBySessionId(db, session.ID)
			if lerr != nil || winner == nil {
				return fmt.Errorf("loading order after duplicate insert for session %s: %w", session.ID, lerr)
			}
			return m.resume(ctx, winner, userId, cartItemIds, session, log)
		}
		return err
	}

	if err := models.AppendOrderLog(db, order.ID, "order_materialized",
		fmt.Sprintf("session=%s address_source=%s", session.ID, addressSource)); err != nil {
		log.Warn("failed to append order log: " + err.Error())
	}
	if addressSource == addressSourcePlaceholder {
		if err := models.AppendOrderLog(db, order.ID, "placeholder_address",
			"no shipping address available; order needs manual address fixup"); err != nil {
			log.Warn("failed to append order log: " + err.Error())
		}
	}

	if err := m.completeMaterialization(ctx, order, userId, cartItemIds, cartItems, log); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"order_id": order.ID, "order_number": order.OrderNumber}).
		Info("order materialized")
	return nil
}

// resume finishes a partially materialized order: line items, dropship
// placeholders, cart cleanup and scheduling are each individually idempotent.
// A run can die between any two of them, so existing line items only prove
// the order got that far; the later steps are always re-driven.
func (m *Materializer) resume(ctx context.Context, order *models.Order, userId string, cartItemIds []int, session stripe.CheckoutSession, log *logrus.Entry) error {
	db := m.DB.WithContext(ctx)

	lineItems, err := models.GetOrderLineItems(db, order.ID)
	if err != nil {
		return err
	}
	if len(lineItems) > 0 {
		// The cart may already be gone, so the provider set comes from the
		// persisted line items instead.
		productIds := make([]int, 0, len(lineItems))
		for _, it := range lineItems {
			productIds = append(productIds, it.ProductId)
		}
		products, err := models.GetProducts(db, productIds)
		if err != nil {
			return err
		}
		return m.finishFulfillment(ctx, order, userId, cartItemIds, products)
	}

	cartItems, err := models.LoadCartItems(db, userId, cartItemIds)
	if err != nil {
		return err
	}
	if len(cartItems) == 0 {
		log.WithFields(logrus.Fields{"order_id": order.ID}).
			Error("order exists without line items and cart is gone; manual replay required")
		return nil
	}
	log.WithFields(logrus.Fields{"order_id": order.ID}).
		Warn("resuming partial materialization")
	return m.completeMaterialization(ctx, order, userId, cartItemIds, cartItems, log)
}

func (m *Materializer) completeMaterialization(ctx context.Context, order *models.Order, userId string, cartItemIds []int, cartItems []models.CartItem, log *logrus.Entry) error {
	db := m.DB.WithContext(ctx)

	productIds := make([]int, 0, len(cartItems))
	for _, ci := range cartItems {
		productIds = append(productIds, ci.ProductId)
	}
	products, err := models.GetProducts(db, productIds)
	if err != nil {
		return err
	}

	for _, ci := range cartItems {
		item := models.OrderLineItem{
			OrderId:    order.ID,
			ProductId:  ci.ProductId,
			Quantity:   ci.Quantity,
			UnitPrice:  ci.UnitPrice,
			TotalPrice: ci.UnitPrice.Mul(decimal.NewFromInt(int64(ci.Quantity))),
		}
		if err := db.Create(&item).Error; err != nil && !utils.IsDuplicateKeyErr(err) {
			return err
		}
	}

	return m.finishFulfillment(ctx, order, userId, cartItemIds, products)
}

// finishFulfillment drives the steps after line-item creation: dropship
// placeholders, cart cleanup and remote-order scheduling. Every step
// tolerates having already run.
func (m *Materializer) finishFulfillment(ctx context.Context, order *models.Order, userId string, cartItemIds []int, products map[int]models.Product) error {
	db := m.DB.WithContext(ctx)

	providers := models.DistinctProviders(products)
	for _, provider := range providers {
		ds := models.DropshipOrder{
			OrderId:  order.ID,
			Provider: provider,
			Status:   models.DropshipStatusPending,
		}
		if err := db.Create(&ds).Error; err != nil && !utils.IsDuplicateKeyErr(err) {
			return err
		}
	}

	if err := models.DeleteCartItems(db, userId, cartItemIds); err != nil {
		return err
	}

	scheduled, err := m.scheduledProviders(ctx, order.ID)
	if err != nil {
		return err
	}
	for _, provider := range providers {
		if scheduled[provider] {
			continue
		}
		payload := models.CreateRemoteOrderPayload{Provider: provider}
		if _, err := m.Engine.Schedule(ctx, models.OperationTypeCreateRemoteOrder, order.ID, payload, true); err != nil {
			return err
		}
	}
	return nil
}

// scheduledProviders lists the providers for which a create_remote_order
// operation already exists, so a redelivered event does not pile up
// duplicate operations for work that is merely queued.
func (m *Materializer) scheduledProviders(ctx context.Context, orderId int) (map[string]bool, error) {
	db := m.DB.WithContext(ctx)

	var ops []models.RetryableOperation
	err := db.Where("order_id = ? AND type = ?", orderId, models.OperationTypeCreateRemoteOrder).
		Find(&ops).Error
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(ops))
	for _, op := range ops {
		var payload models.CreateRemoteOrderPayload
		if err := json.Unmarshal(op.Payload, &payload); err == nil && payload.Provider != "" {
			out[payload.Provider] = true
		}
	}
	return out, nil
}

type addressSource string

const (
	addressSourceStored      addressSource = "pending_checkout"
	addressSourceEvent       addressSource = "payment_event"
	addressSourcePlaceholder addressSource = "placeholder"
)

// resolveShippingAddress walks the fallback chain: address captured at
// checkout, then the address embedded in the event, then a marked
// placeholder. A paid order with a best-effort address is recoverable by
// support; a dropped one is not.
func (m *Materializer) resolveShippingAddress(ctx context.Context, session stripe.CheckoutSession) (models.Address, addressSource) {
	db := m.DB.WithContext(ctx)

	pc, err := models.GetPendingCheckout(db, session.ID)
	if err != nil {
		m.Logger.WithFields(logrus.Fields{
			"field":      "OrderMaterializer",
			"session_id": session.ID,
		}).Warn("failed to load pending checkout address: " + err.Error())
	}
	if pc != nil && !pc.ShippingAddress.IsZero() {
		return pc.ShippingAddress, addressSourceStored
	}

	if addr, ok := addressFromSession(session); ok {
		return addr, addressSourceEvent
	}
	return models.PlaceholderAddress(), addressSourcePlaceholder
}

func addressFromSession(session stripe.CheckoutSession) (models.Address, bool) {
	var (
		src  *stripe.Address
		name string
	)
	if session.ShippingDetails != nil && session.ShippingDetails.Address != nil {
		src = session.ShippingDetails.Address
		name = session.ShippingDetails.Name
	} else if session.CustomerDetails != nil && session.CustomerDetails.Address != nil {
		src = session.CustomerDetails.Address
		name = session.CustomerDetails.Name
	}
	if src == nil || src.Line1 == "" {
		return models.Address{}, false
	}
	return models.Address{
		Name:       name,
		Line1:      src.Line1,
		Line2:      src.Line2,
		City:       src.City,
		State:      src.State,
		PostalCode: src.PostalCode,
		Country:    src.Country,
	}, true
}

func buildOrder(session stripe.CheckoutSession, userId string, address models.Address) *models.Order {
	order := &models.Order{
		OrderNumber:              models.NewOrderNumber(nowUTC()),
		ExternalPaymentSessionId: session.ID,
		UserId:                   userId,
		Status:                   models.OrderStatusPaid,
		Subtotal:                 centsToDecimal(session.AmountSubtotal),
		Total:                    centsToDecimal(session.AmountTotal),
		Currency:                 strings.ToUpper(string(session.Currency)),
		ShippingAddress:          address,
		BillingAddress:           address,
	}
	if session.TotalDetails != nil {
		order.Tax = centsToDecimal(session.TotalDetails.AmountTax)
		order.Shipping = centsToDecimal(session.TotalDetails.AmountShipping)
	}
	if session.CustomerDetails != nil {
		order.CustomerEmail = session.CustomerDetails.Email
		order.CustomerName = session.CustomerDetails.Name
		order.CustomerPhone = normalizePhone(session.CustomerDetails.Phone, address.Country)
	}
	if order.Currency == "" {
		order.Currency = "USD"
	}
	return order
}

// normalizePhone stores customer phone numbers in E.164 so the fulfillment
// provider gets a dialable number. Unparseable input is kept verbatim; a
// best-effort phone beats none for support follow-up.
func normalizePhone(raw string, region string) string {
	if raw == "" {
		return ""
	}
	if region == "" {
		region = "US"
	}
	num, err := libphonenumber.Parse(raw, region)
	if err != nil || !libphonenumber.IsValidNumber(num) {
		return raw
	}
	return libphonenumber.Format(num, libphonenumber.E164)
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

func centsToDecimal(cents int64) decimal.Decimal {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100))
}

func parseCartItemIds(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, fmt.Errorf("empty cartItemIds")
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid cart item id %q: %w", p, err)
		}
		ids = append(ids, n)
	}
	return ids, nil
}
