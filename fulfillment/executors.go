package fulfillment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/inboundr/art-framer-sub005/config"
	"github.com/inboundr/art-framer-sub005/models"
	"github.com/inboundr/art-framer-sub005/retry"
)

// CreateRemoteOrderExecutor submits an order to the fulfillment provider.
// Re-running it for an order whose dropship record already carries a
// provider order id is a no-op success.
type CreateRemoteOrderExecutor struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Client ProviderClient
}

func (x *CreateRemoteOrderExecutor) Execute(ctx context.Context, op models.RetryableOperation) retry.Result {
	db := x.DB.WithContext(ctx)

	var payload models.CreateRemoteOrderPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding create_remote_order payload: %w", err))
	}
	provider := payload.Provider
	if provider == "" {
		provider = models.ProviderProdigi
	}

	order, err := models.GetOrder(db, op.OrderId)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return retry.Permanent(fmt.Errorf("order %d not found", op.OrderId))
		}
		return retry.Transient(err)
	}

	ds, err := models.GetDropshipOrder(db, op.OrderId, provider)
	if err != nil {
		return retry.Transient(err)
	}
	if ds == nil {
		// Placeholder missing (partial materialization); create it so the
		// rest of this run and any replay have a row to claim.
		ds = &models.DropshipOrder{
			OrderId:  op.OrderId,
			Provider: provider,
			Status:   models.DropshipStatusPending,
		}
		if err := db.Create(ds).Error; err != nil {
			return retry.Transient(err)
		}
	}

	if ds.ProviderOrderId != nil {
		// The remote order exists. Make sure the parent order advanced too,
		// in case a previous run died between the two writes.
		if order.Status == models.OrderStatusPaid {
			if err := models.UpdateOrderStatus(db, order.ID, models.OrderStatusProcessing); err != nil {
				return retry.Transient(err)
			}
		}
		return retry.AlreadyDone("provider order already created: " + *ds.ProviderOrderId)
	}

	req, err := x.buildRequest(db, order)
	if err != nil {
		return retry.Permanent(err)
	}

	remote, err := x.Client.CreateOrder(ctx, req)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsValidation() {
			return retry.Permanent(err)
		}
		return retry.Transient(err)
	}

	info := models.RemoteOrderInfo{
		ProviderOrderId:   remote.ID,
		Status:            MapProviderStage(remote.Stage),
		TrackingNumber:    remote.TrackingNumber,
		TrackingUrl:       remote.TrackingUrl,
		EstimatedDelivery: remote.EstimatedDelivery,
		RawResponse:       remote.Raw,
	}
	if err := models.SetProviderOrder(db, ds.ID, info); err != nil {
		return retry.Transient(err)
	}
	if err := models.UpdateOrderStatus(db, order.ID, models.OrderStatusProcessing); err != nil {
		return retry.Transient(err)
	}
	if err := models.AppendOrderLog(db, order.ID, "remote_order_created",
		fmt.Sprintf("provider=%s provider_order_id=%s stage=%s", provider, remote.ID, remote.Stage)); err != nil {
		config.LogError(x.Logger, "fulfillment", "CreateRemoteOrderExecutor", "appending order log", order.ID, err)
	}

	result, _ := json.Marshal(map[string]string{
		"provider_order_id": remote.ID,
		"status":            string(info.Status),
	})
	return retry.Ok(result)
}

func (x *CreateRemoteOrderExecutor) buildRequest(db *gorm.DB, order *models.Order) (CreateOrderRequest, error) {
	items, err := models.GetOrderLineItems(db, order.ID)
	if err != nil {
		return CreateOrderRequest{}, err
	}
	if len(items) == 0 {
		return CreateOrderRequest{}, fmt.Errorf("order %d has no line items", order.ID)
	}

	productIds := make([]int, 0, len(items))
	for _, it := range items {
		productIds = append(productIds, it.ProductId)
	}
	products, err := models.GetProducts(db, productIds)
	if err != nil {
		return CreateOrderRequest{}, err
	}

	req := CreateOrderRequest{
		MerchantReference: order.OrderNumber,
		ShippingMethod:    "Standard",
		Recipient: Recipient{
			Name:  order.ShippingAddress.Name,
			Email: order.CustomerEmail,
			Address: RecipientAddr{
				Line1:           order.ShippingAddress.Line1,
				Line2:           order.ShippingAddress.Line2,
				TownOrCity:      order.ShippingAddress.City,
				StateOrCounty:   order.ShippingAddress.State,
				PostalOrZipCode: order.ShippingAddress.PostalCode,
				CountryCode:     order.ShippingAddress.Country,
			},
		},
	}
	for _, it := range items {
		p, ok := products[it.ProductId]
		if !ok || p.ProviderSku == "" {
			return CreateOrderRequest{}, fmt.Errorf("product %d has no provider sku mapping", it.ProductId)
		}
		req.Items = append(req.Items, OrderItem{
			Sku:    p.ProviderSku,
			Copies: it.Quantity,
			Sizing: "fillPrintArea",
			Assets: []Asset{{PrintArea: "default", Url: p.ImageUrl}},
		})
	}
	return req, nil
}

// RefreshRemoteStatusExecutor re-reads a provider order and projects the
// remote status onto the local records.
type RefreshRemoteStatusExecutor struct {
	DB     *gorm.DB
	Logger *logrus.Logger
	Client ProviderClient
}

func (x *RefreshRemoteStatusExecutor) Execute(ctx context.Context, op models.RetryableOperation) retry.Result {
	db := x.DB.WithContext(ctx)

	var payload models.RefreshStatusPayload
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return retry.Permanent(fmt.Errorf("decoding refresh_remote_status payload: %w", err))
	}
	provider := payload.Provider
	if provider == "" {
		provider = models.ProviderProdigi
	}

	ds, err := models.GetDropshipOrder(db, op.OrderId, provider)
	if err != nil {
		return retry.Transient(err)
	}
	if ds == nil || ds.ProviderOrderId == nil {
		return retry.Permanent(fmt.Errorf("order %d has no %s provider order to refresh", op.OrderId, provider))
	}

	remote, err := x.Client.GetOrder(ctx, *ds.ProviderOrderId)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.IsValidation() {
			return retry.Permanent(err)
		}
		return retry.Transient(err)
	}

	status := MapProviderStage(remote.Stage)
	trackingAppeared := ds.TrackingNumber == nil && remote.TrackingNumber != nil

	info := models.RemoteOrderInfo{
		ProviderOrderId:   remote.ID,
		Status:            status,
		TrackingNumber:    remote.TrackingNumber,
		TrackingUrl:       remote.TrackingUrl,
		EstimatedDelivery: remote.EstimatedDelivery,
		RawResponse:       remote.Raw,
	}
	if err := models.RefreshProviderStatus(db, ds.ID, info); err != nil {
		return retry.Transient(err)
	}

	if next, ok := orderStatusFromDropship(status); ok {
		if err := models.UpdateOrderStatus(db, op.OrderId, next); err != nil {
			return retry.Transient(err)
		}
	}
	if ds.Status != status || trackingAppeared {
		details := fmt.Sprintf("provider=%s stage=%s status=%s", provider, remote.Stage, status)
		if err := models.AppendOrderLog(db, op.OrderId, "remote_status_refreshed", details); err != nil {
			config.LogError(x.Logger, "fulfillment", "RefreshRemoteStatusExecutor", "appending order log", op.OrderId, err)
		}
	}

	result, _ := json.Marshal(map[string]string{
		"provider_order_id": remote.ID,
		"status":            string(status),
	})
	return retry.Ok(result)
}

// orderStatusFromDropship escalates the parent order when the remote order
// reaches a status the customer cares about.
func orderStatusFromDropship(s models.DropshipStatus) (models.OrderStatus, bool) {
	switch s {
	case models.DropshipStatusShipped:
		return models.OrderStatusShipped, true
	case models.DropshipStatusDelivered:
		return models.OrderStatusDelivered, true
	default:
		return "", false
	}
}
