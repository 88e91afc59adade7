package models

// OperationType identifies the executor responsible for a retryable operation.
type OperationType string

const (
	OperationTypeCreateRemoteOrder   OperationType = "create_remote_order"
	OperationTypeRefreshRemoteStatus OperationType = "refresh_remote_status"
	OperationTypeProcessPaymentEvent OperationType = "process_payment_event"
	OperationTypeSendNotification    OperationType = "send_notification"
)

// OperationStatus is the lifecycle state of a retryable operation.
// completed, failed and cancelled are terminal.
type OperationStatus string

const (
	OperationStatusPending    OperationStatus = "pending"
	OperationStatusProcessing OperationStatus = "processing"
	OperationStatusCompleted  OperationStatus = "completed"
	OperationStatusFailed     OperationStatus = "failed"
	OperationStatusCancelled  OperationStatus = "cancelled"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "pending"
	OrderStatusPaid       OrderStatus = "paid"
	OrderStatusProcessing OrderStatus = "processing"
	OrderStatusShipped    OrderStatus = "shipped"
	OrderStatusDelivered  OrderStatus = "delivered"
	OrderStatusCancelled  OrderStatus = "cancelled"
	OrderStatusRefunded   OrderStatus = "refunded"
	OrderStatusDisputed   OrderStatus = "disputed"
)

type DropshipStatus string

const (
	DropshipStatusPending      DropshipStatus = "pending"
	DropshipStatusSubmitted    DropshipStatus = "submitted"
	DropshipStatusInProduction DropshipStatus = "in_production"
	DropshipStatusShipped      DropshipStatus = "shipped"
	DropshipStatusDelivered    DropshipStatus = "delivered"
	DropshipStatusCancelled    DropshipStatus = "cancelled"
	DropshipStatusFailed       DropshipStatus = "failed"
)

// ProviderProdigi is the only fulfillment vendor wired today. The
// (order_id, provider) uniqueness rule keeps the door open for more.
const ProviderProdigi = "prodigi"
