package domain

import "time"

// OrderStatus is the fulfilment status of a paid order.
type OrderStatus string

const (
	// OrderStatusPlaced is the status every order is created with.
	OrderStatusPlaced OrderStatus = "ORDER_PLACED"
	// OrderStatusConfirmed means an admin accepted the order.
	OrderStatusConfirmed OrderStatus = "CONFIRMED"
	// OrderStatusPacked means the parcel is ready for pickup.
	OrderStatusPacked OrderStatus = "PACKED"
	// OrderStatusShipped means the parcel left the warehouse.
	OrderStatusShipped OrderStatus = "SHIPPED"
	// OrderStatusOutForDelivery means a delivery agent holds the parcel.
	OrderStatusOutForDelivery OrderStatus = "OUT_FOR_DELIVERY"
	// OrderStatusDelivered is the terminal status.
	OrderStatusDelivered OrderStatus = "DELIVERED"
)

// OrderStatuses lists the statuses in fulfilment order.
var OrderStatuses = []OrderStatus{
	OrderStatusPlaced,
	OrderStatusConfirmed,
	OrderStatusPacked,
	OrderStatusShipped,
	OrderStatusOutForDelivery,
	OrderStatusDelivered,
}

// Rank returns the position of the status in OrderStatuses, or -1 when unknown.
func (s OrderStatus) Rank() int {
	for i, status := range OrderStatuses {
		if status == s {
			return i
		}
	}
	return -1
}

// Valid reports whether s is one of the known statuses.
func (s OrderStatus) Valid() bool {
	return s.Rank() >= 0
}

// PaymentStatus records whether the gateway captured the payment.
type PaymentStatus string

const (
	PaymentStatusPending PaymentStatus = "PENDING"
	PaymentStatusPaid    PaymentStatus = "PAID"
)

// StatusEntry is one append-only timeline record.
type StatusEntry struct {
	Status    OrderStatus `json:"status"`
	Timestamp time.Time   `json:"timestamp"`
}

// OrderLine is the immutable product snapshot taken at checkout.
type OrderLine struct {
	ProductID string  `json:"productId"`
	Name      string  `json:"name"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
	Image     string  `json:"image,omitempty"`
}

// DeliveryAddress is where the parcel goes.
type DeliveryAddress struct {
	Name       string `json:"name,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Line1      string `json:"line1,omitempty"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city,omitempty"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

// CustomerInfo prefills the payment widget.
type CustomerInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Order is a persisted, paid purchase. Amounts are major units; TotalAmount is
// the grand total including shipping.
type Order struct {
	ID              string          `json:"id,omitempty"`
	UserID          string          `json:"userId"`
	Products        []OrderLine     `json:"products"`
	TotalAmount     float64         `json:"totalAmount"`
	ShippingCharges float64         `json:"shippingCharges"`
	PaymentID       string          `json:"paymentId"`
	GatewayOrderID  string          `json:"gatewayOrderId,omitempty"`
	PaymentStatus   PaymentStatus   `json:"paymentStatus"`
	DeliveryAddress DeliveryAddress `json:"deliveryAddress"`
	CustomerInfo    *CustomerInfo   `json:"customerInfo,omitempty"`
	OrderStatus     OrderStatus     `json:"orderStatus"`
	StatusTimeline  []StatusEntry   `json:"statusTimeline"`
	CreatedAt       time.Time       `json:"createdAt"`
}

// CurrentStatus returns the order status, defaulting legacy documents to ORDER_PLACED.
func (o Order) CurrentStatus() OrderStatus {
	if o.OrderStatus == "" {
		return OrderStatusPlaced
	}
	return o.OrderStatus
}
