package domain

import (
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// OrderStatus is the kitchen-side lifecycle of an order.
type OrderStatus string

const (
	OrderPending   OrderStatus = "pending"
	OrderConfirmed OrderStatus = "confirmed"
	OrderPreparing OrderStatus = "preparing"
	OrderReady     OrderStatus = "ready"
	OrderDelivered OrderStatus = "delivered"
	OrderCancelled OrderStatus = "cancelled"
)

var orderFlow = map[OrderStatus]OrderStatus{
	OrderPending:   OrderConfirmed,
	OrderConfirmed: OrderPreparing,
	OrderPreparing: OrderReady,
	OrderReady:     OrderDelivered,
}

// Valid reports whether s is a known order status.
func (s OrderStatus) Valid() bool {
	switch s {
	case OrderPending, OrderConfirmed, OrderPreparing, OrderReady, OrderDelivered, OrderCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further changes are allowed.
func (s OrderStatus) Terminal() bool {
	return s == OrderDelivered || s == OrderCancelled
}

// Next returns the following status in the kitchen flow.
func (s OrderStatus) Next() (OrderStatus, bool) {
	next, ok := orderFlow[s]
	return next, ok
}

// CanTransition reports whether an order may move from s to to: one step
// forward along the flow, or cancellation while still pending. Delivery
// completion may also close an order from any non-terminal state.
func (s OrderStatus) CanTransition(to OrderStatus) bool {
	if s.Terminal() || !to.Valid() || s == to {
		return false
	}
	if next, ok := s.Next(); ok && next == to {
		return true
	}
	switch to {
	case OrderCancelled:
		return s == OrderPending
	case OrderDelivered:
		return true
	}
	return false
}

// PaymentMethod is how the customer pays.
type PaymentMethod string

const (
	PaymentStripe PaymentMethod = "stripe"
	PaymentCash   PaymentMethod = "cash"
)

// Valid reports whether m is a supported payment method.
func (m PaymentMethod) Valid() bool {
	return m == PaymentStripe || m == PaymentCash
}

// Order types.
const (
	OrderTypeDelivery = "delivery"
	OrderTypePickup   = "pickup"
)

// Order is a placed customer order with its line items.
type Order struct {
	ID                    string          `json:"id" db:"id"`
	UserID                *string         `json:"user_id" db:"user_id"`
	CustomerName          string          `json:"customer_name" db:"customer_name"`
	CustomerEmail         string          `json:"customer_email" db:"customer_email"`
	CustomerPhone         string          `json:"customer_phone" db:"customer_phone"`
	DeliveryAddress       string          `json:"delivery_address" db:"delivery_address"`
	City                  string          `json:"city" db:"city"`
	Notes                 *string         `json:"notes" db:"notes"`
	TotalAmount           decimal.Decimal `json:"total_amount" db:"total_amount"`
	OrderType             string          `json:"order_type" db:"order_type"`
	PaymentMethod         PaymentMethod   `json:"payment_method" db:"payment_method"`
	Status                OrderStatus     `json:"status" db:"status"`
	StripeSessionID       *string         `json:"stripe_session_id" db:"stripe_session_id"`
	EstimatedDeliveryTime *time.Time      `json:"estimated_delivery_time" db:"estimated_delivery_time"`
	CreatedAt             time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt             time.Time       `json:"updated_at" db:"updated_at"`
	Items                 []OrderItem     `json:"order_items,omitempty" db:"-"`
}

// OrderItem is one line of an order, priced at checkout time.
type OrderItem struct {
	ID          string          `json:"id" db:"id"`
	OrderID     string          `json:"order_id" db:"order_id"`
	ProductID   *string         `json:"product_id" db:"product_id"`
	ProductName string          `json:"product_name" db:"product_name"`
	Quantity    int             `json:"quantity" db:"quantity"`
	UnitPrice   decimal.Decimal `json:"unit_price" db:"unit_price"`
	TotalPrice  decimal.Decimal `json:"total_price" db:"total_price"`
}

// OrderFilter narrows order listings. Results are newest first.
type OrderFilter struct {
	Status OrderStatus
	UserID string
	Limit  int
}

// MaxCustomerFieldLength bounds each checkout form field. Card payments
// carry the form as session metadata, which holds at most 500 characters
// per value.
const MaxCustomerFieldLength = 500

// CustomerInfo is the checkout form.
type CustomerInfo struct {
	FullName string `json:"fullName"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Address  string `json:"address"`
	City     string `json:"city"`
	Notes    string `json:"notes,omitempty"`
}

// Validate requires every contact and address field.
func (c *CustomerInfo) Validate() error {
	c.FullName = strings.TrimSpace(c.FullName)
	c.Email = strings.TrimSpace(c.Email)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Address = strings.TrimSpace(c.Address)
	c.City = strings.TrimSpace(c.City)
	c.Notes = strings.TrimSpace(c.Notes)

	required := []struct{ field, value string }{
		{"fullName", c.FullName},
		{"email", c.Email},
		{"phone", c.Phone},
		{"address", c.Address},
		{"city", c.City},
	}
	for _, r := range required {
		if r.value == "" {
			return NewValidationError(r.field, "is required")
		}
	}
	for _, f := range append(required, struct{ field, value string }{"notes", c.Notes}) {
		if utf8.RuneCountInString(f.value) > MaxCustomerFieldLength {
			return NewValidationError(f.field, fmt.Sprintf("must be at most %d characters", MaxCustomerFieldLength))
		}
	}
	if _, err := mail.ParseAddress(c.Email); err != nil {
		return NewValidationError("email", "is not a valid address")
	}
	return nil
}

// OrderTotal sums the line totals.
func OrderTotal(items []OrderItem) decimal.Decimal {
	total := decimal.Zero
	for _, it := range items {
		total = total.Add(it.TotalPrice)
	}
	return total
}
