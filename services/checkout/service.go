// Package checkout turns carts into orders, for cash on delivery and for
// hosted card payments, and runs the kitchen side of the order lifecycle.
package checkout

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/payments"
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/internal/storage"
	"github.com/R3E-Network/storefront/services/cart"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
)

const (
	ServiceName = "checkout"

	// PreparationTime is added to now when the kitchen starts an order.
	PreparationTime = 30 * time.Minute

	ordersTable = "orders"
)

// Store is the persistence the checkout needs.
type Store interface {
	storage.ProductStore
	storage.OrderStore
	storage.TrackingStore
}

// Carts reads and clears session carts.
type Carts interface {
	Get(ctx context.Context, sessionID string) (*cart.Cart, error)
	Clear(ctx context.Context, sessionID string) error
}

// Publisher receives row change events.
type Publisher interface {
	Publish(e realtime.Event)
}

// Config configures the checkout service.
type Config struct {
	Store     Store
	Carts     Carts
	Pricer    cart.Pricer
	Gateway   payments.Gateway
	Publisher Publisher
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Service implements checkout and order management.
type Service struct {
	store     Store
	carts     Carts
	pricer    cart.Pricer
	gateway   payments.Gateway
	publisher Publisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates the checkout service. A nil Gateway disables card payments.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:     cfg.Store,
		carts:     cfg.Carts,
		pricer:    cfg.Pricer,
		gateway:   cfg.Gateway,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Line is a requested product and quantity.
type Line struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

// Request is a checkout submission. Items, when empty, are taken from the
// cart of CartSession.
type Request struct {
	CartSession      string               `json:"-"`
	UserID           string               `json:"-"`
	Items            []Line               `json:"items,omitempty"`
	Customer         domain.CustomerInfo  `json:"customer"`
	PaymentMethod    domain.PaymentMethod `json:"payment_method"`
	Origin           string               `json:"origin,omitempty"`
	CustomerLocation *domain.Coordinates  `json:"customer_location,omitempty"`
}

// Result is the outcome of a checkout: an order id for cash, a hosted
// payment page for card payments.
type Result struct {
	OrderID   string `json:"order_id,omitempty"`
	URL       string `json:"url,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// Checkout validates the request, reprices it from the catalog and either
// places a cash order or opens a hosted payment session.
func (s *Service) Checkout(ctx context.Context, req Request) (*Result, error) {
	if err := req.Customer.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	if !req.PaymentMethod.Valid() {
		return nil, errors.InvalidFormat("payment_method", "stripe or cash")
	}
	if req.CustomerLocation != nil {
		if err := req.CustomerLocation.Validate(); err != nil {
			return nil, errors.Validation(err)
		}
	}

	lines, err := s.requestedLines(ctx, req)
	if err != nil {
		return nil, err
	}
	priced, err := s.reprice(ctx, lines)
	if err != nil {
		return nil, err
	}

	if req.PaymentMethod == domain.PaymentStripe {
		return s.openPayment(ctx, req, priced)
	}

	items := make([]domain.OrderItem, 0, len(priced))
	for _, li := range priced {
		items = append(items, orderItem(li))
	}
	order := newOrder(req.Customer, req.UserID, items)
	order.PaymentMethod = domain.PaymentCash
	order.Status = domain.OrderPending

	created, err := s.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, commonservice.StoreError("order", "", err)
	}
	s.afterOrder(ctx, created, req.CustomerLocation, req.CartSession)
	return &Result{OrderID: created.ID}, nil
}

func (s *Service) requestedLines(ctx context.Context, req Request) ([]Line, error) {
	lines := req.Items
	if len(lines) == 0 && req.CartSession != "" && s.carts != nil {
		c, err := s.carts.Get(ctx, req.CartSession)
		if err != nil {
			return nil, err
		}
		for _, it := range c.Items {
			lines = append(lines, Line{ProductID: it.ID, Quantity: it.Quantity})
		}
	}

	merged := make([]Line, 0, len(lines))
	index := make(map[string]int, len(lines))
	for _, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			continue
		}
		if i, ok := index[l.ProductID]; ok {
			merged[i].Quantity += l.Quantity
			continue
		}
		index[l.ProductID] = len(merged)
		merged = append(merged, l)
	}
	if len(merged) == 0 {
		return nil, errors.Validation(domain.NewValidationError("items", "cart is empty"))
	}
	return merged, nil
}

// reprice loads every product and checks it can still be sold in the
// requested quantity.
func (s *Service) reprice(ctx context.Context, lines []Line) ([]payments.LineItem, error) {
	now := s.now()
	out := make([]payments.LineItem, 0, len(lines))
	for _, l := range lines {
		p, err := s.store.GetProduct(ctx, l.ProductID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !p.IsActive) {
			return nil, errors.Conflict(fmt.Sprintf("product %s is no longer available", l.ProductID))
		}
		if err != nil {
			return nil, commonservice.StoreError("product", l.ProductID, err)
		}
		if l.Quantity > p.Stock {
			return nil, errors.Conflict(fmt.Sprintf("only %d units of %s left", p.Stock, p.Name)).
				WithDetails("product_id", p.ID).
				WithDetails("stock", p.Stock)
		}
		price := p.Price
		if s.pricer != nil {
			discounted, _, err := s.pricer.PriceFor(ctx, p, now)
			if err != nil {
				s.logger.WithContext(ctx).WithError(err).WithField("product_id", p.ID).Warn("promotion pricing failed, using list price")
			} else {
				price = discounted
			}
		}
		out = append(out, payments.LineItem{ProductID: p.ID, Name: p.Name, UnitPrice: price, Quantity: l.Quantity})
	}
	return out, nil
}

func (s *Service) openPayment(ctx context.Context, req Request, items []payments.LineItem) (*Result, error) {
	if s.gateway == nil {
		return nil, errors.BadRequest("card payments are not available")
	}
	origin := strings.TrimRight(strings.TrimSpace(req.Origin), "/")
	if origin == "" {
		return nil, errors.MissingParameter("origin")
	}
	session, err := s.gateway.CreateCheckoutSession(ctx, payments.CheckoutRequest{
		Items:    items,
		Customer: req.Customer,
		UserID:   req.UserID,
		Location: req.CustomerLocation,
		Origin:   origin,
	})
	if err != nil {
		if domain.IsValidation(err) {
			return nil, errors.Validation(err)
		}
		return nil, errors.Upstream("stripe", err)
	}
	s.logger.WithContext(ctx).WithField("session_id", session.ID).Info("checkout session created")
	return &Result{URL: session.URL, SessionID: session.ID}, nil
}

// ProcessStripeSuccess places the order of a paid checkout session. Calling
// it again for the same session returns the order already placed.
func (s *Service) ProcessStripeSuccess(ctx context.Context, sessionID, cartSession string) (*domain.Order, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return nil, errors.MissingParameter("session_id")
	}
	if existing, err := s.store.GetOrderBySession(ctx, sessionID); err == nil {
		return existing, nil
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, commonservice.StoreError("order", sessionID, err)
	}
	if s.gateway == nil {
		return nil, errors.BadRequest("card payments are not available")
	}

	session, err := s.gateway.GetSession(ctx, sessionID)
	if errors.Is(err, payments.ErrSessionNotFound) {
		return nil, errors.NotFound("checkout session", sessionID)
	}
	if err != nil {
		return nil, errors.Upstream("stripe", err)
	}
	if !session.Paid() {
		return nil, errors.BadRequest("payment not completed").WithDetails("payment_status", session.PaymentStatus)
	}

	items := make([]domain.OrderItem, 0, len(session.LineItems))
	for _, li := range session.LineItems {
		items = append(items, orderItem(li))
	}
	order := newOrder(session.Customer(), session.Metadata[payments.MetaUserID], items)
	if session.AmountTotal.IsPositive() {
		order.TotalAmount = session.AmountTotal
	}
	order.PaymentMethod = domain.PaymentStripe
	order.Status = domain.OrderConfirmed
	order.StripeSessionID = &sessionID

	created, err := s.store.CreateOrder(ctx, order)
	if errors.Is(err, storage.ErrConflict) {
		// Another request placed it first.
		existing, gerr := s.store.GetOrderBySession(ctx, sessionID)
		if gerr != nil {
			return nil, commonservice.StoreError("order", sessionID, gerr)
		}
		return existing, nil
	}
	if err != nil {
		return nil, commonservice.StoreError("order", "", err)
	}
	s.afterOrder(ctx, created, session.Location(), cartSession)
	return created, nil
}

func orderItem(li payments.LineItem) domain.OrderItem {
	return domain.OrderItem{
		ProductID:   domain.StringPtr(li.ProductID),
		ProductName: li.Name,
		Quantity:    li.Quantity,
		UnitPrice:   li.UnitPrice,
		TotalPrice:  li.UnitPrice.Mul(decimal.NewFromInt(int64(li.Quantity))),
	}
}

func newOrder(c domain.CustomerInfo, userID string, items []domain.OrderItem) *domain.Order {
	return &domain.Order{
		UserID:          domain.StringPtr(userID),
		CustomerName:    c.FullName,
		CustomerEmail:   c.Email,
		CustomerPhone:   c.Phone,
		DeliveryAddress: c.Address,
		City:            c.City,
		Notes:           domain.StringPtr(c.Notes),
		TotalAmount:     domain.OrderTotal(items),
		OrderType:       domain.OrderTypeDelivery,
		Items:           items,
	}
}

// afterOrder creates the tracking row, records metrics and empties the cart.
// Failures here are logged; the order stands.
func (s *Service) afterOrder(ctx context.Context, o *domain.Order, loc *domain.Coordinates, cartSession string) {
	log := s.logger.WithContext(ctx).WithField("order_id", o.ID)
	log.WithField("payment_method", o.PaymentMethod).Info("order placed")
	s.metrics.RecordOrderCreated(string(o.PaymentMethod))

	t := &domain.DeliveryTracking{OrderID: o.ID, Status: domain.TrackingAssigned}
	if loc != nil {
		t.CustomerLatitude, t.CustomerLongitude = &loc.Lat, &loc.Lng
	}
	if created, err := s.store.CreateTracking(ctx, t); err != nil {
		log.WithError(err).Error("failed to create delivery tracking")
	} else {
		s.publish(realtime.Event{Event: "INSERT", Table: realtime.TrackingTable, ID: created.ID, OrderID: o.ID, Status: string(created.Status)})
	}

	if cartSession != "" && s.carts != nil {
		if err := s.carts.Clear(ctx, cartSession); err != nil {
			log.WithError(err).Warn("failed to clear cart")
		}
	}
}

func (s *Service) publish(e realtime.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}

// =============================================================================
// Orders
// =============================================================================

func isStaff(ctx context.Context) bool {
	return logging.HasRole(ctx, string(domain.RoleAdmin)) || logging.HasRole(ctx, string(domain.RoleDeliveryPerson))
}

// GetOrder returns an order to its owner or to staff. Other callers get a
// not-found so order ids cannot be probed.
func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("order", id, err)
	}
	caller := logging.GetUserID(ctx)
	if isStaff(ctx) || (caller != "" && domain.Deref(o.UserID) == caller) {
		return o, nil
	}
	return nil, errors.NotFound("order", id)
}

// MyOrders lists the orders placed by userID, newest first.
func (s *Service) MyOrders(ctx context.Context, userID string) ([]domain.Order, error) {
	if userID == "" {
		return nil, errors.Unauthorized("")
	}
	orders, err := s.store.ListOrders(ctx, domain.OrderFilter{UserID: userID})
	if err != nil {
		return nil, commonservice.StoreError("orders", "", err)
	}
	return orders, nil
}

// ListOrders lists every order, optionally with one status.
func (s *Service) ListOrders(ctx context.Context, status domain.OrderStatus, limit int) ([]domain.Order, error) {
	if status != "" && !status.Valid() {
		return nil, errors.InvalidFormat("status", "an order status")
	}
	orders, err := s.store.ListOrders(ctx, domain.OrderFilter{Status: status, Limit: limit})
	if err != nil {
		return nil, commonservice.StoreError("orders", "", err)
	}
	return orders, nil
}

// AdvanceOrder moves an order one step along the kitchen flow.
func (s *Service) AdvanceOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("order", id, err)
	}
	next, ok := o.Status.Next()
	if !ok {
		return nil, errors.Conflict(fmt.Sprintf("order is already %s", o.Status))
	}
	return s.setStatus(ctx, o, next)
}

// SetOrderStatus moves an order to status. Moving to preparing stamps the
// estimated delivery time.
func (s *Service) SetOrderStatus(ctx context.Context, id string, status domain.OrderStatus) (*domain.Order, error) {
	if !status.Valid() {
		return nil, errors.InvalidFormat("status", "an order status")
	}
	o, err := s.store.GetOrder(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("order", id, err)
	}
	return s.setStatus(ctx, o, status)
}

func (s *Service) setStatus(ctx context.Context, o *domain.Order, status domain.OrderStatus) (*domain.Order, error) {
	if !o.Status.CanTransition(status) {
		return nil, commonservice.StoreError("order", o.ID, &domain.TransitionError{Entity: "order", From: string(o.Status), To: string(status)})
	}
	var eta *time.Time
	if status == domain.OrderPreparing {
		t := s.now().Add(PreparationTime)
		eta = &t
	}
	updated, err := s.store.UpdateOrderStatus(ctx, o.ID, status, eta)
	if err != nil {
		return nil, commonservice.StoreError("order", o.ID, err)
	}
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"order_id": o.ID,
		"from":     o.Status,
		"to":       status,
	}).Info("order status changed")
	s.publish(realtime.Event{Event: "UPDATE", Table: ordersTable, ID: o.ID, OrderID: o.ID, Status: string(status)})
	return updated, nil
}
