// Package payments creates and reads hosted checkout sessions.
package payments

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/logging"
)

// StatusPaid is the payment status of a settled session.
const StatusPaid = "paid"

// Metadata keys written on every session.
const (
	MetaCustomerName    = "customer_name"
	MetaCustomerPhone   = "customer_phone"
	MetaCustomerAddress = "customer_address"
	MetaCustomerCity    = "customer_city"
	MetaCustomerNotes   = "customer_notes"
	MetaProductIDs      = "product_ids"
	MetaUserID          = "user_id"
	MetaLocation        = "customer_location"

	// MetaProductID is set on the product of every line item.
	MetaProductID = "product_id"
)

// MaxMetadataValue is the longest metadata value Stripe accepts.
const MaxMetadataValue = 500

var (
	// ErrNotConfigured is returned when no secret key was provided.
	ErrNotConfigured = errors.New("payment gateway not configured")
	// ErrSessionNotFound is returned for an unknown session id.
	ErrSessionNotFound = errors.New("checkout session not found")
)

// LineItem is one priced cart line.
type LineItem struct {
	ProductID string
	Name      string
	UnitPrice decimal.Decimal
	Quantity  int
}

// CheckoutRequest describes a hosted checkout to open.
type CheckoutRequest struct {
	Items    []LineItem
	Customer domain.CustomerInfo
	UserID   string
	// Location is where the customer wants the order delivered.
	Location *domain.Coordinates
	// Origin is the storefront base URL the customer returns to.
	Origin string
}

// Session is the part of a checkout session the storefront reads back.
type Session struct {
	ID            string
	URL           string
	PaymentStatus string
	AmountTotal   decimal.Decimal
	CustomerEmail string
	CustomerName  string
	Metadata      map[string]string
	LineItems     []LineItem
}

// Paid reports whether the session has been paid.
func (s *Session) Paid() bool { return s.PaymentStatus == StatusPaid }

// Customer rebuilds the checkout form from the session metadata, falling
// back to the details collected on the hosted page.
func (s *Session) Customer() domain.CustomerInfo {
	name := s.Metadata[MetaCustomerName]
	if name == "" {
		name = s.CustomerName
	}
	return domain.CustomerInfo{
		FullName: name,
		Email:    s.CustomerEmail,
		Phone:    s.Metadata[MetaCustomerPhone],
		Address:  s.Metadata[MetaCustomerAddress],
		City:     s.Metadata[MetaCustomerCity],
		Notes:    s.Metadata[MetaCustomerNotes],
	}
}

// Location returns the delivery coordinates stored on the session, or nil.
func (s *Session) Location() *domain.Coordinates {
	return ParseLocation(s.Metadata[MetaLocation])
}

// FormatLocation encodes coordinates as "lat,lng" for metadata.
func FormatLocation(c *domain.Coordinates) string {
	if c == nil {
		return ""
	}
	return strconv.FormatFloat(c.Lat, 'f', -1, 64) + "," + strconv.FormatFloat(c.Lng, 'f', -1, 64)
}

// ParseLocation reverses FormatLocation. Malformed or out of range values
// yield nil.
func ParseLocation(v string) *domain.Coordinates {
	lat, lng, ok := strings.Cut(v, ",")
	if !ok {
		return nil
	}
	la, err1 := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	ln, err2 := strconv.ParseFloat(strings.TrimSpace(lng), 64)
	if err1 != nil || err2 != nil {
		return nil
	}
	c := &domain.Coordinates{Lat: la, Lng: ln}
	if c.Validate() != nil {
		return nil
	}
	return c
}

// metadataValue cuts v to the Stripe value limit on a rune boundary.
func metadataValue(v string) string {
	if utf8.RuneCountInString(v) <= MaxMetadataValue {
		return v
	}
	return string([]rune(v)[:MaxMetadataValue])
}

// joinedIDs returns the comma-joined product ids when they fit in one
// metadata value, and "" otherwise. Line items carry the ids either way.
func joinedIDs(items []LineItem) string {
	ids := make([]string, 0, len(items))
	for _, it := range items {
		ids = append(ids, it.ProductID)
	}
	joined := strings.Join(ids, ",")
	if utf8.RuneCountInString(joined) > MaxMetadataValue {
		return ""
	}
	return joined
}

// Gateway opens and reads hosted checkout sessions.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)
}

// StripeConfig configures the Stripe gateway.
type StripeConfig struct {
	SecretKey string
	Currency  string
	Countries []string
	// Backend overrides the API backend; tests point it at a local server.
	Backend stripe.Backend
	Logger  *logging.Logger
}

// Stripe is a Gateway backed by Stripe Checkout.
type Stripe struct {
	api       *client.API
	currency  string
	countries []string
}

var _ Gateway = (*Stripe)(nil)

// NewStripe builds a Stripe gateway.
func NewStripe(cfg StripeConfig) (*Stripe, error) {
	if cfg.SecretKey == "" {
		return nil, ErrNotConfigured
	}
	if cfg.Currency == "" {
		cfg.Currency = "cop"
	}
	if len(cfg.Countries) == 0 {
		cfg.Countries = []string{"CO"}
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}

	backend := cfg.Backend
	if backend == nil {
		backend = stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			LeveledLogger:     cfg.Logger.WithField("component", "stripe"),
			MaxNetworkRetries: stripe.Int64(2),
		})
	}
	api := client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &Stripe{api: api, currency: strings.ToLower(cfg.Currency), countries: cfg.Countries}, nil
}

// ToMinorUnits converts an amount to the smallest currency unit.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinorUnits converts a smallest-unit amount back to a decimal.
func FromMinorUnits(amount int64) decimal.Decimal {
	return decimal.New(amount, -2)
}

// CreateCheckoutSession opens a card payment session for req.
func (s *Stripe) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*Session, error) {
	if len(req.Items) == 0 {
		return nil, domain.NewValidationError("items", "cart is empty")
	}
	origin := strings.TrimRight(req.Origin, "/")

	params := &stripe.CheckoutSessionParams{
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:         stripe.String(origin + "/order-success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:          stripe.String(origin + "/cart"),
		CustomerEmail:      stripe.String(req.Customer.Email),
		ShippingAddressCollection: &stripe.CheckoutSessionShippingAddressCollectionParams{
			AllowedCountries: stripe.StringSlice(s.countries),
		},
	}
	params.Context = ctx

	for _, it := range req.Items {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(s.currency),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name:     stripe.String(it.Name),
					Metadata: map[string]string{MetaProductID: it.ProductID},
				},
				UnitAmount: stripe.Int64(ToMinorUnits(it.UnitPrice)),
			},
			Quantity: stripe.Int64(int64(it.Quantity)),
		})
	}

	meta := map[string]string{
		MetaCustomerName:    req.Customer.FullName,
		MetaCustomerPhone:   req.Customer.Phone,
		MetaCustomerAddress: req.Customer.Address,
		MetaCustomerCity:    req.Customer.City,
		MetaCustomerNotes:   req.Customer.Notes,
		MetaProductIDs:      joinedIDs(req.Items),
		MetaUserID:          req.UserID,
		MetaLocation:        FormatLocation(req.Location),
	}
	for k, v := range meta {
		if v != "" {
			params.AddMetadata(k, metadataValue(v))
		}
	}

	cs, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	return convertSession(cs, nil), nil
}

// GetSession retrieves a session with its line items. Product ids are read
// from each line's product, falling back to the session metadata in line
// order.
func (s *Stripe) GetSession(ctx context.Context, id string) (*Session, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	cs, err := s.api.CheckoutSessions.Get(id, params)
	if err != nil {
		var serr *stripe.Error
		if errors.As(err, &serr) && serr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get checkout session: %w", err)
	}

	listParams := &stripe.CheckoutSessionListLineItemsParams{Session: stripe.String(id)}
	listParams.Context = ctx
	listParams.AddExpand("data.price.product")
	var lines []*stripe.LineItem
	iter := s.api.CheckoutSessions.ListLineItems(listParams)
	for iter.Next() {
		lines = append(lines, iter.LineItem())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("list line items: %w", err)
	}
	return convertSession(cs, lines), nil
}

func convertSession(cs *stripe.CheckoutSession, lines []*stripe.LineItem) *Session {
	out := &Session{
		ID:            cs.ID,
		URL:           cs.URL,
		PaymentStatus: string(cs.PaymentStatus),
		AmountTotal:   FromMinorUnits(cs.AmountTotal),
		CustomerEmail: cs.CustomerEmail,
		Metadata:      cs.Metadata,
	}
	if out.Metadata == nil {
		out.Metadata = map[string]string{}
	}
	if cs.CustomerDetails != nil {
		if cs.CustomerDetails.Email != "" {
			out.CustomerEmail = cs.CustomerDetails.Email
		}
		out.CustomerName = cs.CustomerDetails.Name
	}

	var ids []string
	if raw := out.Metadata[MetaProductIDs]; raw != "" {
		ids = strings.Split(raw, ",")
	}
	for i, li := range lines {
		item := LineItem{Name: li.Description, Quantity: int(li.Quantity)}
		if li.Price != nil && li.Price.UnitAmount > 0 {
			item.UnitPrice = FromMinorUnits(li.Price.UnitAmount)
		} else if li.Quantity > 0 {
			item.UnitPrice = FromMinorUnits(li.AmountTotal).Div(decimal.NewFromInt(li.Quantity))
		}
		if li.Price != nil && li.Price.Product != nil {
			item.ProductID = li.Price.Product.Metadata[MetaProductID]
		}
		if item.ProductID == "" && i < len(ids) {
			item.ProductID = ids[i]
		}
		out.LineItems = append(out.LineItems, item)
	}
	return out
}

// Fake is an in-memory Gateway.
type Fake struct {
	Sessions map[string]*Session
	// Err, when set, is returned by every call.
	Err  error
	next int
}

var _ Gateway = (*Fake)(nil)

// NewFake creates an empty Fake.
func NewFake() *Fake { return &Fake{Sessions: make(map[string]*Session)} }

func (f *Fake) CreateCheckoutSession(_ context.Context, req CheckoutRequest) (*Session, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	if len(req.Items) == 0 {
		return nil, domain.NewValidationError("items", "cart is empty")
	}
	f.next++
	id := "cs_test_" + strconv.Itoa(f.next)
	total := decimal.Zero
	for _, it := range req.Items {
		total = total.Add(it.UnitPrice.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	s := &Session{
		ID:            id,
		URL:           "https://checkout.test/" + id,
		PaymentStatus: "unpaid",
		AmountTotal:   total,
		CustomerEmail: req.Customer.Email,
		Metadata: map[string]string{
			MetaCustomerName:    req.Customer.FullName,
			MetaCustomerPhone:   req.Customer.Phone,
			MetaCustomerAddress: req.Customer.Address,
			MetaCustomerCity:    req.Customer.City,
			MetaCustomerNotes:   req.Customer.Notes,
			MetaProductIDs:      joinedIDs(req.Items),
		},
		LineItems: append([]LineItem(nil), req.Items...),
	}
	if req.UserID != "" {
		s.Metadata[MetaUserID] = req.UserID
	}
	if req.Location != nil {
		s.Metadata[MetaLocation] = FormatLocation(req.Location)
	}
	f.Sessions[id] = s
	return s, nil
}

func (f *Fake) GetSession(_ context.Context, id string) (*Session, error) {
	if f.Err != nil {
		return nil, f.Err
	}
	s, ok := f.Sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	cp := *s
	return &cp, nil
}

// MarkPaid flips a session to paid.
func (f *Fake) MarkPaid(id string) {
	if s, ok := f.Sessions[id]; ok {
		s.PaymentStatus = StatusPaid
	}
}
