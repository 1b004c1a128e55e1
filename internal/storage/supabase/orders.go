package supabase

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/domain"
)

const orderSelect = "*,order_items(*)"

// --- OrderStore -------------------------------------------------------------

// CreateOrder calls the create_order function so the order and its items
// are written in one statement.
func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	order := map[string]any{
		"user_id":           domain.Deref(o.UserID),
		"customer_name":     o.CustomerName,
		"customer_email":    o.CustomerEmail,
		"customer_phone":    o.CustomerPhone,
		"delivery_address":  o.DeliveryAddress,
		"city":              o.City,
		"notes":             domain.Deref(o.Notes),
		"total_amount":      o.TotalAmount,
		"order_type":        o.OrderType,
		"payment_method":    o.PaymentMethod,
		"status":            o.Status,
		"stripe_session_id": domain.Deref(o.StripeSessionID),
	}
	items := make([]map[string]any, len(o.Items))
	for i, it := range o.Items {
		items[i] = map[string]any{
			"product_id":   domain.Deref(it.ProductID),
			"product_name": it.ProductName,
			"quantity":     it.Quantity,
			"unit_price":   it.UnitPrice,
			"total_price":  it.TotalPrice,
		}
	}

	resp, err := s.c.RPC(ctx, "create_order", map[string]any{"p_order": order, "p_items": items})
	if err != nil {
		return nil, mapErr(err)
	}
	var id string
	if err := json.Unmarshal(resp.Body, &id); err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, id)
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	o, err := single[domain.Order](ctx, s.c.From("orders").Select(orderSelect).Eq("id", id))
	if err != nil {
		return nil, err
	}
	sortItems(o)
	return o, nil
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	o, err := single[domain.Order](ctx, s.c.From("orders").Select(orderSelect).Eq("stripe_session_id", sessionID))
	if err != nil {
		return nil, err
	}
	sortItems(o)
	return o, nil
}

func (s *Store) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	q := s.c.From("orders").Select(orderSelect).Order("created_at", false)
	if f.Status != "" {
		q.Eq("status", f.Status)
	}
	if f.UserID != "" {
		q.Eq("user_id", f.UserID)
	}
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}
	out := []domain.Order{}
	if err := q.Into(ctx, &out); err != nil {
		return nil, mapErr(err)
	}
	for i := range out {
		sortItems(&out[i])
	}
	return out, nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, eta *time.Time) (*domain.Order, error) {
	patch := map[string]any{"status": status, "updated_at": stamp(s.now())}
	if eta != nil {
		patch["estimated_delivery_time"] = stamp(*eta)
	}
	if err := mustAffect(s.c.From("orders").Eq("id", id).ExecuteUpdate(ctx, patch)); err != nil {
		return nil, err
	}
	return s.GetOrder(ctx, id)
}

func sortItems(o *domain.Order) {
	if o.Items == nil {
		o.Items = []domain.OrderItem{}
	}
	sort.SliceStable(o.Items, func(i, j int) bool { return o.Items[i].ProductName < o.Items[j].ProductName })
}

// --- TrackingStore ----------------------------------------------------------

func (s *Store) CreateTracking(ctx context.Context, t *domain.DeliveryTracking) (*domain.DeliveryTracking, error) {
	row := *t
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.Status == "" {
		row.Status = domain.TrackingAssigned
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	return first[domain.DeliveryTracking](s.c.From("delivery_tracking").ExecuteInsert(ctx, row))
}

func (s *Store) GetTracking(ctx context.Context, id string) (*domain.DeliveryTracking, error) {
	return single[domain.DeliveryTracking](ctx, s.c.From("delivery_tracking").Select("*").Eq("id", id))
}

func (s *Store) GetTrackingByOrder(ctx context.Context, orderID string) (*domain.DeliveryTracking, error) {
	return single[domain.DeliveryTracking](ctx, s.c.From("delivery_tracking").Select("*").Eq("order_id", orderID))
}

func (s *Store) ListTracking(ctx context.Context, activeOnly bool) ([]domain.DeliveryTracking, error) {
	q := s.c.From("delivery_tracking").Select("*").Order("created_at", false)
	if activeOnly {
		statuses := make([]string, len(domain.ActiveTrackingStatuses))
		for i, st := range domain.ActiveTrackingStatuses {
			statuses[i] = string(st)
		}
		q.In("status", statuses)
	}
	out := []domain.DeliveryTracking{}
	if err := q.Into(ctx, &out); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) UpdateTracking(ctx context.Context, id string, patch domain.TrackingPatch) (*domain.DeliveryTracking, error) {
	cols := map[string]any{"updated_at": stamp(s.now())}
	if patch.Status != nil {
		cols["status"] = *patch.Status
	}
	if patch.DeliveryPersonName != nil {
		cols["delivery_person_name"] = *patch.DeliveryPersonName
	}
	if patch.DeliveryPersonPhone != nil {
		cols["delivery_person_phone"] = *patch.DeliveryPersonPhone
	}
	if patch.CurrentLatitude != nil {
		cols["current_latitude"] = *patch.CurrentLatitude
	}
	if patch.CurrentLongitude != nil {
		cols["current_longitude"] = *patch.CurrentLongitude
	}
	if patch.CustomerLatitude != nil {
		cols["customer_latitude"] = *patch.CustomerLatitude
	}
	if patch.CustomerLongitude != nil {
		cols["customer_longitude"] = *patch.CustomerLongitude
	}
	if patch.ClearETA {
		cols["estimated_arrival_time"] = nil
	} else if patch.EstimatedArrivalTime != nil {
		cols["estimated_arrival_time"] = stamp(*patch.EstimatedArrivalTime)
	}
	return first[domain.DeliveryTracking](s.c.From("delivery_tracking").Eq("id", id).ExecuteUpdate(ctx, cols))
}

// --- UserStore --------------------------------------------------------------

func (s *Store) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	out := []domain.UserProfile{}
	if err := s.c.From("profiles").Select("*").Order("created_at", false).Into(ctx, &out); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	return single[domain.UserProfile](ctx, s.c.From("profiles").Select("*").Eq("user_id", userID))
}

func (s *Store) CreateProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	return first[domain.UserProfile](s.c.From("profiles").ExecuteInsert(ctx, row))
}

func (s *Store) UpdateProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	patch := map[string]any{
		"full_name":  p.FullName,
		"phone":      p.Phone,
		"address":    p.Address,
		"city":       p.City,
		"notes":      p.Notes,
		"is_active":  p.IsActive,
		"updated_at": stamp(s.now()),
	}
	return first[domain.UserProfile](s.c.From("profiles").Eq("user_id", p.UserID).ExecuteUpdate(ctx, patch))
}

func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	if _, err := s.c.From("user_roles").Eq("user_id", userID).ExecuteDelete(ctx); err != nil {
		return mapErr(err)
	}
	return mustAffect(s.c.From("profiles").Eq("user_id", userID).ExecuteDelete(ctx))
}

func (s *Store) ListRoles(ctx context.Context, userID string) ([]domain.UserRole, error) {
	out := []domain.UserRole{}
	err := s.c.From("user_roles").Select("*").Eq("user_id", userID).Order("created_at", true).Order("role", true).Into(ctx, &out)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) ReplaceRoles(ctx context.Context, userID string, roles []domain.Role, createdBy string) ([]domain.UserRole, error) {
	if _, err := s.c.From("user_roles").Eq("user_id", userID).ExecuteDelete(ctx); err != nil {
		return nil, mapErr(err)
	}
	if len(roles) == 0 {
		return []domain.UserRole{}, nil
	}
	now := s.now()
	rows := make([]domain.UserRole, len(roles))
	for i, role := range roles {
		rows[i] = domain.UserRole{
			ID:        uuid.NewString(),
			UserID:    userID,
			Role:      role,
			CreatedBy: domain.StringPtr(createdBy),
			CreatedAt: now,
		}
	}
	resp, err := s.c.From("user_roles").ExecuteInsert(ctx, rows)
	if err != nil {
		return nil, mapErr(err)
	}
	out := []domain.UserRole{}
	if err := resp.JSON(&out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountRole(ctx context.Context, role domain.Role) (int, error) {
	var rows []struct {
		UserID string `json:"user_id"`
	}
	if err := s.c.From("user_roles").Select("user_id").Eq("role", role).Into(ctx, &rows); err != nil {
		return 0, mapErr(err)
	}
	seen := make(map[string]struct{}, len(rows))
	for _, r := range rows {
		seen[r.UserID] = struct{}{}
	}
	return len(seen), nil
}

// --- ViewStore --------------------------------------------------------------

func (s *Store) RecordView(ctx context.Context, v *domain.ProductView) error {
	row := *v
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	if row.ViewedAt.IsZero() {
		row.ViewedAt = s.now()
	}
	_, err := s.c.From("product_views").ExecuteInsert(ctx, row)
	return mapErr(err)
}

func (s *Store) CountViews(ctx context.Context, productID string) (int, error) {
	resp, err := s.c.From("product_views").Select("id").Eq("product_id", productID).Count("exact").Limit(1).Execute(ctx)
	if err != nil {
		return 0, mapErr(err)
	}
	if n := resp.Count(); n >= 0 {
		return n, nil
	}
	var rows []json.RawMessage
	if err := resp.JSON(&rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

// TopViewed aggregates client side; PostgREST exposes no GROUP BY.
func (s *Store) TopViewed(ctx context.Context, limit int) ([]domain.ViewCount, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []struct {
		ProductID string `json:"product_id"`
	}
	if err := s.c.From("product_views").Select("product_id").Into(ctx, &rows); err != nil {
		return nil, mapErr(err)
	}
	counts := map[string]int{}
	for _, r := range rows {
		counts[r.ProductID]++
	}
	out := make([]domain.ViewCount, 0, len(counts))
	for id, n := range counts {
		out = append(out, domain.ViewCount{ProductID: id, Views: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Views != out[j].Views {
			return out[i].Views > out[j].Views
		}
		return out[i].ProductID < out[j].ProductID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
