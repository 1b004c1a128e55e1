package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/storefront/internal/domain"
)

const orderColumns = `id, user_id, customer_name, customer_email, customer_phone, delivery_address, city, notes,
	total_amount, order_type, payment_method, status, stripe_session_id, estimated_delivery_time, created_at, updated_at`

const orderItemColumns = `id, order_id, product_id, product_name, quantity, unit_price, total_price`

// --- OrderStore -------------------------------------------------------------

func (s *Store) CreateOrder(ctx context.Context, o *domain.Order) (*domain.Order, error) {
	row := *o
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	row.Items = make([]domain.OrderItem, len(o.Items))
	copy(row.Items, o.Items)

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO orders (id, user_id, customer_name, customer_email, customer_phone, delivery_address, city, notes,
				total_amount, order_type, payment_method, status, stripe_session_id, estimated_delivery_time, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
		`, row.ID, row.UserID, row.CustomerName, row.CustomerEmail, row.CustomerPhone, row.DeliveryAddress, row.City, row.Notes,
			row.TotalAmount, row.OrderType, row.PaymentMethod, row.Status, row.StripeSessionID, row.EstimatedDeliveryTime,
			row.CreatedAt, row.UpdatedAt); err != nil {
			return mapErr(err)
		}
		for i := range row.Items {
			it := &row.Items[i]
			if it.ID == "" {
				it.ID = uuid.NewString()
			}
			it.OrderID = row.ID
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO order_items (id, order_id, product_id, product_name, quantity, unit_price, total_price)
				VALUES ($1, $2, $3, $4, $5, $6, $7)
			`, it.ID, it.OrderID, it.ProductID, it.ProductName, it.Quantity, it.UnitPrice, it.TotalPrice); err != nil {
				return mapErr(err)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (s *Store) GetOrderBySession(ctx context.Context, sessionID string) (*domain.Order, error) {
	return s.getOrder(ctx, `SELECT `+orderColumns+` FROM orders WHERE stripe_session_id = $1`, sessionID)
}

func (s *Store) getOrder(ctx context.Context, query string, arg any) (*domain.Order, error) {
	var o domain.Order
	if err := s.db.GetContext(ctx, &o, query, arg); err != nil {
		return nil, mapErr(err)
	}
	list := []domain.Order{o}
	if err := s.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) ListOrders(ctx context.Context, f domain.OrderFilter) ([]domain.Order, error) {
	var (
		where []string
		args  []any
	)
	if f.Status != "" {
		args = append(args, f.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.UserID != "" {
		args = append(args, f.UserID)
		where = append(where, fmt.Sprintf("user_id = $%d", len(args)))
	}
	query := "SELECT " + orderColumns + " FROM orders"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	out := []domain.Order{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapErr(err)
	}
	if err := s.attachItems(ctx, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) attachItems(ctx context.Context, orders []domain.Order) error {
	if len(orders) == 0 {
		return nil
	}
	ids := make([]string, len(orders))
	index := make(map[string]*domain.Order, len(orders))
	for i := range orders {
		ids[i] = orders[i].ID
		orders[i].Items = []domain.OrderItem{}
		index[orders[i].ID] = &orders[i]
	}
	var items []domain.OrderItem
	if err := s.db.SelectContext(ctx, &items, `
		SELECT `+orderItemColumns+` FROM order_items WHERE order_id = ANY($1) ORDER BY product_name
	`, pq.Array(ids)); err != nil {
		return mapErr(err)
	}
	for _, it := range items {
		if o, ok := index[it.OrderID]; ok {
			o.Items = append(o.Items, it)
		}
	}
	return nil
}

func (s *Store) UpdateOrderStatus(ctx context.Context, id string, status domain.OrderStatus, eta *time.Time) (*domain.Order, error) {
	var o domain.Order
	err := s.db.GetContext(ctx, &o, `
		UPDATE orders
		SET status = $2, estimated_delivery_time = COALESCE($3, estimated_delivery_time), updated_at = $4
		WHERE id = $1
		RETURNING `+orderColumns, id, status, eta, s.now())
	if err != nil {
		return nil, mapErr(err)
	}
	list := []domain.Order{o}
	if err := s.attachItems(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// --- TrackingStore ----------------------------------------------------------

const trackingColumns = `id, order_id, delivery_person_name, delivery_person_phone, current_latitude, current_longitude,
	customer_latitude, customer_longitude, estimated_arrival_time, status, created_at, updated_at`

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

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO delivery_tracking (id, order_id, delivery_person_name, delivery_person_phone, current_latitude,
			current_longitude, customer_latitude, customer_longitude, estimated_arrival_time, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, row.ID, row.OrderID, row.DeliveryPersonName, row.DeliveryPersonPhone, row.CurrentLatitude, row.CurrentLongitude,
		row.CustomerLatitude, row.CustomerLongitude, row.EstimatedArrivalTime, row.Status, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &row, nil
}

func (s *Store) GetTracking(ctx context.Context, id string) (*domain.DeliveryTracking, error) {
	var t domain.DeliveryTracking
	if err := s.db.GetContext(ctx, &t, `SELECT `+trackingColumns+` FROM delivery_tracking WHERE id = $1`, id); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) GetTrackingByOrder(ctx context.Context, orderID string) (*domain.DeliveryTracking, error) {
	var t domain.DeliveryTracking
	err := s.db.GetContext(ctx, &t, `SELECT `+trackingColumns+` FROM delivery_tracking WHERE order_id = $1`, orderID)
	if err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}

func (s *Store) ListTracking(ctx context.Context, activeOnly bool) ([]domain.DeliveryTracking, error) {
	out := []domain.DeliveryTracking{}
	var err error
	if activeOnly {
		statuses := make([]string, len(domain.ActiveTrackingStatuses))
		for i, st := range domain.ActiveTrackingStatuses {
			statuses[i] = string(st)
		}
		err = s.db.SelectContext(ctx, &out, `
			SELECT `+trackingColumns+` FROM delivery_tracking
			WHERE status = ANY($1) ORDER BY created_at DESC`, pq.Array(statuses))
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT `+trackingColumns+` FROM delivery_tracking ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

// UpdateTracking writes only the fields set in patch. The table trigger
// publishes the change on the delivery_tracking channel.
func (s *Store) UpdateTracking(ctx context.Context, id string, patch domain.TrackingPatch) (*domain.DeliveryTracking, error) {
	args := []any{id}
	var sets []string
	set := func(column string, v any) {
		args = append(args, v)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Status != nil {
		set("status", *patch.Status)
	}
	if patch.DeliveryPersonName != nil {
		set("delivery_person_name", *patch.DeliveryPersonName)
	}
	if patch.DeliveryPersonPhone != nil {
		set("delivery_person_phone", *patch.DeliveryPersonPhone)
	}
	if patch.CurrentLatitude != nil {
		set("current_latitude", *patch.CurrentLatitude)
	}
	if patch.CurrentLongitude != nil {
		set("current_longitude", *patch.CurrentLongitude)
	}
	if patch.CustomerLatitude != nil {
		set("customer_latitude", *patch.CustomerLatitude)
	}
	if patch.CustomerLongitude != nil {
		set("customer_longitude", *patch.CustomerLongitude)
	}
	if patch.ClearETA {
		sets = append(sets, "estimated_arrival_time = NULL")
	} else if patch.EstimatedArrivalTime != nil {
		set("estimated_arrival_time", *patch.EstimatedArrivalTime)
	}
	set("updated_at", s.now())

	var t domain.DeliveryTracking
	query := `UPDATE delivery_tracking SET ` + strings.Join(sets, ", ") + ` WHERE id = $1 RETURNING ` + trackingColumns
	if err := s.db.GetContext(ctx, &t, query, args...); err != nil {
		return nil, mapErr(err)
	}
	return &t, nil
}
