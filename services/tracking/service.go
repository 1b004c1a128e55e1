// Package tracking runs the delivery side of an order: courier assignment,
// status changes, live positions and the change feed behind the tracking
// page.
package tracking

import (
	"context"
	"strings"
	"time"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
	"github.com/R3E-Network/storefront/internal/realtime"
	"github.com/R3E-Network/storefront/internal/storage"
	commonservice "github.com/R3E-Network/storefront/services/common/service"
)

const ServiceName = "tracking"

// Store is the persistence the tracking service needs.
type Store interface {
	storage.TrackingStore
	storage.OrderStore
}

// Publisher receives row change events.
type Publisher interface {
	Publish(e realtime.Event)
}

// Config configures the tracking service.
type Config struct {
	Store     Store
	Publisher Publisher
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Service implements delivery tracking.
type Service struct {
	store     Store
	publisher Publisher
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates the tracking service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	return &Service{
		store:     cfg.Store,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *Service) view(ctx context.Context, t *domain.DeliveryTracking) (*domain.TrackingView, error) {
	v := &domain.TrackingView{DeliveryTracking: *t}
	o, err := s.store.GetOrder(ctx, t.OrderID)
	if errors.Is(err, storage.ErrNotFound) {
		return v, nil
	}
	if err != nil {
		return nil, commonservice.StoreError("order", t.OrderID, err)
	}
	v.Order = domain.Summarize(o)
	return v, nil
}

// GetByOrder returns the tracking of an order with its summary.
func (s *Service) GetByOrder(ctx context.Context, orderID string) (*domain.TrackingView, error) {
	t, err := s.store.GetTrackingByOrder(ctx, orderID)
	if err != nil {
		return nil, commonservice.StoreError("delivery tracking", orderID, err)
	}
	return s.view(ctx, t)
}

// Get returns one tracking row with its order summary.
func (s *Service) Get(ctx context.Context, id string) (*domain.TrackingView, error) {
	t, err := s.store.GetTracking(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("delivery tracking", id, err)
	}
	return s.view(ctx, t)
}

// ListDeliveries lists tracking rows, newest first, for delivery staff.
func (s *Service) ListDeliveries(ctx context.Context, activeOnly bool) ([]domain.TrackingView, error) {
	rows, err := s.store.ListTracking(ctx, activeOnly)
	if err != nil {
		return nil, commonservice.StoreError("deliveries", "", err)
	}
	out := make([]domain.TrackingView, 0, len(rows))
	for i := range rows {
		v, err := s.view(ctx, &rows[i])
		if err != nil {
			return nil, err
		}
		out = append(out, *v)
	}
	return out, nil
}

// UpdateStatus moves a delivery to status and sets the arrival estimate.
// Delivering the order also closes the order.
func (s *Service) UpdateStatus(ctx context.Context, id string, status domain.TrackingStatus) (*domain.DeliveryTracking, error) {
	if !status.Valid() {
		return nil, errors.InvalidFormat("status", "a delivery status")
	}
	current, err := s.store.GetTracking(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("delivery tracking", id, err)
	}
	if !current.Status.CanTransition(status) {
		return nil, commonservice.StoreError("delivery tracking", id, &domain.TransitionError{
			Entity: "delivery", From: string(current.Status), To: string(status),
		})
	}

	patch := domain.TrackingPatch{Status: &status}
	if eta := status.ArrivalEstimate(s.now()); eta != nil {
		patch.EstimatedArrivalTime = eta
	} else {
		patch.ClearETA = true
	}
	updated, err := s.write(ctx, id, patch)
	if err != nil {
		return nil, err
	}
	if status == domain.TrackingDelivered {
		s.closeOrder(ctx, updated.OrderID)
	}
	return updated, nil
}

// closeOrder marks the order of a delivered tracking row as delivered.
// Failures are logged; the delivery stays recorded.
func (s *Service) closeOrder(ctx context.Context, orderID string) {
	log := s.logger.WithContext(ctx).WithField("order_id", orderID)
	o, err := s.store.GetOrder(ctx, orderID)
	if err != nil {
		log.WithError(err).Warn("delivered order not found")
		return
	}
	if !o.Status.CanTransition(domain.OrderDelivered) {
		return
	}
	if _, err := s.store.UpdateOrderStatus(ctx, orderID, domain.OrderDelivered, nil); err != nil {
		log.WithError(err).Error("failed to mark order delivered")
		return
	}
	s.publish(realtime.Event{Event: "UPDATE", Table: "orders", ID: orderID, OrderID: orderID, Status: string(domain.OrderDelivered)})
}

// Assign sets the courier of a delivery and puts it back to assigned.
func (s *Service) Assign(ctx context.Context, id, name, phone string) (*domain.DeliveryTracking, error) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if name == "" {
		return nil, errors.Validation(domain.NewValidationError("delivery_person_name", "is required"))
	}
	current, err := s.store.GetTracking(ctx, id)
	if err != nil {
		return nil, commonservice.StoreError("delivery tracking", id, err)
	}
	if current.Status.Terminal() {
		return nil, errors.Conflict("delivery is already " + string(current.Status))
	}
	status := domain.TrackingAssigned
	return s.write(ctx, id, domain.TrackingPatch{
		Status:              &status,
		DeliveryPersonName:  &name,
		DeliveryPersonPhone: domain.StringPtr(phone),
		ClearETA:            true,
	})
}

// UpdateLocation overwrites the courier position. The last write wins.
func (s *Service) UpdateLocation(ctx context.Context, id string, at domain.Coordinates) (*domain.DeliveryTracking, error) {
	if err := at.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	return s.write(ctx, id, domain.TrackingPatch{CurrentLatitude: &at.Lat, CurrentLongitude: &at.Lng})
}

// SetCustomerLocation stores where the order should be delivered.
func (s *Service) SetCustomerLocation(ctx context.Context, id string, at domain.Coordinates) (*domain.DeliveryTracking, error) {
	if err := at.Validate(); err != nil {
		return nil, errors.Validation(err)
	}
	return s.write(ctx, id, domain.TrackingPatch{CustomerLatitude: &at.Lat, CustomerLongitude: &at.Lng})
}

// SetCustomerLocationByOrder is SetCustomerLocation keyed by order id.
func (s *Service) SetCustomerLocationByOrder(ctx context.Context, orderID string, at domain.Coordinates) (*domain.DeliveryTracking, error) {
	t, err := s.store.GetTrackingByOrder(ctx, orderID)
	if err != nil {
		return nil, commonservice.StoreError("delivery tracking", orderID, err)
	}
	return s.SetCustomerLocation(ctx, t.ID, at)
}

func (s *Service) write(ctx context.Context, id string, patch domain.TrackingPatch) (*domain.DeliveryTracking, error) {
	updated, err := s.store.UpdateTracking(ctx, id, patch)
	if err != nil {
		return nil, commonservice.StoreError("delivery tracking", id, err)
	}
	s.metrics.RecordTrackingUpdate(string(updated.Status))
	s.publish(realtime.Event{
		Event:   "UPDATE",
		Table:   realtime.TrackingTable,
		ID:      updated.ID,
		OrderID: updated.OrderID,
		Status:  string(updated.Status),
	})
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"tracking_id": updated.ID,
		"order_id":    updated.OrderID,
		"status":      updated.Status,
	}).Debug("delivery tracking updated")
	return updated, nil
}

func (s *Service) publish(e realtime.Event) {
	if s.publisher != nil {
		s.publisher.Publish(e)
	}
}
