package domain

import "time"

// TrackingStatus is the delivery-side lifecycle of an order.
type TrackingStatus string

const (
	TrackingAssigned  TrackingStatus = "assigned"
	TrackingPickedUp  TrackingStatus = "picked_up"
	TrackingOnRoute   TrackingStatus = "on_route"
	TrackingDelivered TrackingStatus = "delivered"
	TrackingCancelled TrackingStatus = "cancelled"
)

// EstimatedTravelTime is the fixed ETA offset applied when a delivery leaves.
const EstimatedTravelTime = 30 * time.Minute

// ActiveTrackingStatuses are the non-terminal statuses.
var ActiveTrackingStatuses = []TrackingStatus{TrackingAssigned, TrackingPickedUp, TrackingOnRoute}

// Valid reports whether s is a known tracking status.
func (s TrackingStatus) Valid() bool {
	switch s {
	case TrackingAssigned, TrackingPickedUp, TrackingOnRoute, TrackingDelivered, TrackingCancelled:
		return true
	}
	return false
}

// Terminal reports whether s is delivered or cancelled.
func (s TrackingStatus) Terminal() bool {
	return s == TrackingDelivered || s == TrackingCancelled
}

// Active reports whether a delivery in status s is still in progress.
func (s TrackingStatus) Active() bool {
	return s.Valid() && !s.Terminal()
}

// Next returns the following status on the happy path.
func (s TrackingStatus) Next() (TrackingStatus, bool) {
	switch s {
	case TrackingAssigned:
		return TrackingPickedUp, true
	case TrackingPickedUp:
		return TrackingOnRoute, true
	case TrackingOnRoute:
		return TrackingDelivered, true
	}
	return "", false
}

// CanTransition reports whether a delivery may move from s to to. Status
// changes are manual: any move between non-terminal statuses is accepted,
// including skips and reverts, and either terminal status is reachable from
// any non-terminal one. Terminal statuses are final.
func (s TrackingStatus) CanTransition(to TrackingStatus) bool {
	if !s.Valid() || !to.Valid() || s.Terminal() {
		return false
	}
	return s != to
}

// ArrivalEstimate returns the ETA to store after moving to s: now plus the
// travel time when leaving, now when delivered, and nil otherwise.
func (s TrackingStatus) ArrivalEstimate(now time.Time) *time.Time {
	var eta time.Time
	switch s {
	case TrackingOnRoute:
		eta = now.Add(EstimatedTravelTime)
	case TrackingDelivered:
		eta = now
	default:
		return nil
	}
	eta = eta.UTC()
	return &eta
}

// DeliveryTracking is the live delivery row of one order.
type DeliveryTracking struct {
	ID                   string         `json:"id" db:"id"`
	OrderID              string         `json:"order_id" db:"order_id"`
	DeliveryPersonName   *string        `json:"delivery_person_name" db:"delivery_person_name"`
	DeliveryPersonPhone  *string        `json:"delivery_person_phone" db:"delivery_person_phone"`
	CurrentLatitude      *float64       `json:"current_latitude" db:"current_latitude"`
	CurrentLongitude     *float64       `json:"current_longitude" db:"current_longitude"`
	CustomerLatitude     *float64       `json:"customer_latitude" db:"customer_latitude"`
	CustomerLongitude    *float64       `json:"customer_longitude" db:"customer_longitude"`
	EstimatedArrivalTime *time.Time     `json:"estimated_arrival_time" db:"estimated_arrival_time"`
	Status               TrackingStatus `json:"status" db:"status"`
	CreatedAt            time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at" db:"updated_at"`
}

// TrackingPatch is a partial update of a tracking row. Nil fields are left
// unchanged; ClearETA writes a null ETA.
type TrackingPatch struct {
	Status               *TrackingStatus
	DeliveryPersonName   *string
	DeliveryPersonPhone  *string
	CurrentLatitude      *float64
	CurrentLongitude     *float64
	CustomerLatitude     *float64
	CustomerLongitude    *float64
	EstimatedArrivalTime *time.Time
	ClearETA             bool
}

// Apply copies the patch onto t.
func (p TrackingPatch) Apply(t *DeliveryTracking) {
	if p.Status != nil {
		t.Status = *p.Status
	}
	if p.DeliveryPersonName != nil {
		t.DeliveryPersonName = p.DeliveryPersonName
	}
	if p.DeliveryPersonPhone != nil {
		t.DeliveryPersonPhone = p.DeliveryPersonPhone
	}
	if p.CurrentLatitude != nil {
		t.CurrentLatitude = p.CurrentLatitude
	}
	if p.CurrentLongitude != nil {
		t.CurrentLongitude = p.CurrentLongitude
	}
	if p.CustomerLatitude != nil {
		t.CustomerLatitude = p.CustomerLatitude
	}
	if p.CustomerLongitude != nil {
		t.CustomerLongitude = p.CustomerLongitude
	}
	if p.ClearETA {
		t.EstimatedArrivalTime = nil
	} else if p.EstimatedArrivalTime != nil {
		t.EstimatedArrivalTime = p.EstimatedArrivalTime
	}
}

// Coordinates is a latitude/longitude pair.
type Coordinates struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate checks the coordinate ranges.
func (c Coordinates) Validate() error {
	if c.Lat < -90 || c.Lat > 90 {
		return NewValidationError("lat", "must be between -90 and 90")
	}
	if c.Lng < -180 || c.Lng > 180 {
		return NewValidationError("lng", "must be between -180 and 180")
	}
	return nil
}

// TrackingView is a tracking row with the order summary shown to customers
// and couriers.
type TrackingView struct {
	DeliveryTracking
	Order *OrderSummary `json:"order,omitempty"`
}

// OrderSummary is the subset of an order shown next to its tracking.
type OrderSummary struct {
	ID              string      `json:"id"`
	CustomerName    string      `json:"customer_name"`
	CustomerPhone   string      `json:"customer_phone"`
	DeliveryAddress string      `json:"delivery_address"`
	TotalAmount     string      `json:"total_amount"`
	Status          OrderStatus `json:"status"`
	Items           []ItemBrief `json:"order_items"`
}

// ItemBrief is a line of an OrderSummary.
type ItemBrief struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// Summarize builds the OrderSummary of o.
func Summarize(o *Order) *OrderSummary {
	s := &OrderSummary{
		ID:              o.ID,
		CustomerName:    o.CustomerName,
		CustomerPhone:   o.CustomerPhone,
		DeliveryAddress: o.DeliveryAddress,
		TotalAmount:     o.TotalAmount.StringFixed(2),
		Status:          o.Status,
		Items:           make([]ItemBrief, 0, len(o.Items)),
	}
	for _, it := range o.Items {
		s.Items = append(s.Items, ItemBrief{ProductName: it.ProductName, Quantity: it.Quantity})
	}
	return s
}
