package tracking

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/httputil"
)

// RegisterRoutes mounts the customer tracking routes on api.
func (s *Service) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/orders/{id}/tracking", s.handleGetByOrder).Methods(http.MethodGet)
	api.HandleFunc("/orders/{id}/tracking/customer-location", s.handleCustomerLocation).Methods(http.MethodPut)
}

// RegisterDeliveryRoutes mounts the courier routes on staff.
func (s *Service) RegisterDeliveryRoutes(staff *mux.Router) {
	staff.HandleFunc("/deliveries", s.handleList).Methods(http.MethodGet)
	staff.HandleFunc("/deliveries/{id}", s.handleGet).Methods(http.MethodGet)
	staff.HandleFunc("/deliveries/{id}/status", s.handleStatus).Methods(http.MethodPatch)
	staff.HandleFunc("/deliveries/{id}/location", s.handleLocation).Methods(http.MethodPatch)
	staff.HandleFunc("/deliveries/{id}/assign", s.handleAssign).Methods(http.MethodPatch)
}

func (s *Service) handleGetByOrder(w http.ResponseWriter, r *http.Request) {
	v, err := s.GetByOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

func (s *Service) handleCustomerLocation(w http.ResponseWriter, r *http.Request) {
	var at domain.Coordinates
	if !httputil.DecodeJSON(w, r, &at) {
		return
	}
	t, err := s.SetCustomerLocationByOrder(r.Context(), mux.Vars(r)["id"], at)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	rows, err := s.ListDeliveries(r.Context(), httputil.QueryBool(r, "active", true))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, rows)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	v, err := s.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, v)
}

type statusRequest struct {
	Status domain.TrackingStatus `json:"status"`
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	t, err := s.UpdateStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

func (s *Service) handleLocation(w http.ResponseWriter, r *http.Request) {
	var at domain.Coordinates
	if !httputil.DecodeJSON(w, r, &at) {
		return
	}
	t, err := s.UpdateLocation(r.Context(), mux.Vars(r)["id"], at)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}

type assignRequest struct {
	Name  string `json:"delivery_person_name"`
	Phone string `json:"delivery_person_phone"`
}

func (s *Service) handleAssign(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	t, err := s.Assign(r.Context(), mux.Vars(r)["id"], req.Name, req.Phone)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, t)
}
