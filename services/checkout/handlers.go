package checkout

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/logging"
)

// RegisterRoutes mounts the public checkout routes on api.
func (s *Service) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/checkout", s.handleCheckout).Methods(http.MethodPost)
	api.HandleFunc("/checkout/stripe/success", s.handleStripeSuccess).Methods(http.MethodPost)
}

// RegisterUserRoutes mounts routes that need a signed-in customer.
func (s *Service) RegisterUserRoutes(authed *mux.Router) {
	authed.HandleFunc("/me/orders", s.handleMyOrders).Methods(http.MethodGet)
	authed.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
}

// RegisterAdminRoutes mounts the order back office on admin.
func (s *Service) RegisterAdminRoutes(admin *mux.Router) {
	admin.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}", s.handleGetOrder).Methods(http.MethodGet)
	admin.HandleFunc("/orders/{id}/status", s.handleSetStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/orders/{id}/advance", s.handleAdvance).Methods(http.MethodPost)
}

func (s *Service) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var req Request
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	req.CartSession = r.Header.Get(httputil.SessionHeader)
	req.UserID = logging.GetUserID(r.Context())
	if req.Origin == "" {
		req.Origin = r.Header.Get("Origin")
	}

	res, err := s.Checkout(r.Context(), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	status := http.StatusOK
	if res.OrderID != "" {
		status = http.StatusCreated
	}
	httputil.WriteJSON(w, status, res)
}

type stripeSuccessRequest struct {
	SessionID string `json:"session_id"`
}

func (s *Service) handleStripeSuccess(w http.ResponseWriter, r *http.Request) {
	var req stripeSuccessRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	order, err := s.ProcessStripeSuccess(r.Context(), req.SessionID, r.Header.Get(httputil.SessionHeader))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"order_id": order.ID,
		"order":    order,
	})
}

func (s *Service) handleMyOrders(w http.ResponseWriter, r *http.Request) {
	userID, ok := httputil.RequireUserID(w, r)
	if !ok {
		return
	}
	orders, err := s.MyOrders(r.Context(), userID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orders)
}

func (s *Service) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	if _, ok := httputil.RequireUserID(w, r); !ok {
		return
	}
	order, err := s.GetOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (s *Service) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := domain.OrderStatus(r.URL.Query().Get("status"))
	orders, err := s.ListOrders(r.Context(), status, httputil.QueryInt(r, "limit", 0, 500))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, orders)
}

type statusRequest struct {
	Status domain.OrderStatus `json:"status"`
}

func (s *Service) handleSetStatus(w http.ResponseWriter, r *http.Request) {
	var req statusRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	order, err := s.SetOrderStatus(r.Context(), mux.Vars(r)["id"], req.Status)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}

func (s *Service) handleAdvance(w http.ResponseWriter, r *http.Request) {
	order, err := s.AdvanceOrder(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, order)
}
