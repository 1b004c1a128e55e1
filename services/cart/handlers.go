package cart

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/httputil"
)

// RegisterRoutes mounts the cart routes on api.
func (s *Service) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/cart", s.handleGet).Methods(http.MethodGet)
	api.HandleFunc("/cart", s.handleClear).Methods(http.MethodDelete)
	api.HandleFunc("/cart/items", s.handleAdd).Methods(http.MethodPost)
	api.HandleFunc("/cart/items/{productId}", s.handleUpdate).Methods(http.MethodPatch)
	api.HandleFunc("/cart/items/{productId}", s.handleRemove).Methods(http.MethodDelete)
}

// sessionFor reads the session header. When create is set a missing id is
// generated; the id in use is echoed back in the response header.
func sessionFor(w http.ResponseWriter, r *http.Request, create bool) (string, bool) {
	id := r.Header.Get(httputil.SessionHeader)
	if id == "" {
		if !create {
			return "", true
		}
		id = NewSessionID()
	}
	if !ValidSessionID(id) {
		httputil.BadRequest(w, "invalid "+httputil.SessionHeader+" header")
		return "", false
	}
	w.Header().Set(httputil.SessionHeader, id)
	return id, true
}

func writeCart(w http.ResponseWriter, c *Cart) {
	httputil.WriteJSON(w, http.StatusOK, c.View())
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFor(w, r, false)
	if !ok {
		return
	}
	c, err := s.Get(r.Context(), sessionID)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	writeCart(w, c)
}

func (s *Service) handleClear(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFor(w, r, false)
	if !ok {
		return
	}
	if err := s.Clear(r.Context(), sessionID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	writeCart(w, &Cart{SessionID: sessionID})
}

type addRequest struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

func (s *Service) handleAdd(w http.ResponseWriter, r *http.Request) {
	var req addRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := sessionFor(w, r, true)
	if !ok {
		return
	}
	c, err := s.Add(r.Context(), sessionID, req.ProductID, req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	writeCart(w, c)
}

type updateRequest struct {
	Quantity int `json:"quantity"`
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var req updateRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	sessionID, ok := sessionFor(w, r, false)
	if !ok {
		return
	}
	c, err := s.UpdateQuantity(r.Context(), sessionID, mux.Vars(r)["productId"], req.Quantity)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	writeCart(w, c)
}

func (s *Service) handleRemove(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := sessionFor(w, r, false)
	if !ok {
		return
	}
	c, err := s.Remove(r.Context(), sessionID, mux.Vars(r)["productId"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	writeCart(w, c)
}
