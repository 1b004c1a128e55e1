package promotions

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/httputil"
)

// RegisterRoutes mounts GET /promotions on api.
func (s *Service) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/promotions", s.handleListActive).Methods(http.MethodGet)
}

// RegisterAdminRoutes mounts the promotion CRUD on admin.
func (s *Service) RegisterAdminRoutes(admin *mux.Router) {
	admin.HandleFunc("/promotions", s.handleList).Methods(http.MethodGet)
	admin.HandleFunc("/promotions", s.handleCreate).Methods(http.MethodPost)
	admin.HandleFunc("/promotions/{id}", s.handleGet).Methods(http.MethodGet)
	admin.HandleFunc("/promotions/{id}", s.handleUpdate).Methods(http.MethodPut)
	admin.HandleFunc("/promotions/{id}", s.handleDelete).Methods(http.MethodDelete)
}

func (s *Service) handleListActive(w http.ResponseWriter, r *http.Request) {
	promos, err := s.ListActive(r.Context(), s.now())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, promos)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	promos, err := s.List(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, promos)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	p, err := s.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func decodePromotion(w http.ResponseWriter, r *http.Request) (domain.Promotion, bool) {
	var p domain.Promotion
	ok := httputil.DecodeJSON(w, r, &p)
	p.ID = ""
	return p, ok
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePromotion(w, r)
	if !ok {
		return
	}
	created, err := s.Create(r.Context(), p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, created)
}

func (s *Service) handleUpdate(w http.ResponseWriter, r *http.Request) {
	p, ok := decodePromotion(w, r)
	if !ok {
		return
	}
	updated, err := s.Update(r.Context(), mux.Vars(r)["id"], p)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, updated)
}

func (s *Service) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.Delete(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
