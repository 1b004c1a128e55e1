package users

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/logging"
)

// RegisterRoutes mounts sign-in and first-admin creation on api. POST
// /users is reachable by any signed-in caller so the first admin can be
// created; CreateUserAdmin enforces the admin rule afterwards.
func (s *Service) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/auth/login", s.handleLogin).Methods(http.MethodPost)
	api.HandleFunc("/users", s.handleCreate).Methods(http.MethodPost)
}

// RegisterAdminRoutes mounts account administration on admin.
func (s *Service) RegisterAdminRoutes(admin *mux.Router) {
	admin.HandleFunc("/users", s.handleList).Methods(http.MethodGet)
	admin.HandleFunc("/users", s.handleCreate).Methods(http.MethodPost)
	admin.HandleFunc("/users/{id}", s.handleGet).Methods(http.MethodGet)
	admin.HandleFunc("/users/{id}/profile", s.handleUpdateProfile).Methods(http.MethodPatch)
	admin.HandleFunc("/users/{id}/roles", s.handleUpdateRoles).Methods(http.MethodPut)
	admin.HandleFunc("/users/{id}/deactivate", s.handleDeactivate).Methods(http.MethodPost)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

func (s *Service) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	tok, err := s.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, tok)
}

func (s *Service) handleList(w http.ResponseWriter, r *http.Request) {
	users, err := s.ListUsers(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, users)
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	u, err := s.GetUser(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, u)
}

func (s *Service) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req domain.NewUserRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	u, err := s.CreateUserAdmin(r.Context(), logging.GetUserID(r.Context()), req)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"success": true,
		"user_id": u.ID,
		"user":    u,
	})
}

func (s *Service) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var patch domain.ProfilePatch
	if !httputil.DecodeJSON(w, r, &patch) {
		return
	}
	p, err := s.UpdateProfile(r.Context(), mux.Vars(r)["id"], patch)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

type rolesRequest struct {
	Roles []string `json:"roles"`
}

func (s *Service) handleUpdateRoles(w http.ResponseWriter, r *http.Request) {
	var req rolesRequest
	if !httputil.DecodeJSON(w, r, &req) {
		return
	}
	grants, err := s.UpdateRoles(r.Context(), logging.GetUserID(r.Context()), mux.Vars(r)["id"], req.Roles)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, grants)
}

func (s *Service) handleDeactivate(w http.ResponseWriter, r *http.Request) {
	p, err := s.Deactivate(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}
