package catalog

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/logging"
)

// RegisterRoutes mounts the public catalog routes on api.
func (s *Service) RegisterRoutes(api *mux.Router) {
	api.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	api.HandleFunc("/products/search", s.handleSearch).Methods(http.MethodGet)
	api.HandleFunc("/products/top", s.handleTopViewed).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	api.HandleFunc("/products/{id}/views", s.handleRecordView).Methods(http.MethodPost)
	api.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	api.HandleFunc("/categories/{name}/products", s.handleCategoryProducts).Methods(http.MethodGet)
}

// RegisterAdminRoutes mounts the back-office routes on admin.
func (s *Service) RegisterAdminRoutes(admin *mux.Router) {
	admin.HandleFunc("/products", s.handleAdminListProducts).Methods(http.MethodGet)
	admin.HandleFunc("/products", s.handleCreateProduct).Methods(http.MethodPost)
	admin.HandleFunc("/products/{id}", s.handleAdminGetProduct).Methods(http.MethodGet)
	admin.HandleFunc("/products/{id}", s.handleUpdateProduct).Methods(http.MethodPut)
	admin.HandleFunc("/products/{id}", s.handleDeleteProduct).Methods(http.MethodDelete)
	admin.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet)
	admin.HandleFunc("/categories", s.handleCreateCategory).Methods(http.MethodPost)
	admin.HandleFunc("/categories/{id}", s.handleGetCategory).Methods(http.MethodGet)
	admin.HandleFunc("/categories/{id}", s.handleUpdateCategory).Methods(http.MethodPut)
	admin.HandleFunc("/categories/{id}", s.handleDeleteCategory).Methods(http.MethodDelete)
	admin.HandleFunc("/dashboard", s.handleDashboard).Methods(http.MethodGet)
}

func listParams(r *http.Request) ListParams {
	return ListParams{
		Category: r.URL.Query().Get("category"),
		Limit:    httputil.QueryInt(r, "limit", defaultPageSize, maxPageSize),
		Offset:   httputil.QueryInt(r, "offset", 0, 0),
	}
}

func (s *Service) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.ListProducts(r.Context(), listParams(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	products, err := s.SearchProducts(r.Context(), r.URL.Query().Get("q"), listParams(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

func (s *Service) handleTopViewed(w http.ResponseWriter, r *http.Request) {
	top, err := s.TopViewed(r.Context(), httputil.QueryInt(r, "limit", 10, 50))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, top)
}

func (s *Service) handleGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.GetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) handleRecordView(w http.ResponseWriter, r *http.Request) {
	sessionID := r.Header.Get(httputil.SessionHeader)
	userID := logging.GetUserID(r.Context())
	if err := s.RecordView(r.Context(), mux.Vars(r)["id"], userID, sessionID); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := s.ListCategories(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, cats)
}

func (s *Service) handleCategoryProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.ProductsByCategory(r.Context(), mux.Vars(r)["name"], listParams(r))
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

func (s *Service) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	c, err := s.GetCategory(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

// =============================================================================
// Admin handlers
// =============================================================================

func (s *Service) handleAdminListProducts(w http.ResponseWriter, r *http.Request) {
	filter := domain.ProductFilter{
		ActiveOnly:  httputil.QueryBool(r, "active", false),
		InStockOnly: httputil.QueryBool(r, "in_stock", false),
		CategoryID:  r.URL.Query().Get("category_id"),
		Search:      r.URL.Query().Get("q"),
		Limit:       httputil.QueryInt(r, "limit", 0, 1000),
		Offset:      httputil.QueryInt(r, "offset", 0, 0),
	}
	products, err := s.AdminListProducts(r.Context(), filter)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, products)
}

func (s *Service) handleAdminGetProduct(w http.ResponseWriter, r *http.Request) {
	p, err := s.AdminGetProduct(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

// productInput is the admin product form.
type productInput struct {
	Name        string          `json:"name"`
	Description *string         `json:"description"`
	Price       decimal.Decimal `json:"price"`
	Stock       int             `json:"stock"`
	CategoryID  *string         `json:"category_id"`
	ImageURL    *string         `json:"image_url"`
	IsActive    *bool           `json:"is_active"`
}

func (in productInput) product() domain.Product {
	p := domain.Product{
		Name:        in.Name,
		Description: in.Description,
		Price:       in.Price,
		Stock:       in.Stock,
		CategoryID:  in.CategoryID,
		ImageURL:    in.ImageURL,
		IsActive:    true,
	}
	if in.IsActive != nil {
		p.IsActive = *in.IsActive
	}
	return p
}

func (s *Service) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	p, err := s.CreateProduct(r.Context(), in.product())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, p)
}

func (s *Service) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	var in productInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	p, err := s.UpdateProduct(r.Context(), mux.Vars(r)["id"], in.product())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, p)
}

func (s *Service) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteProduct(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// categoryInput is the admin category form.
type categoryInput struct {
	Name        string  `json:"name"`
	Description *string `json:"description"`
	ImageURL    *string `json:"image_url"`
}

func (in categoryInput) category() domain.Category {
	return domain.Category{Name: in.Name, Description: in.Description, ImageURL: in.ImageURL}
}

func (s *Service) handleCreateCategory(w http.ResponseWriter, r *http.Request) {
	var in categoryInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	c, err := s.CreateCategory(r.Context(), in.category())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, c)
}

func (s *Service) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	var in categoryInput
	if !httputil.DecodeJSON(w, r, &in) {
		return
	}
	c, err := s.UpdateCategory(r.Context(), mux.Vars(r)["id"], in.category())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, c)
}

func (s *Service) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	if err := s.DeleteCategory(r.Context(), mux.Vars(r)["id"]); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Service) handleDashboard(w http.ResponseWriter, r *http.Request) {
	stats, err := s.DashboardStats(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}
