// Package domain holds the storefront entities, their status models and
// validation rules. Field JSON names match the table column names.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

func init() {
	// Clients and the BaaS exchange prices as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Product is a sellable catalog item.
type Product struct {
	ID          string          `json:"id" db:"id"`
	Name        string          `json:"name" db:"name"`
	Description *string         `json:"description" db:"description"`
	Price       decimal.Decimal `json:"price" db:"price"`
	Stock       int             `json:"stock" db:"stock"`
	CategoryID  *string         `json:"category_id" db:"category_id"`
	ImageURL    *string         `json:"image_url" db:"image_url"`
	IsActive    bool            `json:"is_active" db:"is_active"`
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at" db:"updated_at"`
}

// Available reports whether the product can be put in a cart.
func (p *Product) Available() bool {
	return p.IsActive && p.Stock > 0
}

// Validate checks the admin form rules for products.
func (p *Product) Validate() error {
	p.Name = strings.TrimSpace(p.Name)
	if p.Name == "" {
		return NewValidationError("name", "is required")
	}
	if p.Price.IsNegative() {
		return NewValidationError("price", "must not be negative")
	}
	if p.Stock < 0 {
		return NewValidationError("stock", "must not be negative")
	}
	p.Description = trimOptional(p.Description)
	p.CategoryID = trimOptional(p.CategoryID)
	p.ImageURL = trimOptional(p.ImageURL)
	return nil
}

// Category groups products on the storefront.
type Category struct {
	ID          string    `json:"id" db:"id"`
	Name        string    `json:"name" db:"name"`
	Description *string   `json:"description" db:"description"`
	ImageURL    *string   `json:"image_url" db:"image_url"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Validate checks the admin form rules for categories.
func (c *Category) Validate() error {
	c.Name = strings.TrimSpace(c.Name)
	if c.Name == "" {
		return NewValidationError("name", "is required")
	}
	c.Description = trimOptional(c.Description)
	c.ImageURL = trimOptional(c.ImageURL)
	return nil
}

// ProductFilter narrows product listings. Results are newest first.
type ProductFilter struct {
	ActiveOnly  bool
	InStockOnly bool
	CategoryID  string
	Search      string
	Limit       int
	Offset      int
}

// StorefrontFilter is the filter used for public listings.
func StorefrontFilter() ProductFilter {
	return ProductFilter{ActiveOnly: true, InStockOnly: true}
}

// Match applies the filter to a single product; used by in-memory backends.
func (f ProductFilter) Match(p *Product) bool {
	if f.ActiveOnly && !p.IsActive {
		return false
	}
	if f.InStockOnly && p.Stock <= 0 {
		return false
	}
	if f.CategoryID != "" && (p.CategoryID == nil || *p.CategoryID != f.CategoryID) {
		return false
	}
	if q := strings.ToLower(strings.TrimSpace(f.Search)); q != "" {
		inName := strings.Contains(strings.ToLower(p.Name), q)
		inDesc := p.Description != nil && strings.Contains(strings.ToLower(*p.Description), q)
		if !inName && !inDesc {
			return false
		}
	}
	return true
}

// ProductView records one product detail view.
type ProductView struct {
	ID        string    `json:"id" db:"id"`
	ProductID string    `json:"product_id" db:"product_id"`
	UserID    *string   `json:"user_id" db:"user_id"`
	SessionID string    `json:"session_id" db:"session_id"`
	ViewedAt  time.Time `json:"viewed_at" db:"viewed_at"`
}

// ViewCount is a product with its number of recorded views.
type ViewCount struct {
	ProductID string `json:"product_id" db:"product_id"`
	Views     int    `json:"views" db:"views"`
}

// DashboardStats summarises the back-office landing page.
type DashboardStats struct {
	TotalProducts    int `json:"total_products"`
	ActiveProducts   int `json:"active_products"`
	TotalCategories  int `json:"total_categories"`
	ActivePromotions int `json:"active_promotions"`
	PendingOrders    int `json:"pending_orders"`
	ActiveDeliveries int `json:"active_deliveries"`
}

func trimOptional(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// StringPtr returns a pointer to s, or nil when s is empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref returns the pointed-to string or "".
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
