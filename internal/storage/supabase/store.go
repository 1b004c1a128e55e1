// Package supabase implements storage.Store over the Supabase REST API.
//
// PostgREST has no client transactions: order creation goes through the
// create_order function, and multi-row rewrites (promotion links, roles)
// are a delete followed by one bulk insert.
package supabase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/storage"
	"github.com/R3E-Network/storefront/supabase/client"
)

// Store is a storage.Store backed by a Supabase project.
type Store struct {
	c   *client.Client
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New wraps an authenticated service-role client.
func New(c *client.Client) *Store {
	return &Store{c: c, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) Ping(ctx context.Context) error {
	_, err := s.c.From("categories").Select("id").Limit(1).Execute(ctx)
	return mapErr(err)
}

func (s *Store) Close() error { return nil }

func mapErr(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) && apiErr.Code == "23503" {
		return fmt.Errorf("%w: %s", storage.ErrNotFound, apiErr.Message)
	}
	if client.IsNotFound(err) {
		return storage.ErrNotFound
	}
	if client.IsConflict(err) {
		return fmt.Errorf("%w: %v", storage.ErrConflict, err)
	}
	return err
}

func stamp(t time.Time) string { return t.UTC().Format(time.RFC3339Nano) }

// first decodes the first row of a representation response.
func first[T any](resp *client.Response, err error) (*T, error) {
	if err != nil {
		return nil, mapErr(err)
	}
	var rows []T
	if err := resp.JSON(&rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return &rows[0], nil
}

// affected counts the rows of a representation response.
func affected(resp *client.Response, err error) (int, error) {
	if err != nil {
		return 0, mapErr(err)
	}
	var rows []json.RawMessage
	if err := resp.JSON(&rows); err != nil {
		return 0, err
	}
	return len(rows), nil
}

func mustAffect(resp *client.Response, err error) error {
	n, err := affected(resp, err)
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func single[T any](ctx context.Context, q *client.QueryBuilder) (*T, error) {
	var v T
	if err := q.Single().Into(ctx, &v); err != nil {
		return nil, mapErr(err)
	}
	return &v, nil
}

// likeTerm escapes PostgREST reserved characters in a free text term.
func likeTerm(q string) string {
	return strings.NewReplacer(",", " ", "(", " ", ")", " ", "*", " ").Replace(q)
}

// --- ProductStore -----------------------------------------------------------

func (s *Store) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, error) {
	q := s.c.From("products").Select("*").Order("created_at", false)
	if f.ActiveOnly {
		q.Eq("is_active", true)
	}
	if f.InStockOnly {
		q.Gt("stock", 0)
	}
	if f.CategoryID != "" {
		q.Eq("category_id", f.CategoryID)
	}
	if term := likeTerm(strings.TrimSpace(f.Search)); strings.TrimSpace(term) != "" {
		term = strings.TrimSpace(term)
		q.Or(fmt.Sprintf("name.ilike.*%s*,description.ilike.*%s*", term, term))
	}
	if f.Limit > 0 {
		q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q.Offset(f.Offset)
	}
	out := []domain.Product{}
	if err := q.Into(ctx, &out); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	return single[domain.Product](ctx, s.c.From("products").Select("*").Eq("id", id))
}

func (s *Store) FindProductByName(ctx context.Context, name string, contains bool) (*domain.Product, error) {
	pattern := likeTerm(name)
	if contains {
		pattern = "*" + pattern + "*"
	}
	var rows []domain.Product
	err := s.c.From("products").Select("*").ILike("name", pattern).Order("created_at", true).Limit(1).Into(ctx, &rows)
	if err != nil {
		return nil, mapErr(err)
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	return &rows[0], nil
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	return first[domain.Product](s.c.From("products").ExecuteInsert(ctx, row))
}

func (s *Store) UpdateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	patch := map[string]any{
		"name":        p.Name,
		"description": p.Description,
		"price":       p.Price,
		"stock":       p.Stock,
		"category_id": p.CategoryID,
		"image_url":   p.ImageURL,
		"is_active":   p.IsActive,
		"updated_at":  stamp(s.now()),
	}
	return first[domain.Product](s.c.From("products").Eq("id", p.ID).ExecuteUpdate(ctx, patch))
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return mustAffect(s.c.From("products").Eq("id", id).ExecuteDelete(ctx))
}

func (s *Store) SetProductImage(ctx context.Context, id, url string) error {
	patch := map[string]any{"image_url": url, "updated_at": stamp(s.now())}
	return mustAffect(s.c.From("products").Eq("id", id).ExecuteUpdate(ctx, patch))
}

// --- CategoryStore ----------------------------------------------------------

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	out := []domain.Category{}
	if err := s.c.From("categories").Select("*").Order("name", true).Into(ctx, &out); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	return single[domain.Category](ctx, s.c.From("categories").Select("*").Eq("id", id))
}

func (s *Store) GetCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	return single[domain.Category](ctx, s.c.From("categories").Select("*").ILike("name", likeTerm(name)))
}

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	row := *c
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt
	return first[domain.Category](s.c.From("categories").ExecuteInsert(ctx, row))
}

func (s *Store) UpdateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	patch := map[string]any{
		"name":        c.Name,
		"description": c.Description,
		"image_url":   c.ImageURL,
		"updated_at":  stamp(s.now()),
	}
	return first[domain.Category](s.c.From("categories").Eq("id", c.ID).ExecuteUpdate(ctx, patch))
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return mustAffect(s.c.From("categories").Eq("id", id).ExecuteDelete(ctx))
}

func (s *Store) SetCategoryImage(ctx context.Context, id, url string) error {
	patch := map[string]any{"image_url": url, "updated_at": stamp(s.now())}
	return mustAffect(s.c.From("categories").Eq("id", id).ExecuteUpdate(ctx, patch))
}

// --- PromotionStore ---------------------------------------------------------

const promotionSelect = "*,promotion_products(product_id),promotion_categories(category_id)"

type promotionRecord struct {
	domain.Promotion
	Products []struct {
		ProductID string `json:"product_id"`
	} `json:"promotion_products"`
	Categories []struct {
		CategoryID string `json:"category_id"`
	} `json:"promotion_categories"`
}

func (r *promotionRecord) promotion() domain.Promotion {
	p := r.Promotion
	p.ProductIDs = make([]string, 0, len(r.Products))
	for _, l := range r.Products {
		p.ProductIDs = append(p.ProductIDs, l.ProductID)
	}
	p.CategoryIDs = make([]string, 0, len(r.Categories))
	for _, l := range r.Categories {
		p.CategoryIDs = append(p.CategoryIDs, l.CategoryID)
	}
	sort.Strings(p.ProductIDs)
	sort.Strings(p.CategoryIDs)
	return p
}

func promotionColumns(p *domain.Promotion) map[string]any {
	return map[string]any{
		"title":               p.Title,
		"description":         p.Description,
		"discount_percentage": p.DiscountPercentage,
		"discount_amount":     p.DiscountAmount,
		"start_date":          stamp(p.StartDate),
		"end_date":            stamp(p.EndDate),
		"is_active":           p.IsActive,
		"banner_image_url":    p.BannerImageURL,
	}
}

func (s *Store) writeTargets(ctx context.Context, p *domain.Promotion) error {
	if _, err := s.c.From("promotion_products").Eq("promotion_id", p.ID).ExecuteDelete(ctx); err != nil {
		return mapErr(err)
	}
	if _, err := s.c.From("promotion_categories").Eq("promotion_id", p.ID).ExecuteDelete(ctx); err != nil {
		return mapErr(err)
	}
	if len(p.ProductIDs) > 0 {
		rows := make([]map[string]string, len(p.ProductIDs))
		for i, id := range p.ProductIDs {
			rows[i] = map[string]string{"promotion_id": p.ID, "product_id": id}
		}
		if _, err := s.c.From("promotion_products").ExecuteInsert(ctx, rows); err != nil {
			return mapErr(err)
		}
	}
	if len(p.CategoryIDs) > 0 {
		rows := make([]map[string]string, len(p.CategoryIDs))
		for i, id := range p.CategoryIDs {
			rows[i] = map[string]string{"promotion_id": p.ID, "category_id": id}
		}
		if _, err := s.c.From("promotion_categories").ExecuteInsert(ctx, rows); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *Store) ListPromotions(ctx context.Context, activeOnly bool, now time.Time) ([]domain.Promotion, error) {
	q := s.c.From("promotions").Select(promotionSelect).Order("created_at", false)
	if activeOnly {
		q.Eq("is_active", true).Lte("start_date", stamp(now)).Gte("end_date", stamp(now))
	}
	var records []promotionRecord
	if err := q.Into(ctx, &records); err != nil {
		return nil, mapErr(err)
	}
	out := make([]domain.Promotion, len(records))
	for i := range records {
		out[i] = records[i].promotion()
	}
	return out, nil
}

func (s *Store) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	rec, err := single[promotionRecord](ctx, s.c.From("promotions").Select(promotionSelect).Eq("id", id))
	if err != nil {
		return nil, err
	}
	p := rec.promotion()
	return &p, nil
}

func (s *Store) CreatePromotion(ctx context.Context, p *domain.Promotion) (*domain.Promotion, error) {
	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt

	cols := promotionColumns(&row)
	cols["id"] = row.ID
	cols["created_at"] = stamp(row.CreatedAt)
	cols["updated_at"] = stamp(row.UpdatedAt)
	if _, err := s.c.From("promotions").ExecuteInsert(ctx, cols); err != nil {
		return nil, mapErr(err)
	}
	if err := s.writeTargets(ctx, &row); err != nil {
		_, _ = s.c.From("promotions").Eq("id", row.ID).ExecuteDelete(ctx)
		return nil, err
	}
	return &row, nil
}

func (s *Store) UpdatePromotion(ctx context.Context, p *domain.Promotion) (*domain.Promotion, error) {
	cols := promotionColumns(p)
	cols["updated_at"] = stamp(s.now())
	if err := mustAffect(s.c.From("promotions").Eq("id", p.ID).ExecuteUpdate(ctx, cols)); err != nil {
		return nil, err
	}
	if err := s.writeTargets(ctx, p); err != nil {
		return nil, err
	}
	return s.GetPromotion(ctx, p.ID)
}

func (s *Store) DeletePromotion(ctx context.Context, id string) error {
	return mustAffect(s.c.From("promotions").Eq("id", id).ExecuteDelete(ctx))
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	patch := map[string]any{"is_active": false, "updated_at": stamp(now)}
	return affected(s.c.From("promotions").Eq("is_active", true).Lt("end_date", stamp(now)).ExecuteUpdate(ctx, patch))
}
