// Package postgres implements storage.Store on PostgreSQL with sqlx and
// lib/pq. Schema lives in internal/platform/migrations.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

var _ storage.Store = (*Store)(nil)

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return New(db), nil
}

// DB exposes the handle for migrations.
func (s *Store) DB() *sqlx.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// mapErr converts driver errors to storage sentinels.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "23505":
			return fmt.Errorf("%w: %s", storage.ErrConflict, pqErr.Message)
		case "23503":
			return fmt.Errorf("%w: %s", storage.ErrNotFound, pqErr.Message)
		}
	}
	return err
}

func mustAffect(res sql.Result, err error) error {
	if err != nil {
		return mapErr(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// likePattern escapes LIKE wildcards in q and wraps it in %.
func likePattern(q string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(q) + "%"
}

// --- ProductStore -----------------------------------------------------------

const productColumns = `id, name, description, price, stock, category_id, image_url, is_active, created_at, updated_at`

func (s *Store) ListProducts(ctx context.Context, f domain.ProductFilter) ([]domain.Product, error) {
	var (
		where []string
		args  []any
	)
	if f.ActiveOnly {
		where = append(where, "is_active = TRUE")
	}
	if f.InStockOnly {
		where = append(where, "stock > 0")
	}
	if f.CategoryID != "" {
		args = append(args, f.CategoryID)
		where = append(where, fmt.Sprintf("category_id = $%d", len(args)))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		args = append(args, likePattern(q))
		where = append(where, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}

	query := "SELECT " + productColumns + " FROM products"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	out := []domain.Product{}
	if err := s.db.SelectContext(ctx, &out, query, args...); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetProduct(ctx context.Context, id string) (*domain.Product, error) {
	var p domain.Product
	err := s.db.GetContext(ctx, &p, `SELECT `+productColumns+` FROM products WHERE id = $1`, id)
	if err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) FindProductByName(ctx context.Context, name string, contains bool) (*domain.Product, error) {
	query := `SELECT ` + productColumns + ` FROM products WHERE lower(name) = lower($1) ORDER BY created_at LIMIT 1`
	arg := name
	if contains {
		query = `SELECT ` + productColumns + ` FROM products WHERE name ILIKE $1 ORDER BY created_at LIMIT 1`
		arg = likePattern(name)
	}
	var p domain.Product
	if err := s.db.GetContext(ctx, &p, query, arg); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) CreateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO products (id, name, description, price, stock, category_id, image_url, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, row.ID, row.Name, row.Description, row.Price, row.Stock, row.CategoryID, row.ImageURL, row.IsActive, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &row, nil
}

func (s *Store) UpdateProduct(ctx context.Context, p *domain.Product) (*domain.Product, error) {
	var out domain.Product
	err := s.db.GetContext(ctx, &out, `
		UPDATE products
		SET name = $2, description = $3, price = $4, stock = $5, category_id = $6, image_url = $7, is_active = $8, updated_at = $9
		WHERE id = $1
		RETURNING `+productColumns,
		p.ID, p.Name, p.Description, p.Price, p.Stock, p.CategoryID, p.ImageURL, p.IsActive, s.now())
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func (s *Store) DeleteProduct(ctx context.Context, id string) error {
	return mustAffect(s.db.ExecContext(ctx, `DELETE FROM products WHERE id = $1`, id))
}

func (s *Store) SetProductImage(ctx context.Context, id, url string) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE products SET image_url = $2, updated_at = $3 WHERE id = $1`, id, url, s.now()))
}

// --- CategoryStore ----------------------------------------------------------

const categoryColumns = `id, name, description, image_url, created_at, updated_at`

func (s *Store) ListCategories(ctx context.Context) ([]domain.Category, error) {
	out := []domain.Category{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+categoryColumns+` FROM categories ORDER BY name`); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	var c domain.Category
	if err := s.db.GetContext(ctx, &c, `SELECT `+categoryColumns+` FROM categories WHERE id = $1`, id); err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) GetCategoryByName(ctx context.Context, name string) (*domain.Category, error) {
	var c domain.Category
	err := s.db.GetContext(ctx, &c, `SELECT `+categoryColumns+` FROM categories WHERE lower(name) = lower($1)`, name)
	if err != nil {
		return nil, mapErr(err)
	}
	return &c, nil
}

func (s *Store) CreateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	row := *c
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, description, image_url, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, row.ID, row.Name, row.Description, row.ImageURL, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &row, nil
}

func (s *Store) UpdateCategory(ctx context.Context, c *domain.Category) (*domain.Category, error) {
	var out domain.Category
	err := s.db.GetContext(ctx, &out, `
		UPDATE categories SET name = $2, description = $3, image_url = $4, updated_at = $5
		WHERE id = $1
		RETURNING `+categoryColumns,
		c.ID, c.Name, c.Description, c.ImageURL, s.now())
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func (s *Store) DeleteCategory(ctx context.Context, id string) error {
	return mustAffect(s.db.ExecContext(ctx, `DELETE FROM categories WHERE id = $1`, id))
}

func (s *Store) SetCategoryImage(ctx context.Context, id, url string) error {
	return mustAffect(s.db.ExecContext(ctx,
		`UPDATE categories SET image_url = $2, updated_at = $3 WHERE id = $1`, id, url, s.now()))
}
