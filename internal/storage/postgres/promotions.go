package postgres

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/R3E-Network/storefront/internal/domain"
)

const promotionColumns = `id, title, description, discount_percentage, discount_amount, start_date, end_date,
	is_active, banner_image_url, created_at, updated_at`

type promotionLink struct {
	PromotionID string `db:"promotion_id"`
	TargetID    string `db:"target_id"`
}

// attachTargets loads the product and category links of promos.
func (s *Store) attachTargets(ctx context.Context, q sqlx.QueryerContext, promos []domain.Promotion) error {
	if len(promos) == 0 {
		return nil
	}
	ids := make([]string, len(promos))
	index := make(map[string]*domain.Promotion, len(promos))
	for i := range promos {
		ids[i] = promos[i].ID
		promos[i].ProductIDs = []string{}
		promos[i].CategoryIDs = []string{}
		index[promos[i].ID] = &promos[i]
	}

	var products []promotionLink
	if err := sqlx.SelectContext(ctx, q, &products, `
		SELECT promotion_id, product_id AS target_id FROM promotion_products
		WHERE promotion_id = ANY($1) ORDER BY product_id
	`, pq.Array(ids)); err != nil {
		return mapErr(err)
	}
	for _, l := range products {
		p := index[l.PromotionID]
		p.ProductIDs = append(p.ProductIDs, l.TargetID)
	}

	var categories []promotionLink
	if err := sqlx.SelectContext(ctx, q, &categories, `
		SELECT promotion_id, category_id AS target_id FROM promotion_categories
		WHERE promotion_id = ANY($1) ORDER BY category_id
	`, pq.Array(ids)); err != nil {
		return mapErr(err)
	}
	for _, l := range categories {
		p := index[l.PromotionID]
		p.CategoryIDs = append(p.CategoryIDs, l.TargetID)
	}
	return nil
}

func writeTargets(ctx context.Context, tx *sqlx.Tx, p *domain.Promotion) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM promotion_products WHERE promotion_id = $1`, p.ID); err != nil {
		return mapErr(err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM promotion_categories WHERE promotion_id = $1`, p.ID); err != nil {
		return mapErr(err)
	}
	if len(p.ProductIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_products (promotion_id, product_id)
			SELECT $1, unnest($2::uuid[])
		`, p.ID, pq.Array(p.ProductIDs)); err != nil {
			return mapErr(err)
		}
	}
	if len(p.CategoryIDs) > 0 {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotion_categories (promotion_id, category_id)
			SELECT $1, unnest($2::uuid[])
		`, p.ID, pq.Array(p.CategoryIDs)); err != nil {
			return mapErr(err)
		}
	}
	return nil
}

func (s *Store) ListPromotions(ctx context.Context, activeOnly bool, now time.Time) ([]domain.Promotion, error) {
	out := []domain.Promotion{}
	var err error
	if activeOnly {
		err = s.db.SelectContext(ctx, &out, `
			SELECT `+promotionColumns+` FROM promotions
			WHERE is_active = TRUE AND start_date <= $1 AND end_date >= $1
			ORDER BY created_at DESC`, now)
	} else {
		err = s.db.SelectContext(ctx, &out, `SELECT `+promotionColumns+` FROM promotions ORDER BY created_at DESC`)
	}
	if err != nil {
		return nil, mapErr(err)
	}
	if err := s.attachTargets(ctx, s.db, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) GetPromotion(ctx context.Context, id string) (*domain.Promotion, error) {
	var p domain.Promotion
	if err := s.db.GetContext(ctx, &p, `SELECT `+promotionColumns+` FROM promotions WHERE id = $1`, id); err != nil {
		return nil, mapErr(err)
	}
	list := []domain.Promotion{p}
	if err := s.attachTargets(ctx, s.db, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

func (s *Store) CreatePromotion(ctx context.Context, p *domain.Promotion) (*domain.Promotion, error) {
	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt

	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO promotions (id, title, description, discount_percentage, discount_amount, start_date, end_date,
				is_active, banner_image_url, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, row.ID, row.Title, row.Description, row.DiscountPercentage, row.DiscountAmount, row.StartDate, row.EndDate,
			row.IsActive, row.BannerImageURL, row.CreatedAt, row.UpdatedAt); err != nil {
			return mapErr(err)
		}
		return writeTargets(ctx, tx, &row)
	})
	if err != nil {
		return nil, err
	}
	return &row, nil
}

func (s *Store) UpdatePromotion(ctx context.Context, p *domain.Promotion) (*domain.Promotion, error) {
	var out domain.Promotion
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if err := tx.GetContext(ctx, &out, `
			UPDATE promotions
			SET title = $2, description = $3, discount_percentage = $4, discount_amount = $5, start_date = $6,
				end_date = $7, is_active = $8, banner_image_url = $9, updated_at = $10
			WHERE id = $1
			RETURNING `+promotionColumns,
			p.ID, p.Title, p.Description, p.DiscountPercentage, p.DiscountAmount, p.StartDate, p.EndDate,
			p.IsActive, p.BannerImageURL, s.now()); err != nil {
			return mapErr(err)
		}
		out.ProductIDs = p.ProductIDs
		out.CategoryIDs = p.CategoryIDs
		return writeTargets(ctx, tx, &out)
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

func (s *Store) DeletePromotion(ctx context.Context, id string) error {
	return mustAffect(s.db.ExecContext(ctx, `DELETE FROM promotions WHERE id = $1`, id))
}

func (s *Store) DeactivateExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE promotions SET is_active = FALSE, updated_at = $1
		WHERE is_active = TRUE AND end_date < $1
	`, now)
	if err != nil {
		return 0, mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
