package postgres

import (
	"context"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/storefront/internal/domain"
)

const profileColumns = `id, user_id, full_name, phone, address, city, notes, is_active, created_at, updated_at`

// --- UserStore --------------------------------------------------------------

func (s *Store) ListProfiles(ctx context.Context) ([]domain.UserProfile, error) {
	out := []domain.UserProfile{}
	if err := s.db.SelectContext(ctx, &out, `SELECT `+profileColumns+` FROM profiles ORDER BY created_at DESC`); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) GetProfile(ctx context.Context, userID string) (*domain.UserProfile, error) {
	var p domain.UserProfile
	if err := s.db.GetContext(ctx, &p, `SELECT `+profileColumns+` FROM profiles WHERE user_id = $1`, userID); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}

func (s *Store) CreateProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	row := *p
	if row.ID == "" {
		row.ID = uuid.NewString()
	}
	row.CreatedAt = s.now()
	row.UpdatedAt = row.CreatedAt

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO profiles (id, user_id, full_name, phone, address, city, notes, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, row.ID, row.UserID, row.FullName, row.Phone, row.Address, row.City, row.Notes, row.IsActive, row.CreatedAt, row.UpdatedAt)
	if err != nil {
		return nil, mapErr(err)
	}
	return &row, nil
}

func (s *Store) UpdateProfile(ctx context.Context, p *domain.UserProfile) (*domain.UserProfile, error) {
	var out domain.UserProfile
	err := s.db.GetContext(ctx, &out, `
		UPDATE profiles
		SET full_name = $2, phone = $3, address = $4, city = $5, notes = $6, is_active = $7, updated_at = $8
		WHERE user_id = $1
		RETURNING `+profileColumns,
		p.UserID, p.FullName, p.Phone, p.Address, p.City, p.Notes, p.IsActive, s.now())
	if err != nil {
		return nil, mapErr(err)
	}
	return &out, nil
}

func (s *Store) DeleteProfile(ctx context.Context, userID string) error {
	return s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return mapErr(err)
		}
		return mustAffect(tx.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = $1`, userID))
	})
}

func (s *Store) ListRoles(ctx context.Context, userID string) ([]domain.UserRole, error) {
	out := []domain.UserRole{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, user_id, role, created_by, created_at FROM user_roles
		WHERE user_id = $1 ORDER BY created_at, role
	`, userID)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) ReplaceRoles(ctx context.Context, userID string, roles []domain.Role, createdBy string) ([]domain.UserRole, error) {
	now := s.now()
	out := make([]domain.UserRole, 0, len(roles))
	err := s.withTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM user_roles WHERE user_id = $1`, userID); err != nil {
			return mapErr(err)
		}
		for _, role := range roles {
			r := domain.UserRole{
				ID:        uuid.NewString(),
				UserID:    userID,
				Role:      role,
				CreatedBy: domain.StringPtr(createdBy),
				CreatedAt: now,
			}
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO user_roles (id, user_id, role, created_by, created_at)
				VALUES ($1, $2, $3, $4, $5)
			`, r.ID, r.UserID, r.Role, r.CreatedBy, r.CreatedAt); err != nil {
				return mapErr(err)
			}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) CountRole(ctx context.Context, role domain.Role) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(DISTINCT user_id) FROM user_roles WHERE role = $1`, role); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

// --- ViewStore --------------------------------------------------------------

func (s *Store) RecordView(ctx context.Context, v *domain.ProductView) error {
	id := v.ID
	if id == "" {
		id = uuid.NewString()
	}
	viewedAt := v.ViewedAt
	if viewedAt.IsZero() {
		viewedAt = s.now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO product_views (id, product_id, user_id, session_id, viewed_at)
		VALUES ($1, $2, $3, $4, $5)
	`, id, v.ProductID, v.UserID, v.SessionID, viewedAt)
	return mapErr(err)
}

func (s *Store) CountViews(ctx context.Context, productID string) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM product_views WHERE product_id = $1`, productID); err != nil {
		return 0, mapErr(err)
	}
	return n, nil
}

func (s *Store) TopViewed(ctx context.Context, limit int) ([]domain.ViewCount, error) {
	if limit <= 0 {
		limit = 10
	}
	out := []domain.ViewCount{}
	err := s.db.SelectContext(ctx, &out, `
		SELECT product_id, COUNT(*) AS views FROM product_views
		GROUP BY product_id
		ORDER BY views DESC, product_id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}
