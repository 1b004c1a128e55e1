package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Promotion is a time-boxed discount, shown as a banner and applied to the
// listed products and categories.
type Promotion struct {
	ID                 string           `json:"id" db:"id"`
	Title              string           `json:"title" db:"title"`
	Description        *string          `json:"description" db:"description"`
	DiscountPercentage *int             `json:"discount_percentage" db:"discount_percentage"`
	DiscountAmount     *decimal.Decimal `json:"discount_amount" db:"discount_amount"`
	StartDate          time.Time        `json:"start_date" db:"start_date"`
	EndDate            time.Time        `json:"end_date" db:"end_date"`
	IsActive           bool             `json:"is_active" db:"is_active"`
	BannerImageURL     *string          `json:"banner_image_url" db:"banner_image_url"`
	ProductIDs         []string         `json:"product_ids" db:"-"`
	CategoryIDs        []string         `json:"category_ids" db:"-"`
	CreatedAt          time.Time        `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time        `json:"updated_at" db:"updated_at"`
}

// Validate checks the admin form rules: a title, exactly one discount kind
// and an end after the start.
func (p *Promotion) Validate() error {
	p.Title = strings.TrimSpace(p.Title)
	if p.Title == "" {
		return NewValidationError("title", "is required")
	}
	hasPct := p.DiscountPercentage != nil
	hasAmt := p.DiscountAmount != nil
	if hasPct == hasAmt {
		return NewValidationError("discount", "exactly one of discount_percentage or discount_amount is required")
	}
	if hasPct && (*p.DiscountPercentage < 1 || *p.DiscountPercentage > 100) {
		return NewValidationError("discount_percentage", "must be between 1 and 100")
	}
	if hasAmt && !p.DiscountAmount.IsPositive() {
		return NewValidationError("discount_amount", "must be positive")
	}
	if p.StartDate.IsZero() || p.EndDate.IsZero() {
		return NewValidationError("dates", "start_date and end_date are required")
	}
	if !p.EndDate.After(p.StartDate) {
		return NewValidationError("end_date", "must be after start_date")
	}
	p.Description = trimOptional(p.Description)
	p.BannerImageURL = trimOptional(p.BannerImageURL)
	if p.ProductIDs == nil {
		p.ProductIDs = []string{}
	}
	if p.CategoryIDs == nil {
		p.CategoryIDs = []string{}
	}
	return nil
}

// Running reports whether the promotion is active at now.
func (p *Promotion) Running(now time.Time) bool {
	return p.IsActive && !now.Before(p.StartDate) && !now.After(p.EndDate)
}

// Expired reports whether the promotion is still flagged active past its end.
func (p *Promotion) Expired(now time.Time) bool {
	return p.IsActive && now.After(p.EndDate)
}

// Covers reports whether the promotion applies to product. Promotions with
// no product or category targets are banner-only.
func (p *Promotion) Covers(product *Product) bool {
	for _, id := range p.ProductIDs {
		if id == product.ID {
			return true
		}
	}
	if product.CategoryID != nil {
		for _, id := range p.CategoryIDs {
			if id == *product.CategoryID {
				return true
			}
		}
	}
	return false
}

// Apply returns price after the promotion's discount, never below zero.
func (p *Promotion) Apply(price decimal.Decimal) decimal.Decimal {
	var out decimal.Decimal
	switch {
	case p.DiscountPercentage != nil:
		factor := decimal.NewFromInt(int64(100 - *p.DiscountPercentage)).Div(decimal.NewFromInt(100))
		out = price.Mul(factor).Round(2)
	case p.DiscountAmount != nil:
		out = price.Sub(*p.DiscountAmount)
	default:
		out = price
	}
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// BestPrice returns the lowest price among the running promotions covering
// product, and the promotion that produced it (nil when none applies).
func BestPrice(product *Product, promotions []Promotion, now time.Time) (decimal.Decimal, *Promotion) {
	best := product.Price
	var chosen *Promotion
	for i := range promotions {
		promo := &promotions[i]
		if !promo.Running(now) || !promo.Covers(product) {
			continue
		}
		if price := promo.Apply(product.Price); price.LessThan(best) {
			best = price
			chosen = promo
		}
	}
	return best, chosen
}
