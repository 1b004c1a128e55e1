package catalog

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
)

// Seed is a starter menu loaded into an empty catalog.
type Seed struct {
	Categories []SeedCategory `yaml:"categories"`
	Products   []SeedProduct  `yaml:"products"`
}

// SeedCategory is one category of a Seed.
type SeedCategory struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// SeedProduct is one product of a Seed. Category names a seed or existing
// category.
type SeedProduct struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Category    string `yaml:"category"`
	Price       string `yaml:"price"`
	Stock       int    `yaml:"stock"`
}

// SeedResult counts what a seed run created and skipped.
type SeedResult struct {
	CategoriesCreated int `json:"categories_created"`
	ProductsCreated   int `json:"products_created"`
	Skipped           int `json:"skipped"`
}

// LoadSeed reads a seed file.
func LoadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	var s Seed
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	return &s, nil
}

// ApplySeed creates the seed rows that do not exist yet. Rows are matched
// by name ignoring case, so running a seed twice creates nothing new.
func (s *Service) ApplySeed(ctx context.Context, seed *Seed) (*SeedResult, error) {
	res := &SeedResult{}
	existing, err := s.ListCategories(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(existing))
	for _, c := range existing {
		byName[strings.ToLower(c.Name)] = c.ID
	}

	for _, sc := range seed.Categories {
		key := strings.ToLower(strings.TrimSpace(sc.Name))
		if _, ok := byName[key]; ok {
			res.Skipped++
			continue
		}
		c, err := s.CreateCategory(ctx, domain.Category{Name: sc.Name, Description: optionalText(sc.Description)})
		if err != nil {
			return res, fmt.Errorf("category %q: %w", sc.Name, err)
		}
		byName[key] = c.ID
		res.CategoriesCreated++
	}

	for _, sp := range seed.Products {
		_, err := s.FindProduct(ctx, strings.TrimSpace(sp.Name), false)
		if err == nil {
			res.Skipped++
			continue
		}
		if errors.HTTPStatus(err) != http.StatusNotFound {
			return res, err
		}
		price, err := decimal.NewFromString(strings.TrimSpace(sp.Price))
		if err != nil {
			return res, fmt.Errorf("product %q: invalid price %q", sp.Name, sp.Price)
		}
		p := domain.Product{
			Name:        sp.Name,
			Description: optionalText(sp.Description),
			Price:       price,
			Stock:       sp.Stock,
			IsActive:    true,
		}
		if sp.Category != "" {
			id, ok := byName[strings.ToLower(strings.TrimSpace(sp.Category))]
			if !ok {
				return res, fmt.Errorf("product %q: unknown category %q", sp.Name, sp.Category)
			}
			p.CategoryID = &id
		}
		if _, err := s.CreateProduct(ctx, p); err != nil {
			return res, fmt.Errorf("product %q: %w", sp.Name, err)
		}
		res.ProductsCreated++
	}
	return res, nil
}

func optionalText(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}
