package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const seedYAML = `
categories:
  - name: Bebidas
    description: Aguas frescas y cafés
  - name: Platos Fuertes
products:
  - name: Agua de Jamaica (400ml)
    category: Bebidas
    price: 6500
    stock: 40
  - name: Barbacoa de Res
    category: platos fuertes
    price: "32000.50"
    stock: 12
    description: Con arroz y frijoles
`

func writeSeed(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestApplySeed_CreatesOnce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seed, err := LoadSeed(writeSeed(t, seedYAML))
	require.NoError(t, err)
	require.Len(t, seed.Products, 2)

	res, err := svc.ApplySeed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, &SeedResult{CategoriesCreated: 2, ProductsCreated: 2}, res)

	p, err := svc.FindProduct(ctx, "barbacoa de res", false)
	require.NoError(t, err)
	assert.Equal(t, "32000.5", p.Price.String())
	require.NotNil(t, p.CategoryID)
	cat, err := svc.GetCategory(ctx, *p.CategoryID)
	require.NoError(t, err)
	assert.Equal(t, "Platos Fuertes", cat.Name)
	assert.Equal(t, "Con arroz y frijoles", *p.Description)

	again, err := svc.ApplySeed(ctx, seed)
	require.NoError(t, err)
	assert.Equal(t, &SeedResult{Skipped: 4}, again)
}

func TestApplySeed_Errors(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ApplySeed(ctx, &Seed{Products: []SeedProduct{{Name: "Flan", Category: "Postres", Price: "9000", Stock: 3}}})
	assert.ErrorContains(t, err, "unknown category")

	_, err = svc.ApplySeed(ctx, &Seed{Products: []SeedProduct{{Name: "Flan", Price: "nueve mil", Stock: 3}}})
	assert.ErrorContains(t, err, "invalid price")

	_, err = LoadSeed(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
	_, err = LoadSeed(writeSeed(t, "categories: [::"))
	assert.Error(t, err)
}
