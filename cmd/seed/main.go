package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"github.com/joho/godotenv"

	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/platform/migrations"
	"github.com/R3E-Network/storefront/internal/storage"
	"github.com/R3E-Network/storefront/internal/storage/postgres"
	supabasestore "github.com/R3E-Network/storefront/internal/storage/supabase"
	"github.com/R3E-Network/storefront/services/catalog"
	"github.com/R3E-Network/storefront/supabase/client"
)

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to a .env file with the storefront settings")
		seedFile = flag.String("seed", "config/seed.yaml", "Menu seed file")
		migrate  = flag.Bool("migrate", true, "Apply migrations first (postgres only)")
	)
	flag.Parse()

	ctx := context.Background()

	if err := godotenv.Load(*envFile); err != nil {
		log.Printf("load env (%s): %v; using process environment", *envFile, err)
	}
	cfg, err := config.LoadFromFile("")
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	seed, err := catalog.LoadSeed(*seedFile)
	if err != nil {
		log.Fatalf("%v", err)
	}

	var store storage.Store
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		pg, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("open postgres: %v", err)
		}
		if *migrate {
			if err := migrations.Apply(ctx, pg.DB().DB); err != nil {
				log.Fatalf("apply migrations: %v", err)
			}
		}
		store = pg
	case config.DriverSupabase:
		c, err := client.New(client.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseServiceKey})
		if err != nil {
			log.Fatalf("supabase client: %v", err)
		}
		store = supabasestore.New(c)
	default:
		log.Fatalf("STORAGE_DRIVER=%q has nothing to seed; use postgres or supabase", cfg.StorageDriver)
	}
	defer store.Close()

	svc := catalog.New(catalog.Config{Store: store, Logger: logging.New("seed", cfg.LogLevel, "text")})
	res, err := svc.ApplySeed(ctx, seed)
	if err != nil {
		log.Fatalf("seed catalog: %v", err)
	}

	fmt.Printf("Seeded %s: %d categories, %d products created, %d already present\n",
		cfg.StorageDriver, res.CategoriesCreated, res.ProductsCreated, res.Skipped)
}
