// Command imagegen generates menu images for the products and categories
// listed in an image manifest and stores their URLs on the catalog rows.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/imagegen"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/storage"
	"github.com/R3E-Network/storefront/internal/storage/postgres"
	supabasestore "github.com/R3E-Network/storefront/internal/storage/supabase"
	"github.com/R3E-Network/storefront/services/catalog"
	"github.com/R3E-Network/storefront/services/images"
	"github.com/R3E-Network/storefront/supabase/client"
)

func main() {
	var (
		envFile  = flag.String("env", ".env", "Path to a .env file with the storefront settings")
		manifest = flag.String("manifest", "", "Image manifest (YAML or JSON); defaults to IMAGE_MANIFEST")
		only     = flag.String("only", "", "Run only the job with this name")
	)
	flag.Parse()

	cfg, err := config.LoadFromFile(*envFile)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if cfg.OpenAIAPIKey == "" {
		log.Fatalf("OPENAI_API_KEY missing; nothing to generate with")
	}
	logger := logging.New("imagegen", cfg.LogLevel, "text")

	path := cfg.ImageManifest
	if *manifest != "" {
		path = *manifest
	}
	m, err := config.LoadImageManifest(path)
	if err != nil {
		log.Fatalf("load manifest %s: %v", path, err)
	}
	if *only != "" {
		m = filterJobs(m, *only)
		if len(m.Jobs) == 0 {
			log.Fatalf("no job named %q in %s", *only, path)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, uploader, err := openBackends(ctx, cfg)
	if err != nil {
		log.Fatalf("open storage: %v", err)
	}
	defer store.Close()

	gen, err := imagegen.NewGenerator(imagegen.Config{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.ImageModel,
		Size:    cfg.ImageSize,
		URLPath: cfg.ImageURLPath,
		Logger:  logger,
	})
	if err != nil {
		log.Fatalf("image generator: %v", err)
	}

	svc := images.New(images.Config{
		Catalog:   catalog.New(catalog.Config{Store: store, Logger: logger}),
		Generator: gen,
		Uploader:  uploader,
		Manifest:  m,
		Logger:    logger,
	})

	result := svc.RunManifest(ctx, nil)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(result); err != nil {
		log.Fatalf("write result: %v", err)
	}
	fmt.Fprintf(os.Stderr, "%d generated, %d failed\n", result.Succeeded, result.Failed)
	if result.Failed > 0 {
		os.Exit(1)
	}
}

// openBackends connects to the configured store. Images go to the bucket
// when the store is Supabase and to IMAGE_DIR otherwise.
func openBackends(ctx context.Context, cfg *config.Config) (storage.Store, imagegen.Uploader, error) {
	switch cfg.StorageDriver {
	case config.DriverPostgres:
		store, err := postgres.Open(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		dir, err := imagegen.NewDirUploader(cfg.ImageDir, "/images")
		if err != nil {
			_ = store.Close()
			return nil, nil, err
		}
		return store, dir, nil
	case config.DriverSupabase:
		c, err := client.New(client.Config{URL: cfg.SupabaseURL, APIKey: cfg.SupabaseServiceKey, EnableResilience: true})
		if err != nil {
			return nil, nil, err
		}
		return supabasestore.New(c), imagegen.NewBucketUploader(c, cfg.ImageBucket), nil
	default:
		return nil, nil, fmt.Errorf("storage driver %q keeps no catalog to update", cfg.StorageDriver)
	}
}

func filterJobs(m *config.ImageManifest, name string) *config.ImageManifest {
	out := &config.ImageManifest{Bucket: m.Bucket}
	for _, job := range m.Jobs {
		if job.Name == name {
			out.Jobs = append(out.Jobs, job)
		}
	}
	return out
}
