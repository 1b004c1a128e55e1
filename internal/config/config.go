// Package config loads runtime configuration from the environment (with an
// optional .env file) and the YAML image manifest.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"github.com/joho/godotenv"
)

// Storage drivers.
const (
	DriverMemory   = "memory"
	DriverPostgres = "postgres"
	DriverSupabase = "supabase"
)

const defaultCORSOrigins = "http://localhost:3000,http://localhost:5173"

// Config holds every environment-driven setting of the storefront.
type Config struct {
	HTTPAddr  string `env:"HTTP_ADDR,default=:8080"`
	LogLevel  string `env:"LOG_LEVEL,default=info"`
	LogFormat string `env:"LOG_FORMAT,default=json"`
	Version   string `env:"SERVICE_VERSION,default=1.0.0"`

	StorageDriver string `env:"STORAGE_DRIVER,default=memory"`
	DatabaseURL   string `env:"DATABASE_URL"`

	SupabaseURL        string `env:"SUPABASE_URL"`
	SupabaseServiceKey string `env:"SUPABASE_SERVICE_KEY"`
	SupabaseAnonKey    string `env:"SUPABASE_ANON_KEY"`
	SupabaseJWTSecret  string `env:"SUPABASE_JWT_SECRET"`

	// JWTSecret signs tokens issued by the local auth provider.
	JWTSecret      string `env:"JWT_SECRET"`
	AdminBootstrap bool   `env:"ADMIN_BOOTSTRAP,default=true"`

	RedisURL string        `env:"REDIS_URL"`
	CartTTL  time.Duration `env:"CART_TTL,default=24h"`

	StripeSecretKey string `env:"STRIPE_SECRET_KEY"`
	StripeCurrency  string `env:"STRIPE_CURRENCY,default=cop"`
	StripeCountries string `env:"STRIPE_COUNTRIES,default=CO"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL,default=https://api.openai.com"`
	ImageModel    string `env:"IMAGE_MODEL,default=dall-e-3"`
	ImageSize     string `env:"IMAGE_SIZE,default=1024x1024"`
	ImageURLPath  string `env:"IMAGE_URL_PATH,default=$.data[0].url"`
	ImageBucket   string `env:"IMAGE_BUCKET,default=product-images"`
	ImageDir      string `env:"IMAGE_DIR,default=./data/images"`
	ImageManifest string `env:"IMAGE_MANIFEST,default=config/images.yaml"`

	CORSAllowedOrigins string `env:"CORS_ALLOWED_ORIGINS"`
	RateLimitRPS       int    `env:"RATE_LIMIT_RPS,default=20"`
	RateLimitBurst     int    `env:"RATE_LIMIT_BURST,default=40"`

	PromotionSweepSchedule string        `env:"PROMOTION_SWEEP_SCHEDULE,default=@every 5m"`
	CatalogCacheTTL        time.Duration `env:"CATALOG_CACHE_TTL,default=60s"`

	// AuditLogPath, when set, appends back-office writes as JSON lines.
	AuditLogPath string `env:"AUDIT_LOG_PATH"`
}

// Load reads an optional .env file and decodes the environment.
func Load() (*Config, error) {
	return LoadFromFile(".env")
}

// LoadFromFile is Load with an explicit dotenv path. A missing file is not an error.
func LoadFromFile(path string) (*Config, error) {
	if path != "" {
		if err := godotenv.Load(path); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("load %s: %w", path, err)
		}
	}

	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))
	if cfg.CORSAllowedOrigins == "" {
		cfg.CORSAllowedOrigins = defaultCORSOrigins
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks that the selected storage driver has its connection settings.
func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory:
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required for storage driver %q", c.StorageDriver)
		}
	case DriverSupabase:
		if c.SupabaseURL == "" || c.SupabaseServiceKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for storage driver %q", c.StorageDriver)
		}
	default:
		return fmt.Errorf("unknown storage driver %q", c.StorageDriver)
	}
	if c.RateLimitRPS <= 0 || c.RateLimitBurst <= 0 {
		return fmt.Errorf("rate limit settings must be positive")
	}
	return nil
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c *Config) AllowedOrigins() []string {
	return splitAndTrimCSV(c.CORSAllowedOrigins)
}

// ShippingCountries splits STRIPE_COUNTRIES on commas.
func (c *Config) ShippingCountries() []string {
	return splitAndTrimCSV(c.StripeCountries)
}

// TokenSecret returns the HMAC secret used to verify bearer tokens: the BaaS
// JWT secret when set, otherwise the local signing secret.
func (c *Config) TokenSecret() string {
	if c.SupabaseJWTSecret != "" {
		return c.SupabaseJWTSecret
	}
	return c.JWTSecret
}

func splitAndTrimCSV(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
