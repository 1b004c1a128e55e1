// Package images generates and uploads catalog pictures and points products
// and categories at them.
package images

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/domain"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/imagegen"
	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/internal/metrics"
)

const ServiceName = "images"

// MaxUploadBytes caps a manual upload.
const MaxUploadBytes = imagegen.DefaultMaxBytes

// Generator turns a prompt into image bytes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (*imagegen.Image, error)
}

// Catalog reads and patches the rows images are attached to.
type Catalog interface {
	AdminGetProduct(ctx context.Context, id string) (*domain.Product, error)
	FindProduct(ctx context.Context, name string, contains bool) (*domain.Product, error)
	GetCategory(ctx context.Context, id string) (*domain.Category, error)
	ListCategories(ctx context.Context) ([]domain.Category, error)
	SetProductImage(ctx context.Context, id, url string) error
	SetCategoryImage(ctx context.Context, id, url string) error
}

// Config configures the images service. Generator may be nil when no
// images API key is configured; uploads keep working.
type Config struct {
	Catalog   Catalog
	Generator Generator
	Uploader  imagegen.Uploader
	Manifest  *config.ImageManifest
	Logger    *logging.Logger
	Metrics   *metrics.Metrics
}

// Service implements image generation and upload.
type Service struct {
	catalog   Catalog
	generator Generator
	uploader  imagegen.Uploader
	manifest  *config.ImageManifest
	logger    *logging.Logger
	metrics   *metrics.Metrics
	now       func() time.Time
}

// New creates the images service.
func New(cfg Config) *Service {
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	if cfg.Manifest == nil {
		cfg.Manifest = config.DefaultImageManifest()
	}
	return &Service{
		catalog:   cfg.Catalog,
		generator: cfg.Generator,
		uploader:  cfg.Uploader,
		manifest:  cfg.Manifest,
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
		now:       time.Now,
	}
}

// Manifest returns the configured batch manifest.
func (s *Service) Manifest() *config.ImageManifest { return s.manifest }

// target is a row an image is attached to.
type target struct {
	table string
	id    string
	name  string
	desc  string
}

func (s *Service) resolve(ctx context.Context, table, id string) (*target, error) {
	switch table {
	case config.TableProducts:
		p, err := s.catalog.AdminGetProduct(ctx, id)
		if err != nil {
			return nil, err
		}
		return &target{table: table, id: p.ID, name: p.Name, desc: domain.Deref(p.Description)}, nil
	case config.TableCategories:
		c, err := s.catalog.GetCategory(ctx, id)
		if err != nil {
			return nil, err
		}
		return &target{table: table, id: c.ID, name: c.Name, desc: domain.Deref(c.Description)}, nil
	}
	return nil, errors.InvalidFormat("table", "products or categories")
}

func (s *Service) attach(ctx context.Context, t *target, url string) error {
	if t.table == config.TableCategories {
		return s.catalog.SetCategoryImage(ctx, t.id, url)
	}
	return s.catalog.SetProductImage(ctx, t.id, url)
}

// DefaultPrompt builds the generation prompt for a row.
func DefaultPrompt(table, name, description string) string {
	var b strings.Builder
	if table == config.TableCategories {
		fmt.Fprintf(&b, "Appetizing selection of %s dishes", name)
	} else {
		fmt.Fprintf(&b, "Professional food photography of %s", name)
	}
	if d := strings.TrimSpace(description); d != "" {
		fmt.Fprintf(&b, ", %s", d)
	}
	b.WriteString(", restaurant presentation, natural lighting, high resolution")
	return b.String()
}

// generate produces, stores and attaches one image. The row is only
// patched after the upload succeeded.
func (s *Service) generate(ctx context.Context, t *target, prompt, fileName string) (string, error) {
	if s.generator == nil {
		return "", errors.BadRequest("image generation is not configured")
	}
	if s.uploader == nil {
		return "", errors.Internal("no image storage configured", nil)
	}
	if strings.TrimSpace(prompt) == "" {
		prompt = DefaultPrompt(t.table, t.name, t.desc)
	}
	log := s.logger.WithContext(ctx).WithFields(map[string]interface{}{"table": t.table, "row_id": t.id})

	img, err := s.generator.Generate(ctx, prompt)
	if err != nil {
		s.metrics.RecordImageGenerated(false)
		log.WithError(err).Warn("image generation failed")
		return "", errors.Upstream("images", err)
	}
	if fileName == "" {
		fileName = imagegen.GeneratedName(t.name, s.now())
	}
	url, err := s.uploader.Upload(ctx, fileName, img.Data, "image/jpeg")
	if err != nil {
		s.metrics.RecordImageGenerated(false)
		log.WithError(err).Error("image upload failed")
		return "", errors.Upstream("storage", err)
	}
	if err := s.attach(ctx, t, url); err != nil {
		s.metrics.RecordImageGenerated(false)
		return "", err
	}
	s.metrics.RecordImageGenerated(true)
	log.WithField("url", url).Info("image generated")
	return url, nil
}

// GenerateForProduct generates an image for product id and stores its URL.
// An empty prompt is built from the product name and description.
func (s *Service) GenerateForProduct(ctx context.Context, id, prompt string) (string, error) {
	t, err := s.resolve(ctx, config.TableProducts, id)
	if err != nil {
		return "", err
	}
	return s.generate(ctx, t, prompt, "")
}

// GenerateForCategory is GenerateForProduct for categories.
func (s *Service) GenerateForCategory(ctx context.Context, id, prompt string) (string, error) {
	t, err := s.resolve(ctx, config.TableCategories, id)
	if err != nil {
		return "", err
	}
	return s.generate(ctx, t, prompt, "")
}

// UploadImage stores a provided image for a row and attaches it.
func (s *Service) UploadImage(ctx context.Context, table, id string, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", errors.MissingParameter("file")
	}
	if int64(len(data)) > MaxUploadBytes {
		return "", errors.BadRequest(fmt.Sprintf("image exceeds %d bytes", MaxUploadBytes))
	}
	contentType = strings.TrimSpace(strings.Split(contentType, ";")[0])
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", errors.InvalidFormat("file", "an image")
	}
	if s.uploader == nil {
		return "", errors.Internal("no image storage configured", nil)
	}
	t, err := s.resolve(ctx, table, id)
	if err != nil {
		return "", err
	}
	name := imagegen.ObjectName("upload", t.name, imagegen.Extension(contentType), s.now())
	url, err := s.uploader.Upload(ctx, name, data, contentType)
	if err != nil {
		return "", errors.Upstream("storage", err)
	}
	if err := s.attach(ctx, t, url); err != nil {
		return "", err
	}
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{"table": table, "row_id": t.id, "url": url}).Info("image uploaded")
	return url, nil
}

// JobResult is the outcome of one manifest job.
type JobResult struct {
	Name  string `json:"name"`
	Table string `json:"table"`
	RowID string `json:"row_id,omitempty"`
	URL   string `json:"url,omitempty"`
	Error string `json:"error,omitempty"`
}

// BatchResult summarises a manifest run.
type BatchResult struct {
	Succeeded int         `json:"succeeded"`
	Failed    int         `json:"failed"`
	Results   []JobResult `json:"results"`
}

func (s *Service) match(ctx context.Context, job config.ImageJob) (*target, error) {
	if job.Table == config.TableCategories {
		cats, err := s.catalog.ListCategories(ctx)
		if err != nil {
			return nil, err
		}
		for _, c := range cats {
			if job.Matches(c.Name) {
				return &target{table: job.Table, id: c.ID, name: c.Name, desc: domain.Deref(c.Description)}, nil
			}
		}
		return nil, errors.NotFound("category", job.Pattern())
	}
	p, err := s.catalog.FindProduct(ctx, job.Pattern(), job.Mode == config.MatchContains)
	if err != nil {
		return nil, err
	}
	return &target{table: config.TableProducts, id: p.ID, name: p.Name, desc: domain.Deref(p.Description)}, nil
}

// RunManifest runs the jobs of m one after another. A failing job is
// recorded and the batch continues. A nil manifest runs the configured one.
func (s *Service) RunManifest(ctx context.Context, m *config.ImageManifest) *BatchResult {
	if m == nil {
		m = s.manifest
	}
	out := &BatchResult{Results: make([]JobResult, 0, len(m.Jobs))}
	for _, job := range m.Jobs {
		if ctx.Err() != nil {
			out.Results = append(out.Results, JobResult{Name: job.Name, Table: job.Table, Error: ctx.Err().Error()})
			out.Failed++
			continue
		}
		res := JobResult{Name: job.Name, Table: job.Table}
		t, err := s.match(ctx, job)
		if err == nil {
			res.RowID = t.id
			res.URL, err = s.generate(ctx, t, job.Prompt, job.FileName)
		}
		if err != nil {
			res.Error = err.Error()
			out.Failed++
		} else {
			out.Succeeded++
		}
		out.Results = append(out.Results, res)
	}
	s.logger.WithContext(ctx).WithFields(map[string]interface{}{
		"jobs":      len(m.Jobs),
		"succeeded": out.Succeeded,
		"failed":    out.Failed,
	}).Info("image batch finished")
	return out
}
