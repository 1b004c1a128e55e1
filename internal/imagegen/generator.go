// Package imagegen generates catalog images with an images API and stores
// them in a bucket or a local directory.
package imagegen

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PaesslerAG/jsonpath"
	"github.com/tidwall/gjson"

	"github.com/R3E-Network/storefront/internal/httputil"
	"github.com/R3E-Network/storefront/internal/logging"
)

// DefaultMaxBytes caps a downloaded image.
const DefaultMaxBytes = 10 << 20

// ErrNoImage is returned when the provider response carries no image.
var ErrNoImage = errors.New("no image in provider response")

// Image is a generated image.
type Image struct {
	Data        []byte
	ContentType string
	// SourceURL is the provider URL the bytes were downloaded from, if any.
	SourceURL string
}

// Config configures a Generator.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Size    string
	// URLPath is a JSONPath locating the image URL in the response.
	URLPath    string
	MaxBytes   int64
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *logging.Logger
}

// Generator turns prompts into image bytes.
type Generator struct {
	api      *httputil.ServiceClient
	download *http.Client
	model    string
	size     string
	urlPath  string
	maxBytes int64
	logger   *logging.Logger
}

// NewGenerator creates a Generator. An API key is required.
func NewGenerator(cfg Config) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("image generation API key not configured")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com"
	}
	if cfg.Model == "" {
		cfg.Model = "dall-e-3"
	}
	if cfg.Size == "" {
		cfg.Size = "1024x1024"
	}
	if cfg.URLPath == "" {
		cfg.URLPath = "$.data[0].url"
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 2 * time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Default()
	}
	download := cfg.HTTPClient
	if download == nil {
		download = &http.Client{Timeout: cfg.Timeout}
	}
	return &Generator{
		api: httputil.NewServiceClient(httputil.ServiceClientConfig{
			BaseURL:    cfg.BaseURL,
			Token:      cfg.APIKey,
			Timeout:    cfg.Timeout,
			HTTPClient: cfg.HTTPClient,
		}),
		download: download,
		model:    cfg.Model,
		size:     cfg.Size,
		urlPath:  cfg.URLPath,
		maxBytes: cfg.MaxBytes,
		logger:   cfg.Logger,
	}, nil
}

type generationRequest struct {
	Model          string `json:"model"`
	Prompt         string `json:"prompt"`
	N              int    `json:"n"`
	Size           string `json:"size"`
	ResponseFormat string `json:"response_format"`
}

// Generate requests one image for prompt and returns its bytes.
func (g *Generator) Generate(ctx context.Context, prompt string) (*Image, error) {
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return nil, errors.New("prompt is required")
	}

	resp, err := g.api.Post(ctx, "/v1/images/generations", generationRequest{
		Model:          g.model,
		Prompt:         prompt,
		N:              1,
		Size:           g.size,
		ResponseFormat: "url",
	})
	if err != nil {
		return nil, fmt.Errorf("images api: %w", err)
	}
	var body []byte
	if err := httputil.DecodeResponse(resp, &body); err != nil {
		return nil, fmt.Errorf("images api: %w", err)
	}

	url, inline, err := g.extract(body)
	if err != nil {
		return nil, err
	}
	if inline != nil {
		return &Image{Data: inline, ContentType: sniffImage(inline)}, nil
	}

	g.logger.WithContext(ctx).WithField("url_host", hostOf(url)).Debug("image generated, downloading")
	return g.Download(ctx, url)
}

// extract finds the image URL with the configured JSONPath, then falls back
// to the well-known response fields.
func (g *Generator) extract(body []byte) (string, []byte, error) {
	var doc interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", nil, fmt.Errorf("decode images response: %w", err)
	}
	if v, err := jsonpath.Get(g.urlPath, doc); err == nil {
		if s, ok := v.(string); ok && s != "" {
			return s, nil, nil
		}
	}

	if r := gjson.GetBytes(body, "data.0.url"); r.Exists() && r.String() != "" {
		return r.String(), nil, nil
	}
	if r := gjson.GetBytes(body, "data.0.b64_json"); r.Exists() && r.String() != "" {
		data, err := base64.StdEncoding.DecodeString(r.String())
		if err != nil {
			return "", nil, fmt.Errorf("decode inline image: %w", err)
		}
		return "", data, nil
	}
	if msg := gjson.GetBytes(body, "error.message"); msg.Exists() {
		return "", nil, fmt.Errorf("%w: %s", ErrNoImage, msg.String())
	}
	return "", nil, ErrNoImage
}

// Download fetches an image, rejecting non-image content and bodies over
// the size cap.
func (g *Generator) Download(ctx context.Context, url string) (*Image, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create download request: %w", err)
	}
	resp, err := g.download.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download image: status %d", resp.StatusCode)
	}
	contentType := strings.TrimSpace(strings.Split(resp.Header.Get("Content-Type"), ";")[0])
	if contentType != "" && !strings.HasPrefix(contentType, "image/") {
		return nil, fmt.Errorf("download image: unexpected content type %q", contentType)
	}

	data, err := httputil.ReadAllStrict(resp.Body, g.maxBytes)
	if err != nil {
		return nil, fmt.Errorf("download image: %w", err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("download image: empty body")
	}
	if contentType == "" {
		contentType = sniffImage(data)
	}
	return &Image{Data: data, ContentType: contentType, SourceURL: url}, nil
}

func sniffImage(data []byte) string {
	ct := http.DetectContentType(data)
	if strings.HasPrefix(ct, "image/") {
		return ct
	}
	return "image/jpeg"
}

func hostOf(raw string) string {
	raw = strings.TrimPrefix(strings.TrimPrefix(raw, "https://"), "http://")
	if i := strings.IndexByte(raw, '/'); i >= 0 {
		return raw[:i]
	}
	return raw
}
