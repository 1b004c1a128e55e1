package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/R3E-Network/storefront/internal/logging"
	"github.com/R3E-Network/storefront/supabase/client"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00}

func quietLogger() *logging.Logger {
	return logging.NewWithOutput("test", "error", "json", &bytes.Buffer{})
}

func newProvider(t *testing.T, respond func(w http.ResponseWriter, base string)) (*httptest.Server, *Generator) {
	t.Helper()
	var srv *httptest.Server
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/images/generations", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var req generationRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "dall-e-3", req.Model)
		assert.Equal(t, 1, req.N)
		assert.Equal(t, "1024x1024", req.Size)
		respond(w, srv.URL)
	})
	mux.HandleFunc("/files/img.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(jpegBytes)
	})
	mux.HandleFunc("/files/page.html", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte("<html></html>"))
	})
	mux.HandleFunc("/files/huge.jpg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		_, _ = w.Write(bytes.Repeat([]byte{1}, 2048))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	g, err := NewGenerator(Config{APIKey: "sk-test", BaseURL: srv.URL, MaxBytes: 1024, Logger: quietLogger()})
	require.NoError(t, err)
	return srv, g
}

func TestGenerateDownloadsURL(t *testing.T) {
	_, g := newProvider(t, func(w http.ResponseWriter, base string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": base + "/files/img.jpg"}}})
	})

	img, err := g.Generate(context.Background(), "una bandeja paisa")
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, img.Data)
	assert.Equal(t, "image/jpeg", img.ContentType)
	assert.True(t, strings.HasSuffix(img.SourceURL, "/files/img.jpg"))
}

func TestGenerateFallsBackToInlineImage(t *testing.T) {
	_, g := newProvider(t, func(w http.ResponseWriter, _ string) {
		_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"b64_json": base64.StdEncoding.EncodeToString(jpegBytes)}}})
	})

	img, err := g.Generate(context.Background(), "arroz con pollo")
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, img.Data)
	assert.Equal(t, "image/jpeg", img.ContentType)
}

func TestGenerateErrors(t *testing.T) {
	t.Run("provider error", func(t *testing.T) {
		_, g := newProvider(t, func(w http.ResponseWriter, _ string) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"content policy"}}`))
		})
		_, err := g.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
	})
	t.Run("no image", func(t *testing.T) {
		_, g := newProvider(t, func(w http.ResponseWriter, _ string) {
			_, _ = w.Write([]byte(`{"data":[]}`))
		})
		_, err := g.Generate(context.Background(), "x")
		assert.ErrorIs(t, err, ErrNoImage)
	})
	t.Run("not an image", func(t *testing.T) {
		_, g := newProvider(t, func(w http.ResponseWriter, base string) {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": base + "/files/page.html"}}})
		})
		_, err := g.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "content type")
	})
	t.Run("too large", func(t *testing.T) {
		_, g := newProvider(t, func(w http.ResponseWriter, base string) {
			_ = json.NewEncoder(w).Encode(map[string]any{"data": []map[string]any{{"url": base + "/files/huge.jpg"}}})
		})
		_, err := g.Generate(context.Background(), "x")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "exceeds")
	})
	t.Run("empty prompt", func(t *testing.T) {
		_, g := newProvider(t, func(w http.ResponseWriter, _ string) {})
		_, err := g.Generate(context.Background(), "  ")
		assert.Error(t, err)
	})
}

func TestCustomURLPath(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/v1/images/generations" {
			_ = json.NewEncoder(w).Encode(map[string]any{"result": map[string]any{"images": []string{srv.URL + "/img"}}})
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("\x89PNG\r\n\x1a\n"))
	}))
	defer srv.Close()

	g, err := NewGenerator(Config{APIKey: "k", BaseURL: srv.URL, URLPath: "$.result.images[0]", Logger: quietLogger()})
	require.NoError(t, err)
	img, err := g.Generate(context.Background(), "empanadas")
	require.NoError(t, err)
	assert.Equal(t, "image/png", img.ContentType)
}

func TestNewGeneratorRequiresKey(t *testing.T) {
	_, err := NewGenerator(Config{})
	assert.Error(t, err)
}

func TestSlugAndNames(t *testing.T) {
	assert.Equal(t, "arroz-con-pollo", Slug("Arroz con Pollo"))
	assert.Equal(t, "bunuelos-natilla", Slug("  Buñuelos & Natilla! "))
	assert.Equal(t, "cafe-100", Slug("Café 100%"))
	assert.Equal(t, "image", Slug("¿?"))

	now := time.UnixMilli(1718000000123)
	assert.Equal(t, "ai-generated-bandeja-paisa-1718000000123.jpg", GeneratedName("Bandeja Paisa", now))
	assert.Equal(t, "upload-jugos-1718000000123.png", ObjectName("upload", "Jugos", Extension("image/png"), now))
	assert.Equal(t, ".jpg", Extension("image/jpeg"))
	assert.Equal(t, ".webp", Extension("image/webp"))
}

func TestDirUploader(t *testing.T) {
	dir := t.TempDir()
	u, err := NewDirUploader(filepath.Join(dir, "images"), "http://localhost:8080/images/")
	require.NoError(t, err)

	url, err := u.Upload(context.Background(), "../escape.jpg", jpegBytes, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/images/escape.jpg", url)

	data, err := os.ReadFile(filepath.Join(u.Dir(), "escape.jpg"))
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, data)
}

func TestBucketUploader(t *testing.T) {
	var gotPath, gotUpsert, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotUpsert = r.Header.Get("x-upsert")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		_, _ = w.Write([]byte(`{"Key":"product-images/a.jpg"}`))
	}))
	defer srv.Close()

	c, err := client.New(client.Config{URL: srv.URL, APIKey: "service"})
	require.NoError(t, err)
	u := NewBucketUploader(c, "product-images")

	url, err := u.Upload(context.Background(), "a.jpg", jpegBytes, "image/jpeg")
	require.NoError(t, err)
	assert.Equal(t, srv.URL+"/storage/v1/object/public/product-images/a.jpg", url)
	assert.Equal(t, "/storage/v1/object/product-images/a.jpg", gotPath)
	assert.Equal(t, "true", gotUpsert)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, jpegBytes, gotBody)
}
