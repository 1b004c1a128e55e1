package imagegen

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/R3E-Network/storefront/supabase/client"
)

// Uploader stores image bytes under name and returns their public URL.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte, contentType string) (string, error)
}

// BucketUploader stores images in a storage bucket of the BaaS.
type BucketUploader struct {
	bucket *client.BucketClient
}

// NewBucketUploader uploads into bucket.
func NewBucketUploader(c *client.Client, bucket string) *BucketUploader {
	return &BucketUploader{bucket: c.Storage().From(bucket)}
}

func (u *BucketUploader) Upload(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if err := u.bucket.Upload(ctx, name, data, client.UploadOptions{
		ContentType: contentType,
		Upsert:      true,
	}); err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return u.bucket.GetPublicURL(name), nil
}

// DirUploader writes images to a local directory served under baseURL.
type DirUploader struct {
	dir     string
	baseURL string
}

// NewDirUploader creates dir if needed.
func NewDirUploader(dir, baseURL string) (*DirUploader, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create image dir: %w", err)
	}
	return &DirUploader{dir: dir, baseURL: strings.TrimRight(baseURL, "/")}, nil
}

// Dir returns the directory images are written to.
func (u *DirUploader) Dir() string { return u.dir }

func (u *DirUploader) Upload(_ context.Context, name string, data []byte, _ string) (string, error) {
	clean := filepath.Base(filepath.Clean("/" + name))
	if clean == "/" || clean == "." {
		return "", fmt.Errorf("invalid object name %q", name)
	}
	tmp, err := os.CreateTemp(u.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("write %s: %w", clean, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", clean, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", clean, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(u.dir, clean)); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", clean, err)
	}
	return u.baseURL + "/" + clean, nil
}

var accents = strings.NewReplacer(
	"á", "a", "é", "e", "í", "i", "ó", "o", "ú", "u", "ü", "u", "ñ", "n",
	"Á", "a", "É", "e", "Í", "i", "Ó", "o", "Ú", "u", "Ü", "u", "Ñ", "n",
)

// Slug lowercases s and joins its words with dashes, keeping ASCII letters
// and digits only.
func Slug(s string) string {
	s = strings.ToLower(accents.Replace(strings.TrimSpace(s)))
	var b strings.Builder
	dash := false
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			dash = false
		default:
			if b.Len() > 0 && !dash {
				b.WriteByte('-')
				dash = true
			}
		}
	}
	out := strings.TrimRight(b.String(), "-")
	if out == "" {
		return "image"
	}
	return out
}

// ObjectName returns "<prefix>-<slug>-<unix ms><ext>".
func ObjectName(prefix, label, ext string, now time.Time) string {
	if ext == "" {
		ext = ".jpg"
	}
	return prefix + "-" + Slug(label) + "-" + strconv.FormatInt(now.UnixMilli(), 10) + ext
}

// GeneratedName names a generated image: ai-generated-<slug>-<unix ms>.jpg.
func GeneratedName(label string, now time.Time) string {
	return ObjectName("ai-generated", label, ".jpg", now)
}

// Extension maps an image content type to a file extension.
func Extension(contentType string) string {
	switch strings.ToLower(strings.TrimSpace(contentType)) {
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	default:
		return ".jpg"
	}
}
