package images

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/storefront/internal/config"
	"github.com/R3E-Network/storefront/internal/errors"
	"github.com/R3E-Network/storefront/internal/httputil"
)

const maxManifestBytes = 1 << 20

// RegisterAdminRoutes mounts the image routes on admin.
func (s *Service) RegisterAdminRoutes(admin *mux.Router) {
	admin.HandleFunc("/images/batch", s.handleBatch).Methods(http.MethodPost)
	admin.HandleFunc("/images/{table:products|categories}/{id}/generate", s.handleGenerate).Methods(http.MethodPost)
	admin.HandleFunc("/images/{table:products|categories}/{id}/upload", s.handleUpload).Methods(http.MethodPost)
}

type generateRequest struct {
	Prompt string `json:"prompt"`
}

func (s *Service) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if r.ContentLength != 0 && !httputil.DecodeJSON(w, r, &req) {
		return
	}
	vars := mux.Vars(r)
	var (
		url string
		err error
	)
	if vars["table"] == config.TableCategories {
		url, err = s.GenerateForCategory(r.Context(), vars["id"], req.Prompt)
	} else {
		url, err = s.GenerateForProduct(r.Context(), vars["id"], req.Prompt)
	}
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "image_url": url})
}

// handleUpload accepts a multipart form with a "file" field or a raw image
// body.
func (s *Service) handleUpload(w http.ResponseWriter, r *http.Request) {
	var (
		data        []byte
		contentType string
		err         error
	)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(MaxUploadBytes); err != nil {
			httputil.WriteError(w, r, errors.BadRequest("invalid multipart form"))
			return
		}
		file, header, ferr := r.FormFile("file")
		if ferr != nil {
			httputil.WriteError(w, r, errors.MissingParameter("file"))
			return
		}
		defer file.Close()
		contentType = header.Header.Get("Content-Type")
		data, err = httputil.ReadAllStrict(file, MaxUploadBytes)
	} else {
		contentType = r.Header.Get("Content-Type")
		data, err = httputil.ReadAllStrict(r.Body, MaxUploadBytes)
	}
	if err != nil {
		httputil.WriteError(w, r, errors.BadRequest(err.Error()))
		return
	}

	vars := mux.Vars(r)
	url, err := s.UploadImage(r.Context(), vars["table"], vars["id"], data, contentType)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{"success": true, "image_url": url})
}

// handleBatch runs the manifest in the body (YAML or JSON), or the
// configured one when the body is empty.
func (s *Service) handleBatch(w http.ResponseWriter, r *http.Request) {
	var manifest *config.ImageManifest
	if r.Body != nil {
		raw, err := httputil.ReadAllStrict(r.Body, maxManifestBytes)
		if err != nil {
			httputil.WriteError(w, r, errors.BadRequest(err.Error()))
			return
		}
		if strings.TrimSpace(string(raw)) != "" {
			manifest, err = config.ParseImageManifest(raw)
			if err != nil {
				httputil.WriteError(w, r, errors.BadRequest(err.Error()))
				return
			}
		}
	}
	httputil.WriteJSON(w, http.StatusOK, s.RunManifest(r.Context(), manifest))
}
