package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/troylu8/chuuni-keys-server/config"
	"github.com/troylu8/chuuni-keys-server/core/archive"
	"github.com/troylu8/chuuni-keys-server/core/chart"
	"github.com/troylu8/chuuni-keys-server/logger"
	"github.com/troylu8/chuuni-keys-server/model"
)

// maxFormMemory bounds how much of a multipart body is held in memory before
// spilling to temp files.
const maxFormMemory = 32 << 20

// ChartHandler handles all chart API requests.
type ChartHandler struct {
	service *chart.Service
	cfg     *config.Config
}

// NewChartHandler creates a new chart handler.
func NewChartHandler(service *chart.Service, cfg *config.Config) *ChartHandler {
	return &ChartHandler{service: service, cfg: cfg}
}

// GetChartsHandler serves one page of chart summaries as [count, [summary...]].
// The {page} path segment is 1-indexed.
func (h *ChartHandler) GetChartsHandler(w http.ResponseWriter, r *http.Request) {
	page, err := strconv.ParseInt(mux.Vars(r)["page"], 10, 64)
	if err != nil {
		http.Error(w, "invalid page number", http.StatusBadRequest)
		return
	}

	total, summaries, err := h.service.List(page - 1)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, []interface{}{total, summaries})
}

// UploadChartHandler handles chart creation. The request is either multipart
// (fields: metadata, chart, audio, optional img) or a raw zip bundle. Responds
// with [id, secret]; the secret is shown exactly once.
func (h *ChartHandler) UploadChartHandler(w http.ResponseWriter, r *http.Request) {
	if h.rejectOversized(w, r) {
		return
	}

	var meta *model.ChartMeta
	var assets chart.Assets

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxFormMemory); err != nil {
			http.Error(w, "failed to parse multipart form", http.StatusBadRequest)
			return
		}
		defer r.MultipartForm.RemoveAll()

		meta = &model.ChartMeta{}
		if err := json.Unmarshal([]byte(r.FormValue("metadata")), meta); err != nil {
			http.Error(w, "invalid metadata JSON", http.StatusBadRequest)
			return
		}

		var closers []io.Closer
		assets, closers = formAssets(r)
		defer closeAll(closers)
	} else {
		// Raw zip bundle: the original client wire format.
		data, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		bundle, err := archive.Unpack(data, h.cfg.MaxUploadBytes)
		if err != nil {
			h.writeServiceError(w, r, err)
			return
		}
		meta = bundle.Meta
		assets.Chart = bytes.NewReader(bundle.Chart)
		assets.Audio = bytes.NewReader(bundle.Audio)
		if bundle.Img != nil {
			assets.Img = bytes.NewReader(bundle.Img)
		}
	}

	id, secret, err := h.service.Create(meta, assets)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	respondJSON(w, []string{id, secret})
}

// UpdateChartHandler handles metadata/asset replacement for an owned chart.
func (h *ChartHandler) UpdateChartHandler(w http.ResponseWriter, r *http.Request) {
	if h.rejectOversized(w, r) {
		return
	}
	id := mux.Vars(r)["id"]

	if err := r.ParseMultipartForm(maxFormMemory); err != nil {
		http.Error(w, "failed to parse multipart form", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	secret := r.FormValue("owner_key")
	meta := &model.ChartMeta{}
	if err := json.Unmarshal([]byte(r.FormValue("metadata")), meta); err != nil {
		http.Error(w, "invalid metadata JSON", http.StatusBadRequest)
		return
	}

	assets, closers := formAssets(r)
	defer closeAll(closers)

	if err := h.service.Update(id, secret, meta, assets); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DeleteChartHandler deletes an owned chart. The secret arrives either as the
// raw request body or as an owner_key form field.
func (h *ChartHandler) DeleteChartHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var secret string
	ct := r.Header.Get("Content-Type")
	if strings.HasPrefix(ct, "application/x-www-form-urlencoded") || strings.HasPrefix(ct, "multipart/form-data") {
		secret = r.FormValue("owner_key")
	} else {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		secret = strings.TrimSpace(string(body))
	}

	if err := h.service.Delete(id, secret); err != nil {
		h.writeServiceError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// DownloadChartHandler serves a chart as a zip bundle.
func (h *ChartHandler) DownloadChartHandler(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	data, contentType, err := h.service.Export(id)
	if err != nil {
		h.writeServiceError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", `attachment; filename="`+id+`.zip"`)
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Write(data)
}

// rejectOversized rejects requests over the configured upload cap and caps the
// body for everything that gets through.
func (h *ChartHandler) rejectOversized(w http.ResponseWriter, r *http.Request) bool {
	if r.ContentLength > h.cfg.MaxUploadBytes {
		http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
		return true
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxUploadBytes)
	return false
}

// writeServiceError maps service errors onto stable HTTP statuses.
func (h *ChartHandler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, chart.ErrNotFound):
		http.Error(w, "chart not found", http.StatusNotFound)
	case errors.Is(err, chart.ErrUnauthorized):
		http.Error(w, "invalid ownership secret", http.StatusUnauthorized)
	case errors.Is(err, chart.ErrInvalidInput), errors.Is(err, archive.ErrMalformed):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		logger.Error("request failed",
			logger.String("method", r.Method),
			logger.String("path", r.URL.Path),
			logger.ErrorField(err))
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// formAssets collects the optional chart/audio/img file fields from a parsed
// multipart form. Missing fields stay nil; the service decides whether that is
// acceptable. Callers must close the returned files.
func formAssets(r *http.Request) (chart.Assets, []io.Closer) {
	var assets chart.Assets
	var closers []io.Closer
	for _, field := range []struct {
		name string
		dst  *io.Reader
	}{
		{"chart", &assets.Chart},
		{"audio", &assets.Audio},
		{"img", &assets.Img},
	} {
		f, _, err := r.FormFile(field.name)
		if err != nil {
			continue
		}
		closers = append(closers, f)
		*field.dst = f
	}
	return assets, closers
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

func respondJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}
