package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"net/http"
	"regexp"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"pastebin-lite/internal/paste"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)

type createResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type healthResponse struct {
	OK bool `json:"ok"`
}

type indexPageData struct {
	Content    string
	TTLSeconds string
	MaxViews   string
	Error      string
	Created    string
	MaxBytes   int
}

type viewPageData struct {
	View *paste.View
}

type errorPageData struct {
	Status  int
	Message string
}

type titled interface {
	PageTitle() string
}

func (d indexPageData) PageTitle() string {
	return "New Paste · Pastebin Lite"
}

func (d viewPageData) PageTitle() string {
	return "Paste · Pastebin Lite"
}

func (d errorPageData) PageTitle() string {
	if d.Message == "" {
		return "Pastebin Lite"
	}
	return d.Message + " · Pastebin Lite"
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	params, err := s.decodeCreateJSON(w, r)
	if err != nil {
		s.writeRequestError(w, err)
		return
	}

	id, err := s.pastes.Create(r.Context(), params.input(), s.now(r))
	if err != nil {
		s.apiError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, createResponse{ID: id, URL: s.canonicalURL(r, id)})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	view, err := s.fetch(r)
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorResponse{Error: "Paste not found"})
			return
		}
		s.apiError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	ok := true
	if err := s.pastes.Ping(ctx); err != nil {
		s.logger.Warn("backend health check failed", "error", err)
		ok = false
	}
	writeJSON(w, http.StatusOK, healthResponse{OK: ok})
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	s.render(w, r, http.StatusOK, "index", indexPageData{MaxBytes: s.maxBytes})
}

func (s *Server) handleCreateForm(w http.ResponseWriter, r *http.Request) {
	params, err := s.decodeCreateForm(w, r)
	data := indexPageData{
		Content:    params.Content,
		TTLSeconds: r.FormValue("ttl_seconds"),
		MaxViews:   r.FormValue("max_views"),
		MaxBytes:   s.maxBytes,
	}
	if err != nil {
		status := http.StatusBadRequest
		var reqErr *requestError
		if errors.As(err, &reqErr) {
			status = reqErr.status
		}
		data.Error = err.Error()
		s.render(w, r, status, "index", data)
		return
	}

	id, err := s.pastes.Create(r.Context(), params.input(), s.now(r))
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	s.render(w, r, http.StatusOK, "index", indexPageData{Created: s.canonicalURL(r, id), MaxBytes: s.maxBytes})
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	view, err := s.fetch(r)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	s.render(w, r, http.StatusOK, "view", viewPageData{View: view})
}

func (s *Server) handleRaw(w http.ResponseWriter, r *http.Request) {
	view, err := s.fetch(r)
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			http.Error(w, "Paste not found", http.StatusNotFound)
			return
		}
		s.logger.Error("fetch paste", "error", err)
		status := http.StatusInternalServerError
		if errors.Is(err, paste.ErrUnavailable) {
			status = http.StatusServiceUnavailable
		}
		http.Error(w, http.StatusText(status), status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, view.Content)
}

// handleQR encodes the paste link. It does not read the paste, so it never
// consumes a view or reveals whether the paste exists.
func (s *Server) handleQR(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if !idPattern.MatchString(id) {
		http.NotFound(w, r)
		return
	}

	png, err := qrcode.Encode(s.canonicalURL(r, id), qrcode.Medium, 256)
	if err != nil {
		s.pageError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	_, _ = w.Write(png)
}

func (s *Server) fetch(r *http.Request) (*paste.View, error) {
	id := chi.URLParam(r, "id")
	if !idPattern.MatchString(id) {
		return nil, paste.ErrNotFound
	}
	view, err := s.pastes.FetchAndConsume(r.Context(), id, s.now(r))
	if err != nil {
		if errors.Is(err, paste.ErrNotFound) {
			s.logger.Debug("paste unavailable", "id", id, "reason", err)
		}
		return nil, err
	}
	return view, nil
}

func (s *Server) writeRequestError(w http.ResponseWriter, err error) {
	status := http.StatusBadRequest
	var reqErr *requestError
	if errors.As(err, &reqErr) {
		status = reqErr.status
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

// apiError reports a core failure. Backend failures are 503, anything else 500.
func (s *Server) apiError(w http.ResponseWriter, r *http.Request, err error) {
	s.logger.Error("internal error", "error", err, "path", r.URL.Path)
	if errors.Is(err, paste.ErrUnavailable) {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "Service unavailable"})
		return
	}
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "Internal server error"})
}

func (s *Server) pageError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, paste.ErrNotFound):
		s.render(w, r, http.StatusNotFound, "error", errorPageData{Status: http.StatusNotFound, Message: "Paste not found or has expired"})
	case errors.Is(err, paste.ErrUnavailable):
		s.logger.Error("internal error", "error", err, "path", r.URL.Path)
		s.render(w, r, http.StatusServiceUnavailable, "error", errorPageData{Status: http.StatusServiceUnavailable, Message: "Service unavailable"})
	default:
		s.logger.Error("internal error", "error", err, "path", r.URL.Path)
		s.render(w, r, http.StatusInternalServerError, "error", errorPageData{Status: http.StatusInternalServerError, Message: "Internal server error"})
	}
}

func (s *Server) render(w http.ResponseWriter, r *http.Request, status int, name string, data any) {
	title := "Pastebin Lite"
	if t, ok := data.(titled); ok {
		if pt := t.PageTitle(); pt != "" {
			title = pt
		}
	}
	body := &bytes.Buffer{}
	bodyTemplate := name + "-body"
	if err := s.templates.ExecuteTemplate(body, bodyTemplate, data); err != nil {
		s.handleTemplateError(w, status, bodyTemplate, err)
		return
	}
	layoutBuf := &bytes.Buffer{}
	layoutData := struct {
		Title string
		Body  template.HTML
	}{
		Title: title,
		Body:  template.HTML(body.String()),
	}
	if err := s.templates.ExecuteTemplate(layoutBuf, "layout", layoutData); err != nil {
		s.handleTemplateError(w, status, "layout", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = layoutBuf.WriteTo(w)
}

func (s *Server) handleTemplateError(w http.ResponseWriter, status int, name string, err error) {
	s.logger.Error("render template", "error", err, "template", name)
	http.Error(w, "Template error", status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
