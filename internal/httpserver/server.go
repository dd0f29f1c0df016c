package httpserver

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pastebin-lite/internal/clock"
	"pastebin-lite/internal/paste"
	"pastebin-lite/web"
)

// PasteService is the core the adapter drives.
type PasteService interface {
	Create(ctx context.Context, in paste.CreateInput, now time.Time) (string, error)
	FetchAndConsume(ctx context.Context, id string, now time.Time) (*paste.View, error)
	Ping(ctx context.Context) error
}

// Config captures server configuration.
type Config struct {
	Pastes     PasteService
	Clock      clock.Clock
	MaxBytes   int
	TrustProxy bool
	BaseURL    string
	Logger     *slog.Logger
	// Gatherer backs /metrics; nil disables the endpoint.
	Gatherer prometheus.Gatherer
}

// Server wraps HTTP handling logic.
type Server struct {
	pastes     PasteService
	clock      clock.Clock
	router     chi.Router
	templates  *template.Template
	validate   *validator.Validate
	maxBytes   int
	trustProxy bool
	baseURL    *url.URL
	logger     *slog.Logger
	gatherer   prometheus.Gatherer
}

// New constructs a new Server instance.
func New(cfg Config) (*Server, error) {
	if cfg.Pastes == nil {
		return nil, errors.New("paste service required")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.New(false)
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 1_048_576
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	tmpl, err := template.New("layout").Funcs(template.FuncMap{
		"deref": func(v any) any {
			switch p := v.(type) {
			case *int64:
				if p != nil {
					return *p
				}
			case *string:
				if p != nil {
					return *p
				}
			}
			return ""
		},
	}).ParseFS(web.Templates, "templates/*.tmpl")
	if err != nil {
		return nil, fmt.Errorf("parse templates: %w", err)
	}

	var parsedBase *url.URL
	if cfg.BaseURL != "" {
		parsedBase, err = url.Parse(cfg.BaseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid base url: %w", err)
		}
		if parsedBase.Scheme == "" || parsedBase.Host == "" {
			return nil, errors.New("base url must include scheme and host")
		}
		parsedBase.Path = strings.TrimSuffix(parsedBase.Path, "/")
	}

	srv := &Server{
		pastes:     cfg.Pastes,
		clock:      cfg.Clock,
		router:     chi.NewRouter(),
		templates:  tmpl,
		validate:   newValidator(),
		maxBytes:   cfg.MaxBytes,
		trustProxy: cfg.TrustProxy,
		baseURL:    parsedBase,
		logger:     cfg.Logger,
		gatherer:   cfg.Gatherer,
	}
	srv.routes()
	return srv, nil
}

// Handler returns the underlying router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() {
	r := s.router

	r.Use(middleware.RequestID)
	if s.trustProxy {
		r.Use(middleware.RealIP)
	}
	r.Use(RequestLogger(s.logger, s.trustProxy))
	r.Use(middleware.Recoverer)
	r.Use(TimeOverride)
	r.Use(middleware.Compress(5, "text/html", "text/plain", "application/json"))

	r.Get("/", s.handleIndex)
	r.Post("/pastes", s.handleCreateForm)

	r.Route("/api", func(ar chi.Router) {
		ar.Post("/pastes", s.handleCreate)
		ar.Get("/pastes/{id}", s.handleFetch)
		ar.Get("/healthz", s.handleHealth)
	})

	r.Route("/p/{id}", func(pr chi.Router) {
		pr.Get("/", s.handleView)
		pr.Get("/raw", s.handleRaw)
		pr.Get("/qr", s.handleQR)
	})

	if s.gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
}

func (s *Server) isSecureRequest(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if s.baseURL != nil && s.baseURL.Scheme == "https" {
		return true
	}
	if s.trustProxy {
		proto := strings.ToLower(r.Header.Get("X-Forwarded-Proto"))
		if proto == "https" {
			return true
		}
	}
	return false
}

func (s *Server) canonicalURL(r *http.Request, id string) string {
	if s.baseURL != nil {
		u := *s.baseURL
		if id != "" {
			u.Path = strings.TrimSuffix(u.Path, "/") + "/p/" + id
		}
		return u.String()
	}

	scheme := "http"
	if s.isSecureRequest(r) {
		scheme = "https"
	}
	host := r.Host
	if host == "" {
		host = "localhost"
	}
	path := "/"
	if id != "" {
		path = "/p/" + id
	}
	return fmt.Sprintf("%s://%s%s", scheme, host, path)
}

func (s *Server) now(r *http.Request) time.Time {
	return s.clock.Now(r.Context())
}
