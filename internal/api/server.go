// Package api exposes the ingestion core over HTTP. Identity is established
// upstream: the gateway forwards the caller's tenant in the tenantid header
// and the user in X-User-ID.
package api

import (
	"context"
	"errors"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/dharsanguruparan/surveyfiles/internal/ingest"
	"github.com/dharsanguruparan/surveyfiles/internal/metrics"
	"github.com/dharsanguruparan/surveyfiles/internal/model"
)

const (
	headerTenant = "tenantid"
	headerUser   = "X-User-ID"
)

// Service is the ingestion surface the handlers depend on.
type Service interface {
	Upload(ctx context.Context, req ingest.UploadRequest) (*model.UploadRecord, error)
	GetFile(ctx context.Context, tenantID, surveyID, fileID string) (*model.UploadRecord, error)
	GetAccessURL(ctx context.Context, tenantID, surveyID, fileID string) (ingest.AccessURL, error)
	DeleteFile(ctx context.Context, tenantID, surveyID, fileID, userID string) error
	ListFiles(ctx context.Context, tenantID, surveyID string, f ingest.ListFilter) ([]*model.UploadRecord, error)
}

// Objects resolves object keys to files on disk for the local backend.
type Objects interface {
	Path(key string) (string, error)
}

// URLValidator checks the expires/signature pair of a signed local URL.
type URLValidator interface {
	Validate(key, expires, signature string) bool
}

// Options configure a Server.
type Options struct {
	Address         string
	ShutdownTimeout time.Duration
	// MaxUploadBytes caps a single multipart file before any policy check.
	MaxUploadBytes int64
	TempDir        string

	// Objects enables serving local objects under ObjectsPrefix. Validator is
	// optional; without it local URLs are unsigned.
	Objects       Objects
	ObjectsPrefix string
	Validator     URLValidator
}

// Server exposes HTTP endpoints for survey file uploads.
type Server struct {
	svc     Service
	opts    Options
	logger  *zap.Logger
	handler http.Handler
	server  *http.Server
	once    sync.Once
}

func New(svc Service, opts Options, logger *zap.Logger) *Server {
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 15 * time.Second
	}
	if opts.ObjectsPrefix == "" {
		opts.ObjectsPrefix = "/uploads"
	}
	opts.ObjectsPrefix = "/" + strings.Trim(opts.ObjectsPrefix, "/")
	if opts.TempDir == "" {
		opts.TempDir = os.TempDir()
	}
	return &Server{svc: svc, opts: opts, logger: logger.Named("api")}
}

// Handler returns the router, building it on first use.
func (s *Server) Handler() http.Handler {
	s.once.Do(func() { s.handler = s.routes() })
	return s.handler
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID", headerTenant, headerUser},
		MaxAge:         300,
	}))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/files", func(r chi.Router) {
		r.Post("/upload/{surveyId}", s.handleUpload)
		r.Get("/read/{surveyId}/{fileId}", s.handleRead)
		r.Get("/url/{surveyId}/{fileId}", s.handleURL)
		r.Delete("/delete/{surveyId}/{fileId}", s.handleDelete)
		r.Get("/list/{surveyId}", s.handleList)
	})
	if s.opts.Objects != nil {
		r.Get(s.opts.ObjectsPrefix+"/*", s.handleObject)
	}
	return r
}

// Run starts the HTTP server and blocks until ctx is cancelled.
func (s *Server) Run(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.opts.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("api listening", zap.String("address", s.opts.Address))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.opts.ShutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return <-errCh
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}
