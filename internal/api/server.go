// Package api serves the news JSON API and a content gateway over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"newswave/internal/nw"
)

// NewsService is what the API needs from the application layer.
type NewsService interface {
	Publish(ctx context.Context, draft nw.Draft) (*nw.Receipt, error)
	RecordOnly(ctx context.Context, contentRef, title string) (*nw.Receipt, error)
	List(ctx context.Context) (*nw.Listing, error)
	Show(ctx context.Context, ref string) (*nw.Article, error)
}

// Options configures optional parts of the server.
type Options struct {
	// Blobs backs the /ipfs gateway routes. Nil disables them.
	Blobs nw.BlobStore
	// Gatherer backs /metrics. Nil disables it.
	Gatherer prometheus.Gatherer
	// PublishRate is the per-client publish limit in requests per second.
	// Zero or negative disables limiting.
	PublishRate  float64
	PublishBurst int
}

// Server holds the HTTP handlers.
type Server struct {
	news    NewsService
	blobs   nw.BlobStore
	logger  nw.Logger
	opts    Options
	limiter *clientLimiter
}

func NewServer(news NewsService, logger nw.Logger, opts Options) *Server {
	s := &Server{news: news, blobs: opts.Blobs, logger: logger, opts: opts}
	if opts.PublishRate > 0 {
		burst := opts.PublishBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = newClientLimiter(opts.PublishRate, burst)
	}
	return s
}

// Routes returns the root router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		render.PlainText(w, r, http.StatusText(http.StatusOK))
	})
	if s.opts.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/news", func(r chi.Router) {
		r.Get("/", s.ListNews)
		r.Get("/{ref}", s.GetNews)
		r.Group(func(r chi.Router) {
			if s.limiter != nil {
				r.Use(s.limiter.middleware)
			}
			r.Post("/", s.PublishNews)
			r.Post("/record", s.RecordNews)
		})
	})

	if s.blobs != nil {
		r.Mount("/ipfs", s.gatewayRoutes())
	}
	return r
}

// Run serves on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		s.logger.Info("http server shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
