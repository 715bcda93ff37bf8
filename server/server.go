// Package server exposes the session lifecycle and entry operations as a
// stateless JSON REST facade.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/gregvolny/CSEntryWeb-sub001/session"
)

// EntryService is the operation surface the facade maps routes onto.
type EntryService interface {
	Initialized() bool
	Count() int
	Create(ctx context.Context) (*session.Session, error)
	Destroy(ctx context.Context, id string)
	Session(id string) (*session.Session, bool)
	Sessions() []*session.Session
	LoadApplication(ctx context.Context, id, pffContent string, files []session.FileSpec, appName string) (session.OpResult, error)
	StartEntry(ctx context.Context, id, mode string) (session.OpResult, error)
	GetCurrentPage(ctx context.Context, id string) (session.OpResult, error)
	AdvanceField(ctx context.Context, id string, value any) (session.OpResult, error)
	PreviousField(ctx context.Context, id string) (session.OpResult, error)
	EndGroup(ctx context.Context, id string) (session.OpResult, error)
	EndRoster(ctx context.Context, id string) (session.OpResult, error)
	StopEntry(ctx context.Context, id string, save bool) (session.OpResult, error)
	InvokeAction(ctx context.Context, id, action string, args any, accessToken string) (session.OpResult, error)
}

var _ EntryService = (*session.Service)(nil)

// Server maps the REST surface onto an EntryService.
type Server struct {
	service EntryService
	tokens  *TokenManager
	metrics *Metrics
	log     *zap.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the request and error logger.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) {
		s.log = log
	}
}

// WithTokens enables access-token checks on the action route.
func WithTokens(tm *TokenManager) Option {
	return func(s *Server) {
		s.tokens = tm
	}
}

// WithMetrics wires request and operation metrics plus the /metrics route.
func WithMetrics(m *Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// NewServer creates the facade over the given service.
func NewServer(service EntryService, opts ...Option) *Server {
	s := &Server{
		service: service,
		log:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Router builds the HTTP handler with all routes and middleware attached.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)
	if s.metrics != nil {
		r.Use(s.metrics.requestTimer)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Get("/health", s.handleHealth)
	r.Get("/openapi.yaml", s.handleOpenAPI)
	r.Get("/sessions", s.handleListSessions)

	r.Route("/session", func(r chi.Router) {
		r.Post("/", s.handleCreateSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Delete("/", s.handleDestroySession)
			r.Post("/load", s.handleLoad)
			r.Post("/start", s.handleStart)
			r.Get("/page", s.handlePage)
			r.Post("/advance", s.handleAdvance)
			r.Post("/previous", s.handlePrevious)
			r.Post("/end-group", s.handleEndGroup)
			r.Post("/end-roster", s.handleEndRoster)
			r.Post("/stop", s.handleStop)
			r.Post("/action", s.handleAction)
		})
	})

	return r
}

// requestLogger logs one line per request after it completes.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.log.Info("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("elapsed", time.Since(start)))
	})
}
