package http

import (
	"context"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"cutpro/internal/cache"
	"cutpro/internal/core"
	"cutpro/internal/ledger"
	applog "cutpro/internal/log"
	"cutpro/internal/middleware/ratelimit"
	"cutpro/internal/middleware/security"
	"cutpro/internal/middleware/trace"
	"cutpro/internal/services"
	appweb "cutpro/web"
)

// Options tunes the HTTP surface. Zero values fall back to defaults.
type Options struct {
	// AuthHeader names a header set by an upstream authenticating proxy.
	// Empty disables authenticated identities.
	AuthHeader         string
	IdentityCookie     string
	RateLimitPerMinute int
	// Categories feeds the transaction form; nil uses core.Categories.
	Categories ledger.CategoryReader
	// Ready reports backend readiness for /readyz; nil means always ready.
	Ready  func(ctx context.Context) error
	Logger *applog.Logger
}

type Server struct {
	http.Server
	templates  *template.Template
	svc        *services.ProgressionService
	categories ledger.CategoryReader
	identities identityResolver
	ready      func(ctx context.Context) error
	logger     *applog.Logger

	summaries    *cache.SummaryCache
	cacheManager *cache.Manager

	rateLimiter *ratelimit.Limiter
	detector    *security.Detector
	tracer      *trace.Middleware

	metrics appMetrics

	shutdownOnce sync.Once
}

type appMetrics struct {
	transactions atomic.Int64
	goals        atomic.Int64
	unlocks      atomic.Int64
	started      time.Time
}

// NewServer configures routes, middleware and templates, returning a
// ready-to-run http.Server.
func NewServer(addr string, svc *services.ProgressionService, opts Options) *Server {
	if opts.IdentityCookie == "" {
		opts.IdentityCookie = defaultIdentityCookie
	}
	if opts.Logger == nil {
		opts.Logger = applog.New(applog.Config{Component: applog.ComponentHTTP, Handler: slog.Default().Handler()})
	}

	logger := opts.Logger.WithComponent(applog.ComponentHTTP)
	detector := security.NewDetector()

	s := &Server{
		svc:          svc,
		categories:   opts.Categories,
		identities:   identityResolver{header: opts.AuthHeader, cookie: opts.IdentityCookie},
		ready:        opts.Ready,
		logger:       logger,
		summaries:    cache.NewSummaryCache(500, 2*time.Minute),
		cacheManager: cache.NewManager(),
		rateLimiter:  ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		detector:     detector,
		tracer:       trace.NewMiddleware(opts.Logger, detector.ExtractClientIP),
		metrics:      appMetrics{started: time.Now()},
	}
	s.cacheManager.Register(s.summaries)
	s.cacheManager.StartCleanup(5 * time.Minute)

	t, err := template.New("").Funcs(templateFuncs).ParseFS(appweb.TemplatesFS, "templates/*.html")
	if err != nil {
		logger.Error("Failed parsing templates",
			applog.FieldError, err,
			applog.FieldComponent, applog.ComponentTemplate,
			"error_type", applog.ErrorTypeConfiguration)
	} else {
		s.templates = t
	}

	mux := http.NewServeMux()
	if sub, err := fs.Sub(appweb.StaticFS, "static"); err == nil {
		static := http.StripPrefix("/static/", http.FileServer(http.FS(sub)))
		mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))
	} else {
		logger.Warn("Failed to mount embedded static FS", applog.FieldError, err)
	}

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	mux.HandleFunc("GET /ui/overview", s.handleOverview)
	mux.HandleFunc("GET /ui/transactions", s.handleTransactions)
	mux.HandleFunc("GET /ui/goals", s.handleGoals)
	mux.HandleFunc("GET /ui/achievements", s.handleAchievements)

	mux.HandleFunc("POST /transactions", s.handleRecordTransaction)
	mux.HandleFunc("POST /goals", s.handleCreateGoal)
	mux.HandleFunc("GET /api/summary", s.handleAPISummary)

	s.Server = http.Server{
		Addr:              addr,
		Handler:           s.buildMiddlewareChain(mux),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s
}

// buildMiddlewareChain wraps h so that tracing runs first and rate limiting
// runs last, just before routing.
func (s *Server) buildMiddlewareChain(h http.Handler) http.Handler {
	h = s.rateLimiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited, http.MethodPost)(h)
	h = s.detector.Middleware(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = applog.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = applog.Middleware(s.logger)(h)
	return s.tracer.Middleware(h)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	applog.FromContext(r.Context()).WithComponent(applog.ComponentRateLimit).WarnContext(r.Context(), "Rate limit exceeded",
		applog.FieldClientIP, s.detector.ExtractClientIP(r),
		applog.FieldMethod, r.Method,
		applog.FieldPath, r.URL.Path)
	ErrorResponse(http.StatusTooManyRequests, "Muitas requisições. Tente novamente em instantes.").
		Header("Retry-After", "60").
		TriggerErrorNotification("Muitas requisições. Tente novamente em instantes.").
		Write(w)
}

// Shutdown stops background routines and then the HTTP server. Only the
// first call has any effect.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.cacheManager.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}

func (s *Server) listCategories(ctx context.Context) []string {
	if s.categories == nil {
		return core.Categories
	}
	cats, err := s.categories.ListCategories(ctx)
	if err != nil || len(cats) == 0 {
		if err != nil {
			applog.FromContext(ctx).WarnContext(ctx, "Category list failed, using defaults", applog.FieldError, err)
		}
		return core.Categories
	}
	return cats
}
