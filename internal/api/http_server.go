package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"stayledger/internal/config"
	"stayledger/internal/export"
	"stayledger/internal/metrics"
	"stayledger/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

// Services are the application services the HTTP API dispatches to.
type Services struct {
	Availability *service.AvailabilityService
	Bookings     *service.BookingService
	Payments     *service.PaymentService
	Reconciler   *service.Reconciler
	Reviews      *service.ReviewService
	Exporter     *export.LedgerExporter
	DB           Pinger
	IsAdmin      func(userID int64) bool
}

// HTTPServer exposes the booking and payment JSON API.
type HTTPServer struct {
	cfg      config.APIConfig
	svc      Services
	server   *http.Server
	auth     *HTTPAuth
	validate *validator.Validate
	logger   *zerolog.Logger
}

func NewHTTPServer(cfg config.APIConfig, svc Services, limiter *RateLimiter, logger *zerolog.Logger) *HTTPServer {
	if svc.IsAdmin == nil {
		svc.IsAdmin = func(int64) bool { return false }
	}
	l := logger.With().Str("component", "http").Logger()
	srv := &HTTPServer{
		cfg:      cfg,
		svc:      svc,
		auth:     NewHTTPAuth(cfg, limiter),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   &l,
	}

	mux := http.NewServeMux()
	srv.routes(mux)
	handler := srv.recoverMiddleware(srv.loggingMiddleware(srv.auth.Wrap(mux)))

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		// gateway calls can take up to the gateway timeout
		WriteTimeout: 30 * time.Second,
	}
	return srv
}

func (s *HTTPServer) routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("GET /readyz", s.handleReadyz)

	mux.HandleFunc("GET /api/v1/availability", s.handleAvailability)
	mux.HandleFunc("POST /api/v1/availability", s.handleAvailability)

	mux.HandleFunc("POST /api/v1/bookings", s.withUser(s.handleCreateBooking))
	mux.HandleFunc("GET /api/v1/bookings/{id}", s.withUser(s.handleGetBooking))
	mux.HandleFunc("PATCH /api/v1/bookings/{id}/decision", s.withUser(s.handleDecision))
	mux.HandleFunc("PATCH /api/v1/bookings/{id}/cancel", s.withUser(s.handleCancel))
	mux.HandleFunc("POST /api/v1/bookings/{id}/complete", s.withUser(s.handleComplete))
	mux.HandleFunc("POST /api/v1/bookings/{id}/no-show", s.withUser(s.handleNoShow))

	mux.HandleFunc("POST /api/v1/payments/confirm", s.withUser(s.handleConfirmPayment))
	mux.HandleFunc("GET /api/v1/payments/{id}/transactions", s.withUser(s.handleTransactions))

	mux.HandleFunc("POST /api/v1/reviews", s.withUser(s.handleCreateReview))
	mux.HandleFunc("GET /api/v1/credits/history", s.withUser(s.handleCreditHistory))

	mux.HandleFunc("POST /api/v1/admin/payments/{id}/refunds", s.withAdmin(s.handleAdjustRefund))
	mux.HandleFunc("POST /api/v1/admin/reconcile", s.withAdmin(s.handleReconcile))
	mux.HandleFunc("GET /api/v1/admin/reconciliation/cases", s.withAdmin(s.handleListCases))
	mux.HandleFunc("POST /api/v1/admin/reconciliation/cases/{id}/resolve", s.withAdmin(s.handleResolveCase))
	mux.HandleFunc("GET /api/v1/admin/ledger/export", s.withAdmin(s.handleLedgerExport))
}

// Handler returns the fully wrapped handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	if s.server == nil {
		return fmt.Errorf("http server is not initialized")
	}
	s.logger.Info().Str("addr", s.server.Addr).Msg("HTTP API listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

type userHandler func(w http.ResponseWriter, r *http.Request, userID int64)

// withUser resolves the acting user from the user-id header set by the
// authenticated front end.
func (s *HTTPServer) withUser(next userHandler) http.HandlerFunc {
	header := s.cfg.Auth.HeaderUserID
	if header == "" {
		header = "X-User-ID"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get(header))
		userID, err := strconv.ParseInt(raw, 10, 64)
		if raw == "" || err != nil || userID <= 0 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "missing or invalid " + header, Code: "unauthorized"})
			return
		}
		next(w, r, userID)
	}
}

func (s *HTTPServer) withAdmin(next userHandler) http.HandlerFunc {
	return s.withUser(func(w http.ResponseWriter, r *http.Request, userID int64) {
		if !s.svc.IsAdmin(userID) {
			writeJSON(w, http.StatusForbidden, errorResponse{Error: "admin only", Code: "forbidden"})
			return
		}
		next(w, r, userID)
	})
}

// HTTPAuth provides API-key auth and per-key rate limiting for HTTP endpoints.
type HTTPAuth struct {
	cfg     config.APIConfig
	keys    *keyring
	limiter *RateLimiter
}

func NewHTTPAuth(cfg config.APIConfig, limiter *RateLimiter) *HTTPAuth {
	if limiter == nil {
		limiter = NewRateLimiter(cfg.RateLimit)
	}
	return &HTTPAuth{cfg: cfg, keys: newKeyring(cfg.Auth), limiter: limiter}
}

func (a *HTTPAuth) Wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.cfg.Enabled || !a.cfg.HTTP.Enabled || isProbe(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		if a.cfg.Auth.Enabled {
			if err := a.checkAuth(r); err != nil {
				statusCode, code := http.StatusUnauthorized, "unauthorized"
				if errors.Is(err, errPermissionDenied) {
					statusCode, code = http.StatusForbidden, "forbidden"
				}
				writeJSON(w, statusCode, errorResponse{Error: err.Error(), Code: code})
				return
			}
		}

		if !a.limiter.allow(a.clientKey(r)) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded", Code: "rate_limited"})
			return
		}

		next.ServeHTTP(w, r)
	})
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz"
}

func (a *HTTPAuth) checkAuth(r *http.Request) error {
	client, err := a.keys.authenticate(
		strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader)),
		strings.TrimSpace(r.Header.Get(a.keys.extraHeader)),
	)
	if err != nil {
		return err
	}
	return authorize(client, requiredPermissionHTTP(r))
}

func requiredPermissionHTTP(r *http.Request) string {
	path := r.URL.Path
	switch {
	case strings.HasPrefix(path, "/api/v1/admin"):
		return permAdmin
	case strings.HasPrefix(path, "/api/v1/availability"):
		return permReadAvailability
	case strings.HasPrefix(path, "/api/v1/payments"):
		return permWritePayments
	case strings.HasPrefix(path, "/api/v1/bookings"),
		strings.HasPrefix(path, "/api/v1/reviews"),
		strings.HasPrefix(path, "/api/v1/credits"):
		return permWriteBookings
	default:
		return ""
	}
}

func (a *HTTPAuth) clientKey(r *http.Request) string {
	if apiKey := strings.TrimSpace(r.Header.Get(a.keys.apiKeyHeader)); apiKey != "" {
		return apiKey
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err == nil && host != "" {
		return host
	}
	return clientKeyUnknown
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		endpoint := r.Pattern
		if endpoint == "" {
			endpoint = "unmatched"
		}
		metrics.IncHTTP(endpoint)

		ev := s.logger.Info()
		if recorder.status >= http.StatusInternalServerError {
			ev = s.logger.Error()
		}
		ev.Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func (s *HTTPServer) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error().
					Interface("panic", rec).
					Str("path", r.URL.Path).
					Bytes("stack", debug.Stack()).
					Msg("http handler panicked")
				writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error", Code: "internal"})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
