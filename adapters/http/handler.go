// Package http provides the operator and public HTTP API.
package http

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/artpar/netbill/adapters/metrics"
	"github.com/artpar/netbill/app"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// ErrorResponse is the body of every non-2xx response.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail describes an error. Fields is set for validation failures.
type ErrorDetail struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
}

// VersionResponse represents the version endpoint response.
type VersionResponse struct {
	Version string `json:"version"`
	Service string `json:"service"`
}

// HealthChecker reports whether a dependency is ready.
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Deps contains the services the router exposes.
type Deps struct {
	Billing  *app.BillingService
	Routers  *app.RouterService
	Sweep    *app.SweepService
	Settings *app.SettingsService
	Logger   zerolog.Logger

	// Ready backs /health/ready. Nil reports ready.
	Ready HealthChecker

	// Metrics records request metrics when set.
	Metrics *metrics.Collector

	// MetricsHandler serves MetricsPath. Nil uses promhttp.Handler.
	MetricsHandler http.Handler
	MetricsPath    string

	// OperatorToken guards /api/operator as a bearer token. Empty leaves it open.
	OperatorToken string

	Version string
}

// Handler serves the HTTP API.
type Handler struct {
	billing  *app.BillingService
	routers  *app.RouterService
	sweep    *app.SweepService
	settings *app.SettingsService
	ready    HealthChecker
	logger   zerolog.Logger
	version  string
}

// NewRouter creates the main HTTP router.
func NewRouter(deps Deps) chi.Router {
	h := &Handler{
		billing:  deps.Billing,
		routers:  deps.Routers,
		sweep:    deps.Sweep,
		settings: deps.Settings,
		ready:    deps.Ready,
		logger:   deps.Logger.With().Str("component", "http").Logger(),
		version:  deps.Version,
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(h.logger))
	r.Use(middleware.Recoverer)

	if deps.Metrics != nil {
		r.Use(NewMetricsMiddleware(deps.Metrics))
	}

	r.Get("/health", h.Liveness)
	r.Get("/health/live", h.Liveness)
	r.Get("/health/ready", h.Readiness)
	r.Get("/version", h.Version)

	if deps.MetricsPath != "" {
		if deps.MetricsHandler != nil {
			r.Handle(deps.MetricsPath, deps.MetricsHandler)
		} else {
			r.Handle(deps.MetricsPath, promhttp.Handler())
		}
	}

	// Public balance check
	r.Get("/api/balance/{account}", h.LookupBalance)

	r.Route("/api/operator", func(r chi.Router) {
		r.Use(NewOperatorAuth(deps.OperatorToken))
		h.registerOperator(r)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not_found", "No such endpoint")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method_not_allowed", "Method not allowed")
	})

	return r
}

// Liveness returns a simple liveness check.
func (h *Handler) Liveness(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Readiness checks if the service is ready to handle traffic.
func (h *Handler) Readiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if h.ready != nil {
		if err := h.ready.HealthCheck(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{
				"status": "unhealthy",
				"error":  err.Error(),
			})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Version returns the service version.
func (h *Handler) Version(w http.ResponseWriter, r *http.Request) {
	v := h.version
	if v == "" {
		v = "dev"
	}
	writeJSON(w, http.StatusOK, VersionResponse{Version: v, Service: "netbill"})
}

// LookupBalance answers the public balance check by account number.
func (h *Handler) LookupBalance(w http.ResponseWriter, r *http.Request) {
	view, err := h.billing.LookupBalance(r.Context(), chi.URLParam(r, "account"))
	if err != nil {
		if app.IsNotFound(err) {
			writeError(w, http.StatusNotFound, "not_found", "Account not found")
			return
		}
		h.fail(w, r, err, "balance lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

// NewOperatorAuth requires "Authorization: Bearer <token>" when token is set.
func NewOperatorAuth(token string) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if token == "" {
			return next
		}
		want := []byte(token)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "Valid operator token required")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewMetricsMiddleware creates middleware that records request metrics.
// Requests are labelled by route pattern to bound cardinality.
func NewMetricsMiddleware(m *metrics.Collector) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if skipObservability(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			m.RequestsInFlight.Inc()
			defer m.RequestsInFlight.Dec()

			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			pattern := ""
			if rctx := chi.RouteContext(r.Context()); rctx != nil {
				pattern = rctx.RoutePattern()
			}
			m.ObserveRequest(r.Method, pattern, ww.Status(), time.Since(start))
		})
	}
}

// NewLoggingMiddleware logs HTTP requests.
func NewLoggingMiddleware(logger zerolog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			if skipObservability(r.URL.Path) {
				return
			}

			logger.Debug().
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", ww.Status()).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("request_id", middleware.GetReqID(r.Context())).
				Msg("http request")
		})
	}
}

func skipObservability(path string) bool {
	return strings.HasPrefix(path, "/health") || path == "/metrics"
}

// -----------------------------------------------------------------------------
// Helpers
// -----------------------------------------------------------------------------

// fail maps an app error to a response. Validation errors carry their fields.
func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error, msg string) {
	var verr *app.ValidationError
	switch {
	case errors.As(err, &verr):
		writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: ErrorDetail{
			Code:    "invalid_input",
			Message: verr.Error(),
			Fields:  verr.Fields,
		}})
	case errors.Is(err, app.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "invalid_input", err.Error())
	case app.IsNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "Record not found")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusServiceUnavailable, "canceled", "Request canceled")
	default:
		h.logger.Error().Err(err).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg(msg)
		writeError(w, http.StatusInternalServerError, "internal_error", "Internal error")
	}
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Code: code, Message: message}})
}

func parseIntQuery(r *http.Request, name string, defaultVal int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return defaultVal
	}
	return v
}
