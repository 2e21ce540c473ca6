// Package server implements the HTTP handlers and routing for the VidVerse service.
// Mutating endpoints are bound to a ledger account through bearer tokens and run the
// publication pipeline; read endpoints serve aggregated ledger and market state.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vidverse/vidverse-go/internal/aggregate"
	"github.com/vidverse/vidverse-go/internal/auth"
	errordefs "github.com/vidverse/vidverse-go/internal/errors"
	"github.com/vidverse/vidverse-go/internal/event"
	"github.com/vidverse/vidverse-go/internal/metrics"
	"github.com/vidverse/vidverse-go/internal/pipeline"
	"github.com/vidverse/vidverse-go/internal/storage"
)

// ContextKey is used for context values to avoid collisions
// when storing values in request context
type ContextKey string

const (
	// Context keys for storing request-scoped values
	ContextKeyAccount       ContextKey = "account"       // Account named by the bearer token
	ContextKeyCorrelationID ContextKey = "correlationId" // Unique ID for request tracking
)

// Deps are the collaborators the HTTP layer serves from.
type Deps struct {
	Pipeline   *pipeline.Service
	Aggregator *aggregate.Aggregator
	Journal    storage.Store
	Auth       *auth.Authenticator
	Metrics    *metrics.Metrics
	Gatherer   prometheus.Gatherer // nil serves the default registry
	Logger     *slog.Logger

	// MaxUploadBytes caps a multipart request body.
	MaxUploadBytes int64
	// CORS configuration
	CORSAllowedOrigins []string // Allowed origins for CORS (empty means deny all)
}

// Mux handles HTTP requests for the VidVerse service.
type Mux struct {
	mux        *http.ServeMux
	pipeline   *pipeline.Service
	aggregator *aggregate.Aggregator
	journal    storage.Store
	auth       *auth.Authenticator
	metrics    *metrics.Metrics
	logger     *slog.Logger

	maxUploadBytes     int64
	corsAllowedOrigins []string
}

// auth modes for withMiddleware
const (
	public = iota
	optional
	required
)

// NewMux creates the HTTP handler with all VidVerse endpoints registered.
func NewMux(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.MaxUploadBytes <= 0 {
		d.MaxUploadBytes = 96 << 20
	}
	m := &Mux{
		mux:                http.NewServeMux(),
		pipeline:           d.Pipeline,
		aggregator:         d.Aggregator,
		journal:            d.Journal,
		auth:               d.Auth,
		metrics:            d.Metrics,
		logger:             d.Logger.With("component", "server"),
		maxUploadBytes:     d.MaxUploadBytes,
		corsAllowedOrigins: d.CORSAllowedOrigins,
	}

	// Register health endpoints
	m.mux.HandleFunc("GET /healthz", m.handleHealthz)
	m.mux.HandleFunc("GET /readyz", m.handleReadyz)
	if d.Gatherer != nil {
		m.mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	} else {
		m.mux.Handle("GET /metrics", promhttp.Handler())
	}

	m.handle("POST /v1/videos", required, m.handlePublish)
	m.handle("POST /v1/videos/{id}/edit", required, m.handleEdit)
	m.handle("POST /v1/videos/{id}/like", required, m.handleLike)
	m.handle("POST /v1/videos/{id}/comments", required, m.handleComment)
	m.handle("GET /v1/videos", public, m.handleList)
	m.handle("GET /v1/videos/{id}", optional, m.handleView)
	m.handle("GET /v1/videos/{id}/comments", public, m.handleComments)
	m.handle("GET /v1/accounts/{address}/transactions", public, m.handleTransactions)
	m.mux.HandleFunc("OPTIONS /v1/", m.withMiddleware("OPTIONS /v1/", public, nil))

	return m.mux
}

func (m *Mux) handle(pattern string, mode int, h http.HandlerFunc) {
	m.mux.HandleFunc(pattern, m.withMiddleware(pattern, mode, h))
}

// statusRecorder captures the status code written by a handler.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// withMiddleware applies CORS, correlation ids, authentication, metrics and request logging.
func (m *Mux) withMiddleware(pattern string, mode int, h http.HandlerFunc) http.HandlerFunc {
	route := pattern[strings.IndexByte(pattern, ' ')+1:]
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		if origin := r.Header.Get("Origin"); origin != "" && m.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			if r.Method == http.MethodOptions {
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, Idempotency-Key, X-Correlation-Id")
				w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours
			}
		}
		// Handle CORS preflight requests
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		// Add correlation ID if not present
		correlationID := r.Header.Get("X-Correlation-Id")
		if correlationID == "" {
			correlationID = uuid.New().String()
		}
		ctx := context.WithValue(r.Context(), ContextKeyCorrelationID, correlationID)
		ctx = event.WithCorrelationID(ctx, correlationID)
		w.Header().Set("X-Correlation-Id", correlationID)

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		var failure error
		defer func() {
			m.metrics.ObserveHTTP(r.Method, route, rec.status, time.Since(start))
			m.logRequest(r.WithContext(ctx), rec.status, time.Since(start), correlationID, failure)
		}()

		_, hasToken := r.Header["Authorization"]
		if mode == required || (mode == optional && hasToken) {
			account, err := m.authenticate(r)
			if err != nil {
				failure = err
				m.writeErrorDef(rec, errordefs.As(err, correlationID))
				return
			}
			ctx = context.WithValue(ctx, ContextKeyAccount, account)
		}

		h(rec, r.WithContext(ctx))
	}
}

func (m *Mux) originAllowed(origin string) bool {
	for _, allowed := range m.corsAllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// authenticate validates the bearer token and returns the account it names.
func (m *Mux) authenticate(r *http.Request) (common.Address, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return common.Address{}, errordefs.New(errordefs.VV_AUTHN, "missing Authorization header", "")
	}
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return common.Address{}, errordefs.New(errordefs.VV_AUTHN, "invalid Authorization header format", "")
	}
	if m.auth == nil {
		return common.Address{}, errordefs.New(errordefs.VV_AUTHN, "authentication is not configured", "")
	}
	account, err := m.auth.Validate(strings.TrimPrefix(authHeader, "Bearer "))
	if err != nil {
		return common.Address{}, errordefs.Wrap(errordefs.VV_AUTHN, "invalid bearer token", err)
	}
	return account, nil
}

func accountFrom(ctx context.Context) common.Address {
	account, _ := ctx.Value(ContextKeyAccount).(common.Address)
	return account
}

func correlationFrom(ctx context.Context) string {
	id, _ := ctx.Value(ContextKeyCorrelationID).(string)
	return id
}

// writeSuccess writes a successful response
func (m *Mux) writeSuccess(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
}

// writeErrorDef writes an error response following the VidVerse error taxonomy
func (m *Mux) writeErrorDef(w http.ResponseWriter, err *errordefs.Error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.HTTPStatus)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": err})
}

// writeFailure writes err with data attached, for pipeline failures whose partial
// outcome (already stored assets, a reverted hash) the caller needs.
func (m *Mux) writeFailure(w http.ResponseWriter, r *http.Request, err error, data interface{}) {
	coded := errordefs.As(err, correlationFrom(r.Context()))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(coded.HTTPStatus)
	body := map[string]interface{}{"error": coded}
	if data != nil {
		body["data"] = data
	}
	_ = json.NewEncoder(w).Encode(body)
	if coded.Code == errordefs.VV_INTERNAL {
		m.logger.Error("internal error", "correlation_id", coded.CorrelationID, "error", err)
	}
}

// logRequest logs request details
func (m *Mux) logRequest(r *http.Request, status int, duration time.Duration, correlationID string, err error) {
	attrs := []slog.Attr{
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.Duration("duration", duration),
		slog.String("user_agent", r.UserAgent()),
		slog.String("remote_addr", r.RemoteAddr),
	}
	if correlationID != "" {
		attrs = append(attrs, slog.String("correlation_id", correlationID))
	}
	if account := accountFrom(r.Context()); account != (common.Address{}) {
		attrs = append(attrs, slog.String("account", account.Hex()))
	}

	if err != nil || status >= http.StatusInternalServerError {
		if err != nil {
			attrs = append(attrs, slog.String("error", err.Error()))
		}
		m.logger.LogAttrs(r.Context(), slog.LevelError, "request completed with error", attrs...)
	} else {
		m.logger.LogAttrs(r.Context(), slog.LevelInfo, "request completed", attrs...)
	}
}

// handleHealthz handles liveness health check requests
func (m *Mux) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// handleReadyz checks that the transaction journal is reachable.
func (m *Mux) handleReadyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	_, err := m.journal.GetTransaction(ctx, "health-check")
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready"))
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
