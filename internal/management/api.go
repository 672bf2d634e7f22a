package management

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"throttle/internal/circuitbreaker"
	"throttle/internal/limiter"
	"throttle/pkg/errors"
	"throttle/pkg/requestid"
)

// Limiter is the slice of the rate limit service the management API needs
type Limiter interface {
	Status(ctx context.Context, identifier, limitType string, rctx limiter.RequestContext) (*limiter.StatusReport, error)
	Reset(ctx context.Context, identifier, limitType string) (int64, error)
	AdjustThresholds(ctx context.Context, identifier, limitType string, score float64) (limiter.AdaptiveConfig, error)
	ReevaluateThresholds(ctx context.Context, identifier, limitType string) (limiter.AdaptiveConfig, error)
}

// BreakerRegistry exposes breaker state for inspection and manual reset
type BreakerRegistry interface {
	Stats() map[string]circuitbreaker.Stats
	Reset(name string)
}

// Config holds management API configuration
type Config struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Auth         *AuthConfig
}

// AuthConfig guards the management endpoints. Both fields are optional; when
// both are set either credential is accepted.
type AuthConfig struct {
	// Token is a static bearer token.
	Token string
	// JWTSecret validates HS256 bearer tokens.
	JWTSecret string
}

// API provides the administrative HTTP endpoints: status queries, counter
// resets, adaptive threshold adjustment, and breaker inspection
type API struct {
	config    Config
	logger    *slog.Logger
	server    *http.Server
	mux       *http.ServeMux
	limiter   Limiter
	breakers  BreakerRegistry
	metrics   http.Handler
	startTime time.Time
}

// NewAPI creates a new management API
func NewAPI(cfg Config, svc Limiter, logger *slog.Logger) *API {
	api := &API{
		config:    cfg,
		logger:    logger.With("component", "management-api"),
		mux:       http.NewServeMux(),
		limiter:   svc,
		startTime: time.Now(),
	}

	api.setupRoutes()
	return api
}

// SetBreakers sets the breaker registry reference
func (api *API) SetBreakers(breakers BreakerRegistry) {
	api.breakers = breakers
}

// SetMetricsHandler mounts a metrics handler at /metrics
func (api *API) SetMetricsHandler(h http.Handler) {
	api.metrics = h
	api.mux.Handle("/metrics", h)
}

// setupRoutes configures all management endpoints
func (api *API) setupRoutes() {
	api.mux.HandleFunc("/management/health", api.handleHealth)
	api.mux.HandleFunc("/management/health/live", api.handleLiveness)

	api.mux.HandleFunc("/management/status", api.handleStatus)
	api.mux.HandleFunc("/management/reset", api.handleReset)
	api.mux.HandleFunc("/management/thresholds", api.handleThresholds)
	api.mux.HandleFunc("/management/thresholds/reevaluate", api.handleReevaluate)

	api.mux.HandleFunc("/management/breakers", api.handleBreakers)
	api.mux.HandleFunc("/management/breakers/reset", api.handleBreakerReset)
}

// Handler returns the API's HTTP handler with auth and request logging
// applied
func (api *API) Handler() http.Handler {
	handler := http.Handler(api.mux)
	if api.config.Auth != nil {
		handler = api.authMiddleware(handler)
	}
	return api.loggingMiddleware(handler)
}

// loggingMiddleware tags every request with an ID so administrative actions
// can be traced through the logs
func (api *API) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = requestid.GenerateRequestID()
		}
		w.Header().Set("X-Request-ID", id)

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(recorder, r)

		api.logger.Debug("management request",
			"request_id", id,
			"method", r.Method,
			"path", r.URL.Path,
			"status", recorder.status,
		)
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

// Start starts the management API server
func (api *API) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", api.config.Host, api.config.Port)
	api.server = &http.Server{
		Addr:         addr,
		Handler:      api.Handler(),
		ReadTimeout:  api.config.ReadTimeout,
		WriteTimeout: api.config.WriteTimeout,
	}

	go func() {
		api.logger.Info("Starting management API", "address", addr)
		if err := api.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			api.logger.Error("Management API error", "error", err)
		}
	}()

	return nil
}

// Stop stops the management API server
func (api *API) Stop(ctx context.Context) error {
	if api.server == nil {
		return nil
	}

	api.logger.Info("Stopping management API")
	return api.server.Shutdown(ctx)
}

// authMiddleware accepts the static token or a valid HS256 JWT
func (api *API) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Liveness stays open for load balancer probes
		if r.URL.Path == "/management/health/live" {
			next.ServeHTTP(w, r)
			return
		}

		token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if token == "" {
			api.writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}

		if api.config.Auth.Token != "" && token == api.config.Auth.Token {
			next.ServeHTTP(w, r)
			return
		}

		if api.config.Auth.JWTSecret != "" {
			parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
				if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
				}
				return []byte(api.config.Auth.JWTSecret), nil
			})
			if err == nil && parsed.Valid {
				next.ServeHTTP(w, r)
				return
			}
		}

		api.writeError(w, http.StatusUnauthorized, "Invalid token")
	})
}

// Request and response types
type ResetRequest struct {
	Identifier string `json:"identifier"`
	LimitType  string `json:"limitType,omitempty"`
}

type ResetResponse struct {
	Identifier  string `json:"identifier"`
	LimitType   string `json:"limitType,omitempty"`
	KeysRemoved int64  `json:"keysRemoved"`
}

type ThresholdRequest struct {
	Identifier string  `json:"identifier"`
	LimitType  string  `json:"limitType"`
	Score      float64 `json:"score"`
}

type ThresholdResponse struct {
	Identifier string                 `json:"identifier"`
	LimitType  string                 `json:"limitType"`
	Config     limiter.AdaptiveConfig `json:"config"`
}

type BreakerResetRequest struct {
	Name string `json:"name"`
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	Uptime    string    `json:"uptime"`
}

type BreakerStatus struct {
	State           string    `json:"state"`
	Trips           uint64    `json:"trips"`
	LastStateChange time.Time `json:"lastStateChange"`
}

// Handler implementations
func (api *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	api.writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Uptime:    time.Since(api.startTime).String(),
	})
}

func (api *API) handleLiveness(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (api *API) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	q := r.URL.Query()
	identifier := q.Get("identifier")
	limitType := q.Get("limitType")
	if identifier == "" || limitType == "" {
		api.writeError(w, http.StatusBadRequest, "identifier and limitType are required")
		return
	}

	rctx := limiter.RequestContext{
		IPAddress: q.Get("ip"),
		UserAgent: q.Get("userAgent"),
	}
	if country := q.Get("country"); country != "" {
		rctx.Geolocation = &limiter.Geolocation{Country: country}
	}

	report, err := api.limiter.Status(r.Context(), identifier, limitType, rctx)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}

	api.writeJSON(w, http.StatusOK, report)
}

func (api *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identifier == "" {
		api.writeError(w, http.StatusBadRequest, "identifier is required")
		return
	}

	removed, err := api.limiter.Reset(r.Context(), req.Identifier, req.LimitType)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}

	api.logger.Info("Rate limits reset via management API",
		"identifier", req.Identifier,
		"limit_type", req.LimitType,
		"removed", removed,
	)

	api.writeJSON(w, http.StatusOK, ResetResponse{
		Identifier:  req.Identifier,
		LimitType:   req.LimitType,
		KeysRemoved: removed,
	})
}

func (api *API) handleThresholds(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identifier == "" || req.LimitType == "" {
		api.writeError(w, http.StatusBadRequest, "identifier and limitType are required")
		return
	}

	cfg, err := api.limiter.AdjustThresholds(r.Context(), req.Identifier, req.LimitType, req.Score)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}

	api.writeJSON(w, http.StatusOK, ThresholdResponse{
		Identifier: req.Identifier,
		LimitType:  req.LimitType,
		Config:     cfg,
	})
}

func (api *API) handleReevaluate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	var req ThresholdRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Identifier == "" || req.LimitType == "" {
		api.writeError(w, http.StatusBadRequest, "identifier and limitType are required")
		return
	}

	cfg, err := api.limiter.ReevaluateThresholds(r.Context(), req.Identifier, req.LimitType)
	if err != nil {
		api.writeServiceError(w, err)
		return
	}

	api.writeJSON(w, http.StatusOK, ThresholdResponse{
		Identifier: req.Identifier,
		LimitType:  req.LimitType,
		Config:     cfg,
	})
}

func (api *API) handleBreakers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if api.breakers == nil {
		api.writeError(w, http.StatusServiceUnavailable, "Breaker registry not available")
		return
	}

	stats := api.breakers.Stats()
	out := make(map[string]BreakerStatus, len(stats))
	for name, s := range stats {
		out[name] = BreakerStatus{
			State:           s.State.String(),
			Trips:           s.Trips,
			LastStateChange: s.LastStateChange,
		}
	}

	api.writeJSON(w, http.StatusOK, out)
}

func (api *API) handleBreakerReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		api.writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	if api.breakers == nil {
		api.writeError(w, http.StatusServiceUnavailable, "Breaker registry not available")
		return
	}

	var req BreakerResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		api.writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	api.breakers.Reset(req.Name)
	api.writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "name": req.Name})
}

// Helper methods
func (api *API) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		api.logger.Error("Failed to encode response", "error", err)
	}
}

func (api *API) writeError(w http.ResponseWriter, status int, message string) {
	api.writeJSON(w, status, map[string]string{
		"error": message,
	})
}

// writeServiceError maps typed service errors onto HTTP status codes
func (api *API) writeServiceError(w http.ResponseWriter, err error) {
	var typed *errors.Error
	if errors.As(err, &typed) {
		api.writeError(w, typed.HTTPStatusCode(), typed.Message)
		return
	}
	api.writeError(w, http.StatusInternalServerError, err.Error())
}
