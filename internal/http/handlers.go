package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/comfortindex/comfort-dashboard/internal/auth"
	"github.com/comfortindex/comfort-dashboard/internal/client"
	"github.com/comfortindex/comfort-dashboard/internal/lifecycle"
	"github.com/comfortindex/comfort-dashboard/internal/models"
	"github.com/comfortindex/comfort-dashboard/internal/observability"
	"github.com/comfortindex/comfort-dashboard/internal/pipeline"
	"github.com/comfortindex/comfort-dashboard/internal/traffic"
)

// authCookieName carries the session token between browser and API.
const authCookieName = "authToken"

// authCookieMaxAge is the cookie lifetime; the JWT inside expires on its own
// schedule, so a stale cookie simply fails verification.
const authCookieMaxAge = 24 * time.Hour

// HealthConfig holds thresholds for the health handler.
type HealthConfig struct {
	// ErrorRateWindow and ErrorRatePct gate the degraded state: when errors
	// exceed ErrorRatePct percent of outcomes within the window, health
	// reports degraded.
	ErrorRateWindow time.Duration
	ErrorRatePct    int
	// CachePing, when set, is called to check cache reachability. Used when
	// the backend is memcached or redis.
	CachePing func() error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	pipeline      *pipeline.Pipeline
	client        client.WeatherClient
	authenticator *auth.Authenticator
	store         *auth.UserStore
	healthConfig  *HealthConfig
	logger        *zap.Logger
	validate      *validator.Validate

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a new Handler.
func NewHandler(
	p *pipeline.Pipeline,
	weatherClient client.WeatherClient,
	authenticator *auth.Authenticator,
	store *auth.UserStore,
	healthConfig *HealthConfig,
	logger *zap.Logger,
) *Handler {
	return &Handler{
		pipeline:      p,
		client:        weatherClient,
		authenticator: authenticator,
		store:         store,
		healthConfig:  healthConfig,
		logger:        logger,
		validate:      validator.New(),
	}
}

// credentialsRequest is the body of both /api/login and /api/signup.
type credentialsRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=6"`
}

// decodeCredentials parses and validates a credentials body. On failure it
// writes the 400 response itself and returns false.
func (h *Handler) decodeCredentials(w http.ResponseWriter, r *http.Request) (credentialsRequest, bool) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "request body must be JSON with email and password")
		return req, false
	}
	if err := h.validate.Struct(req); err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_REQUEST", "a valid email and a password of at least 6 characters are required")
		return req, false
	}
	return req, true
}

// PostLogin handles POST /api/login. On success the token is both returned in
// the body and set as an httpOnly cookie.
func (h *Handler) PostLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	token, err := h.authenticator.Login(req.Email, req.Password)
	if err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("invalid_credentials").Inc()
		writeError(w, r, http.StatusUnauthorized, "INVALID_CREDENTIALS", "email or password is incorrect")
		return
	}

	observability.AuthAttemptsTotal.WithLabelValues("success").Inc()
	setAuthCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"message": "login successful",
		"token":   token,
	})
}

// PostSignup handles POST /api/signup. A new account is logged in immediately.
func (h *Handler) PostSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeCredentials(w, r)
	if !ok {
		return
	}

	user, err := h.store.Register(req.Email, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrUserExists) {
			writeError(w, r, http.StatusConflict, "USER_EXISTS", "an account with this email already exists")
			return
		}
		h.requestLogger(r).Error("signup failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "SIGNUP_FAILED", "unable to create account")
		return
	}

	token, err := h.authenticator.IssueToken(user.Email)
	if err != nil {
		h.requestLogger(r).Error("token issue after signup failed", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "SIGNUP_FAILED", "unable to create account")
		return
	}

	observability.AuthAttemptsTotal.WithLabelValues("success").Inc()
	setAuthCookie(w, token)
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message": "account created",
		"token":   token,
	})
}

// PostLogout handles POST /api/logout by expiring the auth cookie. The JWT
// itself stays valid until its exp claim; there is no server-side revocation.
func (h *Handler) PostLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	writeJSON(w, http.StatusOK, map[string]interface{}{"message": "logged out"})
}

// GetAuthCheck handles GET /api/auth/check. Lets the frontend probe session
// validity without fetching the dashboard.
func (h *Handler) GetAuthCheck(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"authenticated": false})
		return
	}
	email, err := h.authenticator.Verify(token)
	if err != nil {
		observability.AuthAttemptsTotal.WithLabelValues("invalid_token").Inc()
		writeJSON(w, http.StatusUnauthorized, map[string]interface{}{"authenticated": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"authenticated": true,
		"email":         email,
	})
}

// GetWeather handles GET /weather: the ranked comfort batch, cached or fresh.
func (h *Handler) GetWeather(w http.ResponseWriter, r *http.Request) {
	batch, err := h.pipeline.Get(r.Context())
	if err != nil {
		traffic.RecordError()
		h.requestLogger(r).Error("ranked batch unavailable", zap.Error(err))
		writeError(w, r, http.StatusInternalServerError, "PIPELINE_ERROR", "unable to build the city ranking")
		return
	}
	traffic.RecordSuccess()
	if batch == nil {
		batch = []models.ScoredCity{}
	}
	writeJSON(w, http.StatusOK, batch)
}

// setAuthCookie sets the httpOnly session cookie on a successful login or
// signup.
func setAuthCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     authCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(authCookieMaxAge.Seconds()),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
}

// healthResult holds the computed health status and metadata for logging.
type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus(r.Context())

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := make(map[string]string)
	if result.reason == "api_key_invalid" {
		checks["weatherApi"] = "unhealthy"
	} else {
		checks["weatherApi"] = "healthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}

	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "comfort-dashboard",
		"version":   "dev",
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates health conditions in priority order:
// shutting-down > API key invalid > error-rate breach > healthy.
func (h *Handler) computeHealthStatus(ctx context.Context) healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if err := h.client.ValidateAPIKey(ctx); err != nil {
		return healthResult{"degraded", http.StatusServiceUnavailable, "api_key_invalid"}
	}
	if h.healthConfig != nil && h.healthConfig.ErrorRateWindow > 0 && h.healthConfig.ErrorRatePct > 0 {
		errs, total := traffic.ErrorRate(h.healthConfig.ErrorRateWindow)
		if total > 0 {
			pct := float64(errs) * 100 / float64(total)
			if pct >= float64(h.healthConfig.ErrorRatePct) {
				return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
			}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

// writeJSON writes a JSON response with the specified HTTP status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes an error response in the standard error format with code,
// message, and requestId (correlation ID) if available in request context.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	corrID := ""
	if v := r.Context().Value("correlation_id"); v != nil {
		corrID = v.(string)
	}
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": corrID,
		},
	})
}

// requestLogger returns the correlation-scoped logger from the request
// context, falling back to the handler's base logger.
func (h *Handler) requestLogger(r *http.Request) *zap.Logger {
	if logger, ok := r.Context().Value("logger").(*zap.Logger); ok && logger != nil {
		return logger
	}
	return h.logger
}
