package httpserver

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	appauth "github.com/bryanwahyu/qr-biometric/internal/application/auth"
	appscans "github.com/bryanwahyu/qr-biometric/internal/application/scans"
	authdomain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
	domain "github.com/bryanwahyu/qr-biometric/internal/domain/scans"
	"github.com/bryanwahyu/qr-biometric/internal/infra/biometric"
	"github.com/bryanwahyu/qr-biometric/internal/infra/capture"
	"github.com/bryanwahyu/qr-biometric/internal/middleware"
)

// FramePusher accepts decoded QR strings from the device.
type FramePusher interface {
	Push(raw string) error
}

// BiometricReporter accepts the device's biometric prompt outcome.
type BiometricReporter interface {
	Report(o biometric.Outcome) error
}

// Deps is everything the router needs. Feed and Biometric are optional.
type Deps struct {
	Auth      *appauth.Service
	Scans     *appscans.Service
	Feed      FramePusher
	Biometric BiometricReporter

	Metrics        *middleware.Metrics
	Health         *middleware.Health
	DeviceKeys     map[string]string
	PinLimiter     *middleware.RateLimiter
	AllowedOrigins []string
	Log            *zap.Logger
}

type Router struct {
	auth     *appauth.Service
	scans    *appscans.Service
	feed     FramePusher
	bio      BiometricReporter
	log      *zap.Logger
	upgrader upgrader
}

func NewRouter(d Deps) http.Handler {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	r := &Router{
		auth:     d.Auth,
		scans:    d.Scans,
		feed:     d.Feed,
		bio:      d.Biometric,
		log:      log,
		upgrader: newUpgrader(d.AllowedOrigins),
	}

	mux := chi.NewRouter()
	mux.Use(chimw.RequestID)
	mux.Use(chimw.Recoverer)
	mux.Use(middleware.Logging(log))
	if d.Metrics != nil {
		mux.Use(d.Metrics.Middleware)
	}
	if len(d.AllowedOrigins) > 0 {
		mux.Use(cors.Handler(cors.Options{
			AllowedOrigins: d.AllowedOrigins,
			AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}
	mux.Use(middleware.DeviceKeyAuth(d.DeviceKeys))

	health := d.Health
	if health == nil {
		health = middleware.NewHealth()
	}
	mux.Method(http.MethodGet, "/health", health)
	mux.Get("/livez", middleware.LivenessHandler)
	if d.Metrics != nil {
		mux.Method(http.MethodGet, "/metrics", d.Metrics.Handler())
	}

	mux.Route("/v1", func(rt chi.Router) {
		rt.Route("/auth", func(ar chi.Router) {
			ar.Get("/session", r.wrap(r.handleAuthSession))
			ar.Post("/authenticate", r.wrap(r.handleAuthenticate))
			ar.Post("/signout", r.wrap(r.handleSignOut))
			ar.Post("/biometric", r.wrap(r.handleBiometricReport))
			ar.Group(func(pr chi.Router) {
				if d.PinLimiter != nil {
					pr.Use(middleware.RateLimit(d.PinLimiter))
				}
				pr.Post("/pin", r.wrap(r.handleSubmitPin))
				pr.Post("/pin/setup", r.wrap(r.handleSetupPin))
			})
			ar.Delete("/pin", r.wrap(r.handleClearPin))
		})

		rt.Route("/scans", func(sr chi.Router) {
			sr.Get("/", r.wrap(r.handleListRecords))
			sr.Get("/session", r.wrap(r.handleScanSession))
			sr.Post("/start", r.wrap(r.handleStart))
			sr.Post("/stop", r.wrap(r.handleStop))
			sr.Post("/reset", r.wrap(r.handleReset))
			sr.Post("/frames", r.wrap(r.handleFrame))
			sr.Get("/{id}", r.wrap(r.handleGetRecord))
			sr.Delete("/{id}", r.wrap(r.handleDeleteRecord))
		})

		rt.Get("/events", r.handleEvents)
	})

	return mux
}

type handlerFunc func(http.ResponseWriter, *http.Request) error

// badRequest marks client input errors.
type badRequest struct{ err error }

func (b badRequest) Error() string { return b.err.Error() }
func (b badRequest) Unwrap() error { return b.err }

func (r *Router) wrap(h handlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		if err := h(w, req); err != nil {
			status, kind := statusOf(err)
			if status >= http.StatusInternalServerError {
				r.log.Error("request failed", zap.String("path", req.URL.Path), zap.Error(err))
			}
			writeJSON(w, status, errorBody{Error: kind, Message: err.Error()})
		}
	}
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// statusOf maps domain errors to an HTTP status and a stable kind string.
func statusOf(err error) (int, string) {
	var br badRequest
	var ve *domain.ValidationError
	switch {
	case errors.As(err, &br):
		return http.StatusBadRequest, "bad_request"
	case errors.As(err, &ve):
		return http.StatusUnprocessableEntity, string(ve.Kind)
	case errors.Is(err, authdomain.ErrNotAuthenticated):
		return http.StatusUnauthorized, "not_authenticated"
	case errors.Is(err, authdomain.ErrIncorrectPin):
		return http.StatusUnauthorized, "incorrect_pin"
	case errors.Is(err, authdomain.ErrTooManyAttempts):
		return http.StatusTooManyRequests, "too_many_attempts"
	case errors.Is(err, authdomain.ErrInvalidPin):
		return http.StatusBadRequest, "invalid_pin"
	case errors.Is(err, authdomain.ErrAuthInProgress):
		return http.StatusConflict, "auth_in_progress"
	case errors.Is(err, authdomain.ErrInvalidTransition):
		return http.StatusConflict, "invalid_transition"
	case errors.Is(err, domain.ErrRecordNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrCaptureNotAuthorized):
		return http.StatusForbidden, "not_authorized"
	case errors.Is(err, domain.ErrCaptureSetupFailed):
		return http.StatusServiceUnavailable, "setup_failed"
	case errors.Is(err, capture.ErrNotOpen):
		return http.StatusConflict, "capture_not_open"
	case errors.Is(err, capture.ErrBackpressure):
		return http.StatusServiceUnavailable, "capture_busy"
	case errors.Is(err, biometric.ErrUnknownOutcome):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, biometric.ErrNoPendingAttempt):
		return http.StatusConflict, "no_pending_prompt"
	case errors.Is(err, authdomain.ErrCredentialStoreFailure):
		return http.StatusServiceUnavailable, "credential_store_failure"
	case errors.Is(err, domain.ErrStorage):
		return http.StatusServiceUnavailable, "storage_error"
	}
	return http.StatusInternalServerError, "internal"
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeOptional decodes a JSON body when one is present.
func decodeOptional(req *http.Request, v any) error {
	if req.Body == nil || req.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, req.Body, 64<<10))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return badRequest{err}
	}
	return nil
}
