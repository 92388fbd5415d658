package httpserver

import (
	"errors"
	"net/http"
	"time"

	authdomain "github.com/bryanwahyu/qr-biometric/internal/domain/auth"
	"github.com/bryanwahyu/qr-biometric/internal/infra/biometric"
	"github.com/bryanwahyu/qr-biometric/internal/middleware"
)

type authSessionView struct {
	Phase         authdomain.Phase         `json:"phase"`
	BiometricKind authdomain.BiometricKind `json:"biometric_kind"`
	FailureStreak int                      `json:"failure_streak"`
	LockedUntil   *time.Time               `json:"locked_until,omitempty"`
	Error         string                   `json:"error,omitempty"`
}

func authView(s authdomain.Session) authSessionView {
	v := authSessionView{
		Phase:         s.Phase,
		BiometricKind: s.BiometricKind,
		FailureStreak: s.FailureStreak,
		Error:         authdomain.ErrorKind(s.LastError),
	}
	if !s.LockedUntil.IsZero() {
		t := s.LockedUntil.UTC()
		v.LockedUntil = &t
	}
	return v
}

// respondAuth writes the session snapshot. Errors that carry a session
// (wrong PIN, lockout) still return the snapshot so the client can render
// the streak.
func (r *Router) respondAuth(w http.ResponseWriter, s authdomain.Session, err error) error {
	if err == nil {
		writeJSON(w, http.StatusOK, authView(s))
		return nil
	}
	if errors.Is(err, authdomain.ErrIncorrectPin) || errors.Is(err, authdomain.ErrTooManyAttempts) {
		status, kind := statusOf(err)
		writeJSON(w, status, struct {
			errorBody
			Session authSessionView `json:"session"`
		}{errorBody{Error: kind, Message: err.Error()}, authView(s)})
		return nil
	}
	return err
}

// GET /v1/auth/session
func (r *Router) handleAuthSession(w http.ResponseWriter, req *http.Request) error {
	writeJSON(w, http.StatusOK, authView(r.auth.Session()))
	return nil
}

// POST /v1/auth/authenticate
// Body (optional): {"biometric": "success|failed|cancel|not_available|not_enrolled|lockout"}
// The device may report the prompt outcome in the same call; otherwise the
// attempt waits for a later report or the biometric timeout.
func (r *Router) handleAuthenticate(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Biometric string `json:"biometric"`
	}
	if err := decodeOptional(req, &body); err != nil {
		return err
	}
	ctx := req.Context()
	if body.Biometric != "" {
		o, err := biometric.ParseOutcome(body.Biometric)
		if err != nil {
			return badRequest{err}
		}
		ctx = biometric.WithOutcome(ctx, o)
	}
	s, err := r.auth.Authenticate(ctx)
	return r.respondAuth(w, s, err)
}

// POST /v1/auth/biometric
// Body: {"outcome": "..."} reported by the device while an attempt waits.
// Replies 409 when no attempt is waiting for an outcome.
func (r *Router) handleBiometricReport(w http.ResponseWriter, req *http.Request) error {
	var body struct {
		Outcome string `json:"outcome"`
	}
	if err := decodeOptional(req, &body); err != nil {
		return err
	}
	o, err := biometric.ParseOutcome(body.Outcome)
	if err != nil {
		return badRequest{err}
	}
	if r.bio == nil {
		return badRequest{errors.New("no biometric bridge configured")}
	}
	if err := r.bio.Report(o); err != nil {
		return err
	}
	w.WriteHeader(http.StatusAccepted)
	return nil
}

type pinBody struct {
	Pin string `json:"pin"`
}

// POST /v1/auth/pin
func (r *Router) handleSubmitPin(w http.ResponseWriter, req *http.Request) error {
	var body pinBody
	if err := decodeOptional(req, &body); err != nil {
		return err
	}
	if err := middleware.ValidatePinInput(body.Pin); err != nil {
		return badRequest{err}
	}
	s, err := r.auth.SubmitPin(req.Context(), body.Pin)
	return r.respondAuth(w, s, err)
}

// POST /v1/auth/pin/setup
// Body (optional): {"pin": "..."}; empty confirms the PIN submitted earlier.
func (r *Router) handleSetupPin(w http.ResponseWriter, req *http.Request) error {
	var body pinBody
	if err := decodeOptional(req, &body); err != nil {
		return err
	}
	s, err := r.auth.SetupPin(req.Context(), body.Pin)
	return r.respondAuth(w, s, err)
}

// DELETE /v1/auth/pin
func (r *Router) handleClearPin(w http.ResponseWriter, req *http.Request) error {
	if err := r.auth.ClearPin(req.Context()); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// POST /v1/auth/signout
func (r *Router) handleSignOut(w http.ResponseWriter, req *http.Request) error {
	writeJSON(w, http.StatusOK, authView(r.auth.SignOut()))
	return nil
}
