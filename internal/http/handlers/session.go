package handlers

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wolfman30/patient-sheets/internal/http/respond"
	"github.com/wolfman30/patient-sheets/internal/sheets"
	"github.com/wolfman30/patient-sheets/pkg/logging"
)

// SessionHandler exposes the spreadsheet session lifecycle: init, sign-in
// and the OAuth redirect target.
type SessionHandler struct {
	session        *sheets.Session
	consentTimeout time.Duration
	callbackWait   time.Duration
	logger         *logging.Logger

	mu      sync.Mutex
	pending *signInAttempt
}

type signInAttempt struct {
	done chan struct{}
	err  error
}

// NewSessionHandler creates a session handler. consentTimeout bounds how long
// a sign-in waits for the user to finish consent.
func NewSessionHandler(session *sheets.Session, consentTimeout time.Duration, logger *logging.Logger) *SessionHandler {
	if logger == nil {
		logger = logging.Default()
	}
	if consentTimeout <= 0 {
		consentTimeout = 10 * time.Minute
	}
	return &SessionHandler{
		session:        session,
		consentTimeout: consentTimeout,
		callbackWait:   10 * time.Second,
		logger:         logger,
	}
}

// Routes returns the /api/session routes.
func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", h.Status)
	r.Post("/init", h.Init)
	r.Post("/signin", h.StartSignIn)
	r.Post("/reset", h.Reset)
	return r
}

// Status returns the session state.
// GET /api/session
func (h *SessionHandler) Status(w http.ResponseWriter, r *http.Request) {
	respond.JSON(w, http.StatusOK, h.session.Status())
}

// Init runs initialization if needed.
// POST /api/session/init
func (h *SessionHandler) Init(w http.ResponseWriter, r *http.Request) {
	if err := h.session.EnsureReady(r.Context()); err != nil {
		respond.Error(w, h.logger, err)
		return
	}
	respond.JSON(w, http.StatusOK, h.session.Status())
}

// Reset drops the client and credential.
// POST /api/session/reset
func (h *SessionHandler) Reset(w http.ResponseWriter, r *http.Request) {
	h.session.Reset()
	respond.JSON(w, http.StatusOK, h.session.Status())
}

type signInResponse struct {
	AuthURL string `json:"auth_url"`
}

// StartSignIn begins a credential exchange in the background and returns the
// consent URL the user must open.
// POST /api/session/signin
func (h *SessionHandler) StartSignIn(w http.ResponseWriter, r *http.Request) {
	urls := make(chan string, 1)
	attempt := &signInAttempt{done: make(chan struct{})}

	h.mu.Lock()
	h.pending = attempt
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), h.consentTimeout)
	go func() {
		defer cancel()
		_, err := h.session.SignIn(ctx, func(_ context.Context, authURL string) error {
			urls <- authURL
			return nil
		})
		attempt.err = err
		close(attempt.done)
		if err != nil && !errors.Is(err, sheets.ErrConsentSuperseded) {
			h.logger.Warn("sign-in did not complete", "error", err)
		}
	}()

	select {
	case authURL := <-urls:
		respond.JSON(w, http.StatusAccepted, signInResponse{AuthURL: authURL})
	case <-attempt.done:
		select {
		case authURL := <-urls:
			respond.JSON(w, http.StatusAccepted, signInResponse{AuthURL: authURL})
			return
		default:
		}
		if attempt.err != nil {
			respond.Error(w, h.logger, attempt.err)
			return
		}
		respond.JSON(w, http.StatusOK, h.session.Status())
	case <-r.Context().Done():
	}
}

// Callback receives the identity provider's redirect.
// GET /oauth/callback
func (h *SessionHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	err := h.session.CompleteSignIn(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	if errors.Is(err, sheets.ErrUnknownConsentState) {
		http.Error(w, "This sign-in link has expired. Start sign-in again.", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	attempt := h.pending
	h.mu.Unlock()

	if attempt != nil {
		select {
		case <-attempt.done:
			err = attempt.err
		case <-time.After(h.callbackWait):
		case <-r.Context().Done():
			return
		}
	}
	if err != nil {
		h.logger.Warn("oauth callback failed", "error", err)
		http.Error(w, "Sign-in failed: "+err.Error(), http.StatusUnauthorized)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("Signed in. You can close this window."))
}
