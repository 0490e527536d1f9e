package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/odyssey-erp/odyssey-admin/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-admin/internal/shared"
)

const (
	sessionKeyOIDCState = "oidc_state"
	sessionKeyOIDCNonce = "oidc_nonce"
	sessionKeyReturnTo  = "oidc_return_to"
)

// Handler serves the sign-in endpoints.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	provider IdentityProvider
	csrf     *shared.CSRFManager
	landing  string
}

// NewHandler builds auth handler. landing is where a successful callback
// redirects when no return path was captured.
func NewHandler(logger *slog.Logger, service *Service, provider IdentityProvider, csrf *shared.CSRFManager, landing string) *Handler {
	if landing == "" {
		landing = "/"
	}
	return &Handler{logger: logger, service: service, provider: provider, csrf: csrf, landing: landing}
}

// MountRoutes registers auth routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/login", h.handleLogin)
	r.Get("/callback", h.handleCallback)
	r.Post("/logout", h.handleLogout)
	r.Get("/session", h.handleSession)
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		httpx.RespondError(w, errors.New("auth: session missing"))
		return
	}
	state, err := randomToken()
	if err != nil {
		h.logger.Error("generate oidc state", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	nonce, err := randomToken()
	if err != nil {
		h.logger.Error("generate oidc nonce", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	sess.Set(sessionKeyOIDCState, state)
	sess.Set(sessionKeyOIDCNonce, nonce)
	if next := r.URL.Query().Get("next"); isLocalPath(next) {
		sess.Set(sessionKeyReturnTo, next)
	}
	http.Redirect(w, r, h.provider.AuthCodeURL(state, nonce), http.StatusFound)
}

func (h *Handler) handleCallback(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sess := shared.SessionFromContext(ctx)
	if sess == nil {
		httpx.RespondError(w, errors.New("auth: session missing"))
		return
	}
	wantState := sess.Get(sessionKeyOIDCState)
	nonce := sess.Get(sessionKeyOIDCNonce)
	returnTo := sess.Get(sessionKeyReturnTo)
	sess.Delete(sessionKeyOIDCState)
	sess.Delete(sessionKeyOIDCNonce)
	sess.Delete(sessionKeyReturnTo)

	q := r.URL.Query()
	if errCode := q.Get("error"); errCode != "" {
		h.logger.Warn("identity provider returned error", slog.String("error", errCode))
		httpx.RespondError(w, shared.ErrAccessDenied)
		return
	}
	gotState := q.Get("state")
	if wantState == "" || subtle.ConstantTimeCompare([]byte(wantState), []byte(gotState)) != 1 {
		h.logger.Warn("oidc state mismatch")
		httpx.RespondError(w, shared.ErrAccessDenied)
		return
	}
	ident, err := h.provider.Exchange(ctx, q.Get("code"), nonce)
	if err != nil {
		h.logger.Warn("oidc exchange failed", slog.Any("error", err))
		httpx.RespondError(w, shared.ErrAccessDenied)
		return
	}
	if _, err := h.service.SignIn(ctx, sess, ident); err != nil {
		if !errors.Is(err, shared.ErrAccessDenied) {
			h.logger.Error("sign in", slog.Any("error", err))
		}
		httpx.RespondError(w, err)
		return
	}
	target := h.landing
	if isLocalPath(returnTo) {
		target = returnTo
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	h.service.SignOut(r.Context(), shared.SessionFromContext(r.Context()))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSession(w http.ResponseWriter, r *http.Request) {
	view, err := h.sessionView(r.Context(), shared.SessionFromContext(r.Context()))
	if err != nil {
		h.logger.Error("session view", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	httpx.JSON(w, http.StatusOK, view)
}

func (h *Handler) sessionView(ctx context.Context, sess *shared.Session) (SessionView, error) {
	if sess == nil {
		return SessionView{State: string(shared.StateUnauthenticated)}, nil
	}
	token, err := h.csrf.EnsureToken(ctx, sess)
	if err != nil {
		return SessionView{}, err
	}
	view := SessionView{State: string(sess.State()), CSRFToken: token}
	if sess.State() == shared.StateEnriched {
		claims := sess.Claims()
		view.UserID = sess.User()
		view.RoleID = claims.RoleID
		view.IsActive = claims.IsActive
		view.IssuedAt = &claims.IssuedAt
		view.RefreshedAt = &claims.RefreshedAt
	}
	return view, nil
}

func randomToken() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// isLocalPath accepts only same-origin absolute paths.
func isLocalPath(p string) bool {
	return len(p) > 0 && p[0] == '/' && (len(p) == 1 || (p[1] != '/' && p[1] != '\\'))
}
