package http

import (
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"reelscript/internal/auth"
	"reelscript/internal/metrics"
)

// oauthStatePayload holds the CSRF state and optional redirect path.
type oauthStatePayload struct {
	State      string `json:"s"`
	RedirectTo string `json:"r,omitempty"`
}

// isValidRedirectPath validates that a path is a safe relative redirect.
// It prevents open redirect attacks by ensuring the path:
// - Starts with a single "/" (not "//")
// - Has no scheme or host component
// - Cannot be bypassed via URL encoding
func isValidRedirectPath(path string) bool {
	if path == "" {
		return false
	}

	// Decode to catch encoded bypass attempts like /%2f%2f
	decoded, err := url.QueryUnescape(path)
	if err != nil {
		return false
	}

	if !strings.HasPrefix(decoded, "/") || strings.HasPrefix(decoded, "//") || strings.HasPrefix(decoded, "/\\") {
		return false
	}

	parsed, err := url.Parse(decoded)
	if err != nil {
		return false
	}

	return parsed.Scheme == "" && parsed.Host == ""
}

// OAuthHandler handles sign-in against the configured identity provider.
type OAuthHandler struct {
	authenticator auth.Authenticator
	authService   *auth.Service
	metrics       metrics.Recorder
	logger        *slog.Logger
	cookies       cookieFactory
	frontendURL   string
}

// NewOAuthHandler creates a new OAuthHandler. A nil authenticator disables sign-in.
func NewOAuthHandler(authenticator auth.Authenticator, authService *auth.Service, recorder metrics.Recorder, frontendURL string, secureCookies bool, logger *slog.Logger) *OAuthHandler {
	if recorder == nil {
		recorder = metrics.Nop{}
	}
	return &OAuthHandler{
		authenticator: authenticator,
		authService:   authService,
		metrics:       recorder,
		logger:        logger,
		cookies:       cookieFactory{secure: secureCookies},
		frontendURL:   strings.TrimSuffix(frontendURL, "/"),
	}
}

// ProviderRedirect handles GET /auth/provider-redirect.
// Redirects the browser to the identity provider with a CSRF state and PKCE challenge.
func (h *OAuthHandler) ProviderRedirect(w http.ResponseWriter, r *http.Request) {
	if h.authenticator == nil {
		writeError(w, http.StatusServiceUnavailable, kindMisconfiguredProvider, "sign-in is not configured")
		return
	}

	state, err := auth.GenerateState()
	if err != nil {
		h.logger.Error("failed to generate state", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "internal error")
		return
	}
	verifier := auth.GenerateVerifier()

	http.SetCookie(w, h.cookies.oauth(oauthStateCookieName, state))
	http.SetCookie(w, h.cookies.oauth(oauthPKCECookieName, verifier))

	payload := oauthStatePayload{State: state}
	if redirectTo := r.URL.Query().Get("redirectTo"); isValidRedirectPath(redirectTo) {
		payload.RedirectTo = redirectTo
	}

	// Encode state as base64 JSON to avoid delimiter issues
	stateJSON, _ := json.Marshal(payload)
	fullState := base64.RawURLEncoding.EncodeToString(stateJSON)

	http.Redirect(w, r, h.authenticator.AuthURL(fullState, verifier), http.StatusTemporaryRedirect)
}

// Callback handles GET /auth/callback.
// Exchanges the authorization code, signs the user in and issues the session cookie.
func (h *OAuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if h.authenticator == nil {
		h.redirectWithError(w, r, kindMisconfiguredProvider, "Sign-in is not configured.")
		return
	}

	stateCookie, err := r.Cookie(oauthStateCookieName)
	if err != nil {
		h.logger.Warn("oauth callback: missing state cookie")
		h.redirectWithError(w, r, kindInvalidRequest, "Session expired. Please try again.")
		return
	}
	verifierCookie, err := r.Cookie(oauthPKCECookieName)
	if err != nil || verifierCookie.Value == "" {
		h.logger.Warn("oauth callback: missing pkce cookie")
		h.redirectWithError(w, r, kindInvalidRequest, "Session expired. Please try again.")
		return
	}

	statePayload, ok := decodeOAuthState(r.URL.Query().Get("state"))
	if !ok {
		h.logger.Warn("oauth callback: invalid state payload")
		h.redirectWithError(w, r, kindInvalidRequest, "Invalid state. Please try again.")
		return
	}
	if subtle.ConstantTimeCompare([]byte(statePayload.State), []byte(stateCookie.Value)) != 1 {
		h.logger.Warn("oauth callback: state mismatch")
		h.redirectWithError(w, r, kindInvalidRequest, "Invalid state. Please try again.")
		return
	}

	redirectTo := "/"
	if isValidRedirectPath(statePayload.RedirectTo) {
		redirectTo = statePayload.RedirectTo
	}

	http.SetCookie(w, h.cookies.expired(oauthStateCookieName, oauthCookiePath))
	http.SetCookie(w, h.cookies.expired(oauthPKCECookieName, oauthCookiePath))

	if errParam := r.URL.Query().Get("error"); errParam != "" {
		h.logger.Warn("oauth callback: provider error", "error", errParam)
		h.redirectWithError(w, r, errParam, r.URL.Query().Get("error_description"))
		return
	}

	code := r.URL.Query().Get("code")
	if code == "" {
		h.redirectWithError(w, r, kindInvalidRequest, "Missing authorization code.")
		return
	}

	identity, err := h.authenticator.Exchange(r.Context(), code, verifierCookie.Value)
	if err != nil {
		h.recordSignIn("exchange_failed")
		h.logger.Warn("oauth callback: exchange failed", "provider", h.authenticator.Kind(), "error", err)
		if errors.Is(err, auth.ErrProviderUnavailable) {
			h.redirectWithError(w, r, kindProviderUnavailable, "The sign-in provider is unavailable. Please try again later.")
			return
		}
		h.redirectWithError(w, r, kindInvalidCredential, "Failed to complete authentication.")
		return
	}

	user, token, ok := h.startSession(w, r, identity)
	if !ok {
		return
	}
	http.SetCookie(w, token)

	h.logger.Info("oauth login successful", "user_id", user.ID, "provider", identity.Provider)
	http.Redirect(w, r, h.frontendURL+redirectTo, http.StatusTemporaryRedirect)
}

type sessionRequest struct {
	AccessToken string `json:"access_token"`
}

// Session handles POST /auth/session.
// Exchanges an access token obtained by the client directly from the provider for a session cookie.
func (h *OAuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	if h.authenticator == nil {
		writeError(w, http.StatusServiceUnavailable, kindMisconfiguredProvider, "sign-in is not configured")
		return
	}

	var req sessionRequest
	if err := decodeJSONBody(w, r, &req, false); err != nil {
		writeJSONError(w, err)
		return
	}
	if strings.TrimSpace(req.AccessToken) == "" {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "access_token is required")
		return
	}

	identity, err := h.authenticator.Introspect(r.Context(), req.AccessToken)
	if err != nil {
		h.recordSignIn("introspect_failed")
		h.logger.Warn("session exchange: token rejected", "provider", h.authenticator.Kind(), "error", err)
		handleServiceError(w, err, h.logger)
		return
	}

	user, cookie, err := h.signIn(r, identity)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}
	http.SetCookie(w, cookie)
	writeJSON(w, http.StatusOK, map[string]any{"user": newUserResponse(user)})
}

// startSession signs the identity in for the redirect flow, redirecting with an error on failure.
func (h *OAuthHandler) startSession(w http.ResponseWriter, r *http.Request, identity *auth.Identity) (*auth.User, *http.Cookie, bool) {
	user, cookie, err := h.signIn(r, identity)
	if err == nil {
		return user, cookie, true
	}

	switch {
	case errors.Is(err, auth.ErrEmailNotAllowed):
		h.redirectWithError(w, r, "access_denied", "Your account is not authorized to access this application.")
	case errors.Is(err, auth.ErrEmailNotVerified):
		h.redirectWithError(w, r, kindEmailNotVerified, "Please verify your email address.")
	case errors.Is(err, auth.ErrDuplicateEmail):
		h.redirectWithError(w, r, kindDuplicateEmail, "This email is already linked to another sign-in.")
	default:
		h.redirectWithError(w, r, kindInternal, "Failed to sign in.")
	}
	return nil, nil, false
}

func (h *OAuthHandler) signIn(r *http.Request, identity *auth.Identity) (*auth.User, *http.Cookie, error) {
	user, err := h.authService.SignIn(r.Context(), identity)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrEmailNotAllowed):
			h.recordSignIn("denied")
			h.logger.Warn("sign-in rejected by policy", "email", identity.Email, "provider", identity.Provider)
		case errors.Is(err, auth.ErrEmailNotVerified):
			h.recordSignIn("email_not_verified")
			h.logger.Warn("sign-in email not verified", "email", identity.Email, "provider", identity.Provider)
		case errors.Is(err, auth.ErrDuplicateEmail):
			h.recordSignIn("duplicate_email")
			h.logger.Warn("sign-in email owned by another subject", "email", identity.Email, "provider", identity.Provider)
		default:
			h.recordSignIn("error")
			h.logger.Error("sign-in failed", "error", err)
		}
		return nil, nil, err
	}

	token, session, err := h.authService.CreateSession(r.Context(), user.ID, r.UserAgent(), clientIPFromRequest(r))
	if err != nil {
		h.recordSignIn("error")
		h.logger.Error("session creation failed", "error", err)
		return nil, nil, err
	}

	h.recordSignIn("success")
	return user, h.cookies.session(token, session.ExpiresAt), nil
}

func (h *OAuthHandler) recordSignIn(outcome string) {
	h.metrics.RecordSignIn(string(h.authenticator.Kind()), outcome)
}

// redirectWithError redirects to the login page with error details.
func (h *OAuthHandler) redirectWithError(w http.ResponseWriter, r *http.Request, code, message string) {
	target := h.frontendURL + "/login?error=" + url.QueryEscape(code)
	if message != "" {
		target += "&message=" + url.QueryEscape(message)
	}
	http.Redirect(w, r, target, http.StatusTemporaryRedirect)
}

func decodeOAuthState(raw string) (oauthStatePayload, bool) {
	var payload oauthStatePayload
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return payload, false
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.State == "" {
		return payload, false
	}
	return payload, true
}
