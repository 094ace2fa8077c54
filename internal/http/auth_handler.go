package http

import (
	"log/slog"
	"net/http"
	"time"

	"reelscript/internal/auth"
	"reelscript/internal/billing"
)

type userResponse struct {
	ID        string    `json:"id"`
	Email     string    `json:"email"`
	Name      string    `json:"name"`
	AvatarURL string    `json:"avatarUrl,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

func newUserResponse(u *auth.User) userResponse {
	return userResponse{
		ID:        u.ID.String(),
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		CreatedAt: u.CreatedAt,
	}
}

type meResponse struct {
	User         userResponse     `json:"user"`
	Subscription billing.Snapshot `json:"subscription"`
}

// AuthHandler serves the session endpoints behind the session gate.
type AuthHandler struct {
	authService *auth.Service
	billing     *billing.Reconciler
	cookies     cookieFactory
	logger      *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authService *auth.Service, reconciler *billing.Reconciler, secureCookies bool, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		billing:     reconciler,
		cookies:     cookieFactory{secure: secureCookies},
		logger:      logger,
	}
}

// Logout handles POST /auth/logout.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(sessionCookieName); err == nil {
		if err := h.authService.DeleteSession(r.Context(), cookie.Value); err != nil {
			h.logger.Error("failed to delete session", "error", err)
			writeError(w, http.StatusInternalServerError, kindInternal, "unexpected error")
			return
		}
	}

	http.SetCookie(w, h.cookies.clearSession())
	w.WriteHeader(http.StatusNoContent)
}

// Me handles GET /auth/me and returns the user with the current entitlement snapshot.
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	user := UserFromContext(r.Context())

	snapshot, err := h.billing.Check(r.Context(), user.ID, false)
	if err != nil {
		handleServiceError(w, err, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, meResponse{User: newUserResponse(user), Subscription: snapshot})
}
