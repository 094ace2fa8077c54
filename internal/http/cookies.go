package http

import (
	"net/http"
	"time"
)

const (
	sessionCookieName    = "session"
	oauthStateCookieName = "reelscript_oauth_state"
	oauthPKCECookieName  = "reelscript_oauth_pkce"
	oauthCookiePath      = "/auth"
	oauthStateCookieTTL  = 10 * time.Minute
)

// cookieFactory builds the cookies the service sets. Secure is off only in development.
type cookieFactory struct {
	secure bool
}

func (c cookieFactory) session(token string, expiresAt time.Time) *http.Cookie {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = -1
	}
	return &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
	}
}

func (c cookieFactory) clearSession() *http.Cookie {
	return c.expired(sessionCookieName, "/")
}

func (c cookieFactory) oauth(name, value string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     oauthCookiePath,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(oauthStateCookieTTL.Seconds()),
	}
}

func (c cookieFactory) expired(name, path string) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     path,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	}
}
