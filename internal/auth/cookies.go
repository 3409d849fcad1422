package auth

import (
	"net/http"
	"time"
)

const (
	accessTokenCookie  = "accessToken"
	refreshTokenCookie = "refreshToken"
	sessionCookieAge   = 7 * 24 * time.Hour
)

type cookieSettings struct {
	secure bool
}

func (c cookieSettings) set(w http.ResponseWriter, pair TokenPair) {
	http.SetCookie(w, c.cookie(accessTokenCookie, pair.AccessToken, int(sessionCookieAge.Seconds())))
	http.SetCookie(w, c.cookie(refreshTokenCookie, pair.RefreshToken, int(sessionCookieAge.Seconds())))
}

func (c cookieSettings) clear(w http.ResponseWriter) {
	http.SetCookie(w, c.cookie(accessTokenCookie, "", -1))
	http.SetCookie(w, c.cookie(refreshTokenCookie, "", -1))
}

func (c cookieSettings) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}
