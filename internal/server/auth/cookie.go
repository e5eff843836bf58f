package auth

import (
	"net/http"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/common"
)

const stateCookieMaxAge = 10 * 60

// CookieManager writes the identity cookies. Secure is set in production.
type CookieManager struct {
	Secure   bool
	SameSite http.SameSite
}

func NewCookieManager(secure bool) *CookieManager {
	return &CookieManager{Secure: secure, SameSite: http.SameSiteLaxMode}
}

func (c *CookieManager) set(w http.ResponseWriter, name, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: c.SameSite,
		MaxAge:   maxAge,
	})
}

func (c *CookieManager) SetAuthToken(w http.ResponseWriter, token string, ttl time.Duration) {
	c.set(w, common.AuthTokenCookieName, token, int(ttl.Seconds()))
}

func (c *CookieManager) SetSession(w http.ResponseWriter, token string, ttl time.Duration) {
	c.set(w, common.SessionCookieName, token, int(ttl.Seconds()))
}

func (c *CookieManager) SetOAuthState(w http.ResponseWriter, signedState string) {
	c.set(w, common.OAuthStateCookieName, signedState, stateCookieMaxAge)
}

func (c *CookieManager) ClearOAuthState(w http.ResponseWriter) {
	c.set(w, common.OAuthStateCookieName, "", -1)
}

// ClearAll expires every identity cookie.
func (c *CookieManager) ClearAll(w http.ResponseWriter) {
	c.set(w, common.AuthTokenCookieName, "", -1)
	c.set(w, common.SessionCookieName, "", -1)
	c.set(w, common.OAuthStateCookieName, "", -1)
}

func GetCookie(r *http.Request, name string) string {
	cookie, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return cookie.Value
}
