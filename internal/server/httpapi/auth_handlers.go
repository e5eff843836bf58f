package httpapi

import (
	"net/http"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/server/auth"
	"github.com/dmitrijs2005/paykeeper/internal/server/services"
)

const oauthStateLength = 32

type userView struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Username      *string `json:"username"`
	SolanaAddress *string `json:"solanaAddress"`
	HasPasscode   bool    `json:"hasPasscode"`
}

func viewFromClaims(c *auth.Claims) *userView {
	v := &userView{ID: c.UserID, Email: c.Email, HasPasscode: c.HasPasscode}
	if c.Username != "" {
		v.Username = &c.Username
	}
	if c.SolanaAddress != "" {
		v.SolanaAddress = &c.SolanaAddress
	}
	return v
}

// setAuthCookie stores the freshly issued signed token.
func (a *API) setAuthCookie(w http.ResponseWriter, in *services.SignIn) {
	a.cookies.SetAuthToken(w, in.Token, a.identity.Issuer().Validity())
}

func (a *API) sendOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	email, err := services.NormalizeEmail(req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	code, err := a.otp.CreateOTP(r.Context(), email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if err := a.otp.SendOTPEmail(r.Context(), email, code); err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) verifyOTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
		OTP   string `json:"otp"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	ok, err := a.otp.VerifyOTP(r.Context(), req.Email, req.OTP)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	if !ok {
		a.writeError(w, r, common.NewValidationError("otp", "invalid or expired code"))
		return
	}

	in, err := a.identity.SignInWithEmail(r.Context(), req.Email)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.setAuthCookie(w, in)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "userId": in.User.ID})
}

// session never fails: an unresolvable caller is reported as a null user.
func (a *API) session(w http.ResponseWriter, r *http.Request) {
	claims := a.resolver.Resolve(r)
	if claims == nil {
		writeJSON(w, http.StatusOK, map[string]any{"user": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": viewFromClaims(claims)})
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	if token := auth.GetCookie(r, common.SessionCookieName); token != "" {
		if err := a.identity.Logout(r.Context(), token); err != nil {
			a.logger.Warn(r.Context(), "logout failed", "error", err)
		}
	}
	a.cookies.ClearAll(w)
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (a *API) repairSession(w http.ResponseWriter, r *http.Request) {
	in, err := a.identity.RepairSession(r.Context(), a.resolver.Resolve(r))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.setAuthCookie(w, in)
	writeJSON(w, http.StatusOK, map[string]any{"user": viewFromClaims(in.Claims)})
}

func (a *API) oauthLogin(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		a.writeError(w, r, common.ErrorNotFound)
		return
	}
	state, err := auth.NewRandomString(oauthStateLength)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.cookies.SetOAuthState(w, auth.SignState(state, a.stateSecret))
	http.Redirect(w, r, a.oauth.AuthCodeURL(state), http.StatusFound)
}

func (a *API) oauthCallback(w http.ResponseWriter, r *http.Request) {
	if a.oauth == nil {
		a.writeError(w, r, common.ErrorNotFound)
		return
	}

	q := r.URL.Query()
	state, ok := auth.VerifySignedState(auth.GetCookie(r, common.OAuthStateCookieName), a.stateSecret)
	a.cookies.ClearOAuthState(w)
	if !ok || state == "" || state != q.Get("state") {
		a.writeError(w, r, common.ErrInvalidToken)
		return
	}
	code := q.Get("code")
	if code == "" {
		a.writeError(w, r, common.NewValidationError("code", "missing authorization code"))
		return
	}

	info, err := a.oauth.Exchange(r.Context(), code)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	in, err := a.identity.SignInWithOAuth(r.Context(), a.oauth.Name(), info)
	if err != nil {
		a.writeError(w, r, err)
		return
	}

	a.cookies.SetSession(w, in.SessionToken, a.federatedValidity)
	a.setAuthCookie(w, in)

	target := a.appURL
	if target == "" {
		target = "/"
	}
	http.Redirect(w, r, target, http.StatusFound)
}

func (a *API) setUsername(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
	}
	if err := decodeJSON(w, r, &req); err != nil {
		a.writeError(w, r, err)
		return
	}

	in, err := a.identity.SetUsername(r.Context(), claimsFrom(r).UserID, req.Username)
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	a.setAuthCookie(w, in)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "user": viewFromClaims(in.Claims)})
}

func (a *API) checkUsername(w http.ResponseWriter, r *http.Request) {
	available, err := a.identity.UsernameAvailable(r.Context(), r.URL.Query().Get("username"))
	if err != nil {
		a.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"available": available})
}
