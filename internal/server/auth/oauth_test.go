package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/dmitrijs2005/paykeeper/internal/common"
)

func newProviderServer(t *testing.T, userinfo string, status int) *OAuthProvider {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		_ = r.ParseForm()
		if r.Form.Get("code") != "good-code" {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"at-1","token_type":"Bearer","expires_in":3600}`))
	})
	mux.HandleFunc("/userinfo", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(userinfo))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return NewOAuthProvider("test", &oauth2.Config{
		ClientID:     "client",
		ClientSecret: "secret",
		RedirectURL:  "http://localhost/auth/oauth/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   srv.URL + "/auth",
			TokenURL:  srv.URL + "/token",
			AuthStyle: oauth2.AuthStyleInParams,
		},
		Scopes: []string{"email"},
	}, srv.URL+"/userinfo")
}

func TestOAuthProvider_AuthCodeURL(t *testing.T) {
	p := NewGoogleProvider("cid", "secret", "http://localhost/cb")
	assert.Equal(t, "google", p.Name())

	u, err := url.Parse(p.AuthCodeURL("st.sig"))
	require.NoError(t, err)
	assert.Equal(t, "st.sig", u.Query().Get("state"))
	assert.Equal(t, "cid", u.Query().Get("client_id"))
	assert.Contains(t, u.Query().Get("scope"), "email")
}

func TestOAuthProvider_Exchange(t *testing.T) {
	p := newProviderServer(t, `{"email":"Alice@Example.com","email_verified":true,"name":"Alice"}`, http.StatusOK)

	info, err := p.Exchange(context.Background(), "good-code")
	require.NoError(t, err)
	assert.Equal(t, "Alice@Example.com", info.Email)
	assert.Equal(t, "Alice", info.Name)
}

func TestOAuthProvider_ExchangeErrors(t *testing.T) {
	t.Run("bad code", func(t *testing.T) {
		p := newProviderServer(t, `{}`, http.StatusOK)
		_, err := p.Exchange(context.Background(), "bad-code")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("unverified email", func(t *testing.T) {
		p := newProviderServer(t, `{"email":"a@example.com","email_verified":false}`, http.StatusOK)
		_, err := p.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("userinfo failure", func(t *testing.T) {
		p := newProviderServer(t, `oops`, http.StatusBadGateway)
		_, err := p.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, common.ErrExternalService)
	})

	t.Run("userinfo not json", func(t *testing.T) {
		p := newProviderServer(t, `not-json`, http.StatusOK)
		_, err := p.Exchange(context.Background(), "good-code")
		assert.ErrorIs(t, err, common.ErrExternalService)
	})
}
