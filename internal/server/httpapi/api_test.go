package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrijs2005/paykeeper/internal/cache"
	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/cryptox"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/auth"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/payments"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/verificationtokens"
	"github.com/dmitrijs2005/paykeeper/internal/server/services"
)

// ---- stubs ----

type stubStore struct{}

func (stubStore) Conn() dbx.DBTX { return nil }
func (stubStore) WithTx(ctx context.Context, fn dbx.TxFunc) error {
	return fn(ctx, nil)
}

type stubRepos struct {
	repomanager.RepositoryManager
	users  *stubUsers
	tokens *stubTokens
	links  *stubPayments
	reqs   *stubPayments
}

func (s *stubRepos) Users(dbx.DBTX) users.Repository { return s.users }
func (s *stubRepos) VerificationTokens(dbx.DBTX) verificationtokens.Repository {
	return s.tokens
}
func (s *stubRepos) Payments(_ dbx.DBTX, kind models.PaymentKind) payments.Repository {
	if kind == models.KindLink {
		return s.links
	}
	return s.reqs
}

type stubUsers struct {
	users.Repository
	mu      sync.Mutex
	byEmail map[string]*models.User
}

func (s *stubUsers) UpsertByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.byEmail[email]; ok {
		return u, nil
	}
	u := &models.User{ID: fmt.Sprintf("user-%d", len(s.byEmail)+1), Email: email}
	s.byEmail[email] = u
	return u, nil
}

func (s *stubUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byEmail {
		if u.ID == id {
			return u, nil
		}
	}
	return nil, common.ErrorNotFound
}

type stubTokens struct {
	verificationtokens.Repository
	mu    sync.Mutex
	codes map[string]string
}

func (s *stubTokens) DeleteByIdentifier(_ context.Context, identifier string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.codes, identifier)
	return nil
}

func (s *stubTokens) Create(_ context.Context, identifier, token string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.codes[identifier] = token
	return nil
}

func (s *stubTokens) Consume(_ context.Context, identifier, token string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.codes[identifier] != token {
		return false, nil
	}
	delete(s.codes, identifier)
	return true, nil
}

type stubPayments struct {
	payments.Repository
	byShortID map[string]*models.PaymentObject
}

func (s *stubPayments) GetByShortID(_ context.Context, shortID string) (*models.PaymentObject, error) {
	if p, ok := s.byShortID[shortID]; ok {
		return p, nil
	}
	return nil, common.ErrorNotFound
}

type captureSender struct {
	mu   sync.Mutex
	body string
}

func (c *captureSender) Send(_ context.Context, _, _, body string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.body = body
	return nil
}

var codePattern = regexp.MustCompile(`\b\d{6}\b`)

func (c *captureSender) code() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return codePattern.FindString(c.body)
}

// ---- fixture ----

type fixture struct {
	handler http.Handler
	issuer  *auth.TokenIssuer
	sender  *captureSender
	repos   *stubRepos
	metrics *monitoring.Metrics
}

func newFixture(t *testing.T, production bool) *fixture {
	t.Helper()

	logger := logging.NewNopLogger()
	repos := &stubRepos{
		users:  &stubUsers{byEmail: map[string]*models.User{}},
		tokens: &stubTokens{codes: map[string]string{}},
		links:  &stubPayments{byShortID: map[string]*models.PaymentObject{}},
		reqs:   &stubPayments{byShortID: map[string]*models.PaymentObject{}},
	}
	store := stubStore{}
	issuer := auth.NewTokenIssuer([]byte("test-secret"), 30*24*time.Hour)
	sender := &captureSender{}
	metrics := monitoring.New()
	c := cache.New(cache.NewMemoryStore(), time.Minute, logger)

	identity := services.NewIdentityService(store, repos, issuer, time.Hour, c, logger)
	api := New(Deps{
		Identity: identity,
		OTP:      services.NewOTPService(store, repos, sender, 0, logger, metrics),
		Wallet:   services.NewWalletService(store, repos, nil, c, logger, metrics),
		Payments: services.NewPaymentService(store, repos, 0, 0, "https://pay.example", nil, logger, metrics),
		Resolver: auth.NewResolver(logger, auth.NewSignedTokenSource(issuer)),
		Cookies:  auth.NewCookieManager(production),
		OAuth:    auth.NewGoogleProvider("client-id", "client-secret", "https://pay.example/auth/oauth/callback"),

		StateSecret: "state-secret",
		AppURL:      "https://app.example",
		Production:  production,
		Metrics:     metrics,
		Logger:      logger,
	})

	return &fixture{handler: api.Routes(), issuer: issuer, sender: sender, repos: repos, metrics: metrics}
}

func (f *fixture) do(t *testing.T, method, path string, body any, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	for _, m := range mutate {
		m(req)
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func (f *fixture) bearer(t *testing.T, userID string) func(*http.Request) {
	t.Helper()
	token, err := f.issuer.Issue(&auth.Claims{UserID: userID, Email: userID + "@example.com"})
	require.NoError(t, err)
	return func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+token) }
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func cookieByName(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

// ---- tests ----

func TestHTTPError_Mapping(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		code    string
		field   string
		current string
	}{
		{"validation", common.NewValidationError("passcode", "must be exactly 6 digits"), http.StatusBadRequest, "VALIDATION_FAILED", "passcode", ""},
		{"unauthorized", common.ErrorUnauthorized, http.StatusUnauthorized, "UNAUTHORIZED", "", ""},
		{"invalid token", fmt.Errorf("parse: %w", common.ErrInvalidToken), http.StatusUnauthorized, "UNAUTHORIZED", "", ""},
		{"forbidden", common.ErrForbidden, http.StatusForbidden, "FORBIDDEN", "", ""},
		{"wallet", common.ErrWalletNotFound, http.StatusNotFound, "WALLET_NOT_SET_UP", "", ""},
		{"not found", fmt.Errorf("load: %w", common.ErrorNotFound), http.StatusNotFound, "NOT_FOUND", "", ""},
		{"conflict", common.NewConflictError(common.StatusCompleted, "payment is no longer open"), http.StatusConflict, "CONFLICT", "", common.StatusCompleted},
		{"external", fmt.Errorf("%w: smtp down", common.ErrExternalService), http.StatusInternalServerError, "EXTERNAL_SERVICE", "", ""},
		{"unknown", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := httpError(tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.field, body.Field)
			assert.Equal(t, tt.current, body.Current)
		})
	}
}

func TestWriteError_DetailOnlyOutsideProduction(t *testing.T) {
	dev := newFixture(t, false)
	rec := dev.do(t, http.MethodGet, "/user/username/check?username=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "username", body["field"])
	assert.Contains(t, body["detail"], "username")

	prod := newFixture(t, true)
	rec = prod.do(t, http.MethodGet, "/user/username/check?username=x", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	_, hasDetail := decodeBody(t, rec)["detail"]
	assert.False(t, hasDetail)
}

func TestOTPLoginFlow(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/auth/send-otp", map[string]string{"email": "alice@example.com"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	code := f.sender.code()
	require.Len(t, code, 6)

	wrong := "000000"
	if code == wrong {
		wrong = "111111"
	}
	rec = f.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"email": "alice@example.com", "otp": wrong})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "otp", decodeBody(t, rec)["field"])

	rec = f.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"email": "alice@example.com", "otp": code})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "user-1", body["userId"])

	cookie := cookieByName(rec, common.AuthTokenCookieName)
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, 30*24*3600, cookie.MaxAge)

	rec = f.do(t, http.MethodGet, "/auth/session", nil, func(r *http.Request) { r.AddCookie(cookie) })
	require.Equal(t, http.StatusOK, rec.Code)
	user, ok := decodeBody(t, rec)["user"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "alice@example.com", user["email"])
	assert.Equal(t, false, user["hasPasscode"])

	// A code is accepted once.
	rec = f.do(t, http.MethodPost, "/auth/verify-otp", map[string]string{"email": "alice@example.com", "otp": code})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSendOTP_InvalidEmail(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/auth/send-otp", map[string]string{"email": "not-an-email"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.sender.code())
}

func TestSession_AnonymousIsNullUser(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodGet, "/auth/session", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer garbage")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	v, ok := body["user"]
	assert.True(t, ok)
	assert.Nil(t, v)
}

func TestRepairSession_Unauthenticated(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/auth/repair-session", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSignOut_ClearsCookies(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/auth/signout", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	for _, name := range []string{common.AuthTokenCookieName, common.SessionCookieName} {
		c := cookieByName(rec, name)
		require.NotNil(t, c, name)
		assert.True(t, c.MaxAge < 0, name)
	}
}

func TestProtectedRoutes_RequireAuth(t *testing.T) {
	f := newFixture(t, false)
	for _, route := range []struct{ method, path string }{
		{http.MethodPost, "/wallet/setup"},
		{http.MethodPost, "/wallet/verify-passcode"},
		{http.MethodPost, "/payment-link/create"},
		{http.MethodGet, "/payment-request/list"},
		{http.MethodPost, "/relayer/transfer"},
		{http.MethodGet, "/transactions/receipt?id=tx"},
	} {
		rec := f.do(t, route.method, route.path, map[string]string{})
		assert.Equal(t, http.StatusUnauthorized, rec.Code, route.path)
	}
}

func TestWalletSetup_RejectsShortPasscode(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/wallet/setup", map[string]string{"passcode": "12345"}, f.bearer(t, "u1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "passcode", decodeBody(t, rec)["field"])
}

func TestVerifyPasscode_WrongPasscodeIs401(t *testing.T) {
	f := newFixture(t, false)
	salt := []byte("0123456789abcdef")
	share, err := cryptox.SealWithPasscode([]byte("server-share"), "123456", salt)
	require.NoError(t, err)
	f.repos.users.byEmail["w@example.com"] = &models.User{
		ID: "user-w", Email: "w@example.com", ServerShare: share, Salt: salt, HasPasscode: true,
	}

	rec := f.do(t, http.MethodPost, "/wallet/verify-passcode", map[string]string{"passcode": "654321"}, f.bearer(t, "user-w"))
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, false, decodeBody(t, rec)["verified"])

	rec = f.do(t, http.MethodPost, "/wallet/verify-passcode", map[string]string{"passcode": "123456"}, f.bearer(t, "user-w"))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, true, decodeBody(t, rec)["verified"])
}

func TestCreatePayment_ValidationAndMalformedBody(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodPost, "/payment-link/create", map[string]string{"amount": "-1"}, f.bearer(t, "u1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "amount", decodeBody(t, rec)["field"])

	req := httptest.NewRequest(http.MethodPost, "/payment-link/create", bytes.NewBufferString("{"))
	f.bearer(t, "u1")(req)
	rr := httptest.NewRecorder()
	f.handler.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCancelPayment_RequiresID(t *testing.T) {
	f := newFixture(t, false)
	rec := f.do(t, http.MethodPost, "/payment-request/cancel", map[string]string{}, f.bearer(t, "u1"))
	require.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "paymentRequestId", decodeBody(t, rec)["field"])
}

func TestPublicLookup(t *testing.T) {
	f := newFixture(t, false)
	email := "bob@example.com"
	f.repos.reqs.byShortID["Req12345"] = &models.PaymentObject{
		ID:         "pr-1",
		Kind:       models.KindRequest,
		ShortID:    "Req12345",
		CreatorID:  "u1",
		PayerEmail: &email,
		Amount:     decimal.RequireFromString("2.5"),
		TokenType:  models.TokenUSDC,
		Status:     common.StatusPending,
		ExpiresAt:  time.Now().Add(time.Hour),
		CreatedAt:  time.Now(),
	}

	rec := f.do(t, http.MethodGet, "/pay/Req12345", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	p, ok := decodeBody(t, rec)["payment"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2.5", p["amount"])
	assert.Equal(t, "https://pay.example/pay/Req12345", p["url"])
	_, hasEmail := p["payerEmail"]
	assert.False(t, hasEmail)

	rec = f.do(t, http.MethodGet, "/payment-request/info?id=Req12345", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	_, ok = decodeBody(t, rec)["paymentRequest"]
	assert.True(t, ok)

	rec = f.do(t, http.MethodGet, "/pay/missing1", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodGet, "/payment-link/info", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPublicLookup_Preflight(t *testing.T) {
	f := newFixture(t, false)
	for _, path := range []string{"/pay/abc", "/payment-link/info", "/payment-request/info"} {
		rec := f.do(t, http.MethodOptions, path, nil)
		assert.Equal(t, http.StatusNoContent, rec.Code, path)
		assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"), path)
		assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), "GET", path)
	}
}

func TestOAuthLoginAndStateCheck(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/auth/oauth/login", nil)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Contains(t, rec.Header().Get("Location"), "state=")
	stateCookie := cookieByName(rec, common.OAuthStateCookieName)
	require.NotNil(t, stateCookie)

	rec = f.do(t, http.MethodGet, "/auth/oauth/callback?state=forged&code=abc", nil, func(r *http.Request) {
		r.AddCookie(stateCookie)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/auth/oauth/callback?state=forged&code=abc", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	f := newFixture(t, false)

	rec := f.do(t, http.MethodGet, "/healthz", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "paykeeper_http_requests_total")
}

func TestServer_ServesUntilCancelled(t *testing.T) {
	f := newFixture(t, false)
	srv := NewServer("127.0.0.1:0", f.handler, logging.NewNopLogger())

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, listener) }()

	resp, err := http.Get("http://" + listener.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop after cancel")
	}
}

func TestServer_RunBadAddress(t *testing.T) {
	srv := NewServer("127.0.0.1:99999", http.NotFoundHandler(), logging.NewNopLogger())
	assert.Error(t, srv.Run(context.Background()))
}
