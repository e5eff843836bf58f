// Package httpapi is the JSON-over-HTTP surface of the PayKeeper server.
// Handlers decode input, resolve the caller and delegate to the services;
// all error mapping happens in httpError.
package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/auth"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/services"
)

// Deps carries everything the handlers need. OAuth and Receipts may be nil,
// which disables the corresponding routes.
type Deps struct {
	Identity *services.IdentityService
	OTP      *services.OTPService
	Wallet   *services.WalletService
	Payments *services.PaymentService
	Relayer  *services.RelayerService
	Receipts *services.ReceiptService

	Resolver *auth.Resolver
	Cookies  *auth.CookieManager
	OAuth    *auth.OAuthProvider

	StateSecret              string
	AppURL                   string
	FederatedSessionValidity time.Duration
	Production               bool

	Metrics *monitoring.Metrics
	Logger  logging.Logger
}

type API struct {
	identity *services.IdentityService
	otp      *services.OTPService
	wallet   *services.WalletService
	payments *services.PaymentService
	relayer  *services.RelayerService
	receipts *services.ReceiptService

	resolver *auth.Resolver
	cookies  *auth.CookieManager
	oauth    *auth.OAuthProvider

	stateSecret       string
	appURL            string
	federatedValidity time.Duration
	production        bool

	metrics *monitoring.Metrics
	logger  logging.Logger
}

func New(d Deps) *API {
	logger := d.Logger
	if logger == nil {
		logger = logging.NewNopLogger()
	}
	return &API{
		identity:          d.Identity,
		otp:               d.OTP,
		wallet:            d.Wallet,
		payments:          d.Payments,
		relayer:           d.Relayer,
		receipts:          d.Receipts,
		resolver:          d.Resolver,
		cookies:           d.Cookies,
		oauth:             d.OAuth,
		stateSecret:       d.StateSecret,
		appURL:            d.AppURL,
		federatedValidity: d.FederatedSessionValidity,
		production:        d.Production,
		metrics:           d.Metrics,
		logger:            logger.With("module", "http_api"),
	}
}

// Routes builds the chi router with every endpoint mounted.
func (a *API) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(a.recoverer)
	r.Use(a.accessLog)
	if a.metrics != nil {
		r.Use(a.metrics.Middleware)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if a.metrics != nil {
		r.Method(http.MethodGet, "/metrics", a.metrics.Handler())
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/send-otp", a.sendOTP)
		r.Post("/verify-otp", a.verifyOTP)
		r.Get("/session", a.session)
		r.Post("/signout", a.signOut)
		r.Post("/repair-session", a.repairSession)
		r.Get("/oauth/login", a.oauthLogin)
		r.Get("/oauth/callback", a.oauthCallback)
	})

	r.Group(func(r chi.Router) {
		r.Use(a.requireAuth)

		r.Post("/wallet/setup", a.walletSetup)
		r.Post("/wallet/verify-passcode", a.verifyPasscode)
		r.Get("/wallet/balance", a.walletBalance)

		r.Post("/user/username", a.setUsername)

		r.Post("/payment-link/create", a.createPayment(linkRoutes))
		r.Post("/payment-link/cancel", a.cancelPayment(linkRoutes))
		r.Post("/payment-link/claim", a.completePayment(linkRoutes))
		r.Get("/payment-link/list", a.listPayments(linkRoutes))

		r.Post("/payment-request/create", a.createPayment(requestRoutes))
		r.Post("/payment-request/cancel", a.cancelPayment(requestRoutes))
		r.Post("/payment-request/complete", a.completePayment(requestRoutes))
		r.Get("/payment-request/list", a.listPayments(requestRoutes))

		r.Post("/relayer/transfer", a.transfer)
		r.Post("/relayer/delegated-transfer", a.delegatedTransfer)
		r.Get("/relayer/job-status", a.jobStatus)

		r.Get("/transactions/receipt", a.receiptURL)
	})

	r.Get("/user/username/check", a.checkUsername)

	r.Group(func(r chi.Router) {
		r.Use(publicCORS)
		r.Get("/payment-link/info", a.paymentInfo(linkRoutes))
		r.Options("/payment-link/info", noContent)
		r.Get("/payment-request/info", a.paymentInfo(requestRoutes))
		r.Options("/payment-request/info", noContent)
		r.Get("/pay/{shortId}", a.publicLookup)
		r.Options("/pay/{shortId}", noContent)
	})

	return r
}
