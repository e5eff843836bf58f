// Package server wires the PayKeeper application together: storage,
// cache, outbound clients, services and the HTTP and gRPC listeners, and
// runs them until a shutdown signal arrives.
package server

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrijs2005/paykeeper/internal/cache"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/auth"
	"github.com/dmitrijs2005/paykeeper/internal/server/broker"
	"github.com/dmitrijs2005/paykeeper/internal/server/config"
	"github.com/dmitrijs2005/paykeeper/internal/server/httpapi"
	"github.com/dmitrijs2005/paykeeper/internal/server/mailer"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
	"github.com/dmitrijs2005/paykeeper/internal/server/services"

	gs "github.com/dmitrijs2005/paykeeper/internal/server/grpc"
)

var openDB = repomanager.Open

type App struct {
	config *config.Config
	logger logging.Logger

	db     *sql.DB
	redis  *redis.Client
	memory *cache.MemoryStore

	otp    *services.OTPService
	issuer *auth.TokenIssuer
	api    *httpapi.API
}

func NewApp(ctx context.Context, c *config.Config) (*App, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	logger := logging.NewJSONLogger(os.Stdout, c.LogLevel).With("env", c.Environment)

	db, err := openDB(ctx, c.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("db init error: %w", err)
	}
	repos := repomanager.NewPostgresRepositoryManager()
	if err := repos.RunMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	store := dbx.NewSQLStore(db)

	app := &App{config: c, logger: logger, db: db}

	var cacheStore cache.Store
	if c.RedisAddr != "" {
		app.redis = redis.NewClient(&redis.Options{Addr: c.RedisAddr})
		cacheStore = cache.NewRedisStore(app.redis, "paykeeper:")
	} else {
		app.memory = cache.NewMemoryStore()
		cacheStore = app.memory
	}
	ttlCache := cache.New(cacheStore, c.CacheTTL, logger.With("module", "cache"))

	var sender mailer.Sender
	if c.SMTPEnabled() {
		sender = mailer.NewSMTPSender(mailer.SMTPConfig{
			Host:     c.SMTPHost,
			Port:     c.SMTPPort,
			User:     c.SMTPUser,
			Password: c.SMTPPassword,
			From:     c.SMTPFrom,
		})
	} else {
		logger.Warn(ctx, "SMTP not configured, one-time passcodes are written to the log")
		sender = mailer.NewLogSender(logger)
	}

	submitterCfg := broker.DefaultExecutorConfig("broker")
	submitterCfg.Logger = logger
	submitter := broker.NewHTTPSubmitter(c.BrokerURL, c.BrokerAPIKey, broker.WithExecutorConfig(submitterCfg))

	jobsCfg := broker.DefaultExecutorConfig("jobs")
	jobsCfg.Logger = logger
	jobs := broker.NewHTTPJobClient(c.JobsURL, c.JobsAPIKey, broker.WithExecutorConfig(jobsCfg))

	metrics := monitoring.New()
	issuer := auth.NewTokenIssuer([]byte(c.SecretKey), c.SessionTokenValidity)

	var receipts *services.ReceiptService
	if c.S3Bucket != "" {
		receipts = services.NewReceiptService(store, repos, c)
	}

	identity := services.NewIdentityService(store, repos, issuer, c.FederatedSessionValidity, ttlCache, logger)
	otp := services.NewOTPService(store, repos, sender, c.OTPValidity, logger, metrics)
	wallet := services.NewWalletService(store, repos, submitter, ttlCache, logger, metrics)
	payments := services.NewPaymentService(store, repos, c.PaymentLinkTTL, c.PaymentRequestTTL,
		c.PublicBaseURL, receipts, logger, metrics)
	relayer := services.NewRelayerService(store, repos, wallet, submitter, jobs, logger, metrics)

	resolver := auth.NewResolver(logger.With("module", "auth"),
		auth.NewFederatedSessionSource(repos.Sessions(store.Conn()), repos.Users(store.Conn())),
		auth.NewSignedTokenSource(issuer),
	)

	var oauth *auth.OAuthProvider
	if c.OAuthEnabled() {
		oauth = auth.NewGoogleProvider(c.OAuthClientID, c.OAuthClientSecret, c.OAuthRedirectURL)
	}

	app.otp = otp
	app.issuer = issuer
	app.api = httpapi.New(httpapi.Deps{
		Identity: identity,
		OTP:      otp,
		Wallet:   wallet,
		Payments: payments,
		Relayer:  relayer,
		Receipts: receipts,

		Resolver: resolver,
		Cookies:  auth.NewCookieManager(c.IsProduction()),
		OAuth:    oauth,

		StateSecret:              c.StateSecret,
		AppURL:                   c.AppURL,
		FederatedSessionValidity: c.FederatedSessionValidity,
		Production:               c.IsProduction(),

		Metrics: metrics,
		Logger:  logger,
	})

	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	// Channel to catch OS signals.
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

// purgeExpiredOTPs deletes stale codes every interval until ctx ends.
func (app *App) purgeExpiredOTPs(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := app.otp.PurgeExpired(ctx)
			if err != nil {
				app.logger.Warn(ctx, "otp purge failed", "error", err)
				continue
			}
			if n > 0 {
				app.logger.Debug(ctx, "expired otps purged", "count", n)
			}
		}
	}
}

// Run blocks until a signal arrives or a listener fails, then shuts
// everything down.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")
	app.initSignalHandler(cancelFunc)

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return httpapi.NewServer(app.config.HTTPAddr, app.api.Routes(), app.logger).Run(ctx)
	})
	if app.config.GRPCAddr != "" {
		g.Go(func() error {
			return gs.NewGRPCServer(app.config.GRPCAddr, app.logger, app.issuer).Run(ctx)
		})
	}
	if app.memory != nil {
		g.Go(func() error {
			<-app.memory.StartSweeper(ctx, app.config.CacheSweepInterval, app.logger)
			return nil
		})
	}
	if app.config.OTPPurgeInterval > 0 {
		g.Go(func() error {
			app.purgeExpiredOTPs(ctx, app.config.OTPPurgeInterval)
			return nil
		})
	}

	err := g.Wait()
	app.close()
	app.logger.Info(context.Background(), "App stopped")
	return err
}

func (app *App) close() {
	if app.redis != nil {
		if err := app.redis.Close(); err != nil {
			app.logger.Warn(context.Background(), "redis close", "error", err)
		}
	}
	if err := app.db.Close(); err != nil {
		app.logger.Warn(context.Background(), "db close", "error", err)
	}
}
