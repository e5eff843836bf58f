// Package broker contains HTTP clients for the external services that settle
// transfers: the transaction submission service for the primary network and
// the delegated job system for the secondary network. Every call goes through
// a failsafe-go executor with retries and a circuit breaker.
package broker

import (
	"context"
	"net/http"
	"time"

	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
)

// ExecutorConfig configures retries and the circuit breaker of a client.
type ExecutorConfig struct {
	// Name identifies the breaker in logs.
	Name string

	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration

	// BreakerFailures out of BreakerWindow failed executions open the
	// circuit for BreakerDelay. A zero BreakerWindow disables the breaker.
	BreakerFailures uint
	BreakerWindow   uint
	BreakerDelay    time.Duration

	// ShouldRetry decides whether an attempt is retried.
	ShouldRetry func(resp *http.Response, err error) bool

	Logger logging.Logger
}

// DefaultExecutorConfig returns the settings used by the production clients.
func DefaultExecutorConfig(name string) ExecutorConfig {
	return ExecutorConfig{
		Name:            name,
		MaxRetries:      3,
		BaseDelay:       100 * time.Millisecond,
		MaxDelay:        5 * time.Second,
		BreakerFailures: 5,
		BreakerWindow:   10,
		BreakerDelay:    15 * time.Second,
		ShouldRetry:     DefaultShouldRetry,
	}
}

// DefaultShouldRetry retries transport errors, throttling and gateway failures.
func DefaultShouldRetry(resp *http.Response, err error) bool {
	if err != nil || resp == nil {
		return true
	}
	switch resp.StatusCode {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusTooManyRequests:
		return true
	default:
		return false
	}
}

func normalize(cfg ExecutorConfig) ExecutorConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.BaseDelay <= 0 {
		cfg.BaseDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay < cfg.BaseDelay {
		cfg.MaxDelay = cfg.BaseDelay
	}
	if cfg.ShouldRetry == nil {
		cfg.ShouldRetry = DefaultShouldRetry
	}
	if cfg.BreakerFailures == 0 || cfg.BreakerFailures > cfg.BreakerWindow {
		cfg.BreakerFailures = cfg.BreakerWindow
	}
	if cfg.BreakerDelay <= 0 {
		cfg.BreakerDelay = 15 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.NewNopLogger()
	}
	return cfg
}

// NewHTTPExecutor composes a retry policy with an optional circuit breaker.
// Retries wrap the breaker so an open circuit fails fast on every attempt.
//
//nolint:bodyclose // *http.Response is a type parameter here
func NewHTTPExecutor(cfg ExecutorConfig) failsafe.Executor[*http.Response] {
	cfg = normalize(cfg)

	retry := retrypolicy.NewBuilder[*http.Response]().
		WithBackoff(cfg.BaseDelay, cfg.MaxDelay).
		WithMaxRetries(cfg.MaxRetries).
		WithJitterFactor(0.1).
		HandleIf(cfg.ShouldRetry).
		Build()

	if cfg.BreakerWindow == 0 {
		return failsafe.With(retry)
	}

	breaker := circuitbreaker.NewBuilder[*http.Response]().
		WithFailureThresholdRatio(cfg.BreakerFailures, cfg.BreakerWindow).
		WithDelay(cfg.BreakerDelay).
		WithSuccessThreshold(1).
		HandleIf(func(resp *http.Response, err error) bool {
			return err != nil || (resp != nil && resp.StatusCode >= 500)
		}).
		OnStateChanged(func(e circuitbreaker.StateChangedEvent) {
			cfg.Logger.Warn(context.Background(), "circuit breaker state change",
				"breaker", cfg.Name, "from", stateName(e.OldState), "to", stateName(e.NewState))
		}).
		Build()

	return failsafe.With(retry, breaker)
}

func stateName(s circuitbreaker.State) string {
	switch s {
	case circuitbreaker.ClosedState:
		return "closed"
	case circuitbreaker.HalfOpenState:
		return "half-open"
	case circuitbreaker.OpenState:
		return "open"
	default:
		return "unknown"
	}
}
