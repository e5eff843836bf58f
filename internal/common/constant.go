// Package common contains shared constants, sentinel errors and small helpers
// used across PayKeeper components.
package common

// Cookie and header names shared by the HTTP layer and the identity bridge.
const (
	// AuthTokenCookieName carries the self-issued signed session token.
	AuthTokenCookieName = "auth-token"

	// SessionCookieName carries the opaque federated session token.
	SessionCookieName = "paykeeper.session-token"

	// OAuthStateCookieName carries the signed OAuth state during the login round-trip.
	OAuthStateCookieName = "paykeeper.oauth-state"

	// AuthorizationHeaderName is the header used by non-browser clients.
	AuthorizationHeaderName = "Authorization"
)

// Payment object statuses. ACTIVE is the open status of payment links,
// PENDING is the open status of payment requests.
const (
	StatusActive    = "ACTIVE"
	StatusPending   = "PENDING"
	StatusExpired   = "EXPIRED"
	StatusCancelled = "CANCELLED"
	StatusCompleted = "COMPLETED"
)

// Transaction statuses; they only move forward.
const (
	TxPending   = "pending"
	TxExecuted  = "executed"
	TxConfirmed = "confirmed"
	TxFailed    = "failed"
)
