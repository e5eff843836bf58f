package models

import "time"

// Session backs a federated sign-in cookie.
type Session struct {
	ID           string
	UserID       string
	SessionToken string
	Provider     string
	Expires      time.Time
	CreatedAt    time.Time
}
