package models

import "time"

// VerificationToken is a one-time email passcode.
type VerificationToken struct {
	Identifier string
	Token      string
	Expires    time.Time
}
