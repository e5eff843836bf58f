// Package models defines server-side data models persisted in the database.
package models

import "time"

// User is an account created on first successful sign-in. Wallet columns
// stay empty until the user sets a passcode.
type User struct {
	ID       string
	Email    string
	Username *string

	SolanaAddress *string
	EVMAddress    *string

	// ServerShare is the server's threshold share, sealed under a key
	// derived from the passcode and Salt.
	ServerShare []byte
	Salt        []byte
	// BackupShare is never populated; the column exists for schema parity.
	BackupShare []byte

	// Legacy wallets store the whole mnemonic sealed under the passcode.
	EncryptedMnemonic []byte
	MnemonicSalt      []byte

	HasPasscode bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// HasWallet reports whether any wallet material is stored for the user.
func (u *User) HasWallet() bool {
	return len(u.ServerShare) > 0 || len(u.EncryptedMnemonic) > 0
}

// WalletUpdate carries the fields written by wallet setup.
type WalletUpdate struct {
	SolanaAddress string
	EVMAddress    string
	ServerShare   []byte
	Salt          []byte
}
