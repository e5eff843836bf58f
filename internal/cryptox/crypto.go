// Package cryptox wraps the symmetric primitives used to protect wallet
// material at rest: an argon2id passcode KDF and AES-GCM sealing.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"

	"golang.org/x/crypto/argon2"
)

// SaltSize is the length of salts produced by NewSalt.
const SaltSize = 16

// ErrDecrypt is returned when a ciphertext fails authentication, which for
// passcode-derived keys means the passcode was wrong.
var ErrDecrypt = errors.New("decryption failed")

var ErrShortCiphertext = errors.New("ciphertext too short")

// DeriveKey stretches a low-entropy secret into a 32-byte AES-256 key.
func DeriveKey(secret []byte, salt []byte) []byte {
	return argon2.IDKey(secret, salt, 1, 64*1024, 4, 32)
}

func NewSalt() ([]byte, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	return salt, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// Seal encrypts plaintext with AES-GCM under key. The random nonce is
// prepended to the returned ciphertext.
func Seal(plaintext, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aesgcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return aesgcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open reverses Seal.
func Open(sealed, key []byte) ([]byte, error) {
	aesgcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	ns := aesgcm.NonceSize()
	if len(sealed) < ns+aesgcm.Overhead() {
		return nil, ErrShortCiphertext
	}

	plaintext, err := aesgcm.Open(nil, sealed[:ns], sealed[ns:], nil)
	if err != nil {
		return nil, ErrDecrypt
	}
	return plaintext, nil
}

// SealWithPasscode derives a key from passcode and salt and seals plaintext.
func SealWithPasscode(plaintext []byte, passcode string, salt []byte) ([]byte, error) {
	return Seal(plaintext, DeriveKey([]byte(passcode), salt))
}

// OpenWithPasscode returns ErrDecrypt when passcode does not match.
func OpenWithPasscode(sealed []byte, passcode string, salt []byte) ([]byte, error) {
	return Open(sealed, DeriveKey([]byte(passcode), salt))
}
