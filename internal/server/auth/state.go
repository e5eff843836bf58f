package auth

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"strings"
)

func NewRandomString(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// SignState appends an HMAC-SHA256 signature to state.
func SignState(state, secret string) string {
	h := hmac.New(sha256.New, []byte(secret))
	h.Write([]byte(state))
	sig := base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	return state + "." + sig
}

func VerifySignedState(raw, secret string) (string, bool) {
	state, _, ok := strings.Cut(raw, ".")
	if !ok || state == "" {
		return "", false
	}
	expected := SignState(state, secret)
	if !hmac.Equal([]byte(expected), []byte(raw)) {
		return "", false
	}
	return state, true
}
