package custody

import (
	"regexp"

	"github.com/btcsuite/btcd/btcutil/base58"
)

var evmAddressRe = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// IsSolanaAddress reports whether s is a base58-encoded 32-byte public key.
func IsSolanaAddress(s string) bool {
	if len(s) < 32 || len(s) > 44 {
		return false
	}
	return len(base58.Decode(s)) == ed25519PublicKeySize
}

func IsEVMAddress(s string) bool {
	return evmAddressRe.MatchString(s)
}

const ed25519PublicKeySize = 32
