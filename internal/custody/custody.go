// Package custody derives wallet keys from BIP-39 mnemonics and splits the
// mnemonic entropy into threshold shares so that no single party holds the
// signing secret.
package custody

import (
	"crypto/ed25519"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/hashicorp/vault/shamir"
	"github.com/tyler-smith/go-bip39"
	"golang.org/x/crypto/sha3"

	"github.com/dmitrijs2005/paykeeper/internal/common"
)

const (
	PasscodeLength = 6
	ShareCount     = 3
	ShareThreshold = 2
	entropyBits    = 128
)

var (
	ErrInvalidMnemonic = errors.New("invalid mnemonic")
	ErrInvalidShare    = errors.New("invalid share")
)

// bip44 path m/44'/60'/0'/0/0
var evmPath = []uint32{
	hdkeychain.HardenedKeyStart + 44,
	hdkeychain.HardenedKeyStart + 60,
	hdkeychain.HardenedKeyStart + 0,
	0,
	0,
}

type Addresses struct {
	Solana string
	EVM    string
}

// Shares holds the three raw shares of a mnemonic's entropy. Any
// two of them reconstruct the mnemonic.
type Shares struct {
	Server   []byte
	Backup   []byte
	Recovery []byte
}

// ValidatePasscode accepts exactly six ASCII digits.
func ValidatePasscode(passcode string) error {
	if len(passcode) != PasscodeLength {
		return common.NewValidationError("passcode", "must be exactly 6 digits")
	}
	for i := 0; i < len(passcode); i++ {
		if passcode[i] < '0' || passcode[i] > '9' {
			return common.NewValidationError("passcode", "must be exactly 6 digits")
		}
	}
	return nil
}

func NewMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(entropyBits)
	if err != nil {
		return "", err
	}
	return bip39.NewMnemonic(entropy)
}

// NormalizeMnemonic collapses whitespace and lowercases the words.
func NormalizeMnemonic(mnemonic string) string {
	return strings.Join(strings.Fields(strings.ToLower(mnemonic)), " ")
}

func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(mnemonic) {
		return ErrInvalidMnemonic
	}
	return nil
}

// DeriveAddresses returns the Solana and EVM addresses of a mnemonic.
// The Solana key uses the first 32 bytes of the BIP-39 seed as the ed25519
// seed; the EVM key follows BIP-44 m/44'/60'/0'/0/0.
func DeriveAddresses(mnemonic string) (Addresses, error) {
	if err := ValidateMnemonic(mnemonic); err != nil {
		return Addresses{}, err
	}
	seed := bip39.NewSeed(mnemonic, "")

	priv, err := deriveEVMKey(seed)
	if err != nil {
		return Addresses{}, err
	}

	return Addresses{
		Solana: solanaAddress(seed),
		EVM:    evmAddress(priv.PubKey()),
	}, nil
}

func solanaAddress(seed []byte) string {
	key := ed25519.NewKeyFromSeed(seed[:ed25519.SeedSize])
	return base58.Encode(key.Public().(ed25519.PublicKey))
}

func deriveEVMKey(seed []byte) (*btcec.PrivateKey, error) {
	key, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}
	for _, idx := range evmPath {
		key, err = key.Derive(idx)
		if err != nil {
			return nil, fmt.Errorf("derive %d: %w", idx, err)
		}
	}
	return key.ECPrivKey()
}

// evmAddress is keccak256(X||Y)[12:] of the uncompressed public key.
func evmAddress(pub *btcec.PublicKey) string {
	uncompressed := pub.SerializeUncompressed()

	hasher := sha3.NewLegacyKeccak256()
	hasher.Write(uncompressed[1:])
	hash := hasher.Sum(nil)

	return "0x" + hex.EncodeToString(hash[12:])
}

// Split breaks the mnemonic's entropy into ShareCount shares with threshold
// ShareThreshold.
func Split(mnemonic string) (*Shares, error) {
	entropy, err := bip39.EntropyFromMnemonic(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMnemonic, err)
	}
	defer common.WipeByteArray(entropy)

	parts, err := shamir.Split(entropy, ShareCount, ShareThreshold)
	if err != nil {
		return nil, err
	}

	return &Shares{Server: parts[0], Backup: parts[1], Recovery: parts[2]}, nil
}

// Combine reconstructs the mnemonic from at least ShareThreshold shares.
func Combine(shares ...[]byte) (string, error) {
	if len(shares) < ShareThreshold {
		return "", fmt.Errorf("%w: need %d shares, got %d", ErrInvalidShare, ShareThreshold, len(shares))
	}

	entropy, err := shamir.Combine(shares)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	defer common.WipeByteArray(entropy)

	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidShare, err)
	}
	return mnemonic, nil
}

func EncodeShare(share []byte) string {
	return hex.EncodeToString(share)
}

func DecodeShare(s string) ([]byte, error) {
	b, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil || len(b) < 2 {
		return nil, ErrInvalidShare
	}
	return b, nil
}

type Recovered struct {
	Mnemonic  string
	Addresses Addresses
}

// Recover rebuilds the wallet from the two user-held shares.
func Recover(backupShare, recoveryShare string) (*Recovered, error) {
	backup, err := DecodeShare(backupShare)
	if err != nil {
		return nil, fmt.Errorf("backup share: %w", err)
	}
	recovery, err := DecodeShare(recoveryShare)
	if err != nil {
		return nil, fmt.Errorf("recovery share: %w", err)
	}

	mnemonic, err := Combine(backup, recovery)
	if err != nil {
		return nil, err
	}

	addrs, err := DeriveAddresses(mnemonic)
	if err != nil {
		return nil, err
	}
	return &Recovered{Mnemonic: mnemonic, Addresses: addrs}, nil
}
