package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/paykeeper/internal/cache"
	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/cryptox"
	"github.com/dmitrijs2005/paykeeper/internal/custody"
	"github.com/dmitrijs2005/paykeeper/internal/dbx"
	"github.com/dmitrijs2005/paykeeper/internal/logging"
	"github.com/dmitrijs2005/paykeeper/internal/server/broker"
	"github.com/dmitrijs2005/paykeeper/internal/server/models"
	"github.com/dmitrijs2005/paykeeper/internal/server/monitoring"
	"github.com/dmitrijs2005/paykeeper/internal/server/repositories/repomanager"
)

// newMnemonic is a seam for tests.
var newMnemonic = custody.NewMnemonic

// WalletSetup is returned once; the two user shares are never stored.
type WalletSetup struct {
	SolanaAddress string `json:"solanaAddress"`
	EVMAddress    string `json:"evmAddress"`
	BackupShare   string `json:"backupShare"`
	RecoveryShare string `json:"recoveryShare"`
}

// WalletService custodies the server share of each user's wallet.
type WalletService struct {
	store     dbx.Store
	repos     repomanager.RepositoryManager
	submitter broker.Submitter
	cache     *cache.TTLCache
	logger    logging.Logger
	metrics   *monitoring.Metrics
}

func NewWalletService(store dbx.Store, repos repomanager.RepositoryManager, submitter broker.Submitter,
	c *cache.TTLCache, logger logging.Logger, metrics *monitoring.Metrics) *WalletService {
	return &WalletService{
		store:     store,
		repos:     repos,
		submitter: submitter,
		cache:     c,
		logger:    logger.With("service", "wallet"),
		metrics:   metrics,
	}
}

// Setup creates the user's wallet from mnemonic, or from a fresh one when
// mnemonic is empty. A wallet can be set up only once.
func (s *WalletService) Setup(ctx context.Context, userID, passcode, mnemonic string) (*WalletSetup, error) {
	if err := custody.ValidatePasscode(passcode); err != nil {
		return nil, err
	}

	user, err := s.repos.Users(s.store.Conn()).GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.HasPasscode {
		return nil, common.NewConflictError("", "wallet is already set up")
	}

	if mnemonic != "" {
		mnemonic = custody.NormalizeMnemonic(mnemonic)
		if err := custody.ValidateMnemonic(mnemonic); err != nil {
			return nil, common.NewValidationError("mnemonic", "failed checksum validation")
		}
	} else if mnemonic, err = newMnemonic(); err != nil {
		return nil, fmt.Errorf("generate mnemonic: %w", err)
	}

	addrs, err := custody.DeriveAddresses(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("derive addresses: %w", err)
	}
	shares, err := custody.Split(mnemonic)
	if err != nil {
		return nil, fmt.Errorf("split secret: %w", err)
	}
	defer common.WipeByteArray(shares.Server)

	salt, err := cryptox.NewSalt()
	if err != nil {
		return nil, fmt.Errorf("generate salt: %w", err)
	}
	sealed, err := cryptox.SealWithPasscode(shares.Server, passcode, salt)
	if err != nil {
		return nil, fmt.Errorf("seal server share: %w", err)
	}

	ok, err := s.repos.Users(s.store.Conn()).SetWallet(ctx, userID, models.WalletUpdate{
		SolanaAddress: addrs.Solana,
		EVMAddress:    addrs.EVM,
		ServerShare:   sealed,
		Salt:          salt,
	})
	if err != nil {
		return nil, fmt.Errorf("store wallet: %w", err)
	}
	if !ok {
		return nil, common.NewConflictError("", "wallet is already set up")
	}

	s.logger.Info(ctx, "wallet set up", "user_id", userID, "solana_address", addrs.Solana)
	return &WalletSetup{
		SolanaAddress: addrs.Solana,
		EVMAddress:    addrs.EVM,
		BackupShare:   custody.EncodeShare(shares.Backup),
		RecoveryShare: custody.EncodeShare(shares.Recovery),
	}, nil
}

// VerifyPasscode checks passcode against the server-held material only.
// Wallets created before share splitting verify by decrypting the stored
// mnemonic.
func (s *WalletService) VerifyPasscode(ctx context.Context, userID, passcode string) (bool, error) {
	if err := custody.ValidatePasscode(passcode); err != nil {
		return false, err
	}

	user, err := s.repos.Users(s.store.Conn()).GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("load user: %w", err)
	}

	var verified bool
	switch {
	case len(user.ServerShare) > 0:
		verified, err = openWithPasscode(user.ServerShare, passcode, user.Salt, nil)
	case len(user.EncryptedMnemonic) > 0:
		verified, err = openWithPasscode(user.EncryptedMnemonic, passcode, user.MnemonicSalt, func(b []byte) bool {
			return custody.ValidateMnemonic(string(b)) == nil
		})
	default:
		return false, common.ErrWalletNotFound
	}
	if err != nil {
		return false, err
	}

	s.metrics.IncPasscode(verified)
	if !verified {
		s.logger.Warn(ctx, "passcode rejected", "user_id", userID)
	}
	return verified, nil
}

func openWithPasscode(sealed []byte, passcode string, salt []byte, check func([]byte) bool) (bool, error) {
	plain, err := cryptox.OpenWithPasscode(sealed, passcode, salt)
	if err != nil {
		if errors.Is(err, cryptox.ErrDecrypt) {
			return false, nil
		}
		return false, fmt.Errorf("open wallet material: %w", err)
	}
	defer common.WipeByteArray(plain)

	if check != nil && !check(plain) {
		return false, nil
	}
	return true, nil
}

// Balance returns the cached balance of the user's primary address.
func (s *WalletService) Balance(ctx context.Context, userID string) (*broker.Balance, error) {
	user, err := s.repos.Users(s.store.Conn()).GetByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user.SolanaAddress == nil {
		return nil, common.ErrWalletNotFound
	}

	addr := *user.SolanaAddress
	return cache.GetOrLoad(ctx, s.cache, "balance:"+addr, func(ctx context.Context) (*broker.Balance, error) {
		return s.submitter.Balance(ctx, addr)
	})
}

// InvalidateBalance drops the cached balance of address after a transfer.
func (s *WalletService) InvalidateBalance(ctx context.Context, address string) {
	s.cache.Invalidate(ctx, "balance:"+address)
}
