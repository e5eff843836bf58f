// Package recovery rebuilds a wallet offline from the two user-held shares.
// Nothing here talks to the server.
package recovery

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/dmitrijs2005/paykeeper/internal/common"
	"github.com/dmitrijs2005/paykeeper/internal/custody"
	"github.com/dmitrijs2005/paykeeper/internal/filex"
)

// readPassword is a test seam for term.ReadPassword.
var readPassword = term.ReadPassword

var ErrMissingShare = errors.New("share is required")

type Options struct {
	BackupShare   string
	RecoveryShare string
	// OutDir, when set, receives a recovery file holding the mnemonic.
	OutDir string
	// Reveal prints the mnemonic to the output.
	Reveal bool
}

type Result struct {
	SolanaAddress string `json:"solanaAddress"`
	EVMAddress    string `json:"evmAddress"`
	Mnemonic      string `json:"mnemonic"`
}

// NewCommand returns the recover command. Shares left empty on the command
// line are prompted for.
func NewCommand() *cobra.Command {
	var opts Options
	cmd := &cobra.Command{
		Use:           "recover",
		Short:         "Rebuild a wallet offline from the backup and recovery shares",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := Run(opts, cmd.OutOrStdout())
			return err
		},
	}
	cmd.Flags().StringVar(&opts.BackupShare, "backup", "", "backup share (hex); prompted when empty")
	cmd.Flags().StringVar(&opts.RecoveryShare, "recovery", "", "recovery share (hex); prompted when empty")
	cmd.Flags().StringVar(&opts.OutDir, "out", "", "directory to write the recovery file into")
	cmd.Flags().BoolVar(&opts.Reveal, "reveal", false, "print the recovered mnemonic")
	return cmd
}

// promptShare reads a share from the terminal without echo.
func promptShare(w io.Writer, label string) (string, error) {
	if _, err := fmt.Fprintf(w, "Enter %s share: ", label); err != nil {
		return "", err
	}
	b, err := readPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(w)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(b)

	share := strings.TrimSpace(string(b))
	if share == "" {
		return "", fmt.Errorf("%s: %w", label, ErrMissingShare)
	}
	return share, nil
}

// Run recovers the wallet described by opts and reports it to out.
func Run(opts Options, out io.Writer) (*Result, error) {
	var err error
	if opts.BackupShare == "" {
		if opts.BackupShare, err = promptShare(out, "backup"); err != nil {
			return nil, err
		}
	}
	if opts.RecoveryShare == "" {
		if opts.RecoveryShare, err = promptShare(out, "recovery"); err != nil {
			return nil, err
		}
	}

	rec, err := custody.Recover(opts.BackupShare, opts.RecoveryShare)
	if err != nil {
		return nil, fmt.Errorf("recover wallet: %w", err)
	}
	res := &Result{
		SolanaAddress: rec.Addresses.Solana,
		EVMAddress:    rec.Addresses.EVM,
		Mnemonic:      rec.Mnemonic,
	}

	fmt.Fprintf(out, "Solana address: %s\n", res.SolanaAddress)
	fmt.Fprintf(out, "EVM address:    %s\n", res.EVMAddress)
	if opts.Reveal {
		fmt.Fprintf(out, "Mnemonic:       %s\n", res.Mnemonic)
	}

	if opts.OutDir != "" {
		path, err := writeRecoveryFile(opts.OutDir, res)
		if err != nil {
			return nil, err
		}
		fmt.Fprintf(out, "Recovery file:  %s\n", path)
	}
	return res, nil
}

func writeRecoveryFile(outDir string, res *Result) (string, error) {
	dir, err := filex.EnsureDir(outDir)
	if err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(res, "", "  ")
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(data)
	return filex.WritePrivateFile(dir, fmt.Sprintf("wallet-%s.json", res.SolanaAddress), data)
}
