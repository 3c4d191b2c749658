package commands

import (
	"fmt"
	"os"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var genkeyCmd = &cobra.Command{
	Use:   "genkey",
	Short: "Generate a new stake key file",
	RunE:  genkeyRun,
}

var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Print the account id and public key of a key file",
	RunE:  accountRun,
}

func init() {
	rootCmd.AddCommand(genkeyCmd)
	rootCmd.AddCommand(accountCmd)
}

func genkeyRun(cmd *cobra.Command, args []string) error {
	path := getPrivateKeyPath()
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("key file %s already exists", path)
	}

	if err := os.MkdirAll(accountPath, 0755); err != nil {
		return err
	}

	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return err
	}

	if err := crypto.SaveECDSA(path, privateKey); err != nil {
		return err
	}

	return printAccount(cmd, signature.PublicKey(privateKey))
}

func accountRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	return printAccount(cmd, signature.PublicKey(privateKey))
}

func printAccount(cmd *cobra.Command, pub []byte) error {
	acct := struct {
		File      string `json:"file"`
		Account   string `json:"account"`
		PublicKey string `json:"public_key"`
	}{
		File:      getPrivateKeyPath(),
		Account:   signature.StringID(signature.AccountID(pub)),
		PublicKey: hexutil.Encode(pub),
	}

	return printJSON(cmd, acct)
}
