package commands

import (
	"fmt"
	"net/http"

	"github.com/ardanlabs/hybridchain/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/spf13/cobra"
)

var (
	sendTo     string
	sendAmount uint64
	sendFee    uint64
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Submit a payment from the account to the node mempool",
	RunE:  sendRun,
}

func init() {
	sendCmd.Flags().StringVarP(&sendTo, "to", "t", "", "Recipient account id.")
	sendCmd.Flags().Uint64VarP(&sendAmount, "amount", "v", 0, "Amount to send.")
	sendCmd.Flags().Uint64VarP(&sendFee, "fee", "f", 1, "Fee paid to the forger.")
	sendCmd.MarkFlagRequired("to")
	rootCmd.AddCommand(sendCmd)
}

func sendRun(cmd *cobra.Command, args []string) error {
	privateKey, err := crypto.LoadECDSA(getPrivateKeyPath())
	if err != nil {
		return err
	}

	to, err := signature.ParseStringID(sendTo)
	if err != nil {
		return fmt.Errorf("recipient: %w", err)
	}

	tx := struct {
		SenderID    int64  `json:"sender"`
		RecipientID int64  `json:"recipient"`
		Amount      uint64 `json:"amount"`
		Fee         uint64 `json:"fee"`
	}{
		SenderID:    signature.AccountID(signature.PublicKey(privateKey)),
		RecipientID: to,
		Amount:      sendAmount,
		Fee:         sendFee,
	}

	var resp map[string]any
	if err := call(http.MethodPost, privateURL+"/v1/node/tx/submit", tx, &resp); err != nil {
		return err
	}

	return printJSON(cmd, resp)
}
