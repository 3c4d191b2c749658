package commands

import (
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the chain tip and the local forgers",
	RunE:  statusRun,
}

var balanceCmd = &cobra.Command{
	Use:   "balance [account]",
	Short: "Print the effective balance of an account id or key name",
	Args:  cobra.MaximumNArgs(1),
	RunE:  balanceRun,
}

func init() {
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(balanceCmd)
}

func statusRun(cmd *cobra.Command, args []string) error {
	var status map[string]any
	if err := call(http.MethodGet, publicURL+"/v1/status", nil, &status); err != nil {
		return err
	}

	var gens []map[string]any
	if err := call(http.MethodGet, publicURL+"/v1/generators", nil, &gens); err != nil {
		return err
	}
	status["generators"] = gens

	return printJSON(cmd, status)
}

func balanceRun(cmd *cobra.Command, args []string) error {
	account := accountName
	if len(args) == 1 {
		account = args[0]
	}

	var acct map[string]any
	if err := call(http.MethodGet, fmt.Sprintf("%s/v1/accounts/%s", publicURL, account), nil, &acct); err != nil {
		return err
	}

	return printJSON(cmd, acct)
}
