package commands

import (
	"net/http"

	"github.com/spf13/cobra"
)

var forgeKey string

var forgeCmd = &cobra.Command{
	Use:   "forge",
	Short: "Control forging on the node",
}

var forgeStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start forging with a key the node holds or a hex private key",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp map[string]any
		if err := call(http.MethodPost, privateURL+"/v1/node/forging/start", forgingRequest(), &resp); err != nil {
			return err
		}
		return printJSON(cmd, resp)
	},
}

var forgeStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop forging with a key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := call(http.MethodPost, privateURL+"/v1/node/forging/stop", forgingRequest(), nil); err != nil {
			return err
		}
		cmd.Println("forging stopped")
		return nil
	},
}

func init() {
	forgeCmd.PersistentFlags().StringVarP(&forgeKey, "key", "k", "", "Hex private key to forge with instead of a key file the node holds.")
	forgeCmd.AddCommand(forgeStartCmd)
	forgeCmd.AddCommand(forgeStopCmd)
	rootCmd.AddCommand(forgeCmd)
}

func forgingRequest() map[string]string {
	if forgeKey != "" {
		return map[string]string{"private_key": forgeKey}
	}
	return map[string]string{"name": accountName}
}
