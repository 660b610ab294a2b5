package cmd

import (
	"fmt"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/spf13/cobra"
)

var testPushCmd = &cobra.Command{
	Use:   "test-push",
	Short: "Re-register the stored token and ask the server for a test push",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account-id")
		ctx := cmd.Context()
		comps := mustComponents(ctx)

		if err := comps.agent.SendTestPush(ctx, comps.client, accountID); err != nil {
			return fmt.Errorf("test push failed: %s", kpnc.UserMessage(err))
		}
		if useYAML {
			yamlOut(map[string]any{"success": true})
		} else {
			fmt.Println("Test push requested.")
		}
		return nil
	},
}

func init() {
	testPushCmd.Flags().String("account-id", "", "Account to push to (default: stored account)")
	rootCmd.AddCommand(testPushCmd)
}
