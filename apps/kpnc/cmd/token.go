package cmd

import (
	"context"
	"fmt"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/spf13/cobra"
)

var tokenCmd = &cobra.Command{
	Use:   "token <token>",
	Short: "Store a new push registration token and register it with the server",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		viaAgent, _ := cmd.Flags().GetBool("agent")
		ctx := cmd.Context()

		var performed bool
		var err error
		if viaAgent {
			performed, err = newTokenViaAgent(ctx, args[0])
		} else {
			comps := mustComponents(ctx)
			performed, err = comps.agent.OnNewToken(ctx, args[0])
		}
		if err != nil {
			return fmt.Errorf("token update failed: %s", kpnc.UserMessage(err))
		}

		if useYAML {
			yamlOut(map[string]any{"performed": performed})
		} else if performed {
			fmt.Println("Token registered.")
		} else {
			fmt.Println("Token stored, but the server did not accept it.")
		}
		return nil
	},
}

func init() {
	tokenCmd.Flags().Bool("agent", false, "Hand the token to the running agent instead of updating locally")
	rootCmd.AddCommand(tokenCmd)
}

func newTokenViaAgent(ctx context.Context, token string) (bool, error) {
	client, err := ipc.DialAgent(ctx, agentHubURL(cfg.Hub.Listen), logger)
	if err != nil {
		return false, err
	}
	defer client.Close()
	return client.NewToken(ctx, token)
}
