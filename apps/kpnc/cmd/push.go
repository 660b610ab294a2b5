package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/spf13/cobra"
)

var pushCmd = &cobra.Command{
	Use:   "push <reply-url>...",
	Short: "Hand a reply push message to the running agent",
	Long: `Build a new-replies push message for the given URLs and deliver it to the
running agent's MessageReceived hub method, as the push provider would.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		messageID, _ := cmd.Flags().GetString("message-id")
		if messageID == "" {
			messageID = uuid.NewString()
		}
		body, err := buildReplyMessage(args)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		client, err := ipc.DialAgent(ctx, agentHubURL(cfg.Hub.Listen), logger)
		if err != nil {
			return err
		}
		defer client.Close()

		accepted, err := client.MessageReceived(ctx, messageID, body)
		if err != nil {
			return fmt.Errorf("push failed: %s", kpnc.UserMessage(err))
		}
		if useYAML {
			yamlOut(map[string]any{"message_id": messageID, "accepted": accepted})
		} else if accepted {
			fmt.Printf("Message %s relayed.\n", messageID)
		} else {
			fmt.Printf("Message %s was not relayed. Is the token registered?\n", messageID)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().String("message-id", "", "Push message id (default: random)")
	rootCmd.AddCommand(pushCmd)
}

// buildReplyMessage encodes the push body carrying urls.
func buildReplyMessage(urls []string) (string, error) {
	data, err := json.Marshal(kpnc.NewRepliesMessage{NewReplyURLs: urls})
	if err != nil {
		return "", fmt.Errorf("encoding push message: %w", err)
	}
	return string(data), nil
}
