package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/google/uuid"
	kpnc "github.com/slush-dev/kpnc"
	"github.com/slush-dev/kpnc/ipc"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch <post-url>",
	Short: "Ask the server to watch a post for replies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		viaAgent, _ := cmd.Flags().GetBool("agent")
		ctx := cmd.Context()

		var res *kpnc.GenericResult
		var err error
		if viaAgent {
			res, err = watchViaAgent(ctx, args[0])
		} else {
			res, err = watchLocally(ctx, args[0])
		}
		if err != nil {
			return err
		}

		if useYAML {
			yamlOut(resultMap(res))
		} else {
			printResult(os.Stdout, res)
		}
		if res.Error != "" {
			return fmt.Errorf("watch failed")
		}
		return nil
	},
}

func init() {
	watchCmd.Flags().Bool("agent", false, "Run the action on the running agent instead of locally")
	rootCmd.AddCommand(watchCmd)
}

func watchLocally(ctx context.Context, postURL string) (*kpnc.GenericResult, error) {
	comps := mustComponents(ctx)
	res := comps.actions.Handle(ctx, kpnc.ActionRequest{
		ID:      uuid.New(),
		Action:  kpnc.ActionStartWatchingPost,
		PostURL: postURL,
	})
	var doc kpnc.GenericResult
	if err := json.Unmarshal(res.Payload, &doc); err != nil {
		return nil, &kpnc.MalformedResponseError{What: "action result", Err: err}
	}
	return &doc, nil
}

func watchViaAgent(ctx context.Context, postURL string) (*kpnc.GenericResult, error) {
	client, err := ipc.DialAgent(ctx, agentHubURL(cfg.Hub.Listen), logger)
	if err != nil {
		return nil, err
	}
	defer client.Close()
	return client.StartWatchingPost(ctx, postURL)
}
