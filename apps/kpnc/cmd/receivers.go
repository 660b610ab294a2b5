package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var receiversCmd = &cobra.Command{
	Use:   "receivers",
	Short: "List processes registered to receive reply notifications",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		comps := mustComponents(ctx)

		targets, err := comps.registry.List(ctx)
		if err != nil {
			return err
		}
		if useYAML {
			rows := make([]map[string]any, 0, len(targets))
			for _, t := range targets {
				rows = append(rows, map[string]any{
					"name":    t.Name,
					"hub_url": t.HubURL,
					"actions": t.Actions,
					"pid":     t.PID,
				})
			}
			yamlOut(rows)
			return nil
		}
		printReceivers(os.Stdout, targets)
		return nil
	},
}

var receiversRemoveCmd = &cobra.Command{
	Use:   "remove <name>",
	Short: "Remove a receiver from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		comps := mustComponents(cmd.Context())
		if err := comps.registry.Unregister(args[0]); err != nil {
			return err
		}
		if !useYAML {
			fmt.Printf("Receiver %s removed.\n", args[0])
		}
		return nil
	},
}

func init() {
	receiversCmd.AddCommand(receiversRemoveCmd)
	rootCmd.AddCommand(receiversCmd)
}
