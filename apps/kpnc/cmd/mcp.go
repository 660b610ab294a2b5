package cmd

import (
	"github.com/slush-dev/kpnc/apps/kpnc/internal/mcpserver"
	"github.com/spf13/cobra"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start an MCP (Model Context Protocol) server on stdio",
	Long: `Start an MCP server that exposes the agent's external actions and account
operations as tools, and its state as resources. The listen tool registers
the server as a reply receiver; replies arrive as kpnc://replies updates.

The server communicates via JSON-RPC over stdin/stdout.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		receiverListen, _ := cmd.Flags().GetString("receiver-listen")
		ctx := cmd.Context()
		comps := mustComponents(ctx)

		s := mcpserver.New(mcpserver.Deps{
			Agent:          comps.agent,
			Client:         comps.client,
			Actions:        comps.actions,
			Registry:       comps.registry,
			ReceiverListen: receiverListen,
		}, rootCmd.Version, comps.logger)
		return s.Run(ctx)
	},
}

func init() {
	mcpCmd.Flags().String("receiver-listen", "127.0.0.1:0", "Address the listen tool serves its receiver hub on")
	rootCmd.AddCommand(mcpCmd)
}
