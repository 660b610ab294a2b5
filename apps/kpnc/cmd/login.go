package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"
	"time"

	kpnc "github.com/slush-dev/kpnc"
	"github.com/spf13/cobra"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Verify an account id with the server and save it",
	RunE: func(cmd *cobra.Command, args []string) error {
		accountID, _ := cmd.Flags().GetString("account-id")
		instance, _ := cmd.Flags().GetString("instance")

		if accountID == "" {
			fmt.Print("Account id: ")
			scanner := bufio.NewScanner(os.Stdin)
			if scanner.Scan() {
				accountID = strings.TrimSpace(scanner.Text())
			}
		}

		ctx := cmd.Context()
		comps := mustComponents(ctx)

		info, err := comps.agent.Login(ctx, comps.client, accountID, instance)
		if err != nil {
			return fmt.Errorf("login failed: %s", kpnc.UserMessage(err))
		}

		if useYAML {
			out := map[string]any{
				"account_id": strings.TrimSpace(accountID),
				"is_valid":   info.IsValid,
			}
			if info.HasExpiry() {
				out["valid_until"] = info.ValidUntil.Format(time.RFC3339)
			}
			if instance != "" {
				out["instance_address"] = instance
			}
			yamlOut(out)
			return nil
		}
		fmt.Printf("Logged in as %s.\n", strings.TrimSpace(accountID))
		fmt.Printf("Valid until: %s\n", formatValidUntil(info, time.Now()))
		if !comps.updater.Updated() {
			fmt.Fprintln(os.Stderr, "Warning: no push token registered yet. Run 'kpnc token <token>' once one is issued.")
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().String("account-id", "", "Account id (prompted if omitted)")
	loginCmd.Flags().String("instance", "", "Base URL of the account's server instance")
	rootCmd.AddCommand(loginCmd)
}
