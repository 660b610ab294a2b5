package cmd

import (
	"fmt"

	"github.com/google/uuid"
	kpnc "github.com/slush-dev/kpnc"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored account and check it with the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		comps := mustComponents(ctx)

		userID, err := comps.store.Get(ctx, kpnc.KeyUserID)
		if err != nil {
			return err
		}
		instance, err := comps.store.Get(ctx, kpnc.KeyInstanceAddress)
		if err != nil {
			return err
		}
		token, err := comps.store.Get(ctx, kpnc.KeyToken)
		if err != nil {
			return err
		}

		res := comps.actions.Handle(ctx, kpnc.ActionRequest{ID: uuid.New(), Action: kpnc.ActionGetInfo})
		var info kpnc.InfoResult
		infoErr := res.Err
		if infoErr == nil {
			var doc kpnc.GenericResult
			if err := decodeJSON(res.Payload, &doc); err != nil {
				infoErr = err
			} else if err := decodeJSON(doc.Data, &info); err != nil {
				infoErr = err
			}
		}

		if useYAML {
			status := map[string]any{
				"session_dir":     sessionDir,
				"server_base_url": cfg.Server.BaseURL,
				"store_backend":   cfg.Store.Backend,
				"logged_in":       kpnc.IsAccountIDValid(userID),
				"has_token":       token != "",
			}
			if userID != "" {
				status["user_id"] = userID
			}
			if instance != "" {
				status["instance_address"] = instance
			}
			if infoErr != nil {
				status["server_error"] = kpnc.UserMessage(infoErr)
			} else {
				status["is_account_valid"] = info.IsAccountValid
			}
			yamlOut(status)
			return nil
		}

		fmt.Printf("Session dir:     %s\n", sessionDir)
		fmt.Printf("Server:          %s\n", cfg.Server.BaseURL)
		fmt.Printf("Store:           %s\n", cfg.Store.Backend)
		if !kpnc.IsAccountIDValid(userID) {
			fmt.Printf("Logged in:       no\n")
		} else {
			fmt.Printf("Logged in:       yes (%s)\n", userID)
		}
		if instance != "" {
			fmt.Printf("Instance:        %s\n", instance)
		}
		fmt.Printf("Push token:      %s\n", yesNo(token != ""))
		if infoErr != nil {
			fmt.Printf("Account:         error (%s)\n", kpnc.UserMessage(infoErr))
		} else {
			fmt.Printf("Account valid:   %s\n", yesNo(info.IsAccountValid))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
