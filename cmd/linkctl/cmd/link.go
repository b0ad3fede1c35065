package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/sandboxhq/devicelink/cmd/linkctl/client"
)

var linkCmd = &cobra.Command{
	Use:   "link",
	Short: "Manage device link flows",
}

var linkStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a flow and print the code to enter on the provider's device page",
	RunE: func(cmd *cobra.Command, args []string) error {
		provider, _ := cmd.Flags().GetString("provider")
		if provider == "" {
			return fmt.Errorf("--provider is required")
		}

		c := client.New(serverURL, authToken)
		resp, err := c.Initiate(cmd.Context(), provider)
		if err != nil {
			return err
		}

		fmt.Printf("Flow:     %s\n", resp.FlowID)
		fmt.Printf("Code:     %s\n", resp.UserCode)
		fmt.Printf("Open:     %s\n", resp.VerificationURI)
		fmt.Printf("Expires:  %s\n", resp.ExpiresAt.Local().Format(time.RFC1123))
		fmt.Printf("\nRun 'linkctl link wait %s' to poll until the flow resolves.\n", resp.FlowID)

		return nil
	},
}

var linkWaitCmd = &cobra.Command{
	Use:   "wait <flow-id>",
	Short: "Poll a flow until it reaches a terminal status",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetInt("interval")
		if interval <= 0 {
			interval = 5
		}

		c := client.New(serverURL, authToken)
		for {
			resp, err := c.Poll(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			switch resp.Status {
			case "completed":
				fmt.Println("Credential linked.")
				return nil
			case "expired":
				return fmt.Errorf("flow expired before authorization, start a new one")
			case "error":
				return fmt.Errorf("flow failed: %s", resp.Error)
			}

			select {
			case <-cmd.Context().Done():
				return cmd.Context().Err()
			case <-time.After(time.Duration(interval) * time.Second):
			}
		}
	},
}

var linkStatusCmd = &cobra.Command{
	Use:   "status <flow-id>",
	Short: "Show a flow's status without polling the upstream",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL, authToken)
		resp, err := c.Status(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		fmt.Println(resp.Status)
		if resp.Error != "" {
			fmt.Println(resp.Error)
		}

		return nil
	},
}

var linkCancelCmd = &cobra.Command{
	Use:   "cancel <flow-id>",
	Short: "Cancel a flow",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL, authToken)
		if err := c.Cancel(cmd.Context(), args[0]); err != nil {
			return err
		}

		fmt.Println("Flow cancelled.")

		return nil
	},
}

func init() {
	linkStartCmd.Flags().String("provider", "", "provider id to link, e.g. ghcp")
	linkWaitCmd.Flags().Int("interval", 5, "seconds between polls")

	linkCmd.AddCommand(linkStartCmd, linkWaitCmd, linkStatusCmd, linkCancelCmd)
	rootCmd.AddCommand(linkCmd)
}
