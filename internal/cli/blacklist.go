package cli

import (
	"github.com/spf13/cobra"
)

var blacklistCmd = &cobra.Command{
	Use:   "blacklist",
	Short: "Exclude tokens from monitoring",
}

var blacklistAddCmd = &cobra.Command{
	Use:   "add SYMBOL",
	Short: "Stop alerting on a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().BlacklistAdd(cmd.Context(), args[0])
	},
}

var blacklistRemoveCmd = &cobra.Command{
	Use:   "remove SYMBOL",
	Short: "Re-admit a token",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().BlacklistRemove(cmd.Context(), args[0])
	},
}

var blacklistListCmd = &cobra.Command{
	Use:   "list",
	Short: "Print blacklisted symbols",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().BlacklistList(cmd.Context())
	},
}

func init() {
	blacklistCmd.AddCommand(blacklistAddCmd, blacklistRemoveCmd, blacklistListCmd)
}
