package cli

import (
	"github.com/spf13/cobra"

	"spreadwatch/internal/market"
)

var (
	tokenAddress     string
	tokenChain       string
	tokenDescription string
)

var tokensCmd = &cobra.Command{
	Use:   "tokens",
	Short: "Manage the monitored token registry",
}

var tokensListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered tokens",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().ListTokens(cmd.Context())
	},
}

var tokensAddCmd = &cobra.Command{
	Use:   "add SYMBOL",
	Short: "Register a token by contract address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().AddToken(cmd.Context(), market.Token{
			Symbol:      args[0],
			Address:     tokenAddress,
			Chain:       tokenChain,
			Description: tokenDescription,
		})
	},
}

var tokensRemoveCmd = &cobra.Command{
	Use:   "remove SYMBOL",
	Short: "Remove a token from the registry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().RemoveToken(cmd.Context(), args[0])
	},
}

func init() {
	tokensAddCmd.Flags().StringVar(&tokenAddress, "address", "", "Contract address (EVM hex or Solana base58)")
	tokensAddCmd.Flags().StringVar(&tokenChain, "chain", "", "Chain hint (bsc, ethereum, solana, ...)")
	tokensAddCmd.Flags().StringVar(&tokenDescription, "description", "", "Free-form note")
	_ = tokensAddCmd.MarkFlagRequired("address")

	tokensCmd.AddCommand(tokensListCmd, tokensAddCmd, tokensRemoveCmd)
}
