package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"spreadwatch/internal/app"
)

var (
	showLimit   int
	showSamples bool
	showToken   string
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display recent alerts or spread samples",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Limit:   showLimit,
			Samples: showSamples,
			Token:   showToken,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
	showCmd.Flags().BoolVar(&showSamples, "samples", false, "List recorded spread samples instead of alerts")
	showCmd.Flags().StringVar(&showToken, "token", "", "Restrict samples to one token")
}
