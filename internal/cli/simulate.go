package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"spreadwatch/internal/app"
)

var (
	simulateToken string
	simulateCEX   float64
	simulateDEX   float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次 CEX/DEX 价差并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateCEX <= 0 || simulateDEX <= 0 {
			return errors.New("--cex 与 --dex 必须大于 0")
		}

		return getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Token:    simulateToken,
			Streamed: decimal.NewFromFloat(simulateCEX),
			Polled:   decimal.NewFromFloat(simulateDEX),
		})
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateToken, "token", "TEST", "Token symbol used in the alert")
	simulateCmd.Flags().Float64Var(&simulateCEX, "cex", 0, "交易所永续合约价格")
	simulateCmd.Flags().Float64Var(&simulateDEX, "dex", 0, "链上 DEX 价格")
}
