package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rabdya767/Stock-ATH-Alert/internal/app"
)

var (
	simulateATH     float64
	simulateCurrent float64
	simulateName    string
	simulateChannel string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "模拟一次 ATH 回撤并触发告警",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateATH <= 0 || simulateCurrent <= 0 {
			return errors.New("--ath 与 --current 必须大于 0")
		}

		_, err := getApp().SimulateAlert(cmd.Context(), app.SimulateOptions{
			Name:    simulateName,
			ATH:     decimal.NewFromFloat(simulateATH),
			Current: decimal.NewFromFloat(simulateCurrent),
			Channel: simulateChannel,
		})
		return err
	},
}

func init() {
	simulateCmd.Flags().Float64Var(&simulateATH, "ath", 0, "历史最高价")
	simulateCmd.Flags().Float64Var(&simulateCurrent, "current", 0, "当前价格")
	simulateCmd.Flags().StringVar(&simulateName, "name", "", "模拟标的名称")
	simulateCmd.Flags().StringVar(&simulateChannel, "channel", "", "告警通道 (stdout, email, telegram)")
}
