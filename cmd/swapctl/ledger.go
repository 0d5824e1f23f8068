package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-swap/internal/rpc"
	"github.com/klingon-exchange/klingon-swap/pkg/helpers"
)

// amountDecimals scales decimal amounts such as "1.5" into smallest units.
var amountDecimals uint8

var balanceCmd = &cobra.Command{
	Use:   "balance <ledger> <account> <asset>",
	Short: "Show a balance and the allowance granted to custody",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.LedgerBalanceResult
		if err := call("ledger_balance", rpc.LedgerBalanceParams{Ledger: args[0], Account: args[1], Asset: args[2]}, &res); err != nil {
			return err
		}
		render(res, func() {
			fmt.Printf("\n  %s %s on %s: %s (allowance %d)\n\n",
				res.Account, res.Asset, res.Ledger, color.GreenString(res.Formatted), res.Allowance)
		})
		return nil
	},
}

var approveCmd = &cobra.Command{
	Use:   "approve <ledger> <owner> <asset> <amount>",
	Short: "Authorize custody to move an owner's asset",
	Args:  cobra.ExactArgs(4),
	RunE: func(cmd *cobra.Command, args []string) error {
		amount, err := helpers.ParseAmount(args[3], amountDecimals)
		if err != nil {
			return fmt.Errorf("invalid amount: %w", err)
		}
		p := rpc.LedgerApproveParams{Ledger: args[0], Owner: args[1], Asset: args[2], Amount: amount}
		var res rpc.LedgerOKResult
		if err := call("ledger_approve", p, &res); err != nil {
			return err
		}
		render(res, func() { printSuccess(fmt.Sprintf("Custody may move %d %s of %s", amount, p.Asset, p.Owner)) })
		return nil
	},
}

var mintCmd = &cobra.Command{
	Use:   "mint <ledger> <account> <asset> [quantity]",
	Short: "Mint units on a ledger that allows it",
	Args:  cobra.RangeArgs(3, 4),
	RunE: func(cmd *cobra.Command, args []string) error {
		quantity := uint64(1)
		if len(args) == 4 {
			q, err := helpers.ParseAmount(args[3], amountDecimals)
			if err != nil {
				return fmt.Errorf("invalid quantity: %w", err)
			}
			quantity = q
		}
		p := rpc.LedgerMintParams{Ledger: args[0], Account: args[1], Asset: args[2], Quantity: quantity}
		var res rpc.LedgerOKResult
		if err := call("ledger_mint", p, &res); err != nil {
			return err
		}
		render(res, func() { printSuccess(fmt.Sprintf("Minted %d %s to %s", quantity, p.Asset, p.Account)) })
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show daemon information",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.NodeInfoResult
		if err := call("node_info", nil, &res); err != nil {
			return err
		}
		render(res, func() {
			fmt.Printf("\n  Version:    %s (up %s)\n", res.Version, res.Uptime)
			fmt.Printf("  Backend:    %s %s\n", res.Backend, res.DataDir)
			fmt.Printf("  Custody:    %s\n", color.CyanString(res.CustodyAccount))
			fmt.Printf("  Ledgers:    %v\n", res.Ledgers)
			fmt.Printf("  Schemes:    id %s, commitment %s\n", res.IDScheme, res.DefaultScheme)
			fmt.Printf("  Open swaps: %d | WS clients: %d\n\n", res.OpenSwaps, res.WSClients)
		})
		return nil
	},
}

func init() {
	for _, c := range []*cobra.Command{approveCmd, mintCmd} {
		c.Flags().Uint8Var(&amountDecimals, "decimals", 0, "Decimal places of the asset when the amount has a fraction")
	}
	rootCmd.AddCommand(balanceCmd, approveCmd, mintCmd, infoCmd)
}
