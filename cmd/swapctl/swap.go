package main

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-swap/internal/rpc"
	"github.com/klingon-exchange/klingon-swap/internal/swap"
)

var (
	initiateParams rpc.SwapInitiateParams
	giveLegs       []string
	wantLegs       []string
	secretHex      string
	secretScheme   string
	showTrail      bool
	listParams     rpc.SwapListParams
)

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Generate a fresh secret and its commitment",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.SwapNewSecretResult
		if err := call("swap_newSecret", rpc.SwapNewSecretParams{Scheme: secretScheme}, &res); err != nil {
			return err
		}
		render(res, func() {
			fmt.Printf("\n  Scheme:     %s\n", res.Scheme)
			fmt.Printf("  Secret:     %s\n", color.RedString(res.Secret))
			fmt.Printf("  Commitment: %s\n\n", color.CyanString(res.Commitment))
			color.Yellow("Keep the secret private until you complete the swap.\n")
		})
		return nil
	},
}

var initiateCmd = &cobra.Command{
	Use:   "initiate",
	Short: "Escrow the initiator's legs and open a swap",
	Long: `Open a swap. The initiator's legs (--give) are pulled into custody now;
the participant's legs (--want) move when the swap is completed.

Legs are written ledger:asset[:quantity] and may be repeated to form a bundle.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var err error
		p := initiateParams
		if p.InitiatorLegs, err = parseLegs(giveLegs); err != nil {
			return err
		}
		if p.ParticipantLegs, err = parseLegs(wantLegs); err != nil {
			return err
		}

		var res rpc.SwapInitiateResult
		if err := call("swap_initiate", p, &res); err != nil {
			return err
		}
		render(res, func() {
			printSuccess("Swap initiated")
			fmt.Printf("\n  ID:       %s\n", color.CyanString(res.ID))
			fmt.Printf("  Deadline: %s\n\n", res.Deadline.Local().Format(time.RFC1123))
		})
		return nil
	},
}

var completeCmd = &cobra.Command{
	Use:   "complete <swap-id>",
	Short: "Reveal the secret and settle a swap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.SwapTransitionResult
		if err := call("swap_complete", rpc.SwapCompleteParams{ID: args[0], Caller: callerFlag, Secret: secretHex}, &res); err != nil {
			return err
		}
		render(res, func() { printSuccess(fmt.Sprintf("Swap %s completed", res.ID)) })
		return nil
	},
}

var refundCmd = &cobra.Command{
	Use:   "refund <swap-id>",
	Short: "Return custody to the initiator after the deadline",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.SwapTransitionResult
		if err := call("swap_refund", rpc.SwapRefundParams{ID: args[0], Caller: callerFlag}, &res); err != nil {
			return err
		}
		render(res, func() { printSuccess(fmt.Sprintf("Swap %s refunded", res.ID)) })
		return nil
	},
}

var getCmd = &cobra.Command{
	Use:   "get <swap-id>",
	Short: "Show a swap",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.SwapGetResult
		if err := call("swap_get", rpc.SwapGetParams{ID: args[0], Trail: showTrail}, &res); err != nil {
			return err
		}
		render(res, func() {
			displaySwap(res.SwapView)
			if len(res.Trail) > 0 {
				fmt.Println("  Trail:")
				for _, e := range res.Trail {
					fmt.Printf("    %s  %-10s %s\n", e.At.Local().Format(time.DateTime), e.Type, e.Actor)
				}
				fmt.Println()
			}
		})
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List swaps",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var res rpc.SwapListResult
		if err := call("swap_list", listParams, &res); err != nil {
			return err
		}
		render(res, func() {
			if res.Count == 0 {
				color.Yellow("No swaps found.\n")
				return
			}
			fmt.Println()
			for _, v := range res.Swaps {
				fmt.Printf("  %s  %-20s %s -> %s  deadline %s\n",
					v.ID, stateColor(v.State), v.Initiator, v.Participant, v.Deadline.Local().Format(time.DateTime))
			}
			fmt.Printf("\n  %d swap(s)\n\n", res.Count)
		})
		return nil
	},
}

func displaySwap(v swap.SwapView) {
	fmt.Printf("\n  ID:          %s\n", color.CyanString(v.ID))
	fmt.Printf("  State:       %s\n", stateColor(v.State))
	fmt.Printf("  Initiator:   %s gives %s\n", v.Initiator, formatLegs(v.InitiatorLegs))
	fmt.Printf("  Participant: %s gives %s\n", v.Participant, formatLegs(v.ParticipantLegs))
	if v.Operator != "" {
		fmt.Printf("  Operator:    %s\n", v.Operator)
	}
	fmt.Printf("  Commitment:  %s (%s)\n", v.Commitment, v.Scheme)
	if v.Secret != "" {
		fmt.Printf("  Secret:      %s\n", v.Secret)
	}
	fmt.Printf("  Created:     %s\n", v.CreatedAt.Local().Format(time.DateTime))
	fmt.Printf("  Deadline:    %s (timeout %s)\n", v.Deadline.Local().Format(time.DateTime), v.Timeout)
	if v.FinalizedAt != nil {
		fmt.Printf("  Finalized:   %s\n", v.FinalizedAt.Local().Format(time.DateTime))
	}
	fmt.Println()
}

func init() {
	rootCmd.AddCommand(secretCmd, initiateCmd, completeCmd, refundCmd, getCmd, listCmd)

	secretCmd.Flags().StringVar(&secretScheme, "scheme", "", "Commitment scheme (sha256, sha256d, hash160, keccak256)")

	f := initiateCmd.Flags()
	f.StringVar(&initiateParams.Initiator, "initiator", "", "Initiator account (REQUIRED)")
	f.StringVar(&initiateParams.Participant, "participant", "", "Participant account (REQUIRED)")
	f.StringVar(&initiateParams.Operator, "operator", "", "Operator allowed to complete or refund")
	f.StringArrayVar(&giveLegs, "give", nil, "Initiator leg ledger:asset[:quantity], repeatable")
	f.StringArrayVar(&wantLegs, "want", nil, "Participant leg ledger:asset[:quantity], repeatable")
	f.StringVar(&initiateParams.Commitment, "commitment", "", "Hex commitment (REQUIRED)")
	f.StringVar(&initiateParams.Scheme, "scheme", "", "Commitment scheme (default: daemon default)")
	f.StringVar(&initiateParams.Timeout, "timeout", "1h", "Time until the swap can be refunded")
	initiateCmd.MarkFlagRequired("initiator")
	initiateCmd.MarkFlagRequired("participant")
	initiateCmd.MarkFlagRequired("commitment")

	completeCmd.Flags().StringVar(&callerFlag, "caller", "", "Calling account (participant or operator)")
	completeCmd.Flags().StringVar(&secretHex, "secret", "", "Hex secret (REQUIRED)")
	completeCmd.MarkFlagRequired("secret")
	refundCmd.Flags().StringVar(&callerFlag, "caller", "", "Calling account (initiator or operator)")

	getCmd.Flags().BoolVar(&showTrail, "trail", false, "Include the audit trail")

	listCmd.Flags().StringVar(&listParams.State, "state", "", "Filter by state (initiated, completed, refunded)")
	listCmd.Flags().StringVar(&listParams.Account, "account", "", "Filter by involved account")
	listCmd.Flags().IntVar(&listParams.Limit, "limit", 50, "Maximum number of swaps")
	listCmd.Flags().BoolVar(&listParams.Expired, "expired", false, "Only initiated swaps past their deadline")
}
