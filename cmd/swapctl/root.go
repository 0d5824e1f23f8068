package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/klingon-exchange/klingon-swap/internal/rpc"
)

var (
	rpcURL     string
	jsonOutput bool
	callerFlag string
)

var rootCmd = &cobra.Command{
	Use:   "swapctl",
	Short: "Control a swapd hash- and time-locked swap coordinator",
	Long: `swapctl talks to a running swapd over JSON-RPC.

Examples:
  swapctl secret
  swapctl approve gold alice X 100
  swapctl initiate --initiator alice --participant bob \
      --give gold:X:100 --want silver:Y:50 --commitment 0x... --timeout 1h
  swapctl complete <swap-id> --caller bob --secret 0x...
  swapctl refund <swap-id> --caller alice
  swapctl list --state initiated`,
	Version:       "0.1.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command
func Execute() error {
	err := rootCmd.Execute()
	if err != nil {
		printError(err)
	}
	return err
}

func init() {
	rootCmd.PersistentFlags().StringVar(&rpcURL, "rpc", "http://127.0.0.1:8645", "swapd JSON-RPC URL")
	rootCmd.PersistentFlags().BoolVarP(&jsonOutput, "json", "j", false, "Output in JSON format")
}

// call runs one JSON-RPC request with a timeout.
func call(method string, params, result interface{}) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return rpc.NewClient(rpcURL).Call(ctx, method, params, result)
}

// render prints v as JSON when --json is set, otherwise calls human.
func render(v interface{}, human func()) {
	if jsonOutput {
		data, _ := json.MarshalIndent(v, "", "  ")
		fmt.Println(string(data))
		return
	}
	human()
}

var kindLabels = map[int]string{
	rpc.ValidationError:    "invalid request",
	rpc.AuthorizationError: "not authorized",
	rpc.StateError:         "wrong swap state",
	rpc.CommitmentError:    "secret does not match",
	rpc.TimingError:        "timelock",
	rpc.TransferError:      "transfer failed",
}

func printError(err error) {
	var rpcErr *rpc.Error
	if errors.As(err, &rpcErr) {
		if label, ok := kindLabels[rpcErr.Code]; ok {
			fmt.Fprintf(os.Stderr, "\n%s %s\n\n", color.RedString("Error (%s):", label), rpcErr.Message)
			return
		}
	}
	fmt.Fprintf(os.Stderr, "\n%s %v\n\n", color.RedString("Error:"), err)
}

func printSuccess(message string) {
	color.Green("\n✓ %s\n", message)
}

func stateColor(state string) string {
	switch state {
	case "completed":
		return color.GreenString(state)
	case "refunded":
		return color.YellowString(state)
	default:
		return color.CyanString(state)
	}
}
