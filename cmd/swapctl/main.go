// Package main provides swapctl, the command-line client of swapd.
package main

import "os"

func main() {
	if err := Execute(); err != nil {
		os.Exit(1)
	}
}
