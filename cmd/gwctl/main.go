package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	if err := rootCmd(newApp()).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:           "gwctl",
		Short:         "gwctl - run payment gateway operations from the command line",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	a.bindFlags(root)

	root.AddCommand(
		a.saleCmd("purchase", "Authorize and capture in one step"),
		a.saleCmd("authorize", "Reserve funds on a payment method"),
		a.saleCmd("credit", "Send funds to a payment method without a prior transaction"),
		a.followUpCmd("capture", "Capture a prior authorization", true),
		a.followUpCmd("refund", "Refund a prior capture or purchase", true),
		a.followUpCmd("void", "Cancel a prior transaction", false),
		a.methodCmd("verify", "Check a payment method without moving funds"),
		a.methodCmd("store", "Vault a payment method and print its token"),
		a.unstoreCmd(),
		a.updateCmd(),
		a.scrubCmd(),
		a.lifecycleCmd(),
		a.gatewaysCmd(),
	)
	return root
}
