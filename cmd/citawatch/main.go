// citawatch polls a visa appointment portal for earlier slots and moves
// the booked appointment when one is found.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "citawatch",
	Short: "Watch a visa appointment portal for earlier slots",
	Long: `citawatch polls the appointment portal for a configured embassy and
reschedules the booked consular appointment (and its dependent CAS
appointment) to an earlier slot as soon as one inside the configured
date window opens up.

Configuration is read from the CITAWATCH_* environment variables (and
an optional .env file).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(facilitiesCmd)
	rootCmd.AddCommand(historyCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
