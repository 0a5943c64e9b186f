package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	rootCmd    = &cobra.Command{
		Use:   "gtcycle",
		Short: "Gastown test cycle runner - Agent workloads under full telemetry",
		Long: `gtcycle runs complete Gastown test cycles against a local OpenTelemetry
stack. Each run resets the telemetry backends and the town, brings both up,
hands a workload prompt to the Mayor, waits for the convoy to land, and
collects metrics, log counts, and recommendations into a per-run report
bundle.`,
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
