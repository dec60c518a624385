package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "diagdash",
	Short: "ECU diagnostic tool",
	Long: `diagdash - a bench and in-vehicle ECU diagnostic tool.

Serves a touchscreen-friendly web dashboard with live sensor data, DTC
read/clear, a vehicle systems catalog, and an RPM simulator with
configurable crank/cam trigger wheels.

Run 'diagdash serve' to start the dashboard, or 'diagdash pattern' to
print trigger-wheel tooth patterns from the command line.`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/diagdash/config.yaml", "Path to config file")
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
