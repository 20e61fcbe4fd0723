// Sensornode runs a wireless sensor node and manages its stored state.
//
// The run command brings the node up: it loads the persistent config,
// attaches to the mesh gateway, publishes telemetry, and reacts to the
// provisioning button until it is stopped or asks to be restarted. The
// other commands inspect and change the same state offline.
//
// Usage:
//
//	sensornode [command] [flags]
//
// See 'sensornode --help' for available commands.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/muurk/sensornode/internal/config"
	"github.com/muurk/sensornode/internal/logging"
	"github.com/muurk/sensornode/internal/version"
)

func main() {
	err := rootCmd.Execute()
	logging.Sync()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var (
	settingsPath string
	logLevel     string

	settings *config.Settings
)

var rootCmd = &cobra.Command{
	Use:   "sensornode",
	Short: "Wireless sensor node",
	Long: `Runs a wireless sensor node and manages its persistent state.

Settings are read from sensornode.yaml in the working directory or the
config directory, and can be overridden with SENSORNODE_* environment
variables (e.g. SENSORNODE_MQTT_BROKER).`,
	Version:       version.Full(),
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := logging.Initialize(logLevel); err != nil {
			return err
		}
		s, err := config.Load(settingsPath)
		if err != nil {
			return err
		}
		settings = s
		return nil
	},
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	rootCmd.PersistentFlags().StringVar(&settingsPath, "config", "", "Settings file (default: search . and the config directory)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error); silent when empty")

	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		info := version.Get()
		fmt.Printf("sensornode %s\n", version.Full())
		if !info.Built.IsZero() {
			fmt.Printf("  built:    %s\n", info.Built.Format("2006-01-02 15:04:05 MST"))
		}
		fmt.Printf("  go:       %s\n", info.GoVersion)
		fmt.Printf("  platform: %s\n", info.Platform)
	},
}
