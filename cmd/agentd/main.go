// Command agentd runs one fleet agent: task supervisor, metrics sampler,
// request router, stream transport, and discovery responder.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	agentconfig "github.com/otusfleet/fleetctl/internal/agent/config"
	"github.com/otusfleet/fleetctl/internal/agent/daemon"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:     "agentd",
	Short:   "Fleet control plane agent",
	Version: "0.1.0",
}

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run the agent in the foreground",
	Long: `Run the agent daemon in the foreground: load configuration, bind the
request router, discovery responder, and stream channels, start the metrics
sampler, and serve until SIGTERM/SIGINT. SIGHUP reloads configuration.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := daemon.New(configFile)
		if err != nil {
			return err
		}
		if err := d.Start(); err != nil {
			return err
		}
		return d.Run()
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file without starting the agent",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := agentconfig.Load(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "INVALID: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("VALID: node %s (%s), request port %d, storage root %s\n",
			cfg.Node.Hostname, cfg.Node.IP, cfg.Ports.Request, cfg.StorageRoot)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "",
		"config file path (YAML); defaults and env vars apply when omitted")
	rootCmd.AddCommand(daemonCmd)
	rootCmd.AddCommand(validateCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
