// Command fleetctl is the fleet controller: it discovers agents, builds the
// fleet model, and hands control to the interactive TUI. There is no
// scripted subcommand surface — the binary always starts the interactive
// view, per the controller's CLI contract.
package main

import (
	"flag"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	controllerconfig "github.com/otusfleet/fleetctl/internal/controller/config"
	"github.com/otusfleet/fleetctl/internal/controller/discovery"
	"github.com/otusfleet/fleetctl/internal/controller/fleet"
	"github.com/otusfleet/fleetctl/internal/controller/tui"
	"github.com/otusfleet/fleetctl/internal/logging"
)

func main() {
	configFile := flag.String("config", "", "config file path (YAML); defaults and env vars apply when omitted")
	flag.StringVar(configFile, "c", "", "shorthand for -config")
	flag.Parse()

	cfg, err := controllerconfig.Load(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log, "fleetctl")

	log.Info("discovering agents")
	found, err := discovery.Discover(cfg, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: discovery failed: %v\n", err)
		os.Exit(1)
	}
	log.WithField("count", len(found)).Info("discovery complete")

	model := fleet.Init(found)

	program := tea.NewProgram(tui.New(model, log), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "fleetctl: %v\n", err)
		os.Exit(1)
	}
	os.Exit(0)
}
