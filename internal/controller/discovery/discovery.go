// Package discovery implements the controller's UDP discovery client: three
// broadcast-and-poll rounds, deduplicated by source IP, falling back to
// static configuration when nothing answers.
package discovery

import (
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/controller/config"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

// DefaultPort is the agent-side discovery responder's default UDP port.
const DefaultPort = 7701

const broadcastAddr = "255.255.255.255"

// Agent is one discovered (or statically configured) agent endpoint.
type Agent struct {
	Hostname  string
	IP        string
	Port      int
	WSMain    int
	WSStats   int
	WSFiles   int
	WSDesktop int
}

// Discover runs the broadcast-and-poll protocol for cfg.DiscoveryRounds
// rounds of cfg.DiscoveryWindowMS each, and returns the deduplicated agent
// set. If nothing answers, it falls back to cfg.FallbackAgents.
func Discover(cfg *config.Config, log *logrus.Entry) ([]Agent, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{})
	if err != nil {
		return nil, fmt.Errorf("opening discovery socket: %w", err)
	}
	defer conn.Close()

	if err := enableBroadcast(conn); err != nil {
		log.WithError(err).Warn("failed to enable broadcast; subnet sweep still runs")
	}

	rounds := cfg.DiscoveryRounds
	if rounds <= 0 {
		rounds = 3
	}
	window := time.Duration(cfg.DiscoveryWindowMS) * time.Millisecond
	if window <= 0 {
		window = 500 * time.Millisecond
	}

	seen := make(map[string]Agent)
	for round := 0; round < rounds; round++ {
		if err := sendProbes(conn, cfg.SubnetPrefix); err != nil {
			log.WithError(err).Debug("probe send error")
		}
		collectReplies(conn, window, seen, log)
	}

	if len(seen) == 0 {
		log.Info("discovery found no agents, using fallback list")
		return fallbackAgents(cfg), nil
	}

	out := make([]Agent, 0, len(seen))
	for _, a := range seen {
		out = append(out, a)
	}
	return out, nil
}

func fallbackAgents(cfg *config.Config) []Agent {
	out := make([]Agent, 0, len(cfg.FallbackAgents))
	for _, fa := range cfg.FallbackAgents {
		out = append(out, Agent{Hostname: fa.Name, IP: fa.Host, Port: fa.Port})
	}
	return out
}

// sendProbes sends the probe to the LAN broadcast address and, if
// subnetPrefixes is set (comma-separated /24 prefixes), to every host in
// each of those subnets. A broadcast failure (e.g. no permission to
// broadcast in this network namespace) does not prevent the subnet sweep
// from running — the two are independent delivery paths.
func sendProbes(conn *net.UDPConn, subnetPrefixes string) error {
	probe := []byte(protocol.DiscoverProbe)

	dst := &net.UDPAddr{IP: net.ParseIP(broadcastAddr), Port: DefaultPort}
	_, broadcastErr := conn.WriteToUDP(probe, dst)

	for _, prefix := range strings.Split(subnetPrefixes, ",") {
		prefix = strings.TrimSpace(prefix)
		if prefix == "" {
			continue
		}
		for host := 1; host < 255; host++ {
			addr := &net.UDPAddr{IP: net.ParseIP(fmt.Sprintf("%s.%d", prefix, host)), Port: DefaultPort}
			conn.WriteToUDP(probe, addr) // best-effort; unreachable hosts are expected
		}
	}

	if broadcastErr != nil {
		return fmt.Errorf("broadcasting probe: %w", broadcastErr)
	}
	return nil
}

func collectReplies(conn *net.UDPConn, window time.Duration, seen map[string]Agent, log *logrus.Entry) {
	deadline := time.Now().Add(window)
	buf := make([]byte, 1024)

	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return
		}
		conn.SetReadDeadline(time.Now().Add(remaining))

		n, src, err := conn.ReadFromUDP(buf)
		if err != nil {
			return // deadline exceeded or socket error; round is over
		}

		var resp protocol.DiscoveryResponse
		if err := json.Unmarshal(buf[:n], &resp); err != nil {
			log.WithError(err).Debug("malformed discovery reply")
			continue
		}
		if resp.Type != protocol.ResponseType {
			continue
		}

		ip := src.IP.String()
		if _, dup := seen[ip]; dup {
			continue
		}
		seen[ip] = Agent{
			Hostname:  resp.Hostname,
			IP:        ip,
			Port:      resp.Port,
			WSMain:    resp.WSMain,
			WSStats:   resp.WSStats,
			WSFiles:   resp.WSFiles,
			WSDesktop: resp.WSDesktop,
		}
	}
}
