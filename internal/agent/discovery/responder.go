// Package discovery implements the agent's UDP probe responder, grounded on
// a bind-loop-decode-reply socket handling style (bind, loop, decode,
// dispatch) adapted from a Unix control socket to a UDP broadcast listener.
package discovery

import (
	"encoding/json"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/protocol"
)

// Info is the static, pre-computed response payload this agent always
// replies with — built once at startup from its config and the stream
// server's bound ports.
type Info struct {
	Hostname  string
	Port      int
	WSMain    int
	WSStats   int
	WSFiles   int
	WSDesktop int
}

// Responder binds a UDP socket and answers DISCOVER_SERVER probes. It never
// closes the socket for the agent's lifetime.
type Responder struct {
	conn *net.UDPConn
	log  *logrus.Entry
	info Info
}

// Listen binds the discovery UDP port. The caller should run Serve in its
// own goroutine.
func Listen(addr string, info Info, log *logrus.Entry) (*Responder, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, err
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, err
	}
	return &Responder{conn: conn, log: log.WithField("component", "discovery"), info: info}, nil
}

// Serve blocks, reading datagrams until the socket is closed. Any payload
// other than the literal DISCOVER_SERVER probe is silently dropped.
func (r *Responder) Serve() {
	buf := make([]byte, 256)
	for {
		n, src, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		if string(buf[:n]) != protocol.DiscoverProbe {
			continue
		}
		r.reply(src)
	}
}

func (r *Responder) reply(src *net.UDPAddr) {
	resp := protocol.DiscoveryResponse{
		Type:      protocol.ResponseType,
		Hostname:  r.info.Hostname,
		IP:        src.IP.String(),
		Port:      r.info.Port,
		WSMain:    r.info.WSMain,
		WSStats:   r.info.WSStats,
		WSFiles:   r.info.WSFiles,
		WSDesktop: r.info.WSDesktop,
	}
	data, err := json.Marshal(resp)
	if err != nil {
		r.log.WithError(err).Warn("failed to marshal discovery response")
		return
	}
	if _, err := r.conn.WriteToUDP(data, src); err != nil {
		r.log.WithError(err).Debug("failed to send discovery response")
	}
}

// Close closes the underlying socket; only used during agent shutdown.
func (r *Responder) Close() error {
	return r.conn.Close()
}
