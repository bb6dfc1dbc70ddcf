package discovery

import (
	"encoding/json"
	"io/ioutil"
	"net"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/protocol"
)

func testLogger() *logrus.Entry {
	log := logrus.New()
	log.SetOutput(ioutil.Discard)
	return logrus.NewEntry(log)
}

func TestResponderAnswersDiscoverProbe(t *testing.T) {
	info := Info{Hostname: "agent-1", Port: 7700, WSMain: 7710, WSStats: 7711, WSFiles: 7712, WSDesktop: 7713}
	r, err := Listen("127.0.0.1:0", info, testLogger())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer r.Close()

	go r.Serve()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("client listen failed: %v", err)
	}
	defer client.Close()

	if _, err := client.WriteTo([]byte(protocol.DiscoverProbe), r.conn.LocalAddr()); err != nil {
		t.Fatalf("write probe failed: %v", err)
	}

	buf := make([]byte, 1024)
	_ = client.SetReadDeadline(time.Now().Add(2 * time.Second))
	n, _, err := client.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("expected a response, got error: %v", err)
	}

	var resp protocol.DiscoveryResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		t.Fatalf("failed to unmarshal response: %v", err)
	}
	if resp.Type != protocol.ResponseType {
		t.Errorf("expected type %q, got %q", protocol.ResponseType, resp.Type)
	}
	if resp.Hostname != "agent-1" {
		t.Errorf("expected hostname agent-1, got %q", resp.Hostname)
	}
	if resp.WSMain != 7710 {
		t.Errorf("expected ws_main 7710, got %d", resp.WSMain)
	}
}

func TestResponderIgnoresOtherPayloads(t *testing.T) {
	info := Info{Hostname: "agent-1", Port: 7700}
	r, err := Listen("127.0.0.1:0", info, testLogger())
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer r.Close()

	go r.Serve()

	client, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP("127.0.0.1")})
	if err != nil {
		t.Fatalf("client listen failed: %v", err)
	}
	defer client.Close()

	if _, err := client.WriteTo([]byte("not a probe"), r.conn.LocalAddr()); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	buf := make([]byte, 64)
	_ = client.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
	if _, _, err := client.ReadFromUDP(buf); err == nil {
		t.Error("expected no reply to a non-probe datagram")
	}
}
