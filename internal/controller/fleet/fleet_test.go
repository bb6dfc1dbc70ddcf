package fleet

import (
	"bufio"
	"net"
	"strconv"
	"testing"

	"github.com/otusfleet/fleetctl/internal/controller/discovery"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

// fakeRouter answers every request on its listener with a fixed envelope,
// one request per connection, mirroring the real agent router's framing.
type fakeRouter struct {
	ln  net.Listener
	out []byte
}

func startFakeRouter(t *testing.T, out []byte) *fakeRouter {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to listen: %v", err)
	}
	fr := &fakeRouter{ln: ln, out: out}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				if _, err := protocol.ReadRequest(bufio.NewReader(conn)); err != nil {
					return
				}
				protocol.WriteResponse(conn, fr.out)
			}()
		}
	}()
	return fr
}

func (fr *fakeRouter) port(t *testing.T) int {
	t.Helper()
	_, portStr, err := net.SplitHostPort(fr.ln.Addr().String())
	if err != nil {
		t.Fatalf("failed to split addr: %v", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("failed to parse port: %v", err)
	}
	return port
}

func TestRefreshStatsInstallsSentinelOnFailure(t *testing.T) {
	m := Init([]discovery.Agent{{Hostname: "dead", IP: "127.0.0.1", Port: 1}})
	m.RefreshStats()
	agents := m.Agents()
	if agents[0].Stats.RAMTotalMB != 0 || agents[0].Stats.CPU != 0 {
		t.Errorf("expected unreachable sentinel, got %+v", agents[0].Stats)
	}
}

func TestRefreshStatsInstallsLiveSample(t *testing.T) {
	body, _ := protocol.MarshalEnvelope(true, nil, protocol.StatsSnapshot{CPU: 42.5, RAMUsedMB: 100, RAMTotalMB: 200})
	fr := startFakeRouter(t, body)
	defer fr.ln.Close()

	m := Init([]discovery.Agent{{Hostname: "live", IP: "127.0.0.1", Port: fr.port(t)}})
	m.RefreshStats()

	agents := m.Agents()
	if agents[0].Stats.CPU != 42.5 || agents[0].Stats.RAMTotalMB != 200 {
		t.Errorf("expected live stats, got %+v", agents[0].Stats)
	}
}

func TestToggleSelection(t *testing.T) {
	m := Init([]discovery.Agent{{Hostname: "a", IP: "127.0.0.1", Port: 1}, {Hostname: "b", IP: "127.0.0.2", Port: 1}})
	if len(m.Selected()) != 0 {
		t.Fatal("expected no agents selected initially")
	}
	m.Toggle(1)
	sel := m.Selected()
	if len(sel) != 1 || sel[0] != 1 {
		t.Fatalf("expected only index 1 selected, got %v", sel)
	}
	m.Toggle(1)
	if len(m.Selected()) != 0 {
		t.Fatal("expected toggle to flip back off")
	}
}

func TestRefreshTasksIgnoresUnknownAgentTasks(t *testing.T) {
	body, _ := protocol.MarshalEnvelope(true, nil, []map[string]interface{}{
		{"id": 99, "command": "echo hi", "running": true},
	})
	fr := startFakeRouter(t, body)
	defer fr.ln.Close()

	m := Init([]discovery.Agent{{Hostname: "live", IP: "127.0.0.1", Port: fr.port(t)}})
	m.RefreshTasks()

	if len(m.Tasks()) != 0 {
		t.Fatalf("expected no local tasks to appear from an agent-only task id, got %v", m.Tasks())
	}
}

func TestRefreshTasksUpdatesKnownTask(t *testing.T) {
	body, _ := protocol.MarshalEnvelope(true, nil, []map[string]interface{}{
		{"id": 7, "command": "echo hi", "running": false},
	})
	fr := startFakeRouter(t, body)
	defer fr.ln.Close()

	m := Init([]discovery.Agent{{Hostname: "live", IP: "127.0.0.1", Port: fr.port(t)}})
	m.AddTask(Task{ID: 7, AgentName: "live", Command: "echo hi", State: TaskRunning})

	m.RefreshTasks()

	tasks := m.Tasks()
	if len(tasks) != 1 || tasks[0].State != TaskFinished {
		t.Fatalf("expected task 7 to transition to finished, got %+v", tasks)
	}
}
