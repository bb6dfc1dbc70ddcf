// Package fleet holds the controller's in-memory model of discovered
// agents, the operator's selection, and the tasks dispatched against them.
// It is the state the TUI renders and records joint-exec results into,
// guarded by a single mutex covering all fields.
package fleet

import (
	"strconv"
	"sync"

	"github.com/sourcegraph/conc/pool"

	"github.com/otusfleet/fleetctl/internal/controller/client"
	"github.com/otusfleet/fleetctl/internal/controller/discovery"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

// Agent is one fleet member as the controller sees it: an address to dial
// plus the latest stats sample merged in by a refresher.
type Agent struct {
	Name   string
	Addr   string
	Stats  protocol.StatsSnapshot
	Client *client.Client
}

// TaskState mirrors a dispatched task's last known state.
type TaskState string

const (
	TaskRunning  TaskState = "running"
	TaskFinished TaskState = "finished"
	TaskError    TaskState = "error"
)

// Task is one joint-exec or single-agent task the controller launched and
// is tracking. AgentName ties it back to the Agent it ran on — an addition
// over the bare per-agent task id, needed once a task table spans more than
// one agent.
type Task struct {
	ID        uint64
	AgentName string
	Command   string
	State     TaskState
	Error     string
}

// Model is the controller's full fleet state: agent list (immutable after
// Init), selection bitmap, task table, and last stats per agent.
type Model struct {
	mu sync.Mutex

	agents   []*Agent
	selected []bool
	tasks    []Task
}

// Init builds a Model from a discovery result. The agent list is immutable
// for the Model's lifetime; only Toggle, AddTask, RefreshTasks, and
// RefreshStats mutate anything after this point.
func Init(found []discovery.Agent) *Model {
	agents := make([]*Agent, 0, len(found))
	for _, a := range found {
		name := a.Hostname
		if name == "" {
			name = a.IP
		}
		agents = append(agents, &Agent{
			Name:   name,
			Addr:   addrOf(a),
			Client: client.New(addrOf(a)),
		})
	}
	return &Model{agents: agents, selected: make([]bool, len(agents))}
}

func addrOf(a discovery.Agent) string {
	return a.IP + ":" + itoa(a.Port)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// Agents returns a snapshot copy of the agent list, safe to range over
// without holding the model's lock.
func (m *Model) Agents() []Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Agent, len(m.agents))
	for i, a := range m.agents {
		out[i] = *a
	}
	return out
}

// Tasks returns a snapshot copy of the task table.
func (m *Model) Tasks() []Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Task, len(m.tasks))
	copy(out, m.tasks)
	return out
}

// AgentByName returns the agent with the given name, for callers (the TUI's
// log viewer) that only have a task's AgentName to go on.
func (m *Model) AgentByName(name string) (Agent, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.agents {
		if a.Name == name {
			return *a, true
		}
	}
	return Agent{}, false
}

// Selected returns the indices of currently-selected agents, in agent-list
// order — the order of the targets handed to the joint executor.
func (m *Model) Selected() []int {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int
	for i, sel := range m.selected {
		if sel {
			out = append(out, i)
		}
	}
	return out
}

// Toggle flips the selection bit for agent index i. Out-of-range indices
// are ignored rather than panicking — the TUI is the only caller and it
// only ever passes a currently-rendered row index.
func (m *Model) Toggle(i int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if i < 0 || i >= len(m.selected) {
		return
	}
	m.selected[i] = !m.selected[i]
}

// AddTask records a newly dispatched task. Called by the UI's background
// exec command once the joint executor returns, so it takes the model lock
// itself rather than assuming the caller holds it.
func (m *Model) AddTask(t Task) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks = append(m.tasks, t)
}

// RefreshTasks issues one /tasks request per agent and folds the results
// into the task table: a returned (id, running) pair updates the matching
// local task with the same id and agent name. Tasks the agent reports that
// the controller never launched are ignored; tasks the controller knows
// about that the agent stops reporting are left at their last known state.
func (m *Model) RefreshTasks() {
	agents := m.Agents()

	type agentTasks struct {
		name  string
		snaps []taskSnapshot
	}
	results := make([]agentTasks, len(agents))

	p := pool.New().WithMaxGoroutines(8)
	for i, a := range agents {
		i, a := i, a
		p.Go(func() {
			var snaps []taskSnapshot
			if err := a.Client.Call("GET", "/tasks", nil, &snaps); err == nil {
				results[i] = agentTasks{name: a.Name, snaps: snaps}
			} else {
				results[i] = agentTasks{name: a.Name}
			}
		})
	}
	p.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	byKey := make(map[string]int, len(m.tasks))
	for idx, t := range m.tasks {
		byKey[taskKey(t.AgentName, t.ID)] = idx
	}
	for _, r := range results {
		for _, s := range r.snaps {
			idx, known := byKey[taskKey(r.name, s.ID)]
			if !known {
				continue
			}
			if s.Running {
				m.tasks[idx].State = TaskRunning
			} else if m.tasks[idx].State == TaskRunning {
				m.tasks[idx].State = TaskFinished
			}
		}
	}
}

func taskKey(agentName string, id uint64) string {
	return agentName + "|" + strconv.FormatUint(id, 10)
}

type taskSnapshot struct {
	ID      uint64 `json:"id"`
	Command string `json:"command"`
	Running bool   `json:"running"`
}

// RefreshStats issues one /stats request per agent and installs the result
// (or the unreachable sentinel, on any failure) into that agent's Stats
// field.
func (m *Model) RefreshStats() {
	agents := m.Agents()

	stats := make([]protocol.StatsSnapshot, len(agents))
	p := pool.New().WithMaxGoroutines(8)
	for i, a := range agents {
		i, a := i, a
		p.Go(func() {
			var s protocol.StatsSnapshot
			if err := a.Client.Call("GET", "/stats", nil, &s); err != nil {
				stats[i] = protocol.UnreachableSnapshot()
				return
			}
			stats[i] = s
		})
	}
	p.Wait()

	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.agents {
		if i < len(stats) {
			m.agents[i].Stats = stats[i]
		}
	}
}
