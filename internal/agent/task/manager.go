package task

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/apperr"
)

// Manager is the agent's task table: Submit assigns a fresh monotonic id,
// launches one supervisor goroutine per task, and tracks it until process
// shutdown. There is no persistence across restarts — task history
// persistence is out of scope.
//
// A single mutex guards the task map, with narrow critical sections and an
// explicit StopAll for shutdown, generalized here from a plugin-pipeline
// assembly to a plain child-process table.
type Manager struct {
	nextID atomic.Uint64

	mu    sync.Mutex
	tasks map[uint64]*Task

	bus Broadcaster
	log *logrus.Entry

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a task manager that publishes lifecycle events on bus.
func NewManager(bus Broadcaster, log *logrus.Entry) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		tasks:  make(map[uint64]*Task),
		bus:    bus,
		log:    log,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Submit assigns a fresh id, records the task RUNNING, and starts its
// supervisor goroutine. It returns before the child produces any output.
func (m *Manager) Submit(command string) uint64 {
	id := m.nextID.Add(1)
	t := newTask(id, command)

	m.mu.Lock()
	m.tasks[id] = t
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		t.run(m.ctx, m.bus, m.log.WithField("task_id", id))
	}()

	return id
}

// Kill requests termination of task id's process group. Returns not_found if
// the id is unknown. Success here never implies the process actually
// stopped — kill is fire-and-forget.
func (m *Manager) Kill(id uint64) error {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return apperr.NotFoundf("task %d not found", id)
	}
	if err := t.kill(); err != nil {
		return apperr.Wrap(apperr.Internal, "kill failed", err)
	}
	return nil
}

// ListTasks returns a snapshot of every task, ordered by id for stable output.
func (m *Manager) ListTasks() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Snapshot, 0, len(m.tasks))
	for _, t := range m.tasks {
		out = append(out, t.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RunningCount returns the number of tasks currently in the RUNNING state,
// for the metrics sampler's gauge.
func (m *Manager) RunningCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, t := range m.tasks {
		if t.running.IsSet() {
			n++
		}
	}
	return n
}

// GetOutput returns the current captured buffer for id verbatim. An unknown
// id returns an empty string rather than an error, so controller refresh
// loops never have to special-case a task it hasn't learned about yet.
func (m *Manager) GetOutput(id uint64) string {
	m.mu.Lock()
	t, ok := m.tasks[id]
	m.mu.Unlock()
	if !ok {
		return ""
	}
	return string(t.getOutput())
}

// Shutdown cancels every in-flight task's context and waits for their
// supervisor goroutines to exit, used during agent daemon teardown.
func (m *Manager) Shutdown() {
	m.cancel()
	m.wg.Wait()
}
