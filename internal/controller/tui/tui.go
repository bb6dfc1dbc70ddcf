// Package tui implements the controller's interactive terminal UI over a
// fleet.Model, using bubbletea/lipgloss in the standard tea.Program shape:
// construct a Model, run it under tea.WithAltScreen(), let key messages
// drive state transitions.
package tui

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/sirupsen/logrus"

	"github.com/otusfleet/fleetctl/internal/controller/exec"
	"github.com/otusfleet/fleetctl/internal/controller/fleet"
)

// view names the sub-view currently on screen. Top is the fleet list; the
// others are entered from Top. Logs returns to Top on any key, Tasks on any
// key other than its navigation keys, and Command on ESC or after enter.
type view int

const (
	viewTop view = iota
	viewCommand
	viewTasks
	viewLogs
)

// Model is the bubbletea root model: the fleet state it renders plus
// transient UI state (cursor position, command being typed, log view
// target).
type Model struct {
	fleet *fleet.Model
	log   *logrus.Entry

	view   view
	cursor int

	cmdInput   strings.Builder
	taskCursor int

	logBody string
}

// New builds the top-level TUI model over an already-populated fleet model.
func New(f *fleet.Model, log *logrus.Entry) Model {
	return Model{fleet: f, log: log, view: viewTop}
}

// tickMsg drives the periodic RefreshTasks/RefreshStats cycle.
type tickMsg time.Time

func tick(interval time.Duration) tea.Cmd {
	return tea.Tick(interval, func(t time.Time) tea.Msg { return tickMsg(t) })
}

// refreshDone signals on the update loop that a background refresh or
// dispatch has finished. That background work has already written its
// results into the fleet model, under the model's own lock.
type refreshDone struct{}

// logsLoaded carries a fetched task log back onto the update loop.
type logsLoaded string

func (m Model) Init() tea.Cmd {
	return tea.Batch(tick(2*time.Second), m.refreshCmd())
}

func (m Model) refreshCmd() tea.Cmd {
	return func() tea.Msg {
		m.fleet.RefreshTasks()
		m.fleet.RefreshStats()
		return refreshDone{}
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tickMsg:
		return m, tea.Batch(tick(2*time.Second), m.refreshCmd())
	case refreshDone:
		return m, nil
	case logsLoaded:
		m.logBody = string(msg)
		m.view = viewLogs
		return m, nil
	case tea.KeyMsg:
		return m.handleKey(msg)
	}
	return m, nil
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch m.view {
	case viewTop:
		return m.handleTopKey(msg)
	case viewCommand:
		return m.handleCommandKey(msg)
	case viewTasks:
		return m.handleTasksKey(msg)
	case viewLogs:
		// any key returns to the top-level view, per the controller's
		// navigation rule
		m.view = viewTop
		return m, nil
	}
	return m, nil
}

func (m Model) handleTasksKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	tasks := m.fleet.Tasks()
	switch msg.String() {
	case "up", "k":
		if m.taskCursor > 0 {
			m.taskCursor--
		}
		return m, nil
	case "down", "j":
		if m.taskCursor < len(tasks)-1 {
			m.taskCursor++
		}
		return m, nil
	case "l", "enter":
		if m.taskCursor < len(tasks) {
			return m, m.fetchLogsCmd(tasks[m.taskCursor])
		}
		return m, nil
	default:
		// any other key returns to the top-level view
		m.view = viewTop
		return m, nil
	}
}

// fetchLogsCmd fetches t's captured output from the agent it ran on.
func (m Model) fetchLogsCmd(t fleet.Task) tea.Cmd {
	return func() tea.Msg {
		agent, ok := m.fleet.AgentByName(t.AgentName)
		if !ok {
			return logsLoaded("(agent no longer in fleet)")
		}
		var out struct {
			Logs string `json:"logs"`
		}
		path := "/logs?id=" + strconv.FormatUint(t.ID, 10)
		if err := agent.Client.Call("GET", path, nil, &out); err != nil {
			return logsLoaded(fmt.Sprintf("(error fetching logs: %v)", err))
		}
		return logsLoaded(out.Logs)
	}
}

func (m Model) handleTopKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	agents := m.fleet.Agents()
	switch msg.String() {
	case "esc", "ctrl+c", "q":
		return m, tea.Quit
	case "up", "k":
		if m.cursor > 0 {
			m.cursor--
		}
	case "down", "j":
		if m.cursor < len(agents)-1 {
			m.cursor++
		}
	case " ":
		m.fleet.Toggle(m.cursor)
	case "t":
		m.view = viewTasks
	case "enter", "c":
		m.view = viewCommand
		m.cmdInput.Reset()
	}
	return m, nil
}

func (m Model) handleCommandKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "esc":
		m.view = viewTop
		return m, nil
	case "enter":
		cmd := m.cmdInput.String()
		m.cmdInput.Reset()
		m.view = viewTop
		if cmd == "" {
			return m, nil
		}
		return m, m.dispatchCmd(cmd)
	case "backspace":
		s := m.cmdInput.String()
		if len(s) > 0 {
			m.cmdInput.Reset()
			m.cmdInput.WriteString(s[:len(s)-1])
		}
	default:
		if len(msg.String()) == 1 {
			m.cmdInput.WriteString(msg.String())
		}
	}
	return m, nil
}

// dispatchCmd runs the joint executor against the current selection in the
// background and, once it returns, adds one task-table entry per dispatch.
func (m Model) dispatchCmd(cmd string) tea.Cmd {
	return func() tea.Msg {
		agents := m.fleet.Agents()
		selected := m.fleet.Selected()
		targets := make([]exec.Target, 0, len(selected))
		for _, i := range selected {
			a := agents[i]
			targets = append(targets, exec.Target{Name: a.Name, Client: a.Client})
		}
		dispatches, err := exec.Run(exec.NewBatchID(), targets, cmd)
		if err != nil {
			m.log.WithError(err).Warn("joint exec had dispatch failures")
		}
		for _, d := range dispatches {
			t := fleet.Task{AgentName: d.AgentName, Command: cmd}
			if d.Err != nil {
				t.State = fleet.TaskError
				t.Error = d.Err.Error()
			} else {
				t.ID = d.TaskID
				t.State = fleet.TaskRunning
			}
			m.fleet.AddTask(t)
		}
		return refreshDone{}
	}
}

func (m Model) View() string {
	switch m.view {
	case viewCommand:
		return m.viewCommandInput()
	case viewTasks:
		return m.viewTaskTable()
	case viewLogs:
		return fmt.Sprintf("logs  (any key: back)\n\n%s", m.logBody)
	default:
		return m.viewFleetList()
	}
}

func (m Model) viewFleetList() string {
	var b strings.Builder
	b.WriteString("fleet  (space: select, enter: run command, t: tasks, esc: quit)\n\n")
	for i, a := range m.fleet.Agents() {
		cursor := "  "
		if i == m.cursor {
			cursor = "> "
		}
		mark := "[ ]"
		for _, sel := range m.fleet.Selected() {
			if sel == i {
				mark = "[x]"
			}
		}
		status := "unreachable"
		if a.Stats.RAMTotalMB > 0 {
			status = fmt.Sprintf("cpu=%.1f%% ram=%d/%dMB", a.Stats.CPU, a.Stats.RAMUsedMB, a.Stats.RAMTotalMB)
		}
		fmt.Fprintf(&b, "%s%s %-20s %s\n", cursor, mark, a.Name, status)
	}
	return b.String()
}

func (m Model) viewCommandInput() string {
	return fmt.Sprintf("run on selected agents:\n\n> %s\n\n(enter: dispatch, esc: cancel)", m.cmdInput.String())
}

func (m Model) viewTaskTable() string {
	var b strings.Builder
	b.WriteString("tasks  (up/down: move, l/enter: view logs, any other key: back)\n\n")
	for _, t := range m.fleet.Tasks() {
		fmt.Fprintf(&b, "%-8d %-12s %-8s %s\n", t.ID, t.AgentName, t.State, t.Command)
	}
	return b.String()
}
