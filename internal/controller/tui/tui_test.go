package tui

import (
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/otusfleet/fleetctl/internal/controller/discovery"
	"github.com/otusfleet/fleetctl/internal/controller/fleet"
)

func newTestModel() Model {
	f := fleet.Init([]discovery.Agent{
		{Hostname: "a", IP: "127.0.0.1", Port: 1},
		{Hostname: "b", IP: "127.0.0.2", Port: 1},
	})
	return New(f, nil)
}

func TestHandleTopKeySpaceTogglesSelection(t *testing.T) {
	m := newTestModel()
	next, _ := m.handleTopKey(tea.KeyMsg{Type: tea.KeySpace})
	nm := next.(Model)
	sel := nm.fleet.Selected()
	if len(sel) != 1 || sel[0] != 0 {
		t.Fatalf("expected agent 0 selected, got %v", sel)
	}
}

func TestHandleTopKeyDownMovesCursorWithinBounds(t *testing.T) {
	m := newTestModel()
	next, _ := m.handleTopKey(tea.KeyMsg{Type: tea.KeyDown})
	nm := next.(Model)
	if nm.cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", nm.cursor)
	}
	// second down at the last agent must not move past the end
	next2, _ := nm.handleTopKey(tea.KeyMsg{Type: tea.KeyDown})
	nm2 := next2.(Model)
	if nm2.cursor != 1 {
		t.Fatalf("expected cursor to stay at 1, got %d", nm2.cursor)
	}
}

func TestHandleTopKeyEnterEntersCommandView(t *testing.T) {
	m := newTestModel()
	m.cmdInput.WriteString("stale")
	next, cmd := m.handleTopKey(tea.KeyMsg{Type: tea.KeyEnter})
	nm := next.(Model)
	if nm.view != viewCommand {
		t.Fatalf("expected viewCommand, got %v", nm.view)
	}
	if nm.cmdInput.String() != "" {
		t.Fatalf("expected cmdInput reset, got %q", nm.cmdInput.String())
	}
	if cmd != nil {
		t.Fatal("expected no command from entering command view")
	}
}

func TestHandleTopKeyTSwitchesToTasksView(t *testing.T) {
	m := newTestModel()
	next, _ := m.handleTopKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("t")})
	nm := next.(Model)
	if nm.view != viewTasks {
		t.Fatalf("expected viewTasks, got %v", nm.view)
	}
}

func TestHandleTopKeyEscQuits(t *testing.T) {
	m := newTestModel()
	_, cmd := m.handleTopKey(tea.KeyMsg{Type: tea.KeyEsc})
	if cmd == nil {
		t.Fatal("expected a quit command")
	}
}

func TestHandleCommandKeyTypingAndBackspace(t *testing.T) {
	m := newTestModel()
	m.view = viewCommand
	next, _ := m.handleCommandKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("l")})
	next, _ = next.(Model).handleCommandKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("s")})
	nm := next.(Model)
	if nm.cmdInput.String() != "ls" {
		t.Fatalf("expected %q, got %q", "ls", nm.cmdInput.String())
	}
	next2, _ := nm.handleCommandKey(tea.KeyMsg{Type: tea.KeyBackspace})
	nm2 := next2.(Model)
	if nm2.cmdInput.String() != "l" {
		t.Fatalf("expected %q after backspace, got %q", "l", nm2.cmdInput.String())
	}
}

func TestHandleCommandKeyEscCancelsBackToTop(t *testing.T) {
	m := newTestModel()
	m.view = viewCommand
	m.cmdInput.WriteString("ls")
	next, cmd := m.handleCommandKey(tea.KeyMsg{Type: tea.KeyEsc})
	nm := next.(Model)
	if nm.view != viewTop {
		t.Fatalf("expected viewTop, got %v", nm.view)
	}
	if cmd != nil {
		t.Fatal("expected no command on cancel")
	}
}

func TestHandleCommandKeyEnterWithEmptyInputDoesNotDispatch(t *testing.T) {
	m := newTestModel()
	m.view = viewCommand
	next, cmd := m.handleCommandKey(tea.KeyMsg{Type: tea.KeyEnter})
	nm := next.(Model)
	if nm.view != viewTop {
		t.Fatalf("expected viewTop, got %v", nm.view)
	}
	if cmd != nil {
		t.Fatal("expected no dispatch command for an empty input")
	}
}

func TestHandleCommandKeyEnterWithInputDispatches(t *testing.T) {
	m := newTestModel()
	m.view = viewCommand
	m.cmdInput.WriteString("ls")
	next, cmd := m.handleCommandKey(tea.KeyMsg{Type: tea.KeyEnter})
	nm := next.(Model)
	if nm.view != viewTop {
		t.Fatalf("expected viewTop, got %v", nm.view)
	}
	if cmd == nil {
		t.Fatal("expected a dispatch command for a non-empty input")
	}
}

func TestHandleTasksKeyNavigationBounds(t *testing.T) {
	m := newTestModel()
	m.view = viewTasks
	m.fleet.AddTask(fleet.Task{ID: 1, AgentName: "a", Command: "echo hi", State: fleet.TaskRunning})

	next, _ := m.handleTasksKey(tea.KeyMsg{Type: tea.KeyDown})
	nm := next.(Model)
	if nm.taskCursor != 0 {
		t.Fatalf("expected taskCursor to stay at 0 with one task, got %d", nm.taskCursor)
	}

	next2, _ := nm.handleTasksKey(tea.KeyMsg{Type: tea.KeyUp})
	nm2 := next2.(Model)
	if nm2.taskCursor != 0 {
		t.Fatalf("expected taskCursor to stay at 0, got %d", nm2.taskCursor)
	}
}

func TestHandleTasksKeyEnterFetchesLogs(t *testing.T) {
	m := newTestModel()
	m.view = viewTasks
	m.fleet.AddTask(fleet.Task{ID: 1, AgentName: "a", Command: "echo hi", State: fleet.TaskRunning})

	_, cmd := m.handleTasksKey(tea.KeyMsg{Type: tea.KeyEnter})
	if cmd == nil {
		t.Fatal("expected a fetch-logs command")
	}
}

func TestHandleTasksKeyOtherKeyReturnsToTop(t *testing.T) {
	m := newTestModel()
	m.view = viewTasks
	next, _ := m.handleTasksKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("x")})
	nm := next.(Model)
	if nm.view != viewTop {
		t.Fatalf("expected viewTop, got %v", nm.view)
	}
}

func TestHandleKeyLogsViewAnyKeyReturnsToTop(t *testing.T) {
	m := newTestModel()
	m.view = viewLogs
	next, _ := m.handleKey(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("z")})
	nm := next.(Model)
	if nm.view != viewTop {
		t.Fatalf("expected viewTop, got %v", nm.view)
	}
}
