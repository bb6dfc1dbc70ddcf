// Package task implements the agent's per-host task supervisor: spawning
// child processes, capturing their merged stdout/stderr line by line, and
// publishing task lifecycle events on the stream transport's main channel.
//
// Built around a state machine, status snapshot, and mutex-guarded table
// adapted from packet-capture pipelines to plain child-process supervision,
// with line-buffering / fragment-flush behavior matching the line-oriented
// task supervisor a shell-command runner needs.
package task

import (
	"bufio"
	"context"
	"io"
	"os/exec"
	"runtime"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tevino/abool"

	"github.com/otusfleet/fleetctl/internal/protocol"
)

// maxLineBuffer is the fixed read buffer size: a line
// exceeding it is flushed as a fragment event instead of blocking forever.
const maxLineBuffer = 4096

// Broadcaster is the subset of the stream transport a supervised task needs:
// publish an event on the main channel. Declared here (not imported from the
// stream package) to keep task decoupled from the transport's connection
// bookkeeping.
type Broadcaster interface {
	BroadcastMain(event interface{})
}

// Task is one spawned child process and its captured output.
//
// Ownership: only the owning supervisor goroutine appends to Output; every
// other reader takes a snapshot under mu. Running transitions true→false
// exactly once and is backed by abool so that
// read-mostly callers (ListTasks) never need to take mu just to read it.
type Task struct {
	ID      uint64
	Command string

	running *abool.AtomicBool

	mu     sync.Mutex
	output []byte

	cmd *exec.Cmd
}

// Snapshot is the value returned by ListTasks/GetOutput — a point-in-time
// copy, never a reference into the live Task.
type Snapshot struct {
	ID      uint64 `json:"id"`
	Command string `json:"command"`
	Running bool   `json:"running"`
}

func newTask(id uint64, command string) *Task {
	return &Task{
		ID:      id,
		Command: command,
		running: abool.NewBool(true),
	}
}

func (t *Task) snapshot() Snapshot {
	return Snapshot{ID: t.ID, Command: t.Command, Running: t.running.IsSet()}
}

// appendOutput appends b to the task's captured buffer under mu. The
// supervisor goroutine is the only caller.
func (t *Task) appendOutput(b []byte) {
	t.mu.Lock()
	t.output = append(t.output, b...)
	t.mu.Unlock()
}

// getOutput returns a copy of the captured buffer so far.
func (t *Task) getOutput() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]byte, len(t.output))
	copy(out, t.output)
	return out
}

// run spawns the child and drives it to completion, emitting task_start,
// zero-or-more task_output, and exactly one task_complete on bus. It never
// returns an error: every failure mode (spawn failure, pipe close without a
// wait result) is folded into the single task_complete exit code, per
// the task's failure semantics.
func (t *Task) run(ctx context.Context, bus Broadcaster, log *logrus.Entry) {
	bus.BroadcastMain(protocol.NewTaskStartEvent(t.ID, t.Command))
	t.running.Set()

	exitCode, err := t.spawnAndStream(ctx, bus, log)
	if err != nil {
		log.WithError(err).Warn("task failed to run to completion")
	}

	t.running.UnSet()
	bus.BroadcastMain(protocol.NewTaskCompleteEvent(t.ID, exitCode))
}

func (t *Task) spawnAndStream(ctx context.Context, bus Broadcaster, log *logrus.Entry) (int, error) {
	cmd := shellCommand(ctx, t.Command)
	setProcessGroup(cmd)
	t.mu.Lock()
	t.cmd = cmd
	t.mu.Unlock()

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, err
	}
	cmd.Stderr = cmd.Stdout // merged stream

	if err := cmd.Start(); err != nil {
		return -1, err
	}

	t.streamLines(stdout, bus, log)

	if err := cmd.Wait(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return exitErr.ExitCode(), nil
		}
		// Pipe closed mid-stream without a usable wait result:
		// says to still emit task_complete, with whatever status the OS
		// yields — 0 if none is available.
		return 0, err
	}
	return 0, nil
}

// streamLines reads r line by line, appending to the task's buffer and
// emitting task_output for each line or fragment. A chunk only gets a
// trailing "\n" appended when splitLinesOrFragments actually consumed one
// from the source; an over-long-line fragment flush is passed through
// verbatim, with no bytes added beyond what the child wrote, matching
// Task.cpp's raw fgets-chunk passthrough.
func (t *Task) streamLines(r io.Reader, bus Broadcaster, log *logrus.Entry) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 0, maxLineBuffer)
	scanner.Buffer(buf, maxLineBuffer)

	var sawNewline bool
	scanner.Split(func(data []byte, atEOF bool) (advance int, token []byte, err error) {
		advance, token, sawNewline, err = splitLinesOrFragments(data, atEOF)
		return advance, token, err
	})

	for scanner.Scan() {
		chunk := append([]byte(nil), scanner.Bytes()...)
		if sawNewline {
			chunk = append(chunk, '\n')
		}
		t.appendOutput(chunk)
		bus.BroadcastMain(protocol.NewTaskOutputEvent(t.ID, string(chunk), time.Now().UnixMilli()))
	}
	if err := scanner.Err(); err != nil {
		log.WithError(err).Debug("output stream ended with error")
	}
}

// splitLinesOrFragments behaves like bufio.ScanLines but also flushes the
// first maxLineBuffer bytes once that many have accumulated, even without a
// newline — the "fragment event" Task.cpp's fgets loop calls for on an
// over-long line. The newline return reports whether token's delimiter was
// an actual newline in the source, so callers never synthesize one for a
// fragment flush.
func splitLinesOrFragments(data []byte, atEOF bool) (advance int, token []byte, newline bool, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, false, nil
	}
	if i := indexByte(data, '\n'); i >= 0 {
		return i + 1, dropCR(data[:i]), true, nil
	}
	if len(data) >= maxLineBuffer {
		return maxLineBuffer, data[:maxLineBuffer], false, nil
	}
	if atEOF {
		return len(data), dropCR(data), false, nil
	}
	return 0, nil, false, nil
}

func indexByte(b []byte, c byte) int {
	for i, x := range b {
		if x == c {
			return i
		}
	}
	return -1
}

func dropCR(data []byte) []byte {
	if len(data) > 0 && data[len(data)-1] == '\r' {
		return data[:len(data)-1]
	}
	return data
}

// kill requests termination of the task's process group. Best-effort: there
// is no completion guarantee beyond delivering the signal.
func (t *Task) kill() error {
	t.mu.Lock()
	cmd := t.cmd
	t.mu.Unlock()
	if cmd == nil {
		return nil
	}
	return killProcessGroup(cmd)
}

// shellCommand builds the per-platform shell a task command runs under:
// sh -c on Unix, cmd /C on Windows.
func shellCommand(ctx context.Context, command string) *exec.Cmd {
	if runtime.GOOS == "windows" {
		return exec.CommandContext(ctx, "cmd", "/C", command)
	}
	return exec.CommandContext(ctx, "/bin/sh", "-c", command)
}
