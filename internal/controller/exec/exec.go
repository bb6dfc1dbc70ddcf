// Package exec implements the controller's joint executor: dispatching one
// command to every selected agent with WORKER_ID/TOTAL_WORKERS environment
// variables so the agents can partition embarrassingly-parallel work without
// a central queue.
package exec

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"

	"github.com/satori/go.uuid"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"

	"github.com/otusfleet/fleetctl/internal/controller/client"
)

// Target is the minimal view of one selected agent the executor needs: a
// name for bookkeeping and a client to dispatch through.
type Target struct {
	Name   string
	Client *client.Client
}

// Dispatch is one agent's outcome: either a task id on success, or an error
// message on failure. Exactly one of the two is set.
type Dispatch struct {
	AgentName string
	TaskID    uint64
	Err       error
}

type execRequest struct {
	Cmd string            `json:"cmd"`
	Env map[string]string `json:"env"`
}

type execResponse struct {
	TaskID uint64 `json:"task_id"`
}

// Run dispatches cmd to every target in targets, setting WORKER_ID to the
// target's index and TOTAL_WORKERS to len(targets). Dispatches run
// concurrently, up to 8 at a time, so the order in which the requests are
// issued is not defined; WORKER_ID i and the returned Dispatch at index i
// always belong to targets[i]. Failure of one dispatch does not cancel the others: it
// comes back as a Dispatch with Err set, not a short-circuited return. The
// combined multierr (non-nil only if at least one dispatch failed) lets a
// caller log a summary without inspecting every Dispatch.
func Run(batchID string, targets []Target, cmd string) ([]Dispatch, error) {
	total := len(targets)
	out := make([]Dispatch, total)

	p := pool.New().WithMaxGoroutines(8)
	var mu sync.Mutex
	var combined error

	for i, t := range targets {
		i, t := i, t
		p.Go(func() {
			body, err := json.Marshal(execRequest{
				Cmd: cmd,
				Env: map[string]string{
					"WORKER_ID":     strconv.Itoa(i),
					"TOTAL_WORKERS": strconv.Itoa(total),
					"BATCH_ID":      batchID,
				},
			})
			if err != nil {
				out[i] = Dispatch{AgentName: t.Name, Err: fmt.Errorf("encoding exec body: %w", err)}
				mu.Lock()
				combined = multierr.Append(combined, out[i].Err)
				mu.Unlock()
				return
			}

			var resp execResponse
			if err := t.Client.Call("POST", "/exec", body, &resp); err != nil {
				out[i] = Dispatch{AgentName: t.Name, Err: fmt.Errorf("agent %s: %w", t.Name, err)}
				mu.Lock()
				combined = multierr.Append(combined, out[i].Err)
				mu.Unlock()
				return
			}
			out[i] = Dispatch{AgentName: t.Name, TaskID: resp.TaskID}
		})
	}
	p.Wait()

	return out, combined
}

// NewBatchID produces a fresh correlation id for one joint-exec invocation,
// sent as BATCH_ID in the env of every dispatch of that invocation. The
// controller's task table does not record it.
func NewBatchID() string {
	return uuid.NewV4().String()
}
