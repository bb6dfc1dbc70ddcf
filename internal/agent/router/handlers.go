package router

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/otusfleet/fleetctl/internal/agent/metrics"
	"github.com/otusfleet/fleetctl/internal/apperr"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

// dispatch routes one parsed request by METHOD+PATH to its handler and
// always returns a well-formed envelope body, per the error propagation
// rule: no handler error escapes as anything but {success:false, error}.
//
// A single-switch dispatch table generalized from a single Method
// discriminator to METHOD+PATH.
func (s *Server) dispatch(ctx context.Context, req *protocol.Request) []byte {
	result, err := s.route(ctx, req)
	if err != nil {
		ae := apperr.As(err)
		s.log.WithField("path", req.Path).WithError(ae).Debug("handler returned error")
		body, _ := protocol.MarshalEnvelope(false, &protocol.EnvelopeError{
			Kind: string(ae.Kind), Message: ae.Message,
		}, nil)
		return body
	}
	body, err := protocol.MarshalEnvelope(true, nil, result)
	if err != nil {
		body, _ = protocol.MarshalEnvelope(false, &protocol.EnvelopeError{
			Kind: string(apperr.Internal), Message: "encoding response",
		}, nil)
	}
	return body
}

func (s *Server) route(ctx context.Context, req *protocol.Request) (interface{}, error) {
	switch req.Path {
	case "/exec":
		return s.handleExec(req)
	case "/tasks":
		return s.handleTasks(req)
	case "/logs":
		return s.handleLogs(req)
	case "/kill":
		return s.handleKill(req)
	case "/stats":
		return s.handleStats(req)
	case "/hostname":
		return s.handleHostname(req)
	case "/files/list":
		return s.handleFilesList(req)
	case "/files/read":
		return s.handleFilesRead(req)
	case "/files/write":
		return s.handleFilesWrite(req)
	case "/files/upload":
		return s.handleFilesUpload(req)
	case "/files/download":
		return s.handleFilesDownload(req)
	case "/files/delete":
		return s.handleFilesDelete(req)
	case "/files/rename":
		return s.handleFilesRename(req)
	case "/system/info":
		return s.handleSystemInfo(req)
	case "/system/network":
		return s.handleSystemNetwork(req)
	case "/system/reboot":
		return s.handleSystemReboot(req)
	case "/system/shutdown":
		return s.handleSystemShutdown(req)
	default:
		return nil, apperr.NotFoundf("no handler for %s", req.Path)
	}
}

type execRequest struct {
	Cmd string            `json:"cmd"`
	Env map[string]string `json:"env,omitempty"`
}

// handleExec submits cmd as a new task. env, when present, is folded into
// the command line as leading shell assignments — the task supervisor runs
// one shell command, not an argv+envp pair, so this is the simplest way to
// make WORKER_ID/TOTAL_WORKERS visible to the child process.
func (s *Server) handleExec(req *protocol.Request) (interface{}, error) {
	var body execRequest
	if err := json.Unmarshal(req.Body, &body); err != nil {
		return nil, apperr.BadRequestf("invalid exec body: %v", err)
	}
	if body.Cmd == "" {
		return nil, apperr.BadRequestf("cmd must not be empty")
	}
	id := s.deps.Tasks.Submit(withEnvPrefix(body.Cmd, body.Env))
	return map[string]interface{}{"task_id": id}, nil
}

func (s *Server) handleTasks(req *protocol.Request) (interface{}, error) {
	return s.deps.Tasks.ListTasks(), nil
}

func (s *Server) handleLogs(req *protocol.Request) (interface{}, error) {
	id, err := queryUint(req, "id")
	if err != nil {
		return nil, err
	}
	// Unknown id returns an empty string, not an error.
	return map[string]interface{}{"logs": s.deps.Tasks.GetOutput(id)}, nil
}

func (s *Server) handleKill(req *protocol.Request) (interface{}, error) {
	id, err := queryUint(req, "id")
	if err != nil {
		return nil, err
	}
	if err := s.deps.Tasks.Kill(id); err != nil {
		return nil, err
	}
	return map[string]interface{}{"killed": id}, nil
}

func (s *Server) handleStats(req *protocol.Request) (interface{}, error) {
	snap, err := metrics.Sample()
	if err != nil {
		return nil, apperr.Wrap(apperr.Unavailable, "sampling host stats", err)
	}
	return snap, nil
}

func (s *Server) handleHostname(req *protocol.Request) (interface{}, error) {
	return map[string]interface{}{"hostname": s.deps.Hostname}, nil
}

func queryUint(req *protocol.Request, key string) (uint64, error) {
	raw, ok := req.Query[key]
	if !ok || raw == "" {
		return 0, apperr.BadRequestf("missing query parameter %q", key)
	}
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, apperr.BadRequestf("invalid %s %q", key, raw)
	}
	return id, nil
}

func withEnvPrefix(cmd string, env map[string]string) string {
	if len(env) == 0 {
		return cmd
	}
	prefix := ""
	for k, v := range env {
		prefix += k + "=" + shellQuote(v) + " "
	}
	return prefix + cmd
}

// shellQuote wraps v in single quotes, escaping any embedded single quote —
// sufficient for the WORKER_ID/TOTAL_WORKERS integers this is built for and
// safe for arbitrary values since sh -c never re-interprets quoted content.
func shellQuote(v string) string {
	out := make([]byte, 0, len(v)+2)
	out = append(out, '\'')
	for i := 0; i < len(v); i++ {
		if v[i] == '\'' {
			out = append(out, '\'', '\\', '\'', '\'')
			continue
		}
		out = append(out, v[i])
	}
	out = append(out, '\'')
	return string(out)
}
