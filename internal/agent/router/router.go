// Package router implements the agent's request-response protocol: a
// minimal line-framed envelope parsed off one accepted TCP connection,
// dispatched by PATH to a handler, and answered with a JSON envelope.
//
// Patterned on an accept-loop/connection-tracking/graceful-shutdown shape
// (net.Listener instead of a Unix socket) with a single method-dispatch
// switch, generalized from JSON-RPC methods to METHOD+PATH routes.
package router

import (
	"bufio"
	"context"
	"net"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/net/netutil"

	"github.com/otusfleet/fleetctl/internal/agent/fs"
	"github.com/otusfleet/fleetctl/internal/agent/task"
	"github.com/otusfleet/fleetctl/internal/apperr"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

// maxConns bounds concurrently accepted connections, satisfying the
// netutil.LimitListener wiring — a slow or hostile peer holding a connection
// open cannot starve the accept loop for everyone else.
const maxConns = 256

// Deps are the collaborators a handler may call into. Tasks and Files are
// the concrete process-scoped services (both live in this same module, so
// there is no benefit to re-declaring their shapes as interfaces); the
// system controller is behind an interface because its implementation is
// platform-specific.
type Deps struct {
	Tasks              *task.Manager
	Files              *fs.Store
	Hostname           string
	AutoInstallEnabled bool
	System             SystemController
}

// SystemController performs the /system/* introspection and control
// operations, kept behind an interface so platform-specific command
// construction (internal/agent/system) stays out of the router package.
type SystemController interface {
	Info() (interface{}, error)
	NetworkInterfaces() (interface{}, error)
	Reboot() error
	Shutdown() error
}

// Server accepts connections on one TCP listener, handling exactly one
// request per connection before closing it, per the router's concurrency
// contract.
type Server struct {
	deps Deps
	log  *logrus.Entry

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	stopped  bool
	wg       sync.WaitGroup
}

// NewServer builds a router bound to no listener yet; call Start to accept.
func NewServer(deps Deps, log *logrus.Entry) *Server {
	return &Server{deps: deps, log: log, conns: make(map[net.Conn]struct{})}
}

// Start binds addr and accepts connections in a background goroutine. It
// returns once the listener is bound, not once serving stops.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	ln = netutil.LimitListener(ln, maxConns)

	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	go s.acceptLoop()
	s.log.WithField("addr", addr).Info("request router listening")
	return nil
}

func (s *Server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped {
				return
			}
			s.log.WithError(err).Warn("accept failed")
			continue
		}

		s.mu.Lock()
		if s.stopped {
			s.mu.Unlock()
			conn.Close()
			return
		}
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection reads exactly one request, dispatches it, writes exactly
// one response, and closes the connection — no keep-alive.
func (s *Server) handleConnection(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	req, err := protocol.ReadRequest(bufio.NewReader(conn))
	if err != nil {
		s.log.WithError(err).Debug("malformed request")
		body, _ := protocol.MarshalEnvelope(false, &protocol.EnvelopeError{
			Kind: string(apperr.BadRequest), Message: "malformed request",
		}, nil)
		protocol.WriteResponse(conn, body)
		return
	}

	body := s.dispatch(context.Background(), req)
	if err := protocol.WriteResponse(conn, body); err != nil {
		s.log.WithError(err).Debug("failed writing response")
	}
}

// Stop closes the listener, closes every tracked connection, and waits for
// in-flight handlers to return.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	ln := s.listener
	s.mu.Unlock()

	if ln != nil {
		ln.Close()
	}

	s.mu.Lock()
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}
