// Package client implements the controller's request-response call against
// one agent's request router: dial with a connect timeout, write one
// line-framed request, read one response with a read timeout, per
// the controller's cancellation rules.
package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/otusfleet/fleetctl/internal/apperr"
	"github.com/otusfleet/fleetctl/internal/protocol"
)

// DefaultConnectTimeout and DefaultReadTimeout are the controller's default timeouts.
const (
	DefaultConnectTimeout = 2 * time.Second
	DefaultReadTimeout    = 5 * time.Second
)

// Client calls one agent's request router over TCP.
type Client struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

// New builds a Client with the package's default timeouts.
func New(addr string) *Client {
	return &Client{Addr: addr, ConnectTimeout: DefaultConnectTimeout, ReadTimeout: DefaultReadTimeout}
}

// Call issues one request and decodes result into out (if out is non-nil).
// Every failure comes back as an *apperr.Error, never a bare error, so
// callers (the fleet model's refreshers) can map it straight to the
// "unreachable" sentinel: a network or response-framing failure has Kind
// apperr.Unavailable, an expired deadline apperr.Timeout, a failure envelope
// the agent's own kind, and a result that does not decode into out
// apperr.Internal.
func (c *Client) Call(method, path string, body []byte, out interface{}) error {
	conn, err := net.DialTimeout("tcp", c.Addr, c.ConnectTimeout)
	if err != nil {
		return apperr.Wrap(apperr.Unavailable, fmt.Sprintf("dialing %s", c.Addr), err)
	}
	defer conn.Close()

	if err := conn.SetDeadline(time.Now().Add(c.ReadTimeout)); err != nil {
		return apperr.Wrap(apperr.Internal, "setting deadline", err)
	}

	if err := protocol.WriteRequest(conn, method, path, body); err != nil {
		return apperr.Wrap(apperr.Unavailable, "writing request", err)
	}

	env, err := protocol.ReadResponse(bufio.NewReader(conn))
	if err != nil {
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			return apperr.Wrap(apperr.Timeout, "reading response", err)
		}
		return apperr.Wrap(apperr.Unavailable, "reading response", err)
	}

	if !env.Success {
		if env.Error != nil {
			return apperr.New(apperr.Kind(env.Error.Kind), env.Error.Message)
		}
		return apperr.New(apperr.Internal, "agent returned failure with no error detail")
	}

	if out != nil {
		if err := json.Unmarshal(env.Result, out); err != nil {
			return apperr.Wrap(apperr.Internal, "decoding result", err)
		}
	}
	return nil
}
