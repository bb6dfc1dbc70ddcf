// Package protocol defines the wire types shared by the agent and the
// controller: the request-response envelope, the stream event variants
// published on the four stream channels, and the discovery probe/response
// pair. Both sides import this package instead of redeclaring the shapes
// independently, the way a single command package was the source of truth
// for its own JSON-RPC shapes.
package protocol

import "encoding/json"

// Request is the parsed form of one line-framed request: "METHOD PATH",
// headers terminated by a blank line, then a body of Content-Length bytes.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
	Body   json.RawMessage
}

// Envelope is always the response body, HTTP 200 regardless of logical
// outcome: {"success": true, ...} or {"success": false, "error": {...}}.
type Envelope struct {
	Success bool            `json:"success"`
	Error   *EnvelopeError  `json:"error,omitempty"`
	Result  json.RawMessage `json:"-"`
}

// EnvelopeError is the JSON shape of an apperr.Error on the wire.
type EnvelopeError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// OK wraps a successful result. result is marshaled as the envelope's own
// top-level fields via MarshalEnvelope, not nested under "result" — so
// e.g. /exec's result returns exactly {task_id}.
func OK(result interface{}) (*Envelope, interface{}) {
	return &Envelope{Success: true}, result
}

// Fail builds a failure envelope carrying kind/message.
func Fail(kind, message string) *Envelope {
	return &Envelope{Success: false, Error: &EnvelopeError{Kind: kind, Message: message}}
}

// MarshalEnvelope flattens result's fields alongside {success, error} so a
// successful /exec response reads {"success":true,"task_id":7} rather than
// {"success":true,"result":{"task_id":7}}.
func MarshalEnvelope(success bool, errv *EnvelopeError, result interface{}) ([]byte, error) {
	base := map[string]interface{}{"success": success}
	if errv != nil {
		base["error"] = errv
	}
	if result != nil {
		resultBytes, err := json.Marshal(result)
		if err != nil {
			return nil, err
		}
		var fields map[string]interface{}
		if err := json.Unmarshal(resultBytes, &fields); err != nil {
			// result wasn't an object (e.g. a bare array); nest it.
			base["result"] = json.RawMessage(resultBytes)
		} else {
			for k, v := range fields {
				base[k] = v
			}
		}
	}
	return json.Marshal(base)
}
