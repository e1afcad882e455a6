// Package protocol implements the invocation envelope exchanged between
// the dispatch supervisor and execution workers. Envelopes travel as
// opaque frames through the broker, which never parses them; both ends
// speak CBOR on the wire and JSON-native values at the edges.
package protocol

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/haveloc/servehub/internal/core"
)

// Mode selects which servable entry point a worker should execute.
// TEST and TEST_WITH_CACHE are legacy variants kept for compatibility.
type Mode string

const (
	ModeRun           Mode = "run"
	ModeTest          Mode = "test"
	ModeTestWithCache Mode = "test_cache"
)

// ParseMode validates a caller-supplied mode string. Empty defaults to
// run.
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "":
		return ModeRun, nil
	case ModeRun, ModeTest, ModeTestWithCache:
		return Mode(s), nil
	default:
		return "", core.ErrMalformedInput(fmt.Sprintf("unknown mode %q", s))
	}
}

// Request is the wire form of one dispatch. Fanout distinguishes a
// pipeline addressed to an ordered site list from a single-site call,
// so the decode side knows whether to expect one result or a list.
type Request struct {
	Mode    Mode        `cbor:"mode"`
	Fanout  bool        `cbor:"fanout"`
	Sites   []string    `cbor:"sites"`
	Payload interface{} `cbor:"payload"`
}

// Reply is the wire form of a worker's answer.
type Reply struct {
	Fanout        bool          `cbor:"fanout"`
	Results       []interface{} `cbor:"results"`
	ComputeTimeMS int64         `cbor:"compute_time_ms"`
	Err           string        `cbor:"err,omitempty"`
}

// Result is the decoded, JSON-native outcome of one round trip.
type Result struct {
	// Value is one value for a single dispatch or a []interface{} of
	// per-stage values for a fan-out dispatch.
	Value         interface{}
	ComputeTimeMS int64
}

// EncodeRequest builds the envelope frame for a dispatch.
func EncodeRequest(mode Mode, target core.Target, payload interface{}) ([]byte, error) {
	req := Request{
		Mode:    mode,
		Fanout:  target.Fanout(),
		Sites:   target.Sites(),
		Payload: payload,
	}
	frame, err := cbor.Marshal(&req)
	if err != nil {
		return nil, core.ErrMalformedInput("payload is not encodable").WithCause(err)
	}
	return frame, nil
}

// DecodeRequest parses an envelope frame on the worker side.
func DecodeRequest(frame []byte) (*Request, error) {
	var req Request
	if err := cbor.Unmarshal(frame, &req); err != nil {
		return nil, fmt.Errorf("decoding request envelope: %w", err)
	}
	req.Payload = Normalize(req.Payload)
	return &req, nil
}

// EncodeReply builds a reply frame on the worker side.
func EncodeReply(reply *Reply) ([]byte, error) {
	frame, err := cbor.Marshal(reply)
	if err != nil {
		return nil, fmt.Errorf("encoding reply envelope: %w", err)
	}
	return frame, nil
}

// DecodeReply parses a reply frame and normalizes the results to
// JSON-native values. A reply carrying a worker error decodes to a
// WorkerError; an empty frame decodes to BrokerNoReply.
func DecodeReply(frame []byte) (*Result, error) {
	if len(frame) == 0 {
		return nil, core.ErrBrokerNoReply()
	}
	var reply Reply
	if err := cbor.Unmarshal(frame, &reply); err != nil {
		return nil, core.ErrBrokerNoReply().WithCause(err)
	}
	if reply.Err != "" {
		return nil, core.ErrWorkerError(reply.Err)
	}

	results := make([]interface{}, len(reply.Results))
	for i, r := range reply.Results {
		results[i] = Normalize(r)
	}

	res := &Result{ComputeTimeMS: reply.ComputeTimeMS}
	if reply.Fanout {
		res.Value = results
	} else {
		if len(results) == 0 {
			return nil, core.ErrBrokerNoReply()
		}
		res.Value = results[0]
	}
	return res, nil
}

// PayloadFromInput extracts the dispatch payload from caller input. The
// "data" key carries JSON-native values as-is; the "encoded" key carries
// a base64 CBOR blob that is decoded and re-embedded, which lets callers
// ship values (typed numeric arrays and the like) the plain JSON path
// cannot express. Exactly one of the two must be present.
func PayloadFromInput(data json.RawMessage, encoded string) (interface{}, error) {
	switch {
	case encoded != "" && len(data) > 0:
		return nil, core.ErrMalformedInput("input_data must carry either data or encoded, not both")
	case encoded != "":
		raw, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil {
			return nil, core.ErrMalformedInput("encoded payload is not valid base64").WithCause(err)
		}
		var v interface{}
		if err := cbor.Unmarshal(raw, &v); err != nil {
			return nil, core.ErrMalformedInput("encoded payload is not valid CBOR").WithCause(err)
		}
		return Normalize(v), nil
	case len(data) > 0:
		var v interface{}
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, core.ErrMalformedInput("data payload is not valid JSON").WithCause(err)
		}
		return v, nil
	default:
		return nil, core.ErrMalformedInput("input_data requires a data or encoded key")
	}
}
