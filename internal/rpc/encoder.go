package rpc

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
)

// Envelope is the wire shape of every RPC message: a method name, a
// correlation ID pairing a response to its request, an error string (set
// only on responses), and opaque encoded payload bytes.
type Envelope struct {
	Method string
	CallID uint64
	Error  string
	IsCall bool
	Data   []byte
}

// Encoder encodes and decodes Envelopes over a Framer. Two implementations
// are provided, mirroring the teacher's Gob/JSON split in comms; either may
// be selected per listener or per dial (spec.md §6 leaves wire format to
// the transport).
type Encoder interface {
	Send(env Envelope) error
	Receive() (Envelope, error)
}

// EncoderFactory builds an Encoder around a Framer.
type EncoderFactory func(f Framer) Encoder

// GobEncoderFactory builds encoders that frame Envelopes with encoding/gob,
// grounded on the teacher's gob_encoder.go.
func GobEncoderFactory(f Framer) Encoder {
	return &gobEncoder{framer: f}
}

type gobEncoder struct {
	framer Framer
}

func (e *gobEncoder) Send(env Envelope) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return fmt.Errorf("rpc: gob encode failed, %w", err)
	}
	return e.framer.Send(buf.Bytes())
}

func (e *gobEncoder) Receive() (Envelope, error) {
	raw, err := e.framer.Receive()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&env); err != nil {
		return Envelope{}, fmt.Errorf("rpc: gob decode failed, %w", err)
	}
	return env, nil
}

// JSONEncoderFactory builds encoders that frame Envelopes as JSON,
// grounded on the teacher's json_encoder.go TCPMessageFmt wrapper.
func JSONEncoderFactory(f Framer) Encoder {
	return &jsonEncoder{framer: f}
}

type jsonEncoder struct {
	framer Framer
}

func (e *jsonEncoder) Send(env Envelope) error {
	raw, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("rpc: json encode failed, %w", err)
	}
	return e.framer.Send(raw)
}

func (e *jsonEncoder) Receive() (Envelope, error) {
	raw, err := e.framer.Receive()
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Envelope{}, fmt.Errorf("rpc: json decode failed, %w", err)
	}
	return env, nil
}

// MarshalPayload gob-encodes a call or response payload for embedding in
// an Envelope.Data field. Exposed so callers (e.g. internal/agent) can
// build custom handler plumbing around the same wire format Conn uses.
func MarshalPayload(data interface{}) ([]byte, error) {
	return marshalPayload(data)
}

// UnmarshalPayload decodes bytes produced by MarshalPayload into out.
func UnmarshalPayload(raw []byte, out interface{}) error {
	return unmarshalPayload(raw, out)
}

func marshalPayload(data interface{}) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(data); err != nil {
		return nil, fmt.Errorf("rpc: payload encode failed, %w", err)
	}
	return buf.Bytes(), nil
}

func unmarshalPayload(raw []byte, out interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(out); err != nil {
		return fmt.Errorf("rpc: payload decode failed, %w", err)
	}
	return nil
}
