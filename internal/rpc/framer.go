// Package rpc implements the framed-TCP transport used for the Master <->
// Agent RPC surface described in spec.md §6 ("currentTimeMillis, abortRun"
// agent->master; "configure, start, stopAll, getResults" master->agent).
//
// Grounded directly on the teacher's comms package (sibench/../comms):
// a length-prefixed Framer wrapping a ByteConnection, with a pluggable
// Encoder on top. Generalized here into a synchronous call/response RPC
// layer, since the teacher's own SendReceive was left unimplemented and
// spec.md requires agents to block on master calls.
package rpc

import "fmt"

// maxMessageBytes bounds a single framed message. Every payload this
// protocol ever carries (a RunInfo, a metrics snapshot, an admin request)
// is orders of magnitude smaller than this; a length prefix beyond it is
// treated as a corrupt stream rather than trusted enough to allocate for.
const maxMessageBytes = 64 << 20

// ByteConnection is a byte-oriented read/write stream; net.Conn satisfies it.
type ByteConnection interface {
	Read(buffer []byte) (int, error)
	Write(buffer []byte) (int, error)
}

// Framer frames and unframes messages over a ByteConnection.
type Framer interface {
	Send(message []byte) error
	Receive() (message []byte, err error)
}

// preLengthFramer prefixes each message with a 4-byte little-endian length.
type preLengthFramer struct {
	conn ByteConnection
}

// NewPreLengthFramer builds a Framer over conn.
func NewPreLengthFramer(conn ByteConnection) Framer {
	return &preLengthFramer{conn: conn}
}

func (f *preLengthFramer) Send(message []byte) error {
	n := len(message)
	header := [4]byte{
		byte(n),
		byte(n >> 8),
		byte(n >> 16),
		byte(n >> 24),
	}
	if _, err := f.conn.Write(header[:]); err != nil {
		return err
	}
	_, err := f.conn.Write(message)
	return err
}

func (f *preLengthFramer) Receive() ([]byte, error) {
	header, err := f.receiveBytes(4)
	if err != nil {
		return nil, err
	}
	n := uint(header[0]) | uint(header[1])<<8 | uint(header[2])<<16 | uint(header[3])<<24
	if n > maxMessageBytes {
		return nil, fmt.Errorf("rpc: framed message length %d exceeds %d byte limit", n, maxMessageBytes)
	}
	return f.receiveBytes(n)
}

func (f *preLengthFramer) receiveBytes(count uint) ([]byte, error) {
	buffer := make([]byte, count)
	var index uint
	remaining := count
	for remaining > 0 {
		n, err := f.conn.Read(buffer[index:])
		if n < 0 {
			return nil, fmt.Errorf("rpc: connection returned negative byte count (%d)", n)
		}
		if err != nil {
			return nil, err
		}
		index += uint(n)
		remaining -= uint(n)
	}
	return buffer, nil
}
