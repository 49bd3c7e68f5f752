package tgen

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// Wire message types: a length-prefixed header plus typed payload,
// extended with the fields a Transfer needs to negotiate size and
// forwarding labels.
const (
	wireTypeRequest byte = 0x00
	wireTypeReply   byte = 0x01
)

// wireHeaderSize is the fixed portion of every frame: 1 byte type + 8
// byte requestedSize + 2 byte labelLen.
const wireHeaderSize = 1 + 8 + 2

// WireMessage is the minimal framed request/response a Transfer speaks
// on the wire. The driver treats the protocol as opaque except for
// the forward-serve/forward-return peer label and arrival time; this
// is a concrete, swappable default, not a hardcoded assumption baked
// into Transfer itself.
type WireMessage struct {
	Type          byte
	RequestedSize uint64
	Label         string
}

// Encode writes the message to w in
// [type:1][requestedSize:8][labelLen:2][label:N] form.
func (m WireMessage) Encode(w io.Writer) error {
	var buf bytes.Buffer
	buf.Grow(wireHeaderSize + len(m.Label))
	buf.WriteByte(m.Type)
	var sizeBuf [8]byte
	binary.BigEndian.PutUint64(sizeBuf[:], m.RequestedSize)
	buf.Write(sizeBuf[:])
	var labelLenBuf [2]byte
	binary.BigEndian.PutUint16(labelLenBuf[:], uint16(len(m.Label)))
	buf.Write(labelLenBuf[:])
	buf.WriteString(m.Label)
	_, err := w.Write(buf.Bytes())
	return err
}

// DecodeWireMessage reads one WireMessage from r. It returns io.EOF only
// if r is exhausted before any byte of a new message is read.
func DecodeWireMessage(r io.Reader) (WireMessage, error) {
	var header [wireHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return WireMessage{}, err
	}
	m := WireMessage{
		Type:          header[0],
		RequestedSize: binary.BigEndian.Uint64(header[1:9]),
	}
	labelLen := binary.BigEndian.Uint16(header[9:11])
	if labelLen > 0 {
		label := make([]byte, labelLen)
		if _, err := io.ReadFull(r, label); err != nil {
			return WireMessage{}, fmt.Errorf("tgen: short wire label: %w", err)
		}
		m.Label = string(label)
	}
	return m, nil
}
