// Package packet implements the wire boundary envelope (§6): an 8-byte
// header followed by up to 72 bytes of opaque payload, total at most 80
// bytes. The core treats the payload as opaque beyond its self-declared
// length; the protocol built atop this envelope is out of scope.
//
// The envelope is fixed-size and tiny, so it is encoded with
// encoding/binary directly rather than through a general-purpose codec
// (see DESIGN.md for why no third-party serialization library in this
// corpus is a better fit for eight fixed bytes).
package packet

import (
	"encoding/binary"

	"github.com/craigwin-ni/daemonlib/errs"
)

const (
	// HeaderSize is the fixed size of Header in its wire encoding.
	HeaderSize = 8
	// MaxPayloadSize is the largest payload a Packet may carry.
	MaxPayloadSize = 72
	// MaxPacketSize is HeaderSize + MaxPayloadSize.
	MaxPacketSize = HeaderSize + MaxPayloadSize
)

// Header is the fixed 8-byte envelope header, little-endian on the wire.
type Header struct {
	UID           uint32
	Length        uint8
	FunctionID    uint8
	SeqFlags      uint8
	ErrorReserved uint8
}

// Packet is a header plus its declared payload.
type Packet struct {
	Header  Header
	Payload []byte
}

// Encode serializes p into its wire form. It fails if the payload
// exceeds MaxPayloadSize.
func Encode(p Packet) ([]byte, error) {
	if len(p.Payload) > MaxPayloadSize {
		return nil, errs.New("packet.Encode", errs.TooBig, "payload exceeds envelope capacity")
	}

	buf := make([]byte, HeaderSize+len(p.Payload))
	binary.LittleEndian.PutUint32(buf[0:4], p.Header.UID)
	buf[4] = p.Header.Length
	buf[5] = p.Header.FunctionID
	buf[6] = p.Header.SeqFlags
	buf[7] = p.Header.ErrorReserved
	copy(buf[HeaderSize:], p.Payload)
	return buf, nil
}

// Decode parses a wire-form envelope. The returned Packet's Payload
// shares storage with buf's tail; callers that retain it beyond buf's
// lifetime should copy.
func Decode(buf []byte) (Packet, error) {
	if len(buf) < HeaderSize {
		return Packet{}, errs.New("packet.Decode", errs.IO, "buffer shorter than header")
	}

	h := Header{
		UID:           binary.LittleEndian.Uint32(buf[0:4]),
		Length:        buf[4],
		FunctionID:    buf[5],
		SeqFlags:      buf[6],
		ErrorReserved: buf[7],
	}

	declared := HeaderSize + int(h.Length)
	if declared > len(buf) {
		return Packet{}, errs.New("packet.Decode", errs.IO, "declared length exceeds buffer")
	}
	if int(h.Length) > MaxPayloadSize {
		return Packet{}, errs.New("packet.Decode", errs.TooBig, "declared length exceeds envelope capacity")
	}

	return Packet{Header: h, Payload: buf[HeaderSize:declared]}, nil
}
