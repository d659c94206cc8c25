// Package base58 renders a Packet's UID field for logging and
// diagnostics. The codec itself is a thin wrapper over
// github.com/mr-tron/base58 — daemonlib's core never needs to decode a
// UID, only display one, so no custom alphabet or checksum scheme is
// implemented here.
package base58

import (
	"encoding/binary"

	"github.com/mr-tron/base58"
)

// EncodeUID renders a packet UID the way Tinkerforge-style device IDs
// are conventionally displayed: as the base58 encoding of its
// little-endian 4-byte form.
func EncodeUID(uid uint32) string {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uid)
	return base58.Encode(buf[:])
}

// DecodeUID reverses EncodeUID.
func DecodeUID(s string) (uint32, error) {
	b, err := base58.Decode(s)
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	copy(buf[:], b)
	return binary.LittleEndian.Uint32(buf[:]), nil
}
