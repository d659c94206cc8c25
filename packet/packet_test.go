package packet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/craigwin-ni/daemonlib/errs"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	p := Packet{
		Header: Header{UID: 0xdeadbeef, Length: 3, FunctionID: 7, SeqFlags: 1, ErrorReserved: 0},
		Payload: []byte{1, 2, 3},
	}
	wire, err := Encode(p)
	require.NoError(t, err)
	require.Len(t, wire, HeaderSize+3)

	got, err := Decode(wire)
	require.NoError(t, err)
	require.Equal(t, p.Header, got.Header)
	require.Equal(t, p.Payload, got.Payload)
}

func TestEncodeRejectsOversizedPayload(t *testing.T) {
	_, err := Encode(Packet{Payload: make([]byte, MaxPayloadSize+1)})
	require.ErrorIs(t, err, &errs.Error{Kind: errs.TooBig})
}

func TestDecodeRejectsShortBuffer(t *testing.T) {
	_, err := Decode([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeRejectsTruncatedPayload(t *testing.T) {
	buf := []byte{0, 0, 0, 0, 5, 0, 0, 0} // Length=5 but no payload bytes follow
	_, err := Decode(buf)
	require.Error(t, err)
}
