package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodePingRoundTrip(t *testing.T) {
	in := &Ping{
		Nonce:            42,
		SnapshotPriority: SnapshotPriority{Importance: 1, Height: 100},
	}
	buf, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestDecodeRejectsCorruptedChecksum(t *testing.T) {
	buf, err := Encode(&Ping{Nonce: 7})
	require.NoError(t, err)
	buf[len(buf)-1] ^= 0xFF

	_, err = Decode(buf)
	require.Error(t, err)
	var offense *OffenseError
	require.ErrorAs(t, err, &offense)
	require.Equal(t, ReasonChecksum, offense.Reason)
}

func TestEncodeDecodeAppendRoundTrip(t *testing.T) {
	in := &Append{
		Headers: []Header{
			{Height: 1, Bits: 0x1d00ffff},
			{Height: 2, Bits: 0x1d00ffff},
		},
	}
	buf, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(buf)
	require.NoError(t, err)
	require.Equal(t, in, out)
}
