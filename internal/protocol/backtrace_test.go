package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushIDSetsOriginatorBit(t *testing.T) {
	hdr := PushID(nil, 42, true)
	require.NotZero(t, hdr[0]&0x80, "the originator's id must carry the high bit on the wire")
	id, ok := TopID(hdr)
	require.True(t, ok)
	require.Equal(t, uint32(42), id)
}

func TestPeelBacktraceStopsAtOriginator(t *testing.T) {
	hdr := PushID(nil, 7, true)
	hdr = append([]byte{0, 0, 0, 99}, hdr...) // a forwarder's non-originator id in front

	bt, origin, rest, ok := PeelBacktrace(hdr)
	require.True(t, ok)
	require.Equal(t, uint32(7), origin)
	require.Empty(t, rest)
	require.Len(t, bt, 8)
}

func TestPeelBacktraceNoOriginator(t *testing.T) {
	hdr := []byte{0, 0, 0, 1, 0, 0, 0, 2}
	_, _, _, ok := PeelBacktrace(hdr)
	require.False(t, ok)
}

func TestTopIDShortHeader(t *testing.T) {
	_, ok := TopID([]byte{1, 2, 3})
	require.False(t, ok)
}
