package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBuildAndParseHandshake(t *testing.T) {
	hs := BuildHandshake(ProtoReq)
	// a Rep socket expects its peer to announce Req.
	require.NoError(t, ParseHandshake(hs[:], ProtoReq))
}

func TestParseHandshakeRejectsWrongPeer(t *testing.T) {
	hs := BuildHandshake(ProtoPush)
	// a Push socket expects Pull, so another Push is the wrong peer.
	err := ParseHandshake(hs[:], ProtoPull)
	require.Error(t, err)
}

func TestParseHandshakeRejectsShort(t *testing.T) {
	err := ParseHandshake([]byte{0x00, 'S', 'P'}, ProtoPair)
	require.Error(t, err)
}

func TestPeerProtocolPairs(t *testing.T) {
	cases := map[uint16]uint16{
		ProtoPair:     ProtoPair,
		ProtoPub:      ProtoSub,
		ProtoSub:      ProtoPub,
		ProtoReq:      ProtoRep,
		ProtoRep:      ProtoReq,
		ProtoPush:     ProtoPull,
		ProtoPull:     ProtoPush,
		ProtoSurveyor: ProtoRespondent,
		ProtoBus:      ProtoBus,
	}
	for proto, want := range cases {
		got, ok := PeerProtocol(proto)
		require.True(t, ok)
		require.Equal(t, want, got)
	}
}

func TestFrameLengthRoundTrip(t *testing.T) {
	buf := make([]byte, LengthPrefixSize)
	PutFrameLength(buf, 1<<40)
	require.Equal(t, uint64(1<<40), FrameLength(buf))
}
