// Package wire implements the fixed byte-level formats from spec.md
// §6: the 8-byte handshake and the 8-byte-length-prefixed frame.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HandshakeSize is the fixed size of the handshake exchanged in each
// direction before any user message may cross the wire.
const HandshakeSize = 8

// LengthPrefixSize is the size of the big-endian frame length prefix.
const LengthPrefixSize = 8

// Protocol ids, spec.md §6.
const (
	ProtoPair        uint16 = 16
	ProtoPub         uint16 = 32
	ProtoSub         uint16 = 33
	ProtoReq         uint16 = 48
	ProtoRep         uint16 = 49
	ProtoPush        uint16 = 80
	ProtoPull        uint16 = 81
	ProtoSurveyor    uint16 = 98
	ProtoRespondent  uint16 = 99
	ProtoBus         uint16 = 112
)

// PeerProtocol returns the protocol id a socket of protoID is expected
// to see from its peer across a pipe.
func PeerProtocol(protoID uint16) (uint16, bool) {
	switch protoID {
	case ProtoPair:
		return ProtoPair, true
	case ProtoPub:
		return ProtoSub, true
	case ProtoSub:
		return ProtoPub, true
	case ProtoReq:
		return ProtoRep, true
	case ProtoRep:
		return ProtoReq, true
	case ProtoPush:
		return ProtoPull, true
	case ProtoPull:
		return ProtoPush, true
	case ProtoSurveyor:
		return ProtoRespondent, true
	case ProtoRespondent:
		return ProtoSurveyor, true
	case ProtoBus:
		return ProtoBus, true
	default:
		return 0, false
	}
}

// BuildHandshake encodes `00 'S' 'P' 00 P1 P0 00 00` for protoID.
func BuildHandshake(protoID uint16) [HandshakeSize]byte {
	var b [HandshakeSize]byte
	b[0] = 0x00
	b[1] = 'S'
	b[2] = 'P'
	b[3] = 0x00
	binary.BigEndian.PutUint16(b[4:6], protoID)
	b[6] = 0x00
	b[7] = 0x00
	return b
}

// ParseHandshake validates a received handshake against the expected
// peer protocol id, per spec.md §4.3's HandshakeRx state.
func ParseHandshake(b []byte, expectedPeerProtoID uint16) error {
	if len(b) != HandshakeSize {
		return fmt.Errorf("wire: short handshake (%d bytes)", len(b))
	}
	if b[0] != 0x00 || b[1] != 'S' || b[2] != 'P' {
		return fmt.Errorf("wire: bad handshake magic")
	}
	if b[3] != 0x00 {
		return fmt.Errorf("wire: unsupported handshake version %d", b[3])
	}
	got := binary.BigEndian.Uint16(b[4:6])
	if got != expectedPeerProtoID {
		return fmt.Errorf("wire: peer protocol id %d, expected %d", got, expectedPeerProtoID)
	}
	return nil
}

// PutFrameLength writes the 8-byte big-endian length prefix.
func PutFrameLength(b []byte, length uint64) {
	binary.BigEndian.PutUint64(b, length)
}

// FrameLength reads the 8-byte big-endian length prefix.
func FrameLength(b []byte) uint64 {
	return binary.BigEndian.Uint64(b)
}
