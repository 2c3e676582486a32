package protocol

import "encoding/binary"

const idSize = 4
const originatorBit = uint32(1) << 31

// PushID prepends a fresh 4-byte big-endian routing id to header,
// becoming the new top of the backtrace stack (spec.md §4.5.3). The
// originating Req/Surveyor sets originator true so the high bit is
// set; an intermediary forwarder would pass false.
func PushID(header []byte, id uint32, originator bool) []byte {
	if originator {
		id |= originatorBit
	} else {
		id &^= originatorBit
	}
	buf := make([]byte, idSize+len(header))
	binary.BigEndian.PutUint32(buf[:idSize], id)
	copy(buf[idSize:], header)
	return buf
}

// PeelBacktrace consumes ids from the front of header, stopping at
// (and including) the first one whose high bit is set — the
// originator's id. It returns the consumed bytes as the backtrace to
// keep for the eventual reply, that id with the high bit cleared, and
// the remaining header bytes (normally empty in the one-hop case).
func PeelBacktrace(header []byte) (backtrace []byte, originID uint32, rest []byte, ok bool) {
	for off := 0; off+idSize <= len(header); off += idSize {
		v := binary.BigEndian.Uint32(header[off : off+idSize])
		if v&originatorBit != 0 {
			return header[:off+idSize], v &^ originatorBit, header[off+idSize:], true
		}
	}
	return nil, 0, header, false
}

// TopID reads the frontmost 4-byte id without consuming it, masking
// off the originator bit — used by Req to match a reply against its
// pending request id, and by Surveyor to match a vote against the
// current survey id.
func TopID(header []byte) (id uint32, ok bool) {
	if len(header) < idSize {
		return 0, false
	}
	return binary.BigEndian.Uint32(header[:idSize]) &^ originatorBit, true
}
