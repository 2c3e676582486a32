// Package msg defines the wire-level message value shared by every
// protocol engine: a pair of byte slices (a protocol-private header and
// a user payload body), plus the reference-counting needed to fan a
// single message out to several pipes during broadcast (Pub, Surveyor,
// Bus) without copying the body for each peer.
package msg

import "sync/atomic"

// Message is a pair of byte vectors: Header is protocol-private framing
// (request-reply backtrace, survey id stack, ...), Body is the user
// payload. Len() is |Header|+|Body|, matching the wire frame length.
//
// A Message is normally passed by move (one owner at a time). When a
// protocol engine needs to fan it out to multiple pipes it must call
// Share() once per extra owner and Release() exactly once per Share
// (including the original owner's share) so the backing arrays are
// freed only after the last pipe is done writing from its own cursor.
type Message struct {
	Header []byte
	Body   []byte

	refs *int32
}

// New builds a message with no header, a single owner.
func New(body []byte) *Message {
	n := int32(1)
	return &Message{Body: body, refs: &n}
}

// NewWithHeader builds a message with an existing protocol header.
func NewWithHeader(header, body []byte) *Message {
	n := int32(1)
	return &Message{Header: header, Body: body, refs: &n}
}

// Len returns the total wire length of the message.
func (m *Message) Len() int {
	return len(m.Header) + len(m.Body)
}

// Share returns a new *Message referencing the same underlying bytes,
// bumping the shared refcount. Callers must not mutate Header/Body
// in place after sharing.
func (m *Message) Share() *Message {
	atomic.AddInt32(m.refs, 1)
	return &Message{Header: m.Header, Body: m.Body, refs: m.refs}
}

// Release drops one reference. It is safe, and expected, to call this
// once per Share plus once for the original message.
func (m *Message) Release() {
	atomic.AddInt32(m.refs, -1)
}

// WithHeader returns a shallow copy of m with a replaced header. Used
// by Req/Rep/Surveyor/Respondent to push/pop backtrace frames without
// disturbing the shared body.
func (m *Message) WithHeader(header []byte) *Message {
	return &Message{Header: header, Body: m.Body, refs: m.refs}
}
