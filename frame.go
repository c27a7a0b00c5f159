package ipcpipe

import "encoding/binary"

// FrameHeaderSize is the fixed 8-byte on-wire header: a little-endian u32
// message id followed by a little-endian u32 payload size.
const FrameHeaderSize = 8

// DefaultMaxMessageSize is the codec ceiling from spec §3/§6: 128 MiB.
const DefaultMaxMessageSize = 128 * 1024 * 1024

// DefaultReadChunk is the amount a receive buffer grows by on each
// submitted read, per spec §4.C/§6.
const DefaultReadChunk = 4096

// Message is a contiguous on-wire buffer: an 8-byte FrameHeader followed by
// exactly Size() payload bytes. There is no separate serialization step;
// the buffer IS the wire representation (spec §3).
type Message struct {
	buf []byte
}

// NewMessage builds a Message by copying payload after a freshly written
// header. id is truncated to 32 bits; payload may be nil.
func NewMessage(id uint32, payload []byte) *Message {
	buf := make([]byte, FrameHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], id)
	binary.LittleEndian.PutUint32(buf[4:8], uint32(len(payload)))
	copy(buf[FrameHeaderSize:], payload)
	return &Message{buf: buf}
}

// messageFromFrame copies an already-framed byte slice (header + payload)
// into a new Message as is, without rewriting the header; used by the
// decoder, which has already validated the slice bounds.
func messageFromFrame(frame []byte) *Message {
	buf := make([]byte, len(frame))
	copy(buf, frame)
	return &Message{buf: buf}
}

// ID returns the message_id field of the header.
func (m *Message) ID() uint32 { return binary.LittleEndian.Uint32(m.buf[0:4]) }

// Size returns the payload_size field of the header.
func (m *Message) Size() uint32 { return binary.LittleEndian.Uint32(m.buf[4:8]) }

// Payload returns the bytes following the header. The returned slice
// aliases the Message's internal buffer; callers must not retain it across
// the Message being reused.
func (m *Message) Payload() []byte { return m.buf[FrameHeaderSize:] }

// Bytes returns the full on-wire representation (header + payload).
func (m *Message) Bytes() []byte { return m.buf }

// frameDecoder implements spec §4.E: it operates over a channel's growing
// receive buffer, re-framing across however many Read completions a
// message happens to span, including a pathological one-byte-at-a-time
// stream.
type frameDecoder struct {
	maxMessageSize uint32
	buf            []byte
}

func newFrameDecoder(maxMessageSize uint32) *frameDecoder {
	if maxMessageSize == 0 {
		maxMessageSize = DefaultMaxMessageSize
	}
	return &frameDecoder{maxMessageSize: maxMessageSize}
}

// feed appends newly-read bytes and extracts every whole frame now
// available. protocolErr is non-nil (ErrProtocol) the instant a header
// advertises a size beyond the configured ceiling; per spec §4.E step 2b
// this is checked before any attempt to buffer the (possibly enormous)
// payload.
func (d *frameDecoder) feed(chunk []byte) (messages []*Message, protocolErr error) {
	d.buf = append(d.buf, chunk...)

	cursor := 0
	n := len(d.buf)
	for n-cursor >= FrameHeaderSize {
		size := binary.LittleEndian.Uint32(d.buf[cursor+4 : cursor+8])
		if size > d.maxMessageSize {
			return messages, ErrProtocol
		}
		frameLen := FrameHeaderSize + int(size)
		if n-cursor < frameLen {
			break
		}
		messages = append(messages, messageFromFrame(d.buf[cursor:cursor+frameLen]))
		cursor += frameLen
	}

	if cursor > 0 {
		remaining := n - cursor
		// Retain only the tail; never shrink capacity below a single read
		// chunk so the next submitted read doesn't immediately have to
		// reallocate.
		tail := make([]byte, remaining, max(remaining, DefaultReadChunk))
		copy(tail, d.buf[cursor:n])
		d.buf = tail
	}

	return messages, nil
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
