package wire

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"time"

	"github.com/google/uuid"
)

// Frame layout:
//
//	[4 bytes total length][4 bytes header length][headers][payload][4 bytes CRC32]
//
// total length covers the entire frame including both length words and the
// checksum; the CRC32 (IEEE) is computed over everything before the
// checksum field. Headers are a flat name/type/value list.
const (
	esPreludeLen = 8
	esCRCLen     = 4
	esMinFrame   = esPreludeLen + esCRCLen

	// maxFrameSize bounds a single frame. Anything larger is treated as
	// corruption rather than buffered indefinitely.
	maxFrameSize = 16 << 20
)

// HeaderType identifies the wire encoding of an event-stream header value.
type HeaderType byte

const (
	HeaderTypeBoolTrue  HeaderType = 0
	HeaderTypeBoolFalse HeaderType = 1
	HeaderTypeByte      HeaderType = 2
	HeaderTypeInt16     HeaderType = 3
	HeaderTypeInt32     HeaderType = 4
	HeaderTypeInt64     HeaderType = 5
	HeaderTypeBytes     HeaderType = 6
	HeaderTypeString    HeaderType = 7
	HeaderTypeTimestamp HeaderType = 8
	HeaderTypeUUID      HeaderType = 9
)

// Header is one event-stream frame header.
type Header struct {
	Name  string
	Type  HeaderType
	Value any
}

// StringHeader builds a string-typed header.
func StringHeader(name, value string) Header {
	return Header{Name: name, Type: HeaderTypeString, Value: value}
}

// StringValue returns the header value as a string, or "" when the header
// holds a non-string value.
func (h Header) StringValue() string {
	s, _ := h.Value.(string)
	return s
}

// Message is one decoded event-stream frame.
type Message struct {
	Headers []Header
	Payload []byte
}

// Header returns the named header, if present.
func (m Message) Header(name string) (Header, bool) {
	for _, h := range m.Headers {
		if h.Name == name {
			return h, true
		}
	}
	return Header{}, false
}

// MessageType returns the value of the ":message-type" header
// ("event", "exception" or "error"), defaulting to "event".
func (m Message) MessageType() string {
	if h, ok := m.Header(":message-type"); ok {
		return h.StringValue()
	}
	return "event"
}

// EventType returns the frame's dispatch key: the ":event-type" header for
// events, the ":exception-type" header for exceptions, or the ":error-code"
// header for transport-level error frames.
func (m Message) EventType() string {
	for _, name := range []string{":event-type", ":exception-type", ":error-code"} {
		if h, ok := m.Header(name); ok {
			return h.StringValue()
		}
	}
	return ""
}

// EventStreamDecoder incrementally decodes binary event-stream frames.
// It validates frame lengths and the trailing CRC32 before emitting a
// frame; any integrity violation poisons the decoder, which then refuses
// all further input. The zero value is ready to use.
type EventStreamDecoder struct {
	buf []byte
	err error
}

// Feed appends p to the internal buffer and returns all complete,
// integrity-checked frames that became available. Once a FramingError has
// been returned, every subsequent call returns the same error and no
// frames.
func (d *EventStreamDecoder) Feed(p []byte) ([]Message, error) {
	if d.err != nil {
		return nil, d.err
	}
	d.buf = append(d.buf, p...)

	var msgs []Message
	for len(d.buf) >= esMinFrame {
		total := binary.BigEndian.Uint32(d.buf[0:4])
		if total < esMinFrame || total > maxFrameSize {
			d.fail(framingErrf("event-stream", "invalid frame length %d", total))
			return nil, d.err
		}
		headerLen := binary.BigEndian.Uint32(d.buf[4:8])
		if headerLen > total-esMinFrame {
			d.fail(framingErrf("event-stream", "header length %d exceeds frame length %d", headerLen, total))
			return nil, d.err
		}
		if uint32(len(d.buf)) < total {
			break
		}

		frame := d.buf[:total]
		want := binary.BigEndian.Uint32(frame[total-esCRCLen:])
		got := crc32.ChecksumIEEE(frame[:total-esCRCLen])
		if want != got {
			d.fail(framingErrf("event-stream", "checksum mismatch: frame says %08x, computed %08x", want, got))
			return nil, d.err
		}

		headers, err := decodeHeaders(frame[esPreludeLen : esPreludeLen+headerLen])
		if err != nil {
			d.fail(err)
			return nil, d.err
		}

		payload := make([]byte, total-esPreludeLen-headerLen-esCRCLen)
		copy(payload, frame[esPreludeLen+headerLen:total-esCRCLen])
		msgs = append(msgs, Message{Headers: headers, Payload: payload})

		d.buf = d.buf[total:]
	}
	return msgs, nil
}

// Buffered returns the number of bytes held back waiting for the rest of
// a frame.
func (d *EventStreamDecoder) Buffered() int { return len(d.buf) }

func (d *EventStreamDecoder) fail(err error) {
	d.err = err
	d.buf = nil
}

func decodeHeaders(b []byte) ([]Header, error) {
	var headers []Header
	for len(b) > 0 {
		nameLen := int(b[0])
		b = b[1:]
		if len(b) < nameLen+1 {
			return nil, framingErrf("event-stream", "truncated header name")
		}
		name := string(b[:nameLen])
		typ := HeaderType(b[nameLen])
		b = b[nameLen+1:]

		value, rest, err := decodeHeaderValue(typ, b)
		if err != nil {
			return nil, err
		}
		headers = append(headers, Header{Name: name, Type: typ, Value: value})
		b = rest
	}
	return headers, nil
}

func decodeHeaderValue(typ HeaderType, b []byte) (any, []byte, error) {
	need := func(n int) error {
		if len(b) < n {
			return framingErrf("event-stream", "truncated header value of type %d", typ)
		}
		return nil
	}

	switch typ {
	case HeaderTypeBoolTrue:
		return true, b, nil
	case HeaderTypeBoolFalse:
		return false, b, nil
	case HeaderTypeByte:
		if err := need(1); err != nil {
			return nil, nil, err
		}
		return int8(b[0]), b[1:], nil
	case HeaderTypeInt16:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		return int16(binary.BigEndian.Uint16(b)), b[2:], nil
	case HeaderTypeInt32:
		if err := need(4); err != nil {
			return nil, nil, err
		}
		return int32(binary.BigEndian.Uint32(b)), b[4:], nil
	case HeaderTypeInt64:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		return int64(binary.BigEndian.Uint64(b)), b[8:], nil
	case HeaderTypeBytes, HeaderTypeString:
		if err := need(2); err != nil {
			return nil, nil, err
		}
		n := int(binary.BigEndian.Uint16(b))
		if err := need(2 + n); err != nil {
			return nil, nil, err
		}
		if typ == HeaderTypeString {
			return string(b[2 : 2+n]), b[2+n:], nil
		}
		v := make([]byte, n)
		copy(v, b[2:2+n])
		return v, b[2+n:], nil
	case HeaderTypeTimestamp:
		if err := need(8); err != nil {
			return nil, nil, err
		}
		ms := int64(binary.BigEndian.Uint64(b))
		return time.UnixMilli(ms).UTC(), b[8:], nil
	case HeaderTypeUUID:
		if err := need(16); err != nil {
			return nil, nil, err
		}
		id, err := uuid.FromBytes(b[:16])
		if err != nil {
			return nil, nil, framingErrf("event-stream", "invalid uuid header: %v", err)
		}
		return id, b[16:], nil
	default:
		return nil, nil, framingErrf("event-stream", "unknown header type %d", typ)
	}
}

// MarshalBinary encodes the message as one event-stream frame. Used by
// test stubs and any component that needs to speak the protocol from the
// serving side.
func (m Message) MarshalBinary() ([]byte, error) {
	var headers []byte
	for _, h := range m.Headers {
		hb, err := encodeHeader(h)
		if err != nil {
			return nil, err
		}
		headers = append(headers, hb...)
	}

	total := esPreludeLen + len(headers) + len(m.Payload) + esCRCLen
	frame := make([]byte, 0, total)
	frame = binary.BigEndian.AppendUint32(frame, uint32(total))
	frame = binary.BigEndian.AppendUint32(frame, uint32(len(headers)))
	frame = append(frame, headers...)
	frame = append(frame, m.Payload...)
	frame = binary.BigEndian.AppendUint32(frame, crc32.ChecksumIEEE(frame))
	return frame, nil
}

func encodeHeader(h Header) ([]byte, error) {
	if len(h.Name) > 255 {
		return nil, fmt.Errorf("header name %q exceeds 255 bytes", h.Name)
	}
	out := append([]byte{byte(len(h.Name))}, h.Name...)
	out = append(out, byte(h.Type))

	switch h.Type {
	case HeaderTypeBoolTrue, HeaderTypeBoolFalse:
		return out, nil
	case HeaderTypeByte:
		v, ok := h.Value.(int8)
		if !ok {
			return nil, headerValueErr(h)
		}
		return append(out, byte(v)), nil
	case HeaderTypeInt16:
		v, ok := h.Value.(int16)
		if !ok {
			return nil, headerValueErr(h)
		}
		return binary.BigEndian.AppendUint16(out, uint16(v)), nil
	case HeaderTypeInt32:
		v, ok := h.Value.(int32)
		if !ok {
			return nil, headerValueErr(h)
		}
		return binary.BigEndian.AppendUint32(out, uint32(v)), nil
	case HeaderTypeInt64:
		v, ok := h.Value.(int64)
		if !ok {
			return nil, headerValueErr(h)
		}
		return binary.BigEndian.AppendUint64(out, uint64(v)), nil
	case HeaderTypeBytes:
		v, ok := h.Value.([]byte)
		if !ok {
			return nil, headerValueErr(h)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(v)))
		return append(out, v...), nil
	case HeaderTypeString:
		v, ok := h.Value.(string)
		if !ok {
			return nil, headerValueErr(h)
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(v)))
		return append(out, v...), nil
	case HeaderTypeTimestamp:
		v, ok := h.Value.(time.Time)
		if !ok {
			return nil, headerValueErr(h)
		}
		return binary.BigEndian.AppendUint64(out, uint64(v.UnixMilli())), nil
	case HeaderTypeUUID:
		v, ok := h.Value.(uuid.UUID)
		if !ok {
			return nil, headerValueErr(h)
		}
		return append(out, v[:]...), nil
	default:
		return nil, fmt.Errorf("unknown header type %d", h.Type)
	}
}

func headerValueErr(h Header) error {
	return fmt.Errorf("header %q: value %T does not match type %d", h.Name, h.Value, h.Type)
}
