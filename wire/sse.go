package wire

import "bytes"

// doneSentinel is the literal payload OpenAI-style APIs send as the last
// record of a stream. It terminates decoding without being emitted.
var doneSentinel = []byte("[DONE]")

// Event is one decoded server-sent-events record.
type Event struct {
	// Name is the value of the record's event field, empty for unnamed
	// records. Anthropic-style APIs dispatch on it; OpenAI-style APIs
	// leave it empty.
	Name string

	// Data holds the record's data field values joined with newlines,
	// per the SSE specification.
	Data []byte
}

// SSEDecoder incrementally splits a byte stream into SSE records.
// A record ends at a blank line; partial records are buffered until
// their terminator arrives. The zero value is ready to use.
type SSEDecoder struct {
	buf  []byte
	done bool
}

// Feed appends p to the internal buffer and returns all complete records
// that became available. After the [DONE] sentinel has been seen the
// decoder discards all further input.
func (d *SSEDecoder) Feed(p []byte) ([]Event, error) {
	if d.done {
		return nil, nil
	}
	d.buf = append(d.buf, p...)

	var events []Event
	for {
		record, rest, ok := nextRecord(d.buf)
		if !ok {
			break
		}
		d.buf = rest

		ev, hasData := parseRecord(record)
		if !hasData {
			continue
		}
		if bytes.Equal(ev.Data, doneSentinel) {
			d.done = true
			d.buf = nil
			break
		}
		events = append(events, ev)
	}
	return events, nil
}

// Done reports whether the [DONE] sentinel has been decoded.
func (d *SSEDecoder) Done() bool { return d.done }

// Buffered returns the number of bytes held back waiting for a record
// terminator.
func (d *SSEDecoder) Buffered() int { return len(d.buf) }

// nextRecord scans buf for a blank-line record terminator, accepting both
// LF and CRLF line endings. It returns the record bytes (without the
// terminator), the remaining buffer, and whether a complete record was
// found.
func nextRecord(buf []byte) (record, rest []byte, ok bool) {
	for i := 0; i < len(buf); i++ {
		if buf[i] != '\n' {
			continue
		}
		j := i + 1
		if j < len(buf) && buf[j] == '\r' {
			j++
		}
		if j < len(buf) && buf[j] == '\n' {
			return buf[:i], buf[j+1:], true
		}
	}
	return nil, buf, false
}

// parseRecord extracts the event name and concatenated data payload from
// one record. Records carrying no data field (comments, heartbeats, bare
// event lines) report hasData false and are skipped by the caller.
func parseRecord(record []byte) (ev Event, hasData bool) {
	var data [][]byte
	for _, line := range bytes.Split(record, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 || line[0] == ':' {
			continue
		}

		field, value, found := bytes.Cut(line, []byte(":"))
		if !found {
			// A field name with no colon has an empty value.
			field, value = line, nil
		}
		value = bytes.TrimPrefix(value, []byte(" "))

		switch string(field) {
		case "event":
			ev.Name = string(value)
		case "data":
			data = append(data, value)
			hasData = true
		}
	}
	if hasData {
		ev.Data = bytes.Join(data, []byte("\n"))
	}
	return ev, hasData
}
