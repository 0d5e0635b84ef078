// Package sse decodes the data payloads of a text/event-stream body that may
// arrive in arbitrarily split chunks.
package sse

import (
	"bytes"
	"strings"
)

const dataPrefix = "data:"

// Decoder buffers partial events between reads. The zero value is ready to use.
type Decoder struct {
	buf []byte
}

// Feed appends chunk and returns the data payload of every event it completes,
// in order. Events without a data field are dropped.
func (d *Decoder) Feed(chunk []byte) []string {
	d.buf = append(d.buf, chunk...)

	var out []string
	for {
		end, width := eventBoundary(d.buf)
		if end < 0 {
			break
		}
		if payload, ok := parseEvent(d.buf[:end]); ok {
			out = append(out, payload)
		}
		d.buf = d.buf[end+width:]
	}
	return out
}

// Flush returns the payload of a trailing event that was never terminated by a
// blank line, and resets the decoder.
func (d *Decoder) Flush() (string, bool) {
	rest := d.buf
	d.buf = nil
	if len(bytes.TrimSpace(rest)) == 0 {
		return "", false
	}
	return parseEvent(rest)
}

// eventBoundary finds the first blank line, accepting LF and CRLF line endings.
func eventBoundary(b []byte) (int, int) {
	lf := bytes.Index(b, []byte("\n\n"))
	crlf := bytes.Index(b, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

func parseEvent(raw []byte) (string, bool) {
	var (
		data  []string
		found bool
	)
	for _, line := range strings.Split(string(raw), "\n") {
		line = strings.TrimSuffix(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		value := strings.TrimPrefix(line, dataPrefix)
		value = strings.TrimPrefix(value, " ")
		data = append(data, value)
		found = true
	}
	if !found {
		return "", false
	}
	return strings.Join(data, "\n"), true
}
