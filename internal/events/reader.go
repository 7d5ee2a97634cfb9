// Package events decodes newline-delimited JSON event streams.
package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/JakeFAU/sc2-map-indexer/internal/mapindex"
)

const maxLineBytes = 1 << 20

// ErrStream reports that the underlying stream can no longer be read, either
// because a line exceeded the size limit or the reader failed. It is terminal.
var ErrStream = errors.New("read events")

// Decode parses one event line of the form {"kind": "discover"|"revision", ...payload}.
func Decode(line []byte) (mapindex.Event, error) {
	var envelope struct {
		Kind mapindex.EventKind `json:"kind"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return mapindex.Event{}, fmt.Errorf("decode envelope: %w", err)
	}

	var ev mapindex.Event
	switch envelope.Kind {
	case mapindex.EventDiscover:
		var payload mapindex.DiscoverEvent
		if err := json.Unmarshal(line, &payload); err != nil {
			return mapindex.Event{}, fmt.Errorf("decode discover: %w", err)
		}
		ev = mapindex.NewDiscover(payload)
	case mapindex.EventRevision:
		var payload mapindex.RevisionEvent
		if err := json.Unmarshal(line, &payload); err != nil {
			return mapindex.Event{}, fmt.Errorf("decode revision: %w", err)
		}
		ev = mapindex.NewRevision(payload)
	default:
		return mapindex.Event{}, fmt.Errorf("unknown event kind %q", envelope.Kind)
	}
	if err := ev.Validate(); err != nil {
		return mapindex.Event{}, err
	}
	return ev, nil
}

// Reader yields events from an NDJSON stream. Blank lines are skipped.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	err     error
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	return &Reader{scanner: scanner}
}

// Next returns the next event, or io.EOF at the end of the stream.
// Decode errors carry the line number; the reader stays usable after them.
// Stream failures wrap ErrStream and are returned by every later call.
func (r *Reader) Next() (mapindex.Event, error) {
	if r.err != nil {
		return mapindex.Event{}, r.err
	}
	for r.scanner.Scan() {
		r.line++
		line := bytes.TrimSpace(r.scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		ev, err := Decode(line)
		if err != nil {
			return mapindex.Event{}, fmt.Errorf("line %d: %w", r.line, err)
		}
		return ev, nil
	}
	if err := r.scanner.Err(); err != nil {
		r.err = fmt.Errorf("%w after line %d: %w", ErrStream, r.line, err)
	} else {
		r.err = io.EOF
	}
	return mapindex.Event{}, r.err
}

// Line returns the number of the last line read.
func (r *Reader) Line() int {
	return r.line
}
