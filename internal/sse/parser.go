// Package sse implements an incremental server-sent-events decoder. Unlike a
// line scanner over a complete body, the parser accepts chunks of arbitrary
// size and boundary, which is what an HTTP response body delivers under load.
package sse

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// EventEndOfStream is the synthetic terminal frame emitted when the
// underlying stream closes.
const EventEndOfStream = "end-of-stream"

// Frame is one decoded SSE record. Data holds the JSON-decoded value of the
// joined data lines, or the raw string when the payload is not valid JSON.
// Raw always holds the joined data lines as received.
type Frame struct {
	Event string
	ID    string
	Data  any
	Raw   string
}

// Parser accumulates bytes and emits frames as complete records arrive.
// The zero value is ready to use.
type Parser struct {
	buf       bytes.Buffer
	event     string
	id        string
	dataLines []string
	sawField  bool
}

// Feed appends a chunk and returns any frames completed by it.
func (p *Parser) Feed(chunk []byte) []Frame {
	p.buf.Write(chunk)
	var frames []Frame
	for {
		raw := p.buf.Bytes()
		idx := bytes.IndexByte(raw, '\n')
		if idx < 0 {
			break
		}
		line := string(raw[:idx])
		p.buf.Next(idx + 1)
		line = strings.TrimSuffix(line, "\r")
		if frame, ok := p.consumeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	return frames
}

// Close flushes a trailing partial record and emits the terminal frame.
func (p *Parser) Close() []Frame {
	var frames []Frame
	if p.buf.Len() > 0 {
		line := strings.TrimSuffix(p.buf.String(), "\r")
		p.buf.Reset()
		if frame, ok := p.consumeLine(line); ok {
			frames = append(frames, frame)
		}
	}
	if frame, ok := p.dispatch(); ok {
		frames = append(frames, frame)
	}
	frames = append(frames, Frame{Event: EventEndOfStream})
	return frames
}

func (p *Parser) consumeLine(line string) (Frame, bool) {
	if line == "" {
		return p.dispatch()
	}
	if strings.HasPrefix(line, ":") {
		// Comment / keepalive.
		return Frame{}, false
	}
	field, value := splitField(line)
	switch field {
	case "event":
		p.event = value
		p.sawField = true
	case "id":
		p.id = value
		p.sawField = true
	case "data":
		p.dataLines = append(p.dataLines, value)
		p.sawField = true
	}
	return Frame{}, false
}

// dispatch finalizes the pending record. A separator with no accumulated
// fields is a pure keepalive and produces nothing.
func (p *Parser) dispatch() (Frame, bool) {
	if !p.sawField {
		return Frame{}, false
	}
	raw := strings.Join(p.dataLines, "\n")
	frame := Frame{Event: p.event, ID: p.id, Raw: raw, Data: decodeData(raw)}
	p.event = ""
	p.id = ""
	p.dataLines = nil
	p.sawField = false
	return frame, true
}

func splitField(line string) (string, string) {
	idx := strings.IndexByte(line, ':')
	if idx < 0 {
		return line, ""
	}
	value := line[idx+1:]
	// A single leading space after the colon is part of the delimiter.
	value = strings.TrimPrefix(value, " ")
	return line[:idx], value
}

func decodeData(raw string) any {
	if raw == "" {
		return ""
	}
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// Stream reads r to EOF and invokes fn for every frame, including the
// terminal end-of-stream frame. A non-nil error from fn aborts the read.
func Stream(ctx context.Context, r io.Reader, fn func(Frame) error) error {
	var p Parser
	chunk := make([]byte, 32*1024)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(chunk)
		if n > 0 {
			for _, frame := range p.Feed(chunk[:n]) {
				if fnErr := fn(frame); fnErr != nil {
					return fnErr
				}
			}
		}
		if err != nil {
			if err != io.EOF {
				return err
			}
			break
		}
	}
	for _, frame := range p.Close() {
		if err := fn(frame); err != nil {
			return err
		}
	}
	return nil
}
