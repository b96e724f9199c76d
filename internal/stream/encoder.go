package stream

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
)

// ContentType is the media type of an encoded stream.
const ContentType = "application/x-ndjson; charset=utf-8"

// Encoder writes events as newline-delimited JSON and flushes after each
// record so the client sees progress as it happens.
type Encoder struct {
	enc     *json.Encoder
	flusher http.Flusher
}

func NewEncoder(w io.Writer) *Encoder {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	f, _ := w.(http.Flusher)
	return &Encoder{enc: enc, flusher: f}
}

func (e *Encoder) Encode(ev Event) error {
	if err := e.enc.Encode(ev); err != nil {
		return err
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}

// Drain forwards events to send until the stream closes. When ctx ends or send
// fails the stream is abandoned and the error returned; the producer keeps
// running to completion on its own.
func Drain(ctx context.Context, s *Stream, send func(Event) error) error {
	for {
		select {
		case <-ctx.Done():
			s.Abandon()
			return ctx.Err()
		case ev, ok := <-s.Events():
			if !ok {
				return nil
			}
			if err := send(ev); err != nil {
				s.Abandon()
				return err
			}
		}
	}
}
