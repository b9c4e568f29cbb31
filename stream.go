package patchbay

import (
	"context"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/go-openapi/strfmt"
	"golang.org/x/sync/errgroup"

	"github.com/patchbay-ai/patchbay/provider"
	"github.com/patchbay-ai/patchbay/wire"
)

// streamBuffer bounds how many decoded chunks may pile up ahead of the
// consumer before the producer blocks. Backpressure, not a window.
const streamBuffer = 16

// Stream is a pull-based view of one streaming completion:
//
//	for stream.Next() {
//		chunk := stream.Current()
//		...
//	}
//	if err := stream.Err(); err != nil { ... }
//
// A Stream belongs to one consumer goroutine. Close releases the
// underlying connection and may be called from any goroutine; it is the
// way to abandon a stream early.
type Stream struct {
	cancel context.CancelFunc
	body   io.Closer
	group  *errgroup.Group
	ch     chan provider.StreamChunk
	meta   *promise[provider.Meta]

	current provider.StreamChunk
	err     error
	closed  atomic.Bool
}

// newStream takes ownership of resp.Body. cancel must cancel the context
// the request was built with, so that Close can abort an in-flight body
// read; the producer may otherwise block in Read for as long as the
// server stays silent.
func newStream(ctx context.Context, cancel context.CancelFunc, adapter provider.StreamingAdapter, resp *http.Response) *Stream {
	group, ctx := errgroup.WithContext(ctx)

	s := &Stream{
		cancel: cancel,
		body:   resp.Body,
		group:  group,
		ch:     make(chan provider.StreamChunk, streamBuffer),
		meta:   newPromise[provider.Meta](),
	}
	group.Go(func() error {
		defer close(s.ch)
		defer resp.Body.Close()
		err := s.produce(ctx, adapter, resp.Body)
		if err != nil {
			s.meta.resolve(provider.Meta{}, err)
		}
		return err
	})
	return s
}

// Next advances to the next chunk, blocking until one is available or the
// stream ends. It returns false at end of stream; Err distinguishes a
// clean end from a failure.
func (s *Stream) Next() bool {
	if s.closed.Load() || s.err != nil {
		return false
	}
	chunk, ok := <-s.ch
	if !ok {
		s.err = s.group.Wait()
		s.cancel()
		return false
	}
	s.current = chunk
	return true
}

// Current returns the chunk Next advanced to.
func (s *Stream) Current() provider.StreamChunk { return s.current }

// Err returns the error that terminated the stream, nil after a clean
// end.
func (s *Stream) Err() error { return s.err }

// Meta returns a future resolving to the stream's terminal metadata:
// usage counters and the finish reason. It resolves when the stream ends,
// with the stream's error if it did not end cleanly.
func (s *Stream) Meta() Future[provider.Meta] { return s.meta }

// Close abandons the stream and releases its connection. Chunks not yet
// consumed are dropped. Close is idempotent.
func (s *Stream) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	// Cancel the request context and close the body. Either alone
	// unblocks a producer stuck in Read on a silent connection.
	s.cancel()
	s.body.Close()
	_ = s.group.Wait()
	return nil
}

// produce reads the response body, drives the frame codec the adapter
// selected, and hands every decoded frame to the adapter. MetaChunks are
// folded into the terminal metadata as they pass through.
func (s *Stream) produce(ctx context.Context, adapter provider.StreamingAdapter, body io.Reader) error {
	var (
		state provider.DecoderState
		meta  provider.Meta
	)

	emit := func(frame provider.Frame) error {
		chunks, next, err := adapter.DecodeEvent(frame, state)
		if err != nil {
			return err
		}
		state = next
		for _, chunk := range chunks {
			if mc, ok := chunk.(provider.MetaChunk); ok {
				meta = mergeMeta(meta, mc.Meta)
			}
			select {
			case s.ch <- chunk:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		return nil
	}

	var (
		feed func(p []byte) error
		done func() bool
	)
	switch adapter.FrameProtocol() {
	case provider.FrameEventStream:
		var dec wire.EventStreamDecoder
		feed = func(p []byte) error {
			msgs, err := dec.Feed(p)
			if err != nil {
				return err
			}
			for _, msg := range msgs {
				if msg.MessageType() != "event" {
					return exceptionError(adapter.Name(), msg)
				}
				if err := emit(provider.Frame{Event: msg.EventType(), Data: msg.Payload}); err != nil {
					return err
				}
			}
			return nil
		}
		done = func() bool { return false }
	default:
		var dec wire.SSEDecoder
		feed = func(p []byte) error {
			events, err := dec.Feed(p)
			if err != nil {
				return err
			}
			for _, ev := range events {
				if err := emit(provider.Frame{Event: ev.Name, Data: ev.Data}); err != nil {
					return err
				}
			}
			return nil
		}
		done = dec.Done
	}

	buf := make([]byte, 32<<10)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if ferr := feed(buf[:n]); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF || done() {
			meta.Timestamp = strfmt.DateTime(time.Now().UTC())
			s.meta.resolve(meta, nil)
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return &provider.TransportError{Provider: adapter.Name(), Err: err}
		}
	}
}

// mergeMeta folds a partial metadata chunk into the running total.
// Providers split usage and finish reason across frames; non-zero fields
// win over earlier values.
func mergeMeta(have, update provider.Meta) provider.Meta {
	if update.FinishReason != "" {
		have.FinishReason = update.FinishReason
	}
	if update.Usage.InputTokens != 0 {
		have.Usage.InputTokens = update.Usage.InputTokens
	}
	if update.Usage.OutputTokens != 0 {
		have.Usage.OutputTokens = update.Usage.OutputTokens
	}
	if update.Usage.ReasoningTokens != 0 {
		have.Usage.ReasoningTokens = update.Usage.ReasoningTokens
	}
	if update.Usage.CachedTokens != 0 {
		have.Usage.CachedTokens = update.Usage.CachedTokens
	}
	return have
}

// exceptionError turns an event-stream exception or error frame into an
// APIResponseError. The frame arrives on an accepted response, so the
// status is the stream's own; the frame's type header becomes the code
// when the payload does not carry one.
func exceptionError(name string, msg wire.Message) error {
	apiErr := provider.APIError(name, http.StatusOK, msg.Payload)
	if apiErr.Code == "" {
		apiErr.Code = msg.EventType()
	}
	return apiErr
}
