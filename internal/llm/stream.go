package llm

import (
	"context"
	"io"
)

// ChunkStream delivers normalized chunks in arrival order. Recv returns
// io.EOF once the stream is exhausted. A stream has a single consumer and
// cannot be restarted.
type ChunkStream interface {
	Recv() (Chunk, error)
	Close() error
}

type streamItem struct {
	chunk Chunk
	err   error
}

type channelStream struct {
	ctx    context.Context
	cancel context.CancelFunc
	items  <-chan streamItem
}

// newChunkStream runs producer on its own goroutine. The producer emits
// chunks with send; a returned error is delivered after every chunk it
// already sent.
func newChunkStream(ctx context.Context, run func(context.Context, chan<- streamItem) error) ChunkStream {
	streamCtx, cancel := context.WithCancel(ctx)
	ch := make(chan streamItem, 16)
	go func() {
		defer close(ch)
		if err := run(streamCtx, ch); err != nil {
			select {
			case ch <- streamItem{err: err}:
			case <-streamCtx.Done():
			}
		}
	}()
	return &channelStream{ctx: streamCtx, cancel: cancel, items: ch}
}

// send emits one chunk, giving up when ctx is done.
func send(ctx context.Context, ch chan<- streamItem, c Chunk) error {
	select {
	case <-ctx.Done():
		return context.Cause(ctx)
	case ch <- streamItem{chunk: c}:
		return nil
	}
}

func (s *channelStream) Recv() (Chunk, error) {
	// Buffered items win over a concurrent cancellation so a trailing
	// usage or done chunk is not lost.
	select {
	case item, ok := <-s.items:
		return item.unpack(ok)
	default:
	}

	select {
	case <-s.ctx.Done():
		return Chunk{}, context.Cause(s.ctx)
	case item, ok := <-s.items:
		return item.unpack(ok)
	}
}

func (s *channelStream) Close() error {
	s.cancel()
	return nil
}

func (i streamItem) unpack(ok bool) (Chunk, error) {
	if !ok {
		return Chunk{}, io.EOF
	}
	if i.err != nil {
		return Chunk{}, i.err
	}
	return i.chunk, nil
}
