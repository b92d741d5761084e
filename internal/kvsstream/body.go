package kvsstream

import (
	"context"

	"github.com/alxayo/go-kvsproducer/internal/contentview"
)

// Body adapts a content-view reading cursor into an upload.Body,
// delivering bytes in strict offset order per spec.md §5's ordering
// guarantee. Multiple Bodies may read the same Stream concurrently
// during upload-session rotation (spec.md §4.9); each tracks its own
// cursor independently via contentview.Session.
type Body struct {
	stream *Stream
	cursor *contentview.Session
}

// NewBody starts a cursor at startOffset — typically the stream's
// current Checkpoint() for a brand new session, or a checkpointed
// offset when resuming.
func (s *Stream) NewBody(startOffset uint64) *Body {
	return &Body{stream: s, cursor: contentview.NewSession(startOffset)}
}

// Next implements upload.Body: it blocks until the cursor's current
// item becomes available or ctx is done, then returns its bytes.
func (b *Body) Next(ctx context.Context) ([]byte, bool, error) {
	for {
		entry, ok := b.stream.view.CurrentItem(b.cursor)
		if ok {
			b.stream.mu.Lock()
			handle, hok := b.stream.handles[entry.Offset]
			b.stream.mu.Unlock()
			if !hok {
				// Already trimmed/freed (e.g. by a concurrent
				// overflow eviction) before this cursor reached it;
				// skip past it rather than sending stale bytes.
				if err := b.stream.view.Advance(b.cursor, entry.Size); err != nil {
					return nil, false, err
				}
				continue
			}
			data := append([]byte(nil), b.stream.store.Map(handle)...)
			if err := b.stream.view.Advance(b.cursor, entry.Size); err != nil {
				return nil, false, err
			}
			return data, true, nil
		}

		select {
		case <-ctx.Done():
			return nil, false, nil
		case <-b.stream.dataReady:
		}
	}
}

// Rollback moves the cursor back to the start of the fragment it is
// currently inside, for replay after a retriable upload-session
// failure, per spec.md §4.9/§4.10.
func (b *Body) Rollback() error {
	return b.stream.view.RollbackCurrentToFragmentStart(b.cursor)
}
