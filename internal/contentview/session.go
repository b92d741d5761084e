package contentview

import (
	"fmt"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/kvsmodel"
)

// Session is a reading cursor into a View — one per upload session.
// Multiple sessions may read the same view concurrently; each tracks its
// own position independently.
type Session struct {
	itemOffset uint64
	consumed   uint32
}

// NewSession starts a cursor at startOffset, which must be a live
// entry's offset or the view's current tail offset (typically the tail
// for a brand new stream, or a checkpointed offset when resuming).
func NewSession(startOffset uint64) *Session {
	return &Session{itemOffset: startOffset}
}

// CurrentItem returns the entry the session is positioned at. ok is
// false when the session has caught up to the tail and no further data
// is available yet.
func (v *View) CurrentItem(s *Session) (kvsmodel.ViewEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	e, _, ok := v.entryAtOffsetLocked(s.itemOffset)
	return e, ok
}

// Advance records that the session has consumed n more bytes of its
// current item, moving the cursor to the next item once the current one
// is fully consumed. Returns OUT_OF_RANGE if n would overrun the current
// item, or if the session isn't positioned at a live entry.
func (v *View) Advance(s *Session, n uint32) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	e, _, ok := v.entryAtOffsetLocked(s.itemOffset)
	if !ok {
		return kvserrors.New(kvserrors.OutOfRange, "contentview.Advance",
			fmt.Errorf("session not positioned at a live entry (offset %d)", s.itemOffset))
	}
	if s.consumed+n > e.Size {
		return kvserrors.New(kvserrors.OutOfRange, "contentview.Advance",
			fmt.Errorf("advance of %d bytes overruns item size %d (consumed %d)", n, e.Size, s.consumed))
	}
	s.consumed += n
	if s.consumed == e.Size {
		s.itemOffset = e.Offset + uint64(e.Size)
		s.consumed = 0
	}
	return nil
}

// Seek repositions the session to the start of the live entry at
// offset, or to the view's tail offset (leaving it caught up). Returns
// OUT_OF_RANGE if offset is neither the tail nor the start of a live
// entry (e.g. it was already trimmed, or lies mid-item).
func (v *View) Seek(s *Session, offset uint64) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if _, _, ok := v.entryAtOffsetLocked(offset); !ok && offset != v.nextOffset {
		return kvserrors.New(kvserrors.OutOfRange, "contentview.Seek",
			fmt.Errorf("offset %d does not start a live entry", offset))
	}
	s.itemOffset = offset
	s.consumed = 0
	return nil
}

// RollbackCurrentToFragmentStart moves the session's cursor back to the
// nearest fragment-start entry at or before its current position, for
// use when an upload session restarts after a retriable failure and
// must re-send the in-flight fragment from its beginning.
func (v *View) RollbackCurrentToFragmentStart(s *Session) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	_, pos, ok := v.entryAtOffsetLocked(s.itemOffset)
	if !ok {
		// Already at the tail (no current item); search backward from the
		// newest live entry instead.
		pos = v.count - 1
		if pos < 0 {
			return kvserrors.New(kvserrors.OutOfRange, "contentview.RollbackCurrentToFragmentStart",
				fmt.Errorf("view is empty"))
		}
	}
	for i := pos; i >= 0; i-- {
		e := v.entries[v.physicalIndex(i)]
		if e.IsFragmentStart() {
			s.itemOffset = e.Offset
			s.consumed = 0
			return nil
		}
	}
	return kvserrors.New(kvserrors.OutOfRange, "contentview.RollbackCurrentToFragmentStart",
		fmt.Errorf("no fragment-start entry at or before offset %d", s.itemOffset))
}
