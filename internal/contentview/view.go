// Package contentview implements the fixed-capacity ring buffer of
// packaged-frame bookkeeping records (kvsmodel.ViewEntry) that sits
// between the MKV generator and an upload session: append on PutFrame,
// advance/seek per reading session, trim on PERSISTED ack.
package contentview

import (
	"sync"

	"github.com/alxayo/go-kvsproducer/internal/kvsmodel"
)

// HeadMovedEvent reports a content-view-head-moved event, emitted when
// the DROP_UNTIL_FRAGMENT_START overflow policy discards entries from
// the head to make room for an Append.
type HeadMovedEvent struct {
	DroppedEntries int
	NewHeadOffset  uint64
}

// View is a fixed-capacity ring of ViewEntry records. Offsets are
// monotonic across the view's lifetime: trims never reset the tail
// offset counter, so sessions can identify bytes by offset even after
// entries preceding them are gone. One mutex protects the whole
// structure; critical sections are the short bookkeeping updates only —
// callers read payload bytes from the content store, unlocked.
type View struct {
	mu sync.Mutex

	entries  []kvsmodel.ViewEntry
	head     int
	count    int
	capacity int

	nextIndex  uint64
	nextOffset uint64

	maxTrimOffset uint64
	trimmed       bool

	onHeadMoved func(HeadMovedEvent)
}

// New builds a View with room for capacity entries. onHeadMoved may be
// nil; it is invoked (outside the view's lock) whenever the overflow
// policy discards entries.
func New(capacity int, onHeadMoved func(HeadMovedEvent)) *View {
	if capacity < 1 {
		capacity = 1
	}
	return &View{
		entries:     make([]kvsmodel.ViewEntry, capacity),
		capacity:    capacity,
		onHeadMoved: onHeadMoved,
	}
}

func (v *View) physicalIndex(logical int) int {
	return (v.head + logical) % v.capacity
}

// Append adds a new entry at the tail, built from the given size/
// duration/ack-key/flags, with the view's monotonic offset and index
// assigned automatically. When the ring is full, DROP_UNTIL_FRAGMENT_START
// discards entries from the head (up to and including the next
// fragment-start entry) to make room, emitting a HeadMovedEvent.
func (v *View) Append(size uint32, duration uint64, ackKey uint64, flags kvsmodel.EntryFlags) kvsmodel.ViewEntry {
	v.mu.Lock()

	var event *HeadMovedEvent
	if v.count == v.capacity {
		event = v.dropUntilFragmentStartLocked()
	}

	entry := kvsmodel.ViewEntry{
		Offset:          v.nextOffset,
		Size:            size,
		Duration:        duration,
		TimestampAckKey: ackKey,
		Flags:           flags,
		Index:           v.nextIndex,
	}
	v.entries[v.physicalIndex(v.count)] = entry
	v.count++
	v.nextOffset += uint64(size)
	v.nextIndex++

	v.mu.Unlock()

	if event != nil && v.onHeadMoved != nil {
		v.onHeadMoved(*event)
	}
	return entry
}

// dropUntilFragmentStartLocked must be called with v.mu held. It removes
// entries from the head until one carrying EntryFlagFragmentStart has
// been discarded (inclusive), or the ring is empty.
func (v *View) dropUntilFragmentStartLocked() *HeadMovedEvent {
	dropped := 0
	for v.count > 0 {
		e := v.entries[v.head]
		v.head = (v.head + 1) % v.capacity
		v.count--
		dropped++
		if e.IsFragmentStart() {
			break
		}
	}
	newHead := v.nextOffset
	if v.count > 0 {
		newHead = v.entries[v.head].Offset
	}
	return &HeadMovedEvent{DroppedEntries: dropped, NewHeadOffset: newHead}
}

// entryAtOffsetLocked returns the live entry whose Offset equals offset,
// and its logical position (0 == head), or ok=false if no live entry
// starts exactly there.
func (v *View) entryAtOffsetLocked(offset uint64) (kvsmodel.ViewEntry, int, bool) {
	for i := 0; i < v.count; i++ {
		e := v.entries[v.physicalIndex(i)]
		if e.Offset == offset {
			return e, i, true
		}
		if e.Offset > offset {
			break
		}
	}
	return kvsmodel.ViewEntry{}, 0, false
}

// TailOffset returns the view's current monotonic tail offset (the
// offset the next Append will use).
func (v *View) TailOffset() uint64 {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.nextOffset
}

// TrimTo advances the trim cursor to offset (the byte immediately past
// the last acknowledged fragment) and removes every fully-covered head
// entry, returning them so the caller can release their content-store
// allocations. Per the idempotent-max-offset resolution, a call with an
// offset no greater than one already processed is a no-op — ACKs may
// arrive out of order or be retried, and trimming must never move
// backward.
func (v *View) TrimTo(offset uint64) []kvsmodel.ViewEntry {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.trimmed && offset <= v.maxTrimOffset {
		return nil
	}
	v.maxTrimOffset = offset
	v.trimmed = true

	var freed []kvsmodel.ViewEntry
	for v.count > 0 {
		e := v.entries[v.head]
		if e.Offset+uint64(e.Size) > offset {
			break
		}
		v.head = (v.head + 1) % v.capacity
		v.count--
		freed = append(freed, e)
	}
	return freed
}

// DropNewest removes and returns the view's current tail (most recently
// appended) entry, for the content store's DROP_TAIL_ITEM pressure
// policy. It does not rewind the monotonic offset/index counters — a
// later Append still continues from the prior tail offset, per the
// ordering guarantee in spec §4.5. Returns ok=false if the view is
// empty.
func (v *View) DropNewest() (kvsmodel.ViewEntry, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.count == 0 {
		return kvsmodel.ViewEntry{}, false
	}
	v.count--
	e := v.entries[v.physicalIndex(v.count)]
	return e, true
}

// Len reports the number of live entries currently held.
func (v *View) Len() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.count
}
