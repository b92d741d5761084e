// Package kvsstream implements the Stream orchestrator of spec.md §4.7:
// binds the MKV generator, content store, and content view; enforces
// frame ordering and the DROP_TAIL_ITEM pressure policy; dispatches
// ACKs; and detects connection staleness.
package kvsstream

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/alxayo/go-kvsproducer/internal/contentstore"
	"github.com/alxayo/go-kvsproducer/internal/contentview"
	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/hooks"
	"github.com/alxayo/go-kvsproducer/internal/kvsmodel"
	"github.com/alxayo/go-kvsproducer/internal/mkvgen"
	"github.com/alxayo/go-kvsproducer/internal/upload"
)

// maxDtsSkew is the ±2^45 bound on per-track dts movement between
// consecutive frames, per spec.md §4.7 step 1.
const maxDtsSkew = int64(1) << 45

// PutFrameResult reports how PutFrame disposed of a frame. A Dropped
// result is spec.md §9 Open Question 1's recommended explicit variant —
// the source signals a drop via a side-channel event with an overall
// success code; this port makes the outcome part of the return value.
type PutFrameResult int

const (
	PutFrameAccepted PutFrameResult = iota
	PutFrameDropped
)

func (r PutFrameResult) String() string {
	if r == PutFrameDropped {
		return "dropped"
	}
	return "accepted"
}

// Stream binds one MKV generator, content view, and shared content
// store, and orchestrates spec.md §4.7's PutFrame/ProcessAck/staleness
// contract. The stream's own mutex is the single critical section
// guarding generator/view/handle-table mutation; the content store and
// content view each additionally guard their own internals, per
// spec.md §5's "mutex-per-store, mutex-per-view" policy.
type Stream struct {
	mu sync.Mutex

	info      *kvsmodel.StreamInfo
	gen       *mkvgen.Generator
	view      *contentview.View
	store     *contentstore.Store
	callbacks *hooks.Callbacks
	now       func() time.Time

	ready bool

	handles map[uint64]contentstore.Handle // view entry offset -> store handle
	lastDts map[uint64]uint64              // track id -> last decoding_ts

	haveFragmentKey    bool
	currentFragmentKey uint64
	fragmentEndOffsets map[uint64]uint64 // fragment ack key -> view offset the fragment ends at

	checkpoint uint64 // view offset a fresh upload session should start from

	lastBufferingAckTime time.Time
	staleNotified         bool

	metrics kvsmodel.StreamMetrics

	dataReady chan struct{} // signaled (non-blocking) on every successful Append
}

// New builds a Stream for info, backed by the given shared content
// store and a content view of the given entry capacity.
func New(info *kvsmodel.StreamInfo, store *contentstore.Store, viewCapacity int, callbacks *hooks.Callbacks, now func() time.Time) *Stream {
	if now == nil {
		now = time.Now
	}
	if callbacks == nil {
		callbacks = &hooks.Callbacks{}
	}
	s := &Stream{
		info:               info,
		gen:                mkvgen.New(info),
		store:              store,
		callbacks:          callbacks,
		now:                now,
		handles:            make(map[uint64]contentstore.Handle),
		lastDts:            make(map[uint64]uint64),
		fragmentEndOffsets: make(map[uint64]uint64),
		dataReady:          make(chan struct{}, 1),
	}
	s.view = contentview.New(viewCapacity, s.onHeadMoved)
	return s
}

// SetReady flips the stream's frame-acceptance gate. internal/kvsclient
// calls SetReady(true) from the Stream SM's PutStream action, i.e. once
// setup has passed READY; PutFrame rejects frames before that point per
// spec.md §4.7 step 2.
func (s *Stream) SetReady(ready bool) {
	s.mu.Lock()
	s.ready = ready
	s.mu.Unlock()
	if ready {
		s.callbacks.StreamReady(s.info.StreamName)
	}
}

// Checkpoint returns the content-view offset a brand new upload session
// should start reading from — the offset recorded at stream_start,
// or 0 if PutFrame has not yet been called.
func (s *Stream) Checkpoint() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.checkpoint
}

// Metrics returns a copy of the stream's running counters.
func (s *Stream) Metrics() kvsmodel.StreamMetrics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.metrics
}

// PutFrame packages frame through the MKV generator and appends it to
// the content view, following the seven-step sequence of spec.md §4.7.
func (s *Stream) PutFrame(frame *kvsmodel.Frame) (PutFrameResult, error) {
	if err := frame.Validate(); err != nil {
		return PutFrameAccepted, kvserrors.New(kvserrors.InvalidArg, "kvsstream.PutFrame", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return PutFrameAccepted, kvserrors.New(kvserrors.InvalidArg, "kvsstream.PutFrame",
			fmt.Errorf("stream %q is not ready", s.info.StreamName))
	}
	if err := s.checkMonotonicLocked(frame); err != nil {
		return PutFrameAccepted, err
	}

	desc, err := s.gen.PutFrame(frame)
	if err != nil {
		return PutFrameAccepted, err
	}

	handle, err := s.store.Alloc(uint32(len(desc.Bytes)))
	if err != nil {
		handle, err = s.applyPressurePolicyLocked(uint32(len(desc.Bytes)))
		if err != nil {
			// gen.PutFrame already advanced the generator's
			// state/cluster bookkeeping for desc.Bytes, which are now
			// being discarded — undo that so the next accepted frame
			// re-opens the stream header/cluster it would otherwise
			// believe already went out.
			s.gen.Reset()
			s.metrics.FramesDropped++
			s.callbacks.DroppedFrame(s.info.StreamName, frame.DecodingTs)
			return PutFrameDropped, nil
		}
	}
	copy(s.store.Map(handle), desc.Bytes)

	flags := kvsmodel.EntryFlagNone
	if desc.FragmentStart {
		s.closeFragmentBoundaryLocked(desc.FragmentPts)
		flags |= kvsmodel.EntryFlagFragmentStart
		s.metrics.FragmentsPut++
	}
	entry := s.view.Append(uint32(len(desc.Bytes)), frame.Duration, desc.FragmentPts, flags)
	s.handles[entry.Offset] = handle

	if desc.StreamStart {
		s.checkpoint = entry.Offset
	}

	s.metrics.FramesPut++
	s.metrics.BytesQueued += uint64(len(desc.Bytes))
	s.metrics.CurrentDuration += frame.Duration

	s.signalDataReadyLocked()
	s.callbacks.DataAvailable(s.info.StreamName, s.metrics.CurrentDuration, uint32(len(desc.Bytes)))
	return PutFrameAccepted, nil
}

// checkMonotonicLocked enforces spec.md §4.7 step 1's per-track dts
// invariants: strictly monotonic, bounded skew from the previous frame.
func (s *Stream) checkMonotonicLocked(frame *kvsmodel.Frame) error {
	last, ok := s.lastDts[frame.TrackID]
	if ok {
		if frame.DecodingTs <= last {
			return kvserrors.New(kvserrors.InvalidArg, "kvsstream.PutFrame",
				fmt.Errorf("track %d: dts %d is not strictly greater than previous %d", frame.TrackID, frame.DecodingTs, last))
		}
		skew := int64(frame.DecodingTs) - int64(last)
		if skew > maxDtsSkew {
			return kvserrors.New(kvserrors.OutOfRange, "kvsstream.PutFrame",
				fmt.Errorf("track %d: dts skew %d exceeds +-2^45", frame.TrackID, skew))
		}
	}
	s.lastDts[frame.TrackID] = frame.DecodingTs
	return nil
}

// applyPressurePolicyLocked implements DROP_TAIL_ITEM (spec.md §4.6):
// discard the view's newest entries, freeing their store allocations,
// until size fits or the view is empty.
func (s *Stream) applyPressurePolicyLocked(size uint32) (contentstore.Handle, error) {
	for {
		entry, ok := s.view.DropNewest()
		if !ok {
			return contentstore.Handle{}, kvserrors.New(kvserrors.NotEnoughMemory, "kvsstream.applyPressurePolicy",
				fmt.Errorf("content view for %q is empty, cannot free further space", s.info.StreamName))
		}
		if h, hok := s.handles[entry.Offset]; hok {
			s.store.Free(h)
			delete(s.handles, entry.Offset)
		}
		h, err := s.store.Alloc(size)
		if err == nil {
			return h, nil
		}
	}
}

// closeFragmentBoundaryLocked records, for the fragment that was active
// before this call, the view offset it ends at — the offset the new
// fragment is about to be appended at. Must run before view.Append for
// the new fragment-start entry.
func (s *Stream) closeFragmentBoundaryLocked(newFragmentKey uint64) {
	if s.haveFragmentKey && s.currentFragmentKey != newFragmentKey {
		s.fragmentEndOffsets[s.currentFragmentKey] = s.view.TailOffset()
	}
	s.currentFragmentKey = newFragmentKey
	s.haveFragmentKey = true
}

// onHeadMoved frees store allocations for entries the view's
// DROP_UNTIL_FRAGMENT_START overflow policy discarded from the head.
// View.Append invokes this synchronously, from within PutFrame's own
// lock on the same goroutine — it must not re-acquire s.mu.
func (s *Stream) onHeadMoved(ev contentview.HeadMovedEvent) {
	for offset, h := range s.handles {
		if offset < ev.NewHeadOffset {
			s.store.Free(h)
			delete(s.handles, offset)
		}
	}
}

func (s *Stream) signalDataReadyLocked() {
	select {
	case s.dataReady <- struct{}{}:
	default:
	}
}

// ProcessAck dispatches one ACK frame per spec.md §4.7's table.
// resetRequired is true when the caller (the stream's state machine
// driver) should reset the upload session and roll its cursor back to
// the last fragment start, per a retriable ERROR ack.
func (s *Stream) ProcessAck(frame upload.AckFrame) (resetRequired bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch strings.ToUpper(frame.EventType) {
	case "BUFFERING":
		s.lastBufferingAckTime = s.now()
		s.staleNotified = false
		s.callbacks.FragmentAck(s.info.StreamName, frame.FragmentTimecode, hooks.AckBuffering)
	case "RECEIVED":
		s.callbacks.FragmentAck(s.info.StreamName, frame.FragmentTimecode, hooks.AckReceived)
	case "PERSISTED":
		s.trimPersistedLocked(frame.FragmentTimecode)
		s.callbacks.FragmentAck(s.info.StreamName, frame.FragmentTimecode, hooks.AckPersisted)
	case "ERROR":
		s.callbacks.FragmentAck(s.info.StreamName, frame.FragmentTimecode, hooks.AckError)
		if isFatalAckCode(frame.ErrorCode) {
			s.callbacks.StreamError(s.info.StreamName, frame.FragmentTimecode, frame.ErrorCode)
			return false
		}
		return true
	}
	return false
}

// trimPersistedLocked advances the view's trim cursor past the named
// fragment and frees its store allocations, per spec.md §4.7's
// PERSISTED handling. If the fragment's end boundary isn't known yet
// (it is still the newest fragment), the ack is a no-op and is not
// remembered: closing that fragment later does not trim it, so its
// entries stay until a PERSISTED ack for a later fragment trims past
// them. TrimTo's idempotent-max-offset semantics make a repeated or
// out-of-order ack for an earlier fragment safe, resolving spec.md §9
// Open Question 2 (out-of-order PERSISTED acks).
func (s *Stream) trimPersistedLocked(fragmentTimecode uint64) {
	end, ok := s.fragmentEndOffsets[fragmentTimecode]
	if !ok {
		return
	}
	freed := s.view.TrimTo(end)
	for _, e := range freed {
		if h, hok := s.handles[e.Offset]; hok {
			s.store.Free(h)
			delete(s.handles, e.Offset)
		}
	}
	delete(s.fragmentEndOffsets, fragmentTimecode)
}

// isFatalAckCode classifies an ACK ErrorCode per spec.md §4.7's
// categories: authorization/invalid-arg are fatal, connection/
// throttling/internal (and anything unrecognized) are retriable.
func isFatalAckCode(code string) bool {
	upper := strings.ToUpper(code)
	switch {
	case strings.Contains(upper, "AUTH"), strings.Contains(upper, "FORBIDDEN"),
		strings.Contains(upper, "INVALID_ARG"), strings.Contains(upper, "INVALID_PRODUCER"):
		return true
	default:
		return false
	}
}

// CheckStale reports whether the stream has gone quiet past its
// configured connection-staleness threshold, invoking the stale-
// connection callback at most once per staleness episode. Stream has
// no background goroutine of its own — a driver (internal/kvsclient)
// polls this on a ticker.
func (s *Stream) CheckStale(now time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lastBufferingAckTime.IsZero() || s.staleNotified {
		return s.staleNotified
	}
	age := now.Sub(s.lastBufferingAckTime)
	if age > s.info.ConnectionStalenessTimeout {
		s.staleNotified = true
		s.callbacks.ConnectionStale(s.info.StreamName, uint64(age.Nanoseconds()/100))
		return true
	}
	return false
}

// ResetConnection clears the staleness episode, for use after the
// application (or the state machine, on a retriable ack) has started a
// fresh upload session without discarding buffered bytes.
func (s *Stream) ResetConnection() {
	s.mu.Lock()
	s.staleNotified = false
	s.mu.Unlock()
}

// Close releases every content-store allocation this stream still
// holds. Per spec.md §5, freeing a stream implies cancel-all-sessions
// (the caller's responsibility — Stream itself owns no sessions) then
// drain then release buffers; this is the release-buffers step.
func (s *Stream) Close() {
	s.mu.Lock()
	for _, h := range s.handles {
		s.store.Free(h)
	}
	s.handles = make(map[uint64]contentstore.Handle)
	s.mu.Unlock()
	s.callbacks.StreamClosed(s.info.StreamName)
}
