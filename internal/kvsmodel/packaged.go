package kvsmodel

// PackagedFrame is emitted by the MKV generator for every PutFrame call.
// Bytes is the contiguous packaged region to be copied into the content
// store and indexed by the content view.
type PackagedFrame struct {
	Bytes         []byte
	FragmentStart bool
	ClusterStart  bool
	StreamStart   bool
	FragmentPts   uint64
	FragmentDts   uint64
	SessionSeq    uint64
}

// Validate enforces the StreamStart => ClusterStart => FragmentStart
// implication chain from the data model.
func (p *PackagedFrame) Validate() error {
	if p.StreamStart && !p.ClusterStart {
		return errInvalidPackaging("stream_start without cluster_start")
	}
	if p.ClusterStart && !p.FragmentStart {
		return errInvalidPackaging("cluster_start without fragment_start")
	}
	return nil
}

type packagingError string

func (e packagingError) Error() string { return "packaged frame: " + string(e) }

func errInvalidPackaging(msg string) error { return packagingError(msg) }

// EntryFlags marks special content-view entries.
type EntryFlags uint8

const EntryFlagNone EntryFlags = 0

const (
	EntryFlagFragmentStart EntryFlags = 1 << iota
	EntryFlagSessionTerminator
)

// ViewEntry is a single content-view bookkeeping record: one packaged
// region's offset/size/timing within the view's monotonic offset space.
type ViewEntry struct {
	Offset          uint64
	Size            uint32
	Duration        uint64
	TimestampAckKey uint64
	Flags           EntryFlags
	Index           uint64
}

// IsFragmentStart reports whether this entry begins a fragment.
func (e *ViewEntry) IsFragmentStart() bool { return e.Flags&EntryFlagFragmentStart != 0 }

// StreamMetrics are the running counters exposed off Stream.Metrics().
// Grounded in kinesis-video-producer/src/KinesisVideoStreamMetrics.h,
// dropped by the spec distillation but useful observability surface.
type StreamMetrics struct {
	FramesPut        uint64
	FramesDropped    uint64
	FragmentsPut     uint64
	FragmentsDropped uint64
	BytesQueued      uint64
	CurrentDuration  uint64 // 100ns units currently buffered
}
