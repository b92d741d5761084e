package kvsmodel

import (
	"fmt"
	"time"
)

// StreamingType selects the latency/retention profile of a stream.
type StreamingType uint8

const (
	StreamingTypeRealtime StreamingType = iota
	StreamingTypeOffline
	StreamingTypeNearRealtime
)

// FrameOrderMode selects how frames across tracks are sequenced.
type FrameOrderMode uint8

const (
	FrameOrderSingleTrack FrameOrderMode = iota
	FrameOrderMultiTrackInterleave
)

// ContentStorePressurePolicy selects allocator OOM handling.
type ContentStorePressurePolicy uint8

const (
	ContentStorePressureDropTailItem ContentStorePressurePolicy = iota
)

// ContentViewOverflowPolicy selects ring-buffer full handling.
type ContentViewOverflowPolicy uint8

const (
	ContentViewOverflowDropUntilFragmentStart ContentViewOverflowPolicy = iota
)

// NALAdaptationMask selects which byte-framing transforms are applied
// during packaging. Bits may be combined.
type NALAdaptationMask uint8

const NALAdaptationNone NALAdaptationMask = 0

const (
	NALAdaptationAnnexBNALs NALAdaptationMask = 1 << iota
	NALAdaptationAnnexBCPDNALs
	NALAdaptationAVCCNals
)

func (m NALAdaptationMask) Has(bit NALAdaptationMask) bool { return m&bit != 0 }

// StreamInfo is the static configuration of a stream, supplied at creation.
type StreamInfo struct {
	StreamName    string
	Retention     time.Duration
	StreamingType StreamingType
	ContentType   string

	MaxLatency             time.Duration
	TargetFragmentDuration time.Duration
	TimecodeScaleNs        uint64 // ns per MKV tick

	KeyFrameFragmentation bool
	AbsoluteTimecode      bool
	FragmentACKRequired   bool

	ReplayDuration             time.Duration
	ConnectionStalenessTimeout time.Duration
	BufferDuration             time.Duration
	AverageBandwidthBps        uint64

	ContentStorePressurePolicy ContentStorePressurePolicy
	ContentViewOverflowPolicy  ContentViewOverflowPolicy
	NALAdaptationMask          NALAdaptationMask
	FrameOrderMode             FrameOrderMode

	Tracks []TrackInfo
}

// Validate enforces the 1..=8 track count and per-track limits.
func (s *StreamInfo) Validate() error {
	if len(s.Tracks) < 1 || len(s.Tracks) > 8 {
		return errTrackCount(len(s.Tracks))
	}
	for i := range s.Tracks {
		if err := s.Tracks[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

// TimecodeScaleHns returns the configured tick scale in 100ns units
// (timecode_scale_ns / 100), per spec §4.4's timecode semantics.
func (s *StreamInfo) TimecodeScaleHns() uint64 {
	if s.TimecodeScaleNs == 0 {
		return 10_000 // 1ms default, matches the common Matroska default
	}
	return s.TimecodeScaleNs / 100
}

func errTrackCount(n int) error {
	return fmt.Errorf("stream: track count must be between 1 and 8, got %d", n)
}
