// Package kvsmodel defines the data types shared across the producer
// pipeline: frames handed in by the application, track configuration,
// stream configuration, and the packaged-bytes descriptor the MKV
// generator hands to the content view.
package kvsmodel

import "fmt"

// FrameFlags is a bitmask of per-frame hints carried alongside a Frame.
type FrameFlags uint8

const FrameFlagNone FrameFlags = 0

const (
	FrameFlagKeyFrame FrameFlags = 1 << iota
	FrameFlagDiscardable
	FrameFlagInvisible
	FrameFlagEndOfFragment
)

// Has reports whether f includes flag.
func (f FrameFlags) Has(flag FrameFlags) bool { return f&flag != 0 }

func (f FrameFlags) String() string {
	if f == FrameFlagNone {
		return "none"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(FrameFlagKeyFrame) {
		add("key")
	}
	if f.Has(FrameFlagDiscardable) {
		add("discardable")
	}
	if f.Has(FrameFlagInvisible) {
		add("invisible")
	}
	if f.Has(FrameFlagEndOfFragment) {
		add("end_of_fragment")
	}
	return s
}

// Frame is a single encoded access unit handed to Stream.PutFrame.
//
// Timestamps are in 100ns units (KVS convention). PresentationTs and
// DecodingTs are independent per invariant: decoding_ts <= presentation_ts.
type Frame struct {
	PresentationTs uint64
	DecodingTs     uint64
	Duration       uint64 // advisory
	Flags          FrameFlags
	TrackID        uint64
	Payload        []byte
}

// Validate checks the frame-local invariants from the data model (payload
// non-empty, decoding_ts <= presentation_ts). Per-track monotonicity and
// the +/-2^45 skew bound are stream-level and checked by kvsstream.
func (f *Frame) Validate() error {
	if len(f.Payload) == 0 {
		return fmt.Errorf("frame: empty payload")
	}
	if f.DecodingTs > f.PresentationTs {
		return fmt.Errorf("frame: decoding_ts %d > presentation_ts %d", f.DecodingTs, f.PresentationTs)
	}
	return nil
}

// IsKeyFrame reports whether the KeyFrame flag is set.
func (f *Frame) IsKeyFrame() bool { return f.Flags.Has(FrameFlagKeyFrame) }
