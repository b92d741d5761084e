package kvsmodel

import "fmt"

// TrackType classifies a TrackInfo.
type TrackType uint8

const (
	TrackTypeUnknown TrackType = iota
	TrackTypeVideo
	TrackTypeAudio
)

func (t TrackType) String() string {
	switch t {
	case TrackTypeVideo:
		return "video"
	case TrackTypeAudio:
		return "audio"
	default:
		return "unknown"
	}
}

// VideoConfig holds the resolution for a video track. Zero values mean
// "not yet known" — the MKV generator fills these in from the first
// inline key frame's SPS when CodecPrivateData is absent.
type VideoConfig struct {
	Width  uint32
	Height uint32
}

// AudioConfig holds sampling parameters for an audio track.
type AudioConfig struct {
	SamplingHz uint32
	Channels   uint16
	BitDepth   uint16
}

const (
	maxCodecIDLen   = 32
	maxTrackNameLen = 32
	maxCPDSize      = 1 << 20 // 1 MiB
)

// TrackInfo describes one track within a stream.
type TrackInfo struct {
	TrackID           uint64
	CodecID           string // e.g. "V_MPEG4/ISO/AVC", "A_AAC"
	TrackName         string
	TrackType         TrackType
	CodecPrivateData  []byte
	Video             VideoConfig
	Audio             AudioConfig
}

// Validate enforces the size limits from the data model.
func (t *TrackInfo) Validate() error {
	if len(t.CodecID) > maxCodecIDLen {
		return fmt.Errorf("track %d: codec_id exceeds %d bytes", t.TrackID, maxCodecIDLen)
	}
	if len(t.TrackName) > maxTrackNameLen {
		return fmt.Errorf("track %d: track_name exceeds %d bytes", t.TrackID, maxTrackNameLen)
	}
	if len(t.CodecPrivateData) > maxCPDSize {
		return fmt.Errorf("track %d: codec_private_data exceeds %d bytes", t.TrackID, maxCPDSize)
	}
	return nil
}

// HasCPD reports whether codec private data has already been set, either
// by the caller or by earlier inline-parameter-set extraction.
func (t *TrackInfo) HasCPD() bool { return len(t.CodecPrivateData) > 0 }
