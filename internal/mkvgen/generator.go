// Package mkvgen packages Frames into Matroska byte streams: EBML header,
// Segment/SegmentInfo/Tracks on stream start, Cluster boundaries on
// fragment start, and a SimpleBlock per frame. It also extracts codec
// private data from inline parameter sets, applies NAL-framing
// adaptation, and can emit standalone Tags elements.
package mkvgen

import (
	"fmt"
	"strings"

	"github.com/alxayo/go-kvsproducer/internal/bufpool"
	"github.com/alxayo/go-kvsproducer/internal/ebml"
	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/kvsmodel"
	"github.com/alxayo/go-kvsproducer/internal/nal"
	"github.com/alxayo/go-kvsproducer/internal/sps"
)

// State is the generator's position in the stream/cluster/block lifecycle
// from spec §4.4.
type State uint8

const (
	StateNew State = iota
	StateStreamStart
	StateClusterStart
	StateBlock
	StateEOS
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateStreamStart:
		return "STREAM_START"
	case StateClusterStart:
		return "CLUSTER_START"
	case StateBlock:
		return "BLOCK"
	case StateEOS:
		return "EOS"
	default:
		return "UNKNOWN"
	}
}

// Generator is a single-owner, unsynchronized state machine — callers
// (internal/kvsstream) serialize access the same way the teacher's
// session state is mutated only from its owning connection goroutine.
type Generator struct {
	info  *kvsmodel.StreamInfo
	state State

	tracks            map[uint64]*kvsmodel.TrackInfo
	primaryVideoTrack uint64
	cpdAttempted      map[uint64]bool

	clusterStartTicks uint64
	scaleHns          uint64
}

// New builds a Generator for the given stream configuration. info.Tracks
// is copied by pointer into an internal by-ID index; callers must not
// mutate track entries concurrently with PutFrame.
func New(info *kvsmodel.StreamInfo) *Generator {
	g := &Generator{
		info:         info,
		state:        StateNew,
		tracks:       make(map[uint64]*kvsmodel.TrackInfo, len(info.Tracks)),
		cpdAttempted: make(map[uint64]bool),
		scaleHns:     info.TimecodeScaleHns(),
	}
	for i := range info.Tracks {
		t := &info.Tracks[i]
		g.tracks[t.TrackID] = t
		if t.TrackType == kvsmodel.TrackTypeVideo && g.primaryVideoTrack == 0 {
			g.primaryVideoTrack = t.TrackID
		}
	}
	return g
}

// State reports the generator's current lifecycle state.
func (g *Generator) State() State { return g.state }

// Reset releases the generator back to NEW. Per spec, no closing bytes
// (void padding) are emitted — the in-flight Segment/Cluster are simply
// abandoned and a subsequent PutFrame starts a brand new one.
func (g *Generator) Reset() {
	g.state = StateNew
	g.cpdAttempted = make(map[uint64]bool)
	g.clusterStartTicks = 0
}

func (g *Generator) ticks(ts100ns uint64) uint64 {
	if g.scaleHns == 0 {
		return ts100ns
	}
	return ts100ns / g.scaleHns
}

// PutFrame packages one Frame, returning the bytes to append to the
// content view and a descriptor of what boundaries this call crossed.
func (g *Generator) PutFrame(frame *kvsmodel.Frame) (*kvsmodel.PackagedFrame, error) {
	track, ok := g.tracks[frame.TrackID]
	if !ok {
		return nil, kvserrors.New(kvserrors.InvalidArg, "mkvgen.PutFrame",
			fmt.Errorf("unknown track id %d", frame.TrackID))
	}

	w := ebml.NewWriter(4096)
	desc := &kvsmodel.PackagedFrame{
		FragmentPts: frame.PresentationTs,
		FragmentDts: frame.DecodingTs,
	}

	streamStarting := g.state == StateNew
	if streamStarting {
		if err := g.maybeExtractCPD(track, frame); err != nil {
			return nil, err
		}
		w.WriteRaw(g.buildStreamHeader())
		g.state = StateStreamStart
	}

	needsNewCluster := g.state == StateStreamStart || g.state == StateClusterStart
	if !needsNewCluster && g.shouldStartNewFragment(track, frame) {
		needsNewCluster = true
	}

	if needsNewCluster {
		w.WriteRaw(g.openCluster(frame))
		desc.StreamStart = streamStarting
		desc.ClusterStart = true
		desc.FragmentStart = true
		g.clusterStartTicks = g.ticks(frame.DecodingTs)
		g.state = StateClusterStart
	}

	payload, err := g.adapt(track, frame.Payload)
	if err != nil {
		return nil, err
	}
	blockBytes, err := g.buildSimpleBlock(track, frame, payload)
	if err != nil {
		return nil, err
	}
	w.WriteRaw(blockBytes)
	g.state = StateBlock

	if err := desc.Validate(); err != nil {
		return nil, kvserrors.New(kvserrors.InvalidArg, "mkvgen.PutFrame", err)
	}
	desc.Bytes = w.Bytes()
	return desc, nil
}

// shouldStartNewFragment implements the key-frame/duration trigger from
// spec §4.4: a new cluster (== a new fragment, in this producer's
// cluster-aligned-fragment model) opens when the primary video track
// delivers a key frame and either the fragment duration target has
// elapsed or key-frame fragmentation is forced.
func (g *Generator) shouldStartNewFragment(track *kvsmodel.TrackInfo, frame *kvsmodel.Frame) bool {
	if track.TrackType != kvsmodel.TrackTypeVideo || track.TrackID != g.primaryVideoTrack {
		return false
	}
	if !frame.IsKeyFrame() {
		return false
	}
	if g.info.KeyFrameFragmentation {
		return true
	}
	elapsedTicks := g.ticks(frame.DecodingTs) - g.clusterStartTicks
	targetTicks := uint64(g.info.TargetFragmentDuration.Nanoseconds()/100) / g.scaleHns
	return elapsedTicks >= targetTicks
}

func (g *Generator) buildStreamHeader() []byte {
	w := ebml.NewWriter(512)

	header := ebml.NewWriter(64)
	header.WriteUint(ebml.IDEBMLVersion, 1)
	header.WriteUint(ebml.IDEBMLReadVersion, 1)
	header.WriteUint(ebml.IDEBMLMaxIDLength, 4)
	header.WriteUint(ebml.IDEBMLMaxSizeLength, 8)
	header.WriteString(ebml.IDDocType, "matroska")
	header.WriteUint(ebml.IDDocTypeVersion, 4)
	header.WriteUint(ebml.IDDocTypeReadVersion, 2)
	w.WriteMaster(ebml.IDEBMLHeader, header.Bytes())

	w.WriteUnknownSizeMasterHeader(ebml.IDSegment)

	info := ebml.NewWriter(64)
	info.WriteUint(ebml.IDTimecodeScale, g.info.TimecodeScaleNs)
	info.WriteString(ebml.IDMuxingApp, "go-kvsproducer")
	info.WriteString(ebml.IDWritingApp, "go-kvsproducer")
	w.WriteMaster(ebml.IDSegmentInfo, info.Bytes())

	tracksBody := ebml.NewWriter(256)
	for _, t := range g.info.Tracks {
		tracksBody.WriteRaw(g.buildTrackEntry(&t))
	}
	w.WriteMaster(ebml.IDTracks, tracksBody.Bytes())

	return w.Bytes()
}

func (g *Generator) buildTrackEntry(t *kvsmodel.TrackInfo) []byte {
	w := ebml.NewWriter(128)
	w.WriteUint(ebml.IDTrackNumber, t.TrackID)
	w.WriteUint(ebml.IDTrackUID, t.TrackID)
	w.WriteString(ebml.IDTrackName, t.TrackName)
	w.WriteString(ebml.IDCodecID, t.CodecID)
	if t.HasCPD() {
		w.WriteBytes(ebml.IDCodecPrivate, t.CodecPrivateData)
	}
	switch t.TrackType {
	case kvsmodel.TrackTypeVideo:
		w.WriteUint(ebml.IDTrackType, uint64(ebml.TrackTypeVideoValue))
		video := ebml.NewWriter(16)
		video.WriteUint(ebml.IDPixelWidth, uint64(t.Video.Width))
		video.WriteUint(ebml.IDPixelHeight, uint64(t.Video.Height))
		w.WriteMaster(ebml.IDVideo, video.Bytes())
	case kvsmodel.TrackTypeAudio:
		w.WriteUint(ebml.IDTrackType, uint64(ebml.TrackTypeAudioValue))
		audio := ebml.NewWriter(16)
		audio.WriteFloat64(ebml.IDSamplingFrequency, float64(t.Audio.SamplingHz))
		audio.WriteUint(ebml.IDChannels, uint64(t.Audio.Channels))
		if t.Audio.BitDepth > 0 {
			audio.WriteUint(ebml.IDBitDepth, uint64(t.Audio.BitDepth))
		}
		w.WriteMaster(ebml.IDAudio, audio.Bytes())
	}
	return ebml.EncodeMaster(ebml.IDTrackEntry, w.Bytes())
}

func (g *Generator) openCluster(frame *kvsmodel.Frame) []byte {
	w := ebml.NewWriter(32)
	w.WriteUnknownSizeMasterHeader(ebml.IDCluster)
	w.WriteUint(ebml.IDTimecode, g.ticks(frame.DecodingTs))
	return w.Bytes()
}

func (g *Generator) buildSimpleBlock(track *kvsmodel.TrackInfo, frame *kvsmodel.Frame, payload []byte) ([]byte, error) {
	relTicks := int64(g.ticks(frame.DecodingTs)) - int64(g.clusterStartTicks)
	if relTicks < -32768 || relTicks > 32767 {
		return nil, kvserrors.New(kvserrors.LargeFrameTimecode, "mkvgen.buildSimpleBlock",
			fmt.Errorf("relative timecode %d ticks overflows int16", relTicks))
	}

	// Every frame goes through this path, so the scratch body buffer is
	// drawn from internal/bufpool rather than allocated fresh each time;
	// EncodeMaster copies it into its own output below, so the backing
	// array is returned to the pool before buildSimpleBlock returns.
	trackNumber := ebml.EncodeVInt(track.TrackID, 0)
	body := bufpool.Get(len(trackNumber) + 3 + len(payload))[:0]
	defer func() { bufpool.Put(body) }()
	body = append(body, trackNumber...)
	body = append(body, byte(int16(relTicks)>>8), byte(int16(relTicks)))
	var flags byte
	if frame.IsKeyFrame() {
		flags |= 0x80
	}
	if frame.Flags.Has(kvsmodel.FrameFlagDiscardable) {
		flags |= 0x01
	}
	body = append(body, flags)
	body = append(body, payload...)

	return ebml.EncodeMaster(ebml.IDSimpleBlock, body), nil
}

// adapt applies the stream's NAL-adaptation mask to a video frame's
// payload. Audio tracks are never adapted.
func (g *Generator) adapt(track *kvsmodel.TrackInfo, payload []byte) ([]byte, error) {
	if track.TrackType != kvsmodel.TrackTypeVideo {
		return payload, nil
	}
	mask := g.info.NALAdaptationMask
	if mask.Has(kvsmodel.NALAdaptationAnnexBNALs) {
		out, err := nal.AnnexBToAVCCFrame(payload)
		if err != nil {
			return nil, kvserrors.New(kvserrors.InvalidArg, "mkvgen.adapt", err)
		}
		return out, nil
	}
	// NALAdaptationAVCCNals / none: payload is already framed the way
	// SimpleBlock expects it, nothing to transform.
	return payload, nil
}

func isH264(codecID string) bool {
	return strings.Contains(codecID, "AVC") || strings.Contains(codecID, "H264")
}

func isH265(codecID string) bool {
	return strings.Contains(codecID, "HEVC") || strings.Contains(codecID, "H265")
}

// maybeExtractCPD implements the first-key-frame CPD extraction from
// spec §4.4: when a video track has no CodecPrivateData yet and its
// first key frame carries inline Annex-B parameter sets, pull out
// SPS/PPS (H.264) or VPS/SPS/PPS (H.265), build the avcC/hvcC blob, and
// derive width/height from the SPS. Attempted at most once per track.
func (g *Generator) maybeExtractCPD(track *kvsmodel.TrackInfo, frame *kvsmodel.Frame) error {
	if track.TrackType != kvsmodel.TrackTypeVideo || track.HasCPD() {
		return nil
	}
	if g.cpdAttempted[track.TrackID] || !frame.IsKeyFrame() {
		return nil
	}
	g.cpdAttempted[track.TrackID] = true

	units, err := nal.ScanAnnexB(frame.Payload)
	if err != nil {
		// Not Annex-B framed; nothing to extract from, leave CPD absent.
		return nil
	}

	switch {
	case isH264(track.CodecID):
		return g.extractAVCCPD(track, units)
	case isH265(track.CodecID):
		return g.extractHEVCCPD(track, units)
	default:
		return nil
	}
}

func (g *Generator) extractAVCCPD(track *kvsmodel.TrackInfo, units [][]byte) error {
	var spsNAL, ppsNAL []byte
	for _, u := range units {
		if len(u) == 0 {
			continue
		}
		switch u[0] & 0x1F {
		case 7:
			if spsNAL == nil {
				spsNAL = u
			}
		case 8:
			if ppsNAL == nil {
				ppsNAL = u
			}
		}
	}
	if spsNAL == nil || ppsNAL == nil {
		return nil
	}
	cpd, err := nal.BuildAVCDecoderConfigRecord([][]byte{spsNAL}, [][]byte{ppsNAL})
	if err != nil {
		return kvserrors.New(kvserrors.InvalidCPD, "mkvgen.extractAVCCPD", err)
	}
	dims, err := sps.ParseDimensions(sps.CodecH264, spsNAL)
	if err != nil {
		return kvserrors.New(kvserrors.InvalidCPD, "mkvgen.extractAVCCPD", err)
	}
	track.CodecPrivateData = cpd
	track.Video.Width = dims.Width
	track.Video.Height = dims.Height
	return nil
}

func (g *Generator) extractHEVCCPD(track *kvsmodel.TrackInfo, units [][]byte) error {
	var vpsNAL, spsNAL, ppsNAL []byte
	for _, u := range units {
		if len(u) < 2 {
			continue
		}
		switch (u[0] >> 1) & 0x3F {
		case 32:
			if vpsNAL == nil {
				vpsNAL = u
			}
		case 33:
			if spsNAL == nil {
				spsNAL = u
			}
		case 34:
			if ppsNAL == nil {
				ppsNAL = u
			}
		}
	}
	if vpsNAL == nil || spsNAL == nil || ppsNAL == nil {
		return nil
	}
	cpd, err := nal.BuildHEVCDecoderConfigRecord([][]byte{vpsNAL}, [][]byte{spsNAL}, [][]byte{ppsNAL})
	if err != nil {
		return kvserrors.New(kvserrors.InvalidCPD, "mkvgen.extractHEVCCPD", err)
	}
	dims, err := sps.ParseDimensions(sps.CodecH265, spsNAL)
	if err != nil {
		return kvserrors.New(kvserrors.InvalidCPD, "mkvgen.extractHEVCCPD", err)
	}
	track.CodecPrivateData = cpd
	track.Video.Width = dims.Width
	track.Video.Height = dims.Height
	return nil
}

// GenerateTag emits a standalone Tags element carrying one SimpleTag,
// producible outside the normal frame stream (e.g. for insertion at a
// fragment boundary once the application supplies metadata).
func GenerateTag(name, value string) []byte {
	tag := ebml.NewWriter(64)
	simple := ebml.NewWriter(48)
	simple.WriteString(ebml.IDTagName, name)
	simple.WriteString(ebml.IDTagString, value)
	tag.WriteMaster(ebml.IDSimpleTag, simple.Bytes())
	return ebml.EncodeMaster(ebml.IDTags, ebml.EncodeMaster(ebml.IDTag, tag.Bytes()))
}
