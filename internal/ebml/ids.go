// Package ebml implements the subset of Extensible Binary Meta Language
// encoding this producer needs: variable-length integers, master elements,
// primitive value encoders, and a streaming writer variant for building
// Matroska byte streams incrementally.
package ebml

// Element IDs, grouped by the tree position they appear at. Values and
// groupings are the Matroska/WebM EBML ID table, cross-checked against
// the element layout this module actually emits.
const (
	IDEBMLHeader         uint32 = 0x1A45DFA3
	IDEBMLVersion        uint32 = 0x4286
	IDEBMLReadVersion    uint32 = 0x42F7
	IDEBMLMaxIDLength    uint32 = 0x42F2
	IDEBMLMaxSizeLength  uint32 = 0x42F3
	IDDocType            uint32 = 0x4282
	IDDocTypeVersion     uint32 = 0x4287
	IDDocTypeReadVersion uint32 = 0x4285

	IDSegment uint32 = 0x18538067

	IDSegmentInfo   uint32 = 0x1549A966
	IDTimecodeScale uint32 = 0x2AD7B1
	IDMuxingApp     uint32 = 0x4D80
	IDWritingApp    uint32 = 0x5741
	IDDuration      uint32 = 0x4489

	IDTracks            uint32 = 0x1654AE6B
	IDTrackEntry        uint32 = 0xAE
	IDTrackNumber       uint32 = 0xD7
	IDTrackUID          uint32 = 0x73C5
	IDTrackType         uint32 = 0x83
	IDTrackName         uint32 = 0x536E
	IDCodecID           uint32 = 0x86
	IDCodecPrivate      uint32 = 0x63A2
	IDVideo             uint32 = 0xE0
	IDPixelWidth        uint32 = 0xB0
	IDPixelHeight       uint32 = 0xBA
	IDAudio             uint32 = 0xE1
	IDSamplingFrequency uint32 = 0xB5
	IDChannels          uint32 = 0x9F
	IDBitDepth          uint32 = 0x6264

	IDCluster     uint32 = 0x1F43B675
	IDTimecode    uint32 = 0xE7
	IDSimpleBlock uint32 = 0xA3

	IDTags      uint32 = 0x1254C367
	IDTag       uint32 = 0x7373
	IDSimpleTag uint32 = 0x67C8
	IDTagName   uint32 = 0x45A3
	IDTagString uint32 = 0x4487
)

// Track type values carried in the TrackType element body.
const (
	TrackTypeVideoValue uint8 = 0x01
	TrackTypeAudioValue uint8 = 0x02
)

// unknownSizeMarker is the all-ones 8-byte VINT used for streaming
// masters (Segment, Cluster) whose total size is not known up front.
var unknownSizeMarker = []byte{0x01, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF}
