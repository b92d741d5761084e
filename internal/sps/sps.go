// Package sps extracts video resolution from codec-private data in any of
// its common container forms (AVCC/HVCC record, Annex-B, or a
// BITMAPINFOHEADER prefix), wiring github.com/Eyevinn/mp4ff for the
// bit-level SPS/HEVC-SPS field decode.
package sps

import (
	"fmt"

	"github.com/Eyevinn/mp4ff/avc"
	"github.com/Eyevinn/mp4ff/hevc"

	"github.com/alxayo/go-kvsproducer/internal/bitio"
	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
	"github.com/alxayo/go-kvsproducer/internal/nal"
)

// Codec selects which parameter-set standard governs a CPD blob.
type Codec uint8

const (
	CodecUnknown Codec = iota
	CodecH264
	CodecH265
)

// Dimensions is the resolution recovered from an SPS.
type Dimensions struct {
	Width  uint32
	Height uint32
}

// ContainerForm identifies how a codec-private-data blob frames its NAL
// units, detected from its leading bytes per spec.
type ContainerForm uint8

const (
	ContainerUnknown ContainerForm = iota
	ContainerAVCCHVCC
	ContainerAnnexB
	ContainerBIH
)

const bihFixedSize = 40

const (
	h264NALTypeSPS = 7
	h265NALTypeSPS = 33
)

// DetectContainerForm identifies the framing of a CPD blob by its leading
// bytes: `01` for avcC/hvcC, `00 00 01`/`00 00 00 01` for Annex-B, a
// BITMAPINFOHEADER by its little-endian biSize field == 40. A BIH blob
// shorter than the 40-byte header is still reported as ContainerBIH, so
// that ParseDimensions rejects it with INVALID_BIH_CPD.
func DetectContainerForm(data []byte) ContainerForm {
	switch {
	case len(data) >= 1 && data[0] == 0x01:
		return ContainerAVCCHVCC
	case len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 1:
		return ContainerAnnexB
	case len(data) >= 3 && data[0] == 0 && data[1] == 0 && data[2] == 1:
		return ContainerAnnexB
	case len(data) >= 4 && isBIH(data):
		return ContainerBIH
	default:
		return ContainerUnknown
	}
}

func isBIH(data []byte) bool {
	biSize := uint32(data[0]) | uint32(data[1])<<8 | uint32(data[2])<<16 | uint32(data[3])<<24
	return biSize == bihFixedSize
}

// ParseDimensions extracts (width, height) from a codec-private-data blob
// in any recognized container form. Fails with INVALID_CPD on malformed
// NAL-bearing input, INVALID_BIH_CPD on a short BITMAPINFOHEADER blob.
func ParseDimensions(codec Codec, data []byte) (Dimensions, error) {
	switch DetectContainerForm(data) {
	case ContainerBIH:
		return parseBIHDimensions(data)
	case ContainerAVCCHVCC:
		spsNAL, err := extractFirstSPSFromRecord(codec, data)
		if err != nil {
			return Dimensions{}, err
		}
		return parseSPSNAL(codec, spsNAL)
	case ContainerAnnexB:
		spsNAL, err := extractFirstSPSFromAnnexB(codec, data)
		if err != nil {
			return Dimensions{}, err
		}
		return parseSPSNAL(codec, spsNAL)
	default:
		return Dimensions{}, kvserrors.New(kvserrors.InvalidCPD, "sps.ParseDimensions",
			fmt.Errorf("unrecognized codec-private-data container form"))
	}
}

func parseBIHDimensions(data []byte) (Dimensions, error) {
	if len(data) < bihFixedSize {
		return Dimensions{}, kvserrors.New(kvserrors.InvalidBIHCPD, "sps.parseBIHDimensions",
			fmt.Errorf("BITMAPINFOHEADER blob too short: %d bytes", len(data)))
	}
	width := uint32(data[4]) | uint32(data[5])<<8 | uint32(data[6])<<16 | uint32(data[7])<<24
	heightRaw := int32(uint32(data[8]) | uint32(data[9])<<8 | uint32(data[10])<<16 | uint32(data[11])<<24)
	if heightRaw < 0 {
		heightRaw = -heightRaw
	}
	return Dimensions{Width: width, Height: uint32(heightRaw)}, nil
}

// parseSPSNAL strips emulation-prevention bytes from the raw SPS NAL (the
// mp4ff decoders expect a clean NAL) and delegates cropping/width/height
// arithmetic to the library rather than re-deriving the separate-colour
// -plane/cropping math by hand.
func parseSPSNAL(codec Codec, spsNAL []byte) (Dimensions, error) {
	clean := bitio.StripEmulationPrevention(spsNAL)
	switch codec {
	case CodecH264:
		parsed, err := avc.ParseSPSNALUnit(clean, true)
		if err != nil {
			return Dimensions{}, kvserrors.New(kvserrors.InvalidCPD, "sps.parseSPSNAL", err)
		}
		return Dimensions{Width: uint32(parsed.Width), Height: uint32(parsed.Height)}, nil
	case CodecH265:
		parsed, err := hevc.ParseSPSNALUnit(clean)
		if err != nil {
			return Dimensions{}, kvserrors.New(kvserrors.InvalidCPD, "sps.parseSPSNAL", err)
		}
		return Dimensions{Width: uint32(parsed.Width), Height: uint32(parsed.Height)}, nil
	default:
		return Dimensions{}, kvserrors.New(kvserrors.InvalidArg, "sps.parseSPSNAL",
			fmt.Errorf("unknown codec"))
	}
}

func spsNALType(codec Codec, unit []byte) (int, bool) {
	switch codec {
	case CodecH264:
		if len(unit) < 1 {
			return 0, false
		}
		return int(unit[0] & 0x1F), true
	case CodecH265:
		if len(unit) < 2 {
			return 0, false
		}
		return int((unit[0] >> 1) & 0x3F), true
	default:
		return 0, false
	}
}

func extractFirstSPSFromAnnexB(codec Codec, data []byte) ([]byte, error) {
	units, err := nal.ScanAnnexB(data)
	if err != nil {
		return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.extractFirstSPSFromAnnexB", err)
	}
	want := h264NALTypeSPS
	if codec == CodecH265 {
		want = h265NALTypeSPS
	}
	for _, u := range units {
		if t, ok := spsNALType(codec, u); ok && t == want {
			return u, nil
		}
	}
	return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.extractFirstSPSFromAnnexB",
		fmt.Errorf("no SPS NAL found in Annex-B input"))
}

func extractFirstSPSFromRecord(codec Codec, data []byte) ([]byte, error) {
	switch codec {
	case CodecH264:
		return parseAVCCRecordSPS(data)
	case CodecH265:
		return parseHVCCRecordSPS(data)
	default:
		return nil, kvserrors.New(kvserrors.InvalidArg, "sps.extractFirstSPSFromRecord",
			fmt.Errorf("unknown codec"))
	}
}

// parseAVCCRecordSPS reads the avcC record layout directly
// (nal.BuildAVCDecoderConfigRecord's inverse) to pull out the first SPS.
func parseAVCCRecordSPS(data []byte) ([]byte, error) {
	if len(data) < 6 {
		return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseAVCCRecordSPS",
			fmt.Errorf("avcC record too short: %d bytes", len(data)))
	}
	numSPS := int(data[5] & 0x1F)
	pos := 6
	for i := 0; i < numSPS; i++ {
		if pos+2 > len(data) {
			return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseAVCCRecordSPS",
				fmt.Errorf("truncated SPS length field"))
		}
		l := int(data[pos])<<8 | int(data[pos+1])
		pos += 2
		if pos+l > len(data) {
			return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseAVCCRecordSPS",
				fmt.Errorf("truncated SPS body"))
		}
		if i == 0 {
			return data[pos : pos+l], nil
		}
		pos += l
	}
	return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseAVCCRecordSPS",
		fmt.Errorf("no SPS present in avcC record"))
}

// parseHVCCRecordSPS walks the hvcC array-of-arrays structure
// (nal.BuildHEVCDecoderConfigRecord's inverse) to pull out the first SPS.
func parseHVCCRecordSPS(data []byte) ([]byte, error) {
	const headerLen = 22
	if len(data) < headerLen+1 {
		return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseHVCCRecordSPS",
			fmt.Errorf("hvcC record too short: %d bytes", len(data)))
	}
	numArrays := int(data[headerLen])
	pos := headerLen + 1
	for i := 0; i < numArrays; i++ {
		if pos+3 > len(data) {
			return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseHVCCRecordSPS",
				fmt.Errorf("truncated array header"))
		}
		nalType := data[pos] & 0x3F
		pos++
		count := int(data[pos])<<8 | int(data[pos+1])
		pos += 2
		for j := 0; j < count; j++ {
			if pos+2 > len(data) {
				return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseHVCCRecordSPS",
					fmt.Errorf("truncated nalu length"))
			}
			l := int(data[pos])<<8 | int(data[pos+1])
			pos += 2
			if pos+l > len(data) {
				return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseHVCCRecordSPS",
					fmt.Errorf("truncated nalu body"))
			}
			if nalType == h265NALTypeSPS && j == 0 {
				return data[pos : pos+l], nil
			}
			pos += l
		}
	}
	return nil, kvserrors.New(kvserrors.InvalidCPD, "sps.parseHVCCRecordSPS",
		fmt.Errorf("no SPS present in hvcC record"))
}
