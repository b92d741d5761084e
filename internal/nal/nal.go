// Package nal converts between the two NAL-unit framings used by H.264/
// H.265 elementary streams: Annex-B (byte-aligned start codes) and AVCC
// (4-byte big-endian length prefixes), and builds the avcC/hvcC codec
// private data records carried in MKV Tracks.
package nal

import (
	"encoding/binary"
	"fmt"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

type startCode struct {
	offset int
	length int // 3 or 4
}

// findStartCodes locates every Annex-B start code (00 00 01 or
// 00 00 00 01) in data, left to right, without re-matching bytes already
// consumed by a prior code.
func findStartCodes(data []byte) []startCode {
	var out []startCode
	n := len(data)
	i := 0
	for i+2 < n {
		if data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
			if i >= 1 && data[i-1] == 0 {
				out = append(out, startCode{offset: i - 1, length: 4})
			} else {
				out = append(out, startCode{offset: i, length: 3})
			}
			i += 3
			continue
		}
		i++
	}
	return out
}

// ScanAnnexB splits an Annex-B byte stream into NAL unit bodies with start
// codes stripped. Each unit's body runs from just after its start code to
// the byte before the next start code (or end of buffer for the last
// unit) — trailing bytes that do not themselves form a start code stay
// attached to the preceding unit, per the "trailing zeros are not treated
// as a new NAL" edge case.
func ScanAnnexB(data []byte) ([][]byte, error) {
	starts := findStartCodes(data)
	if len(starts) == 0 {
		if len(data) > 0 {
			return nil, kvserrors.New(kvserrors.InvalidArg, "nal.ScanAnnexB",
				fmt.Errorf("no start codes found in %d-byte input", len(data)))
		}
		return nil, nil
	}
	units := make([][]byte, 0, len(starts))
	for i, sc := range starts {
		bodyStart := sc.offset + sc.length
		bodyEnd := len(data)
		if i+1 < len(starts) {
			bodyEnd = starts[i+1].offset
		}
		units = append(units, data[bodyStart:bodyEnd])
	}
	return units, nil
}

// AnnexBToAVCCFrame converts an Annex-B frame into AVCC framing: each NAL
// unit becomes a 4-byte big-endian length prefix followed by its body.
// Fails if any unit exceeds the 4-byte length field's range.
func AnnexBToAVCCFrame(data []byte) ([]byte, error) {
	units, err := ScanAnnexB(data)
	if err != nil {
		return nil, err
	}
	total := 0
	for _, u := range units {
		if len(u) > 0xFFFFFFFF {
			return nil, kvserrors.New(kvserrors.InvalidArg, "nal.AnnexBToAVCCFrame",
				fmt.Errorf("NAL unit of %d bytes does not fit a 4-byte length prefix", len(u)))
		}
		total += 4 + len(u)
	}
	out := make([]byte, 0, total)
	for _, u := range units {
		var lenPrefix [4]byte
		binary.BigEndian.PutUint32(lenPrefix[:], uint32(len(u)))
		out = append(out, lenPrefix[:]...)
		out = append(out, u...)
	}
	return out, nil
}

// AVCCToAnnexBInPlace rewrites each 4-byte AVCC length prefix in buf to
// the 00 00 00 01 Annex-B start code, leaving NAL bodies untouched. Fails
// if any recorded length would overrun the buffer.
func AVCCToAnnexBInPlace(buf []byte) error {
	i := 0
	for i < len(buf) {
		if i+4 > len(buf) {
			return kvserrors.New(kvserrors.InvalidArg, "nal.AVCCToAnnexBInPlace",
				fmt.Errorf("truncated length prefix at offset %d", i))
		}
		length := int(binary.BigEndian.Uint32(buf[i : i+4]))
		if i+4+length > len(buf) {
			return kvserrors.New(kvserrors.InvalidArg, "nal.AVCCToAnnexBInPlace",
				fmt.Errorf("NAL length %d at offset %d overruns %d-byte buffer", length, i, len(buf)))
		}
		buf[i], buf[i+1], buf[i+2], buf[i+3] = 0x00, 0x00, 0x00, 0x01
		i += 4 + length
	}
	return nil
}

// BuildAVCDecoderConfigRecord builds the H.264 avcC codec-private-data
// record: `01 profile constraints level ff e1 <sps_len u16> <sps> 01
// <pps_len u16> <pps>`. Requires exactly the first SPS/PPS NAL units
// (additional entries beyond the first of each are not carried, matching
// the single-SPS/single-PPS form this producer emits).
func BuildAVCDecoderConfigRecord(sps, pps [][]byte) ([]byte, error) {
	if len(sps) == 0 || len(pps) == 0 {
		return nil, kvserrors.New(kvserrors.InvalidCPD, "nal.BuildAVCDecoderConfigRecord",
			fmt.Errorf("avcC record requires at least one SPS and one PPS, got %d/%d", len(sps), len(pps)))
	}
	s, p := sps[0], pps[0]
	if len(s) < 4 {
		return nil, kvserrors.New(kvserrors.InvalidCPD, "nal.BuildAVCDecoderConfigRecord",
			fmt.Errorf("SPS NAL too short: %d bytes", len(s)))
	}
	out := make([]byte, 0, 11+len(s)+len(p))
	out = append(out, 0x01)          // configurationVersion
	out = append(out, s[1], s[2], s[3]) // profile_idc, constraint flags, level_idc
	out = append(out, 0xFF)          // reserved(6)=111111 + lengthSizeMinusOne(2)=11 -> 4-byte lengths
	out = append(out, 0xE1)          // reserved(3)=111 + numOfSPS(5)=00001
	out = appendU16Prefixed(out, s)
	out = append(out, 0x01) // numOfPPS
	out = appendU16Prefixed(out, p)
	return out, nil
}

func appendU16Prefixed(dst, data []byte) []byte {
	var lenPrefix [2]byte
	binary.BigEndian.PutUint16(lenPrefix[:], uint16(len(data)))
	dst = append(dst, lenPrefix[:]...)
	dst = append(dst, data...)
	return dst
}

// hvcNALArrayType maps the VPS/SPS/PPS NAL unit type values used when
// building the hvcC array-of-arrays structure.
const (
	hevcNALTypeVPS = 32
	hevcNALTypeSPS = 33
	hevcNALTypePPS = 34
)

// BuildHEVCDecoderConfigRecord builds an H.265 hvcC record carrying the
// VPS/SPS/PPS parameter sets. Profile/tier/level fields are written
// conservatively (zeroed / all-reserved-bits-set) since the exact bit
// layout is parsed by internal/sps via mp4ff where an accurate value is
// needed; this builder's job is the CPD framing the MKV Tracks element
// stores, not re-deriving profile/tier semantics.
func BuildHEVCDecoderConfigRecord(vps, sps, pps [][]byte) ([]byte, error) {
	if len(sps) == 0 || len(pps) == 0 || len(vps) == 0 {
		return nil, kvserrors.New(kvserrors.InvalidCPD, "nal.BuildHEVCDecoderConfigRecord",
			fmt.Errorf("hvcC record requires at least one VPS/SPS/PPS, got %d/%d/%d", len(vps), len(sps), len(pps)))
	}
	out := make([]byte, 0, 23)
	out = append(out, 0x01)                         // configurationVersion
	out = append(out, 0x00)                         // profile_space/tier/profile_idc
	out = append(out, 0x00, 0x00, 0x00, 0x00)        // profile_compatibility_flags
	out = append(out, 0x00, 0x00, 0x00, 0x00, 0x00, 0x00) // constraint_indicator_flags
	out = append(out, 0x00)                         // general_level_idc
	out = append(out, 0xF0, 0x00)                   // reserved(4)=1111 + min_spatial_segmentation_idc(12)=0
	out = append(out, 0xFC)                         // reserved(6)=111111 + parallelismType(2)=00
	out = append(out, 0xFC)                         // reserved(6)=111111 + chromaFormat(2)=00
	out = append(out, 0xF8)                         // reserved(5)=11111 + bitDepthLumaMinus8(3)=000
	out = append(out, 0xF8)                         // reserved(5)=11111 + bitDepthChromaMinus8(3)=000
	out = append(out, 0x00, 0x00)                   // avgFrameRate
	out = append(out, 0x03)                         // constFrameRate(2)+numTemporalLayers(3)+temporalIdNested(1)+lengthSizeMinusOne(2)=11
	out = append(out, 0x03)                         // numOfArrays: VPS, SPS, PPS

	out = appendHEVCArray(out, hevcNALTypeVPS, vps)
	out = appendHEVCArray(out, hevcNALTypeSPS, sps)
	out = appendHEVCArray(out, hevcNALTypePPS, pps)
	return out, nil
}

func appendHEVCArray(dst []byte, nalType byte, nalus [][]byte) []byte {
	dst = append(dst, 0x80|nalType) // array_completeness=1, reserved=0, NAL_unit_type
	var count [2]byte
	binary.BigEndian.PutUint16(count[:], uint16(len(nalus)))
	dst = append(dst, count[:]...)
	for _, u := range nalus {
		dst = appendU16Prefixed(dst, u)
	}
	return dst
}
