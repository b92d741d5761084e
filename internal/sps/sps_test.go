package sps

import (
	"testing"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

func TestDetectContainerFormAVCC(t *testing.T) {
	data := []byte{0x01, 0x42, 0xC0, 0x1F, 0xFF, 0xE1}
	if got := DetectContainerForm(data); got != ContainerAVCCHVCC {
		t.Fatalf("got %v, want ContainerAVCCHVCC", got)
	}
}

func TestDetectContainerFormAnnexBFourByte(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x67, 0x42}
	if got := DetectContainerForm(data); got != ContainerAnnexB {
		t.Fatalf("got %v, want ContainerAnnexB", got)
	}
}

func TestDetectContainerFormAnnexBThreeByte(t *testing.T) {
	data := []byte{0, 0, 1, 0x67, 0x42}
	if got := DetectContainerForm(data); got != ContainerAnnexB {
		t.Fatalf("got %v, want ContainerAnnexB", got)
	}
}

func TestDetectContainerFormBIH(t *testing.T) {
	data := make([]byte, 40)
	data[0] = 40 // biSize LE
	if got := DetectContainerForm(data); got != ContainerBIH {
		t.Fatalf("got %v, want ContainerBIH", got)
	}
}

func TestDetectContainerFormUnknown(t *testing.T) {
	data := []byte{0x55, 0x55, 0x55}
	if got := DetectContainerForm(data); got != ContainerUnknown {
		t.Fatalf("got %v, want ContainerUnknown", got)
	}
}

func TestParseBIHDimensions(t *testing.T) {
	data := make([]byte, 40)
	data[0] = 40
	// width=1920 LE
	data[4], data[5], data[6], data[7] = 0x80, 0x07, 0x00, 0x00
	// height=-1080 LE (top-down bitmap), magnitude 1080
	neg := uint32(0xFFFFFFFF - 1080 + 1)
	data[8] = byte(neg)
	data[9] = byte(neg >> 8)
	data[10] = byte(neg >> 16)
	data[11] = byte(neg >> 24)

	dims, err := ParseDimensions(CodecH264, data)
	if err != nil {
		t.Fatalf("ParseDimensions: %v", err)
	}
	if dims.Width != 1920 || dims.Height != 1080 {
		t.Fatalf("got %+v, want 1920x1080", dims)
	}
}

func TestParseBIHDimensionsTooShort(t *testing.T) {
	data := make([]byte, 10)
	data[0] = 40
	_, err := ParseDimensions(CodecH264, data)
	if err == nil {
		t.Fatalf("expected error for short BIH blob")
	}
	kind, ok := kvserrors.Kind(err)
	if !ok || kind != kvserrors.InvalidBIHCPD {
		t.Fatalf("expected InvalidBIHCPD, got %v ok=%v", kind, ok)
	}
}

func TestParseAVCCRecordSPSExtraction(t *testing.T) {
	sps := []byte{0x67, 0x42, 0xC0, 0x1F, 0xAA, 0xBB, 0xCC}
	pps := []byte{0x68, 0xCE, 0x38, 0x80}
	record := []byte{0x01, 0x42, 0xC0, 0x1F, 0xFF, 0xE1}
	record = append(record, byte(len(sps)>>8), byte(len(sps)))
	record = append(record, sps...)
	record = append(record, 0x01, byte(len(pps)>>8), byte(len(pps)))
	record = append(record, pps...)

	got, err := parseAVCCRecordSPS(record)
	if err != nil {
		t.Fatalf("parseAVCCRecordSPS: %v", err)
	}
	if string(got) != string(sps) {
		t.Fatalf("got % x want % x", got, sps)
	}
}

func TestParseAVCCRecordSPSNoSPS(t *testing.T) {
	record := []byte{0x01, 0x42, 0xC0, 0x1F, 0xFF, 0xE0} // numOfSPS = 0
	if _, err := parseAVCCRecordSPS(record); err == nil {
		t.Fatalf("expected error when no SPS present")
	}
}

func TestParseHVCCRecordSPSExtraction(t *testing.T) {
	vps := []byte{0x40, 0x01, 0x0C}
	sps := []byte{0x42, 0x01, 0x01, 0x02, 0x03}
	pps := []byte{0x44, 0x01, 0xC1}

	header := make([]byte, 22)
	header[0] = 0x01
	record := append(header, 0x03) // numOfArrays = 3

	appendArray := func(nalType byte, units ...[]byte) {
		record = append(record, 0x80|nalType)
		record = append(record, byte(len(units)>>8), byte(len(units)))
		for _, u := range units {
			record = append(record, byte(len(u)>>8), byte(len(u)))
			record = append(record, u...)
		}
	}
	appendArray(hevcNALTypeVPS, vps)
	appendArray(hevcNALTypeSPS, sps)
	appendArray(hevcNALTypePPS, pps)

	got, err := parseHVCCRecordSPS(record)
	if err != nil {
		t.Fatalf("parseHVCCRecordSPS: %v", err)
	}
	if string(got) != string(sps) {
		t.Fatalf("got % x want % x", got, sps)
	}
}

func TestSpsNALTypeH264(t *testing.T) {
	unit := []byte{0x67, 0x42} // nal_unit_type = 7 in low 5 bits
	typ, ok := spsNALType(CodecH264, unit)
	if !ok || typ != h264NALTypeSPS {
		t.Fatalf("got %d ok=%v, want %d", typ, ok, h264NALTypeSPS)
	}
}

func TestSpsNALTypeH265(t *testing.T) {
	unit := []byte{0x42, 0x01} // (0x42>>1)&0x3F = 33
	typ, ok := spsNALType(CodecH265, unit)
	if !ok || typ != h265NALTypeSPS {
		t.Fatalf("got %d ok=%v, want %d", typ, ok, h265NALTypeSPS)
	}
}

func TestExtractFirstSPSFromAnnexBNotFound(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0x68, 0xCE, 0x38, 0x80} // PPS only, no SPS
	if _, err := extractFirstSPSFromAnnexB(CodecH264, data); err == nil {
		t.Fatalf("expected error for missing SPS")
	}
}

func TestParseDimensionsUnrecognizedForm(t *testing.T) {
	_, err := ParseDimensions(CodecH264, []byte{0x55, 0x55})
	if err == nil {
		t.Fatalf("expected error for unrecognized container form")
	}
	kind, ok := kvserrors.Kind(err)
	if !ok || kind != kvserrors.InvalidCPD {
		t.Fatalf("expected InvalidCPD, got %v ok=%v", kind, ok)
	}
}
