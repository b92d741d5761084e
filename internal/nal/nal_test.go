package nal

import (
	"bytes"
	"testing"
)

func TestScanAnnexBSplitsUnits(t *testing.T) {
	data := []byte{
		0, 0, 0, 1, 2, 3, 4, 5, 0, 0, 0, 0,
		0, 0, 0, 1, 6, 0, 0, 0, 0,
	}
	units, err := ScanAnnexB(data)
	if err != nil {
		t.Fatalf("ScanAnnexB: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	want0 := []byte{2, 3, 4, 5, 0, 0, 0, 0}
	want1 := []byte{6, 0, 0, 0, 0}
	if !bytes.Equal(units[0], want0) {
		t.Errorf("unit0 = % x, want % x", units[0], want0)
	}
	if !bytes.Equal(units[1], want1) {
		t.Errorf("unit1 = % x, want % x", units[1], want1)
	}
}

func TestScanAnnexBThreeByteStartCode(t *testing.T) {
	data := []byte{0, 0, 1, 0xAA, 0xBB, 0, 0, 1, 0xCC}
	units, err := ScanAnnexB(data)
	if err != nil {
		t.Fatalf("ScanAnnexB: %v", err)
	}
	if len(units) != 2 {
		t.Fatalf("expected 2 units, got %d", len(units))
	}
	if !bytes.Equal(units[0], []byte{0xAA, 0xBB}) {
		t.Errorf("unit0 = % x", units[0])
	}
	if !bytes.Equal(units[1], []byte{0xCC}) {
		t.Errorf("unit1 = % x", units[1])
	}
}

func TestScanAnnexBNoStartCodeFails(t *testing.T) {
	if _, err := ScanAnnexB([]byte{1, 2, 3, 4, 5}); err == nil {
		t.Fatalf("expected error for input with no start codes")
	}
}

func TestAnnexBToAVCCFrame(t *testing.T) {
	data := []byte{0, 0, 0, 1, 0xAA, 0xBB, 0xCC}
	out, err := AnnexBToAVCCFrame(data)
	if err != nil {
		t.Fatalf("AnnexBToAVCCFrame: %v", err)
	}
	want := []byte{0, 0, 0, 3, 0xAA, 0xBB, 0xCC}
	if !bytes.Equal(out, want) {
		t.Fatalf("got % x want % x", out, want)
	}
}

func TestAVCCToAnnexBInPlace(t *testing.T) {
	buf := []byte{0, 0, 0, 3, 0xAA, 0xBB, 0xCC, 0, 0, 0, 1, 0xDD}
	if err := AVCCToAnnexBInPlace(buf); err != nil {
		t.Fatalf("AVCCToAnnexBInPlace: %v", err)
	}
	want := []byte{0, 0, 0, 1, 0xAA, 0xBB, 0xCC, 0, 0, 0, 1, 0xDD}
	if !bytes.Equal(buf, want) {
		t.Fatalf("got % x want % x", buf, want)
	}
}

func TestAVCCToAnnexBRoundTrip(t *testing.T) {
	orig := []byte{0, 0, 0, 1, 1, 2, 3, 4, 5, 6, 7, 8}
	avcc, err := AnnexBToAVCCFrame(orig)
	if err != nil {
		t.Fatalf("AnnexBToAVCCFrame: %v", err)
	}
	roundTrip := append([]byte(nil), avcc...)
	if err := AVCCToAnnexBInPlace(roundTrip); err != nil {
		t.Fatalf("AVCCToAnnexBInPlace: %v", err)
	}
	if !bytes.Equal(roundTrip, orig) {
		t.Fatalf("round trip mismatch: got % x want % x", roundTrip, orig)
	}
}

func TestAVCCToAnnexBOverrunFails(t *testing.T) {
	buf := []byte{0, 0, 0, 10, 1, 2, 3}
	if err := AVCCToAnnexBInPlace(buf); err == nil {
		t.Fatalf("expected overrun error")
	}
}

func TestBuildAVCDecoderConfigRecord(t *testing.T) {
	sps := []byte{0x67, 0x42, 0x40, 0x1F, 0x96, 0x54}
	pps := []byte{0x68, 0xCE, 0x38, 0x80}
	record, err := BuildAVCDecoderConfigRecord([][]byte{sps}, [][]byte{pps})
	if err != nil {
		t.Fatalf("BuildAVCDecoderConfigRecord: %v", err)
	}
	if record[0] != 0x01 {
		t.Fatalf("configurationVersion = %x, want 0x01", record[0])
	}
	if record[1] != 0x42 || record[2] != 0x40 || record[3] != 0x1F {
		t.Fatalf("profile/constraints/level = % x", record[1:4])
	}
	if record[4] != 0xFF || record[5] != 0xE1 {
		t.Fatalf("reserved bytes = % x", record[4:6])
	}
	spsLen := int(record[6])<<8 | int(record[7])
	if spsLen != len(sps) {
		t.Fatalf("sps length field = %d, want %d", spsLen, len(sps))
	}
}

func TestBuildAVCDecoderConfigRecordRequiresSPSAndPPS(t *testing.T) {
	if _, err := BuildAVCDecoderConfigRecord(nil, [][]byte{{1}}); err == nil {
		t.Fatalf("expected error for missing SPS")
	}
	if _, err := BuildAVCDecoderConfigRecord([][]byte{{1, 2, 3, 4}}, nil); err == nil {
		t.Fatalf("expected error for missing PPS")
	}
}

func TestBuildHEVCDecoderConfigRecord(t *testing.T) {
	vps := [][]byte{{0x40, 0x01}}
	sps := [][]byte{{0x42, 0x01}}
	pps := [][]byte{{0x44, 0x01}}
	record, err := BuildHEVCDecoderConfigRecord(vps, sps, pps)
	if err != nil {
		t.Fatalf("BuildHEVCDecoderConfigRecord: %v", err)
	}
	if record[0] != 0x01 {
		t.Fatalf("configurationVersion = %x", record[0])
	}
	if record[22] != 0x03 {
		t.Fatalf("numOfArrays = %d, want 3", record[22])
	}
}
