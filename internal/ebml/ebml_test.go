package ebml

import (
	"bytes"
	"testing"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

func TestEncodeVIntMinimalLength(t *testing.T) {
	cases := []struct {
		value    uint64
		wantLen  int
		wantByte byte // first byte
	}{
		{0, 1, 0x80},
		{126, 1, 0x80 | 126},
		{127, 2, 0x40}, // 127 == (1<<7)-1, needs 2 bytes
		{16383, 3, 0x20},
	}
	for _, c := range cases {
		got := EncodeVInt(c.value, 0)
		if len(got) != c.wantLen {
			t.Errorf("EncodeVInt(%d): len=%d want=%d (% x)", c.value, len(got), c.wantLen, got)
		}
	}
}

func TestEncodeVIntMinBytesForced(t *testing.T) {
	got := EncodeVInt(5, 4)
	if len(got) != 4 {
		t.Fatalf("expected forced 4-byte length, got %d (% x)", len(got), got)
	}
}

func TestEncodeIDLengths(t *testing.T) {
	if got := EncodeID(IDSimpleBlock); len(got) != 1 {
		t.Errorf("SimpleBlock id len = %d, want 1", len(got))
	}
	if got := EncodeID(IDEBMLVersion); len(got) != 2 {
		t.Errorf("EBMLVersion id len = %d, want 2", len(got))
	}
	if got := EncodeID(IDTimecodeScale); len(got) != 3 {
		t.Errorf("TimecodeScale id len = %d, want 3", len(got))
	}
	if got := EncodeID(IDEBMLHeader); len(got) != 4 {
		t.Errorf("EBMLHeader id len = %d, want 4", len(got))
	}
}

func TestEncodeMasterRoundTripLength(t *testing.T) {
	body := []byte{0x01, 0x02, 0x03}
	out := EncodeMaster(IDSegmentInfo, body)
	idLen := len(EncodeID(IDSegmentInfo))
	if !bytes.Equal(out[:idLen], EncodeID(IDSegmentInfo)) {
		t.Fatalf("id prefix mismatch")
	}
	if !bytes.HasSuffix(out, body) {
		t.Fatalf("body suffix mismatch: %x", out)
	}
}

func TestEncodeUnknownSizeMasterHeader(t *testing.T) {
	out := EncodeUnknownSizeMasterHeader(IDCluster)
	want := append(EncodeID(IDCluster), unknownSizeMarker...)
	if !bytes.Equal(out, want) {
		t.Fatalf("got % x want % x", out, want)
	}
}

func TestEncodeUintMinimal(t *testing.T) {
	if got := EncodeUint(0); len(got) != 1 || got[0] != 0 {
		t.Fatalf("EncodeUint(0) = % x", got)
	}
	if got := EncodeUint(256); len(got) != 2 {
		t.Fatalf("EncodeUint(256) = % x, want 2 bytes", got)
	}
}

func TestEncodeIntSignPreserved(t *testing.T) {
	got := EncodeInt(-1)
	if len(got) != 1 || got[0] != 0xFF {
		t.Fatalf("EncodeInt(-1) = % x", got)
	}
	got = EncodeInt(-300)
	if len(got) != 2 {
		t.Fatalf("EncodeInt(-300) = % x, want 2 bytes", got)
	}
}

func TestFixedWriterBufferTooSmall(t *testing.T) {
	dst := make([]byte, 2)
	fw := NewFixedWriter(dst)
	err := fw.WriteElement(IDTimecode, EncodeUint(12345))
	if err == nil {
		t.Fatalf("expected ErrBufferTooSmall")
	}
	kind, ok := kvserrors.Kind(err)
	if !ok || kind != kvserrors.BufferTooSmall {
		t.Fatalf("expected BufferTooSmall kind, got %v ok=%v", kind, ok)
	}
}

func TestFixedWriterSuccess(t *testing.T) {
	dst := make([]byte, 32)
	fw := NewFixedWriter(dst)
	if err := fw.WriteElement(IDTimecode, EncodeUint(5)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if fw.N() == 0 {
		t.Fatalf("expected bytes written")
	}
}

func TestWriterMasterNesting(t *testing.T) {
	w := NewWriter(64)
	inner := NewWriter(16)
	inner.WriteUint(IDTrackNumber, 1)
	w.WriteMaster(IDTrackEntry, inner.Bytes())
	if w.Len() == 0 {
		t.Fatalf("expected bytes written")
	}
}
