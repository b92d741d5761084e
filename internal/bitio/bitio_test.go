package bitio

import "testing"

func TestReadBits(t *testing.T) {
	r := NewReader([]byte{0b10110010})
	v, err := r.ReadBits(4)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if v != 0b1011 {
		t.Fatalf("got %b want %b", v, 0b1011)
	}
	v, err = r.ReadBits(4)
	if err != nil {
		t.Fatalf("ReadBits: %v", err)
	}
	if v != 0b0010 {
		t.Fatalf("got %b want %b", v, 0b0010)
	}
}

func TestReadUE(t *testing.T) {
	// ue(v)=0 encodes as "1"; ue(v)=1 encodes as "010"; ue(v)=2 as "011"
	r := NewReader([]byte{0b1_010_011_0})
	v, err := r.ReadUE()
	if err != nil || v != 0 {
		t.Fatalf("first ue: v=%d err=%v", v, err)
	}
	v, err = r.ReadUE()
	if err != nil || v != 1 {
		t.Fatalf("second ue: v=%d err=%v", v, err)
	}
	v, err = r.ReadUE()
	if err != nil || v != 2 {
		t.Fatalf("third ue: v=%d err=%v", v, err)
	}
}

func TestReadSE(t *testing.T) {
	// se(v) mapping: ue=0->0, ue=1->1, ue=2->-1, ue=3->2, ue=4->-2
	cases := []struct {
		ue   uint32
		want int32
	}{
		{0, 0},
		{1, 1},
		{2, -1},
		{3, 2},
		{4, -2},
	}
	for _, c := range cases {
		got, err := NewReader(expGolomb(c.ue)).ReadSE()
		if err != nil {
			t.Fatalf("ReadSE(ue=%d): %v", c.ue, err)
		}
		if got != c.want {
			t.Errorf("ReadSE(ue=%d) = %d, want %d", c.ue, got, c.want)
		}
	}
}

// expGolomb encodes ue as an Exp-Golomb bit string (width leading zeros,
// then the width+1 bits of ue+1), MSB-first and zero-padded to a byte.
func expGolomb(ue uint32) []byte {
	code := uint64(ue) + 1
	width := 0
	for code>>uint(width) > 1 {
		width++
	}
	buf := make([]byte, (2*width+1+7)/8)
	for i := 0; i <= width; i++ {
		if code&(1<<uint(width-i)) != 0 {
			pos := width + i
			buf[pos/8] |= 0x80 >> uint(pos%8)
		}
	}
	return buf
}

func TestStripEmulationPrevention(t *testing.T) {
	in := []byte{0x00, 0x00, 0x03, 0x01, 0x00, 0x00, 0x03, 0x02, 0x00, 0x00, 0x00}
	out := StripEmulationPrevention(in)
	want := []byte{0x00, 0x00, 0x01, 0x00, 0x00, 0x02, 0x00, 0x00, 0x00}
	if len(out) != len(want) {
		t.Fatalf("length mismatch: got %v want %v", out, want)
	}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("byte %d mismatch: got %v want %v", i, out, want)
		}
	}
}

func TestUint32BERoundTrip(t *testing.T) {
	buf := make([]byte, 4)
	PutUint32BE(buf, 0x01020304)
	if got := Uint32BE(buf); got != 0x01020304 {
		t.Fatalf("got %x want %x", got, 0x01020304)
	}
}
