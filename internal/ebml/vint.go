package ebml

import (
	"encoding/binary"
	"fmt"
	"math"

	kvserrors "github.com/alxayo/go-kvsproducer/internal/errors"
)

// ErrBufferTooSmall builds the BUFFER_TOO_SMALL error the fixed-buffer
// writer variant returns when the caller-provided buffer cannot hold the
// encoded output.
func ErrBufferTooSmall(op string, need, have int) error {
	return kvserrors.New(kvserrors.BufferTooSmall, op,
		fmt.Errorf("need %d bytes, have %d", need, have))
}

// EncodeVInt encodes value as an EBML variable-length integer, using the
// smallest length (1..8 bytes) that can hold it unless minBytes forces a
// larger encoding. minBytes <= 0 means "no minimum."
func EncodeVInt(value uint64, minBytes int) []byte {
	n := 1
	for n < 8 && value >= (uint64(1)<<(7*uint(n)))-1 {
		n++
	}
	if minBytes > n {
		n = minBytes
	}
	if n > 8 {
		n = 8
	}
	buf := make([]byte, n)
	buf[0] = 1 << uint(8-n)
	v := value
	for i := n - 1; i >= 0; i-- {
		buf[i] |= byte(v & 0xFF)
		v >>= 8
	}
	return buf
}

// EncodeID writes an element ID in its natural byte length, derived from
// the ID's magnitude (IDs already carry their own VINT-style length marker
// in their high bits, per the Matroska ID table).
func EncodeID(id uint32) []byte {
	switch {
	case id <= 0xFF:
		return []byte{byte(id)}
	case id <= 0xFFFF:
		buf := make([]byte, 2)
		binary.BigEndian.PutUint16(buf, uint16(id))
		return buf
	case id <= 0xFFFFFF:
		return []byte{byte(id >> 16), byte(id >> 8), byte(id)}
	default:
		buf := make([]byte, 4)
		binary.BigEndian.PutUint32(buf, id)
		return buf
	}
}

// EncodeMaster wraps body in a master element with the given id and an
// exact-size VINT length prefix.
func EncodeMaster(id uint32, body []byte) []byte {
	out := make([]byte, 0, 4+9+len(body))
	out = append(out, EncodeID(id)...)
	out = append(out, EncodeVInt(uint64(len(body)), 0)...)
	out = append(out, body...)
	return out
}

// EncodeUnknownSizeMasterHeader writes the id and the all-ones 8-byte
// unknown-size VINT used by streaming masters (Segment, Cluster).
func EncodeUnknownSizeMasterHeader(id uint32) []byte {
	out := make([]byte, 0, 4+8)
	out = append(out, EncodeID(id)...)
	out = append(out, unknownSizeMarker...)
	return out
}

// EncodeElement wraps a primitive body in an id + exact-size-VINT header,
// identical framing to EncodeMaster but named separately for call-site
// clarity when the body is a primitive value rather than a child tree.
func EncodeElement(id uint32, body []byte) []byte {
	return EncodeMaster(id, body)
}

// EncodeUint encodes v as the minimal-length big-endian unsigned integer
// element body (at least 1 byte, for v == 0).
func EncodeUint(v uint64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], v)
	i := 0
	for i < 7 && tmp[i] == 0 {
		i++
	}
	return tmp[i:]
}

// EncodeInt encodes v as the minimal-length big-endian signed integer
// element body, preserving sign via two's complement truncation.
func EncodeInt(v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	i := 0
	for i < 7 {
		b := tmp[i]
		next := tmp[i+1]
		if v >= 0 && b == 0x00 && next&0x80 == 0 {
			i++
			continue
		}
		if v < 0 && b == 0xFF && next&0x80 != 0 {
			i++
			continue
		}
		break
	}
	return tmp[i:]
}

// EncodeFloat64 encodes v as an 8-byte IEEE-754 double, the float element
// width this module emits (SamplingFrequency).
func EncodeFloat64(v float64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, math.Float64bits(v))
	return buf
}

// EncodeString returns the raw UTF-8/ASCII bytes of s (string element body).
func EncodeString(s string) []byte {
	return []byte(s)
}

// EncodeBytes returns b unchanged (binary element body, e.g. CodecPrivate).
func EncodeBytes(b []byte) []byte {
	return b
}

// EncodeUUID returns the 16 raw bytes of id (binary element body).
func EncodeUUID(id [16]byte) []byte {
	out := make([]byte, 16)
	copy(out, id[:])
	return out
}
