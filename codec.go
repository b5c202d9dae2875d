package bptreekv

import (
	"encoding/binary"
	"fmt"

	"github.com/bptreekv/bptreekv/internal/pager"
	"golang.org/x/text/collate"
	"golang.org/x/text/language"
)

// Codec converts between a Go type and the length-delimited, deterministic,
// order-preserving byte encoding the on-disk engine compares with
// bytes.Compare. Encode must be injective and Decode its inverse; Encode's
// byte order must agree with T's natural order so the tree's ascending scan
// is also T's ascending scan.
type Codec[T any] interface {
	Encode(v T) []byte
	Decode(b []byte) (T, error)
}

// Uint64Codec encodes unsigned integers as big-endian 8-byte blocks, whose
// byte order is numeric order by construction.
type Uint64Codec struct{}

func (Uint64Codec) Encode(v uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return buf
}

func (Uint64Codec) Decode(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("bptreekv: Uint64Codec: want 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}

// Int64Codec encodes signed integers as big-endian 8-byte blocks with the
// sign bit flipped, so two's-complement negative values sort before
// non-negative ones under plain byte comparison (the same trick tinySQL's
// column encoders use for signed integer index keys).
type Int64Codec struct{}

func (Int64Codec) Encode(v int64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(v)^signBit)
	return buf
}

func (Int64Codec) Decode(b []byte) (int64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("bptreekv: Int64Codec: want 8 bytes, got %d", len(b))
	}
	return int64(binary.BigEndian.Uint64(b) ^ signBit), nil
}

const signBit = uint64(1) << 63

// StringCodec encodes strings as raw UTF-8 bytes. Byte order matches
// codepoint order only within ASCII; for locale-aware or full-Unicode
// ordering use CollatedStringCodec instead.
type StringCodec struct{}

func (StringCodec) Encode(v string) []byte { return []byte(v) }

func (StringCodec) Decode(b []byte) (string, error) { return string(b), nil }

// BytesCodec passes keys/values through unchanged. Byte order is the
// engine's native order, so this codec is always order-preserving.
type BytesCodec struct{}

func (BytesCodec) Encode(v []byte) []byte { return v }

func (BytesCodec) Decode(b []byte) ([]byte, error) {
	out := make([]byte, len(b))
	copy(out, b)
	return out, nil
}

// CollatedStringCodec encodes strings via a golang.org/x/text/collate sort
// key for the given locale, so ascending byte-order iteration visits strings
// in that locale's collation order instead of raw UTF-8 byte order (e.g.
// "café" sorting next to "cafe" under a French collator). Decode always
// returns a Capacity-kind error: a collation key does not retain the
// original string, so this codec orders keys but cannot turn a stored key
// back into a string.
type CollatedStringCodec struct {
	collator *collate.Collator
	buf      collate.Buffer
}

// NewCollatedStringCodec builds a codec for the given BCP 47 locale tag
// (e.g. "fr", "de", "en-US").
func NewCollatedStringCodec(tag language.Tag) *CollatedStringCodec {
	return &CollatedStringCodec{collator: collate.New(tag)}
}

func (c *CollatedStringCodec) Encode(v string) []byte {
	c.buf.Reset()
	return c.collator.Key(&c.buf, []byte(v))
}

func (c *CollatedStringCodec) Decode(b []byte) (string, error) {
	return "", pager.Wrap(KindCapacity, "CollatedStringCodec.Decode",
		fmt.Errorf("collation keys do not retain the original string"))
}
