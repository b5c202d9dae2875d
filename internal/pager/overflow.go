package pager

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

// ───────────────────────────────────────────────────────────────────────────
// Overflow pages — the value-spill chain for oversized values
// ───────────────────────────────────────────────────────────────────────────
//
// A value too large to fit inline in a leaf record (see OverflowThreshold)
// is split into fixed-size chunks and written as a singly-linked chain of
// overflow pages; the leaf entry keeps only the chain head and the
// reassembled total size. Reads walk the chain with readOverflow and
// concatenate each page's chunk back into the original value.
//
// Layout:
//   [0:32]   Common PageHeader (Type=Overflow)
//   [32:36]  NextOverflow  (uint32 LE) — next page in chain, 0 = end
//   [36:40]  ChunkLen      (uint32 LE) — bytes of value chunk in this page
//   [40:44]  ChunkCRC      (uint32 LE) — CRC32-C of the chunk bytes alone
//   [44:44+ChunkLen]  Chunk data
//
// ChunkCRC is redundant with the page-level CRC under normal operation, but
// it travels with the chunk independently of the page header, so a reader
// that reassembles a value from chunks pulled across several ReadPage calls
// can catch a chunk that was overwritten in place (e.g. by a torn write that
// still passes the page CRC check because the header bytes recomputed
// cleanly) without re-verifying the whole page.
const (
	overflowNextOff     = PageHeaderSize          // 32
	overflowChunkLenOff = overflowNextOff + 4     // 36
	overflowChunkCRCOff = overflowChunkLenOff + 4 // 40
	overflowDataOff     = overflowChunkCRCOff + 4 // 44
)

// OverflowCapacity returns the payload capacity of a single overflow page.
func OverflowCapacity(pageSize int) int {
	return pageSize - overflowDataOff
}

// OverflowPage wraps a page buffer as an overflow page.
type OverflowPage struct {
	buf      []byte
	pageSize int
}

// WrapOverflowPage wraps an existing overflow page buffer.
func WrapOverflowPage(buf []byte) *OverflowPage {
	return &OverflowPage{buf: buf, pageSize: len(buf)}
}

// InitOverflowPage creates a new overflow page.
func InitOverflowPage(buf []byte, id PageID) *OverflowPage {
	h := &PageHeader{Type: PageTypeOverflow, ID: id}
	MarshalHeader(h, buf)
	binary.LittleEndian.PutUint32(buf[overflowNextOff:], uint32(InvalidPageID))
	binary.LittleEndian.PutUint32(buf[overflowChunkLenOff:], 0)
	binary.LittleEndian.PutUint32(buf[overflowChunkCRCOff:], 0)
	return &OverflowPage{buf: buf, pageSize: len(buf)}
}

// NextOverflow returns the next overflow page in the chain.
func (op *OverflowPage) NextOverflow() PageID {
	return PageID(binary.LittleEndian.Uint32(op.buf[overflowNextOff:]))
}

// SetNextOverflow sets the next-page pointer.
func (op *OverflowPage) SetNextOverflow(pid PageID) {
	binary.LittleEndian.PutUint32(op.buf[overflowNextOff:], uint32(pid))
}

// DataLen returns the number of chunk bytes stored on this page.
func (op *OverflowPage) DataLen() int {
	return int(binary.LittleEndian.Uint32(op.buf[overflowChunkLenOff:]))
}

// SetData writes a value chunk into the overflow page along with its
// standalone CRC. Returns a KindCapacity error if the chunk exceeds the
// page's capacity.
func (op *OverflowPage) SetData(chunk []byte) error {
	cap := OverflowCapacity(op.pageSize)
	if len(chunk) > cap {
		return Wrap(KindCapacity, "OverflowPage.SetData",
			fmt.Errorf("chunk of %d bytes exceeds overflow page capacity %d", len(chunk), cap))
	}
	binary.LittleEndian.PutUint32(op.buf[overflowChunkLenOff:], uint32(len(chunk)))
	binary.LittleEndian.PutUint32(op.buf[overflowChunkCRCOff:], crc32.Checksum(chunk, crcTable))
	copy(op.buf[overflowDataOff:], chunk)
	return nil
}

// Data returns the chunk bytes stored on this page, without verifying
// ChunkCRC. Callers that reassemble a value across the whole chain should
// use Verify to catch a chunk corrupted independently of the page header.
func (op *OverflowPage) Data() []byte {
	dl := op.DataLen()
	return op.buf[overflowDataOff : overflowDataOff+dl]
}

// Verify checks the chunk's standalone CRC and reports a KindCorruption
// error naming the offending page on mismatch.
func (op *OverflowPage) Verify() error {
	stored := binary.LittleEndian.Uint32(op.buf[overflowChunkCRCOff:])
	computed := crc32.Checksum(op.Data(), crcTable)
	if stored != computed {
		pid := PageID(binary.LittleEndian.Uint32(op.buf[4:8]))
		return Wrap(KindCorruption, "OverflowPage.Verify",
			fmt.Errorf("overflow chunk CRC mismatch on page %d: stored=%08x computed=%08x", pid, stored, computed))
	}
	return nil
}

// Bytes returns the underlying page buffer.
func (op *OverflowPage) Bytes() []byte { return op.buf }
