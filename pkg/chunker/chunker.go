// Package chunker splits firmware payloads into fixed-size pieces for
// transports that can only move a bounded number of bytes per transaction
// (HID feature reports, block-size-constrained flash writes, UF2's
// 256-byte payloads).
package chunker

import (
	"fmt"

	"fwupdcore/pkg/ferrors"
)

// Chunk is one addressed, page-aligned slice of a firmware image.
type Chunk struct {
	Idx          int
	Address      uint32
	Data         []byte
	PageSz       uint32
	PageBoundary bool // set on the first chunk of each page
}

// ChunkArray splits data into chunks of at most chunkSz bytes, each tagged
// with its address relative to baseAddr. pageSz, when non-zero, prevents a
// chunk from straddling a page boundary — the last chunk before a boundary
// is shortened instead.
func ChunkArray(data []byte, baseAddr uint32, chunkSz, pageSz uint32) ([]Chunk, error) {
	if chunkSz == 0 {
		return nil, fmt.Errorf("chunk array: %w", ferrors.New(ferrors.InvalidData, "chunk size must be non-zero"))
	}

	var chunks []Chunk
	addr := baseAddr
	for off := 0; off < len(data); {
		sz := chunkSz
		if pageSz != 0 {
			untilPage := pageSz - (addr % pageSz)
			if untilPage < sz {
				sz = untilPage
			}
		}
		if int(sz) > len(data)-off {
			sz = uint32(len(data) - off)
		}
		chunks = append(chunks, Chunk{
			Idx:          len(chunks),
			Address:      addr,
			Data:         data[off : off+int(sz)],
			PageSz:       pageSz,
			PageBoundary: pageSz != 0 && addr%pageSz == 0,
		})
		off += int(sz)
		addr += sz
	}
	return chunks, nil
}

// Join reassembles chunks back into a contiguous buffer, validating that
// indices are contiguous starting at 0 — the shape a composite-write
// transaction expects before it hands data to a transport.
func Join(chunks []Chunk) ([]byte, error) {
	var total int
	for i, c := range chunks {
		if c.Idx != i {
			return nil, fmt.Errorf("join chunks: %w", ferrors.New(ferrors.InvalidData,
				fmt.Sprintf("chunk %d out of order (idx %d)", i, c.Idx)))
		}
		total += len(c.Data)
	}
	out := make([]byte, 0, total)
	for _, c := range chunks {
		out = append(out, c.Data...)
	}
	return out, nil
}
