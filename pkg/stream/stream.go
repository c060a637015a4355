// Package stream provides the InputStream abstraction firmware parsers read
// from: a seekable, possibly partial view over bytes that may come from a
// file, an archive entry, or another firmware's sub-image.
package stream

import (
	"bytes"
	"fmt"
	"io"

	"fwupdcore/pkg/ferrors"
)

// InputStream is a read-only, seekable window over firmware bytes. Readers
// never see bytes outside [0, Size()); Chunker and the format parsers are
// the only consumers that need random access.
type InputStream struct {
	data   []byte
	offset int64
}

// New wraps buf as an InputStream. buf is not copied; callers must not
// mutate it afterward.
func New(buf []byte) *InputStream {
	return &InputStream{data: buf}
}

// Size returns the total number of bytes in the stream.
func (s *InputStream) Size() int64 { return int64(len(s.data)) }

// Read implements io.Reader.
func (s *InputStream) Read(p []byte) (int, error) {
	if s.offset >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[s.offset:])
	s.offset += int64(n)
	return n, nil
}

// Seek implements io.Seeker.
func (s *InputStream) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = s.offset + offset
	case io.SeekEnd:
		abs = int64(len(s.data)) + offset
	default:
		return 0, fmt.Errorf("stream seek: %w", ferrors.New(ferrors.InvalidData, "invalid whence"))
	}
	if abs < 0 {
		return 0, fmt.Errorf("stream seek: %w", ferrors.New(ferrors.InvalidData, "negative offset"))
	}
	s.offset = abs
	return abs, nil
}

// ReadAt reads exactly n bytes starting at off without moving the
// stream's cursor, failing with ferrors.Read if the range runs past Size().
func (s *InputStream) ReadAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || off+int64(n) > int64(len(s.data)) {
		return nil, fmt.Errorf("stream read-at: %w", ferrors.New(ferrors.Read,
			fmt.Sprintf("range [%d,%d) outside stream of size %d", off, off+int64(n), len(s.data))))
	}
	return s.data[off : off+int64(n)], nil
}

// Bytes returns the entire backing buffer. Callers must treat it read-only.
func (s *InputStream) Bytes() []byte { return s.data }

// SubStream returns a new InputStream over [off, off+n) of s, used when a
// firmware's image has embedded child images (archive entries, PSP
// directory entries, and so on).
func (s *InputStream) SubStream(off int64, n int64) (*InputStream, error) {
	b, err := s.ReadAt(off, int(n))
	if err != nil {
		return nil, err
	}
	return New(bytes.Clone(b)), nil
}

// ReadString reads a NUL-terminated or max-length string starting at off,
// mirroring memstrsafe's "never read past the buffer" guarantee used by the
// ATOM BIOS and UF2 description-tag parsers.
func ReadString(buf []byte, off, maxLen int) (string, error) {
	if off < 0 || off > len(buf) {
		return "", fmt.Errorf("read string: %w", ferrors.New(ferrors.Read, "offset outside buffer"))
	}
	end := off + maxLen
	if end > len(buf) {
		end = len(buf)
	}
	for i := off; i < end; i++ {
		if buf[i] == 0 {
			return string(buf[off:i]), nil
		}
	}
	return string(buf[off:end]), nil
}

// Sum8 is the one's-complement-free byte checksum ACPI tables use: the sum
// of every byte in buf, truncated to uint8.
func Sum8(buf []byte) byte {
	var sum byte
	for _, b := range buf {
		sum += b
	}
	return sum
}

// CRC16IBM is the CRC-16/ARC variant (poly 0xA001, init 0x0000) behind
// firmware.Image.Checksum, generalized from the teacher's fixed ASIC
// packet checksum into a reusable helper.
func CRC16IBM(data []byte) uint16 {
	var crc uint16
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
