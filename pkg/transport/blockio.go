package transport

import (
	"context"
	"fmt"
	"os"
	"time"

	"fwupdcore/pkg/ferrors"
)

// BlockIOTransport writes firmware at a fixed block size to a device node
// or regular file, the shape an NVMe namespace or a raw flash MTD device
// presents. It has no framing of its own: the device layer is expected to
// have already chunked the payload to BlockSize via pkg/chunker.
type BlockIOTransport struct {
	path      string
	blockSize int
	file      *os.File
	offset    int64
}

// NewBlockIOTransport targets path with block-sized I/O (Open opens it); blockSize of 0
// means "no alignment requirement" (plain sequential read/write).
func NewBlockIOTransport(path string, blockSize int) *BlockIOTransport {
	return &BlockIOTransport{path: path, blockSize: blockSize}
}

func (t *BlockIOTransport) Open(ctx context.Context) error {
	f, err := os.OpenFile(t.path, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("block-io open: %w", ferrors.New(ferrors.NotFound, err.Error()))
	}
	t.file = f
	return nil
}

func (t *BlockIOTransport) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (t *BlockIOTransport) Write(ctx context.Context, data []byte) error {
	if t.file == nil {
		return fmt.Errorf("block-io write: %w", ferrors.Gone)
	}
	if t.blockSize != 0 && len(data)%t.blockSize != 0 {
		return fmt.Errorf("block-io write: %w", ferrors.New(ferrors.InvalidData,
			fmt.Sprintf("payload length %d not a multiple of block size %d", len(data), t.blockSize)))
	}
	n, err := t.file.WriteAt(data, t.offset)
	if err != nil {
		return fmt.Errorf("block-io write: %w", ferrors.New(ferrors.Write, err.Error()))
	}
	t.offset += int64(n)
	return nil
}

func (t *BlockIOTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if t.file == nil {
		return 0, fmt.Errorf("block-io read: %w", ferrors.Gone)
	}
	n, err := t.file.ReadAt(buf, t.offset)
	if err != nil {
		return 0, fmt.Errorf("block-io read: %w", ferrors.New(ferrors.Read, err.Error()))
	}
	return n, nil
}

// ReadSysfsLine reads a single trimmed line from a sysfs attribute file,
// the small helper spec.md §9 calls for instead of ad hoc bufio plumbing
// scattered across every transport that needs to probe device attributes
// (e.g. a block device's queue/physical_block_size).
func ReadSysfsLine(path string) (string, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read sysfs line: %w", ferrors.New(ferrors.Read, err.Error()))
	}
	s := string(buf)
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s, nil
}
