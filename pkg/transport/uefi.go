package transport

import (
	"context"
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"fwupdcore/pkg/ferrors"
)

// UEFIVarTransport reads and writes UEFI runtime variables through Linux's
// efivarfs, the mechanism fwupd's ESRT/capsule-update path relies on to
// stage a firmware image for the next boot's UpdateCapsule call.
type UEFIVarTransport struct {
	name   string
	guid   string
	root   string
	attrs  uint32
	loaded bool
}

const defaultEfivarfsRoot = "/sys/firmware/efi/efivars"

// NewUEFIVarTransport addresses the variable "name-GUID" under efivarfs.
// root overrides the mount point for tests; pass "" to use the real
// kernel mount.
func NewUEFIVarTransport(name, guid, root string) *UEFIVarTransport {
	if root == "" {
		root = defaultEfivarfsRoot
	}
	return &UEFIVarTransport{name: name, guid: guid, root: root}
}

func (t *UEFIVarTransport) path() string {
	return filepath.Join(t.root, fmt.Sprintf("%s-%s", t.name, t.guid))
}

func (t *UEFIVarTransport) Open(ctx context.Context) error {
	if _, err := os.Stat(t.root); err != nil {
		return fmt.Errorf("uefi open: %w", ferrors.New(ferrors.NotSupported, "efivarfs not mounted"))
	}
	t.loaded = true
	return nil
}

func (t *UEFIVarTransport) Close() error { return nil }

// Write stores data as the variable's value, prefixed with the 4-byte
// little-endian attribute word efivarfs requires on every write.
func (t *UEFIVarTransport) Write(ctx context.Context, data []byte) error {
	if !t.loaded {
		return fmt.Errorf("uefi write: %w", ferrors.Gone)
	}
	buf := make([]byte, 4+len(data))
	binary.LittleEndian.PutUint32(buf[0:4], t.attrs)
	copy(buf[4:], data)

	if err := os.WriteFile(t.path(), buf, 0644); err != nil {
		return fmt.Errorf("uefi write: %w", ferrors.New(ferrors.Write, err.Error()))
	}
	return nil
}

// Read returns the variable's value with the leading attribute word
// stripped.
func (t *UEFIVarTransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if !t.loaded {
		return 0, fmt.Errorf("uefi read: %w", ferrors.Gone)
	}
	raw, err := os.ReadFile(t.path())
	if err != nil {
		return 0, fmt.Errorf("uefi read: %w", ferrors.New(ferrors.NotFound, err.Error()))
	}
	if len(raw) < 4 {
		return 0, fmt.Errorf("uefi read: %w", ferrors.New(ferrors.InvalidData, "variable shorter than attribute header"))
	}
	t.attrs = binary.LittleEndian.Uint32(raw[0:4])
	n := copy(buf, raw[4:])
	return n, nil
}
