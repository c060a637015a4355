// Package transport implements the Transport adapters a Device speaks
// through: Bulk-USB/HID via gousb, HECI/MEI via ioctl, block I/O against a
// sysfs/device-node path, and UEFI variable access. Each adapter is a thin
// Open/Close/Read/Write surface; device-specific framing lives one layer
// up in internal/device.
package transport

import (
	"context"
	"time"
)

// Transport is the minimal surface every adapter in this package
// implements. Read/Write operate on whatever framing unit the underlying
// medium uses (a USB packet, an ioctl buffer, a block-sized chunk); the
// device layer is responsible for splitting/joining firmware payloads
// with pkg/chunker before calling in.
type Transport interface {
	Open(ctx context.Context) error
	Close() error
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error)
}

// Kind identifies which concrete adapter a Device's quirk entry selects,
// mirroring spec.md §4.7's instance-ID-driven quirk lookup.
type Kind string

const (
	KindBulkUSB Kind = "bulk-usb"
	KindHID     Kind = "hid"
	KindHECI    Kind = "heci"
	KindBlockIO Kind = "block-io"
	KindUEFI    Kind = "uefi"
)
