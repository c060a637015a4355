package transport

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"
	"unsafe"

	"fwupdcore/pkg/ferrors"
)

// Linux IOCTL encoding, generalized from the teacher's
// internal/driver/device/ioctl.go (which hard-coded Bitmain magic numbers)
// into the reusable _IO/_IOR/_IOW/_IOWR constructors HECI/MEI ioctls need.
const (
	iocNone  = 0x0
	iocWrite = 0x1
	iocRead  = 0x2

	iocNRBits   = 8
	iocTypeBits = 8
	iocSizeBits = 14

	iocNRShift   = 0
	iocTypeShift = iocNRShift + iocNRBits
	iocSizeShift = iocTypeShift + iocTypeBits
	iocDirShift  = iocSizeShift + iocSizeBits
)

func ioc(dir, typ, nr, size uint32) uintptr {
	return uintptr((dir << iocDirShift) | (size << iocSizeShift) | (typ << iocTypeShift) | (nr << iocNRShift))
}

func ioW(typ, nr, size uint32) uintptr  { return ioc(iocWrite, typ, nr, size) }
func ioR(typ, nr, size uint32) uintptr  { return ioc(iocRead, typ, nr, size) }
func ioWR(typ, nr, size uint32) uintptr { return ioc(iocRead|iocWrite, typ, nr, size) }

// HECI/MEI ioctl magic and command numbers, matching <linux/mei.h>.
const (
	heciMagic          = 'H'
	heciIOCTLConnect   = 0x01
	heciConnectDataLen = 16
)

// HECITransport talks to an Intel ME/CSME client over the kernel's
// /dev/mei0 character device: a single MEI_CONNECT_CLIENT ioctl binds the
// file descriptor to a GUID-identified firmware client, after which
// read/write behave like a regular stream.
type HECITransport struct {
	devicePath string
	clientGUID [16]byte
	file       *os.File
}

// NewHECITransport targets devicePath (typically "/dev/mei0") and the
// 16-byte client GUID a quirk entry supplies for the firmware update
// client running on the ME.
func NewHECITransport(devicePath string, clientGUID [16]byte) *HECITransport {
	return &HECITransport{devicePath: devicePath, clientGUID: clientGUID}
}

func (t *HECITransport) Open(ctx context.Context) error {
	f, err := os.OpenFile(t.devicePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("heci open: %w", ferrors.New(ferrors.NotFound, err.Error()))
	}
	t.file = f

	cmd := ioWR(heciMagic, heciIOCTLConnect, heciConnectDataLen)
	_, _, errno := syscall.Syscall(syscall.SYS_IOCTL, f.Fd(), cmd, uintptr(unsafe.Pointer(&t.clientGUID[0])))
	if errno != 0 {
		f.Close()
		return fmt.Errorf("heci connect: %w", ferrors.New(ferrors.AuthFailed, errno.Error()))
	}
	return nil
}

func (t *HECITransport) Close() error {
	if t.file == nil {
		return nil
	}
	return t.file.Close()
}

func (t *HECITransport) Write(ctx context.Context, data []byte) error {
	if t.file == nil {
		return fmt.Errorf("heci write: %w", ferrors.Gone)
	}
	if _, err := t.file.Write(data); err != nil {
		return fmt.Errorf("heci write: %w", ferrors.New(ferrors.Write, err.Error()))
	}
	return nil
}

func (t *HECITransport) Read(ctx context.Context, buf []byte, timeout time.Duration) (int, error) {
	if t.file == nil {
		return 0, fmt.Errorf("heci read: %w", ferrors.Gone)
	}
	done := make(chan struct{})
	var n int
	var err error
	go func() {
		n, err = t.file.Read(buf)
		close(done)
	}()

	select {
	case <-done:
		if err != nil {
			return 0, fmt.Errorf("heci read: %w", ferrors.New(ferrors.Read, err.Error()))
		}
		return n, nil
	case <-time.After(timeout):
		return 0, fmt.Errorf("heci read: %w", ferrors.New(ferrors.Timeout, "no response from ME client"))
	}
}
